package math

import "github.com/chewxy/math32"

const FLOAT_EPSILON float32 = 1.192092896e-07

// ------------------------------------------
// Vector 3
// ------------------------------------------

func NewVec3(x, y, z float32) Vec3 {
	return Vec3{X: x, Y: y, Z: z}
}

func NewVec3Zero() Vec3 {
	return Vec3{}
}

func NewVec3One() Vec3 {
	return Vec3{1, 1, 1}
}

func NewVec3Up() Vec3 {
	return Vec3{0, 1, 0}
}

func NewVec3Forward() Vec3 {
	return Vec3{0, 0, -1}
}

func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{v.X + other.X, v.Y + other.Y, v.Z + other.Z}
}

func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{v.X - other.X, v.Y - other.Y, v.Z - other.Z}
}

func (v Vec3) Mul(other Vec3) Vec3 {
	return Vec3{v.X * other.X, v.Y * other.Y, v.Z * other.Z}
}

func (v Vec3) MulScalar(scalar float32) Vec3 {
	return Vec3{v.X * scalar, v.Y * scalar, v.Z * scalar}
}

func (v Vec3) LengthSquared() float32 {
	return v.X*v.X + v.Y*v.Y + v.Z*v.Z
}

func (v Vec3) Length() float32 {
	return math32.Sqrt(v.LengthSquared())
}

/**
 * @brief Returns a normalized copy of the supplied vector. A zero vector
 * is returned unchanged.
 */
func (v Vec3) Normalized() Vec3 {
	l := v.Length()
	if l < FLOAT_EPSILON {
		return v
	}
	return Vec3{v.X / l, v.Y / l, v.Z / l}
}

func (v Vec3) Dot(other Vec3) float32 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

func (v Vec3) Cross(other Vec3) Vec3 {
	return Vec3{
		X: v.Y*other.Z - v.Z*other.Y,
		Y: v.Z*other.X - v.X*other.Z,
		Z: v.X*other.Y - v.Y*other.X,
	}
}

/**
 * @brief Compares all elements of v and other and ensures the difference
 * is less than tolerance.
 */
func (v Vec3) Compare(other Vec3, tolerance float32) bool {
	return math32.Abs(v.X-other.X) <= tolerance &&
		math32.Abs(v.Y-other.Y) <= tolerance &&
		math32.Abs(v.Z-other.Z) <= tolerance
}

func (v Vec3) Distance(other Vec3) float32 {
	return v.Sub(other).Length()
}

func (v Vec3) DistanceSquared(other Vec3) float32 {
	return v.Sub(other).LengthSquared()
}

/**
 * @brief Transform v by m, treating v as a point (w = 1).
 */
func (v Vec3) Transform(m Mat4) Vec3 {
	out := Vec3{}
	out.X = v.X*m.Data[0+0] + v.Y*m.Data[4+0] + v.Z*m.Data[8+0] + m.Data[12+0]
	out.Y = v.X*m.Data[0+1] + v.Y*m.Data[4+1] + v.Z*m.Data[8+1] + m.Data[12+1]
	out.Z = v.X*m.Data[0+2] + v.Y*m.Data[4+2] + v.Z*m.Data[8+2] + m.Data[12+2]
	return out
}

// ------------------------------------------
// Vector 4
// ------------------------------------------

func NewVec4(x, y, z, w float32) Vec4 {
	return Vec4{X: x, Y: y, Z: z, W: w}
}

func (v Vec4) ToVec3() Vec3 {
	return Vec3{v.X, v.Y, v.Z}
}

func (v Vec4) Dot(other Vec4) float32 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z + v.W*other.W
}

// ------------------------------------------
// Matrix 4
// ------------------------------------------

/**
 * @brief Creates and returns an identity matrix:
 *
 * {
 *   {1, 0, 0, 0},
 *   {0, 1, 0, 0},
 *   {0, 0, 1, 0},
 *   {0, 0, 0, 1}
 * }
 */
func NewMat4Identity() Mat4 {
	out := Mat4{}
	out.Data[0] = 1.0
	out.Data[5] = 1.0
	out.Data[10] = 1.0
	out.Data[15] = 1.0
	return out
}

/**
 * @brief Returns the result of multiplying mt and other. With row vectors,
 * mt is applied first.
 */
func (mt Mat4) Mul(other Mat4) Mat4 {
	out := Mat4{}
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			sum := float32(0)
			for i := 0; i < 4; i++ {
				sum += mt.Data[row*4+i] * other.Data[i*4+col]
			}
			out.Data[row*4+col] = sum
		}
	}
	return out
}

// Column returns column i, the coefficients producing clip component i.
func (mt Mat4) Column(i int) Vec4 {
	return Vec4{mt.Data[i], mt.Data[4+i], mt.Data[8+i], mt.Data[12+i]}
}

/**
 * @brief Creates and returns an orthographic projection matrix. Typically used to
 * render flat scenes or directional shadow maps.
 */
func NewMat4Orthographic(left, right, bottom, top, nearClip, farClip float32) Mat4 {
	out := NewMat4Identity()

	lr := 1.0 / (left - right)
	bt := 1.0 / (bottom - top)
	nf := 1.0 / (nearClip - farClip)

	out.Data[0] = -2.0 * lr
	out.Data[5] = -2.0 * bt
	out.Data[10] = 2.0 * nf

	out.Data[12] = (left + right) * lr
	out.Data[13] = (top + bottom) * bt
	out.Data[14] = (farClip + nearClip) * nf
	return out
}

/**
 * @brief Creates and returns a perspective matrix. Typically used to render 3d scenes.
 * Clip depth ranges from -w to w.
 */
func NewMat4Perspective(fovRadians, aspectRatio, nearClip, farClip float32) Mat4 {
	halfTanFov := math32.Tan(fovRadians * 0.5)
	out := Mat4{}
	out.Data[0] = 1.0 / (aspectRatio * halfTanFov)
	out.Data[5] = 1.0 / halfTanFov
	out.Data[10] = -((farClip + nearClip) / (farClip - nearClip))
	out.Data[11] = -1.0
	out.Data[14] = -((2.0 * farClip * nearClip) / (farClip - nearClip))
	return out
}

/**
 * @brief Creates and returns a view matrix looking at target from position.
 * The camera looks down its local -Z axis.
 */
func NewMat4LookAt(position, target, up Vec3) Mat4 {
	forward := target.Sub(position).Normalized()
	right := forward.Cross(up).Normalized()
	camUp := right.Cross(forward)

	out := Mat4{}
	out.Data[0] = right.X
	out.Data[1] = camUp.X
	out.Data[2] = -forward.X
	out.Data[4] = right.Y
	out.Data[5] = camUp.Y
	out.Data[6] = -forward.Y
	out.Data[8] = right.Z
	out.Data[9] = camUp.Z
	out.Data[10] = -forward.Z
	out.Data[12] = -right.Dot(position)
	out.Data[13] = -camUp.Dot(position)
	out.Data[14] = forward.Dot(position)
	out.Data[15] = 1.0
	return out
}

/**
 * @brief Returns a transposed copy of the provided matrix (rows->colums)
 */
func (mt Mat4) Transposed() Mat4 {
	out := Mat4{}
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			out.Data[col*4+row] = mt.Data[row*4+col]
		}
	}
	return out
}

/**
 * @brief Creates and returns an inverse of the provided matrix.
 */
func (mt Mat4) Inverse() Mat4 {
	m := mt.Data

	t0 := m[10] * m[15]
	t1 := m[14] * m[11]
	t2 := m[6] * m[15]
	t3 := m[14] * m[7]
	t4 := m[6] * m[11]
	t5 := m[10] * m[7]
	t6 := m[2] * m[15]
	t7 := m[14] * m[3]
	t8 := m[2] * m[11]
	t9 := m[10] * m[3]
	t10 := m[2] * m[7]
	t11 := m[6] * m[3]
	t12 := m[8] * m[13]
	t13 := m[12] * m[9]
	t14 := m[4] * m[13]
	t15 := m[12] * m[5]
	t16 := m[4] * m[9]
	t17 := m[8] * m[5]
	t18 := m[0] * m[13]
	t19 := m[12] * m[1]
	t20 := m[0] * m[9]
	t21 := m[8] * m[1]
	t22 := m[0] * m[5]
	t23 := m[4] * m[1]

	out := Mat4{}
	o := &out.Data

	o[0] = (t0*m[5] + t3*m[9] + t4*m[13]) - (t1*m[5] + t2*m[9] + t5*m[13])
	o[1] = (t1*m[1] + t6*m[9] + t9*m[13]) - (t0*m[1] + t7*m[9] + t8*m[13])
	o[2] = (t2*m[1] + t7*m[5] + t10*m[13]) - (t3*m[1] + t6*m[5] + t11*m[13])
	o[3] = (t5*m[1] + t8*m[5] + t11*m[9]) - (t4*m[1] + t9*m[5] + t10*m[9])

	d := 1.0 / (m[0]*o[0] + m[4]*o[1] + m[8]*o[2] + m[12]*o[3])

	o[0] = d * o[0]
	o[1] = d * o[1]
	o[2] = d * o[2]
	o[3] = d * o[3]
	o[4] = d * ((t1*m[4] + t2*m[8] + t5*m[12]) - (t0*m[4] + t3*m[8] + t4*m[12]))
	o[5] = d * ((t0*m[0] + t7*m[8] + t8*m[12]) - (t1*m[0] + t6*m[8] + t9*m[12]))
	o[6] = d * ((t3*m[0] + t6*m[4] + t11*m[12]) - (t2*m[0] + t7*m[4] + t10*m[12]))
	o[7] = d * ((t4*m[0] + t9*m[4] + t10*m[8]) - (t5*m[0] + t8*m[4] + t11*m[8]))
	o[8] = d * ((t12*m[7] + t15*m[11] + t16*m[15]) - (t13*m[7] + t14*m[11] + t17*m[15]))
	o[9] = d * ((t13*m[3] + t18*m[11] + t21*m[15]) - (t12*m[3] + t19*m[11] + t20*m[15]))
	o[10] = d * ((t14*m[3] + t19*m[7] + t22*m[15]) - (t15*m[3] + t18*m[7] + t23*m[15]))
	o[11] = d * ((t17*m[3] + t20*m[7] + t23*m[11]) - (t16*m[3] + t21*m[7] + t22*m[11]))
	o[12] = d * ((t14*m[10] + t17*m[14] + t13*m[6]) - (t16*m[14] + t12*m[6] + t15*m[10]))
	o[13] = d * ((t20*m[14] + t12*m[2] + t19*m[10]) - (t18*m[10] + t21*m[14] + t13*m[2]))
	o[14] = d * ((t18*m[6] + t23*m[14] + t15*m[2]) - (t22*m[14] + t14*m[2] + t19*m[6]))
	o[15] = d * ((t22*m[10] + t16*m[2] + t21*m[6]) - (t20*m[6] + t23*m[10] + t17*m[2]))

	return out
}

func NewMat4Translation(position Vec3) Mat4 {
	out := NewMat4Identity()
	out.Data[12] = position.X
	out.Data[13] = position.Y
	out.Data[14] = position.Z
	return out
}

func NewMat4Scale(scale Vec3) Mat4 {
	out := NewMat4Identity()
	out.Data[0] = scale.X
	out.Data[5] = scale.Y
	out.Data[10] = scale.Z
	return out
}

// Translation returns the translation part of the matrix.
func (mt Mat4) Translation() Vec3 {
	return Vec3{mt.Data[12], mt.Data[13], mt.Data[14]}
}

// ------------------------------------------
// Quaternion
// ------------------------------------------

func NewQuatIdentity() Quaternion {
	return Quaternion{0, 0, 0, 1.0}
}

func (q Quaternion) Normal() float32 {
	return math32.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
}

func (q Quaternion) Normalize() Quaternion {
	n := q.Normal()
	if n < FLOAT_EPSILON {
		return NewQuatIdentity()
	}
	return Quaternion{q.X / n, q.Y / n, q.Z / n, q.W / n}
}

func (q Quaternion) Mul(other Quaternion) Quaternion {
	return Quaternion{
		X: q.X*other.W + q.Y*other.Z - q.Z*other.Y + q.W*other.X,
		Y: -q.X*other.Z + q.Y*other.W + q.Z*other.X + q.W*other.Y,
		Z: q.X*other.Y - q.Y*other.X + q.Z*other.W + q.W*other.Z,
		W: -q.X*other.X - q.Y*other.Y - q.Z*other.Z + q.W*other.W,
	}
}

/**
 * @brief Creates a rotation matrix from the given quaternion, laid out for
 * row vectors.
 */
func (q Quaternion) ToMat4() Mat4 {
	out := NewMat4Identity()
	n := q.Normalize()

	out.Data[0] = 1.0 - 2.0*n.Y*n.Y - 2.0*n.Z*n.Z
	out.Data[1] = 2.0*n.X*n.Y + 2.0*n.Z*n.W
	out.Data[2] = 2.0*n.X*n.Z - 2.0*n.Y*n.W

	out.Data[4] = 2.0*n.X*n.Y - 2.0*n.Z*n.W
	out.Data[5] = 1.0 - 2.0*n.X*n.X - 2.0*n.Z*n.Z
	out.Data[6] = 2.0*n.Y*n.Z + 2.0*n.X*n.W

	out.Data[8] = 2.0*n.X*n.Z + 2.0*n.Y*n.W
	out.Data[9] = 2.0*n.Y*n.Z - 2.0*n.X*n.W
	out.Data[10] = 1.0 - 2.0*n.X*n.X - 2.0*n.Y*n.Y

	return out
}

/**
 * @brief Creates a quaternion from the given axis and angle.
 */
func NewQuatFromAxisAngle(axis Vec3, angle float32, normalize bool) Quaternion {
	halfAngle := 0.5 * angle
	s := math32.Sin(halfAngle)
	c := math32.Cos(halfAngle)

	q := Quaternion{s * axis.X, s * axis.Y, s * axis.Z, c}
	if normalize {
		return q.Normalize()
	}
	return q
}
