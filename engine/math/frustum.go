package math

// Plane is n.p + d = 0, with the positive half-space inside the frustum.
type Plane struct {
	Normal   Vec3
	Distance float32
}

// SignedDistance is positive when p lies inside the plane's half-space.
func (p Plane) SignedDistance(point Vec3) float32 {
	return p.Normal.Dot(point) + p.Distance
}

const (
	FrustumLeft = iota
	FrustumRight
	FrustumBottom
	FrustumTop
	FrustumNear
	FrustumFar
)

// Frustum holds the six planes of a view volume.
type Frustum struct {
	Planes [6]Plane // Left, Right, Bottom, Top, Near, Far
}

/**
 * @brief Extracts the six normalized planes of the view-projection matrix
 * (Gribb/Hartmann). viewProj is view.Mul(projection).
 */
func NewFrustumFromMatrix(viewProj Mat4) Frustum {
	c0 := viewProj.Column(0)
	c1 := viewProj.Column(1)
	c2 := viewProj.Column(2)
	c3 := viewProj.Column(3)

	var f Frustum
	f.Planes[FrustumLeft] = planeFrom(c3.X+c0.X, c3.Y+c0.Y, c3.Z+c0.Z, c3.W+c0.W)
	f.Planes[FrustumRight] = planeFrom(c3.X-c0.X, c3.Y-c0.Y, c3.Z-c0.Z, c3.W-c0.W)
	f.Planes[FrustumBottom] = planeFrom(c3.X+c1.X, c3.Y+c1.Y, c3.Z+c1.Z, c3.W+c1.W)
	f.Planes[FrustumTop] = planeFrom(c3.X-c1.X, c3.Y-c1.Y, c3.Z-c1.Z, c3.W-c1.W)
	f.Planes[FrustumNear] = planeFrom(c3.X+c2.X, c3.Y+c2.Y, c3.Z+c2.Z, c3.W+c2.W)
	f.Planes[FrustumFar] = planeFrom(c3.X-c2.X, c3.Y-c2.Y, c3.Z-c2.Z, c3.W-c2.W)
	return f
}

func planeFrom(a, b, c, d float32) Plane {
	p := Plane{Normal: Vec3{a, b, c}, Distance: d}
	length := p.Normal.Length()
	if length > 0 {
		inv := 1.0 / length
		p.Normal = p.Normal.MulScalar(inv)
		p.Distance *= inv
	}
	return p
}

/**
 * @brief Reports whether the box intersects or is inside the frustum. A box is
 * rejected only when it is entirely outside one plane, so boxes straddling a
 * plane are kept.
 */
func (f Frustum) IntersectsExtents(box Extents3D) bool {
	for _, p := range f.Planes {
		// the corner furthest along the plane normal
		positive := box.Min
		if p.Normal.X >= 0 {
			positive.X = box.Max.X
		}
		if p.Normal.Y >= 0 {
			positive.Y = box.Max.Y
		}
		if p.Normal.Z >= 0 {
			positive.Z = box.Max.Z
		}
		if p.SignedDistance(positive) < 0 {
			return false
		}
	}
	return true
}

// IntersectsSphere applies the same conservative rule to a bounding sphere.
func (f Frustum) IntersectsSphere(center Vec3, radius float32) bool {
	for _, p := range f.Planes {
		if p.SignedDistance(center) < -radius {
			return false
		}
	}
	return true
}
