package math

import "github.com/chewxy/math32"

func NewExtents3D(min, max Vec3) Extents3D {
	return Extents3D{Min: min, Max: max}
}

// NewExtents3DCube returns a cube of the given half size centred on center.
func NewExtents3DCube(center Vec3, halfSize float32) Extents3D {
	h := Vec3{halfSize, halfSize, halfSize}
	return Extents3D{Min: center.Sub(h), Max: center.Add(h)}
}

func (e Extents3D) Center() Vec3 {
	return e.Min.Add(e.Max).MulScalar(0.5)
}

func (e Extents3D) HalfSize() Vec3 {
	return e.Max.Sub(e.Min).MulScalar(0.5)
}

// IsValid is false when a component is NaN or infinite, or when min > max on
// any axis.
func (e Extents3D) IsValid() bool {
	for _, f := range [...]float32{e.Min.X, e.Min.Y, e.Min.Z, e.Max.X, e.Max.Y, e.Max.Z} {
		if !Finite(f) {
			return false
		}
	}
	return e.Min.X <= e.Max.X && e.Min.Y <= e.Max.Y && e.Min.Z <= e.Max.Z
}

// Transform returns the box enclosing e once transformed by m (Arvo).
func (e Extents3D) Transform(m Mat4) Extents3D {
	translation := m.Translation()
	out := Extents3D{Min: translation, Max: translation}
	min := [3]float32{e.Min.X, e.Min.Y, e.Min.Z}
	max := [3]float32{e.Max.X, e.Max.Y, e.Max.Z}
	outMin := [3]float32{out.Min.X, out.Min.Y, out.Min.Z}
	outMax := [3]float32{out.Max.X, out.Max.Y, out.Max.Z}
	for col := 0; col < 3; col++ {
		for row := 0; row < 3; row++ {
			a := m.Data[row*4+col] * min[row]
			b := m.Data[row*4+col] * max[row]
			outMin[col] += math32.Min(a, b)
			outMax[col] += math32.Max(a, b)
		}
	}
	return Extents3D{
		Min: Vec3{outMin[0], outMin[1], outMin[2]},
		Max: Vec3{outMax[0], outMax[1], outMax[2]},
	}
}
