package math

import stdmath "math"

func NewAffineIdentity() Affine3x4 {
	return Affine3x4{M: [3][4]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
	}}
}

func NewAffineTranslation(t Vec3) Affine3x4 {
	a := NewAffineIdentity()
	a.M[0][3] = t.X
	a.M[1][3] = t.Y
	a.M[2][3] = t.Z
	return a
}

// NewAffineRotationY builds a rotation of angle radians around the Y axis.
func NewAffineRotationY(angle float32) Affine3x4 {
	s := float32(stdmath.Sin(float64(angle)))
	c := float32(stdmath.Cos(float64(angle)))
	return Affine3x4{M: [3][4]float32{
		{c, 0, s, 0},
		{0, 1, 0, 0},
		{-s, 0, c, 0},
	}}
}

// Mul returns a*b, applying b first.
func (a Affine3x4) Mul(b Affine3x4) Affine3x4 {
	var out Affine3x4
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			v := a.M[r][0]*b.M[0][c] + a.M[r][1]*b.M[1][c] + a.M[r][2]*b.M[2][c]
			if c == 3 {
				v += a.M[r][3]
			}
			out.M[r][c] = v
		}
	}
	return out
}

func (a Affine3x4) TransformPoint(p Vec3) Vec3 {
	return Vec3{
		a.M[0][0]*p.X + a.M[0][1]*p.Y + a.M[0][2]*p.Z + a.M[0][3],
		a.M[1][0]*p.X + a.M[1][1]*p.Y + a.M[1][2]*p.Z + a.M[1][3],
		a.M[2][0]*p.X + a.M[2][1]*p.Y + a.M[2][2]*p.Z + a.M[2][3],
	}
}

func (a Affine3x4) TransformVector(v Vec3) Vec3 {
	return Vec3{
		a.M[0][0]*v.X + a.M[0][1]*v.Y + a.M[0][2]*v.Z,
		a.M[1][0]*v.X + a.M[1][1]*v.Y + a.M[1][2]*v.Z,
		a.M[2][0]*v.X + a.M[2][1]*v.Y + a.M[2][2]*v.Z,
	}
}

// TransformExtents returns the world-space box enclosing the eight
// transformed corners of e.
func (a Affine3x4) TransformExtents(e Extents3D) Extents3D {
	if e.IsEmpty() {
		return e
	}
	out := EmptyExtents()
	for i := 0; i < 8; i++ {
		corner := Vec3{e.Min.X, e.Min.Y, e.Min.Z}
		if i&1 != 0 {
			corner.X = e.Max.X
		}
		if i&2 != 0 {
			corner.Y = e.Max.Y
		}
		if i&4 != 0 {
			corner.Z = e.Max.Z
		}
		out = out.Grow(a.TransformPoint(corner))
	}
	return out
}

// Inverse returns the inverse transform. The second result is false when the
// linear part is singular.
func (a Affine3x4) Inverse() (Affine3x4, bool) {
	m := a.M
	c00 := m[1][1]*m[2][2] - m[1][2]*m[2][1]
	c01 := m[1][2]*m[2][0] - m[1][0]*m[2][2]
	c02 := m[1][0]*m[2][1] - m[1][1]*m[2][0]
	det := m[0][0]*c00 + m[0][1]*c01 + m[0][2]*c02
	if det == 0 {
		return Affine3x4{}, false
	}
	inv := 1 / det
	var out Affine3x4
	out.M[0][0] = c00 * inv
	out.M[0][1] = (m[0][2]*m[2][1] - m[0][1]*m[2][2]) * inv
	out.M[0][2] = (m[0][1]*m[1][2] - m[0][2]*m[1][1]) * inv
	out.M[1][0] = c01 * inv
	out.M[1][1] = (m[0][0]*m[2][2] - m[0][2]*m[2][0]) * inv
	out.M[1][2] = (m[0][2]*m[1][0] - m[0][0]*m[1][2]) * inv
	out.M[2][0] = c02 * inv
	out.M[2][1] = (m[0][1]*m[2][0] - m[0][0]*m[2][1]) * inv
	out.M[2][2] = (m[0][0]*m[1][1] - m[0][1]*m[1][0]) * inv
	t := Vec3{m[0][3], m[1][3], m[2][3]}
	it := out.TransformVector(t)
	out.M[0][3] = -it.X
	out.M[1][3] = -it.Y
	out.M[2][3] = -it.Z
	return out, true
}
