package math

func NewVec3(x, y, z float32) Vec3 {
	return Vec3{X: x, Y: y, Z: z}
}

func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

func (v Vec3) Mul(s float32) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

func (v Vec3) Dot(o Vec3) float32 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		v.Y*o.Z - v.Z*o.Y,
		v.Z*o.X - v.X*o.Z,
		v.X*o.Y - v.Y*o.X,
	}
}

// Axis returns the component selected by axis (0=X, 1=Y, 2=Z).
func (v Vec3) Axis(axis int) float32 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

func Vec3Min(a, b Vec3) Vec3 {
	return Vec3{Min(a.X, b.X), Min(a.Y, b.Y), Min(a.Z, b.Z)}
}

func Vec3Max(a, b Vec3) Vec3 {
	return Vec3{Max(a.X, b.X), Max(a.Y, b.Y), Max(a.Z, b.Z)}
}

// EmptyExtents returns inverted extents that any Grow call replaces.
func EmptyExtents() Extents3D {
	return Extents3D{
		Min: Vec3{Infinity, Infinity, Infinity},
		Max: Vec3{-Infinity, -Infinity, -Infinity},
	}
}

func (e Extents3D) IsEmpty() bool {
	return e.Min.X > e.Max.X || e.Min.Y > e.Max.Y || e.Min.Z > e.Max.Z
}

func (e Extents3D) Grow(p Vec3) Extents3D {
	return Extents3D{Min: Vec3Min(e.Min, p), Max: Vec3Max(e.Max, p)}
}

func (e Extents3D) Union(o Extents3D) Extents3D {
	return Extents3D{Min: Vec3Min(e.Min, o.Min), Max: Vec3Max(e.Max, o.Max)}
}

func (e Extents3D) Centroid() Vec3 {
	return e.Min.Add(e.Max).Mul(0.5)
}

// SurfaceArea returns the area of the box; empty boxes have zero area.
func (e Extents3D) SurfaceArea() float32 {
	if e.IsEmpty() {
		return 0
	}
	d := e.Max.Sub(e.Min)
	return 2 * (d.X*d.Y + d.Y*d.Z + d.Z*d.X)
}

// LargestAxis returns the axis along which the box is widest.
func (e Extents3D) LargestAxis() int {
	d := e.Max.Sub(e.Min)
	if d.X >= d.Y && d.X >= d.Z {
		return 0
	}
	if d.Y >= d.Z {
		return 1
	}
	return 2
}
