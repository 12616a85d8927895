package bvh

import (
	"github.com/spaghettifunk/lumen/engine/math"
)

type Ray struct {
	Origin    math.Vec3
	Direction math.Vec3
	TMin      float32
	TMax      float32
}

// Hit is the closest intersection found by Intersect.
type Hit struct {
	Primitive uint32
	T         float32
}

// PrimitiveTest intersects the ray with primitive p and returns the hit
// distance. tMax is the closest hit so far.
type PrimitiveTest func(p uint32, ray Ray, tMax float32) (float32, bool)

// Intersect returns the closest primitive hit along ray.
func (b *BVH) Intersect(ray Ray, test PrimitiveTest) (Hit, bool) {
	if len(b.Nodes) == 0 {
		return Hit{}, false
	}
	inv := inverse(ray.Direction)
	best := Hit{T: ray.TMax}
	found := false

	stack := make([]uint32, 0, 64)
	stack = append(stack, 0)
	for len(stack) > 0 {
		index := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node := &b.Nodes[index]
		if _, ok := intersectBox(ray.Origin, inv, ray.TMin, best.T, node.Min, node.Max); !ok {
			continue
		}
		if node.IsLeaf() {
			for i := node.LeftFirst; i < node.LeftFirst+node.Count; i++ {
				p := b.Indices[i]
				if t, ok := test(p, ray, best.T); ok && t >= ray.TMin && t < best.T {
					best = Hit{Primitive: p, T: t}
					found = true
				}
			}
			continue
		}
		stack = append(stack, node.LeftFirst, node.LeftFirst+1)
	}
	return best, found
}

// intersectBox is the slab test. It returns the entry distance clipped to
// [tMin, tMax]. NaN from 0 * inf leaves a bound unchanged.
func intersectBox(origin, inv math.Vec3, tMin, tMax float32, lo, hi math.Vec3) (float32, bool) {
	for a := 0; a < 3; a++ {
		o, d := origin.Axis(a), inv.Axis(a)
		t0 := (lo.Axis(a) - o) * d
		t1 := (hi.Axis(a) - o) * d
		if d < 0 {
			t0, t1 = t1, t0
		}
		if t0 > tMin {
			tMin = t0
		}
		if t1 < tMax {
			tMax = t1
		}
		if tMax < tMin {
			return 0, false
		}
	}
	return tMin, true
}

// IntersectTriangle is the Moller-Trumbore test. It returns the distance
// along the ray, ignoring hits closer than ray.TMin.
func IntersectTriangle(ray Ray, v0, v1, v2 math.Vec3) (float32, bool) {
	const epsilon = 1e-7
	e1 := v1.Sub(v0)
	e2 := v2.Sub(v0)
	p := ray.Direction.Cross(e2)
	det := e1.Dot(p)
	if math.Abs(det) < epsilon {
		return 0, false
	}
	invDet := 1 / det
	s := ray.Origin.Sub(v0)
	u := s.Dot(p) * invDet
	if u < 0 || u > 1 {
		return 0, false
	}
	q := s.Cross(e1)
	v := ray.Direction.Dot(q) * invDet
	if v < 0 || u+v > 1 {
		return 0, false
	}
	t := e2.Dot(q) * invDet
	if t < ray.TMin {
		return 0, false
	}
	return t, true
}

// IntersectBox returns the entry distance of ray into e.
func IntersectBox(ray Ray, e math.Extents3D) (float32, bool) {
	return intersectBox(ray.Origin, inverse(ray.Direction), ray.TMin, ray.TMax, e.Min, e.Max)
}

func inverse(d math.Vec3) math.Vec3 {
	return math.Vec3{X: 1 / d.X, Y: 1 / d.Y, Z: 1 / d.Z}
}
