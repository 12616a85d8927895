package bvh

import (
	"math/rand"
	"testing"

	"github.com/spaghettifunk/lumen/engine/math"
)

func boxAt(x, y, z, r float32) math.Extents3D {
	return math.Extents3D{
		Min: math.NewVec3(x-r, y-r, z-r),
		Max: math.NewVec3(x+r, y+r, z+r),
	}
}

func randomBoxes(n int, seed int64) []math.Extents3D {
	rng := rand.New(rand.NewSource(seed))
	out := make([]math.Extents3D, n)
	for i := range out {
		out[i] = boxAt(rng.Float32()*100, rng.Float32()*100, rng.Float32()*100, 0.5+rng.Float32())
	}
	return out
}

func contains(outer, inner math.Extents3D) bool {
	return outer.Min.X <= inner.Min.X && outer.Min.Y <= inner.Min.Y && outer.Min.Z <= inner.Min.Z &&
		outer.Max.X >= inner.Max.X && outer.Max.Y >= inner.Max.Y && outer.Max.Z >= inner.Max.Z
}

// checkTree verifies every primitive is referenced once and every node
// bounds its subtree.
func checkTree(t *testing.T, b *BVH, bounds []math.Extents3D) {
	t.Helper()
	if len(b.Nodes) > MaxNodes(len(bounds)) {
		t.Fatalf("%d nodes exceeds capacity %d", len(b.Nodes), MaxNodes(len(bounds)))
	}
	seen := make([]int, len(bounds))
	var walk func(i uint32)
	walk = func(i uint32) {
		n := &b.Nodes[i]
		if n.IsLeaf() {
			for k := n.LeftFirst; k < n.LeftFirst+n.Count; k++ {
				p := b.Indices[k]
				seen[p]++
				if !contains(n.Bounds(), bounds[p]) {
					t.Errorf("leaf %d does not contain primitive %d", i, p)
				}
			}
			return
		}
		if n.LeftFirst <= i {
			t.Fatalf("child %d stored before parent %d", n.LeftFirst, i)
		}
		for _, c := range []uint32{n.LeftFirst, n.LeftFirst + 1} {
			if !contains(n.Bounds(), b.Nodes[c].Bounds()) {
				t.Errorf("node %d does not contain child %d", i, c)
			}
			walk(c)
		}
	}
	walk(0)
	for p, c := range seen {
		if c != 1 {
			t.Errorf("primitive %d referenced %d times", p, c)
		}
	}
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name   string
		bounds []math.Extents3D
	}{
		{"single", []math.Extents3D{boxAt(0, 0, 0, 1)}},
		{"pair", []math.Extents3D{boxAt(0, 0, 0, 1), boxAt(10, 0, 0, 1)}},
		{"coincident", []math.Extents3D{boxAt(1, 1, 1, 1), boxAt(1, 1, 1, 1), boxAt(1, 1, 1, 1), boxAt(1, 1, 1, 1), boxAt(1, 1, 1, 1), boxAt(1, 1, 1, 1)}},
		{"random 1000", randomBoxes(1000, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Build(tt.bounds)
			checkTree(t, b, tt.bounds)
		})
	}
}

func TestBuildSplitsLargeInputs(t *testing.T) {
	b := Build(randomBoxes(256, 2))
	if b.Nodes[0].IsLeaf() {
		t.Fatal("root of a large scene should be an inner node")
	}
	maxLeaf := uint32(0)
	for i := range b.Nodes {
		if b.Nodes[i].Count > maxLeaf {
			maxLeaf = b.Nodes[i].Count
		}
	}
	if maxLeaf > maxLeafSize {
		t.Errorf("leaf with %d primitives, want at most %d", maxLeaf, maxLeafSize)
	}
}

func TestRefit(t *testing.T) {
	bounds := randomBoxes(64, 3)
	b := Build(bounds)
	nodes := len(b.Nodes)

	bounds[5] = boxAt(500, 500, 500, 2)
	b.SetPrimitiveBounds(5, bounds[5])
	b.Refit()

	if len(b.Nodes) != nodes {
		t.Errorf("refit changed node count from %d to %d", nodes, len(b.Nodes))
	}
	checkTree(t, b, bounds)
	if b.Bounds().Max.X < 502 {
		t.Errorf("root bounds %+v do not include moved primitive", b.Bounds())
	}
}

func TestEncodeDecode(t *testing.T) {
	b := Build(randomBoxes(50, 4))
	sizes, err := BuildSizes(50)
	if err != nil {
		t.Fatal(err)
	}
	if uint64(b.EncodedSize()) > sizes.Structure {
		t.Fatalf("encoded size %d exceeds size query %d", b.EncodedSize(), sizes.Structure)
	}
	buf := make([]byte, sizes.Structure)
	if err := b.Encode(buf); err != nil {
		t.Fatal(err)
	}
	d, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Nodes) != len(b.Nodes) || len(d.Indices) != len(b.Indices) {
		t.Fatalf("decoded %d nodes / %d indices, want %d / %d", len(d.Nodes), len(d.Indices), len(b.Nodes), len(b.Indices))
	}
	for i := range b.Nodes {
		if d.Nodes[i] != b.Nodes[i] {
			t.Errorf("node %d = %+v, want %+v", i, d.Nodes[i], b.Nodes[i])
		}
	}
	if _, err := Decode(buf[:8]); err == nil {
		t.Error("decoding a truncated header should fail")
	}
	if _, err := Decode(make([]byte, 64)); err == nil {
		t.Error("decoding zeroes should fail the magic check")
	}
	if err := b.Encode(make([]byte, 10)); err == nil {
		t.Error("encoding into a short buffer should fail")
	}
}

func TestBuildSizesRejectsEmpty(t *testing.T) {
	if _, err := BuildSizes(0); err == nil {
		t.Error("size query for zero primitives should fail")
	}
}

func TestIntersectMatchesBruteForce(t *testing.T) {
	bounds := randomBoxes(300, 5)
	b := Build(bounds)
	test := func(p uint32, ray Ray, tMax float32) (float32, bool) {
		r := ray
		r.TMax = tMax
		return IntersectBox(r, bounds[p])
	}
	rng := rand.New(rand.NewSource(6))
	for i := 0; i < 200; i++ {
		origin := math.NewVec3(rng.Float32()*100, rng.Float32()*100, -10)
		dir := math.NewVec3(rng.Float32()-0.5, rng.Float32()-0.5, 1)
		ray := Ray{Origin: origin, Direction: dir, TMin: 0, TMax: math.Infinity}

		want, wantOK := Hit{T: math.Infinity}, false
		for p := range bounds {
			if t, ok := IntersectBox(ray, bounds[p]); ok && t < want.T {
				want, wantOK = Hit{Primitive: uint32(p), T: t}, true
			}
		}
		got, gotOK := b.Intersect(ray, test)
		if gotOK != wantOK || (gotOK && got.T != want.T) {
			t.Fatalf("ray %d: got %+v %v, want %+v %v", i, got, gotOK, want, wantOK)
		}
	}
}

func TestIntersectTriangle(t *testing.T) {
	v0 := math.NewVec3(0, -0.5, 0)
	v1 := math.NewVec3(0.5, 0.5, 0)
	v2 := math.NewVec3(-0.5, 0.5, 0)
	tests := []struct {
		name   string
		origin math.Vec3
		hit    bool
		t      float32
	}{
		{"center", math.NewVec3(0, 0.1, -1), true, 1},
		{"outside", math.NewVec3(0.9, 0, -1), false, 0},
		{"behind", math.NewVec3(0, 0.1, 1), false, 0},
	}
	for _, tt := range tests {
		ray := Ray{Origin: tt.origin, Direction: math.NewVec3(0, 0, 1), TMax: math.Infinity}
		got, ok := IntersectTriangle(ray, v0, v1, v2)
		if ok != tt.hit || (ok && math.Abs(got-tt.t) > 1e-5) {
			t.Errorf("%s: got %v %v, want %v %v", tt.name, got, ok, tt.t, tt.hit)
		}
	}
}
