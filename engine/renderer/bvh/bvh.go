// Package bvh builds bounding volume hierarchies over primitive bounds with a
// binned surface area heuristic. Nodes use a flat 32 byte layout so a built
// hierarchy can be copied to the device as is.
package bvh

import (
	"github.com/spaghettifunk/lumen/engine/math"
)

const (
	// NodeSize is the encoded size of a Node in bytes.
	NodeSize = 32

	maxLeafSize = 4
	binCount    = 12
)

// Node is a BVH node. Inner nodes have Count == 0 and store the index of the
// left child in LeftFirst; the right child always follows it. Leaves store
// the offset of their first primitive reference in LeftFirst.
type Node struct {
	Min       math.Vec3
	LeftFirst uint32
	Max       math.Vec3
	Count     uint32
}

func (n *Node) IsLeaf() bool {
	return n.Count > 0
}

func (n *Node) Bounds() math.Extents3D {
	return math.Extents3D{Min: n.Min, Max: n.Max}
}

func (n *Node) setBounds(e math.Extents3D) {
	n.Min = e.Min
	n.Max = e.Max
}

// BVH is a built hierarchy. Indices maps leaf primitive references to the
// caller's primitive indices.
type BVH struct {
	Nodes   []Node
	Indices []uint32

	bounds    []math.Extents3D
	centroids []math.Vec3
}

// MaxNodes returns the node capacity needed for primitiveCount primitives.
func MaxNodes(primitiveCount int) int {
	if primitiveCount <= 0 {
		return 0
	}
	return 2*primitiveCount - 1
}

// Build constructs a hierarchy over bounds. Primitive i of the caller is
// bounds[i].
func Build(bounds []math.Extents3D) *BVH {
	n := len(bounds)
	b := &BVH{
		Nodes:     make([]Node, 0, MaxNodes(n)),
		Indices:   make([]uint32, n),
		bounds:    append([]math.Extents3D(nil), bounds...),
		centroids: make([]math.Vec3, n),
	}
	if n == 0 {
		return b
	}
	for i := range bounds {
		b.Indices[i] = uint32(i)
		b.centroids[i] = bounds[i].Centroid()
	}
	b.Nodes = append(b.Nodes, Node{LeftFirst: 0, Count: uint32(n)})
	b.updateNodeBounds(0)
	b.subdivide(0)
	return b
}

// Bounds returns the bounds of the root node.
func (b *BVH) Bounds() math.Extents3D {
	if len(b.Nodes) == 0 {
		return math.EmptyExtents()
	}
	return b.Nodes[0].Bounds()
}

func (b *BVH) PrimitiveCount() int {
	return len(b.Indices)
}

func (b *BVH) updateNodeBounds(index int) {
	node := &b.Nodes[index]
	e := math.EmptyExtents()
	for i := node.LeftFirst; i < node.LeftFirst+node.Count; i++ {
		e = e.Union(b.bounds[b.Indices[i]])
	}
	node.setBounds(e)
}

type bin struct {
	bounds math.Extents3D
	count  int
}

func (b *BVH) centroidBounds(node *Node) math.Extents3D {
	e := math.EmptyExtents()
	for i := node.LeftFirst; i < node.LeftFirst+node.Count; i++ {
		e = e.Grow(b.centroids[b.Indices[i]])
	}
	return e
}

func binIndex(c, lo, scale float32) int {
	return math.Clamp(int((c-lo)*scale), 0, binCount-1)
}

// findBestSplit returns the axis and bin boundary with the lowest SAH cost.
// Primitives whose centroid falls in a bin below split go to the left child.
func (b *BVH) findBestSplit(node *Node, cb math.Extents3D) (axis, split int, cost float32) {
	cost = math.Infinity
	for a := 0; a < 3; a++ {
		lo, hi := cb.Min.Axis(a), cb.Max.Axis(a)
		if hi <= lo {
			continue
		}
		var bins [binCount]bin
		for i := range bins {
			bins[i].bounds = math.EmptyExtents()
		}
		scale := float32(binCount) / (hi - lo)
		for i := node.LeftFirst; i < node.LeftFirst+node.Count; i++ {
			p := b.Indices[i]
			k := binIndex(b.centroids[p].Axis(a), lo, scale)
			bins[k].count++
			bins[k].bounds = bins[k].bounds.Union(b.bounds[p])
		}

		var leftArea, rightArea [binCount - 1]float32
		var leftCount, rightCount [binCount - 1]int
		le, re := math.EmptyExtents(), math.EmptyExtents()
		lc, rc := 0, 0
		for i := 0; i < binCount-1; i++ {
			lc += bins[i].count
			le = le.Union(bins[i].bounds)
			leftCount[i], leftArea[i] = lc, le.SurfaceArea()

			rc += bins[binCount-1-i].count
			re = re.Union(bins[binCount-1-i].bounds)
			rightCount[binCount-2-i], rightArea[binCount-2-i] = rc, re.SurfaceArea()
		}
		for i := 0; i < binCount-1; i++ {
			if leftCount[i] == 0 || rightCount[i] == 0 {
				continue
			}
			c := float32(leftCount[i])*leftArea[i] + float32(rightCount[i])*rightArea[i]
			if c < cost {
				axis, split, cost = a, i+1, c
			}
		}
	}
	return axis, split, cost
}

func (b *BVH) subdivide(index int) {
	node := &b.Nodes[index]
	if node.Count <= 1 {
		return
	}
	cb := b.centroidBounds(node)
	axis, split, cost := b.findBestSplit(node, cb)
	if cost == math.Infinity {
		// All centroids coincide.
		return
	}
	leafCost := float32(node.Count) * node.Bounds().SurfaceArea()
	if node.Count <= maxLeafSize && cost >= leafCost {
		return
	}

	lo := cb.Min.Axis(axis)
	scale := float32(binCount) / (cb.Max.Axis(axis) - lo)
	i, j := int(node.LeftFirst), int(node.LeftFirst+node.Count)-1
	for i <= j {
		if binIndex(b.centroids[b.Indices[i]].Axis(axis), lo, scale) < split {
			i++
		} else {
			b.Indices[i], b.Indices[j] = b.Indices[j], b.Indices[i]
			j--
		}
	}
	leftCount := uint32(i) - node.LeftFirst
	if leftCount == 0 || leftCount == node.Count {
		return
	}

	left := len(b.Nodes)
	b.Nodes = append(b.Nodes,
		Node{LeftFirst: node.LeftFirst, Count: leftCount},
		Node{LeftFirst: uint32(i), Count: node.Count - leftCount},
	)
	// append may have moved the slice.
	node = &b.Nodes[index]
	node.LeftFirst = uint32(left)
	node.Count = 0

	b.updateNodeBounds(left)
	b.updateNodeBounds(left + 1)
	b.subdivide(left)
	b.subdivide(left + 1)
}

// SetPrimitiveBounds replaces the bounds of primitive i. Call Refit
// afterwards to propagate the change.
func (b *BVH) SetPrimitiveBounds(i int, e math.Extents3D) {
	b.bounds[i] = e
	b.centroids[i] = e.Centroid()
}

// Refit recomputes every node's bounds bottom-up while keeping the topology.
// Children are always stored after their parent, so a reverse walk visits
// them first.
func (b *BVH) Refit() {
	for i := len(b.Nodes) - 1; i >= 0; i-- {
		node := &b.Nodes[i]
		if node.IsLeaf() {
			b.updateNodeBounds(i)
			continue
		}
		node.setBounds(b.Nodes[node.LeftFirst].Bounds().Union(b.Nodes[node.LeftFirst+1].Bounds()))
	}
}
