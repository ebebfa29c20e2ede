package volume

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
)

// bvhNode is a node of a bounding volume hierarchy over a mesh's triangles.
// Leaves hold a contiguous run of entries into a shared, reordered triangle
// index array; internal nodes hold left/right children. The shape mirrors
// what the teacher's own BVH tests expect of a mesh's lazily-built
// hierarchy (leaf triangle lists, left/right children) — generalized here
// into a full surface-area-heuristic build plus explicit stack traversal,
// since the teacher repo itself does not ship the BVH's implementation.
type bvhNode struct {
	boundsMin, boundsMax r3.Vector
	left, right          *bvhNode
	// start/count index into the shared triIndices array; only meaningful
	// on a leaf (left == nil && right == nil).
	start, count int
}

func (n *bvhNode) isLeaf() bool {
	return n.left == nil && n.right == nil
}

// bvh owns a mesh's triangle centroids/bounds and the reordered index
// array every node's start/count slices into.
type bvh struct {
	root        *bvhNode
	triIndices  []uint32
	centroids   []r3.Vector
	triMin      []r3.Vector
	triMax      []r3.Vector
	mesh        BowlMesh
}

const bvhLeafSize = 4

// buildBVH constructs a surface-area-heuristic BVH over mesh's triangles.
func buildBVH(mesh BowlMesh) *bvh {
	n := len(mesh.Triangles)
	b := &bvh{
		mesh:       mesh,
		triIndices: make([]uint32, n),
		centroids:  make([]r3.Vector, n),
		triMin:     make([]r3.Vector, n),
		triMax:     make([]r3.Vector, n),
	}
	for i, tri := range mesh.Triangles {
		b.triIndices[i] = uint32(i)
		p0, p1, p2 := mesh.Vertices[tri[0]], mesh.Vertices[tri[1]], mesh.Vertices[tri[2]]
		b.centroids[i] = p0.Add(p1).Add(p2).Mul(1.0 / 3.0)
		b.triMin[i] = minVec(minVec(p0, p1), p2)
		b.triMax[i] = maxVec(maxVec(p0, p1), p2)
	}
	if n == 0 {
		b.root = &bvhNode{}
		return b
	}
	b.root = b.buildRange(0, n)
	return b
}

func (b *bvh) buildRange(start, count int) *bvhNode {
	bmin, bmax := b.boundsOf(start, count)
	if count <= bvhLeafSize {
		return &bvhNode{boundsMin: bmin, boundsMax: bmax, start: start, count: count}
	}

	axis := longestAxis(bmin, bmax)
	idx := b.triIndices[start : start+count]

	// Surface-area-heuristic split via binned buckets, falling back to a
	// simple median split if every bucket boundary is degenerate (e.g. all
	// centroids share the same coordinate on this axis).
	splitAt, ok := b.sahSplit(idx, axis, bmin, bmax)
	if !ok {
		sort.Slice(idx, func(i, j int) bool {
			return axisOf(b.centroids[idx[i]], axis) < axisOf(b.centroids[idx[j]], axis)
		})
		splitAt = count / 2
	}
	if splitAt <= 0 || splitAt >= count {
		splitAt = count / 2
	}

	left := b.buildRange(start, splitAt)
	right := b.buildRange(start+splitAt, count-splitAt)
	return &bvhNode{boundsMin: bmin, boundsMax: bmax, left: left, right: right}
}

const sahBuckets = 12

// sahSplit partitions idx in place along axis using the surface-area
// heuristic over sahBuckets uniform buckets of the centroid range, and
// returns the split point (count of elements placed in the left partition).
func (b *bvh) sahSplit(idx []uint32, axis int, bmin, bmax r3.Vector) (int, bool) {
	lo, hi := axisOf(bmin, axis), axisOf(bmax, axis)
	if hi-lo < 1e-9 {
		return 0, false
	}

	type bucket struct {
		count    int
		min, max r3.Vector
	}
	buckets := make([]bucket, sahBuckets)
	bucketOf := func(tri uint32) int {
		f := (axisOf(b.centroids[tri], axis) - lo) / (hi - lo)
		k := int(f * float64(sahBuckets))
		if k < 0 {
			k = 0
		}
		if k >= sahBuckets {
			k = sahBuckets - 1
		}
		return k
	}
	for _, tri := range idx {
		k := bucketOf(tri)
		if buckets[k].count == 0 {
			buckets[k].min = b.triMin[tri]
			buckets[k].max = b.triMax[tri]
		} else {
			buckets[k].min = minVec(buckets[k].min, b.triMin[tri])
			buckets[k].max = maxVec(buckets[k].max, b.triMax[tri])
		}
		buckets[k].count++
	}

	bestCost := -1.0
	bestSplit := -1
	for split := 1; split < sahBuckets; split++ {
		var lMin, lMax, rMin, rMax r3.Vector
		lCount, rCount := 0, 0
		lSet, rSet := false, false
		for k := 0; k < split; k++ {
			if buckets[k].count == 0 {
				continue
			}
			if !lSet {
				lMin, lMax, lSet = buckets[k].min, buckets[k].max, true
			} else {
				lMin, lMax = minVec(lMin, buckets[k].min), maxVec(lMax, buckets[k].max)
			}
			lCount += buckets[k].count
		}
		for k := split; k < sahBuckets; k++ {
			if buckets[k].count == 0 {
				continue
			}
			if !rSet {
				rMin, rMax, rSet = buckets[k].min, buckets[k].max, true
			} else {
				rMin, rMax = minVec(rMin, buckets[k].min), maxVec(rMax, buckets[k].max)
			}
			rCount += buckets[k].count
		}
		if lCount == 0 || rCount == 0 {
			continue
		}
		cost := surfaceArea(lMin, lMax)*float64(lCount) + surfaceArea(rMin, rMax)*float64(rCount)
		if bestCost < 0 || cost < bestCost {
			bestCost = cost
			bestSplit = split
		}
	}
	if bestSplit < 0 {
		return 0, false
	}

	sort.Slice(idx, func(i, j int) bool {
		return bucketOf(idx[i]) < bucketOf(idx[j])
	})
	leftCount := 0
	for _, tri := range idx {
		if bucketOf(tri) >= bestSplit {
			break
		}
		leftCount++
	}
	return leftCount, true
}

func (b *bvh) boundsOf(start, count int) (r3.Vector, r3.Vector) {
	bmin := b.triMin[b.triIndices[start]]
	bmax := b.triMax[b.triIndices[start]]
	for i := start + 1; i < start+count; i++ {
		bmin = minVec(bmin, b.triMin[b.triIndices[i]])
		bmax = maxVec(bmax, b.triMax[b.triIndices[i]])
	}
	return bmin, bmax
}

func axisOf(v r3.Vector, axis int) float64 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

func longestAxis(bmin, bmax r3.Vector) int {
	d := bmax.Sub(bmin)
	if d.X >= d.Y && d.X >= d.Z {
		return 0
	}
	if d.Y >= d.Z {
		return 1
	}
	return 2
}

func surfaceArea(bmin, bmax r3.Vector) float64 {
	d := bmax.Sub(bmin)
	return 2 * (d.X*d.Y + d.Y*d.Z + d.Z*d.X)
}

func minVec(a, b r3.Vector) r3.Vector {
	return r3.Vector{X: math.Min(a.X, b.X), Y: math.Min(a.Y, b.Y), Z: math.Min(a.Z, b.Z)}
}

func maxVec(a, b r3.Vector) r3.Vector {
	return r3.Vector{X: math.Max(a.X, b.X), Y: math.Max(a.Y, b.Y), Z: math.Max(a.Z, b.Z)}
}
