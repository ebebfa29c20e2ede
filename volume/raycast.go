package volume

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/geo/r3"
	"go.viam.com/utils"
)

// RayCastConfig controls casting camera rays through the food mask against
// a fitted bowl mesh.
type RayCastConfig struct {
	// EpsilonMM is the Moller-Trumbore parallel-ray tolerance.
	EpsilonMM float64
	// MaxDistanceMM discards intersections farther than this (a ray that
	// technically hits the mesh but implausibly far away, e.g. the far
	// side of a degenerate mesh, is treated as a miss).
	MaxDistanceMM float64
	NumWorkers    int
}

// DefaultRayCastConfig returns defaults for a bowl a few hundred
// millimetres from a depth sensor.
func DefaultRayCastConfig() RayCastConfig {
	return RayCastConfig{
		EpsilonMM:     1e-6,
		MaxDistanceMM: 2000,
		NumWorkers:    8,
	}
}

// ensureBVH lazily builds the mesh's BVH; safe to call repeatedly.
func (f *FittedBowlMesh) ensureBVH() {
	if f.tree != nil {
		return
	}
	f.tree = buildBVH(f.Mesh)
}

// RayCast fires one camera ray per set pixel of mask through intrinsics and
// intersects it with fitted's interior surface, recording the distance to
// the nearest hit. Traversal is parallelized by row partition, the same
// shape BackProject uses, since both are pure per-pixel maps with no
// shared mutable state until the final merge.
func RayCast(ctx context.Context, fitted *FittedBowlMesh, mask FoodMask, in Intrinsics, cfg RayCastConfig) (*RaycastResult, error) {
	if mask.Width != in.Width || mask.Height != in.Height {
		return nil, fmt.Errorf("raycast: mask %dx%d does not match intrinsics %dx%d", mask.Width, mask.Height, in.Width, in.Height)
	}
	fitted.ensureBVH()

	result := &RaycastResult{
		Width:      mask.Width,
		Height:     mask.Height,
		Hit:        make([]bool, mask.Width*mask.Height),
		DistanceMM: make([]float32, mask.Width*mask.Height),
	}

	numWorkers := cfg.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 8
	}

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	var cancelErr error
	var once sync.Once
	for w := 0; w < numWorkers; w++ {
		worker := w
		utils.PanicCapturingGo(func() {
			defer wg.Done()
			for v := worker; v < mask.Height; v += numWorkers {
				if err := checkCancelled(ctx); err != nil {
					once.Do(func() { cancelErr = err })
					return
				}
				for u := 0; u < mask.Width; u++ {
					if !mask.At(u, v) {
						continue
					}
					dir := in.RayDirection(u, v)
					dist, hit := fitted.tree.intersect(r3.Vector{}, dir, cfg.EpsilonMM, cfg.MaxDistanceMM, fitted.Mesh)
					idx := v*mask.Width + u
					result.Hit[idx] = hit
					if hit {
						result.DistanceMM[idx] = float32(dist)
					}
				}
			}
		})
	}
	wg.Wait()
	if cancelErr != nil {
		return nil, cancelErr
	}
	return result, nil
}

// intersect finds the nearest triangle hit along the ray (origin, dir),
// dir unit length, via non-recursive stack-based BVH traversal and
// Moller-Trumbore ray-triangle intersection.
func (b *bvh) intersect(origin, dir r3.Vector, epsilon, maxDist float64, mesh BowlMesh) (float64, bool) {
	if b == nil || b.root == nil {
		return 0, false
	}

	invDir := r3.Vector{X: safeInv(dir.X), Y: safeInv(dir.Y), Z: safeInv(dir.Z)}
	best := maxDist
	hit := false

	stack := make([]*bvhNode, 0, 64)
	stack = append(stack, b.root)
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !rayAABB(origin, invDir, node.boundsMin, node.boundsMax, best) {
			continue
		}
		if node.isLeaf() {
			for i := node.start; i < node.start+node.count; i++ {
				tri := mesh.Triangles[b.triIndices[i]]
				p0, p1, p2 := mesh.Vertices[tri[0]], mesh.Vertices[tri[1]], mesh.Vertices[tri[2]]
				if t, ok := mollerTrumbore(origin, dir, p0, p1, p2, epsilon); ok && t > 0 && t < best {
					best = t
					hit = true
				}
			}
			continue
		}
		stack = append(stack, node.left, node.right)
	}
	return best, hit
}

func safeInv(x float64) float64 {
	if x == 0 {
		return 1e300
	}
	return 1 / x
}

func rayAABB(origin, invDir, bmin, bmax r3.Vector, maxDist float64) bool {
	tMin, tMax := 0.0, maxDist
	for axis := 0; axis < 3; axis++ {
		o, d := axisOf(origin, axis), axisOf(invDir, axis)
		lo, hi := axisOf(bmin, axis), axisOf(bmax, axis)
		t0, t1 := (lo-o)*d, (hi-o)*d
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		if t0 > tMin {
			tMin = t0
		}
		if t1 < tMax {
			tMax = t1
		}
		if tMin > tMax {
			return false
		}
	}
	return true
}

// mollerTrumbore computes the ray-triangle intersection distance, or
// ok=false if the ray is parallel to the triangle or misses it.
func mollerTrumbore(origin, dir, p0, p1, p2 r3.Vector, epsilon float64) (float64, bool) {
	edge1 := p1.Sub(p0)
	edge2 := p2.Sub(p0)
	h := dir.Cross(edge2)
	a := edge1.Dot(h)
	if a > -epsilon && a < epsilon {
		return 0, false
	}
	f := 1.0 / a
	s := origin.Sub(p0)
	u := f * s.Dot(h)
	if u < 0 || u > 1 {
		return 0, false
	}
	q := s.Cross(edge1)
	v := f * dir.Dot(q)
	if v < 0 || u+v > 1 {
		return 0, false
	}
	t := f * edge2.Dot(q)
	if t < epsilon {
		return 0, false
	}
	return t, true
}
