package volume

import (
	"context"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/rdk/pointcloud"
)

// ICPVariant selects the per-iteration correspondence objective.
type ICPVariant int

const (
	// ICPPointToPoint minimizes squared Euclidean distance between
	// correspondences, solved in closed form by kabschUmeyama.
	ICPPointToPoint ICPVariant = iota
	// ICPPointToPlane minimizes squared distance along the target surface
	// normal, solved by one Gauss-Newton step per iteration.
	ICPPointToPlane
)

// ICPConfig controls scaled-rigid registration of the canonical bowl mesh
// against a scene point cloud.
type ICPConfig struct {
	Variant ICPVariant

	MaxIterations int
	// FitnessThreshold is the minimum fraction of canonical mesh vertices
	// that must have a scene correspondence within
	// MaxCorrespondenceDistanceMm for the fit to be reported as converged.
	FitnessThreshold float64
	// RMSEConvergenceDeltaMm stops iteration early once the RMSE changes
	// by less than this amount between iterations while fitness is at
	// least FitnessThreshold.
	RMSEConvergenceDeltaMm float64
	// MaxCorrespondenceDistanceMm discards nearest-neighbor pairs farther
	// apart than this (outlier rejection).
	MaxCorrespondenceDistanceMm float64
	// NormalNeighborhoodK is the k-NN size used to estimate point-to-plane
	// target normals.
	NormalNeighborhoodK int
	// NumWorkers bounds the number of goroutines used for correspondence
	// search.
	NumWorkers int
}

// DefaultICPConfig returns defaults appropriate for a bowl-scale mesh (tens
// of thousands of vertices) registering against a few hundred scene points.
func DefaultICPConfig() ICPConfig {
	return ICPConfig{
		Variant:                     ICPPointToPlane,
		MaxIterations:               100,
		FitnessThreshold:            0.3,
		RMSEConvergenceDeltaMm:      1e-3,
		MaxCorrespondenceDistanceMm: 20,
		NormalNeighborhoodK:         20,
		NumWorkers:                  8,
	}
}

// ICPResult is the outcome of FitBowl: the fitted mesh plus the diagnostics
// needed to judge whether the fit should be trusted.
type ICPResult struct {
	Fitted    FittedBowlMesh
	Fitness   float64
	RMSE      float64
	Converged bool
	Iterations int
}

// FitBowl registers canon onto scene via scaled rigid ICP. scale is fixed
// by the caller up front from the ratio of the bowl's measured true rim
// diameter to canon's RimDiameterMm (spec.md §4.C) and held constant
// through iteration; only rotation and translation are refined, since
// re-estimating scale every iteration from a partial, noisy depth scan is
// unstable.
func FitBowl(ctx context.Context, scene PointCloud, canon CanonicalBowlMesh, scale float64, initial rigidTransform, cfg ICPConfig) (*ICPResult, error) {
	if scale <= 0 || math.IsNaN(scale) {
		return nil, fmt.Errorf("fit bowl: invalid scale %v", scale)
	}
	scenePts := pointcloud.CloudToPoints(scene)
	if len(scenePts) < 10 {
		return nil, fmt.Errorf("fit bowl: need >= 10 scene points, got %d", len(scenePts))
	}

	sceneKD := pointcloud.ToKDTree(scene)
	scenePtIndex := make(map[r3.Vector]int, len(scenePts))
	for i, p := range scenePts {
		scenePtIndex[p] = i
	}

	current := initial
	current.Scale = scale

	var normals []r3.Vector
	if cfg.Variant == ICPPointToPlane {
		var err error
		normals, err = estimateNormals(sceneKD, scenePts, cfg.NormalNeighborhoodK)
		if err != nil {
			return nil, fmt.Errorf("fit bowl: %w", err)
		}
	}

	canonPts := make([]r3.Vector, len(canon.Mesh.Vertices))
	copy(canonPts, canon.Mesh.Vertices)

	var fitness, rmse float64
	converged := false
	iter := 0
	prevRMSE := math.Inf(1)

	for ; iter < cfg.MaxIterations; iter++ {
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}

		corrSrc, corrDst, corrNormals, err := findCorrespondences(ctx, canonPts, current, normals, scenePtIndex, sceneKD, cfg)
		if err != nil {
			return nil, fmt.Errorf("fit bowl: %w", err)
		}
		fitness = float64(len(corrSrc)) / float64(len(canonPts))
		if len(corrSrc) < 6 {
			break
		}

		sumSq := 0.0
		for i := range corrSrc {
			transformed := current.Apply(corrSrc[i])
			d := transformed.Sub(corrDst[i]).Norm()
			sumSq += d * d
		}
		rmse = math.Sqrt(sumSq / float64(len(corrSrc)))

		switch cfg.Variant {
		case ICPPointToPoint:
			scaledSrc := make([]r3.Vector, len(corrSrc))
			for i, p := range corrSrc {
				scaledSrc[i] = p.Mul(current.Scale)
			}
			step, err := kabschUmeyama(scaledSrc, corrDst, false)
			if err != nil {
				return nil, fmt.Errorf("fit bowl: %w", err)
			}
			current.R = step.R
			current.T = step.T
		case ICPPointToPlane:
			scaledSrc := make([]r3.Vector, len(corrSrc))
			for i, p := range corrSrc {
				scaledSrc[i] = current.Apply(p)
			}
			dR, dT, err := gaussNewtonPointToPlaneStep(scaledSrc, corrDst, corrNormals)
			if err != nil {
				return nil, fmt.Errorf("fit bowl: %w", err)
			}
			var newR mat.Dense
			newR.Mul(dR, current.R)
			current.R = &newR
			current.T = mulMatVec(dR, current.T).Add(dT)
		}

		if math.Abs(prevRMSE-rmse) < cfg.RMSEConvergenceDeltaMm && fitness >= cfg.FitnessThreshold {
			converged = true
			iter++
			break
		}
		prevRMSE = rmse
	}
	if fitness >= cfg.FitnessThreshold {
		converged = true
	}

	fittedVerts := make([]r3.Vector, len(canon.Mesh.Vertices))
	for i, p := range canon.Mesh.Vertices {
		fittedVerts[i] = current.Apply(p)
	}
	fitted := FittedBowlMesh{
		Mesh:  BowlMesh{Vertices: fittedVerts, Triangles: canon.Mesh.Triangles},
		Scale: current.Scale,
		Pose:  current.pose(),
	}

	return &ICPResult{
		Fitted:     fitted,
		Fitness:    fitness,
		RMSE:       rmse,
		Converged:  converged,
		Iterations: iter,
	}, nil
}

func estimateNormals(kd *pointcloud.KDTree, pts []r3.Vector, k int) ([]r3.Vector, error) {
	normals := make([]r3.Vector, len(pts))
	var g errgroup.Group
	chunk := (len(pts) + 7) / 8
	for start := 0; start < len(pts); start += chunk {
		end := start + chunk
		if end > len(pts) {
			end = len(pts)
		}
		s, e := start, end
		g.Go(func() error {
			for i := s; i < e; i++ {
				n, _, ok := estimatePointNormal(kd, pts[i], k)
				if ok {
					normals[i] = n
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return normals, nil
}

// findCorrespondences looks up, for every transformed canonical mesh
// vertex, the nearest scene point within MaxCorrespondenceDistanceMm.
// Correspondence search is the hot loop of ICP so it is parallelized across
// worker goroutines via errgroup, each owning a contiguous slice of
// canonPts; results are written into one pre-sized slice indexed by source
// point and collected in index order afterward so the correspondence set (and
// hence every downstream statistic) is deterministic.
func findCorrespondences(
	ctx context.Context,
	canonPts []r3.Vector,
	current rigidTransform,
	sceneNormals []r3.Vector,
	scenePtIndex map[r3.Vector]int,
	sceneKD *pointcloud.KDTree,
	cfg ICPConfig,
) (src, dst, normals []r3.Vector, err error) {
	numWorkers := cfg.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 8
	}

	type hit struct {
		src, dst, normal r3.Vector
		ok               bool
	}
	hits := make([]hit, len(canonPts))

	g, gctx := errgroup.WithContext(ctx)
	chunk := (len(canonPts) + numWorkers - 1) / numWorkers
	for start := 0; start < len(canonPts); start += chunk {
		end := start + chunk
		if end > len(canonPts) {
			end = len(canonPts)
		}
		s, e := start, end
		g.Go(func() error {
			for i := s; i < e; i++ {
				if i%4096 == 0 {
					if err := checkCancelled(gctx); err != nil {
						return err
					}
				}
				transformed := current.Apply(canonPts[i])
				neighbors := sceneKD.KNearestNeighbors(transformed, 1, true)
				if len(neighbors) == 0 {
					continue
				}
				nb := neighbors[0]
				if transformed.Sub(nb.P).Norm() > cfg.MaxCorrespondenceDistanceMm {
					continue
				}
				h := hit{src: canonPts[i], dst: nb.P, ok: true}
				if sceneNormals != nil {
					if j, found := scenePtIndex[nb.P]; found {
						h.normal = sceneNormals[j]
					}
				}
				hits[i] = h
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}

	for _, h := range hits {
		if !h.ok {
			continue
		}
		src = append(src, h.src)
		dst = append(dst, h.dst)
		normals = append(normals, h.normal)
	}
	return src, dst, normals, nil
}
