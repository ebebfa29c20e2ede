package volume

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/geo/r3"
	"go.viam.com/utils"

	"go.viam.com/rdk/pointcloud"
)

// BackProjectConfig controls depth-to-point-cloud back-projection.
type BackProjectConfig struct {
	// MinValidDepthMm and MaxValidDepthMm bound which depth readings are
	// trusted. Readings outside [Min, Max] are treated as "no reading",
	// same as a raw zero.
	MinValidDepthMm float64
	MaxValidDepthMm float64

	// NumWorkers is the number of row-partitioned goroutines used to
	// compute camera-frame points. 0 or less means a fixed default of 8.
	NumWorkers int
}

// DefaultBackProjectConfig returns defaults suited to a short-range
// active-stereo depth sensor observing a tabletop scene.
func DefaultBackProjectConfig() BackProjectConfig {
	return BackProjectConfig{
		MinValidDepthMm: 70,
		MaxValidDepthMm: 500,
		NumWorkers:      8,
	}
}

// BackProject lifts every valid pixel of depth into a metric point cloud in
// the camera frame. Pixels with a raw zero reading, or a depth outside
// [MinValidDepthMm, MaxValidDepthMm], are skipped.
//
// Per-pixel projection is computed in parallel across row partitions (the
// same row-partitioned worker-pool shape the teacher uses to cache a depth
// map's point cloud), then merged into the returned cloud on a single
// goroutine so iteration order — and therefore any derived statistic — is
// reproducible regardless of how the work was scheduled.
func BackProject(ctx context.Context, depth DepthImage, in Intrinsics, cfg BackProjectConfig) (PointCloud, error) {
	if !in.Valid() {
		return nil, fmt.Errorf("invalid intrinsics: %+v", in)
	}
	if depth.Width != in.Width || depth.Height != in.Height {
		return nil, fmt.Errorf("depth image %dx%d does not match intrinsics %dx%d",
			depth.Width, depth.Height, in.Width, in.Height)
	}

	type projected struct {
		pt    r3.Vector
		valid bool
	}

	numWorkers := cfg.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 8
	}
	rows := make([][]projected, depth.Height)

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	var cancelErr error
	var cancelOnce sync.Once
	for w := 0; w < numWorkers; w++ {
		worker := w
		utils.PanicCapturingGo(func() {
			defer wg.Done()
			for v := worker; v < depth.Height; v += numWorkers {
				if err := checkCancelled(ctx); err != nil {
					cancelOnce.Do(func() { cancelErr = err })
					return
				}
				row := make([]projected, depth.Width)
				for u := 0; u < depth.Width; u++ {
					d, ok := depth.DepthMM(u, v)
					if !ok || d < cfg.MinValidDepthMm || d > cfg.MaxValidDepthMm {
						continue
					}
					row[u] = projected{pt: in.BackProjectPoint(u, v, d), valid: true}
				}
				rows[v] = row
			}
		})
	}
	wg.Wait()
	if cancelErr != nil {
		return nil, cancelErr
	}

	cloud := pointcloud.NewWithPrealloc(depth.Width * depth.Height / 4)
	for v := 0; v < depth.Height; v++ {
		row := rows[v]
		for u := 0; u < depth.Width; u++ {
			if !row[u].valid {
				continue
			}
			if err := cloud.Set(row[u].pt, pointcloud.NewBasicData()); err != nil {
				return nil, fmt.Errorf("back-project (%d,%d): %w", u, v, err)
			}
		}
	}
	return cloud, nil
}
