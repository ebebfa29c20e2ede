package volume

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.viam.com/utils"
)

// VolumeConfig controls the final depth-difference integration stage.
type VolumeConfig struct {
	// MinValidDepthMm and MaxValidDepthMm bound which observed-depth
	// readings are trusted, mirroring BackProjectConfig's bounds (the two
	// stages look at the same sensor, so the same physical range applies).
	MinValidDepthMm float64
	MaxValidDepthMm float64
	NumWorkers      int
}

// DefaultVolumeConfig returns defaults matching DefaultBackProjectConfig's
// depth-validity bounds.
func DefaultVolumeConfig() VolumeConfig {
	return VolumeConfig{
		MinValidDepthMm: 70,
		MaxValidDepthMm: 500,
		NumWorkers:      8,
	}
}

// VolumeIntegrate sums, over every hit food-mask pixel, the height between
// the fitted bowl's interior surface (from raycast) and the observed food
// surface (from depth), weighted by the pixel's real-world area at that
// depth — a Riemann sum over the food mask. Pixels where the raycast
// missed, the observed depth is invalid, or the food surface is not
// between the camera and the bowl surface (height <= 0) do not contribute
// and are excluded from NValidPixels.
func VolumeIntegrate(ctx context.Context, depth DepthImage, mask FoodMask, rc RaycastResult, in Intrinsics, cfg VolumeConfig) (*VolumeResult, error) {
	if depth.Width != mask.Width || depth.Height != mask.Height || rc.Width != mask.Width || rc.Height != mask.Height {
		return nil, fmt.Errorf("volume integrate: mismatched dimensions depth=%dx%d mask=%dx%d raycast=%dx%d",
			depth.Width, depth.Height, mask.Width, mask.Height, rc.Width, rc.Height)
	}

	n := mask.Width * mask.Height
	heights := make([]float64, n)
	areas := make([]float64, n)
	valid := make([]bool, n)

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
					idx := v*mask.Width + u
					hit, hitDist := rc.At(u, v)
					if !hit {
						continue
					}
					observedMM, ok := depth.DepthMM(u, v)
					if !ok || observedMM < cfg.MinValidDepthMm || observedMM > cfg.MaxValidDepthMm {
						continue
					}
					// bowl_mm is the raycast distance itself (spec.md §4.E
					// step 3); no projection onto the optical axis.
					height := float64(hitDist) - observedMM
					if height <= 0 {
						continue
					}
					heights[idx] = height
					// Pixel footprint is measured on the food surface, not
					// the bowl surface behind it (spec.md §4.E step 5).
					areas[idx] = (observedMM * observedMM) / (in.Fx * in.Fy)
					valid[idx] = true
				}
			}
		})
	}
	wg.Wait()
	if cancelErr != nil {
		return nil, cancelErr
	}

	var volumeMM3, sumHeight, maxHeight, sumHeightSq float64
	nValid := 0
	for idx := 0; idx < n; idx++ {
		if !valid[idx] {
			continue
		}
		volumeMM3 += heights[idx] * areas[idx]
		sumHeight += heights[idx]
		sumHeightSq += heights[idx] * heights[idx]
		if heights[idx] > maxHeight {
			maxHeight = heights[idx]
		}
		nValid++
	}

	nFood := mask.CountTrue()
	result := &VolumeResult{
		VolumeML:     volumeMM3 / 1000.0,
		NFoodPixels:  nFood,
		NValidPixels: nValid,
		MaxHeightMM:  maxHeight,
	}
	if nFood > 0 {
		result.ValidRatio = float64(nValid) / float64(nFood)
	}
	if nValid > 0 {
		mean := sumHeight / float64(nValid)
		result.MeanHeightMM = mean
		variance := sumHeightSq/float64(nValid) - mean*mean
		if variance > 0 {
			result.StdHeightMM = math.Sqrt(variance)
		}
	}
	return result, nil
}
