package bowlvolume

import (
	"fmt"
	"math"

	"github.com/biotinker/bowlvolume/volume"

	"go.viam.com/rdk/spatialmath"
)

// Request bundles one aligned RGB-D capture of a bowl of food together
// with the reference mesh of that bowl, empty, in its own arbitrary local
// frame and units of millimetres, and the bowl's physically measured rim
// diameter (spec.md §6).
type Request struct {
	Depth             volume.DepthImage
	Intrinsics        volume.Intrinsics
	FoodMask          volume.FoodMask
	ReferenceBowlMesh volume.BowlMesh

	// BowlRimDiameterMM is the bowl's true rim diameter, measured
	// externally (e.g. calipers, a product spec sheet). BowlFit derives
	// its uniform scale factor directly from the ratio of this value to
	// the canonicalized mesh's own measured rim diameter (spec.md §4.C).
	BowlRimDiameterMM float64

	// InitialPoseHint, when non-nil, seeds ICP's rotation and translation
	// instead of the default centroid-translation guess (spec.md §4.C,
	// "optionally allow a caller-supplied 4x4 seed").
	InitialPoseHint spatialmath.Pose
}

// A food mask that is entirely false is a legal request (spec.md §8,
// property 3: "if food_mask is all false, volume_ml = 0"); it is not
// rejected here.
func (r Request) validate() error {
	if !r.Intrinsics.Valid() {
		return fmt.Errorf("intrinsics are not physically valid: %+v", r.Intrinsics)
	}
	if r.Depth.Width != r.Intrinsics.Width || r.Depth.Height != r.Intrinsics.Height {
		return fmt.Errorf("depth image %dx%d does not match intrinsics %dx%d",
			r.Depth.Width, r.Depth.Height, r.Intrinsics.Width, r.Intrinsics.Height)
	}
	if r.FoodMask.Width != r.Intrinsics.Width || r.FoodMask.Height != r.Intrinsics.Height {
		return fmt.Errorf("food mask %dx%d does not match intrinsics %dx%d",
			r.FoodMask.Width, r.FoodMask.Height, r.Intrinsics.Width, r.Intrinsics.Height)
	}
	if len(r.ReferenceBowlMesh.Vertices) < 4 || len(r.ReferenceBowlMesh.Triangles) < 4 {
		return fmt.Errorf("reference bowl mesh too small: %d vertices, %d triangles",
			len(r.ReferenceBowlMesh.Vertices), len(r.ReferenceBowlMesh.Triangles))
	}
	if r.BowlRimDiameterMM <= 0 || math.IsNaN(r.BowlRimDiameterMM) || math.IsInf(r.BowlRimDiameterMM, 0) {
		return fmt.Errorf("bowl rim diameter must be positive and finite, got %v", r.BowlRimDiameterMM)
	}
	return nil
}
