package bowlvolume

import (
	"context"
	"math"
	"testing"

	"github.com/biotinker/bowlvolume/volume"
	"github.com/biotinker/bowlvolume/volume/synthetic"
)

// flatDiscRequest builds spec.md scenario S1: a flat conical dish bowl seen
// head-on at a uniform 100mm food depth, with the bowl bottom 10mm further
// away (110mm) everywhere under the mask.
func flatDiscRequest(t *testing.T) Request {
	t.Helper()
	in := volume.Intrinsics{Fx: 64, Fy: 64, Cx: 32, Cy: 32, Width: 64, Height: 64}

	units := make([]uint16, in.Width*in.Height)
	scale := 1e-4
	for i := range units {
		units[i] = uint16(100.0 / (scale * 1000.0)) // 100mm everywhere
	}
	depth := volume.DepthImage{Width: in.Width, Height: in.Height, Units: units, ScaleMPerUnit: scale}
	mask := volume.FoodMask{Width: in.Width, Height: in.Height, Mask: allTrue(in.Width * in.Height)}

	// A flat disc bowl mesh, rim diameter 40mm, apex 10mm below the rim
	// plane; placed 110mm from the camera along +z so every pixel's ray
	// hits the bottom at z=110.
	mesh := synthetic.FlatDiscBowlMesh(20, 10, 64)
	for i, v := range mesh.Vertices {
		v.Z += 110
		mesh.Vertices[i] = v
	}

	return Request{
		Depth:             depth,
		Intrinsics:        in,
		FoodMask:          mask,
		ReferenceBowlMesh: mesh,
		BowlRimDiameterMM: 40,
	}
}

func allTrue(n int) []bool {
	m := make([]bool, n)
	for i := range m {
		m[i] = true
	}
	return m
}

// TestEstimateFlatBottomDisc covers spec.md scenario S1: volume_ml should
// be close to disc_area * 10mm / 1000 == pi*400*10/1000 ~= 12.57ml.
func TestEstimateFlatBottomDisc(t *testing.T) {
	req := flatDiscRequest(t)
	res, err := Estimate(context.Background(), req, DefaultConfig())
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}

	// The disc's rim sits noticeably off-axis at this focal length, so the
	// Riemann approximation described in spec.md §4.E's Rationale (pixel
	// footprint measured at the food depth, bowl_mm left unprojected) adds
	// a geometry-dependent bias on top of the nominal disc volume; widen
	// the tolerance accordingly rather than pretend this is a small-FOV
	// capture.
	want := math.Pi * 400 * 10 / 1000
	gotErr := math.Abs(res.VolumeML-want) / want
	if gotErr > 0.25 {
		t.Errorf("volume_ml = %.3f, want ~%.3f (within 25%%), got %.1f%% error", res.VolumeML, want, gotErr*100)
	}
	if res.VolumeML < 0 {
		t.Errorf("volume_ml must be >= 0, got %v", res.VolumeML)
	}
	if res.NValidPixels > res.NFoodPixels || res.NFoodPixels > req.Depth.Width*req.Depth.Height {
		t.Errorf("pixel-count invariant violated: valid=%d food=%d total=%d",
			res.NValidPixels, res.NFoodPixels, req.Depth.Width*req.Depth.Height)
	}
}

// TestEstimateEmptyBowl covers spec.md scenario S2: when the depth sensor
// sees the clean bowl interior directly (no food present), the food surface
// coincides with the bowl surface and the integrated volume must be
// negligible. Only a narrow, near-axis mask is used: bowl_mm is the raw
// raycast distance while food_mm is a z-projected sensor depth (spec.md
// §4.E's Rationale), so away from the optical axis the two differ by a
// small, FOV-dependent amount even for a truly coincident surface.
func TestEstimateEmptyBowl(t *testing.T) {
	req := flatDiscRequest(t)

	// Render the food depth straight from the bowl mesh itself (same
	// position used to build ReferenceBowlMesh), so the sensor reports
	// exactly the bowl's own surface with no food on top of it.
	mesh := synthetic.FlatDiscBowlMesh(20, 10, 64)
	for i, v := range mesh.Vertices {
		v.Z += 110
		mesh.Vertices[i] = v
	}
	req.Depth = synthetic.DepthImage(mesh, req.Intrinsics, req.Depth.ScaleMPerUnit)
	req.FoodMask = synthetic.CircularFoodMask(req.Intrinsics.Width, req.Intrinsics.Height, int(req.Intrinsics.Cx), int(req.Intrinsics.Cy), 3)

	res, err := Estimate(context.Background(), req, DefaultConfig())
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if res.VolumeML > 1e-3 {
		t.Errorf("volume_ml = %v, want ~0 for an empty bowl", res.VolumeML)
	}
	if res.VolumeML < 0 {
		t.Errorf("volume_ml must be >= 0, got %v", res.VolumeML)
	}
}

// TestEstimateAllFalseMask covers spec.md property 3: an all-false food
// mask yields volume_ml = 0 and n_food_pixels = 0, without any validation
// error (an empty mask is a legal request, not malformed input).
func TestEstimateAllFalseMask(t *testing.T) {
	req := flatDiscRequest(t)
	req.FoodMask.Mask = make([]bool, len(req.FoodMask.Mask))

	res, err := Estimate(context.Background(), req, DefaultConfig())
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if res.VolumeML != 0 {
		t.Errorf("volume_ml = %v, want 0 for an all-false mask", res.VolumeML)
	}
	if res.NFoodPixels != 0 {
		t.Errorf("n_food_pixels = %v, want 0 for an all-false mask", res.NFoodPixels)
	}
}

// TestEstimateDeterministic covers spec.md scenario S6: running the same
// scenario twice with the same config must produce a bit-identical result.
func TestEstimateDeterministic(t *testing.T) {
	req := flatDiscRequest(t)
	cfg := DefaultConfig()

	res1, err := Estimate(context.Background(), req, cfg)
	if err != nil {
		t.Fatalf("Estimate (run 1) failed: %v", err)
	}
	res2, err := Estimate(context.Background(), req, cfg)
	if err != nil {
		t.Fatalf("Estimate (run 2) failed: %v", err)
	}

	if res1.VolumeML != res2.VolumeML {
		t.Errorf("volume_ml not deterministic: %v vs %v", res1.VolumeML, res2.VolumeML)
	}
	if res1.NFoodPixels != res2.NFoodPixels || res1.NValidPixels != res2.NValidPixels {
		t.Errorf("pixel counts not deterministic: (%d,%d) vs (%d,%d)",
			res1.NFoodPixels, res1.NValidPixels, res2.NFoodPixels, res2.NValidPixels)
	}
	if res1.FittedTransform != res2.FittedTransform {
		t.Errorf("fitted transform not deterministic: %v vs %v", res1.FittedTransform, res2.FittedTransform)
	}
}

// TestEstimateRejectsShapeMismatch covers spec.md §7's InvalidInput kind:
// a depth image whose dimensions disagree with intrinsics must be
// rejected before any stage runs.
func TestEstimateRejectsShapeMismatch(t *testing.T) {
	req := flatDiscRequest(t)
	req.Intrinsics.Width = 32 // now mismatched with req.Depth's 64
	req.Intrinsics.Cx = 16    // keep the principal point inside the narrower image

	_, err := Estimate(context.Background(), req, DefaultConfig())
	if err == nil {
		t.Fatal("expected an error for mismatched depth/intrinsics shape")
	}
	pe, ok := err.(*PipelineError)
	if !ok {
		t.Fatalf("expected *PipelineError, got %T: %v", err, err)
	}
	if pe.Kind != KindInvalidInput {
		t.Errorf("Kind = %v, want KindInvalidInput", pe.Kind)
	}
}

// TestEstimateInsufficientData covers spec.md §4.C's InsufficientData
// failure mode: a depth image with fewer than 100 valid readings must be
// rejected before BowlFit runs, not silently integrated to zero.
func TestEstimateInsufficientData(t *testing.T) {
	req := flatDiscRequest(t)
	units := make([]uint16, len(req.Depth.Units)) // all zero: no valid readings at all
	req.Depth.Units = units

	_, err := Estimate(context.Background(), req, DefaultConfig())
	if err == nil {
		t.Fatal("expected an InsufficientData error for an all-invalid depth image")
	}
	pe, ok := err.(*PipelineError)
	if !ok {
		t.Fatalf("expected *PipelineError, got %T: %v", err, err)
	}
	if pe.Kind != KindInsufficientData {
		t.Errorf("Kind = %v, want KindInsufficientData", pe.Kind)
	}
}

// TestEstimateCancellation covers spec.md §5's cooperative cancellation:
// a context cancelled before Estimate runs must short-circuit with
// KindCancelled rather than running the full pipeline.
func TestEstimateCancellation(t *testing.T) {
	req := flatDiscRequest(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Estimate(ctx, req, DefaultConfig())
	if err == nil {
		t.Fatal("expected an error for a pre-cancelled context")
	}
	pe, ok := err.(*PipelineError)
	if !ok {
		t.Fatalf("expected *PipelineError, got %T: %v", err, err)
	}
	if pe.Kind != KindCancelled {
		t.Errorf("Kind = %v, want KindCancelled: %v", pe.Kind, err)
	}
}
