package bowlvolume

import (
	"context"
	"fmt"
	"math"

	"github.com/biotinker/bowlvolume/volume"
)

// minValidScenePoints is spec.md §4.C's BowlFit failure threshold: fewer
// valid back-projected points than this and there is nothing to register
// a bowl mesh against.
const minValidScenePoints = 100

// Diagnostic is one named, human-readable measurement or warning the
// pipeline surfaces alongside a Result, e.g. the measured rim diameter or
// a non-fatal fit-quality warning. Diagnostics never change which fields
// of Result are populated; they are supplementary context for a caller
// deciding whether to trust a capture (spec.md §7).
type Diagnostic struct {
	Key   string
	Value string
}

func (d Diagnostic) String() string {
	return d.Key + "=" + d.Value
}

// Result is the terminal output of Estimate: spec.md §3's VolumeResult,
// embedded, plus the fitted bowl transform and pipeline diagnostics
// (spec.md §6, §7).
type Result struct {
	volume.VolumeResult

	// FittedTransform is the fitted bowl mesh's pose in the camera frame:
	// a row-major 4x4 homogeneous matrix, millimetres (spec.md §6,
	// "fitted transform (4x4 f64) for debugging").
	FittedTransform [4][4]float64

	Diagnostics []Diagnostic
}

// Estimate runs the full bowl-volume pipeline (spec.md §5's fixed A→E
// order) on a single capture: back-projection, bowl-mesh registration,
// ray casting, and depth-difference volume integration. It is a pure
// function of req and cfg — no I/O, no global state — and can be
// cancelled cooperatively via ctx, which is checked between ICP
// iterations, BVH-traversal chunks, and volume-integration chunks.
//
// A fatal error (InvalidInput, InsufficientData, Cancelled) is returned
// as a *PipelineError and no Result is produced. Non-fatal conditions
// (FitDidNotConverge, RayCastDegenerate) do not abort the pipeline: they
// are recorded in Result.Diagnostics and a best-effort Result is still
// returned.
func Estimate(ctx context.Context, req Request, cfg Config) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, wrapStage("validate", KindInvalidInput, err)
	}

	logDebugf(cfg.Logger, "bowlvolume: back-projecting %dx%d depth image", req.Depth.Width, req.Depth.Height)
	scene, err := volume.BackProject(ctx, req.Depth, req.Intrinsics, cfg.BackProject)
	if err != nil {
		return nil, wrapStage("backproject", stageErrorKind(err, KindInvalidInput), err)
	}
	totalPixels := req.Depth.Width * req.Depth.Height
	droppedPixels := totalPixels - scene.Size()
	if scene.Size() < minValidScenePoints {
		return nil, wrapStage("backproject", KindInsufficientData,
			fmt.Errorf("only %d valid depth points after back-projection, need >= %d", scene.Size(), minValidScenePoints))
	}
	logDebugf(cfg.Logger, "bowlvolume: back-projected %d points (%d pixels dropped)", scene.Size(), droppedPixels)

	canon, err := volume.Canonicalize(req.ReferenceBowlMesh, cfg.MeshPrep)
	if err != nil {
		return nil, wrapStage("meshprep", KindInvalidInput, err)
	}
	logDebugf(cfg.Logger, "bowlvolume: canonicalized reference mesh, rim_diameter_model_mm=%.3f", canon.RimDiameterMm)

	scale := req.BowlRimDiameterMM / canon.RimDiameterMm
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return nil, wrapStage("meshprep", KindInvalidInput,
			fmt.Errorf("degenerate scale factor %v (true rim=%.3f model rim=%.3f)", scale, req.BowlRimDiameterMM, canon.RimDiameterMm))
	}

	seed := volume.DefaultInitialPose(volume.SceneCentroid(scene))
	if req.InitialPoseHint != nil {
		seed = volume.SeedFromPose(req.InitialPoseHint)
	}

	icpRes, err := volume.FitBowl(ctx, scene, canon, scale, seed, cfg.ICP)
	if err != nil {
		return nil, wrapStage("bowlfit", stageErrorKind(err, KindInvalidInput), err)
	}
	logDebugf(cfg.Logger, "bowlvolume: bowl fit converged=%v fitness=%.3f rmse=%.3f iterations=%d",
		icpRes.Converged, icpRes.Fitness, icpRes.RMSE, icpRes.Iterations)

	diagnostics := []Diagnostic{
		{Key: "rim_diameter_model_mm", Value: fmt.Sprintf("%.3f", canon.RimDiameterMm)},
		{Key: "bowl_fit_scale", Value: fmt.Sprintf("%.4f", scale)},
		{Key: "fitted_rim_diameter_mm", Value: fmt.Sprintf("%.3f", canon.RimDiameterMm*scale)},
		{Key: "backproject_dropped_pixels", Value: fmt.Sprintf("%d", droppedPixels)},
		{Key: "icp_correspondence_fitness", Value: fmt.Sprintf("%.4f", icpRes.Fitness)},
		{Key: "icp_rmse_mm", Value: fmt.Sprintf("%.4f", icpRes.RMSE)},
		{Key: "icp_iterations", Value: fmt.Sprintf("%d", icpRes.Iterations)},
	}
	if !icpRes.Converged && icpRes.Fitness < 0.3 {
		msg := fmt.Sprintf("ICP reached max iterations with fitness=%.3f rmse=%.3f", icpRes.Fitness, icpRes.RMSE)
		logWarnf(cfg.Logger, "bowlvolume: %s", msg)
		diagnostics = append(diagnostics, Diagnostic{Key: KindFitDidNotConverge.String(), Value: msg})
	}

	rc, err := volume.RayCast(ctx, &icpRes.Fitted, req.FoodMask, req.Intrinsics, cfg.RayCast)
	if err != nil {
		return nil, wrapStage("raycast", stageErrorKind(err, KindInvalidInput), err)
	}

	nFood := req.FoodMask.CountTrue()
	hits := 0
	for _, h := range rc.Hit {
		if h {
			hits++
		}
	}
	if nFood > 0 {
		hitRate := float64(hits) / float64(nFood)
		diagnostics = append(diagnostics, Diagnostic{Key: "raycast_hit_rate", Value: fmt.Sprintf("%.4f", hitRate)})
		if hits == 0 {
			msg := "fitted bowl mesh had zero ray hits over the food mask"
			logWarnf(cfg.Logger, "bowlvolume: %s", msg)
			diagnostics = append(diagnostics, Diagnostic{Key: KindRayCastDegenerate.String(), Value: msg})
		}
	}

	vr, err := volume.VolumeIntegrate(ctx, req.Depth, req.FoodMask, *rc, req.Intrinsics, cfg.Volume)
	if err != nil {
		return nil, wrapStage("integrate", stageErrorKind(err, KindInvalidInput), err)
	}
	logDebugf(cfg.Logger, "bowlvolume: volume=%.2fml valid_ratio=%.3f", vr.VolumeML, vr.ValidRatio)

	vr.Fitness = icpRes.Fitness
	vr.RMSE = icpRes.RMSE
	vr.Converged = icpRes.Converged

	return &Result{
		VolumeResult:    *vr,
		FittedTransform: icpRes.Fitted.Matrix4x4(),
		Diagnostics:     diagnostics,
	}, nil
}
