package bowlvolume

import (
	"context"
	"errors"
)

// Kind classifies why the pipeline could not produce a (trustworthy) result.
type Kind int

const (
	// KindInvalidInput covers shape mismatches, non-finite intrinsics, and empty meshes.
	KindInvalidInput Kind = iota
	// KindInsufficientData covers a back-projected scene with fewer than 100 valid points.
	KindInsufficientData
	// KindFitDidNotConverge covers ICP reaching max iterations with fitness < 0.3. Non-fatal.
	KindFitDidNotConverge
	// KindRayCastDegenerate covers a fitted mesh with zero hit rate over the food mask. Non-fatal.
	KindRayCastDegenerate
	// KindCancelled covers cooperative cancellation.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindInsufficientData:
		return "insufficient_data"
	case KindFitDidNotConverge:
		return "fit_did_not_converge"
	case KindRayCastDegenerate:
		return "raycast_degenerate"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidInput is returned when the request fails ingress validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInsufficientData is returned when back-projection yields too few valid points to fit a bowl.
	ErrInsufficientData = errors.New("insufficient valid depth points")

	// ErrCancelled is returned when the caller's cancellation token fires.
	ErrCancelled = errors.New("cancelled")
)

// PipelineError is the sum-type error surfaced by Estimate: a Kind plus the
// stage-specific cause. Non-fatal conditions (FitDidNotConverge,
// RayCastDegenerate) never reach here — they are appended to
// Result.Diagnostics instead and Estimate still returns a result.
type PipelineError struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return e.Stage + ": " + e.Kind.String()
	}
	return e.Stage + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel error matching e's Kind, so
// errors.Is(err, ErrInvalidInput) and friends hold for a *PipelineError.
func (e *PipelineError) Is(target error) bool {
	switch target {
	case ErrInvalidInput:
		return e.Kind == KindInvalidInput
	case ErrInsufficientData:
		return e.Kind == KindInsufficientData
	case ErrCancelled:
		return e.Kind == KindCancelled
	}
	return false
}

func wrapStage(stage string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &PipelineError{Kind: kind, Stage: stage, Err: err}
}

// stageErrorKind classifies an error returned by a volume.* stage
// function: cooperative cancellation is always reported as KindCancelled
// regardless of which stage observed it, everything else as fallback.
func stageErrorKind(err error, fallback Kind) Kind {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return fallback
}
