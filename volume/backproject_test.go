package volume

import (
	"context"
	"testing"
)

func uniformDepthImage(w, h int, units uint16) DepthImage {
	buf := make([]uint16, w*h)
	for i := range buf {
		buf[i] = units
	}
	return DepthImage{Width: w, Height: h, Units: buf, ScaleMPerUnit: 0.001}
}

func TestBackProjectUniformDepth(t *testing.T) {
	in := Intrinsics{Fx: 64, Fy: 64, Cx: 32, Cy: 32, Width: 64, Height: 64}
	depth := uniformDepthImage(64, 64, 100) // 100mm, since scale=0.001 m/unit -> 100*0.001*1000 = 100mm
	cfg := DefaultBackProjectConfig()

	cloud, err := BackProject(context.Background(), depth, in, cfg)
	if err != nil {
		t.Fatalf("BackProject failed: %v", err)
	}
	if cloud.Size() != 64*64 {
		t.Errorf("expected all %d pixels to back-project, got %d", 64*64, cloud.Size())
	}

	meta := cloud.MetaData()
	if meta.MinZ < 99 || meta.MaxZ > 101 {
		t.Errorf("expected z around 100mm, got range [%v, %v]", meta.MinZ, meta.MaxZ)
	}
}

func TestBackProjectAllZeroDepth(t *testing.T) {
	in := Intrinsics{Fx: 64, Fy: 64, Cx: 32, Cy: 32, Width: 64, Height: 64}
	depth := uniformDepthImage(64, 64, 0)
	cfg := DefaultBackProjectConfig()

	cloud, err := BackProject(context.Background(), depth, in, cfg)
	if err != nil {
		t.Fatalf("BackProject failed: %v", err)
	}
	if cloud.Size() != 0 {
		t.Errorf("expected 0 points from all-zero depth, got %d", cloud.Size())
	}
}

func TestBackProjectOutOfRangeDepthDropped(t *testing.T) {
	in := Intrinsics{Fx: 64, Fy: 64, Cx: 32, Cy: 32, Width: 8, Height: 8}
	cfg := BackProjectConfig{MinValidDepthMm: 70, MaxValidDepthMm: 500, NumWorkers: 4}

	// Half the image at a valid depth, half at an out-of-range depth.
	depth := DepthImage{Width: 8, Height: 8, Units: make([]uint16, 64), ScaleMPerUnit: 0.001}
	for v := 0; v < 8; v++ {
		for u := 0; u < 8; u++ {
			idx := v*8 + u
			if u < 4 {
				depth.Units[idx] = 200 // 200mm, valid
			} else {
				depth.Units[idx] = 10 // 10mm, below MinValidDepthMm
			}
		}
	}

	cloud, err := BackProject(context.Background(), depth, in, cfg)
	if err != nil {
		t.Fatalf("BackProject failed: %v", err)
	}
	if cloud.Size() != 32 {
		t.Errorf("expected 32 valid points (half the image), got %d", cloud.Size())
	}
}

func TestBackProjectDimensionMismatch(t *testing.T) {
	in := Intrinsics{Fx: 64, Fy: 64, Cx: 32, Cy: 32, Width: 64, Height: 64}
	depth := uniformDepthImage(32, 32, 100)
	_, err := BackProject(context.Background(), depth, in, DefaultBackProjectConfig())
	if err == nil {
		t.Fatal("expected error for mismatched depth/intrinsics dimensions")
	}
}

func TestBackProjectCancellation(t *testing.T) {
	in := Intrinsics{Fx: 64, Fy: 64, Cx: 32, Cy: 32, Width: 256, Height: 256}
	depth := uniformDepthImage(256, 256, 150)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := BackProject(ctx, depth, in, DefaultBackProjectConfig())
	if err == nil {
		t.Fatal("expected cancellation error for an already-cancelled context")
	}
}
