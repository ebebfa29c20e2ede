package volume

import (
	"math"
	"testing"

	"github.com/biotinker/bowlvolume/volume/synthetic"
)

func TestCanonicalizeHemisphereRimDiameter(t *testing.T) {
	radius := 50.0
	mesh := synthetic.HemisphereBowlMesh(radius, 24, 48)

	canon, err := Canonicalize(mesh, DefaultMeshPrepConfig())
	if err != nil {
		t.Fatalf("Canonicalize failed: %v", err)
	}

	wantDiameter := 2 * radius
	if math.Abs(canon.RimDiameterMm-wantDiameter) > wantDiameter*0.02 {
		t.Errorf("rim diameter = %.3f, want ~%.3f (within 2%%)", canon.RimDiameterMm, wantDiameter)
	}

	// The rim should lie at the hemisphere's top.
	rimVerts := 0
	for _, v := range canon.Mesh.Vertices {
		if v.Z >= canon.RimZ-1e-6 {
			rimVerts++
		}
	}
	if rimVerts == 0 {
		t.Fatal("no vertices found at measured rim z")
	}
}

func TestCanonicalizeFlatDiscOpeningFacesPositiveZ(t *testing.T) {
	mesh := synthetic.FlatDiscBowlMesh(20, 15, 32)

	canon, err := Canonicalize(mesh, DefaultMeshPrepConfig())
	if err != nil {
		t.Fatalf("Canonicalize failed: %v", err)
	}

	// RimZ should be the maximum z in the canonical frame (opening faces +z).
	maxZ := math.Inf(-1)
	minZ := math.Inf(1)
	for _, v := range canon.Mesh.Vertices {
		if v.Z > maxZ {
			maxZ = v.Z
		}
		if v.Z < minZ {
			minZ = v.Z
		}
	}
	if math.Abs(canon.RimZ-maxZ) > 1e-6 {
		t.Errorf("RimZ = %v, want the canonical mesh's max z %v", canon.RimZ, maxZ)
	}
	if maxZ <= minZ {
		t.Errorf("expected the bowl's bottom (apex) below its rim: maxZ=%v minZ=%v", maxZ, minZ)
	}

	wantDiameter := 40.0
	if math.Abs(canon.RimDiameterMm-wantDiameter) > wantDiameter*0.02 {
		t.Errorf("rim diameter = %.3f, want ~%.3f", canon.RimDiameterMm, wantDiameter)
	}
}

func TestCanonicalizeRimCentroidAtOrigin(t *testing.T) {
	mesh := synthetic.HemisphereBowlMesh(30, 16, 32)
	canon, err := Canonicalize(mesh, DefaultMeshPrepConfig())
	if err != nil {
		t.Fatalf("Canonicalize failed: %v", err)
	}

	rimIdx := topPercentileByZ(canon.Mesh.Vertices, 95)
	var cx, cy float64
	for _, idx := range rimIdx {
		cx += canon.Mesh.Vertices[idx].X
		cy += canon.Mesh.Vertices[idx].Y
	}
	cx /= float64(len(rimIdx))
	cy /= float64(len(rimIdx))
	if math.Abs(cx) > 1e-6 || math.Abs(cy) > 1e-6 {
		t.Errorf("rim centroid (%.6f, %.6f) not at xy origin", cx, cy)
	}
}

func TestCanonicalizeRejectsTinyMesh(t *testing.T) {
	_, err := Canonicalize(BowlMesh{}, DefaultMeshPrepConfig())
	if err == nil {
		t.Fatal("expected an error for an empty mesh")
	}
}

func TestConvexHullAreaSquare(t *testing.T) {
	// A 10x10 square (plus an interior point that should not affect area).
	pts := []point2{
		{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10},
		{X: 5, Y: 5},
	}
	area := convexHullArea(pts)
	if math.Abs(area-100) > 1e-9 {
		t.Errorf("convex hull area = %v, want 100", area)
	}
}

func TestConvexHullAreaDegenerate(t *testing.T) {
	if got := convexHullArea([]point2{{X: 0, Y: 0}, {X: 1, Y: 0}}); got != 0 {
		t.Errorf("expected 0 area for 2 points, got %v", got)
	}
}
