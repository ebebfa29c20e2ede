package volume

import (
	"fmt"
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// MeshPrepConfig controls canonicalization of a reference bowl mesh.
type MeshPrepConfig struct {
	// RimBoundaryTolerance is unused for watertight-boundary detection
	// (boundary edges are found exactly, by half-edge multiplicity) but is
	// kept as a config knob for future tolerance-based boundary detection
	// on meshes with duplicated rim vertices.
	RimBoundaryTolerance float64

	// RimPercentile selects the band of top-z vertices, after axis
	// alignment, used to measure the rim: vertices at or above this
	// percentile of the z distribution are treated as rim candidates.
	RimPercentile float64
}

// DefaultMeshPrepConfig returns the default mesh-canonicalization settings.
func DefaultMeshPrepConfig() MeshPrepConfig {
	return MeshPrepConfig{RimBoundaryTolerance: 1e-6, RimPercentile: 95}
}

// Canonicalize rotates and translates a reference bowl mesh (never scales
// it) so that its rim lies in the plane z = RimZ = 0 (the highest vertex)
// with the rim centroid at the origin and its opening faces +z, then
// measures its rim diameter. The
// input mesh's own units are preserved; RimDiameterMm is in whatever unit
// the input vertices are in (millimetres, by convention, for this package).
func Canonicalize(mesh BowlMesh, cfg MeshPrepConfig) (CanonicalBowlMesh, error) {
	if len(mesh.Vertices) < 4 || len(mesh.Triangles) < 4 {
		return CanonicalBowlMesh{}, fmt.Errorf("canonicalize: mesh too small (%d vertices, %d triangles)",
			len(mesh.Vertices), len(mesh.Triangles))
	}

	basis, ok := computePCA(mesh.Vertices)
	if !ok {
		return CanonicalBowlMesh{}, fmt.Errorf("canonicalize: PCA failed on %d vertices", len(mesh.Vertices))
	}
	symAxis := basis.Axes[0] // least-variance axis: a wide, shallow bowl varies most across the rim plane

	// Disambiguate which end of the axis is the opening. A mesh with an
	// open rim boundary (the common case for a bowl shell) gives the
	// cleanest signal: the boundary loop's centroid, relative to the
	// mesh centroid, points toward the opening. A watertight mesh has no
	// boundary, so spec.md's convex-hull-footprint comparison is used
	// instead.
	var orientationHint r3.Vector
	if boundary, err := boundaryLoopVertices(mesh); err == nil && len(boundary) >= 3 {
		var rimCentroid r3.Vector
		for _, idx := range boundary {
			rimCentroid = rimCentroid.Add(mesh.Vertices[idx])
		}
		rimCentroid = rimCentroid.Mul(1.0 / float64(len(boundary)))
		orientationHint = rimCentroid.Sub(basis.Centroid)
	} else {
		orientationHint = openingDirectionByHullArea(mesh.Vertices, symAxis, basis.Centroid)
	}
	if symAxis.Dot(orientationHint) < 0 {
		symAxis = symAxis.Mul(-1)
	}

	rot := rotationAligning(symAxis, r3.Vector{Z: 1})
	verts := make([]r3.Vector, len(mesh.Vertices))
	for i, v := range mesh.Vertices {
		verts[i] = mulMatVec(rot, v)
	}

	percentile := cfg.RimPercentile
	if percentile <= 0 || percentile >= 100 {
		percentile = 95
	}
	rimIdx := topPercentileByZ(verts, percentile)
	if len(rimIdx) < 3 {
		return CanonicalBowlMesh{}, fmt.Errorf("canonicalize: only %d rim candidates at percentile %.1f", len(rimIdx), percentile)
	}

	var rimCentroidXY r3.Vector
	for _, idx := range rimIdx {
		rimCentroidXY.X += verts[idx].X
		rimCentroidXY.Y += verts[idx].Y
	}
	rimCentroidXY = rimCentroidXY.Mul(1.0 / float64(len(rimIdx)))
	for i := range verts {
		verts[i].X -= rimCentroidXY.X
		verts[i].Y -= rimCentroidXY.Y
	}

	rimZ := math.Inf(-1)
	for _, v := range verts {
		if v.Z > rimZ {
			rimZ = v.Z
		}
	}
	// Shift the rim plane to z=0 so the rim centroid sits at the origin.
	for i := range verts {
		verts[i].Z -= rimZ
	}

	rimPts := make([]r3.Vector, len(rimIdx))
	for i, idx := range rimIdx {
		rimPts[i] = verts[idx]
	}
	diameter, err := fitRimDiameter(rimPts)
	if err != nil {
		return CanonicalBowlMesh{}, fmt.Errorf("canonicalize: %w", err)
	}

	return CanonicalBowlMesh{
		Mesh:          BowlMesh{Vertices: verts, Triangles: mesh.Triangles},
		RimZ:          0,
		RimDiameterMm: diameter,
	}, nil
}

// topPercentileByZ returns the indices of verts whose z lies at or above
// the given percentile (0-100) of the z distribution.
func topPercentileByZ(verts []r3.Vector, percentile float64) []uint32 {
	zs := make([]float64, len(verts))
	for i, v := range verts {
		zs[i] = v.Z
	}
	sorted := append([]float64(nil), zs...)
	sort.Float64s(sorted)
	pos := percentile / 100.0 * float64(len(sorted)-1)
	idx := int(pos)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	threshold := sorted[idx]

	var result []uint32
	for i, z := range zs {
		if z >= threshold {
			result = append(result, uint32(i))
		}
	}
	return result
}

// boundaryLoopVertices returns the vertex indices on the mesh's boundary:
// those incident to an edge that belongs to exactly one triangle. A
// watertight mesh has none; a bowl shell open on one side has exactly one
// loop, the rim.
func boundaryLoopVertices(mesh BowlMesh) ([]uint32, error) {
	type edgeKey struct{ a, b uint32 }
	counts := make(map[edgeKey]int)
	addEdge := func(a, b uint32) {
		if a > b {
			a, b = b, a
		}
		counts[edgeKey{a, b}]++
	}
	for _, tri := range mesh.Triangles {
		addEdge(tri[0], tri[1])
		addEdge(tri[1], tri[2])
		addEdge(tri[2], tri[0])
	}

	seen := make(map[uint32]bool)
	var boundary []uint32
	for k, c := range counts {
		if c != 1 {
			continue
		}
		if !seen[k.a] {
			seen[k.a] = true
			boundary = append(boundary, k.a)
		}
		if !seen[k.b] {
			seen[k.b] = true
			boundary = append(boundary, k.b)
		}
	}
	if len(boundary) == 0 {
		return nil, fmt.Errorf("mesh has no open boundary (watertight, or disconnected)")
	}
	return boundary, nil
}

// point2 is a bare 2-D point used by convexHullArea; kept separate from
// r3.Vector since the hull is computed in a plane perpendicular to an
// arbitrary 3-D axis, not in xy.
type point2 struct{ X, Y float64 }

// convexHullArea returns the area of the convex hull of pts via Andrew's
// monotone-chain construction and the shoelace formula.
func convexHullArea(pts []point2) float64 {
	if len(pts) < 3 {
		return 0
	}
	sorted := append([]point2(nil), pts...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].X != sorted[j].X {
			return sorted[i].X < sorted[j].X
		}
		return sorted[i].Y < sorted[j].Y
	})
	cross := func(o, a, b point2) float64 {
		return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
	}

	lower := make([]point2, 0, len(sorted))
	for _, p := range sorted {
		for len(lower) >= 2 && cross(lower[len(lower)-2], lower[len(lower)-1], p) <= 0 {
			lower = lower[:len(lower)-1]
		}
		lower = append(lower, p)
	}
	upper := make([]point2, 0, len(sorted))
	for i := len(sorted) - 1; i >= 0; i-- {
		p := sorted[i]
		for len(upper) >= 2 && cross(upper[len(upper)-2], upper[len(upper)-1], p) <= 0 {
			upper = upper[:len(upper)-1]
		}
		upper = append(upper, p)
	}
	hull := append(lower[:len(lower)-1], upper[:len(upper)-1]...)
	if len(hull) < 3 {
		return 0
	}
	area := 0.0
	n := len(hull)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		area += hull[i].X*hull[j].Y - hull[j].X*hull[i].Y
	}
	return math.Abs(area) / 2
}

// openingDirectionByHullArea implements spec.md §4.B's opening-direction
// rule for meshes without a detectable open boundary: take the vertices
// in the extreme 10% bands at each end of axis, project each band onto
// the plane perpendicular to axis, and call the end with the larger
// convex-hull footprint the opening.
func openingDirectionByHullArea(verts []r3.Vector, axis, centroid r3.Vector) r3.Vector {
	e1 := arbitraryPerpendicular(axis)
	e2 := axis.Cross(e1).Normalize()

	s := make([]float64, len(verts))
	minS, maxS := math.Inf(1), math.Inf(-1)
	for i, v := range verts {
		si := v.Sub(centroid).Dot(axis)
		s[i] = si
		if si < minS {
			minS = si
		}
		if si > maxS {
			maxS = si
		}
	}
	band := (maxS - minS) * 0.1
	if band <= 0 {
		return axis
	}

	var posPts, negPts []point2
	for i, v := range verts {
		d := v.Sub(centroid)
		p := point2{X: d.Dot(e1), Y: d.Dot(e2)}
		if s[i] >= maxS-band {
			posPts = append(posPts, p)
		}
		if s[i] <= minS+band {
			negPts = append(negPts, p)
		}
	}
	if convexHullArea(posPts) >= convexHullArea(negPts) {
		return axis
	}
	return axis.Mul(-1)
}

func arbitraryPerpendicular(v r3.Vector) r3.Vector {
	v = v.Normalize()
	perp := v.Cross(r3.Vector{X: 1})
	if perp.Norm() < 1e-6 {
		perp = v.Cross(r3.Vector{Y: 1})
	}
	return perp.Normalize()
}

// rotationAligning returns a rotation matrix R such that R*from is
// parallel to to, both unit length. Built from Rodrigues' rotation
// formula, the same construction the teacher uses to rotate a single
// vector between two reference frames — generalized here to a reusable
// matrix so a whole mesh can be rotated consistently.
func rotationAligning(from, to r3.Vector) *mat.Dense {
	from = from.Normalize()
	to = to.Normalize()
	dot := from.Dot(to)
	if dot > 0.9999 {
		return identity3()
	}
	if dot < -0.9999 {
		// 180 degree rotation: pick any axis perpendicular to "from".
		perp := arbitraryPerpendicular(from)
		return rodriguesMatrix(perp.Mul(math.Pi))
	}
	axis := from.Cross(to)
	theta := math.Acos(math.Max(-1, math.Min(1, dot)))
	return rodriguesMatrix(axis.Normalize().Mul(theta))
}

// fitRimDiameter fits a circle to the xy-projection of the rim points by
// algebraic least squares (the 2D analogue of a sphere's algebraic fit:
// x^2+y^2 + D*x + E*y + F = 0, center = (-D/2, -E/2)) and returns its
// diameter. Bowl rims are treated as circular; an elliptical fit is not
// needed for the reference meshes this pipeline targets.
func fitRimDiameter(rimPts []r3.Vector) (float64, error) {
	n := len(rimPts)
	if n < 3 {
		return 0, fmt.Errorf("need >= 3 rim points, got %d", n)
	}
	a := mat.NewDense(n, 3, nil)
	b := mat.NewVecDense(n, nil)
	for i, p := range rimPts {
		a.Set(i, 0, p.X)
		a.Set(i, 1, p.Y)
		a.Set(i, 2, 1.0)
		b.SetVec(i, -(p.X*p.X + p.Y*p.Y))
	}
	var qr mat.QR
	qr.Factorize(a)
	var x mat.VecDense
	if err := qr.SolveVecTo(&x, false, b); err != nil {
		return 0, fmt.Errorf("rim circle fit: %w", err)
	}
	d, e, f := x.AtVec(0), x.AtVec(1), x.AtVec(2)
	cx, cy := -d/2, -e/2
	r2 := cx*cx + cy*cy - f
	if r2 <= 0 {
		return 0, fmt.Errorf("rim circle fit: degenerate radius^2 = %v", r2)
	}
	return 2 * math.Sqrt(r2), nil
}
