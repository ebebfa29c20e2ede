// Package synthetic generates seeded synthetic bowl meshes and depth
// scenes for testing the volume package without real sensor captures.
package synthetic

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r3"

	"github.com/biotinker/bowlvolume/volume"
)

// HemisphereBowlMesh builds a watertight-except-for-the-rim hemispherical
// shell of the given radius, open at z=0 and deepest at z=radius, with
// nRings latitude bands and nSegments points per ring.
func HemisphereBowlMesh(radius float64, nRings, nSegments int) volume.BowlMesh {
	var verts []r3.Vector
	ringStart := make([]int, nRings+1)
	for ring := 0; ring <= nRings; ring++ {
		ringStart[ring] = len(verts)
		phi := math.Pi / 2 * float64(ring) / float64(nRings) // 0 at rim, pi/2 at bottom
		z := radius * math.Sin(phi)
		ringRadius := radius * math.Cos(phi)
		for seg := 0; seg < nSegments; seg++ {
			theta := 2 * math.Pi * float64(seg) / float64(nSegments)
			verts = append(verts, r3.Vector{
				X: ringRadius * math.Cos(theta),
				Y: ringRadius * math.Sin(theta),
				Z: z,
			})
		}
	}
	bottomIdx := uint32(len(verts))
	verts = append(verts, r3.Vector{Z: radius})

	var tris [][3]uint32
	for ring := 0; ring < nRings; ring++ {
		for seg := 0; seg < nSegments; seg++ {
			a := uint32(ringStart[ring] + seg)
			b := uint32(ringStart[ring] + (seg+1)%nSegments)
			c := uint32(ringStart[ring+1] + seg)
			d := uint32(ringStart[ring+1] + (seg+1)%nSegments)
			if ring == nRings-1 {
				tris = append(tris, [3]uint32{a, b, bottomIdx})
				continue
			}
			tris = append(tris, [3]uint32{a, b, d})
			tris = append(tris, [3]uint32{a, d, c})
		}
	}
	return volume.BowlMesh{Vertices: verts, Triangles: tris}
}

// FlatDiscBowlMesh builds a shallow conical dish: a flat disc of radius
// rimRadius at z=0 with a single apex at (0,0,depth) in the center,
// open at the rim.
func FlatDiscBowlMesh(rimRadius, depth float64, nSegments int) volume.BowlMesh {
	verts := make([]r3.Vector, 0, nSegments+1)
	for seg := 0; seg < nSegments; seg++ {
		theta := 2 * math.Pi * float64(seg) / float64(nSegments)
		verts = append(verts, r3.Vector{X: rimRadius * math.Cos(theta), Y: rimRadius * math.Sin(theta), Z: 0})
	}
	apex := uint32(len(verts))
	verts = append(verts, r3.Vector{Z: depth})

	var tris [][3]uint32
	for seg := 0; seg < nSegments; seg++ {
		a := uint32(seg)
		b := uint32((seg + 1) % nSegments)
		tris = append(tris, [3]uint32{a, b, apex})
	}
	return volume.BowlMesh{Vertices: verts, Triangles: tris}
}

// SampleMeshSurface draws n points uniformly (by triangle area) from mesh's
// surface, perturbed by up to noiseMm along the local face normal, using a
// seeded generator so callers get reproducible scenes across test runs.
func SampleMeshSurface(mesh volume.BowlMesh, n int, noiseMm float64, seed int64) []r3.Vector {
	rng := rand.New(rand.NewSource(seed))
	areas := make([]float64, len(mesh.Triangles))
	total := 0.0
	for i, tri := range mesh.Triangles {
		p0, p1, p2 := mesh.Vertices[tri[0]], mesh.Vertices[tri[1]], mesh.Vertices[tri[2]]
		a := p1.Sub(p0).Cross(p2.Sub(p0)).Norm() / 2
		areas[i] = a
		total += a
	}

	pts := make([]r3.Vector, 0, n)
	for len(pts) < n {
		target := rng.Float64() * total
		cum := 0.0
		chosen := len(areas) - 1
		for i, a := range areas {
			cum += a
			if cum >= target {
				chosen = i
				break
			}
		}
		tri := mesh.Triangles[chosen]
		p0, p1, p2 := mesh.Vertices[tri[0]], mesh.Vertices[tri[1]], mesh.Vertices[tri[2]]
		u, v := rng.Float64(), rng.Float64()
		if u+v > 1 {
			u, v = 1-u, 1-v
		}
		pt := p0.Add(p1.Sub(p0).Mul(u)).Add(p2.Sub(p0).Mul(v))
		if noiseMm > 0 {
			normal := p1.Sub(p0).Cross(p2.Sub(p0)).Normalize()
			pt = pt.Add(normal.Mul(noiseMm * (2*rng.Float64() - 1)))
		}
		pts = append(pts, pt)
	}
	return pts
}

// DepthImage rasterizes mesh into a synthetic depth image under intrinsics
// by ray-casting every pixel against the mesh via brute force (no BVH —
// this is test-data generation, not the production ray-casting path).
func DepthImage(mesh volume.BowlMesh, in volume.Intrinsics, scaleMPerUnit float64) volume.DepthImage {
	units := make([]uint16, in.Width*in.Height)
	for v := 0; v < in.Height; v++ {
		for u := 0; u < in.Width; u++ {
			dir := in.RayDirection(u, v)
			best := math.Inf(1)
			hit := false
			for _, tri := range mesh.Triangles {
				p0, p1, p2 := mesh.Vertices[tri[0]], mesh.Vertices[tri[1]], mesh.Vertices[tri[2]]
				if t, ok := rayTriangleBruteForce(dir, p0, p1, p2); ok && t < best {
					best = t
					hit = true
				}
			}
			if !hit {
				continue
			}
			depthMM := best * dir.Z
			units[v*in.Width+u] = uint16(depthMM / (scaleMPerUnit * 1000.0))
		}
	}
	return volume.DepthImage{Width: in.Width, Height: in.Height, Units: units, ScaleMPerUnit: scaleMPerUnit}
}

func rayTriangleBruteForce(dir, p0, p1, p2 r3.Vector) (float64, bool) {
	const epsilon = 1e-9
	edge1 := p1.Sub(p0)
	edge2 := p2.Sub(p0)
	h := dir.Cross(edge2)
	a := edge1.Dot(h)
	if a > -epsilon && a < epsilon {
		return 0, false
	}
	f := 1.0 / a
	s := r3.Vector{}.Sub(p0)
	u := f * s.Dot(h)
	if u < 0 || u > 1 {
		return 0, false
	}
	q := s.Cross(edge1)
	v := f * dir.Dot(q)
	if v < 0 || u+v > 1 {
		return 0, false
	}
	t := f * edge2.Dot(q)
	if t < epsilon {
		return 0, false
	}
	return t, true
}

// CircularFoodMask builds a food mask: every pixel within radiusPx of
// (centerU, centerV) in image space.
func CircularFoodMask(width, height, centerU, centerV, radiusPx int) volume.FoodMask {
	m := make([]bool, width*height)
	for v := 0; v < height; v++ {
		for u := 0; u < width; u++ {
			du, dv := u-centerU, v-centerV
			if du*du+dv*dv <= radiusPx*radiusPx {
				m[v*width+u] = true
			}
		}
	}
	return volume.FoodMask{Width: width, Height: height, Mask: m}
}
