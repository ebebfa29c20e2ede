// Package volume implements the numerical/geometric pipeline that turns an
// aligned RGB-D capture of a bowl of food into an estimated volume in
// millilitres: back-projection, bowl-mesh registration (scaled ICP), ray
// casting, and depth-difference integration.
package volume

import (
	"github.com/golang/geo/r3"

	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/spatialmath"
)

// PointCloud is a metric point cloud in the camera frame, millimetres.
type PointCloud = pointcloud.PointCloud

// Intrinsics are the pinhole intrinsics of the depth sensor, in pixels.
type Intrinsics struct {
	Fx, Fy float64
	Cx, Cy float64
	Width  int
	Height int
}

// Valid reports whether the intrinsics are physically sane: positive focal
// lengths, positive image dimensions, and a principal point inside the image.
func (in Intrinsics) Valid() bool {
	if in.Fx <= 0 || in.Fy <= 0 || in.Width <= 0 || in.Height <= 0 {
		return false
	}
	if in.Cx < 0 || in.Cx >= float64(in.Width) {
		return false
	}
	if in.Cy < 0 || in.Cy >= float64(in.Height) {
		return false
	}
	return true
}

// DepthImage is a row-major H×W buffer of 16-bit depth units, plus the
// scale that converts a unit to metres. A value of 0 denotes "no reading".
type DepthImage struct {
	Width, Height int
	Units         []uint16 // len == Width*Height, row-major
	ScaleMPerUnit float64
}

// At returns the raw depth unit at (u, v).
func (d DepthImage) At(u, v int) uint16 {
	return d.Units[v*d.Width+u]
}

// DepthMM converts a raw unit at (u, v) to millimetres, or (0, false) if the
// pixel is zero (no reading). Range validity is the caller's job (min/max
// valid depth is a config concern, not an intrinsic property of the image).
func (d DepthImage) DepthMM(u, v int) (float64, bool) {
	raw := d.At(u, v)
	if raw == 0 {
		return 0, false
	}
	return float64(raw) * d.ScaleMPerUnit * 1000.0, true
}

// FoodMask is a row-major H×W boolean mask identifying pixels to integrate.
type FoodMask struct {
	Width, Height int
	Mask          []bool // len == Width*Height, row-major
}

// At returns whether (u, v) is a food pixel.
func (m FoodMask) At(u, v int) bool {
	return m.Mask[v*m.Width+u]
}

// CountTrue returns the number of set pixels in the mask.
func (m FoodMask) CountTrue() int {
	n := 0
	for _, b := range m.Mask {
		if b {
			n++
		}
	}
	return n
}

// BowlMesh is a triangle mesh in millimetres, arbitrary local frame.
// Triangles index into Vertices; may be non-watertight.
type BowlMesh struct {
	Vertices  []r3.Vector
	Triangles [][3]uint32
}

// CanonicalBowlMesh is a BowlMesh that has been rotated/translated (never
// scaled) so that its opening faces +z, its rim plane is z=RimZ, and the
// rim centroid projects to the xy origin. RimDiameterMm is measured by
// MeshPrep and is the reference scale used by BowlFit.
type CanonicalBowlMesh struct {
	Mesh          BowlMesh
	RimZ          float64
	RimDiameterMm float64
}

// FittedBowlMesh is a CanonicalBowlMesh placed into the camera frame by a
// uniform scale and a rigid transform (R, t), plus a side-car BVH owning
// indices into Mesh.Triangles for ray queries.
type FittedBowlMesh struct {
	Mesh  BowlMesh // canonical mesh, scaled by Scale, in the camera frame
	Scale float64
	Pose  spatialmath.Pose // rotation + translation applied after scaling
	tree  *bvh
}

// Matrix4x4 returns the fitted transform as a row-major homogeneous
// matrix, with Scale folded into the rotation block: applying it to an
// unscaled canonical-mesh vertex reproduces that vertex's position in Mesh. Exposed for callers
// who want to serialize or inspect the registration independently of the
// rest of the pipeline (spec.md §6, "fitted transform (4x4 f64) for
// debugging").
func (f FittedBowlMesh) Matrix4x4() [4][4]float64 {
	rm := f.Pose.Orientation().RotationMatrix()
	var m [4][4]float64
	for i := 0; i < 3; i++ {
		row := rm.Row(i)
		m[i][0] = row.X * f.Scale
		m[i][1] = row.Y * f.Scale
		m[i][2] = row.Z * f.Scale
	}
	p := f.Pose.Point()
	m[0][3], m[1][3], m[2][3] = p.X, p.Y, p.Z
	m[3][3] = 1
	return m
}

// RaycastResult holds, per food-mask pixel (in mask row-major order), the
// distance along the camera ray to the interior bowl surface.
type RaycastResult struct {
	Width, Height int
	Hit           []bool
	DistanceMM    []float32
}

// At returns the hit flag and distance at (u, v).
func (r RaycastResult) At(u, v int) (hit bool, distMM float32) {
	idx := v*r.Width + u
	return r.Hit[idx], r.DistanceMM[idx]
}

// VolumeResult is the terminal output of the pipeline.
type VolumeResult struct {
	VolumeML      float64
	NFoodPixels   int
	NValidPixels  int
	ValidRatio    float64
	MeanHeightMM  float64
	MaxHeightMM   float64
	StdHeightMM   float64
	Fitness       float64
	RMSE          float64
	Converged     bool
}
