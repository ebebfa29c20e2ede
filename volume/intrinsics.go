package volume

import "github.com/golang/geo/r3"

// RayDirection returns the unit direction, in the camera frame, of the ray
// through pixel center (u, v). Cameras look down +z; x is right, y is down.
func (in Intrinsics) RayDirection(u, v int) r3.Vector {
	x := (float64(u) + 0.5 - in.Cx) / in.Fx
	y := (float64(v) + 0.5 - in.Cy) / in.Fy
	return r3.Vector{X: x, Y: y, Z: 1.0}.Normalize()
}

// BackProjectPoint lifts a single depth reading at pixel (u, v) to a 3D
// point in the camera frame, in millimetres.
func (in Intrinsics) BackProjectPoint(u, v int, depthMM float64) r3.Vector {
	x := (float64(u) + 0.5 - in.Cx) * depthMM / in.Fx
	y := (float64(v) + 0.5 - in.Cy) * depthMM / in.Fy
	return r3.Vector{X: x, Y: y, Z: depthMM}
}

// Project maps a camera-frame point back to continuous pixel coordinates.
// The caller is responsible for checking p.Z > 0 before trusting the result.
func (in Intrinsics) Project(p r3.Vector) (u, v float64) {
	u = p.X*in.Fx/p.Z + in.Cx
	v = p.Y*in.Fy/p.Z + in.Cy
	return u, v
}
