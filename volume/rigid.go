package volume

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/spatialmath"
)

// rigidTransform is a similarity transform: scale, then rotate, then
// translate. It is the internal working representation used by ICP; the
// public FittedBowlMesh exposes the rotation/translation half as a
// spatialmath.Pose once fitting is done.
type rigidTransform struct {
	R     *mat.Dense // 3x3 rotation
	T     r3.Vector
	Scale float64
}

func identityTransform() rigidTransform {
	return rigidTransform{R: identity3(), T: r3.Vector{}, Scale: 1}
}

// SceneCentroid returns the arithmetic mean of scene's points.
func SceneCentroid(scene PointCloud) r3.Vector {
	pts := pointcloud.CloudToPoints(scene)
	var c r3.Vector
	for _, p := range pts {
		c = c.Add(p)
	}
	if len(pts) == 0 {
		return c
	}
	return c.Mul(1.0 / float64(len(pts)))
}

// DefaultInitialPose builds the ICP seed spec.md §4.C describes when the
// caller supplies no pose hint: identity rotation, translated so the
// canonical mesh's rim centroid — at the origin after Canonicalize —
// lands on sceneCentroid. FitBowl overwrites the Scale field with the
// rim-ratio scale, so it is left at identityTransform's 1 here.
func DefaultInitialPose(sceneCentroid r3.Vector) rigidTransform {
	t := identityTransform()
	t.T = sceneCentroid
	return t
}

// SeedFromPose converts a caller-supplied initial pose hint (spec.md
// §4.C's "optionally allow a caller-supplied 4x4 seed") into the internal
// ICP seed representation. FitBowl overwrites the Scale field.
func SeedFromPose(p spatialmath.Pose) rigidTransform {
	rm := p.Orientation().RotationMatrix()
	r := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		row := rm.Row(i)
		r.Set(i, 0, row.X)
		r.Set(i, 1, row.Y)
		r.Set(i, 2, row.Z)
	}
	return rigidTransform{R: r, T: p.Point(), Scale: 1}
}

func identity3() *mat.Dense {
	m := mat.NewDense(3, 3, nil)
	m.Set(0, 0, 1)
	m.Set(1, 1, 1)
	m.Set(2, 2, 1)
	return m
}

// Apply maps a point from the transform's source frame to its destination frame.
func (t rigidTransform) Apply(p r3.Vector) r3.Vector {
	scaled := p.Mul(t.Scale)
	rotated := mulMatVec(t.R, scaled)
	return rotated.Add(t.T)
}

// ApplyRotation rotates (but does not scale or translate) a direction vector,
// e.g. a surface normal.
func (t rigidTransform) ApplyRotation(v r3.Vector) r3.Vector {
	return mulMatVec(t.R, v)
}

func mulMatVec(m *mat.Dense, v r3.Vector) r3.Vector {
	var out mat.VecDense
	out.MulVec(m, mat.NewVecDense(3, []float64{v.X, v.Y, v.Z}))
	return r3.Vector{X: out.AtVec(0), Y: out.AtVec(1), Z: out.AtVec(2)}
}

// pose returns the transform's rotation+translation as a spatialmath.Pose
// (the scale is not representable in a Pose and is reported separately by
// FittedBowlMesh.Scale).
func (t rigidTransform) pose() spatialmath.Pose {
	return spatialmath.NewPose(t.T, rotationMatrixToOrientation(t.R))
}

// rotationMatrixToOrientation extracts the axis-angle representation of a
// 3x3 rotation matrix via the standard trace/skew-symmetric-part formula.
func rotationMatrixToOrientation(r *mat.Dense) spatialmath.Orientation {
	trace := r.At(0, 0) + r.At(1, 1) + r.At(2, 2)
	cosTheta := (trace - 1) / 2
	cosTheta = math.Max(-1, math.Min(1, cosTheta))
	theta := math.Acos(cosTheta)

	if theta < 1e-9 {
		return &spatialmath.R4AA{Theta: 0, RX: 0, RY: 0, RZ: 1}
	}

	axis := r3.Vector{
		X: r.At(2, 1) - r.At(1, 2),
		Y: r.At(0, 2) - r.At(2, 0),
		Z: r.At(1, 0) - r.At(0, 1),
	}
	norm := axis.Norm()
	if norm < 1e-9 {
		// theta ~ pi: the skew-symmetric part vanishes. Recover the axis from
		// the diagonal of (R + I)/2 instead.
		axis = largestEigenAxisOfRotationNearPi(r)
	} else {
		axis = axis.Mul(1.0 / norm)
	}
	return &spatialmath.R4AA{Theta: theta, RX: axis.X, RY: axis.Y, RZ: axis.Z}
}

func largestEigenAxisOfRotationNearPi(r *mat.Dense) r3.Vector {
	best := 0
	bestVal := -math.MaxFloat64
	for i := 0; i < 3; i++ {
		v := (r.At(i, i) + 1) / 2
		if v > bestVal {
			bestVal = v
			best = i
		}
	}
	// At theta = pi, (R + I)/2 = a*a^T, so its column with the largest
	// diagonal entry is a scaled by a[best]; normalizing recovers the axis.
	col := r3.Vector{X: r.At(0, best), Y: r.At(1, best), Z: r.At(2, best)}
	switch best {
	case 0:
		col.X++
	case 1:
		col.Y++
	default:
		col.Z++
	}
	return col.Normalize()
}

// kabschUmeyama computes the least-squares similarity transform (optionally
// with uniform scale) mapping src onto dst, via SVD of the cross-covariance
// matrix. len(src) must equal len(dst) and both must have at least 3 points.
func kabschUmeyama(src, dst []r3.Vector, withScale bool) (rigidTransform, error) {
	n := len(src)
	if n < 3 || n != len(dst) {
		return rigidTransform{}, fmt.Errorf("kabsch-umeyama: need matching point sets of size >= 3, got %d and %d", n, len(dst))
	}

	var srcMean, dstMean r3.Vector
	for i := range src {
		srcMean = srcMean.Add(src[i])
		dstMean = dstMean.Add(dst[i])
	}
	srcMean = srcMean.Mul(1.0 / float64(n))
	dstMean = dstMean.Mul(1.0 / float64(n))

	var cov [9]float64 // row-major 3x3, cov = sum (dst-dstMean) (src-srcMean)^T
	var srcVar float64
	for i := range src {
		a := src[i].Sub(srcMean)
		b := dst[i].Sub(dstMean)
		cov[0] += b.X * a.X
		cov[1] += b.X * a.Y
		cov[2] += b.X * a.Z
		cov[3] += b.Y * a.X
		cov[4] += b.Y * a.Y
		cov[5] += b.Y * a.Z
		cov[6] += b.Z * a.X
		cov[7] += b.Z * a.Y
		cov[8] += b.Z * a.Z
		srcVar += a.Dot(a)
	}
	for i := range cov {
		cov[i] /= float64(n)
	}
	srcVar /= float64(n)

	covMat := mat.NewDense(3, 3, cov[:])
	var svd mat.SVD
	if !svd.Factorize(covMat, mat.SVDFull) {
		return rigidTransform{}, fmt.Errorf("kabsch-umeyama: SVD failed to converge")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	sv := svd.Values(nil)

	d := mat.NewDiagDense(3, []float64{1, 1, 1})
	var uv mat.Dense
	uv.Mul(&u, v.T())
	if mat.Det(&uv) < 0 {
		d.SetDiag(2, -1)
	}

	var r mat.Dense
	r.Mul(&u, d)
	r.Mul(&r, v.T())

	scale := 1.0
	if withScale {
		if srcVar < 1e-12 {
			return rigidTransform{}, fmt.Errorf("kabsch-umeyama: degenerate source point spread")
		}
		weightedSum := sv[0]*d.At(0, 0) + sv[1]*d.At(1, 1) + sv[2]*d.At(2, 2)
		scale = weightedSum / srcVar
	}

	rotatedScaledSrcMean := mulMatVec(&r, srcMean.Mul(scale))
	t := dstMean.Sub(rotatedScaledSrcMean)

	return rigidTransform{R: &r, T: t, Scale: scale}, nil
}

// gaussNewtonPointToPlaneStep linearizes the point-to-plane objective
// sum_i ((R*src_i + t - dst_i) . n_i)^2 around the identity (small-angle
// rotation vector w, translation t) and solves the resulting 6x6 normal
// equations in closed form. Returns the incremental rotation (as a 3x3
// matrix, via Rodrigues' formula on w) and translation to left-compose onto
// the current estimate.
func gaussNewtonPointToPlaneStep(src, dst, normals []r3.Vector) (*mat.Dense, r3.Vector, error) {
	n := len(src)
	if n < 6 {
		return nil, r3.Vector{}, fmt.Errorf("point-to-plane step: need >= 6 correspondences, got %d", n)
	}

	jtj := mat.NewDense(6, 6, nil)
	jtr := mat.NewVecDense(6, nil)

	for i := 0; i < n; i++ {
		p := src[i]
		q := dst[i]
		nrm := normals[i]

		// Jacobian row of (p x n, n) for the linearized residual.
		cross := p.Cross(nrm)
		row := [6]float64{cross.X, cross.Y, cross.Z, nrm.X, nrm.Y, nrm.Z}
		residual := p.Sub(q).Dot(nrm)

		for a := 0; a < 6; a++ {
			jtr.SetVec(a, jtr.AtVec(a)-row[a]*residual)
			for b := 0; b < 6; b++ {
				jtj.Set(a, b, jtj.At(a, b)+row[a]*row[b])
			}
		}
	}

	for i := 0; i < 6; i++ {
		jtj.Set(i, i, jtj.At(i, i)+1e-8)
	}

	var x mat.VecDense
	if err := x.SolveVec(jtj, jtr); err != nil {
		return nil, r3.Vector{}, fmt.Errorf("point-to-plane step: singular normal equations: %w", err)
	}

	w := r3.Vector{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)}
	dt := r3.Vector{X: x.AtVec(3), Y: x.AtVec(4), Z: x.AtVec(5)}
	return rodriguesMatrix(w), dt, nil
}

// rodriguesMatrix builds the rotation matrix for axis-angle vector w
// (direction = axis, norm = angle in radians) via Rodrigues' formula.
func rodriguesMatrix(w r3.Vector) *mat.Dense {
	theta := w.Norm()
	if theta < 1e-12 {
		return identity3()
	}
	axis := w.Mul(1.0 / theta)
	k := mat.NewDense(3, 3, []float64{
		0, -axis.Z, axis.Y,
		axis.Z, 0, -axis.X,
		-axis.Y, axis.X, 0,
	})
	var k2 mat.Dense
	k2.Mul(k, k)

	r := identity3()
	var sinTerm, cosTerm mat.Dense
	sinTerm.Scale(math.Sin(theta), k)
	cosTerm.Scale(1-math.Cos(theta), &k2)
	r.Add(r, &sinTerm)
	r.Add(r, &cosTerm)
	return r
}
