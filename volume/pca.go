package volume

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/rdk/pointcloud"
)

// pcaBasis is the result of principal component analysis on a point set:
// the centroid, and the three eigenvectors/eigenvalues of the covariance
// matrix in ascending eigenvalue order (axis 0 is the least-variance
// direction — a surface normal when the points are locally planar).
type pcaBasis struct {
	Centroid r3.Vector
	Axes     [3]r3.Vector
	Values   [3]float64
}

// computePCA runs principal component analysis over an arbitrary point set.
// Returns ok=false if fewer than 3 points are given or the covariance
// matrix's eigendecomposition fails to converge.
func computePCA(points []r3.Vector) (pcaBasis, bool) {
	if len(points) < 3 {
		return pcaBasis{}, false
	}

	var centroid r3.Vector
	for _, p := range points {
		centroid = centroid.Add(p)
	}
	n := float64(len(points))
	centroid = r3.Vector{X: centroid.X / n, Y: centroid.Y / n, Z: centroid.Z / n}

	var cov [9]float64 // row-major 3x3
	for _, p := range points {
		d := p.Sub(centroid)
		cov[0] += d.X * d.X
		cov[1] += d.X * d.Y
		cov[2] += d.X * d.Z
		cov[4] += d.Y * d.Y
		cov[5] += d.Y * d.Z
		cov[8] += d.Z * d.Z
	}
	cov[3], cov[6], cov[7] = cov[1], cov[2], cov[5]
	for i := range cov {
		cov[i] /= n
	}

	covMat := mat.NewSymDense(3, cov[:])
	var eigen mat.EigenSym
	if !eigen.Factorize(covMat, true) {
		return pcaBasis{}, false
	}

	vals := eigen.Values(nil)
	var vecs mat.Dense
	eigen.VectorsTo(&vecs)

	basis := pcaBasis{Centroid: centroid, Values: [3]float64{vals[0], vals[1], vals[2]}}
	for col := 0; col < 3; col++ {
		basis.Axes[col] = r3.Vector{X: vecs.At(0, col), Y: vecs.At(1, col), Z: vecs.At(2, col)}
	}
	return basis, true
}

// estimatePointNormal estimates the surface normal and a planarity measure
// (ratio of the smallest to total eigenvalue — near 0 for a flat
// neighborhood, near 1/3 for an isotropic blob) at point from its k nearest
// neighbors in kd. Used by point-to-plane ICP.
func estimatePointNormal(kd *pointcloud.KDTree, point r3.Vector, k int) (normal r3.Vector, planarity float64, ok bool) {
	neighbors := kd.KNearestNeighbors(point, k, true)
	if len(neighbors) < 3 {
		return r3.Vector{}, 0, false
	}
	pts := make([]r3.Vector, len(neighbors))
	for i, nb := range neighbors {
		pts[i] = nb.P
	}
	basis, ok := computePCA(pts)
	if !ok {
		return r3.Vector{}, 0, false
	}
	sum := basis.Values[0] + basis.Values[1] + basis.Values[2]
	if sum < 1e-15 {
		return r3.Vector{}, 0, false
	}
	return basis.Axes[0].Normalize(), basis.Values[0] / sum, true
}
