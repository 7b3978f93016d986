package cr2

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// machineEpsilon is the float64 unit roundoff used for the singular value cutoff.
const machineEpsilon = 0x1p-52

// biasReduction holds the quantities shared by every cluster.
type biasReduction struct {
	mz    *mat.Dense // pinv(Zᵗ W Z), k×k
	hz    *mat.Dense // Z·Mz·Zᵗ·W, n×n
	left  *mat.Dense // Mz·Zᵗ·W, k×n
	right *mat.Dense // W·Z·Mz, n×k
	cond  float64    // Zᵗ W Z の2-ノルム条件数
	rank  int        // Zᵗ W Z の数値ランク
}

// newBiasReduction computes Mz as the Moore-Penrose pseudo-inverse of Zᵗ W Z
// and the hat operator Hz. The pseudo-inverse makes a singular cross product
// yield the minimum-norm solution instead of failing.
func newBiasReduction(z mat.Matrix, w *mat.DiagDense) (*biasReduction, error) {
	zw := new(mat.Dense)
	zw.Mul(z.T(), w)
	ztwz := new(mat.Dense)
	ztwz.Mul(zw, z)

	mz, cond, rank, err := pseudoInverse(ztwz)
	if err != nil {
		return nil, err
	}

	left := new(mat.Dense)
	left.Mul(mz, zw)
	wz := new(mat.Dense)
	wz.Mul(w, z)
	right := new(mat.Dense)
	right.Mul(wz, mz)
	hz := new(mat.Dense)
	hz.Mul(z, left)

	return &biasReduction{mz: mz, hz: hz, left: left, right: right, cond: cond, rank: rank}, nil
}

// pseudoInverse returns pinv(a) = V·Σ⁺·Uᵗ together with the 2-norm
// condition number and numerical rank of a. Singular values at or below
// max(r, c)·eps·σ_max are treated as zero.
func pseudoInverse(a mat.Matrix) (*mat.Dense, float64, int, error) {
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, 0, 0, errors.New("SVD factorization of the weighted cross product failed")
	}
	values := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	r, c := a.Dims()
	tol := float64(max(r, c)) * values[0] * machineEpsilon
	inv := make([]float64, len(values))
	var rank int
	for i, s := range values {
		if s > tol {
			inv[i] = 1 / s
			rank++
		}
	}

	vs := new(mat.Dense)
	vs.Mul(&v, mat.NewDiagDense(len(inv), inv))
	pinv := new(mat.Dense)
	pinv.Mul(vs, u.T())

	cond := math.Inf(1)
	if smallest := values[len(values)-1]; smallest > 0 {
		cond = values[0] / smallest
	}
	return pinv, cond, rank, nil
}
