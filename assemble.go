package cr2

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// AdjustmentLayout decides how the per-cluster scalars A_i are conformed to
// the n×n observation space of the first correction term
// Mz·Zᵗ·W·A·W·Z·Mz.
type AdjustmentLayout int

const (
	// LayoutStrict uses A as diag(A) only when it has one entry per
	// observation, which happens when every cluster is a single observation
	// under SingularClusterRegularize, and returns a DimensionError otherwise.
	LayoutStrict AdjustmentLayout = iota
	// LayoutBlockDiagonal embeds A_i·I_{n_i} on the rows of cluster i, the
	// same block treatment the B_i receive.
	LayoutBlockDiagonal
)

// String returns the configuration name of the layout.
func (l AdjustmentLayout) String() string {
	switch l {
	case LayoutStrict:
		return "strict"
	case LayoutBlockDiagonal:
		return "block"
	}
	return fmt.Sprintf("AdjustmentLayout(%d)", int(l))
}

// leverageMatrix conforms A to n×n under the given layout.
func leverageMatrix(clusters []Cluster, a []float64, n int, layout AdjustmentLayout) (*mat.DiagDense, error) {
	switch layout {
	case LayoutStrict:
		if len(a) != n {
			return nil, &DimensionError{Term: "first correction term (A)", Rows: len(a), Cols: 1, Want: n}
		}
	case LayoutBlockDiagonal:
	default:
		return nil, fmt.Errorf("unknown adjustment layout %v: %w", layout, ErrInvalidArgument)
	}

	diag := make([]float64, n)
	for i, c := range clusters {
		for _, row := range c.Rows {
			diag[row] = a[i]
		}
	}
	return mat.NewDiagDense(n, diag), nil
}

// blockInverse assembles Σ C_iᵗ·B_i⁻¹·C_i, the inverse of the block-diagonal
// matrix of the B_i laid out on the observation rows of each cluster.
//
// The blocks follow the rows of W, Z and e. This equals a contiguous
// block_diag(B_1⁻¹, ..., B_m⁻¹) in cluster order only when the rows are
// grouped by cluster and the clusters appear in sorted id order; for
// interleaved rows the two layouts give different results, and this one is
// the layout consistent with the other terms.
func blockInverse(clusters []Cluster, adjustments []*clusterAdjustment, n int) *mat.Dense {
	b := mat.NewDense(n, n, nil)
	for i, c := range clusters {
		bInv := adjustments[i].bInv
		for p, row := range c.Rows {
			for q, col := range c.Rows {
				b.Set(row, col, bInv.At(p, q))
			}
		}
	}
	return b
}

// sandwich returns left·meat·right.
func sandwich(left mat.Matrix, meat mat.Matrix, right mat.Matrix) *mat.Dense {
	tmp := new(mat.Dense)
	tmp.Mul(left, meat)
	out := new(mat.Dense)
	out.Mul(tmp, right)
	return out
}

// assemble sums the naive sandwich term and the two correction terms into
// V_CR2 and symmetrizes it.
func assemble(br *biasReduction, residuals []float64, a *mat.DiagDense, bInv *mat.Dense) *mat.SymDense {
	e2 := make([]float64, len(residuals))
	floats.MulTo(e2, residuals, residuals)

	v := sandwich(br.left, mat.NewDiagDense(len(e2), e2), br.right)
	v.Add(v, sandwich(br.left, a, br.right))
	v.Add(v, sandwich(br.left, bInv, br.right))

	k, _ := v.Dims()
	sym := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			sym.SetSym(i, j, (v.At(i, j)+v.At(j, i))/2)
		}
	}
	return sym
}

// standardErrors takes the square root of the diagonal of v. A negative
// variance is reported instead of producing NaN.
func standardErrors(v mat.Symmetric, labels []string) ([]float64, error) {
	k, _ := v.Dims()
	ses := make([]float64, k)
	for i := range ses {
		d := v.At(i, i)
		if !(d >= 0) || math.IsInf(d, 1) {
			return nil, &NegativeVarianceError{Label: labels[i], Variance: d}
		}
		ses[i] = math.Sqrt(d)
	}
	return ses, nil
}
