package cr2

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrNotEnoughObservations signals that there weren't enough observations to train the model.
	ErrNotEnoughObservations = errors.New("not enough observations")
	// ErrTooManyExplanatoryVars signals that there are too many explanatory variables for the number of observations being made.
	ErrTooManyExplanatoryVars = errors.New("not enough observations to support this many explanatory variables")
	// ErrNoExplanatoryVars signals that there is no explanatory variables to train the model.
	ErrNoExplanatoryVars = errors.New("no explanatory variables to train the models")
	// ErrInvalidArgument signals that any of given arguments to call the function was invalid.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAlignment signals that per-observation inputs do not line up with the model's rows.
	ErrAlignment = errors.New("alignment error")
	// ErrSingularCluster signals that a cluster's residual covariance or adjustment block cannot be factorized or inverted.
	ErrSingularCluster = errors.New("singular cluster")
	// ErrDimension signals that a term of the variance assembly is not conformable.
	ErrDimension = errors.New("dimension mismatch")
	// ErrNegativeVariance signals that the assembled covariance has a negative
	// or non-finite diagonal entry.
	ErrNegativeVariance = errors.New("negative variance")

	ErrNearSingular    = &ConditionError{isExactlySingular: false}
	ErrExactlySingular = &ConditionError{isExactlySingular: true}
)

// ConditionError reports an ill-conditioned weighted cross product Zᵗ W Z.
// The estimator keeps going through the pseudo-inverse and returns it as a
// warning, not as a failure.
type ConditionError struct {
	err               error
	isExactlySingular bool
	Condition         float64 // 2-ノルム条件数
	Hint              *ConditionErrorHint
}

func (e ConditionError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e ConditionError) Is(err error) bool {
	if condErr, ok := err.(*ConditionError); ok {
		return e.isExactlySingular == condErr.isExactlySingular
	}
	return false
}

func (e ConditionError) Unwrap() error {
	return e.err
}

func newConditionError(cond float64, rankDeficient bool, hint *ConditionErrorHint) *ConditionError {
	return &ConditionError{
		err:               fmt.Errorf("ill-conditioned weighted cross product: %w", mat.Condition(cond)),
		isExactlySingular: rankDeficient || math.IsInf(cond, 1),
		Condition:         cond,
		Hint:              hint,
	}
}

func wrapAsConditionError(err error, hint *ConditionErrorHint) *ConditionError {
	var cond mat.Condition
	errors.As(err, &cond)
	return &ConditionError{
		err:               err,
		isExactlySingular: math.IsInf(float64(cond), 1),
		Condition:         float64(cond),
		Hint:              hint,
	}
}

type ConditionErrorHint struct {
	Params []ParamHint
}

type ParamHint struct {
	OriginalIndex int     // 元々のインデックス
	Label         string  // 名称
	Coeff         float64 // 偏回帰係数 B
	VIF           float64 // 共線性の統計量 VIF（定数列はNaN）
}

// newParamHints computes a variance inflation factor for every column of z
// from the inverse of its correlation matrix. Constant columns, such as the
// intercept, get NaN.
func newParamHints(z mat.Matrix, coeffs []Coefficient, originalIndexes []int) []ParamHint {
	n, k := z.Dims()
	hints := make([]ParamHint, k)
	for j := range hints {
		hints[j] = ParamHint{
			OriginalIndex: originalIndexes[j],
			Label:         coeffs[j].Label,
			Coeff:         coeffs[j].Value,
			VIF:           math.NaN(),
		}
	}

	var varying []int
	for j := 0; j < k; j++ {
		col := mat.Col(nil, j, z)
		if _, sd := stat.MeanStdDev(col, nil); sd > 0 {
			varying = append(varying, j)
		}
	}
	if len(varying) == 0 {
		return hints
	}
	if len(varying) == 1 {
		hints[varying[0]].VIF = 1
		return hints
	}

	sub := mat.NewDense(n, len(varying), nil)
	for c, j := range varying {
		sub.SetCol(c, mat.Col(nil, j, z))
	}
	corr := new(mat.SymDense)
	stat.CorrelationMatrix(corr, sub, nil)

	corrInv := new(mat.Dense)
	if err := corrInv.Inverse(corr); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			for _, j := range varying {
				hints[j].VIF = math.Inf(1)
			}
			return hints
		}
	}
	for c, j := range varying {
		hints[j].VIF = corrInv.At(c, c)
	}
	return hints
}

// AlignmentError is returned when a per-observation input does not have one
// entry per model row.
type AlignmentError struct {
	What string // 対象（"cluster ids", "residuals" など）
	Want int
	Got  int
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("alignment error: %s has %d rows, model has %d", e.What, e.Got, e.Want)
}

func (e *AlignmentError) Is(err error) bool { return err == ErrAlignment }

// SingularClusterError is returned when a cluster's residual covariance is not
// positive definite under the configured policy.
type SingularClusterError struct {
	ClusterID string
	Size      int
	Reason    string
}

func (e *SingularClusterError) Error() string {
	return fmt.Sprintf("singular cluster %q (%d observations): %s", e.ClusterID, e.Size, e.Reason)
}

func (e *SingularClusterError) Is(err error) bool { return err == ErrSingularCluster }

// SingularBlockError is returned when a cluster's adjustment block cannot be inverted.
type SingularBlockError struct {
	ClusterID string
	Block     string // "Di'Di" or "Bi"
	err       error
}

func (e *SingularBlockError) Error() string {
	return fmt.Sprintf("cannot invert %s of cluster %q: %v", e.Block, e.ClusterID, e.err)
}

func (e *SingularBlockError) Is(err error) bool { return err == ErrSingularCluster }

func (e *SingularBlockError) Unwrap() error { return e.err }

// DimensionError is returned when a term cannot be conformed to the n×n
// observation space.
type DimensionError struct {
	Term string
	Rows int
	Cols int
	Want int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension mismatch in %s: got %dx%d, want %dx%d", e.Term, e.Rows, e.Cols, e.Want, e.Want)
}

func (e *DimensionError) Is(err error) bool { return err == ErrDimension }

// NegativeVarianceError is returned when the assembled covariance has a
// negative, NaN or infinite diagonal entry, whose standard error would be
// undefined.
type NegativeVarianceError struct {
	Label    string
	Variance float64
}

func (e *NegativeVarianceError) Error() string {
	if e.Variance < 0 {
		return fmt.Sprintf("negative variance %g for %s", e.Variance, e.Label)
	}
	return fmt.Sprintf("undefined variance %g for %s", e.Variance, e.Label)
}

func (e *NegativeVarianceError) Is(err error) bool { return err == ErrNegativeVariance }
