package cr2

import (
	"fmt"
	"math"
	"runtime"

	"github.com/anyappinc/cr2/logger"
	"gonum.org/v1/gonum/mat"
)

const (
	// DefaultRidge is the relative ridge added to a cluster's residual
	// covariance under SingularClusterRegularize.
	DefaultRidge = 1e-6
	// DefaultConditionThreshold is the condition number of Zᵗ W Z above which
	// a ConditionError warning is attached to the result.
	DefaultConditionThreshold = 1e10
)

// StandardError : パラメータごとのロバスト標準誤差（Validがfalseの場合、係数が未定義）
type StandardError struct {
	Label string
	Value float64
	Valid bool
}

// Result is the outcome of a CR2 estimation.
type Result struct {
	// StandardErrors has one entry per coefficient, in coefficient order.
	StandardErrors []StandardError
	// Covariance is V_CR2 over the valid coefficients, in the order of
	// CovarianceLabels.
	Covariance       *mat.SymDense
	CovarianceLabels []string
	// Clusters is the partition in the block order used for the estimate.
	Clusters []Cluster
	// Warnings holds non-fatal diagnostics such as a *ConditionError.
	Warnings []error
}

// StandardErrorMap returns the standard errors by label, NaN for undefined
// coefficients.
func (r *Result) StandardErrorMap() map[string]float64 {
	m := make(map[string]float64, len(r.StandardErrors))
	for _, se := range r.StandardErrors {
		if !se.Valid {
			m[se.Label] = math.NaN()
			continue
		}
		m[se.Label] = se.Value
	}
	return m
}

// Estimator computes CR2 cluster-robust standard errors.
type Estimator struct {
	policy             SingularClusterPolicy // 正定値でないクラスタの扱い
	ridge              float64               // 正則化の係数
	layout             AdjustmentLayout      // A の配置
	concurrency        int                   // 同時に処理するクラスタ数
	conditionThreshold float64               // 警告を出す条件数
}

// NewEstimator returns an Estimator with the default settings: singular
// clusters fail, the first correction term is strict about dimensions.
func NewEstimator() *Estimator {
	return &Estimator{
		policy:             SingularClusterFail,
		ridge:              DefaultRidge,
		layout:             LayoutStrict,
		concurrency:        runtime.GOMAXPROCS(0),
		conditionThreshold: DefaultConditionThreshold,
	}
}

// SetSingularClusterPolicy sets how non positive definite clusters are handled.
func (e *Estimator) SetSingularClusterPolicy(p SingularClusterPolicy) error {
	if p != SingularClusterFail && p != SingularClusterRegularize {
		return fmt.Errorf("singular cluster policy %v: %w", p, ErrInvalidArgument)
	}
	e.policy = p
	return nil
}

// SetRidge sets the relative ridge used by SingularClusterRegularize.
func (e *Estimator) SetRidge(ridge float64) error {
	if !(ridge > 0) || math.IsInf(ridge, 1) {
		return fmt.Errorf("ridge %v: %w", ridge, ErrInvalidArgument)
	}
	e.ridge = ridge
	return nil
}

// SetAdjustmentLayout sets how the per-cluster scalars enter the first correction term.
func (e *Estimator) SetAdjustmentLayout(l AdjustmentLayout) error {
	if l != LayoutStrict && l != LayoutBlockDiagonal {
		return fmt.Errorf("adjustment layout %v: %w", l, ErrInvalidArgument)
	}
	e.layout = l
	return nil
}

// SetConcurrency bounds the number of clusters processed at once. Values
// below one reset it to GOMAXPROCS.
func (e *Estimator) SetConcurrency(n int) {
	if n < 1 {
		n = runtime.GOMAXPROCS(0)
	}
	e.concurrency = n
}

// SetConditionThreshold sets the condition number of Zᵗ W Z above which a
// warning is emitted.
func (e *Estimator) SetConditionThreshold(threshold float64) error {
	if !(threshold >= 1) {
		return fmt.Errorf("condition threshold %v: %w", threshold, ErrInvalidArgument)
	}
	e.conditionThreshold = threshold
	return nil
}

// Estimate computes the CR2 covariance of the model's coefficients with
// observations grouped by clusterIDs, which must hold one id per model row.
func (e *Estimator) Estimate(model FittedModel, clusterIDs []string) (*Result, error) {
	if model == nil || model.Design() == nil {
		err := fmt.Errorf("model without design matrix: %w", ErrInvalidArgument)
		logger.Err.Println(err)
		return nil, err
	}
	n, _ := model.Design().Dims()
	clusters, err := Partition(clusterIDs, n)
	if err != nil {
		logger.Err.Println(err)
		return nil, err
	}
	return e.EstimateClusters(model, clusters)
}

// EstimateClusters is Estimate for a partition built beforehand, for
// instance by PartitionInts. The clusters must cover every row exactly once.
func (e *Estimator) EstimateClusters(model FittedModel, clusters []Cluster) (*Result, error) {
	in, err := newEstimationInput(model)
	if err != nil {
		logger.Err.Println(err)
		return nil, err
	}
	if err := validatePartition(clusters, in.n); err != nil {
		logger.Err.Println(err)
		return nil, err
	}

	res, err := e.estimate(in, clusters)
	if err != nil {
		logger.Err.Println(err)
		return nil, err
	}
	return res, nil
}

func (e *Estimator) estimate(in *estimationInput, clusters []Cluster) (*Result, error) {
	var warnings []error

	w := clusterWeights(clusters, in.n)

	br, err := newBiasReduction(in.z, w)
	if err != nil {
		return nil, err
	}
	if k := len(in.valid); br.cond > e.conditionThreshold || br.rank < k {
		condErr := newConditionError(br.cond, br.rank < k, &ConditionErrorHint{
			Params: newParamHints(in.z, in.validCoefficients(), in.valid),
		})
		logger.Warn.Printf("%v (rank %d of %d); standard errors may be unreliable", condErr, br.rank, k)
		warnings = append(warnings, condErr)
	}

	hzx := new(mat.Dense)
	hzx.Mul(br.hz, in.x)

	ad := &adjuster{
		n:      in.n,
		x:      in.x,
		hzx:    hzx,
		w:      w,
		beta:   in.beta,
		resid:  mat.NewVecDense(in.n, in.residuals),
		policy: e.policy,
		ridge:  e.ridge,
	}
	adjustments, err := ad.adjustAll(clusters, e.concurrency)
	if err != nil {
		return nil, err
	}

	a := make([]float64, len(clusters))
	minRidge, maxRidge := math.Inf(1), math.Inf(-1)
	for i, adj := range adjustments {
		a[i] = adj.a
		warnings = append(warnings, adj.warnings...)
		minRidge = math.Min(minRidge, adj.ridge)
		maxRidge = math.Max(maxRidge, adj.ridge)
	}
	if e.policy == SingularClusterRegularize {
		logger.Warn.Printf("Added λ_i in [%g, %g] to the residual covariance of %d clusters (relative ridge = %g)", minRidge, maxRidge, len(clusters), e.ridge)
	}

	aMat, err := leverageMatrix(clusters, a, in.n, e.layout)
	if err != nil {
		return nil, err
	}
	v := assemble(br, in.residuals, aMat, blockInverse(clusters, adjustments, in.n))

	labels := make([]string, len(in.valid))
	for c, idx := range in.valid {
		labels[c] = in.coeffs[idx].Label
	}
	ses, err := standardErrors(v, labels)
	if err != nil {
		return nil, err
	}

	out := make([]StandardError, len(in.coeffs))
	for idx, coeff := range in.coeffs {
		out[idx] = StandardError{Label: coeff.Label, Value: math.NaN()}
	}
	for c, idx := range in.valid {
		out[idx].Value = ses[c]
		out[idx].Valid = true
	}

	logger.Info.Printf("Completed: Number of clusters = %d, number of parameters = %d", len(clusters), len(in.valid))

	return &Result{
		StandardErrors:   out,
		Covariance:       v,
		CovarianceLabels: labels,
		Clusters:         clusters,
		Warnings:         warnings,
	}, nil
}

// estimationInput : 係数が定義された列に絞り込んだ推定の入力
type estimationInput struct {
	n         int
	coeffs    []Coefficient
	valid     []int         // 係数が定義された列のインデックス
	x         *mat.Dense    // n×k' のX
	z         *mat.Dense    // n×k' のZ
	beta      *mat.VecDense // 定義された係数
	residuals []float64
}

func newEstimationInput(model FittedModel) (*estimationInput, error) {
	x, z, residuals, coeffs := model.Design(), model.WeightedDesign(), model.Residuals(), model.Coefficients()
	if x == nil || z == nil {
		return nil, fmt.Errorf("model without design matrix: %w", ErrInvalidArgument)
	}
	n, k := x.Dims()
	if n == 0 {
		return nil, ErrNotEnoughObservations
	}
	if zr, zc := z.Dims(); zr != n {
		return nil, &AlignmentError{What: "weighted design", Want: n, Got: zr}
	} else if zc != k {
		return nil, fmt.Errorf("weighted design has %d columns, design has %d: %w", zc, k, ErrDimension)
	}
	if len(residuals) != n {
		return nil, &AlignmentError{What: "residuals", Want: n, Got: len(residuals)}
	}
	if len(coeffs) != k {
		return nil, fmt.Errorf("%d coefficients for %d design columns: %w", len(coeffs), k, ErrDimension)
	}

	var valid []int
	for idx, c := range coeffs {
		if !c.Valid {
			continue
		}
		if math.IsNaN(c.Value) || math.IsInf(c.Value, 0) {
			return nil, fmt.Errorf("coefficient %s marked valid with value %v: %w", c.Label, c.Value, ErrInvalidArgument)
		}
		valid = append(valid, idx)
	}
	if len(valid) == 0 {
		return nil, ErrNoExplanatoryVars
	}

	for i, v := range residuals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("residual %d is %v: %w", i, v, ErrInvalidArgument)
		}
	}

	in := &estimationInput{
		n:         n,
		coeffs:    coeffs,
		valid:     valid,
		x:         selectColumns(x, valid),
		z:         selectColumns(z, valid),
		beta:      mat.NewVecDense(len(valid), nil),
		residuals: residuals,
	}
	for c, idx := range valid {
		in.beta.SetVec(c, coeffs[idx].Value)
	}
	if err := checkFinite("design", in.x); err != nil {
		return nil, err
	}
	if err := checkFinite("weighted design", in.z); err != nil {
		return nil, err
	}
	return in, nil
}

// checkFinite rejects NaN and infinite entries, which would otherwise come
// out as NaN standard errors.
func checkFinite(what string, m *mat.Dense) error {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j, v := range m.RawRowView(i)[:c] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%s has %v at row %d, column %d: %w", what, v, i, j, ErrInvalidArgument)
			}
		}
	}
	return nil
}

func (in *estimationInput) validCoefficients() []Coefficient {
	out := make([]Coefficient, len(in.valid))
	for c, idx := range in.valid {
		out[c] = in.coeffs[idx]
	}
	return out
}

func selectColumns(m mat.Matrix, cols []int) *mat.Dense {
	n, _ := m.Dims()
	out := mat.NewDense(n, len(cols), nil)
	for c, idx := range cols {
		out.SetCol(c, mat.Col(nil, idx, m))
	}
	return out
}

// validatePartition checks that clusters cover the rows 0..n-1 exactly once.
func validatePartition(clusters []Cluster, n int) error {
	if len(clusters) == 0 {
		return fmt.Errorf("no clusters: %w", ErrAlignment)
	}
	seen := make([]bool, n)
	var count int
	for _, c := range clusters {
		if c.Size() == 0 {
			return fmt.Errorf("cluster %q is empty: %w", c.ID, ErrAlignment)
		}
		for _, row := range c.Rows {
			if row < 0 || row >= n {
				return fmt.Errorf("cluster %q: row %d out of range [0:%d]: %w", c.ID, row, n, ErrAlignment)
			}
			if seen[row] {
				return fmt.Errorf("cluster %q: row %d already assigned: %w", c.ID, row, ErrAlignment)
			}
			seen[row] = true
			count++
		}
	}
	if count != n {
		return &AlignmentError{What: "clusters", Want: n, Got: count}
	}
	return nil
}
