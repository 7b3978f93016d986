package cr2

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/anyappinc/cr2/logger"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// InterceptLabel is the label of the constant term, always the first parameter.
const InterceptLabel = "Intercept"

// collinearityTolerance : Rの対角成分が列のノルムに対してこれ以下なら、その列は先行する列の線形結合とみなす
const collinearityTolerance = 1e-10

type observation struct {
	objectiveVar    float64   // 目的変数
	explanatoryVars []float64 // 説明変数
	weight          float64   // 重み
}

// NewObservation creates a well formed *observation used for training.
func NewObservation(o float64, es []float64) *observation {
	return &observation{objectiveVar: o, explanatoryVars: es, weight: 1}
}

// NewWeightedObservation creates an observation carrying a positive
// regression weight. A model with any weighted observation is fitted by
// weighted least squares.
func NewWeightedObservation(o float64, es []float64, w float64) *observation {
	return &observation{objectiveVar: o, explanatoryVars: es, weight: w}
}

func calcPredictedVal(observations []float64, coeffs []float64, intercept float64) (float64, error) {
	if len(observations) != len(coeffs) {
		return 0, ErrInvalidArgument
	}
	var p float64
	for i, obs := range observations {
		p += obs * coeffs[i]
	}
	return p + intercept, nil
}

// Regression fits the linear models whose standard errors the estimator adjusts.
type Regression struct {
	objectiveVars           []float64      // 目的変数の観測値
	objectiveVarLabel       *string        // 目的変数の名称
	explanatoryVarsMatrix   [][]float64    // 説明変数、各行が1説明変数、各列に説明変数ごとの観測値
	explanatoryVarsLabelMap map[int]string // 説明変数の名称
	weights                 []float64      // 観測値の重み
	weighted                bool           // 重み付きの観測値を含むか
}

// NewRegression initializes the structure and returns it for interacting with regression APIs.
func NewRegression() *Regression {
	return &Regression{
		explanatoryVarsLabelMap: map[int]string{},
	}
}

// SetObjectiveVariableLabel sets the label of the objective variable.
func (r *Regression) SetObjectiveVariableLabel(label string) {
	r.objectiveVarLabel = &label
}

// GetObjectiveVariableLabel gets the label of the objective variable.
func (r *Regression) GetObjectiveVariableLabel() string {
	if r.objectiveVarLabel == nil {
		return "Y"
	}
	return *r.objectiveVarLabel
}

// SetExplanatoryVariableLabel sets the label of i-th explanatory variable.
func (r *Regression) SetExplanatoryVariableLabel(i int, label string) {
	r.explanatoryVarsLabelMap[i] = label
}

// GetExplanatoryVariableLabel gets the label of i-th explanatory variable.
func (r *Regression) GetExplanatoryVariableLabel(i int) string {
	label, ok := r.explanatoryVarsLabelMap[i]
	if !ok {
		return "X" + strconv.Itoa(i)
	}
	return label
}

// AddObservations adds observations.
func (r *Regression) AddObservations(observations ...*observation) error {
	if observations == nil {
		return nil
	}
	numOfExplanatoryVars := len(observations[0].explanatoryVars)
	if numOfExplanatoryVars == 0 {
		return ErrInvalidArgument
	}
	// すべての観測値の説明変数の数が一致していること、重みが正であることを確認
	for _, obs := range observations {
		if len(obs.explanatoryVars) != numOfExplanatoryVars {
			return ErrInvalidArgument
		}
		if !(obs.weight > 0) || math.IsInf(obs.weight, 1) {
			return fmt.Errorf("weight %v: %w", obs.weight, ErrInvalidArgument)
		}
	}
	if r.explanatoryVarsMatrix != nil {
		// 観測値の説明変数の数と既にセットされている説明変数の数が一致していることを確認
		if numOfExplanatoryVars != len(r.explanatoryVarsMatrix) {
			return ErrInvalidArgument
		}
	} else {
		// 初期化
		r.explanatoryVarsMatrix = make([][]float64, numOfExplanatoryVars)
	}

	for _, obs := range observations {
		r.objectiveVars = append(r.objectiveVars, obs.objectiveVar)
		r.weights = append(r.weights, obs.weight)
		if obs.weight != 1 {
			r.weighted = true
		}
		for i, ev := range obs.explanatoryVars {
			r.explanatoryVarsMatrix[i] = append(r.explanatoryVarsMatrix[i], ev)
		}
	}
	return nil
}

// ValidateExplanatoryVars returns indexes of invalid explanatory variables.
// It considers an explanatory variable is not valid if is has all same observed values.
func (r *Regression) ValidateExplanatoryVars() []int {
	var invalidExplanatoryVarIndexes []int

EACH_EXPVAR:
	for i := range r.explanatoryVarsMatrix {
		if len(r.explanatoryVarsMatrix[i]) == 0 {
			continue
		}

		for j := range r.explanatoryVarsMatrix[i][1:] {
			if r.explanatoryVarsMatrix[i][0] != r.explanatoryVarsMatrix[i][j+1] {
				continue EACH_EXPVAR
			}
		}

		invalidExplanatoryVarIndexes = append(invalidExplanatoryVarIndexes, i)
	}

	return invalidExplanatoryVarIndexes
}

// Run fits the model by (weighted) least squares using QR decomposition.
// Columns that are linear combinations of the preceding ones are dropped and
// reported as invalid parameters instead of failing the fit.
func (r *Regression) Run() (*Model, error) {
	numOfObservations := len(r.objectiveVars)
	if numOfObservations <= 2 {
		return nil, ErrNotEnoughObservations
	}
	numOfExplanatoryVars := len(r.explanatoryVarsMatrix)
	if numOfExplanatoryVars == 0 {
		return nil, ErrNoExplanatoryVars
	}
	numOfParams := numOfExplanatoryVars + 1 // +1: 定数項
	if numOfParams >= numOfObservations {
		return nil, ErrTooManyExplanatoryVars
	}

	labels := make([]string, numOfParams)
	labels[0] = InterceptLabel
	for i := 0; i < numOfExplanatoryVars; i++ {
		labels[i+1] = r.GetExplanatoryVariableLabel(i)
	}

	objectiveVarsDense := mat.NewDense(numOfObservations, 1, append([]float64(nil), r.objectiveVars...))
	explanatoryVarsDense := mat.NewDense(numOfObservations, numOfParams, nil)
	for i := 0; i < numOfObservations; i++ {
		explanatoryVarsDense.Set(i, 0, 1) // 定数項を1で初期化する
	}
	for idx, ev := range r.explanatoryVarsMatrix {
		explanatoryVarsDense.SetCol(idx+1, ev) // 転置する
	}

	// 重み付き最小二乗法では各行に√wを掛けた行列で推定する
	weightedExplanatoryVarsDense, weightedObjectiveVars := explanatoryVarsDense, mat.NewVecDense(numOfObservations, append([]float64(nil), r.objectiveVars...))
	if r.weighted {
		sqrtW := make([]float64, numOfObservations)
		for i, w := range r.weights {
			sqrtW[i] = math.Sqrt(w)
		}
		weightedExplanatoryVarsDense = new(mat.Dense)
		weightedExplanatoryVarsDense.Mul(mat.NewDiagDense(numOfObservations, sqrtW), explanatoryVarsDense)
		weightedObjectiveVars.MulElemVec(weightedObjectiveVars, mat.NewVecDense(numOfObservations, sqrtW))
	}

	// 共線性のある列を検出する
	// ピボットなしのQR分解のR_jjは、j列目から先行する列の成分を除いた残りのノルムに等しい
	kept, dropped := detectCollinearColumns(weightedExplanatoryVarsDense)
	for idx, label := range labels {
		if _, ok := dropped[idx]; ok {
			logger.Warn.Printf("Drop %s: collinear with preceding columns", label)
		}
	}

	keptDense := mat.NewDense(numOfObservations, len(kept), nil)
	for c, idx := range kept {
		keptDense.SetCol(c, mat.Col(nil, idx, weightedExplanatoryVarsDense))
	}

	// 偏回帰係数を算出する
	qr, qrQ, qrR, qTY := new(mat.QR), new(mat.Dense), new(mat.Dense), new(mat.VecDense)
	qr.Factorize(keptDense)
	qr.QTo(qrQ) // 直交行列 Q
	qr.RTo(qrR) // 上三角行列 R
	qTY.MulVec(qrQ.T(), weightedObjectiveVars)
	// ここで`qrR`は上三角行列なので
	// 後退代入で各係数を算出することができる
	keptCoeffs := make([]float64, len(kept))
	for i := len(keptCoeffs) - 1; i >= 0; i-- {
		keptCoeffs[i] = qTY.AtVec(i)
		for j := i + 1; j < len(keptCoeffs); j++ {
			keptCoeffs[i] -= keptCoeffs[j] * qrR.At(i, j)
		}
		keptCoeffs[i] /= qrR.At(i, i)
	}

	coeffs := make([]float64, numOfParams)
	for idx := range coeffs {
		coeffs[idx] = math.NaN()
	}
	for c, idx := range kept {
		coeffs[idx] = keptCoeffs[c]
	}

	// 予測値と残差（重みなしのスケール）
	predictedVals, residuals := make([]float64, numOfObservations), make([]float64, numOfObservations)
	for i := range predictedVals {
		row := explanatoryVarsDense.RawRowView(i)
		for _, idx := range kept {
			predictedVals[i] += row[idx] * coeffs[idx]
		}
		residuals[i] = r.objectiveVars[i] - predictedVals[i]
	}

	// 変動
	meanOfObjectiveVars := stat.Mean(r.objectiveVars, r.weights)
	var unexplainedVariation, explainedVariation float64
	for i, residual := range residuals {
		unexplainedVariation += r.weights[i] * residual * residual
		d := predictedVals[i] - meanOfObjectiveVars
		explainedVariation += r.weights[i] * d * d
	}
	totalVariation := unexplainedVariation + explainedVariation
	r2 := 1 - unexplainedVariation/totalVariation

	// 自由度
	totalDegreeOfFreedom := float64(numOfObservations - 1)
	residualDegreeOfFreedom := float64(numOfObservations - len(kept))
	adjustedR2 := 1 - (unexplainedVariation/residualDegreeOfFreedom)/(totalVariation/totalDegreeOfFreedom)

	// 回帰の標準誤差（推定値の標準偏差）
	standardError := math.Sqrt(unexplainedVariation / residualDegreeOfFreedom)

	// F検定（定数項のみの場合は検定できない）
	regressionDegreeOfFreedom := float64(len(kept) - 1)
	regressionFstat, regressionProb := math.NaN(), math.NaN()
	if regressionDegreeOfFreedom > 0 {
		regressionFstat = (explainedVariation / regressionDegreeOfFreedom) / (unexplainedVariation / residualDegreeOfFreedom)
		regressionProb = distuv.F{
			D1: regressionDegreeOfFreedom,
			D2: residualDegreeOfFreedom,
		}.Survival(regressionFstat)
	}

	// (Z'Z)^-1 = R^-1 (R^-1)'
	rInv := new(mat.Dense)
	if err := rInv.Inverse(qrR.Slice(0, len(kept), 0, len(kept))); err != nil {
		e := fmt.Errorf("cannot inverse a matrix(R): %w", err)

		logger.Err.Println(e)

		var cond mat.Condition
		if errors.As(e, &cond) {
			return nil, wrapAsConditionError(e, &ConditionErrorHint{
				Params: newParamHints(keptDense, keptCoefficients(labels, coeffs, kept), kept),
			})
		}

		return nil, e
	}
	cov := new(mat.Dense)
	cov.Mul(rInv, rInv.T())

	tDistribution := distuv.StudentsT{
		Mu:    0,
		Sigma: 1,
		Nu:    residualDegreeOfFreedom,
	}
	params := make([]ParamResult, numOfParams)
	for idx := range params {
		params[idx] = ParamResult{
			OriginalIndex: idx - 1,
			Label:         labels[idx],
			Coeff:         coeffs[idx],
			StandardError: math.NaN(),
			TStat:         math.NaN(),
			Prob:          math.NaN(),
		}
	}
	for c, idx := range kept {
		se := standardError * math.Sqrt(cov.At(c, c))
		tstat := coeffs[idx] / se
		params[idx].Valid = true
		params[idx].StandardError = se
		params[idx].TStat = tstat
		params[idx].Prob = tDistribution.Survival(math.Abs(tstat)) * 2
	}

	logger.Info.Printf("Completed: Number of parameters = %d (%d dropped)", len(kept), len(dropped))

	return &Model{
		observationsAnalysis: &ObservationsAnalysis{
			ObjectiveVarsDense:           objectiveVarsDense,
			ExplanatoryVarsDense:         explanatoryVarsDense,
			WeightedExplanatoryVarsDense: weightedExplanatoryVarsDense,
			Weights:                      append([]float64(nil), r.weights...),
			MeanOfObjectiveVars:          meanOfObjectiveVars,
			PredictedVals:                predictedVals,
			Residuals:                    residuals,
		},
		NumOfObservations:       numOfObservations,
		NumOfParams:             len(kept),
		DroppedParamsSet:        dropped,
		Weighted:                r.weighted,
		UnexplainedVariation:    unexplainedVariation,
		ExplainedVariation:      explainedVariation,
		TotalVariation:          totalVariation,
		R2:                      r2,
		AdjustedR2:              adjustedR2,
		StandardError:           standardError,
		ResidualDegreeOfFreedom: int(residualDegreeOfFreedom),
		ANOVA: &ANOVA{
			RegressionSumOfSquares:    explainedVariation,
			RegressionDegreeOfFreedom: int(regressionDegreeOfFreedom),
			RegressionMeanOfSquares:   explainedVariation / regressionDegreeOfFreedom,
			RegressionFstat:           regressionFstat,
			RegressionProb:            regressionProb,
			ResidualSumOfSquares:      unexplainedVariation,
			ResidualDegreeOfFreedom:   int(residualDegreeOfFreedom),
			ResidualMeanOfSquares:     unexplainedVariation / residualDegreeOfFreedom,
			TotalSumOfSquares:         totalVariation,
			TotalDegreeOfFreedom:      int(totalDegreeOfFreedom),
		},
		ObjectiveVarLabel:       r.GetObjectiveVariableLabel(),
		Params:                  params,
	}, nil
}

// detectCollinearColumns returns the indexes of the columns of d kept for
// estimation, in order, and the set of dropped ones.
func detectCollinearColumns(d *mat.Dense) ([]int, map[int]struct{}) {
	_, cols := d.Dims()
	qr, qrR := new(mat.QR), new(mat.Dense)
	qr.Factorize(d)
	qr.RTo(qrR)

	var kept []int
	dropped := map[int]struct{}{}
	for j := 0; j < cols; j++ {
		norm := floats.Norm(mat.Col(nil, j, d), 2)
		if norm == 0 || math.Abs(qrR.At(j, j)) <= collinearityTolerance*norm {
			dropped[j] = struct{}{}
			continue
		}
		kept = append(kept, j)
	}
	return kept, dropped
}

func keptCoefficients(labels []string, coeffs []float64, kept []int) []Coefficient {
	out := make([]Coefficient, len(kept))
	for c, idx := range kept {
		out[c] = Coefficient{Label: labels[idx], Value: coeffs[idx], Valid: true}
	}
	return out
}
