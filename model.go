package cr2

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Coefficient is an estimated regression coefficient. Valid is false when the
// fitter could not identify it, typically because its column is collinear
// with the others; Value is meaningless in that case.
type Coefficient struct {
	Label string
	Value float64
	Valid bool
}

// CoefficientsFromValues converts a coefficient vector in which undefined
// entries are NaN into Coefficients.
func CoefficientsFromValues(labels []string, values []float64) ([]Coefficient, error) {
	if len(labels) != len(values) {
		return nil, fmt.Errorf("%d labels for %d coefficients: %w", len(labels), len(values), ErrInvalidArgument)
	}
	coeffs := make([]Coefficient, len(values))
	for i, v := range values {
		coeffs[i] = Coefficient{Label: labels[i], Value: v, Valid: !math.IsNaN(v)}
	}
	return coeffs, nil
}

// FittedModel is what the estimator needs from a fitted linear model. All
// per-observation values are aligned by row position.
type FittedModel interface {
	// Design returns the n×k regressor matrix X.
	Design() mat.Matrix
	// WeightedDesign returns the n×k effective regressor matrix Z used in
	// estimation. It equals Design when no weighting was applied.
	WeightedDesign() mat.Matrix
	// Residuals returns the n model residuals.
	Residuals() []float64
	// Coefficients returns the k coefficients in column order.
	Coefficients() []Coefficient
}

// ModelData is a FittedModel over matrices produced elsewhere.
type ModelData struct {
	x, z      mat.Matrix
	residuals []float64
	coeffs    []Coefficient
}

// NewModelData wraps raw fitted-model outputs. A nil z means the model was
// unweighted and z equals x.
func NewModelData(x, z mat.Matrix, residuals []float64, coeffs []Coefficient) *ModelData {
	if z == nil {
		z = x
	}
	return &ModelData{x: x, z: z, residuals: residuals, coeffs: coeffs}
}

func (d *ModelData) Design() mat.Matrix          { return d.x }
func (d *ModelData) WeightedDesign() mat.Matrix  { return d.z }
func (d *ModelData) Residuals() []float64        { return d.residuals }
func (d *ModelData) Coefficients() []Coefficient { return d.coeffs }

// ParamResult : 回帰分析により算出された各パラメータ（定数項を含む）の結果
type ParamResult struct {
	OriginalIndex int     // 元々の説明変数のインデックス（定数項は-1）
	Label         string  // 名称
	Coeff         float64 // 偏回帰係数 B（共線性により除外された場合はNaN）
	Valid         bool    // 推定に用いられたか
	StandardError float64 // 標準誤差（非標準化係数 標準誤差）
	TStat         float64 // t値
	Prob          float64 // 有意確率（p値）
}

// ObservationsAnalysis : 観測値に関する分析結果
type ObservationsAnalysis struct {
	ObjectiveVarsDense           *mat.Dense // 目的変数の観測値の行列
	ExplanatoryVarsDense         *mat.Dense // 説明変数の観測値の行列（先頭列は定数項）
	WeightedExplanatoryVarsDense *mat.Dense // 重み付き説明変数の行列（重みなしの場合は同一）
	Weights                      []float64  // 観測値の重み
	MeanOfObjectiveVars          float64    // 目的変数の観測値の（重み付き）平均
	PredictedVals                []float64  // 予測値
	Residuals                    []float64  // 残差
}

// ANOVA : 分散分析の結果（重み付きの場合は重み付き平方和）
type ANOVA struct {
	RegressionSumOfSquares    float64 // 回帰の平方和
	RegressionDegreeOfFreedom int     // 回帰の自由度
	RegressionMeanOfSquares   float64 // 回帰の平均平方
	RegressionFstat           float64 // 回帰のF値（説明変数がすべて除外された場合はNaN）
	RegressionProb            float64 // 回帰の有意確率
	ResidualSumOfSquares      float64 // 残差の平方和
	ResidualDegreeOfFreedom   int     // 残差の自由度
	ResidualMeanOfSquares     float64 // 残差の平均平方
	TotalSumOfSquares         float64 // 合計の平方和
	TotalDegreeOfFreedom      int     // 合計の自由度
}

// Model : 回帰モデル
type Model struct {
	observationsAnalysis    *ObservationsAnalysis // 観測値に関する分析結果
	NumOfObservations       int                   // 分析に用いた観測値の数
	NumOfParams             int                   // 推定できたパラメータの数（定数項を含む）
	DroppedParamsSet        map[int]struct{}      // 共線性により除外されたパラメータ（Paramsのインデックス）
	Weighted                bool                  // 重み付き最小二乗法か
	UnexplainedVariation    float64               // 残差変動
	ExplainedVariation      float64               // 回帰変動
	TotalVariation          float64               // 全変動
	R2                      float64               // 決定係数
	AdjustedR2              float64               // 自由度調整済み決定係数
	StandardError           float64               // 回帰の標準誤差（推定値の標準偏差）
	ResidualDegreeOfFreedom int                   // 残差の自由度
	ANOVA                   *ANOVA                // 分散分析
	ObjectiveVarLabel       string                // 目的変数の名称
	Params                  []ParamResult         // 各パラメータの分析結果
}

func formatFloatForFormula(f float64) string {
	if f < 0 {
		return fmt.Sprintf(" - %.4f", -f)
	}
	return fmt.Sprintf(" + %.4f", f)
}

// FormulaString : 回帰モデル式を文字列で取得する（除外されたパラメータは含めない）
func (m *Model) FormulaString() string {
	var b strings.Builder
	b.WriteString(m.ObjectiveVarLabel + " =")
	var intercept float64
	for _, p := range m.Params {
		if !p.Valid {
			continue
		}
		if p.OriginalIndex < 0 {
			intercept = p.Coeff
			continue
		}
		b.WriteString(formatFloatForFormula(p.Coeff) + "*" + p.Label)
	}
	b.WriteString(formatFloatForFormula(intercept))
	return b.String()
}

// GetObservationsAnalysis : 観測値に関する分析結果を取得する
func (m *Model) GetObservationsAnalysis() *ObservationsAnalysis {
	return m.observationsAnalysis
}

// Predict calculates the predicted value. vars holds one value per
// explanatory variable; variables dropped for collinearity contribute nothing.
func (m *Model) Predict(vars []float64) (float64, error) {
	coeffs := make([]float64, 0, len(m.Params))
	var intercept float64
	for _, p := range m.Params {
		c := p.Coeff
		if !p.Valid {
			c = 0
		}
		if p.OriginalIndex < 0 {
			intercept = c
			continue
		}
		coeffs = append(coeffs, c)
	}
	return calcPredictedVal(vars, coeffs, intercept)
}

func (m *Model) Design() mat.Matrix { return m.observationsAnalysis.ExplanatoryVarsDense }

func (m *Model) WeightedDesign() mat.Matrix {
	return m.observationsAnalysis.WeightedExplanatoryVarsDense
}

func (m *Model) Residuals() []float64 { return m.observationsAnalysis.Residuals }

func (m *Model) Coefficients() []Coefficient {
	coeffs := make([]Coefficient, len(m.Params))
	for i, p := range m.Params {
		coeffs[i] = Coefficient{Label: p.Label, Value: p.Coeff, Valid: p.Valid}
	}
	return coeffs
}
