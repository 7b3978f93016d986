package cr2

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// weightedLine returns the weighted least squares intercept and slope of ys on xs.
func weightedLine(xs, ys, ws []float64) (float64, float64) {
	var sw, mx, my float64
	for i := range xs {
		sw += ws[i]
		mx += ws[i] * xs[i]
		my += ws[i] * ys[i]
	}
	mx /= sw
	my /= sw
	var sxy, sxx float64
	for i := range xs {
		sxy += ws[i] * (xs[i] - mx) * (ys[i] - my)
		sxx += ws[i] * (xs[i] - mx) * (xs[i] - mx)
	}
	slope := sxy / sxx
	return my - slope*mx, slope
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func TestRegressionRun(t *testing.T) {
	model := fitTestModel(t, testXs, testYs, nil)
	intercept, slope := weightedLine(testXs, testYs, ones(len(testXs)))

	require.Len(t, model.Params, 2)
	assert.Equal(t, InterceptLabel, model.Params[0].Label)
	assert.Equal(t, -1, model.Params[0].OriginalIndex)
	assert.InDelta(t, intercept, model.Params[0].Coeff, 1e-10)
	assert.InDelta(t, slope, model.Params[1].Coeff, 1e-10)
	assert.False(t, model.Weighted)
	assert.Empty(t, model.DroppedParamsSet)
	assert.Equal(t, 6, model.NumOfObservations)
	assert.Equal(t, 2, model.NumOfParams)
	assert.Equal(t, 4, model.ResidualDegreeOfFreedom)

	var sum float64
	for i, e := range model.Residuals() {
		assert.InDelta(t, testYs[i]-intercept-slope*testXs[i], e, 1e-10)
		sum += e
	}
	assert.InDelta(t, 0, sum, 1e-10)
	assert.InDelta(t, model.TotalVariation, model.ExplainedVariation+model.UnexplainedVariation, 1e-10)
	assert.True(t, model.R2 > 0.99 && model.R2 <= 1)

	// Classical standard error of the slope: σ/√Sxx.
	var sxx float64
	for _, x := range testXs {
		sxx += (x - 3.5) * (x - 3.5)
	}
	assert.InDelta(t, model.StandardError/math.Sqrt(sxx), model.Params[1].StandardError, 1e-10)
	assert.True(t, model.Params[1].Prob < 1e-4)

	assert.True(t, mat.Equal(model.Design(), model.WeightedDesign()))

	anova := model.ANOVA
	require.NotNil(t, anova)
	assert.Equal(t, 1, anova.RegressionDegreeOfFreedom)
	assert.Equal(t, 4, anova.ResidualDegreeOfFreedom)
	assert.Equal(t, 5, anova.TotalDegreeOfFreedom)
	assert.InDelta(t, anova.RegressionMeanOfSquares/anova.ResidualMeanOfSquares, anova.RegressionFstat, 1e-9)
	// F = t² for a single regressor
	assert.InEpsilon(t, math.Pow(model.Params[1].Coeff/model.Params[1].StandardError, 2), anova.RegressionFstat, 1e-9)
	assert.InEpsilon(t, model.Params[1].Prob, anova.RegressionProb, 1e-6)
}

func TestRegressionWeighted(t *testing.T) {
	ws := []float64{1, 2, 1, 2, 1, 2}
	model := fitTestModel(t, testXs, testYs, ws)
	intercept, slope := weightedLine(testXs, testYs, ws)

	assert.True(t, model.Weighted)
	assert.InDelta(t, intercept, model.Params[0].Coeff, 1e-10)
	assert.InDelta(t, slope, model.Params[1].Coeff, 1e-10)

	oa := model.GetObservationsAnalysis()
	assert.Equal(t, ws, oa.Weights)
	for i := range testXs {
		assert.InDelta(t, math.Sqrt(ws[i])*testXs[i], oa.WeightedExplanatoryVarsDense.At(i, 1), 1e-12)
		assert.Equal(t, testXs[i], oa.ExplanatoryVarsDense.At(i, 1))
		// residuals are on the unweighted scale
		assert.InDelta(t, testYs[i]-intercept-slope*testXs[i], oa.Residuals[i], 1e-10)
	}
}

// TestRegressionCollinear: a column proportional to an earlier one is dropped.
func TestRegressionCollinear(t *testing.T) {
	doubled := make([]float64, len(testXs))
	for i, x := range testXs {
		doubled[i] = 2 * x
	}
	model := fitTestModel(t, testXs, testYs, nil, doubled)
	base := fitTestModel(t, testXs, testYs, nil)

	require.Len(t, model.Params, 3)
	assert.False(t, model.Params[2].Valid)
	assert.True(t, math.IsNaN(model.Params[2].Coeff))
	assert.True(t, math.IsNaN(model.Params[2].StandardError))
	assert.Contains(t, model.DroppedParamsSet, 2)
	assert.Equal(t, 2, model.NumOfParams)
	for i := 0; i < 2; i++ {
		assert.True(t, model.Params[i].Valid)
		assert.InDelta(t, base.Params[i].Coeff, model.Params[i].Coeff, 1e-10)
		assert.InDelta(t, base.Params[i].StandardError, model.Params[i].StandardError, 1e-10)
	}

	coeffs := model.Coefficients()
	assert.False(t, coeffs[2].Valid)
	assert.Equal(t, "xa", coeffs[2].Label)
}

func TestRegressionErrors(t *testing.T) {
	r := NewRegression()
	_, err := r.Run()
	assert.True(t, errors.Is(err, ErrNotEnoughObservations))

	require.NoError(t, r.AddObservations(NewObservation(1, []float64{1, 2}), NewObservation(2, []float64{2, 1}), NewObservation(3, []float64{3, 5})))
	_, err = r.Run()
	assert.True(t, errors.Is(err, ErrTooManyExplanatoryVars))

	assert.True(t, errors.Is(r.AddObservations(NewObservation(1, []float64{1})), ErrInvalidArgument))
	assert.True(t, errors.Is(r.AddObservations(NewObservation(1, nil)), ErrInvalidArgument))
	assert.True(t, errors.Is(r.AddObservations(NewWeightedObservation(1, []float64{1, 2}, 0)), ErrInvalidArgument))
	assert.True(t, errors.Is(r.AddObservations(NewWeightedObservation(1, []float64{1, 2}, math.Inf(1))), ErrInvalidArgument))
	assert.NoError(t, r.AddObservations())
}

func TestRegressionLabels(t *testing.T) {
	r := NewRegression()
	assert.Equal(t, "Y", r.GetObjectiveVariableLabel())
	assert.Equal(t, "X3", r.GetExplanatoryVariableLabel(3))
	r.SetObjectiveVariableLabel("Sales")
	r.SetExplanatoryVariableLabel(3, "Price")
	assert.Equal(t, "Sales", r.GetObjectiveVariableLabel())
	assert.Equal(t, "Price", r.GetExplanatoryVariableLabel(3))
}

func TestValidateExplanatoryVars(t *testing.T) {
	r := NewRegression()
	require.NoError(t, r.AddObservations(
		NewObservation(1, []float64{1, 5, 0}),
		NewObservation(2, []float64{2, 5, 1}),
		NewObservation(3, []float64{3, 5, 0}),
	))
	assert.Equal(t, []int{1}, r.ValidateExplanatoryVars())
}

func TestModelFormulaAndPredict(t *testing.T) {
	model := fitTestModel(t, testXs, testYs, nil)
	intercept, slope := weightedLine(testXs, testYs, ones(len(testXs)))

	assert.Equal(t, "y = + 2.0200*x - 0.0200", model.FormulaString())

	p, err := model.Predict([]float64{10})
	require.NoError(t, err)
	assert.InDelta(t, intercept+10*slope, p, 1e-10)

	_, err = model.Predict([]float64{1, 2})
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

// TestPredictSkipsDroppedParams: a dropped parameter contributes nothing.
func TestPredictSkipsDroppedParams(t *testing.T) {
	doubled := make([]float64, len(testXs))
	for i, x := range testXs {
		doubled[i] = 2 * x
	}
	model := fitTestModel(t, testXs, testYs, nil, doubled)
	intercept, slope := weightedLine(testXs, testYs, ones(len(testXs)))

	p, err := model.Predict([]float64{10, 1000})
	require.NoError(t, err)
	assert.InDelta(t, intercept+10*slope, p, 1e-10)
	assert.NotContains(t, model.FormulaString(), "xa")
}
