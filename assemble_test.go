package cr2

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestLeverageMatrixStrict(t *testing.T) {
	clusters := []Cluster{{ID: "a", Rows: []int{0, 2}}, {ID: "b", Rows: []int{1}}}
	_, err := leverageMatrix(clusters, []float64{1, 2}, 3, LayoutStrict)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDimension))

	var de *DimensionError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 2, de.Rows)
	assert.Equal(t, 3, de.Want)

	singletons := []Cluster{{ID: "a", Rows: []int{2}}, {ID: "b", Rows: []int{0}}, {ID: "c", Rows: []int{1}}}
	a, err := leverageMatrix(singletons, []float64{1, 2, 3}, 3, LayoutStrict)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3, 1}, []float64{a.At(0, 0), a.At(1, 1), a.At(2, 2)})
}

func TestLeverageMatrixBlockDiagonal(t *testing.T) {
	clusters := []Cluster{{ID: "a", Rows: []int{0, 2}}, {ID: "b", Rows: []int{1, 3}}}
	a, err := leverageMatrix(clusters, []float64{5, 7}, 4, LayoutBlockDiagonal)
	require.NoError(t, err)
	assert.True(t, mat.Equal(a, mat.NewDiagDense(4, []float64{5, 7, 5, 7})))

	_, err = leverageMatrix(clusters, []float64{5, 7}, 4, AdjustmentLayout(9))
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

// TestBlockInverseScatter: each B_i⁻¹ lands on its cluster's rows and columns.
func TestBlockInverseScatter(t *testing.T) {
	clusters := []Cluster{{ID: "a", Rows: []int{0, 2}}, {ID: "b", Rows: []int{1}}}
	adjustments := []*clusterAdjustment{
		{bInv: mat.NewDense(2, 2, []float64{1, 2, 3, 4})},
		{bInv: mat.NewDense(1, 1, []float64{5})},
	}
	got := blockInverse(clusters, adjustments, 3)
	assert.True(t, mat.Equal(got, mat.NewDense(3, 3, []float64{
		1, 0, 2,
		0, 5, 0,
		3, 0, 4,
	})))
}

// TestAssembleNaiveTerm: with both corrections zero, V is the plain sandwich
// Mz·Zᵗ·W·diag(e²)·W·Z·Mz.
func TestAssembleNaiveTerm(t *testing.T) {
	z := designWithIntercept(1, 2, 3, 4)
	w := mat.NewDiagDense(4, []float64{2, 2, 2, 2})
	br, err := newBiasReduction(z, w)
	require.NoError(t, err)

	e := []float64{0.5, -1, 0.25, 0.25}
	v := assemble(br, e, mat.NewDiagDense(4, make([]float64, 4)), mat.NewDense(4, 4, nil))

	omega := mat.NewDiagDense(4, []float64{0.25, 1, 0.0625, 0.0625})
	want := sandwich(br.left, omega, br.right)
	assert.True(t, mat.EqualApprox(v, want, 1e-12))
}

// TestAssembleSymmetrizes: the raw sum is symmetric up to rounding and the
// result exactly so.
func TestAssembleSymmetrizes(t *testing.T) {
	ad, clusters := newTestAdjuster(t, []float64{1, 2, 3, 4, 5, 6}, []float64{0.1, -0.1, 0.2, -0.3, 0.1, 0.05}, []string{"a", "a", "a", "b", "b", "b"}, SingularClusterRegularize)
	adjustments, err := ad.adjustAll(clusters, 2)
	require.NoError(t, err)
	br, err := newBiasReduction(ad.x, ad.w)
	require.NoError(t, err)

	a, err := leverageMatrix(clusters, []float64{adjustments[0].a, adjustments[1].a}, 6, LayoutBlockDiagonal)
	require.NoError(t, err)
	bInv := blockInverse(clusters, adjustments, 6)
	v := assemble(br, ad.resid.RawVector().Data, a, bInv)

	raw := sandwich(br.left, bInv, br.right)
	assert.InEpsilon(t, raw.At(0, 1), raw.At(1, 0), 1e-9)
	assert.Equal(t, v.At(0, 1), v.At(1, 0))
}

func TestStandardErrors(t *testing.T) {
	v := mat.NewSymDense(2, []float64{4, 1, 1, 9})
	ses, err := standardErrors(v, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3}, ses)

	_, err = standardErrors(mat.NewSymDense(2, []float64{4, 0, 0, -1e-3}), []string{"a", "b"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNegativeVariance))
	var nve *NegativeVarianceError
	require.True(t, errors.As(err, &nve))
	assert.Equal(t, "b", nve.Label)
	assert.Contains(t, nve.Error(), "negative variance")
}

// TestStandardErrorsUndefined: NaN and infinite variances are errors, not
// NaN standard errors.
func TestStandardErrorsUndefined(t *testing.T) {
	for _, d := range []float64{math.NaN(), math.Inf(1)} {
		_, err := standardErrors(mat.NewSymDense(2, []float64{d, 0, 0, 1}), []string{"a", "b"})
		require.Error(t, err, "%v", d)
		assert.True(t, errors.Is(err, ErrNegativeVariance))
		var nve *NegativeVarianceError
		require.True(t, errors.As(err, &nve))
		assert.Equal(t, "a", nve.Label)
		assert.Contains(t, nve.Error(), "undefined variance")
	}
}

func TestAdjustmentLayoutString(t *testing.T) {
	assert.Equal(t, "strict", LayoutStrict.String())
	assert.Equal(t, "block", LayoutBlockDiagonal.String())
}
