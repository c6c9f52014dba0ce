package captcha

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleTrail_Length(t *testing.T) {
	for _, k := range []int{0, 1, 2, 3, 4, 119, 120, 239, 240, 241, 1000} {
		got := SampleTrail(straightDrag(k))
		want := min(MaxTrailPoints, (k+1)/2)
		assert.Len(t, got, want, "k=%d", k)
	}
}

func TestSampleTrail_KeepsEvenIndexedValidEntries(t *testing.T) {
	raw := [][]float64{
		{1, 2},
		{1},
		{math.NaN(), 1},
		{3, 4},
		{5, 6, 7},
		{math.Inf(1), 0},
		{5, 6},
		nil,
		{7, 8},
	}

	got := SampleTrail(raw)
	assert.Equal(t, []Point{{1, 2}, {5, 6}}, got)
}

func TestSampleTrail_EmptyInputs(t *testing.T) {
	got := SampleTrail(nil)
	require.NotNil(t, got)
	assert.Empty(t, got)

	got = SampleTrail([][]float64{{1}, {}, {math.NaN(), math.NaN()}})
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSampleTrail_PreservesOrder(t *testing.T) {
	got := SampleTrail(straightDrag(10))
	require.Len(t, got, 5)
	for i, p := range got {
		assert.Equal(t, float64(2*i), p.X())
	}
}
