package similarity

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBandedDTW_IdenticalSequencesAreZero(t *testing.T) {
	seq := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, 0.0, BandedDTW(seq, seq, 10))
}

func TestBandedDTW_SymmetricOnArgumentOrder(t *testing.T) {
	a := []float64{1, 2, 3, 4}
	b := []float64{2, 3, 4, 5}
	assert.Equal(t, BandedDTW(a, b, 10), BandedDTW(b, a, 10))
}

func TestBandedDTW_ShiftedSequenceIsPositive(t *testing.T) {
	a := []float64{0, 0, 0, 0}
	b := []float64{1, 1, 1, 1}
	d := BandedDTW(a, b, 10)
	assert.Greater(t, d, 0.0)
}

func TestBandedDTW_ZeroOrNegativeBandMeansUnrestricted(t *testing.T) {
	a := []float64{0, 1, 2, 3, 4, 5}
	b := []float64{5, 4, 3, 2, 1, 0}
	unrestricted := BandedDTW(a, b, 0)
	wide := BandedDTW(a, b, len(a))
	assert.Equal(t, wide, unrestricted)
}

func TestBandedDTW_NarrowerBandNeverCheapensTheResult(t *testing.T) {
	a := []float64{0, 5, 0, 5, 0, 5, 0, 5}
	b := []float64{5, 0, 5, 0, 5, 0, 5, 0}
	narrow := BandedDTW(a, b, 1)
	wide := BandedDTW(a, b, 8)
	assert.GreaterOrEqual(t, narrow, wide)
}

func TestBandedDTW_EmptySequenceIsInfinite(t *testing.T) {
	assert.True(t, math.IsInf(BandedDTW(nil, []float64{1}, 5), 1))
	assert.True(t, math.IsInf(BandedDTW(nil, nil, 5), 1))
}
