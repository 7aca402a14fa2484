package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_AppendRejectsInvalidOHLC(t *testing.T) {
	b := NewBuffer()
	require.False(t, b.Append(100, 90, 95, 10, nil, nil)) // high < low
	require.Equal(t, 0, b.Len())

	require.False(t, b.Append(math.NaN(), 110, 90, 10, nil, nil))
	require.Equal(t, 0, b.Len())

	require.False(t, b.Append(100, 110, 90, -1, nil, nil))
	require.Equal(t, 0, b.Len())
}

func TestBuffer_AppendAcceptsValidCandle(t *testing.T) {
	b := NewBuffer()
	require.True(t, b.Append(105, 110, 95, 10, nil, nil))
	require.Equal(t, 1, b.Len())
}

func TestBuffer_CurrentIndicatorsBelowMinimum(t *testing.T) {
	b := NewBuffer()
	for i := 0; i < 5; i++ {
		price := 100.0 + float64(i)
		require.True(t, b.Append(price, price+1, price-1, 10, nil, nil))
	}
	out := b.CurrentIndicators()
	assert.Contains(t, out, "last_price")
	assert.NotContains(t, out, "rsi")
}

func TestBuffer_CurrentIndicatorsAboveMinimum(t *testing.T) {
	b := NewBuffer(WithMinCandlesForCalc(30), WithMinCandlesForReliableCalc(30))
	for i := 0; i < 40; i++ {
		price := 100.0 + float64(i)
		require.True(t, b.Append(price, price+1, price-1, 10, nil, nil))
	}
	out := b.CurrentIndicators()
	assert.Contains(t, out, "rsi")
	for k, v := range out {
		if f, ok := v.(float64); ok {
			assert.True(t, !math.IsNaN(f) && !math.IsInf(f, 0), "key %s not finite", k)
		}
	}
}

func TestBuffer_ClearDropsEverything(t *testing.T) {
	b := NewBuffer()
	require.True(t, b.Append(100, 101, 99, 5, nil, nil))
	b.Clear()
	require.Equal(t, 0, b.Len())
	assert.Empty(t, b.CurrentIndicators())
}

func TestBuffer_SequencesRequiresExactLength(t *testing.T) {
	b := NewBuffer(WithMinCandlesForCalc(30), WithMinCandlesForReliableCalc(30))
	for i := 0; i < 35; i++ {
		price := 100.0 + float64(i)
		require.True(t, b.Append(price, price+1, price-1, 10, nil, nil))
	}
	seqs := b.Sequences(3)
	for name, seq := range seqs {
		assert.Len(t, seq, 3, "sequence %s", name)
	}
	assert.Empty(t, b.Sequences(1000))
}

func TestBuffer_SynthesizesOpenFromPreviousClose(t *testing.T) {
	b := NewBuffer()
	require.True(t, b.Append(100, 101, 99, 5, nil, nil))
	require.True(t, b.Append(102, 103, 101, 5, nil, nil))
	require.Equal(t, 2, b.Len())
}

func TestClassifyBandPosition(t *testing.T) {
	cases := []struct {
		name     string
		percentB float64
		want     BandPosition
	}{
		{"at or below lower band", 0, BandBelowLower},
		{"below lower band", -0.3, BandBelowLower},
		{"at or above upper band", 1, BandAboveUpper},
		{"above upper band", 1.4, BandAboveUpper},
		{"near lower band", 0.1, BandLower},
		{"near upper band", 0.9, BandUpper},
		{"middle of the bands", 0.5, BandMiddle},
		{"just above lower threshold", 0.2, BandMiddle},
		{"just below upper threshold", 0.8, BandMiddle},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classifyBandPosition(tc.percentB))
		})
	}
}
