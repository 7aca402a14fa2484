package indicators

import (
	"testing"
)

func TestSmoothWilder(t *testing.T) {
	data := []float64{1.0, 2.0, 3.0, 4.0, 5.0, 6.0, 7.0, 8.0, 9.0, 10.0}
	period := 5

	result := smoothWilder(data, period)

	if len(result) != len(data) {
		t.Errorf("Expected result length %d, got %d", len(data), len(result))
	}

	// First period-1 values should be zero
	for i := 0; i < period-1; i++ {
		if result[i] != 0 {
			t.Errorf("Expected result[%d] = 0, got %.2f", i, result[i])
		}
	}

	// First smoothed value should be simple average
	expectedFirst := 3.0 // (1+2+3+4+5)/5
	if result[period-1] != expectedFirst {
		t.Errorf("Expected first smoothed value %.2f, got %.2f", expectedFirst, result[period-1])
	}

	// Subsequent values should be non-zero
	for i := period; i < len(result); i++ {
		if result[i] == 0 {
			t.Errorf("Expected non-zero result at index %d", i)
		}
	}
}

func TestSmoothWilderInsufficientData(t *testing.T) {
	data := []float64{1.0, 2.0, 3.0}
	period := 5

	result := smoothWilder(data, period)

	// Should return all zeros for insufficient data
	for i, v := range result {
		if v != 0 {
			t.Errorf("Expected result[%d] = 0 for insufficient data, got %.2f", i, v)
		}
	}
}

func TestCalculateADXManual(t *testing.T) {
	// Generate simple test data
	count := 50
	high := make([]float64, count)
	low := make([]float64, count)
	closePrices := make([]float64, count)

	for i := 0; i < count; i++ {
		base := 100.0 + float64(i)*0.5
		high[i] = base + 2.0
		low[i] = base - 2.0
		closePrices[i] = base + 1.0
	}

	period := 14
	adx := calculateADXManual(high, low, closePrices, period)

	// ADX should be non-zero for valid data
	if adx == 0 {
		t.Error("Expected non-zero ADX value")
	}

	// ADX should be in valid range
	if adx < 0 || adx > 100 {
		t.Errorf("ADX value %.2f out of valid range [0, 100]", adx)
	}
}

func TestCalculateADXManualInsufficientData(t *testing.T) {
	// Not enough data
	high := []float64{100, 101, 102}
	low := []float64{98, 99, 100}
	closePrices := []float64{99, 100, 101}
	period := 14

	adx := calculateADXManual(high, low, closePrices, period)

	// Should return 0 for insufficient data
	if adx != 0 {
		t.Errorf("Expected 0 ADX for insufficient data, got %.2f", adx)
	}
}
