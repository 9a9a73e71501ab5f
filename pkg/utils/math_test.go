package utils

import (
	"math"
	"testing"
	"time"
)

const floatTolerance = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < floatTolerance
}

func TestMean(t *testing.T) {
	tests := []struct {
		name   string
		series []float64
		want   float64
	}{
		{"empty", nil, 0},
		{"single", []float64{5}, 5},
		{"mixed", []float64{1, 2, 3, 4}, 2.5},
		{"negatives", []float64{-2, 2}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Mean(tt.series); !almostEqual(got, tt.want) {
				t.Errorf("Mean(%v) = %v, want %v", tt.series, got, tt.want)
			}
		})
	}
}

func TestStdDev(t *testing.T) {
	if got := StdDev(nil); got != 0 {
		t.Errorf("StdDev(nil) = %v, want 0", got)
	}
	if got := StdDev([]float64{5}); got != 0 {
		t.Errorf("StdDev(single) = %v, want 0", got)
	}

	// Выборочное отклонение {2,4,4,4,5,5,7,9}: mean=5, sum sq=32, 32/7
	got := StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	want := math.Sqrt(32.0 / 7.0)
	if !almostEqual(got, want) {
		t.Errorf("StdDev = %v, want %v", got, want)
	}
}

func TestDownsideDeviation(t *testing.T) {
	// Положительные значения не дают отклонения
	if got := DownsideDeviation([]float64{1, 2, 3}); got != 0 {
		t.Errorf("all-positive DownsideDeviation = %v, want 0", got)
	}

	// {-3, 1, -4, 2}: sum sq = 9+16 = 25, 25/3
	got := DownsideDeviation([]float64{-3, 1, -4, 2})
	want := math.Sqrt(25.0 / 3.0)
	if !almostEqual(got, want) {
		t.Errorf("DownsideDeviation = %v, want %v", got, want)
	}
}

func TestMaxDrawdown(t *testing.T) {
	day := func(d int) time.Time {
		return time.Date(2025, 3, d, 0, 0, 0, 0, time.UTC)
	}

	t.Run("monotone growth has no drawdown", func(t *testing.T) {
		dd, dur := MaxDrawdown(
			[]float64{100, 110, 120},
			[]time.Time{day(1), day(2), day(3)},
		)
		if dd != 0 || dur != 0 {
			t.Errorf("dd=%v dur=%v, want 0, 0", dd, dur)
		}
	})

	t.Run("peak to trough", func(t *testing.T) {
		// Пик 120 на day(2), дно 90 на day(4): просадка 25%
		dd, dur := MaxDrawdown(
			[]float64{100, 120, 100, 90, 130},
			[]time.Time{day(1), day(2), day(3), day(4), day(5)},
		)
		if !almostEqual(dd, 0.25) {
			t.Errorf("drawdown = %v, want 0.25", dd)
		}
		if dur != 48*time.Hour {
			t.Errorf("duration = %v, want 48h", dur)
		}
	})

	t.Run("length mismatch", func(t *testing.T) {
		dd, dur := MaxDrawdown([]float64{100, 90}, []time.Time{day(1)})
		if dd != 0 || dur != 0 {
			t.Errorf("dd=%v dur=%v, want 0, 0", dd, dur)
		}
	})
}

func TestPearsonCorrelation(t *testing.T) {
	t.Run("perfect positive", func(t *testing.T) {
		got := PearsonCorrelation([]float64{1, 2, 3}, []float64{2, 4, 6})
		if !almostEqual(got, 1) {
			t.Errorf("correlation = %v, want 1", got)
		}
	})

	t.Run("perfect negative", func(t *testing.T) {
		got := PearsonCorrelation([]float64{1, 2, 3}, []float64{-1, -2, -3})
		if !almostEqual(got, -1) {
			t.Errorf("correlation = %v, want -1", got)
		}
	})

	t.Run("zero variance", func(t *testing.T) {
		if got := PearsonCorrelation([]float64{1, 1, 1}, []float64{1, 2, 3}); got != 0 {
			t.Errorf("correlation = %v, want 0", got)
		}
	})

	t.Run("length mismatch", func(t *testing.T) {
		if got := PearsonCorrelation([]float64{1, 2}, []float64{1, 2, 3}); got != 0 {
			t.Errorf("correlation = %v, want 0", got)
		}
	})
}

func TestNormalizeWeights(t *testing.T) {
	t.Run("sum below one untouched", func(t *testing.T) {
		out := NormalizeWeights([]float64{0.3, 0.4})
		if !almostEqual(out[0], 0.3) || !almostEqual(out[1], 0.4) {
			t.Errorf("weights rescaled unnecessarily: %v", out)
		}
	})

	t.Run("sum above one rescaled", func(t *testing.T) {
		out := NormalizeWeights([]float64{1.0, 1.0})
		if !almostEqual(out[0], 0.5) || !almostEqual(out[1], 0.5) {
			t.Errorf("weights = %v, want 0.5 each", out)
		}
	})

	t.Run("negative weights zeroed", func(t *testing.T) {
		out := NormalizeWeights([]float64{-0.5, 0.5})
		if out[0] != 0 || !almostEqual(out[1], 0.5) {
			t.Errorf("weights = %v, want [0, 0.5]", out)
		}
	})

	t.Run("input not mutated", func(t *testing.T) {
		in := []float64{2.0}
		NormalizeWeights(in)
		if in[0] != 2.0 {
			t.Errorf("input mutated: %v", in)
		}
	})
}

func TestAnnualizedReturn(t *testing.T) {
	// +10% за 365 дней = +10% годовых
	if got := AnnualizedReturn(0.10, 365); !almostEqual(got, 0.10) {
		t.Errorf("AnnualizedReturn(0.10, 365) = %v, want 0.10", got)
	}

	// +10% за полгода: (1.1)^2 - 1 = 0.21
	if got := AnnualizedReturn(0.10, 182.5); !almostEqual(got, 0.21) {
		t.Errorf("AnnualizedReturn(0.10, 182.5) = %v, want 0.21", got)
	}

	if got := AnnualizedReturn(0.10, 0); got != 0 {
		t.Errorf("zero days: got %v, want 0", got)
	}

	// Потеря всего капитала
	if got := AnnualizedReturn(-1.5, 100); got != -1 {
		t.Errorf("total loss: got %v, want -1", got)
	}
}

func TestAnnualizedVolatility(t *testing.T) {
	got := AnnualizedVolatility(0.01)
	want := 0.01 * math.Sqrt(TradingDaysPerYear)
	if !almostEqual(got, want) {
		t.Errorf("AnnualizedVolatility(0.01) = %v, want %v", got, want)
	}
}
