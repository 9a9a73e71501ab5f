package utils

import (
	"math"
	"time"
)

// math.go - математические утилиты для портфельной статистики
//
// Назначение:
// Вспомогательные функции для расчёта риск-метрик по кривой капитала
// и рядам дневных PNL. Все функции являются чистыми (pure functions)
// без побочных эффектов.
//
// Функции:
// - Mean / StdDev / DownsideDeviation: базовая статистика ряда
// - MaxDrawdown: максимальная просадка кривой капитала и её длительность
// - PearsonCorrelation: корреляция двух рядов
// - NormalizeWeights: приведение весов к сумме ≤ 1

// TradingDaysPerYear - число торговых дней для аннуализации метрик
const TradingDaysPerYear = 252

// Mean возвращает среднее арифметическое ряда.
// Для пустого ряда возвращает 0.
func Mean(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range series {
		sum += v
	}
	return sum / float64(len(series))
}

// StdDev возвращает выборочное стандартное отклонение ряда.
//
// Для рядов короче двух элементов возвращает 0 - вызывающий код обязан
// трактовать нулевую волатильность как "метрика не определена".
func StdDev(series []float64) float64 {
	if len(series) < 2 {
		return 0
	}
	mean := Mean(series)
	sum := 0.0
	for _, v := range series {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(series)-1))
}

// DownsideDeviation возвращает стандартное отклонение только отрицательных
// значений ряда (для коэффициента Сортино). Положительные значения
// учитываются как нулевое отклонение от цели.
func DownsideDeviation(series []float64) float64 {
	if len(series) < 2 {
		return 0
	}
	sum := 0.0
	for _, v := range series {
		if v < 0 {
			sum += v * v
		}
	}
	return math.Sqrt(sum / float64(len(series)-1))
}

// MaxDrawdown возвращает максимальную относительную просадку кривой капитала
// и её длительность (от пика до выхода из просадки либо до конца ряда).
//
// Параметры:
//   - equity: значения кривой капитала
//   - stamps: модельное время каждой точки (len(stamps) == len(equity))
//
// Возвращает:
//   - drawdown: доля от пика (0.25 = просадка 25%)
//   - duration: длительность самой глубокой просадки
func MaxDrawdown(equity []float64, stamps []time.Time) (float64, time.Duration) {
	if len(equity) < 2 || len(equity) != len(stamps) {
		return 0, 0
	}

	peak := equity[0]
	peakAt := stamps[0]
	maxDD := 0.0
	var maxDuration time.Duration

	for i := 1; i < len(equity); i++ {
		v := equity[i]
		if v >= peak {
			peak = v
			peakAt = stamps[i]
			continue
		}
		if peak <= 0 {
			continue
		}
		dd := (peak - v) / peak
		if dd > maxDD {
			maxDD = dd
		}
		// Длительность меряем от последнего пика до текущей точки:
		// пока просадка не закрыта, она продолжает расти
		if d := stamps[i].Sub(peakAt); d > maxDuration {
			maxDuration = d
		}
	}

	return maxDD, maxDuration
}

// PearsonCorrelation возвращает коэффициент корреляции Пирсона двух рядов
// одинаковой длины. Если дисперсия любого ряда нулевая или длины не
// совпадают, возвращает 0.
func PearsonCorrelation(a, b []float64) float64 {
	n := len(a)
	if n < 2 || n != len(b) {
		return 0
	}

	meanA := Mean(a)
	meanB := Mean(b)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}

	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

// NormalizeWeights приводит веса к сумме ≤ 1.0.
//
// Если сумма превышает 1, все веса масштабируются пропорционально.
// Отрицательные веса обнуляются до нормализации. Исходный срез
// не модифицируется.
func NormalizeWeights(weights []float64) []float64 {
	out := make([]float64, len(weights))
	total := 0.0
	for i, w := range weights {
		if w < 0 {
			w = 0
		}
		out[i] = w
		total += w
	}
	if total <= 1.0 || total == 0 {
		return out
	}
	for i, w := range out {
		out[i] = w / total
	}
	return out
}

// AnnualizedReturn аннуализирует совокупную доходность за период.
//
// Параметры:
//   - totalReturn: совокупная доходность (0.10 = +10%)
//   - days: длительность прогона в календарных днях
func AnnualizedReturn(totalReturn float64, days float64) float64 {
	if days <= 0 {
		return 0
	}
	base := 1 + totalReturn
	if base <= 0 {
		// Потеря всего капитала и больше - аннуализация не определена,
		// возвращаем -100% годовых
		return -1
	}
	return math.Pow(base, 365.0/days) - 1
}

// AnnualizedVolatility аннуализирует дневную волатильность
func AnnualizedVolatility(dailyStdDev float64) float64 {
	return dailyStdDev * math.Sqrt(TradingDaysPerYear)
}
