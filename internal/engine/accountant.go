package engine

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"papertrade/internal/models"
	"papertrade/pkg/utils"
)

// Accountant агрегирует леджеры в кривую капитала и итоговый риск-отчёт
//
// Чистый агрегатор: читает леджер, никогда не мутирует позиции.
// Один снимок на шаг модельного времени; последовательность снимков
// append-only. На границе дня фиксируются дневные PNL стратегий -
// сырьё для волатильности, корреляций и risk_parity.
type Accountant struct {
	mu     sync.RWMutex
	ledger *Ledger

	snapshots []models.PortfolioSnapshot

	// Дневные серии. prevDayEquity - капитал на конец предыдущего дня.
	dailyPnl      map[string][]float64
	dailyReturns  []float64
	prevDayEquity map[string]decimal.Decimal
	prevDayTotal  decimal.Decimal
	currentDay    time.Time
	started       bool
}

func NewAccountant(ledger *Ledger) *Accountant {
	return &Accountant{
		ledger:        ledger,
		dailyPnl:      make(map[string][]float64),
		prevDayEquity: make(map[string]decimal.Decimal),
	}
}

// Step формирует снимок портфеля на момент at и обновляет дневные серии
func (a *Accountant) Step(at time.Time) models.PortfolioSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		a.started = true
		a.currentDay = utils.DayStart(at)
		a.rollBaseline()
	} else if !utils.SameDay(a.currentDay, at) {
		a.closeDay()
		a.currentDay = utils.DayStart(at)
	}

	snap := a.ledger.Snapshot(at)
	a.snapshots = append(a.snapshots, snap.Clone())
	return snap
}

// closeDay фиксирует дневной PNL каждой стратегии и дневную доходность
// портфеля. Вызывать под мьютексом.
func (a *Accountant) closeDay() {
	for _, name := range a.ledger.Strategies() {
		eq := a.ledger.Equity(name)
		prev := a.prevDayEquity[name]
		pnl, _ := eq.Sub(prev).Float64()
		a.dailyPnl[name] = append(a.dailyPnl[name], pnl)
	}

	if a.prevDayTotal.IsPositive() {
		ret, _ := a.ledger.TotalEquity().Sub(a.prevDayTotal).
			Div(a.prevDayTotal).Float64()
		a.dailyReturns = append(a.dailyReturns, ret)
	}
	a.rollBaseline()
}

// rollBaseline запоминает капитал конца дня. Вызывать под мьютексом.
func (a *Accountant) rollBaseline() {
	for _, name := range a.ledger.Strategies() {
		a.prevDayEquity[name] = a.ledger.Equity(name)
	}
	a.prevDayTotal = a.ledger.TotalEquity()
}

// Snapshot возвращает последний снимок.
// Повторный вызов без новых тиков возвращает идентичный снимок.
func (a *Accountant) Snapshot() models.PortfolioSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if len(a.snapshots) == 0 {
		return models.PortfolioSnapshot{StrategyBreakdown: map[string]decimal.Decimal{}}
	}
	return a.snapshots[len(a.snapshots)-1].Clone()
}

// Volatility возвращает трейлинг-волатильность дневных PNL стратегии
// как долю её текущего капитала (для risk_parity).
// false - меньше двух дневных наблюдений.
func (a *Accountant) Volatility(strategy string) (float64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	series := a.dailyPnl[strategy]
	if len(series) < 2 {
		return 0, false
	}
	eq, _ := a.ledger.Equity(strategy).Float64()
	if eq <= 0 {
		return 0, false
	}
	return utils.StdDev(series) / eq, true
}

// Summary собирает итоговый отчёт по прогону.
//
// Невычислимые коэффициенты (нулевая волатильность, нулевая просадка)
// остаются nil. Отчёт аннотируется остановленными стратегиями
// и принудительными закрытиями.
func (a *Accountant) Summary(startedAt, finishedAt time.Time, forced []models.ForcedClose) models.PerformanceSummary {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := models.PerformanceSummary{
		StartedAt:        startedAt,
		FinishedAt:       finishedAt,
		TradeCount:       len(a.ledger.Trades()),
		HaltedStrategies: a.ledger.HaltedStrategies(),
		ForcedCloses:     forced,
	}

	if len(a.snapshots) == 0 {
		return s
	}

	s.InitialEquity = a.snapshots[0].TotalEquity
	s.FinalEquity = a.snapshots[len(a.snapshots)-1].TotalEquity

	if s.InitialEquity.IsPositive() {
		s.TotalReturn, _ = s.FinalEquity.Sub(s.InitialEquity).
			Div(s.InitialEquity).Float64()
	}
	days := finishedAt.Sub(startedAt).Hours() / 24
	s.AnnualizedReturn = utils.AnnualizedReturn(s.TotalReturn, days)

	s.Volatility = utils.AnnualizedVolatility(utils.StdDev(a.dailyReturns))
	if s.Volatility > 0 {
		sharpe := s.AnnualizedReturn / s.Volatility
		s.SharpeRatio = &sharpe
	}
	if dd := utils.AnnualizedVolatility(utils.DownsideDeviation(a.dailyReturns)); dd > 0 {
		sortino := s.AnnualizedReturn / dd
		s.SortinoRatio = &sortino
	}

	equity := make([]float64, len(a.snapshots))
	stamps := make([]time.Time, len(a.snapshots))
	for i, snap := range a.snapshots {
		equity[i], _ = snap.TotalEquity.Float64()
		stamps[i] = snap.Timestamp
	}
	s.MaxDrawdown, s.MaxDrawdownDuration = utils.MaxDrawdown(equity, stamps)
	if s.MaxDrawdown > 0 {
		calmar := s.AnnualizedReturn / s.MaxDrawdown
		s.CalmarRatio = &calmar
	}

	s.Strategies = a.ledger.Strategies()
	s.Correlation = a.correlationLocked(s.Strategies)
	return s
}

// correlationLocked строит матрицу попарных корреляций дневных PNL.
// Вызывать под мьютексом.
func (a *Accountant) correlationLocked(strategies []string) [][]float64 {
	n := len(strategies)
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
		m[i][i] = 1
		for j := 0; j < i; j++ {
			c := utils.PearsonCorrelation(a.dailyPnl[strategies[i]], a.dailyPnl[strategies[j]])
			m[i][j] = c
			m[j][i] = c
		}
	}
	return m
}
