package engine

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"papertrade/internal/config"
	"papertrade/internal/models"
	"papertrade/pkg/utils"
)

// Rebalancer периодически возвращает капитал стратегий к целевым весам
//
// Планировщик без состояний: срабатывание определяется только частотой
// и модельным временем. На срабатывании целевая стоимость стратегии
// равна стоимости портфеля × целевой вес. Свободный кэш переводится
// между саб-леджерами напрямую; избыток, удерживаемый позициями,
// сбрасывается корректирующими SELL-ордерами через обычный путь
// валидации - ребаланс никогда не обходит валидатор.
type Rebalancer struct {
	cadence     string
	minFraction float64
	ledger      *Ledger
	log         *zap.Logger

	// lastFired - модельное время последнего срабатывания
	lastFired time.Time
	fired     bool
}

func NewRebalancer(cadence string, minFraction float64, ledger *Ledger, log *zap.Logger) *Rebalancer {
	return &Rebalancer{
		cadence:     cadence,
		minFraction: minFraction,
		ledger:      ledger,
		log:         log,
	}
}

// Due возвращает true, если на момент now пора ребалансировать.
// weekly = первый торговый день каждой ISO-недели, monthly = первый
// увиденный день месяца, quarterly = первый день января/апреля/июля/октября.
func (r *Rebalancer) Due(now time.Time) bool {
	if !r.fired {
		return true
	}
	switch r.cadence {
	case config.CadenceDaily:
		return !utils.SameDay(r.lastFired, now)
	case config.CadenceWeekly:
		return !utils.SameISOWeek(r.lastFired, now)
	case config.CadenceMonthly:
		return !utils.SameMonth(r.lastFired, now)
	case config.CadenceQuarterly:
		return !utils.SameQuarter(r.lastFired, now) && utils.IsQuarterStartMonth(now.Month())
	}
	return false
}

// Fire выполняет ребаланс: переводы кэша плюс корректирующие ордера.
//
// Возвращённые ордера должны пройти валидацию и попасть в симулятор
// обычным путём.
func (r *Rebalancer) Fire(now time.Time) []*models.Order {
	r.lastFired = now
	r.fired = true
	RebalanceEvents.Inc()

	total := r.ledger.TotalEquity()
	strategies := r.ledger.Strategies()

	type diff struct {
		name   string
		amount decimal.Decimal // положительное = недобор, отрицательное = избыток
	}
	var shortfalls, excesses []diff

	for _, name := range strategies {
		alloc, ok := r.ledger.Allocation(name)
		if !ok || alloc.Halted {
			continue
		}
		target := total.Mul(decimal.NewFromFloat(alloc.TargetWeight))
		current := r.ledger.Equity(name)
		d := target.Sub(current)

		// Порог отклонения: мелкие расхождения не трогаем
		if total.IsPositive() {
			frac, _ := d.Abs().Div(total).Float64()
			if frac < r.minFraction {
				continue
			}
		}

		if d.IsPositive() {
			shortfalls = append(shortfalls, diff{name, d})
		} else if d.IsNegative() {
			excesses = append(excesses, diff{name, d.Neg()})
		}
	}

	if len(shortfalls) == 0 && len(excesses) == 0 {
		return nil
	}

	// Сначала свободный кэш: избыточные стратегии отдают, недобравшие получают
	for i := range excesses {
		for j := range shortfalls {
			if excesses[i].amount.IsZero() || shortfalls[j].amount.IsZero() {
				continue
			}
			want := decimal.Min(excesses[i].amount, shortfalls[j].amount)
			moved := r.ledger.TransferCash(excesses[i].name, shortfalls[j].name, want)
			excesses[i].amount = excesses[i].amount.Sub(moved)
			shortfalls[j].amount = shortfalls[j].amount.Sub(moved)
			if moved.IsPositive() {
				r.log.Info("rebalance cash transfer",
					zap.String("from", excesses[i].name),
					zap.String("to", shortfalls[j].name),
					zap.String("amount", moved.String()))
			}
		}
	}

	// Остаток избытка удерживается позициями: сокращаем их SELL-ордерами
	var orders []*models.Order
	for _, e := range excesses {
		if e.amount.LessThanOrEqual(decimal.Zero) {
			continue
		}
		orders = append(orders, r.trimOrders(e.name, e.amount, now)...)
	}
	return orders
}

// trimOrders генерирует сокращающие ордера по позициям стратегии
// (oldest first), пока не покрыт избыток excess
func (r *Rebalancer) trimOrders(strategy string, excess decimal.Decimal, now time.Time) []*models.Order {
	var orders []*models.Order

	for _, pos := range r.ledger.OpenPositions() {
		if pos.Strategy != strategy || excess.LessThanOrEqual(decimal.Zero) {
			continue
		}
		price := pos.CurrentPrice
		if price.LessThanOrEqual(decimal.Zero) {
			continue
		}

		qty := excess.Div(price).IntPart()
		if qty <= 0 {
			continue
		}
		if qty > pos.AbsQuantity() {
			qty = pos.AbsQuantity()
		}

		orders = append(orders, &models.Order{
			ID:          models.NewOrderID(),
			Strategy:    strategy,
			Symbol:      pos.Symbol,
			Side:        closingSide(pos),
			Quantity:    qty,
			Kind:        models.OrderKindMarket,
			ReduceOnly:  true,
			Reason:      models.OrderReasonRebalance,
			State:       models.OrderStatePending,
			SubmittedAt: now,
		})
		excess = excess.Sub(price.Mul(decimal.NewFromInt(qty)))

		r.log.Info("rebalance adjustment order",
			zap.String("strategy", strategy),
			zap.String("symbol", pos.Symbol),
			zap.Int64("quantity", qty))
	}
	return orders
}
