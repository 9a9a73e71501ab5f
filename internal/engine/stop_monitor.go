package engine

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"papertrade/internal/config"
	"papertrade/internal/feed"
	"papertrade/internal/models"
)

// StopMonitor следит за открытыми позициями и инициирует принудительные выходы
//
// На каждом тике для позиций символа (oldest first) проверяются триггеры
// в фиксированном приоритете, срабатывает первый:
//  1. пробой стоп-лосса
//  2. достижение цели
//  3. принудительное закрытие по времени (square-off)
//
// Square-off управляется временем, а не ценой: после порога любой тик
// закрывает открытые позиции всех символов, включая те, по которым
// котировки больше не приходят.
//
// На позицию за тик создаётся не более одного закрывающего ордера.
// Пока предыдущий закрывающий ордер не терминален, новые не создаются.
// Монитор никогда не мутирует леджер напрямую: закрывающие ордера идут
// через обычный путь валидации и исполнения.
type StopMonitor struct {
	cfg    config.SimConfig
	ledger *Ledger
	sim    *Simulator
	log    *zap.Logger
}

func NewStopMonitor(cfg config.SimConfig, ledger *Ledger, sim *Simulator, log *zap.Logger) *StopMonitor {
	return &StopMonitor{cfg: cfg, ledger: ledger, sim: sim, log: log}
}

// Check возвращает закрывающие ордера, инициированные тиком
func (m *StopMonitor) Check(tick feed.Tick) []*models.Order {
	var orders []*models.Order

	for _, pos := range m.ledger.PositionsForSymbol(tick.Symbol) {
		// Подавление дублей: по позиции уже работает закрывающий ордер
		if m.sim.HasWorking(pos.Strategy, pos.Symbol) {
			continue
		}

		reason, ok := m.trigger(pos, tick)
		if !ok {
			continue
		}
		orders = append(orders, m.closingOrder(pos, reason, tick.At, tick.Price))
	}

	// Порог square-off пройден: обходим позиции остальных символов.
	// Ценовые триггеры по ним проверить нечем, закрытие по времени - можно.
	if m.squareOffDue(tick.At) {
		for _, pos := range m.ledger.OpenPositions() {
			if pos.Symbol == tick.Symbol {
				continue
			}
			if m.sim.HasWorking(pos.Strategy, pos.Symbol) {
				continue
			}
			orders = append(orders, m.closingOrder(pos, models.OrderReasonSquareOff, tick.At, pos.CurrentPrice))
		}
	}
	return orders
}

// closingOrder синтезирует закрывающий ордер для позиции
func (m *StopMonitor) closingOrder(pos models.Position, reason string, at time.Time, price decimal.Decimal) *models.Order {
	o := &models.Order{
		ID:          models.NewOrderID(),
		Strategy:    pos.Strategy,
		Symbol:      pos.Symbol,
		Side:        closingSide(pos),
		Quantity:    pos.AbsQuantity(),
		Kind:        models.OrderKindMarket,
		ReduceOnly:  true,
		Reason:      reason,
		State:       models.OrderStatePending,
		SubmittedAt: at,
	}

	StopTriggers.WithLabelValues(pos.Strategy, reason).Inc()
	m.log.Info("forced exit triggered",
		zap.String("strategy", pos.Strategy),
		zap.String("symbol", pos.Symbol),
		zap.String("reason", reason),
		zap.Int64("quantity", pos.AbsQuantity()),
		zap.String("price", price.String()))
	return o
}

// trigger проверяет триггеры выхода в фиксированном порядке приоритета
func (m *StopMonitor) trigger(pos models.Position, tick feed.Tick) (string, bool) {
	if pos.StopPrice != nil {
		if pos.IsLong() && tick.Price.LessThanOrEqual(*pos.StopPrice) {
			return models.OrderReasonStopLoss, true
		}
		if pos.IsShort() && tick.Price.GreaterThanOrEqual(*pos.StopPrice) {
			return models.OrderReasonStopLoss, true
		}
	}

	if pos.TargetPrice != nil {
		if pos.IsLong() && tick.Price.GreaterThanOrEqual(*pos.TargetPrice) {
			return models.OrderReasonTarget, true
		}
		if pos.IsShort() && tick.Price.LessThanOrEqual(*pos.TargetPrice) {
			return models.OrderReasonTarget, true
		}
	}

	if m.squareOffDue(tick.At) {
		return models.OrderReasonSquareOff, true
	}

	return "", false
}

// squareOffDue проверяет достижение времени принудительного закрытия
func (m *StopMonitor) squareOffDue(at time.Time) bool {
	if !m.cfg.SquareOffEnabled {
		return false
	}
	cutoff := time.Date(at.Year(), at.Month(), at.Day(),
		m.cfg.SquareOffHour, m.cfg.SquareOffMinute, 0, 0, at.Location())
	return !at.Before(cutoff)
}
