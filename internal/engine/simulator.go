package engine

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"papertrade/internal/config"
	"papertrade/internal/feed"
	"papertrade/internal/models"
)

// bookEntry - принятый ордер в книге символа
type bookEntry struct {
	order *models.Order
	// readyAt - момент модельного времени, раньше которого ордер не
	// исполняется (задержка исполнения). Задержка постоянна, поэтому
	// порядок readyAt внутри символа совпадает с порядком поступления
	// и не переупорядочивает исполнения.
	readyAt time.Time
}

// Fill - результат исполнения: терминальный ордер и его сделка
type Fill struct {
	Order *models.Order
	Trade models.Trade
}

// Simulator превращает принятые ордера в исполнения
//
// State machine ордера: PENDING → OPEN → {EXECUTED, CANCELLED, REJECTED},
// состояние принадлежит исключительно симулятору. Книга ведётся отдельно
// по каждому символу в порядке поступления (FIFO), исполнения по символу
// строго сериализованы.
type Simulator struct {
	mu     sync.Mutex
	cfg    config.SimConfig
	ledger *Ledger
	log    *zap.Logger
	books  map[string][]*bookEntry
}

func NewSimulator(cfg config.SimConfig, ledger *Ledger, log *zap.Logger) *Simulator {
	return &Simulator{
		cfg:    cfg,
		ledger: ledger,
		log:    log,
		books:  make(map[string][]*bookEntry),
	}
}

// Submit принимает прошедший валидацию ордер в книгу символа.
// PENDING → OPEN; исполнение произойдёт на следующем тике, когда
// пройдёт задержка и выполнится ценовое условие.
func (s *Simulator) Submit(o *models.Order, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o.State = models.OrderStateOpen
	o.SubmittedAt = now
	s.books[o.Symbol] = append(s.books[o.Symbol], &bookEntry{
		order:   o,
		readyAt: now.Add(s.cfg.ExecutionDelay),
	})

	OrdersSubmitted.WithLabelValues(o.Strategy, o.Reason).Inc()
	s.log.Debug("order accepted",
		zap.String("order_id", o.ID),
		zap.String("strategy", o.Strategy),
		zap.String("symbol", o.Symbol),
		zap.String("side", o.Side),
		zap.Int64("quantity", o.Quantity),
		zap.String("kind", o.Kind))
}

// OnTick исполняет созревшие ордера книги символа по цене тика.
//
// Книга обходится в порядке поступления: исполнения одного символа
// никогда не переупорядочиваются. На каждый EXECUTED ордер создаётся
// ровно один Trade, комиссия списывается при исполнении и вычитается
// из капитала независимо от знака PNL.
func (s *Simulator) OnTick(tick feed.Tick) []Fill {
	s.mu.Lock()
	defer s.mu.Unlock()

	book := s.books[tick.Symbol]
	if len(book) == 0 {
		return nil
	}

	var fills []Fill
	var remaining []*bookEntry

	for _, e := range book {
		if tick.At.Before(e.readyAt) {
			remaining = append(remaining, e)
			continue
		}
		price, ok := s.fillPrice(e.order, tick.Price)
		if !ok {
			remaining = append(remaining, e)
			continue
		}
		fills = append(fills, s.execute(e.order, price, tick.At))
	}

	if len(remaining) == 0 {
		delete(s.books, tick.Symbol)
	} else {
		s.books[tick.Symbol] = remaining
	}
	return fills
}

// fillPrice возвращает цену исполнения ордера на тике price,
// либо false, если условие исполнения ещё не выполнено
func (s *Simulator) fillPrice(o *models.Order, price decimal.Decimal) (decimal.Decimal, bool) {
	switch o.Kind {
	case models.OrderKindMarket:
		return s.slipped(o.Side, price), true

	case models.OrderKindLimit:
		// BUY исполняется при цене ≤ лимита, SELL при цене ≥ лимита,
		// всегда по лимитной цене
		if o.LimitPrice == nil {
			return decimal.Zero, false
		}
		if o.Side == models.SideBuy && price.LessThanOrEqual(*o.LimitPrice) {
			return *o.LimitPrice, true
		}
		if o.Side == models.SideSell && price.GreaterThanOrEqual(*o.LimitPrice) {
			return *o.LimitPrice, true
		}
		return decimal.Zero, false

	case models.OrderKindStop, models.OrderKindStopMarket:
		// Триггер в неблагоприятном направлении: SELL-стоп при падении
		// до стоп-цены, BUY-стоп при росте до стоп-цены
		if o.StopPrice == nil {
			return decimal.Zero, false
		}
		if o.Side == models.SideSell && price.LessThanOrEqual(*o.StopPrice) {
			return s.slipped(o.Side, price), true
		}
		if o.Side == models.SideBuy && price.GreaterThanOrEqual(*o.StopPrice) {
			return s.slipped(o.Side, price), true
		}
		return decimal.Zero, false
	}
	return decimal.Zero, false
}

// slipped применяет проскальзывание, всегда против трейдера:
// покупка дороже, продажа дешевле
func (s *Simulator) slipped(side string, price decimal.Decimal) decimal.Decimal {
	adj := price.Mul(s.cfg.SlippageRate)
	if side == models.SideBuy {
		return price.Add(adj)
	}
	return price.Sub(adj)
}

// execute переводит ордер в EXECUTED и применяет сделку к леджеру.
// Вызывать под мьютексом.
func (s *Simulator) execute(o *models.Order, price decimal.Decimal, at time.Time) Fill {
	o.State = models.OrderStateExecuted
	o.ExecutedPrice = &price
	o.ExecutedAt = &at

	trade := models.Trade{
		ID:         models.NewTradeID(),
		OrderID:    o.ID,
		Strategy:   o.Strategy,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Quantity:   o.Quantity,
		Price:      price,
		Timestamp:  at,
		Commission: s.cfg.Commission,
	}

	done, err := s.ledger.Apply(trade, o, s.cfg.MarginRate(o.Symbol))
	if err != nil {
		// Инвариант маржи: леджер уже остановил стратегию, исполнение
		// при этом состоялось и остаётся в журнале
		s.log.Error("ledger invariant violated on fill",
			zap.String("strategy", o.Strategy),
			zap.String("symbol", o.Symbol),
			zap.Error(err))
	}

	FillsExecuted.WithLabelValues(o.Strategy, o.Symbol, o.Side).Inc()
	s.log.Info("order executed",
		zap.String("order_id", o.ID),
		zap.String("strategy", o.Strategy),
		zap.String("symbol", o.Symbol),
		zap.String("side", o.Side),
		zap.Int64("quantity", o.Quantity),
		zap.String("price", price.String()),
		zap.String("realized_pnl_delta", done.RealizedPnlDelta.String()))

	return Fill{Order: o, Trade: done}
}

// HasWorking возвращает true, если у стратегии есть неисполненный ордер
// по символу (используется StopMonitor'ом для подавления дублей)
func (s *Simulator) HasWorking(strategy, symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.books[symbol] {
		if e.order.Strategy == strategy {
			return true
		}
	}
	return false
}

// OpenOrders возвращает копии всех неисполненных ордеров
func (s *Simulator) OpenOrders() []models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Order
	for _, book := range s.books {
		for _, e := range book {
			out = append(out, *e.order)
		}
	}
	return out
}

// CancelAll переводит все неисполненные ордера в CANCELLED (остановка движка)
func (s *Simulator) CancelAll(reason string) []models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cancelled []models.Order
	for symbol, book := range s.books {
		for _, e := range book {
			e.order.State = models.OrderStateCancelled
			e.order.RejectionReason = reason
			cancelled = append(cancelled, *e.order)
			s.log.Info("order cancelled",
				zap.String("order_id", e.order.ID),
				zap.String("reason", reason))
		}
		delete(s.books, symbol)
	}
	return cancelled
}

// ForceClose немедленно закрывает позицию рыночным ордером по последней
// известной цене, минуя книгу и задержку (синхронный дрейн при остановке)
func (s *Simulator) ForceClose(pos models.Position, price decimal.Decimal, at time.Time, reason string) Fill {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := &models.Order{
		ID:          models.NewOrderID(),
		Strategy:    pos.Strategy,
		Symbol:      pos.Symbol,
		Side:        closingSide(pos),
		Quantity:    pos.AbsQuantity(),
		Kind:        models.OrderKindMarket,
		ReduceOnly:  true,
		Reason:      reason,
		State:       models.OrderStateOpen,
		SubmittedAt: at,
	}
	return s.execute(o, s.slipped(o.Side, price), at)
}

// closingSide возвращает сторону закрывающего ордера для позиции
func closingSide(pos models.Position) string {
	if pos.IsLong() {
		return models.SideSell
	}
	return models.SideBuy
}
