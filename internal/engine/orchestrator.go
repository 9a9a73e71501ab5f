package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"papertrade/internal/config"
	"papertrade/internal/feed"
	"papertrade/internal/models"
	"papertrade/internal/signal"
	"papertrade/pkg/retry"
)

// TradeSink - сток сделок (персистентность вне ядра).
// Fire-and-forget: ошибки логируются и никогда не откатывают исполнение -
// источником истины остаётся леджер в памяти.
type TradeSink interface {
	Record(trade models.Trade) error
}

// SnapshotSink - сток снимков портфеля, та же нефатальная политика
type SnapshotSink interface {
	Record(snap models.PortfolioSnapshot) error
}

// Состояния движка
const (
	engineIdle    = "idle"
	engineRunning = "running"
	engineStopped = "stopped"
)

// Options - внедряемые коллабораторы движка
type Options struct {
	// Ticks - источник тиков модельного времени
	Ticks feed.TickSource

	// Sources - источник сигналов каждой стратегии (по имени).
	// Стратегия без источника торгует только ручными сигналами.
	Sources map[string]signal.Source

	// Scores - внешние оценки для политики ml_weighted, опционально
	Scores signal.RiskScoreProvider

	// TradeSink/SnapshotSink - персистентность, опционально
	TradeSink    TradeSink
	SnapshotSink SnapshotSink

	Logger *zap.Logger
}

// Engine - портфельный оркестратор
//
// Экземпляр владеет всеми компонентами и всем состоянием: глобальных
// синглтонов нет, несколько движков в одном процессе изолированы и могут
// гонять параллельные бэктесты. StrategyRunner'ы опрашиваются на каждом
// шаге, ордера всех продюсеров (сигналы, стопы, ребаланс) идут через
// единый путь валидации и исполнения.
type Engine struct {
	cfg *config.Config
	log *zap.Logger

	board    *feed.Board
	ticks    feed.TickSource
	ledger   *Ledger
	sim      *Simulator
	stops    *StopMonitor
	runners  map[string]*Runner
	alloc    *Allocator
	rebal    *Rebalancer
	acct     *Accountant
	sink     TradeSink
	snapSink SnapshotSink

	notifications chan *models.Notification

	mu            sync.Mutex
	state         string
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	manual        []models.Signal
	notifiedHalts map[string]bool
	sinkWG        sync.WaitGroup

	startedAt time.Time
}

// New собирает движок из конфигурации и коллабораторов.
// Возвращает ошибку при невалидной конфигурации (например, сумма весов > 1).
func New(cfg *config.Config, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Ticks == nil {
		return nil, fmt.Errorf("tick source is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	ledger := NewLedger(cfg.Portfolio)
	sim := NewSimulator(cfg.Sim, ledger, log)

	e := &Engine{
		cfg:           cfg,
		log:           log,
		board:         feed.NewBoard(cfg.Sim.PriceStaleTimeout),
		ticks:         opts.Ticks,
		ledger:        ledger,
		sim:           sim,
		stops:         NewStopMonitor(cfg.Sim, ledger, sim, log),
		runners:       make(map[string]*Runner, len(cfg.Portfolio.Strategies)),
		acct:          NewAccountant(ledger),
		sink:          opts.TradeSink,
		snapSink:      opts.SnapshotSink,
		notifications: make(chan *models.Notification, cfg.Portfolio.NotificationBuffer),
		state:         engineIdle,
		notifiedHalts: make(map[string]bool),
	}
	e.rebal = NewRebalancer(cfg.Portfolio.RebalanceCadence, cfg.Portfolio.MinRebalanceFraction, ledger, log)
	e.alloc = NewAllocator(cfg.Portfolio.AllocationPolicy, e, opts.Scores, log)

	for _, spec := range cfg.Portfolio.Strategies {
		src := opts.Sources[spec.Name]
		if src == nil {
			src = signal.NewSliceSource(nil)
		}
		e.runners[spec.Name] = NewRunner(spec.Name, src, spec.MaxPositions, ledger, log)
	}
	return e, nil
}

// Start запускает цикл обработки тиков.
// Останов - через Stop (синхронный дрейн) либо отменой контекста.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != engineIdle {
		return fmt.Errorf("engine already %s", e.state)
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.state = engineRunning

	e.wg.Add(1)
	go e.run(runCtx)

	e.log.Info("engine started",
		zap.String("policy", e.cfg.Portfolio.AllocationPolicy),
		zap.String("cadence", e.cfg.Portfolio.RebalanceCadence),
		zap.Int("strategies", len(e.runners)))
	return nil
}

// run - главный цикл: тики из источника через канал, чтобы застрявший
// фид всплывал как DATA_STALE по таймауту, а не подвешивал движок
func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	tickCh := make(chan feed.Tick)
	go func() {
		defer close(tickCh)
		for {
			t, ok := e.ticks.Next()
			if !ok {
				return
			}
			select {
			case tickCh <- t:
			case <-ctx.Done():
				return
			}
		}
	}()

	staleTimeout := e.cfg.Sim.PriceStaleTimeout
	for {
		var staleC <-chan time.Time
		var timer *time.Timer
		if staleTimeout > 0 {
			timer = time.NewTimer(staleTimeout)
			staleC = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return
		case t, ok := <-tickCh:
			stopTimer(timer)
			if !ok {
				return
			}
			e.Step(t)
		case <-staleC:
			DataStaleEvents.WithLabelValues("").Inc()
			e.notify(&models.Notification{
				Timestamp: time.Now(),
				Type:      models.NotificationTypeDataStale,
				Severity:  models.SeverityWarn,
				Message:   "price feed stalled, cycle skipped",
				Meta:      map[string]interface{}{"symbols": e.board.Symbols()},
			})
			e.log.Warn("price feed stalled",
				zap.Duration("timeout", staleTimeout),
				zap.Strings("symbols", e.board.Symbols()))
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// Step обрабатывает один тик модельного времени.
//
// Детерминированный конвейер: цены → сигналы → ребаланс → исполнения →
// стопы → снимок. Экспортирован для пошагового прогона в тестах
// и встраивающем коде.
func (e *Engine) Step(tick feed.Tick) {
	started := time.Now()

	e.board.Apply(tick)
	now := e.board.Now()
	if e.startedAt.IsZero() {
		e.startedAt = now
	}
	e.ledger.MarkToMarket(tick.Symbol, tick.Price)

	if signals := e.collectSignals(now); len(signals) > 0 {
		e.placeSignalOrders(signals, now)
	}

	if e.rebal.Due(now) {
		orders := e.rebal.Fire(now)
		for _, o := range orders {
			e.submit(o, now)
		}
		if len(orders) > 0 {
			e.notify(&models.Notification{
				Timestamp: now,
				Type:      models.NotificationTypeRebalance,
				Severity:  models.SeverityInfo,
				Message:   fmt.Sprintf("rebalance emitted %d adjustment orders", len(orders)),
			})
		}
	}

	for _, f := range e.sim.OnTick(tick) {
		e.afterFill(f, now)
	}

	for _, o := range e.stops.Check(tick) {
		e.notify(&models.Notification{
			Timestamp: now,
			Type:      stopNotificationType(o.Reason),
			Severity:  models.SeverityWarn,
			Strategy:  o.Strategy,
			Symbol:    o.Symbol,
			Message:   fmt.Sprintf("forced exit %s %d %s", o.Side, o.Quantity, o.Symbol),
		})
		e.submit(o, now)
	}

	snap := e.acct.Step(now)
	if e.snapSink != nil {
		e.persistSnapshot(snap)
	}

	StepLatency.Observe(float64(time.Since(started).Microseconds()) / 1000.0)
}

// collectSignals собирает созревшие сигналы: сначала ручные, затем
// раннеры в стабильном порядке имён
func (e *Engine) collectSignals(now time.Time) []models.Signal {
	e.mu.Lock()
	signals := e.manual
	e.manual = nil
	e.mu.Unlock()

	names := make([]string, 0, len(e.runners))
	for name := range e.runners {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		signals = append(signals, e.runners[name].Poll(now)...)
	}
	return signals
}

// placeSignalOrders распределяет капитал по сигналам и создаёт ордера.
// Аллокация ограничивает номинал: явный размер сигнала усечётся до
// выделенного капитала, сигнал без размера получает его целиком.
func (e *Engine) placeSignalOrders(signals []models.Signal, now time.Time) {
	allocs := e.alloc.Allocate(signals, e.ledger.TotalEquity())

	for i, sig := range signals {
		q, err := e.board.Latest(sig.Symbol)
		if err != nil {
			e.log.Warn("signal skipped: no price",
				zap.String("strategy", sig.StrategyID),
				zap.String("symbol", sig.Symbol))
			continue
		}
		if q.Stale {
			// Откат на последнюю известную цену с предупреждением
			DataStaleEvents.WithLabelValues(sig.Symbol).Inc()
			e.log.Warn("stale price, using last known",
				zap.String("symbol", sig.Symbol),
				zap.Time("as_of", q.AsOf))
		}

		qty := sig.Quantity
		if q.Price.IsPositive() {
			maxQty := allocs[i].Div(q.Price).IntPart()
			if qty == 0 || qty > maxQty {
				qty = maxQty
			}
		}
		if qty <= 0 {
			e.log.Debug("signal dropped: zero allocated quantity",
				zap.String("strategy", sig.StrategyID),
				zap.String("symbol", sig.Symbol))
			continue
		}

		e.submit(&models.Order{
			ID:               models.NewOrderID(),
			Strategy:         sig.StrategyID,
			Symbol:           sig.Symbol,
			Side:             sig.Side,
			Quantity:         qty,
			Kind:             models.OrderKindMarket,
			ProtectiveStop:   sig.SuggestedStop,
			ProtectiveTarget: sig.SuggestedTarget,
			Reason:           models.OrderReasonSignal,
			State:            models.OrderStatePending,
			SubmittedAt:      now,
		}, now)
	}
}

// submit проводит ордер через валидацию и, при принятии, в симулятор
func (e *Engine) submit(o *models.Order, now time.Time) {
	q, err := e.board.Latest(o.Symbol)
	if err != nil {
		e.log.Warn("order dropped: no price for validation",
			zap.String("order_id", o.ID),
			zap.String("symbol", o.Symbol))
		return
	}

	_, exists := e.ledger.Position(o.Strategy, o.Symbol)
	d := ValidateOrder(o, e.ledger.View(o.Strategy), q.Price, e.cfg.Sim.MarginRate(o.Symbol), !exists)
	if !d.Accepted {
		o.State = models.OrderStateRejected
		o.RejectionReason = d.Reason
		OrdersRejected.WithLabelValues(o.Strategy, d.Reason).Inc()
		e.notify(&models.Notification{
			Timestamp: now,
			Type:      models.NotificationTypeReject,
			Severity:  models.SeverityWarn,
			Strategy:  o.Strategy,
			Symbol:    o.Symbol,
			Message:   fmt.Sprintf("order rejected: %s", d.Reason),
			Meta: map[string]interface{}{
				"state":      o.State,
				"state_info": StateInfo(o.State),
			},
		})
		e.log.Info("order rejected",
			zap.String("order_id", o.ID),
			zap.String("strategy", o.Strategy),
			zap.String("reason", d.Reason))
		return
	}

	e.sim.Submit(o, now)
}

// afterFill разносит исполнение по подписчикам
func (e *Engine) afterFill(f Fill, now time.Time) {
	if r, ok := e.runners[f.Order.Strategy]; ok {
		r.OnFill(f.Trade)
	}
	if e.sink != nil {
		e.persistTrade(f.Trade)
	}

	e.notify(&models.Notification{
		Timestamp: now,
		Type:      models.NotificationTypeFill,
		Severity:  models.SeverityInfo,
		Strategy:  f.Order.Strategy,
		Symbol:    f.Order.Symbol,
		Message: fmt.Sprintf("%s %d %s @ %s",
			f.Order.Side, f.Trade.Quantity, f.Trade.Symbol, f.Trade.Price),
	})

	// Нарушение инварианта в леджере останавливает стратегию - сообщаем один раз
	if view := e.ledger.View(f.Order.Strategy); view.Halted && !e.notifiedHalts[f.Order.Strategy] {
		e.notifiedHalts[f.Order.Strategy] = true
		alloc, _ := e.ledger.Allocation(f.Order.Strategy)
		e.notify(&models.Notification{
			Timestamp: now,
			Type:      models.NotificationTypeStrategyHalt,
			Severity:  models.SeverityError,
			Strategy:  f.Order.Strategy,
			Message:   fmt.Sprintf("strategy halted: %s", alloc.HaltReason),
		})
	}
}

// persistTrade пишет сделку в сток в фоне, с повторами.
// Ошибки нефатальны и никогда не откатывают исполнение.
func (e *Engine) persistTrade(t models.Trade) {
	e.sinkWG.Add(1)
	go func() {
		defer e.sinkWG.Done()
		cfg := retry.ConservativeConfig()
		err := retry.Do(context.Background(), func() error {
			return e.sink.Record(t)
		}, cfg)
		if err != nil {
			e.log.Error("trade sink failed",
				zap.String("trade_id", t.ID),
				zap.Error(err))
		}
	}()
}

func (e *Engine) persistSnapshot(snap models.PortfolioSnapshot) {
	e.sinkWG.Add(1)
	go func() {
		defer e.sinkWG.Done()
		if err := e.snapSink.Record(snap); err != nil {
			e.log.Error("snapshot sink failed", zap.Error(err))
		}
	}()
}

// Stop выполняет синхронный дрейн и возвращает итоговый отчёт:
// отмена всех неисполненных ордеров, принудительное закрытие позиций
// по последней известной цене с причиной ENGINE_STOP, терминальный
// снимок портфеля. Всегда успешен и возвращает всё, что удалось
// посчитать, с аннотацией остановленных стратегий.
func (e *Engine) Stop() models.PerformanceSummary {
	e.mu.Lock()
	if e.state == engineStopped {
		e.mu.Unlock()
		return e.acct.Summary(e.startedAt, e.board.Now(), nil)
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.state = engineStopped
	e.mu.Unlock()

	e.wg.Wait()

	now := e.board.Now()
	if now.IsZero() {
		now = time.Now()
	}

	for _, o := range e.sim.CancelAll(models.RejectEngineStop) {
		e.log.Info("order cancelled on engine stop", zap.String("order_id", o.ID))
	}

	var forced []models.ForcedClose
	for _, pos := range e.ledger.OpenPositions() {
		price := pos.CurrentPrice
		if q, err := e.board.Latest(pos.Symbol); err == nil {
			price = q.Price
		}
		f := e.sim.ForceClose(pos, price, now, models.OrderReasonEngineStop)
		forced = append(forced, models.ForcedClose{
			Strategy: pos.Strategy,
			Symbol:   pos.Symbol,
			Quantity: pos.AbsQuantity(),
			Price:    f.Trade.Price,
			Reason:   models.OrderReasonEngineStop,
		})
		if e.sink != nil {
			e.persistTrade(f.Trade)
		}
	}

	// Терминальный снимок до возврата
	final := e.acct.Step(now)
	if e.snapSink != nil {
		e.persistSnapshot(final)
	}
	e.sinkWG.Wait()

	e.notify(&models.Notification{
		Timestamp: now,
		Type:      models.NotificationTypeEngineStop,
		Severity:  models.SeverityInfo,
		Message:   fmt.Sprintf("engine stopped, %d positions force-closed", len(forced)),
	})

	e.log.Info("engine stopped",
		zap.Int("forced_closes", len(forced)),
		zap.Int("trades", len(e.ledger.Trades())))

	return e.acct.Summary(e.startedAt, now, forced)
}

// SubmitManualSignal ставит внеполосный сигнал в очередь следующего шага
func (e *Engine) SubmitManualSignal(sig models.Signal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == engineStopped {
		return fmt.Errorf("engine stopped")
	}
	if _, ok := e.runners[sig.StrategyID]; !ok {
		return fmt.Errorf("unknown strategy %q", sig.StrategyID)
	}
	e.manual = append(e.manual, sig)
	return nil
}

// GetSnapshot возвращает последний снимок портфеля
func (e *Engine) GetSnapshot() models.PortfolioSnapshot {
	return e.acct.Snapshot()
}

// GetOpenPositions возвращает открытые позиции всех стратегий
func (e *Engine) GetOpenPositions() []models.Position {
	return e.ledger.OpenPositions()
}

// GetTradeLog возвращает журнал сделок
func (e *Engine) GetTradeLog() []models.Trade {
	return e.ledger.Trades()
}

// Notifications возвращает канал событий движка (для hub'а/CLI)
func (e *Engine) Notifications() <-chan *models.Notification {
	return e.notifications
}

// ============ StrategyStats для AllocationEngine ============

// Volatility делегирует трейлинг-волатильность бухгалтеру
func (e *Engine) Volatility(strategy string) (float64, bool) {
	return e.acct.Volatility(strategy)
}

// WinRate делегирует статистику выигрышей раннеру стратегии
func (e *Engine) WinRate(strategy string) (float64, bool) {
	if r, ok := e.runners[strategy]; ok {
		return r.WinRate()
	}
	return 0, false
}

// PayoffRatio делегирует отношение выигрыш/проигрыш раннеру стратегии
func (e *Engine) PayoffRatio(strategy string) (float64, bool) {
	if r, ok := e.runners[strategy]; ok {
		return r.PayoffRatio()
	}
	return 0, false
}

func (e *Engine) notify(n *models.Notification) {
	tryEnqueueNotification(e.notifications, n)
}

func stopNotificationType(reason string) string {
	switch reason {
	case models.OrderReasonStopLoss:
		return models.NotificationTypeStopLoss
	case models.OrderReasonTarget:
		return models.NotificationTypeTarget
	default:
		return models.NotificationTypeSquareOff
	}
}
