package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"papertrade/internal/config"
	"papertrade/internal/models"
)

// ErrMarginInvariant - занятая маржа превысила капитал стратегии.
// Нарушение фатально только для саб-леджера виновной стратегии.
var ErrMarginInvariant = fmt.Errorf("used margin exceeds strategy equity")

// strategyBook - саб-леджер одной стратегии
type strategyBook struct {
	spec       config.StrategySpec
	cash       decimal.Decimal
	usedMargin decimal.Decimal
	positions  map[string]*models.Position
	halted     bool
	haltReason string
}

// Ledger - авторитетный источник позиций, денежных средств и маржи
//
// Единственное разделяемое мутабельное состояние движка. Мутируется только
// исполнениями (Apply) и переводами капитала при ребалансе. Каждый экземпляр
// движка владеет собственным леджером: параллельные бэктесты изолированы.
type Ledger struct {
	mu      sync.RWMutex
	books   map[string]*strategyBook
	reserve decimal.Decimal // нераспределённый кэш портфеля (1 - Σ весов)
	trades  []models.Trade
}

// NewLedger распределяет стартовый капитал по стратегиям согласно целевым весам
func NewLedger(pf config.PortfolioConfig) *Ledger {
	l := &Ledger{
		books: make(map[string]*strategyBook, len(pf.Strategies)),
	}

	allocated := decimal.Zero
	for _, spec := range pf.Strategies {
		cash := pf.InitialCapital.Mul(decimal.NewFromFloat(spec.TargetWeight))
		allocated = allocated.Add(cash)
		l.books[spec.Name] = &strategyBook{
			spec:      spec,
			cash:      cash,
			positions: make(map[string]*models.Position),
		}
	}
	l.reserve = pf.InitialCapital.Sub(allocated)
	return l
}

// Apply применяет исполнение к саб-леджеру стратегии (неттинг)
//
// Правила:
//   - исполнение в направлении позиции расширяет её и пересчитывает
//     средневзвешенную цену;
//   - встречное исполнение сначала реализует PNL на пересекающемся
//     количестве, затем сокращает, обнуляет или переворачивает позицию
//     (при перевороте средняя цена сбрасывается на цену исполнения);
//   - позиция удаляется при возврате количества к нулю.
//
// Возвращает завершённую запись Trade с заполненной RealizedPnlDelta.
// Кэш двигается на полный номинал: покупка списывает номинал и комиссию,
// продажа зачисляет номинал за вычетом комиссии.
func (l *Ledger) Apply(t models.Trade, o *models.Order, marginRate decimal.Decimal) (models.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	book, ok := l.books[t.Strategy]
	if !ok {
		return t, fmt.Errorf("unknown strategy %q", t.Strategy)
	}

	qty := t.Quantity
	signed := qty
	if t.Side == models.SideSell {
		signed = -qty
	}
	notional := t.Price.Mul(decimal.NewFromInt(qty))

	// Движение кэша не зависит от неттинга
	if t.Side == models.SideBuy {
		book.cash = book.cash.Sub(notional).Sub(t.Commission)
	} else {
		book.cash = book.cash.Add(notional).Sub(t.Commission)
	}

	realized := decimal.Zero
	pos, exists := book.positions[t.Symbol]

	switch {
	case !exists:
		pos = &models.Position{
			Strategy:       t.Strategy,
			Symbol:         t.Symbol,
			SignedQuantity: signed,
			AveragePrice:   t.Price,
			CurrentPrice:   t.Price,
			StopPrice:      o.ProtectiveStop,
			TargetPrice:    o.ProtectiveTarget,
			EntryMargin:    notional.Mul(marginRate),
			OpenedAt:       t.Timestamp,
		}
		pos.RealizedPnl = pos.RealizedPnl.Sub(t.Commission)
		book.usedMargin = book.usedMargin.Add(pos.EntryMargin)
		book.positions[t.Symbol] = pos

	case sameDirection(pos.SignedQuantity, signed):
		// Расширение: средневзвешенная цена, дополнительная маржа
		oldAbs := decimal.NewFromInt(pos.AbsQuantity())
		addAbs := decimal.NewFromInt(qty)
		pos.AveragePrice = pos.AveragePrice.Mul(oldAbs).
			Add(t.Price.Mul(addAbs)).
			Div(oldAbs.Add(addAbs))
		pos.SignedQuantity += signed
		addMargin := notional.Mul(marginRate)
		pos.EntryMargin = pos.EntryMargin.Add(addMargin)
		pos.RealizedPnl = pos.RealizedPnl.Sub(t.Commission)
		book.usedMargin = book.usedMargin.Add(addMargin)
		if o.ProtectiveStop != nil {
			pos.StopPrice = o.ProtectiveStop
		}
		if o.ProtectiveTarget != nil {
			pos.TargetPrice = o.ProtectiveTarget
		}

	default:
		// Встречное исполнение: реализация на пересечении
		overlap := minInt64(qty, pos.AbsQuantity())
		dir := decimal.NewFromInt(1)
		if pos.IsShort() {
			dir = decimal.NewFromInt(-1)
		}
		realized = t.Price.Sub(pos.AveragePrice).
			Mul(decimal.NewFromInt(overlap)).
			Mul(dir)
		pos.RealizedPnl = pos.RealizedPnl.Add(realized).Sub(t.Commission)

		// Освобождение маржи пропорционально закрытой доле
		released := pos.EntryMargin.Mul(decimal.NewFromInt(overlap)).
			Div(decimal.NewFromInt(pos.AbsQuantity()))
		pos.EntryMargin = pos.EntryMargin.Sub(released)
		book.usedMargin = book.usedMargin.Sub(released)

		remainder := qty - overlap
		pos.SignedQuantity += signed

		switch {
		case pos.SignedQuantity == 0:
			delete(book.positions, t.Symbol)
		case remainder > 0:
			// Переворот: остаток открывает позицию в новом направлении
			pos.AveragePrice = t.Price
			flipMargin := t.Price.Mul(decimal.NewFromInt(remainder)).Mul(marginRate)
			book.usedMargin = book.usedMargin.Sub(pos.EntryMargin).Add(flipMargin)
			pos.EntryMargin = flipMargin
			pos.OpenedAt = t.Timestamp
			pos.StopPrice = o.ProtectiveStop
			pos.TargetPrice = o.ProtectiveTarget
		}
	}

	if p, ok := book.positions[t.Symbol]; ok {
		p.CurrentPrice = t.Price
		p.UnrealizedPnl = p.UnrealizedAt(t.Price)
	}

	t.RealizedPnlDelta = realized
	l.trades = append(l.trades, t)

	// Инвариант маржи: занятая маржа не превышает капитал стратегии.
	// Нарушение означает обход валидатора - стратегия останавливается.
	if book.usedMargin.GreaterThan(l.equityLocked(book)) {
		book.halted = true
		book.haltReason = ErrMarginInvariant.Error()
		return t, ErrMarginInvariant
	}

	return t, nil
}

// MarkToMarket обновляет текущую цену и нереализованный PNL по символу
func (l *Ledger) MarkToMarket(symbol string, price decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, book := range l.books {
		if pos, ok := book.positions[symbol]; ok {
			pos.CurrentPrice = price
			pos.UnrealizedPnl = pos.UnrealizedAt(price)
		}
	}
}

// Position возвращает копию позиции стратегии по символу
func (l *Ledger) Position(strategy, symbol string) (models.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	book, ok := l.books[strategy]
	if !ok {
		return models.Position{}, false
	}
	pos, ok := book.positions[symbol]
	if !ok {
		return models.Position{}, false
	}
	return *pos, true
}

// UnrealizedPnl пересчитывает нереализованный PNL позиции по цене price
func (l *Ledger) UnrealizedPnl(strategy, symbol string, price decimal.Decimal) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	book, ok := l.books[strategy]
	if !ok {
		return decimal.Zero
	}
	pos, ok := book.positions[symbol]
	if !ok {
		return decimal.Zero
	}
	return pos.UnrealizedAt(price)
}

// PositionsForSymbol возвращает открытые позиции по символу во всех
// стратегиях, отсортированные по времени открытия (oldest first) -
// детерминированный порядок обхода для StopMonitor
func (l *Ledger) PositionsForSymbol(symbol string) []models.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []models.Position
	for _, book := range l.books {
		if pos, ok := book.positions[symbol]; ok {
			out = append(out, *pos)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].Strategy < out[j].Strategy
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// OpenPositions возвращает копии всех открытых позиций
func (l *Ledger) OpenPositions() []models.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []models.Position
	for _, book := range l.books {
		for _, pos := range book.positions {
			out = append(out, *pos)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			if out[i].Strategy == out[j].Strategy {
				return out[i].Symbol < out[j].Symbol
			}
			return out[i].Strategy < out[j].Strategy
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// Trades возвращает копию журнала сделок
func (l *Ledger) Trades() []models.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// View возвращает неизменяемый срез аллокации стратегии для валидатора
func (l *Ledger) View(strategy string) models.AllocationView {
	l.mu.RLock()
	defer l.mu.RUnlock()

	book, ok := l.books[strategy]
	if !ok {
		return models.AllocationView{Strategy: strategy, Halted: true}
	}
	return models.AllocationView{
		Strategy:        strategy,
		AvailableMargin: l.equityLocked(book).Sub(book.usedMargin),
		OpenPositions:   len(book.positions),
		MaxPositions:    book.spec.MaxPositions,
		Halted:          book.halted,
	}
}

// Allocation возвращает текущее состояние аллокации стратегии
func (l *Ledger) Allocation(strategy string) (models.StrategyAllocation, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	book, ok := l.books[strategy]
	if !ok {
		return models.StrategyAllocation{}, false
	}
	return models.StrategyAllocation{
		StrategyName:      strategy,
		TargetWeight:      book.spec.TargetWeight,
		Cash:              book.cash,
		UsedMargin:        book.usedMargin,
		OpenPositionCount: len(book.positions),
		MaxPositions:      book.spec.MaxPositions,
		Halted:            book.halted,
		HaltReason:        book.haltReason,
	}, true
}

// Equity возвращает капитал стратегии: кэш + рыночная стоимость позиций
func (l *Ledger) Equity(strategy string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	book, ok := l.books[strategy]
	if !ok {
		return decimal.Zero
	}
	return l.equityLocked(book)
}

// TotalEquity возвращает суммарный капитал портфеля, включая резерв
func (l *Ledger) TotalEquity() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := l.reserve
	for _, book := range l.books {
		total = total.Add(l.equityLocked(book))
	}
	return total
}

// Snapshot собирает снимок портфеля на момент at.
// Cash = Σ кэшей стратегий + резерв; StrategyBreakdown - рыночная
// стоимость позиций каждой стратегии. Инвариант снимка
// TotalEquity == Cash + Σ Breakdown выполняется по построению.
func (l *Ledger) Snapshot(at time.Time) models.PortfolioSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snap := models.PortfolioSnapshot{
		Timestamp:         at,
		Cash:              l.reserve,
		StrategyBreakdown: make(map[string]decimal.Decimal, len(l.books)),
	}
	for name, book := range l.books {
		snap.Cash = snap.Cash.Add(book.cash)
		mv := decimal.Zero
		for _, pos := range book.positions {
			mv = mv.Add(pos.MarketValue(pos.CurrentPrice))
		}
		snap.StrategyBreakdown[name] = mv
	}
	snap.TotalEquity = snap.Cash
	for _, mv := range snap.StrategyBreakdown {
		snap.TotalEquity = snap.TotalEquity.Add(mv)
	}
	return snap
}

// TransferCash переводит кэш между саб-леджерами (ребаланс).
// Сумма усечётся до доступного кэша источника; перевод не может
// увести кэш источника в минус.
func (l *Ledger) TransferCash(from, to string, amount decimal.Decimal) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	src, ok1 := l.books[from]
	dst, ok2 := l.books[to]
	if !ok1 || !ok2 || amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	if amount.GreaterThan(src.cash) {
		amount = src.cash
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	src.cash = src.cash.Sub(amount)
	dst.cash = dst.cash.Add(amount)
	return amount
}

// HaltStrategy останавливает стратегию с указанием причины
func (l *Ledger) HaltStrategy(strategy, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if book, ok := l.books[strategy]; ok {
		book.halted = true
		book.haltReason = reason
	}
}

// HaltedStrategies возвращает остановленные стратегии с причинами
func (l *Ledger) HaltedStrategies() []models.HaltedStrategy {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []models.HaltedStrategy
	for name, book := range l.books {
		if book.halted {
			out = append(out, models.HaltedStrategy{Strategy: name, Reason: book.haltReason})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strategy < out[j].Strategy })
	return out
}

// Strategies возвращает имена стратегий в стабильном порядке
func (l *Ledger) Strategies() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, 0, len(l.books))
	for name := range l.books {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// equityLocked считает капитал стратегии. Вызывать под мьютексом.
func (l *Ledger) equityLocked(book *strategyBook) decimal.Decimal {
	eq := book.cash
	for _, pos := range book.positions {
		eq = eq.Add(pos.MarketValue(pos.CurrentPrice))
	}
	return eq
}

func sameDirection(a, b int64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
