package feed

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrPriceUnavailable - цена по символу ещё не поступала
var ErrPriceUnavailable = errors.New("price unavailable")

// Tick - одно обновление цены по символу
type Tick struct {
	Symbol string
	Price  decimal.Decimal
	At     time.Time
}

// Quote - последняя известная цена с признаком устаревания
type Quote struct {
	Symbol string
	Price  decimal.Decimal
	AsOf   time.Time
	Stale  bool
}

// PriceFeed - источник последних цен для симулятора и монитора стопов
type PriceFeed interface {
	Latest(symbol string) (Quote, error)
}

// TickSource - поток тиков, которым движок кормит свой цикл
type TickSource interface {
	// Next возвращает следующий тик. Второе значение false - поток исчерпан.
	Next() (Tick, bool)
}

// ============ БОРД ПОСЛЕДНИХ ЦЕН ============

// Board хранит последнюю цену по каждому символу.
// Устаревание определяется относительно "часов" борда (время последнего
// принятого тика), а не wall clock - так реплей исторических данных
// даёт те же результаты, что и живой прогон.
type Board struct {
	mu           sync.RWMutex
	quotes       map[string]Quote
	clock        time.Time
	staleTimeout time.Duration
}

// NewBoard создаёт борд с заданным таймаутом устаревания.
// staleTimeout <= 0 отключает проверку устаревания.
func NewBoard(staleTimeout time.Duration) *Board {
	return &Board{
		quotes:       make(map[string]Quote),
		staleTimeout: staleTimeout,
	}
}

// Apply принимает тик: обновляет цену символа и двигает часы борда вперёд
func (b *Board) Apply(t Tick) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.quotes[t.Symbol] = Quote{
		Symbol: t.Symbol,
		Price:  t.Price,
		AsOf:   t.At,
	}
	if t.At.After(b.clock) {
		b.clock = t.At
	}
}

// Latest возвращает последнюю цену символа.
// Quote.Stale = true, если цена старше staleTimeout относительно часов борда.
func (b *Board) Latest(symbol string) (Quote, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	q, ok := b.quotes[symbol]
	if !ok {
		return Quote{}, ErrPriceUnavailable
	}
	if b.staleTimeout > 0 && b.clock.Sub(q.AsOf) > b.staleTimeout {
		q.Stale = true
	}
	return q, nil
}

// Now возвращает текущее время борда (время последнего тика)
func (b *Board) Now() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.clock
}

// Symbols возвращает список символов, по которым есть цены
func (b *Board) Symbols() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.quotes))
	for s := range b.quotes {
		out = append(out, s)
	}
	return out
}

// ============ РЕПЛЕЙ ИСТОРИИ ============

// ReplaySource - TickSource поверх заранее загруженного среза тиков.
// Тики отдаются в порядке следования среза, без сортировки.
type ReplaySource struct {
	ticks []Tick
	pos   int
}

func NewReplaySource(ticks []Tick) *ReplaySource {
	return &ReplaySource{ticks: ticks}
}

func (r *ReplaySource) Next() (Tick, bool) {
	if r.pos >= len(r.ticks) {
		return Tick{}, false
	}
	t := r.ticks[r.pos]
	r.pos++
	return t, true
}

// Reset перематывает реплей на начало
func (r *ReplaySource) Reset() {
	r.pos = 0
}
