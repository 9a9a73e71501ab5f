package engine

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"papertrade/internal/models"
	"papertrade/internal/signal"
)

// Runner тянет поток сигналов одной стратегии и ведёт её торговую статистику
//
// Один экземпляр на стратегию. Сигналы выдаются лениво по мере наступления
// их модельного времени. Локальный лимит позиций применяется до валидации:
// сигналы сверх лимита молча отбрасываются, без повтора.
type Runner struct {
	name         string
	src          signal.Source
	maxPositions int
	ledger       *Ledger
	log          *zap.Logger

	// peeked - прочитанный, но ещё не созревший сигнал
	peeked *models.Signal

	// Статистика закрытий для политики kelly
	wins    int
	losses  int
	winSum  decimal.Decimal
	lossSum decimal.Decimal
}

func NewRunner(name string, src signal.Source, maxPositions int, ledger *Ledger, log *zap.Logger) *Runner {
	return &Runner{
		name:         name,
		src:          src,
		maxPositions: maxPositions,
		ledger:       ledger,
		log:          log,
	}
}

// Name возвращает имя стратегии
func (r *Runner) Name() string { return r.name }

// Poll возвращает сигналы стратегии, созревшие к моменту now.
// Сигналы сверх локального лимита открытых позиций отбрасываются.
func (r *Runner) Poll(now time.Time) []models.Signal {
	var out []models.Signal

	for {
		sig, ok := r.next()
		if !ok {
			break
		}
		if sig.At.After(now) {
			// Ещё не время: возвращаем в буфер до следующего тика
			r.peeked = &sig
			break
		}

		view := r.ledger.View(r.name)
		if view.OpenPositions+len(out) >= r.maxPositions {
			r.log.Debug("signal dropped: strategy position cap",
				zap.String("strategy", r.name),
				zap.String("symbol", sig.Symbol),
				zap.Int("max_positions", r.maxPositions))
			continue
		}
		out = append(out, sig)
	}
	return out
}

func (r *Runner) next() (models.Signal, bool) {
	if r.peeked != nil {
		sig := *r.peeked
		r.peeked = nil
		return sig, true
	}
	return r.src.Next()
}

// OnFill учитывает исполнение в статистике стратегии.
// Выигрыши и проигрыши считаются по реализованной дельте закрывающих сделок.
func (r *Runner) OnFill(t models.Trade) {
	if t.RealizedPnlDelta.IsZero() {
		return
	}
	if t.RealizedPnlDelta.IsPositive() {
		r.wins++
		r.winSum = r.winSum.Add(t.RealizedPnlDelta)
	} else {
		r.losses++
		r.lossSum = r.lossSum.Add(t.RealizedPnlDelta.Abs())
	}
}

// WinRate возвращает долю прибыльных закрытий.
// false - статистики ещё нет (cold start).
func (r *Runner) WinRate() (float64, bool) {
	total := r.wins + r.losses
	if total == 0 {
		return 0, false
	}
	return float64(r.wins) / float64(total), true
}

// PayoffRatio возвращает отношение среднего выигрыша к среднему проигрышу.
// false - нет и выигрышей, и проигрышей, либо средний проигрыш нулевой.
func (r *Runner) PayoffRatio() (float64, bool) {
	if r.wins == 0 || r.losses == 0 {
		return 0, false
	}
	avgWin := r.winSum.Div(decimal.NewFromInt(int64(r.wins)))
	avgLoss := r.lossSum.Div(decimal.NewFromInt(int64(r.losses)))
	if avgLoss.IsZero() {
		return 0, false
	}
	ratio, _ := avgWin.Div(avgLoss).Float64()
	return ratio, true
}
