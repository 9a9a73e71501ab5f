package signal

import (
	"papertrade/internal/models"
)

// Source - источник торговых сигналов стратегии.
// Конечный и воспроизводимый: после Reset выдаёт ту же последовательность.
type Source interface {
	// Next возвращает следующий сигнал. Второе значение false - поток исчерпан.
	Next() (models.Signal, bool)
}

// RiskScoreProvider - внешняя оценка качества сигнала для политики ml_weighted.
// Score возвращает значение в [0,1]. Отсутствие провайдера или оценки
// деградирует сигнал до поведения equal_weight.
type RiskScoreProvider interface {
	Score(sig models.Signal) (float64, bool)
}

// SliceSource - Source поверх заранее известного среза сигналов.
// Используется в реплеях и тестах.
type SliceSource struct {
	signals []models.Signal
	pos     int
}

func NewSliceSource(signals []models.Signal) *SliceSource {
	return &SliceSource{signals: signals}
}

func (s *SliceSource) Next() (models.Signal, bool) {
	if s.pos >= len(s.signals) {
		return models.Signal{}, false
	}
	sig := s.signals[s.pos]
	s.pos++
	return sig, true
}

// Reset перематывает источник на начало
func (s *SliceSource) Reset() {
	s.pos = 0
}

// StaticScores - RiskScoreProvider поверх фиксированной таблицы оценок.
// Ключ - models.Signal.Key().
type StaticScores map[string]float64

func (p StaticScores) Score(sig models.Signal) (float64, bool) {
	v, ok := p[sig.Key()]
	return v, ok
}
