package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config конфигурация для retry логики
//
// Экспоненциальный backoff с jitter:
// delay = min(InitialDelay * Multiplier^attempt + jitter, MaxDelay)
type Config struct {
	// MaxRetries - максимальное количество попыток (включая первую)
	MaxRetries int

	// InitialDelay - начальная задержка между попытками
	InitialDelay time.Duration

	// MaxDelay - максимальная задержка между попытками
	MaxDelay time.Duration

	// Multiplier - множитель для экспоненциального роста
	Multiplier float64

	// JitterFactor - фактор случайности (0.0 - 1.0)
	JitterFactor float64

	// RetryIf - функция для определения нужно ли retry'ить ошибку.
	// nil = retry все ошибки.
	RetryIf func(error) bool

	// OnRetry - callback вызываемый перед каждым retry (для логирования)
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig возвращает конфигурацию по умолчанию
//
// - 4 попытки
// - Задержки: 100ms, 200ms, 400ms (+ jitter)
func DefaultConfig() Config {
	return Config{
		MaxRetries:   4,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// ConservativeConfig для некритичных операций (например, запись в сток сделок)
//
// - 3 попытки
// - Задержки: 500ms, 1s
func ConservativeConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.2,
	}
}

// validate проверяет и устанавливает значения по умолчанию
func (c *Config) validate() {
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.JitterFactor < 0 {
		c.JitterFactor = 0
	}
	if c.JitterFactor > 1 {
		c.JitterFactor = 1
	}
}

// calculateDelay вычисляет задержку для указанной попытки
func (c *Config) calculateDelay(attempt int) time.Duration {
	delay := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt))

	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}

	if c.JitterFactor > 0 {
		jitter := delay * c.JitterFactor * (rand.Float64()*2 - 1)
		delay += jitter
	}

	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}

// Do выполняет операцию с повторными попытками
//
// Возвращает nil при успехе либо последнюю ошибку, когда все попытки
// исчерпаны или контекст отменён.
func Do(ctx context.Context, operation func() error, cfg Config) error {
	cfg.validate()

	var lastErr error

	for attempt := 0; cfg.MaxRetries <= 0 || attempt < cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return lastErr
			}
			return ctx.Err()
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err

		if cfg.RetryIf != nil && !cfg.RetryIf(err) {
			return err
		}

		// Последняя попытка - не ждём
		if cfg.MaxRetries > 0 && attempt >= cfg.MaxRetries-1 {
			break
		}

		delay := cfg.calculateDelay(attempt)

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, delay)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return lastErr
		}
	}

	return lastErr
}

// RetryIfNotContext не retry'ит ошибки контекста (cancel, timeout)
func RetryIfNotContext(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// PermanentError оборачивает ошибку которую не нужно retry'ить
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent оборачивает ошибку в PermanentError
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent проверяет, помечена ли ошибка как постоянная
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
