package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Database  DatabaseConfig
	Logging   LoggingConfig
	Sim       SimConfig
	Portfolio PortfolioConfig
}

// DatabaseConfig - настройки подключения к БД (сток сделок/снимков)
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// SimConfig - параметры симуляции исполнения
//
// Константы проскальзывания/комиссии/маржи намеренно вынесены в конфигурацию:
// в исходных модулях они были разбросаны с немного разными значениями.
type SimConfig struct {
	// SlippageRate - доля проскальзывания (0.0005 = 0.05%).
	// Всегда работает против трейдера: BUY дороже, SELL дешевле.
	SlippageRate decimal.Decimal

	// Commission - фиксированная комиссия за исполнение одного ордера.
	// Вычитается из капитала независимо от знака PNL.
	Commission decimal.Decimal

	// Маржинальные ставки от номинала позиции
	OptionMarginRate  decimal.Decimal // для опционных инструментов
	DefaultMarginRate decimal.Decimal // для всех остальных

	// OptionSymbols - символы, классифицируемые как опционные
	OptionSymbols map[string]bool

	// ExecutionDelay - модельная задержка между принятием и исполнением.
	// Не переупорядочивает исполнения одного символа (FIFO по приёму).
	ExecutionDelay time.Duration

	// PriceStaleTimeout - после этого интервала без обновлений цена
	// считается устаревшей (DATA_STALE)
	PriceStaleTimeout time.Duration

	// SquareOffEnabled/SquareOffHour/SquareOffMinute - время принудительного
	// закрытия всех позиций внутри торгового дня
	SquareOffEnabled bool
	SquareOffHour    int
	SquareOffMinute  int
}

// StrategySpec - конфигурация одной стратегии портфеля
type StrategySpec struct {
	Name         string
	TargetWeight float64
	MaxPositions int
}

// PortfolioConfig - параметры портфельного оркестратора
type PortfolioConfig struct {
	InitialCapital decimal.Decimal

	// CashReserveWeight = 1 - Σ весов стратегий (вычисляется при валидации)
	Strategies []StrategySpec

	// AllocationPolicy: equal_weight, risk_parity, kelly, ml_weighted
	AllocationPolicy string

	// RebalanceCadence: daily, weekly, monthly, quarterly
	RebalanceCadence string

	// MinRebalanceFraction - минимальное относительное отклонение от целевой
	// стоимости, при котором генерируется корректирующий ордер (0.01 = 1%)
	MinRebalanceFraction float64

	// NotificationBuffer - ёмкость канала уведомлений
	NotificationBuffer int
}

// Политики аллокации
const (
	PolicyEqualWeight = "equal_weight"
	PolicyRiskParity  = "risk_parity"
	PolicyKelly       = "kelly"
	PolicyMLWeighted  = "ml_weighted"
)

// Частоты ребаланса
const (
	CadenceDaily     = "daily"
	CadenceWeekly    = "weekly"
	CadenceMonthly   = "monthly"
	CadenceQuarterly = "quarterly"
)

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Enabled:  getEnvAsBool("DB_ENABLED", false),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "papertrade"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Sim: SimConfig{
			SlippageRate:      getEnvAsDecimal("SLIPPAGE_RATE", "0.0005"),
			Commission:        getEnvAsDecimal("COMMISSION_FLAT", "40"),
			OptionMarginRate:  getEnvAsDecimal("OPTION_MARGIN_RATE", "0.10"),
			DefaultMarginRate: getEnvAsDecimal("DEFAULT_MARGIN_RATE", "0.20"),
			OptionSymbols:     parseSymbolSet(getEnv("OPTION_SYMBOLS", "")),
			ExecutionDelay:    getEnvAsDuration("EXECUTION_DELAY", 500*time.Millisecond),
			PriceStaleTimeout: getEnvAsDuration("PRICE_STALE_TIMEOUT", 30*time.Second),
			SquareOffEnabled:  getEnvAsBool("SQUARE_OFF_ENABLED", true),
			SquareOffHour:     getEnvAsInt("SQUARE_OFF_HOUR", 15),
			SquareOffMinute:   getEnvAsInt("SQUARE_OFF_MINUTE", 15),
		},
		Portfolio: PortfolioConfig{
			InitialCapital:       getEnvAsDecimal("INITIAL_CAPITAL", "1000000"),
			Strategies:           parseStrategies(getEnv("STRATEGIES", "")),
			AllocationPolicy:     getEnv("ALLOCATION_POLICY", PolicyEqualWeight),
			RebalanceCadence:     getEnv("REBALANCE_CADENCE", CadenceDaily),
			MinRebalanceFraction: getEnvAsFloat("MIN_REBALANCE_FRACTION", 0.01),
			NotificationBuffer:   getEnvAsInt("NOTIFICATION_BUFFER", 1000),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default возвращает конфигурацию с дефолтами (для тестов и встраивания)
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Sim: SimConfig{
			SlippageRate:      decimal.RequireFromString("0.0005"),
			Commission:        decimal.RequireFromString("40"),
			OptionMarginRate:  decimal.RequireFromString("0.10"),
			DefaultMarginRate: decimal.RequireFromString("0.20"),
			OptionSymbols:     map[string]bool{},
			ExecutionDelay:    500 * time.Millisecond,
			PriceStaleTimeout: 30 * time.Second,
			SquareOffEnabled:  false,
			SquareOffHour:     15,
			SquareOffMinute:   15,
		},
		Portfolio: PortfolioConfig{
			InitialCapital:       decimal.RequireFromString("1000000"),
			AllocationPolicy:     PolicyEqualWeight,
			RebalanceCadence:     CadenceDaily,
			MinRebalanceFraction: 0.01,
			NotificationBuffer:   1000,
		},
	}
}

// Validate проверяет критичные параметры конфигурации
func (c *Config) Validate() error {
	if c.Sim.SlippageRate.IsNegative() {
		return fmt.Errorf("SLIPPAGE_RATE cannot be negative, got %s", c.Sim.SlippageRate)
	}
	if c.Sim.Commission.IsNegative() {
		return fmt.Errorf("COMMISSION_FLAT cannot be negative, got %s", c.Sim.Commission)
	}
	if err := validateRate("OPTION_MARGIN_RATE", c.Sim.OptionMarginRate); err != nil {
		return err
	}
	if err := validateRate("DEFAULT_MARGIN_RATE", c.Sim.DefaultMarginRate); err != nil {
		return err
	}
	if c.Sim.ExecutionDelay < 0 {
		return fmt.Errorf("EXECUTION_DELAY cannot be negative, got %v", c.Sim.ExecutionDelay)
	}
	if c.Sim.PriceStaleTimeout <= 0 {
		return fmt.Errorf("PRICE_STALE_TIMEOUT must be positive, got %v", c.Sim.PriceStaleTimeout)
	}
	if c.Sim.SquareOffHour < 0 || c.Sim.SquareOffHour > 23 {
		return fmt.Errorf("SQUARE_OFF_HOUR must be in [0..23], got %d", c.Sim.SquareOffHour)
	}
	if c.Sim.SquareOffMinute < 0 || c.Sim.SquareOffMinute > 59 {
		return fmt.Errorf("SQUARE_OFF_MINUTE must be in [0..59], got %d", c.Sim.SquareOffMinute)
	}

	if !c.Portfolio.InitialCapital.IsPositive() {
		return fmt.Errorf("INITIAL_CAPITAL must be positive, got %s", c.Portfolio.InitialCapital)
	}

	switch c.Portfolio.AllocationPolicy {
	case PolicyEqualWeight, PolicyRiskParity, PolicyKelly, PolicyMLWeighted:
	default:
		return fmt.Errorf("unknown ALLOCATION_POLICY: %s", c.Portfolio.AllocationPolicy)
	}

	switch c.Portfolio.RebalanceCadence {
	case CadenceDaily, CadenceWeekly, CadenceMonthly, CadenceQuarterly:
	default:
		return fmt.Errorf("unknown REBALANCE_CADENCE: %s", c.Portfolio.RebalanceCadence)
	}

	// Сумма целевых весов ≤ 1.0 (остаток - денежный резерв)
	total := 0.0
	seen := make(map[string]bool, len(c.Portfolio.Strategies))
	for _, s := range c.Portfolio.Strategies {
		if s.Name == "" {
			return fmt.Errorf("strategy name cannot be empty")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate strategy name: %s", s.Name)
		}
		seen[s.Name] = true
		if s.TargetWeight < 0 {
			return fmt.Errorf("strategy %s: target weight cannot be negative", s.Name)
		}
		if s.MaxPositions <= 0 {
			return fmt.Errorf("strategy %s: max positions must be positive", s.Name)
		}
		total += s.TargetWeight
	}
	if total > 1.0+1e-9 {
		return fmt.Errorf("strategy target weights sum to %.4f, must be <= 1.0", total)
	}

	return nil
}

// MarginRate возвращает маржинальную ставку для символа
func (s SimConfig) MarginRate(symbol string) decimal.Decimal {
	if s.OptionSymbols[symbol] {
		return s.OptionMarginRate
	}
	return s.DefaultMarginRate
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// parseStrategies разбирает формат "name:weight:maxPositions,..."
// Например: "momentum:0.6:5,meanrev:0.4:3"
func parseStrategies(raw string) []StrategySpec {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var out []StrategySpec
	for _, part := range strings.Split(raw, ",") {
		fields := strings.Split(strings.TrimSpace(part), ":")
		if len(fields) != 3 {
			continue
		}
		weight, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		maxPos, err := strconv.Atoi(fields[2])
		if err != nil {
			continue
		}
		out = append(out, StrategySpec{
			Name:         fields[0],
			TargetWeight: weight,
			MaxPositions: maxPos,
		})
	}
	return out
}

func parseSymbolSet(raw string) map[string]bool {
	set := make(map[string]bool)
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			set[s] = true
		}
	}
	return set
}

func validateRate(name string, rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%s must be in [0..1], got %s", name, rate)
	}
	return nil
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDecimal(key string, defaultValue string) decimal.Decimal {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return decimal.RequireFromString(defaultValue)
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return decimal.RequireFromString(defaultValue)
	}
	return value
}
