package repository

import (
	"database/sql"
	"errors"

	"papertrade/internal/models"
)

// Ошибки репозитория сделок
var (
	ErrTradeNotFound = errors.New("trade not found")
)

// TradeRepository - работа с таблицей trades.
// Реализует engine.TradeSink: запись fire-and-forget, ошибки не
// откатывают симулированные исполнения.
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository создает новый экземпляр репозитория
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Record сохраняет запись об исполнении
func (r *TradeRepository) Record(trade models.Trade) error {
	query := `
		INSERT INTO trades (id, order_id, strategy, symbol, side, quantity, price, executed_at, realized_pnl_delta, commission)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.Exec(
		query,
		trade.ID,
		trade.OrderID,
		trade.Strategy,
		trade.Symbol,
		trade.Side,
		trade.Quantity,
		trade.Price,
		trade.Timestamp,
		trade.RealizedPnlDelta,
		trade.Commission,
	)
	return err
}

// GetByID возвращает сделку по ID
func (r *TradeRepository) GetByID(id string) (*models.Trade, error) {
	query := `
		SELECT id, order_id, strategy, symbol, side, quantity, price, executed_at, realized_pnl_delta, commission
		FROM trades
		WHERE id = $1`

	trade := &models.Trade{}
	err := r.db.QueryRow(query, id).Scan(
		&trade.ID,
		&trade.OrderID,
		&trade.Strategy,
		&trade.Symbol,
		&trade.Side,
		&trade.Quantity,
		&trade.Price,
		&trade.Timestamp,
		&trade.RealizedPnlDelta,
		&trade.Commission,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTradeNotFound
		}
		return nil, err
	}

	return trade, nil
}

// GetByStrategy возвращает сделки стратегии в порядке исполнения
func (r *TradeRepository) GetByStrategy(strategy string) ([]*models.Trade, error) {
	query := `
		SELECT id, order_id, strategy, symbol, side, quantity, price, executed_at, realized_pnl_delta, commission
		FROM trades
		WHERE strategy = $1
		ORDER BY executed_at`

	rows, err := r.db.Query(query, strategy)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		trade := &models.Trade{}
		err := rows.Scan(
			&trade.ID,
			&trade.OrderID,
			&trade.Strategy,
			&trade.Symbol,
			&trade.Side,
			&trade.Quantity,
			&trade.Price,
			&trade.Timestamp,
			&trade.RealizedPnlDelta,
			&trade.Commission,
		)
		if err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}

	return trades, rows.Err()
}

// CountByStrategy возвращает количество сделок стратегии
func (r *TradeRepository) CountByStrategy(strategy string) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM trades WHERE strategy = $1`, strategy).Scan(&count)
	return count, err
}
