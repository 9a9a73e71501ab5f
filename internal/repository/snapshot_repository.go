package repository

import (
	"database/sql"

	jsoniter "github.com/json-iterator/go"

	"papertrade/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SnapshotRepository - работа с таблицей portfolio_snapshots.
// Реализует engine.SnapshotSink. Разбивка по стратегиям хранится
// JSONB-колонкой: состав стратегий меняется от прогона к прогону.
type SnapshotRepository struct {
	db *sql.DB
}

// NewSnapshotRepository создает новый экземпляр репозитория
func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Record сохраняет снимок портфеля
func (r *SnapshotRepository) Record(snap models.PortfolioSnapshot) error {
	breakdown, err := json.Marshal(snap.StrategyBreakdown)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO portfolio_snapshots (snapshot_at, total_equity, cash, strategy_breakdown)
		VALUES ($1, $2, $3, $4)`

	_, err = r.db.Exec(query, snap.Timestamp, snap.TotalEquity, snap.Cash, breakdown)
	return err
}

// GetLatest возвращает последний сохранённый снимок
func (r *SnapshotRepository) GetLatest() (*models.PortfolioSnapshot, error) {
	query := `
		SELECT snapshot_at, total_equity, cash, strategy_breakdown
		FROM portfolio_snapshots
		ORDER BY snapshot_at DESC
		LIMIT 1`

	snap := &models.PortfolioSnapshot{}
	var breakdown []byte
	err := r.db.QueryRow(query).Scan(&snap.Timestamp, &snap.TotalEquity, &snap.Cash, &breakdown)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(breakdown, &snap.StrategyBreakdown); err != nil {
		return nil, err
	}

	return snap, nil
}
