package repository

import (
	"context"
	"database/sql"
	"errors"

	"accountsync/internal/models"
)

// Ошибки репозитория параметров риска
var (
	ErrRiskParamsNotFound = errors.New("risk parameters not found")
)

// RiskParamsRepository - работа с таблицей risk_parameters (одна строка на счёт)
type RiskParamsRepository struct {
	db *sql.DB
}

// NewRiskParamsRepository создает новый экземпляр репозитория
func NewRiskParamsRepository(db *sql.DB) *RiskParamsRepository {
	return &RiskParamsRepository{db: db}
}

// GetRiskParameters возвращает параметры счёта или ErrRiskParamsNotFound
func (r *RiskParamsRepository) GetRiskParameters(ctx context.Context, accountID string) (*models.RiskParameters, error) {
	query := `
		SELECT max_daily_loss, max_position_size, max_concurrent_trades, risk_per_trade, correlation_limit, updated_at
		FROM risk_parameters
		WHERE account_id = $1`

	p := &models.RiskParameters{}
	err := r.db.QueryRowContext(ctx, query, accountID).Scan(
		&p.MaxDailyLoss,
		&p.MaxPositionSize,
		&p.MaxConcurrentTrades,
		&p.RiskPerTrade,
		&p.CorrelationLimit,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRiskParamsNotFound
		}
		return nil, err
	}

	return p, nil
}

// UpsertRiskParameters сохраняет параметры счёта
func (r *RiskParamsRepository) UpsertRiskParameters(ctx context.Context, accountID string, p models.RiskParameters) error {
	query := `
		INSERT INTO risk_parameters (account_id, max_daily_loss, max_position_size, max_concurrent_trades, risk_per_trade, correlation_limit, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account_id) DO UPDATE SET
			max_daily_loss = EXCLUDED.max_daily_loss,
			max_position_size = EXCLUDED.max_position_size,
			max_concurrent_trades = EXCLUDED.max_concurrent_trades,
			risk_per_trade = EXCLUDED.risk_per_trade,
			correlation_limit = EXCLUDED.correlation_limit,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		accountID,
		p.MaxDailyLoss,
		p.MaxPositionSize,
		p.MaxConcurrentTrades,
		p.RiskPerTrade,
		p.CorrelationLimit,
		p.UpdatedAt,
	)
	return err
}
