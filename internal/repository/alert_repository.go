package repository

import (
	"context"
	"database/sql"

	"accountsync/internal/models"
)

// AlertRepository - журнал риск-алертов
type AlertRepository struct {
	db *sql.DB
}

// NewAlertRepository создает новый экземпляр репозитория
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// AppendAlert сохраняет алерт
func (r *AlertRepository) AppendAlert(ctx context.Context, a *models.RiskAlert) error {
	query := `
		INSERT INTO risk_alerts (id, account_id, level, message, action_required, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query, a.ID, a.AccountID, a.Level, a.Message, a.Action, a.Timestamp)
	return err
}

// ListAlerts возвращает последние алерты счёта, новые первыми
func (r *AlertRepository) ListAlerts(ctx context.Context, accountID string, limit int) ([]*models.RiskAlert, error) {
	query := `
		SELECT id, account_id, level, message, action_required, created_at
		FROM risk_alerts
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*models.RiskAlert
	for rows.Next() {
		a := &models.RiskAlert{}
		if err := rows.Scan(&a.ID, &a.AccountID, &a.Level, &a.Message, &a.Action, &a.Timestamp); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return alerts, nil
}
