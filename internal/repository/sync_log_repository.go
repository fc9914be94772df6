package repository

import (
	"context"
	"database/sql"

	"accountsync/internal/models"
)

// SyncLogRepository - журнал синхронизации (только добавление)
type SyncLogRepository struct {
	db *sql.DB
}

// NewSyncLogRepository создает новый экземпляр репозитория
func NewSyncLogRepository(db *sql.DB) *SyncLogRepository {
	return &SyncLogRepository{db: db}
}

// AppendSyncLog добавляет запись журнала
func (r *SyncLogRepository) AppendSyncLog(ctx context.Context, e *models.SyncLogEntry) error {
	query := `
		INSERT INTO sync_logs (id, account_id, sync_status, source, is_simulated, sync_duration_ms, error_message, sync_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	var payload sql.NullString
	if len(e.Payload) > 0 {
		payload = sql.NullString{String: string(e.Payload), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		e.ID,
		e.AccountID,
		e.Outcome,
		e.Source,
		e.Simulated,
		e.DurationMs,
		e.Error,
		payload,
		e.CreatedAt,
	)
	return err
}

// ListSyncLogs возвращает последние записи журнала счёта, новые первыми
func (r *SyncLogRepository) ListSyncLogs(ctx context.Context, accountID string, limit int) ([]*models.SyncLogEntry, error) {
	query := `
		SELECT id, account_id, sync_status, source, is_simulated, sync_duration_ms, error_message, sync_data, created_at
		FROM sync_logs
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.SyncLogEntry
	for rows.Next() {
		e := &models.SyncLogEntry{}
		var payload sql.NullString
		err := rows.Scan(
			&e.ID,
			&e.AccountID,
			&e.Outcome,
			&e.Source,
			&e.Simulated,
			&e.DurationMs,
			&e.Error,
			&payload,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if payload.Valid && payload.String != "" {
			e.Payload = []byte(payload.String)
		}
		entries = append(entries, e)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}
