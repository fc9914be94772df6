package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"accountsync/internal/models"
)

// Ошибки репозитория счетов
var (
	ErrAccountNotFound = errors.New("account not found")
)

// AccountRepository - работа с таблицей accounts (последний снимок счёта)
type AccountRepository struct {
	db *sql.DB
}

// NewAccountRepository создает новый экземпляр репозитория
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `account_id, account_number, server, name, company, currency,
		balance, equity, margin, free_margin, margin_level, leverage, is_simulated, last_sync`

// UpsertAccount сохраняет снимок по account_id
func (r *AccountRepository) UpsertAccount(ctx context.Context, s *models.AccountSnapshot) error {
	query := `
		INSERT INTO accounts (` + accountColumns + `, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (account_id) DO UPDATE SET
			account_number = EXCLUDED.account_number,
			server = EXCLUDED.server,
			name = EXCLUDED.name,
			company = EXCLUDED.company,
			currency = EXCLUDED.currency,
			balance = EXCLUDED.balance,
			equity = EXCLUDED.equity,
			margin = EXCLUDED.margin,
			free_margin = EXCLUDED.free_margin,
			margin_level = EXCLUDED.margin_level,
			leverage = EXCLUDED.leverage,
			is_simulated = EXCLUDED.is_simulated,
			last_sync = EXCLUDED.last_sync,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		s.AccountID,
		s.AccountNumber,
		s.Server,
		s.Name,
		s.Company,
		s.Currency,
		s.Balance,
		s.Equity,
		s.Margin,
		s.FreeMargin,
		s.MarginLevel,
		s.Leverage,
		s.Simulated,
		s.LastSync,
		time.Now(),
	)
	return err
}

// GetAccount возвращает последний сохранённый снимок счёта
func (r *AccountRepository) GetAccount(ctx context.Context, accountID string) (*models.AccountSnapshot, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_id = $1`

	s := &models.AccountSnapshot{}
	err := r.db.QueryRowContext(ctx, query, accountID).Scan(
		&s.AccountID,
		&s.AccountNumber,
		&s.Server,
		&s.Name,
		&s.Company,
		&s.Currency,
		&s.Balance,
		&s.Equity,
		&s.Margin,
		&s.FreeMargin,
		&s.MarginLevel,
		&s.Leverage,
		&s.Simulated,
		&s.LastSync,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	s.FieldTimes = map[string]time.Time{}
	s.RecalculateFloating()
	return s, nil
}

// ListAccounts возвращает все сохранённые снимки
func (r *AccountRepository) ListAccounts(ctx context.Context) ([]*models.AccountSnapshot, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY account_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.AccountSnapshot
	for rows.Next() {
		s := &models.AccountSnapshot{}
		err := rows.Scan(
			&s.AccountID,
			&s.AccountNumber,
			&s.Server,
			&s.Name,
			&s.Company,
			&s.Currency,
			&s.Balance,
			&s.Equity,
			&s.Margin,
			&s.FreeMargin,
			&s.MarginLevel,
			&s.Leverage,
			&s.Simulated,
			&s.LastSync,
		)
		if err != nil {
			return nil, err
		}
		s.FieldTimes = map[string]time.Time{}
		s.RecalculateFloating()
		accounts = append(accounts, s)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return accounts, nil
}
