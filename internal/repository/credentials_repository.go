package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"accountsync/internal/models"
	"accountsync/pkg/crypto"
	"accountsync/pkg/utils"
)

// Ошибки репозитория учётных данных
var (
	ErrCredentialsNotFound = errors.New("credentials not found")
)

// CredentialsRepository хранит данные входа в терминал.
// Пароль шифруется AES-GCM, AAD - идентификатор счёта.
type CredentialsRepository struct {
	db     *sql.DB
	sealer *crypto.Sealer
}

// NewCredentialsRepository создает новый экземпляр репозитория
func NewCredentialsRepository(db *sql.DB, sealer *crypto.Sealer) *CredentialsRepository {
	return &CredentialsRepository{db: db, sealer: sealer}
}

// SaveCredentials сохраняет (или заменяет) учётные данные и помечает их активными
func (r *CredentialsRepository) SaveCredentials(ctx context.Context, c models.Credentials) error {
	encrypted, err := r.sealer.Seal(c.Password, c.AccountID)
	if err != nil {
		return fmt.Errorf("encrypt password: %w", err)
	}

	query := `
		INSERT INTO credentials (account_id, server, account_number, password_enc, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id) DO UPDATE SET
			server = EXCLUDED.server,
			account_number = EXCLUDED.account_number,
			password_enc = EXCLUDED.password_enc,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at`

	_, err = r.db.ExecContext(ctx, query, c.AccountID, c.Server, c.AccountNumber, encrypted, true, time.Now())
	return err
}

// ListActiveCredentials возвращает учётные данные активных счетов.
// Записи, которые не удалось расшифровать, пропускаются.
func (r *CredentialsRepository) ListActiveCredentials(ctx context.Context) ([]models.Credentials, error) {
	query := `
		SELECT account_id, server, account_number, password_enc
		FROM credentials
		WHERE is_active = $1
		ORDER BY account_id`

	rows, err := r.db.QueryContext(ctx, query, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Credentials
	for rows.Next() {
		var c models.Credentials
		var encrypted string
		if err := rows.Scan(&c.AccountID, &c.Server, &c.AccountNumber, &encrypted); err != nil {
			return nil, err
		}

		c.Password, err = r.sealer.Open(encrypted, c.AccountID)
		if err != nil {
			utils.L().Warn("skip credentials: decrypt failed", utils.AccountID(c.AccountID), utils.Err(err))
			continue
		}
		list = append(list, c)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// DeactivateCredentials снимает счёт с автоматического восстановления
func (r *CredentialsRepository) DeactivateCredentials(ctx context.Context, accountID string) error {
	query := `UPDATE credentials SET is_active = $1, updated_at = $2 WHERE account_id = $3`

	result, err := r.db.ExecContext(ctx, query, false, time.Now(), accountID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrCredentialsNotFound
	}

	return nil
}
