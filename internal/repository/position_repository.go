package repository

import (
	"context"
	"database/sql"
	"errors"

	"accountsync/internal/models"
)

// Ошибки репозитория позиций
var (
	ErrPositionNotFound = errors.New("position not found")
)

// PositionRepository - работа с таблицей positions.
// Ключ - (account_id, ticket). Закрытая позиция в таблице больше не меняется.
type PositionRepository struct {
	db *sql.DB
}

// NewPositionRepository создает новый экземпляр репозитория
func NewPositionRepository(db *sql.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

const positionColumns = `account_id, ticket, symbol, side, volume, open_price, current_price,
		stop_loss, take_profit, profit, swap, commission, comment, magic_number,
		open_time, close_price, close_time, status, is_simulated, updated_at`

// UpsertPosition сохраняет позицию по (account_id, ticket).
// Строка со статусом closed не перезаписывается.
func (r *PositionRepository) UpsertPosition(ctx context.Context, p *models.Position) error {
	query := `
		INSERT INTO positions (` + positionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (account_id, ticket) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			side = EXCLUDED.side,
			volume = EXCLUDED.volume,
			open_price = EXCLUDED.open_price,
			current_price = EXCLUDED.current_price,
			stop_loss = EXCLUDED.stop_loss,
			take_profit = EXCLUDED.take_profit,
			profit = EXCLUDED.profit,
			swap = EXCLUDED.swap,
			commission = EXCLUDED.commission,
			comment = EXCLUDED.comment,
			magic_number = EXCLUDED.magic_number,
			open_time = EXCLUDED.open_time,
			close_price = EXCLUDED.close_price,
			close_time = EXCLUDED.close_time,
			status = EXCLUDED.status,
			is_simulated = EXCLUDED.is_simulated,
			updated_at = EXCLUDED.updated_at
		WHERE positions.status <> 'closed'`

	_, err := r.db.ExecContext(ctx, query,
		p.AccountID,
		p.Ticket,
		p.Symbol,
		p.Side,
		p.Volume,
		p.OpenPrice,
		p.CurrentPrice,
		p.StopLoss,
		p.TakeProfit,
		p.Profit,
		p.Swap,
		p.Commission,
		p.Comment,
		p.MagicNumber,
		p.OpenTime,
		p.ClosePrice,
		p.CloseTime,
		p.Status,
		p.Simulated,
		p.UpdatedAt,
	)
	return err
}

// GetPosition возвращает позицию по тикету
func (r *PositionRepository) GetPosition(ctx context.Context, accountID string, ticket int64) (*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE account_id = $1 AND ticket = $2`

	p, err := scanPosition(r.db.QueryRowContext(ctx, query, accountID, ticket))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}
	return p, nil
}

// ListOpenPositions возвращает открытые позиции счёта по возрастанию тикета
func (r *PositionRepository) ListOpenPositions(ctx context.Context, accountID string) ([]*models.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE account_id = $1 AND status = 'open'
		ORDER BY ticket`

	return r.list(ctx, query, accountID)
}

// ListClosedPositions возвращает последние закрытые позиции счёта
func (r *PositionRepository) ListClosedPositions(ctx context.Context, accountID string, limit int) ([]*models.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE account_id = $1 AND status = 'closed'
		ORDER BY close_time DESC
		LIMIT $2`

	return r.list(ctx, query, accountID, limit)
}

func (r *PositionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Position, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return positions, nil
}

// rowScanner - общий интерфейс *sql.Row и *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row rowScanner) (*models.Position, error) {
	p := &models.Position{}
	var closePrice sql.NullFloat64
	var closeTime sql.NullTime

	err := row.Scan(
		&p.AccountID,
		&p.Ticket,
		&p.Symbol,
		&p.Side,
		&p.Volume,
		&p.OpenPrice,
		&p.CurrentPrice,
		&p.StopLoss,
		&p.TakeProfit,
		&p.Profit,
		&p.Swap,
		&p.Commission,
		&p.Comment,
		&p.MagicNumber,
		&p.OpenTime,
		&closePrice,
		&closeTime,
		&p.Status,
		&p.Simulated,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if closePrice.Valid {
		v := closePrice.Float64
		p.ClosePrice = &v
	}
	if closeTime.Valid {
		v := closeTime.Time
		p.CloseTime = &v
	}
	return p, nil
}
