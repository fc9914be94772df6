package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Поддерживаемые драйверы
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// schema - DDL ledger. {{ts}} и {{json}} подставляются по драйверу:
// go-sqlite3 разбирает время только для колонок TIMESTAMP.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		account_id VARCHAR(64) PRIMARY KEY,
		account_number BIGINT NOT NULL DEFAULT 0,
		server VARCHAR(128) NOT NULL DEFAULT '',
		name VARCHAR(255) NOT NULL DEFAULT '',
		company VARCHAR(255) NOT NULL DEFAULT '',
		currency VARCHAR(10) NOT NULL DEFAULT '',
		balance DOUBLE PRECISION NOT NULL DEFAULT 0,
		equity DOUBLE PRECISION NOT NULL DEFAULT 0,
		margin DOUBLE PRECISION NOT NULL DEFAULT 0,
		free_margin DOUBLE PRECISION NOT NULL DEFAULT 0,
		margin_level DOUBLE PRECISION NOT NULL DEFAULT 0,
		leverage INT NOT NULL DEFAULT 0,
		is_simulated BOOLEAN NOT NULL DEFAULT false,
		last_sync {{ts}},
		updated_at {{ts}}
	)`,
	`CREATE TABLE IF NOT EXISTS positions (
		account_id VARCHAR(64) NOT NULL,
		ticket BIGINT NOT NULL,
		symbol VARCHAR(32) NOT NULL,
		side VARCHAR(8) NOT NULL,
		volume DOUBLE PRECISION NOT NULL DEFAULT 0,
		open_price DOUBLE PRECISION NOT NULL DEFAULT 0,
		current_price DOUBLE PRECISION NOT NULL DEFAULT 0,
		stop_loss DOUBLE PRECISION NOT NULL DEFAULT 0,
		take_profit DOUBLE PRECISION NOT NULL DEFAULT 0,
		profit DOUBLE PRECISION NOT NULL DEFAULT 0,
		swap DOUBLE PRECISION NOT NULL DEFAULT 0,
		commission DOUBLE PRECISION NOT NULL DEFAULT 0,
		comment TEXT NOT NULL DEFAULT '',
		magic_number INT NOT NULL DEFAULT 0,
		open_time {{ts}},
		close_price DOUBLE PRECISION,
		close_time {{ts}},
		status VARCHAR(10) NOT NULL DEFAULT 'open',
		is_simulated BOOLEAN NOT NULL DEFAULT false,
		updated_at {{ts}},
		PRIMARY KEY (account_id, ticket)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions (account_id, status)`,
	`CREATE TABLE IF NOT EXISTS sync_logs (
		id VARCHAR(26) PRIMARY KEY,
		account_id VARCHAR(64) NOT NULL,
		sync_status VARCHAR(10) NOT NULL,
		source VARCHAR(10) NOT NULL,
		is_simulated BOOLEAN NOT NULL DEFAULT false,
		sync_duration_ms BIGINT NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		sync_data {{json}},
		created_at {{ts}}
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_logs_account ON sync_logs (account_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS risk_alerts (
		id VARCHAR(36) PRIMARY KEY,
		account_id VARCHAR(64) NOT NULL,
		level VARCHAR(10) NOT NULL,
		message TEXT NOT NULL,
		action_required TEXT NOT NULL DEFAULT '',
		created_at {{ts}}
	)`,
	`CREATE INDEX IF NOT EXISTS idx_risk_alerts_account ON risk_alerts (account_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS risk_parameters (
		account_id VARCHAR(64) PRIMARY KEY,
		max_daily_loss DOUBLE PRECISION NOT NULL,
		max_position_size DOUBLE PRECISION NOT NULL,
		max_concurrent_trades INT NOT NULL,
		risk_per_trade DOUBLE PRECISION NOT NULL,
		correlation_limit DOUBLE PRECISION NOT NULL,
		updated_at {{ts}}
	)`,
	`CREATE TABLE IF NOT EXISTS credentials (
		account_id VARCHAR(64) PRIMARY KEY,
		server VARCHAR(128) NOT NULL,
		account_number BIGINT NOT NULL,
		password_enc TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT true,
		updated_at {{ts}}
	)`,
}

// SchemaStatements возвращает DDL для драйвера
func SchemaStatements(driver string) ([]string, error) {
	var ts, js string
	switch driver {
	case DriverPostgres:
		ts, js = "TIMESTAMPTZ", "JSONB"
	case DriverSQLite:
		ts, js = "TIMESTAMP", "TEXT"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	r := strings.NewReplacer("{{ts}}", ts, "{{json}}", js)
	out := make([]string, len(schema))
	for i, stmt := range schema {
		out[i] = r.Replace(stmt)
	}
	return out, nil
}

// Migrate создаёт таблицы ledger, если их нет
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	statements, err := SchemaStatements(driver)
	if err != nil {
		return err
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
