package repository

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"accountsync/internal/engine"
)

var (
	_ engine.Ledger          = (*Ledger)(nil)
	_ engine.RiskParamsStore = (*Ledger)(nil)
	_ engine.CredentialStore = (*CredentialsRepository)(nil)
)

func TestSchemaStatements(t *testing.T) {
	tests := []struct {
		driver  string
		ts      string
		js      string
		wantErr bool
	}{
		{driver: DriverPostgres, ts: "TIMESTAMPTZ", js: "JSONB"},
		{driver: DriverSQLite, ts: "TIMESTAMP", js: "TEXT"},
		{driver: "mysql", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			stmts, err := SchemaStatements(tt.driver)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SchemaStatements(%q) error = %v, wantErr %v", tt.driver, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			joined := strings.Join(stmts, "\n")
			if strings.Contains(joined, "{{") {
				t.Error("placeholders must be replaced")
			}
			if !strings.Contains(joined, "created_at "+tt.ts) {
				t.Errorf("expected %s timestamps", tt.ts)
			}
			if !strings.Contains(joined, "sync_data "+tt.js) {
				t.Errorf("expected %s payload column", tt.js)
			}
		})
	}
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	stmts, _ := SchemaStatements(DriverSQLite)
	for _, stmt := range stmts {
		mock.ExpectExec(regexp.QuoteMeta(stmt)).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	if err := Migrate(context.Background(), db, DriverSQLite); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestMigrateStopsOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS accounts`).WillReturnError(errors.New("permission denied"))

	if err := Migrate(context.Background(), db, DriverPostgres); err == nil {
		t.Error("expected error, got nil")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
