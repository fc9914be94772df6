package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"accountsync/internal/models"
)

// ============================================================
// PositionRepository Tests
// ============================================================

var positionRowColumns = []string{
	"account_id", "ticket", "symbol", "side", "volume", "open_price", "current_price",
	"stop_loss", "take_profit", "profit", "swap", "commission", "comment", "magic_number",
	"open_time", "close_price", "close_time", "status", "is_simulated", "updated_at",
}

func positionRow(ticket int64, status string, closePrice, closeTime driver.Value, now time.Time) []driver.Value {
	return []driver.Value{
		"acc-1", ticket, "EURUSD", "long", 0.1, 1.1, 1.105,
		0.0, 0.0, 50.0, 0.0, 0.0, "", 12345,
		now, closePrice, closeTime, status, false, now,
	}
}

func TestPositionRepositoryUpsert(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name        string
		position    *models.Position
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "open position",
			position: &models.Position{
				AccountID: "acc-1", Ticket: 123, Symbol: "EURUSD", Side: "long", Volume: 0.1,
				OpenPrice: 1.1, CurrentPrice: 1.105, Profit: 50, OpenTime: now, Status: "open", UpdatedAt: now,
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO positions .+ ON CONFLICT \(account_id, ticket\) DO UPDATE .+ WHERE positions.status <> 'closed'`).
					WithArgs("acc-1", int64(123), "EURUSD", "long", 0.1, 1.1, 1.105, 0.0, 0.0, 50.0, 0.0, 0.0, "", 0,
						now, nil, nil, "open", false, now).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "database error",
			position: &models.Position{
				AccountID: "acc-1", Ticket: 1, Status: "open",
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO positions`).WillReturnError(errors.New("database error"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			err = NewPositionRepository(db).UpsertPosition(context.Background(), tt.position)
			if (err != nil) != tt.expectError {
				t.Errorf("UpsertPosition() error = %v, expectError %v", err, tt.expectError)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestPositionRepositoryListOpen(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows(positionRowColumns).
		AddRow(positionRow(1, "open", nil, nil, now)...).
		AddRow(positionRow(2, "open", nil, nil, now)...)
	mock.ExpectQuery(`SELECT .+ FROM positions WHERE account_id = \$1 AND status = 'open' ORDER BY ticket`).
		WithArgs("acc-1").
		WillReturnRows(rows)

	positions, err := NewPositionRepository(db).ListOpenPositions(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(positions))
	}
	if positions[0].ClosePrice != nil || positions[0].CloseTime != nil {
		t.Error("open position must not have close fields")
	}
	if positions[1].Ticket != 2 {
		t.Errorf("expected ticket 2, got %d", positions[1].Ticket)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPositionRepositoryGetClosed(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError error
	}{
		{
			name: "closed position",
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows(positionRowColumns).AddRow(positionRow(123, "closed", 1.106, now, now)...)
				mock.ExpectQuery(`SELECT .+ FROM positions WHERE account_id = \$1 AND ticket = \$2`).
					WithArgs("acc-1", int64(123)).
					WillReturnRows(rows)
			},
		},
		{
			name: "not found",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT .+ FROM positions`).
					WithArgs("acc-1", int64(123)).
					WillReturnRows(sqlmock.NewRows(positionRowColumns))
			},
			expectError: ErrPositionNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			p, err := NewPositionRepository(db).GetPosition(context.Background(), "acc-1", 123)
			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Errorf("expected error %v, got %v", tt.expectError, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.IsOpen() {
				t.Error("expected closed position")
			}
			if p.ClosePrice == nil || *p.ClosePrice != 1.106 {
				t.Errorf("unexpected close price: %v", p.ClosePrice)
			}
			if p.CloseTime == nil {
				t.Error("close time must be set")
			}
		})
	}
}

func TestPositionRepositoryListClosed(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM positions WHERE account_id = \$1 AND status = 'closed' ORDER BY close_time DESC LIMIT \$2`).
		WithArgs("acc-1", 10).
		WillReturnError(errors.New("database error"))

	if _, err := NewPositionRepository(db).ListClosedPositions(context.Background(), "acc-1", 10); err == nil {
		t.Error("expected error, got nil")
	}
}
