package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"accountsync/internal/models"
)

func TestAlertRepositoryAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	alert := &models.RiskAlert{
		ID: "al-1", AccountID: "acc-1", Level: models.AlertLevelMedium,
		Message: "bridge degraded", Action: "check bridge connectivity", Timestamp: now,
	}

	mock.ExpectExec(`INSERT INTO risk_alerts`).
		WithArgs("al-1", "acc-1", "medium", "bridge degraded", "check bridge connectivity", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := NewAlertRepository(db).AppendAlert(context.Background(), alert); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestAlertRepositoryList(t *testing.T) {
	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectCount int
		expectError bool
	}{
		{
			name: "two alerts",
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"id", "account_id", "level", "message", "action_required", "created_at"}).
					AddRow("2", "acc-1", "high", "bridge authentication rejected", "re-enter terminal credentials", time.Now()).
					AddRow("1", "acc-1", "medium", "bridge degraded", "check bridge connectivity", time.Now())
				mock.ExpectQuery(`SELECT .+ FROM risk_alerts WHERE account_id = \$1`).
					WithArgs("acc-1", 20).
					WillReturnRows(rows)
			},
			expectCount: 2,
		},
		{
			name: "database error",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT .+ FROM risk_alerts`).
					WillReturnError(errors.New("database error"))
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

			alerts, err := NewAlertRepository(db).ListAlerts(context.Background(), "acc-1", 20)
			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(alerts) != tt.expectCount {
				t.Errorf("expected %d alerts, got %d", tt.expectCount, len(alerts))
			}
		})
	}
}
