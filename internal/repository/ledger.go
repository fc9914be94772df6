package repository

import (
	"database/sql"
)

// Ledger - долговременное хранилище движка синхронизации:
// снимки счетов, позиции, журнал синхронизации, алерты и параметры риска.
// Все записи - upsert по естественному ключу, поэтому писатели разных
// счетов не конфликтуют.
type Ledger struct {
	*AccountRepository
	*PositionRepository
	*SyncLogRepository
	*AlertRepository
	*RiskParamsRepository
}

// NewLedger собирает Ledger поверх одного подключения
func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{
		AccountRepository:    NewAccountRepository(db),
		PositionRepository:   NewPositionRepository(db),
		SyncLogRepository:    NewSyncLogRepository(db),
		AlertRepository:      NewAlertRepository(db),
		RiskParamsRepository: NewRiskParamsRepository(db),
	}
}
