package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"accountsync/internal/bridge"
	"accountsync/internal/models"
)

// Ledger - долговременное хранилище, общее для всех счетов.
// Все записи - upsert по естественному ключу (счёт, счёт+тикет).
type Ledger interface {
	GetAccount(ctx context.Context, accountID string) (*models.AccountSnapshot, error)
	UpsertAccount(ctx context.Context, snapshot *models.AccountSnapshot) error
	UpsertPosition(ctx context.Context, position *models.Position) error
	ListOpenPositions(ctx context.Context, accountID string) ([]*models.Position, error)
	AppendSyncLog(ctx context.Context, entry *models.SyncLogEntry) error
	AppendAlert(ctx context.Context, alert *models.RiskAlert) error
}

// RiskParamsStore хранит параметры риска счетов
type RiskParamsStore interface {
	GetRiskParameters(ctx context.Context, accountID string) (*models.RiskParameters, error)
	UpsertRiskParameters(ctx context.Context, accountID string, params models.RiskParameters) error
}

// CredentialStore хранит учётные данные для восстановления подключений
type CredentialStore interface {
	SaveCredentials(ctx context.Context, creds models.Credentials) error
	ListActiveCredentials(ctx context.Context) ([]models.Credentials, error)
	DeactivateCredentials(ctx context.Context, accountID string) error
}

// TransportFactory создаёт транспорт моста для счёта
type TransportFactory func(accountID string) bridge.Transport

// Clock - источник времени
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock - реальное время
var SystemClock Clock = systemClock{}

// RandomSource - генератор для симуляции (подменяется в тестах)
type RandomSource interface {
	Float64() float64
	Int63n(n int64) int64
}

// lockedRand - потокобезопасная обёртка над *rand.Rand
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRandomSource создаёт генератор; seed 0 - от текущего времени
func NewRandomSource(seed int64) RandomSource {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) Int63n(n int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Int63n(n)
}
