package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"accountsync/internal/models"
	"accountsync/pkg/utils"
)

// RegistryDeps - общие зависимости всех счетов
type RegistryDeps struct {
	Ledger      Ledger
	Credentials CredentialStore // nil - учётные данные не сохраняются
	RiskParams  RiskParamsStore
	Transports  TransportFactory
	Events      *EventBus
	Clock       Clock
	Random      RandomSource
	Log         *utils.Logger
}

// Registry - реестр счетов по идентификатору.
// Каждый счёт получает свои Supervisor, Reconciler и Risk Gate.
type Registry struct {
	cfg           AccountConfig
	defaultParams models.RiskParameters
	deps          RegistryDeps
	log           *utils.Logger

	mu       sync.RWMutex
	accounts map[string]*Account
}

// NewRegistry создаёт пустой реестр
func NewRegistry(cfg AccountConfig, defaultParams models.RiskParameters, deps RegistryDeps) *Registry {
	if deps.Clock == nil {
		deps.Clock = SystemClock
	}
	if deps.Random == nil {
		deps.Random = NewRandomSource(0)
	}
	return &Registry{
		cfg:           cfg,
		defaultParams: defaultParams,
		deps:          deps,
		log:           utils.OrGlobal(deps.Log).WithComponent("registry"),
		accounts:      make(map[string]*Account),
	}
}

// Events возвращает шину событий движка
func (r *Registry) Events() *EventBus {
	return r.deps.Events
}

// Get возвращает счёт или ErrAccountNotFound
func (r *Registry) Get(accountID string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acc, ok := r.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc, nil
}

// List возвращает счета, отсортированные по идентификатору
func (r *Registry) List() []*Account {
	r.mu.RLock()
	out := make([]*Account, 0, len(r.accounts))
	for _, acc := range r.accounts {
		out = append(out, acc)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// getOrCreate возвращает существующий счёт или создаёт новый
// с тёплым стартом из ledger
func (r *Registry) getOrCreate(ctx context.Context, accountID string) *Account {
	r.mu.Lock()
	defer r.mu.Unlock()

	if acc, ok := r.accounts[accountID]; ok {
		return acc
	}

	params := r.defaultParams
	if r.deps.RiskParams != nil {
		stored, err := r.deps.RiskParams.GetRiskParameters(ctx, accountID)
		if err == nil && stored != nil {
			params = *stored
		}
	}

	transport := r.deps.Transports(accountID)
	acc := NewAccount(accountID, r.cfg, params, AccountDeps{
		Transport:  transport,
		Ledger:     r.deps.Ledger,
		RiskParams: r.deps.RiskParams,
		Events:     r.deps.Events,
		Clock:      r.deps.Clock,
		Random:     r.deps.Random,
		Log:        r.deps.Log,
	})
	r.warmStart(ctx, acc)

	r.accounts[accountID] = acc
	ActiveAccounts.Set(float64(len(r.accounts)))
	return acc
}

// warmStart загружает последний снимок и открытые позиции.
// Ошибки не фатальны: счёт стартует с пустого состояния.
func (r *Registry) warmStart(ctx context.Context, acc *Account) {
	if r.deps.Ledger == nil {
		return
	}
	snap, err := r.deps.Ledger.GetAccount(ctx, acc.ID())
	if err != nil {
		r.log.Debug("no stored snapshot, cold start", utils.AccountID(acc.ID()), utils.Err(err))
		return
	}
	positions, err := r.deps.Ledger.ListOpenPositions(ctx, acc.ID())
	if err != nil {
		r.log.Warn("load open positions failed", utils.AccountID(acc.ID()), utils.Err(err))
		positions = nil
	}
	acc.Reconciler().Seed(snap, positions)
	r.log.Info("account warm-started",
		utils.AccountID(acc.ID()),
		utils.Int("open_positions", len(positions)),
	)
}

// Connect подключает счёт (создавая его при необходимости).
// Пустой AccountID - новый счёт с UUID.
func (r *Registry) Connect(ctx context.Context, creds models.Credentials) (*Account, error) {
	if err := utils.ValidateCredentials(creds.Server, creds.AccountNumber, creds.Password); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if creds.AccountID == "" {
		creds.AccountID = uuid.New().String()
	}

	acc := r.getOrCreate(ctx, creds.AccountID)
	if err := acc.Connect(ctx, creds); err != nil {
		return acc, err
	}

	if r.deps.Credentials != nil {
		if err := r.deps.Credentials.SaveCredentials(ctx, creds); err != nil {
			r.log.Error("save credentials failed", utils.AccountID(creds.AccountID), utils.Err(err))
		}
	}
	return acc, nil
}

// Disconnect отключает счёт и снимает его с автоматического восстановления
func (r *Registry) Disconnect(ctx context.Context, accountID string) error {
	acc, err := r.Get(accountID)
	if err != nil {
		return err
	}
	acc.Disconnect()

	if r.deps.Credentials != nil {
		if err := r.deps.Credentials.DeactivateCredentials(ctx, accountID); err != nil {
			r.log.Warn("deactivate credentials failed", utils.AccountID(accountID), utils.Err(err))
		}
	}
	return nil
}

// Restore переподключает все счета с активными учётными данными.
// Возвращает число восстановленных счетов.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	if r.deps.Credentials == nil {
		return 0, nil
	}
	list, err := r.deps.Credentials.ListActiveCredentials(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active credentials: %w", err)
	}

	restored := 0
	for _, creds := range list {
		acc := r.getOrCreate(ctx, creds.AccountID)
		if err := acc.Connect(ctx, creds); err != nil {
			r.log.Warn("restore account failed", utils.AccountID(creds.AccountID), utils.Err(err))
			continue
		}
		restored++
	}
	r.log.Info("accounts restored", utils.Int("restored", restored), utils.Int("total", len(list)))
	return restored, nil
}

// Push направляет внешнее уведомление в цикл счёта
func (r *Registry) Push(ev models.PushEvent) error {
	acc, err := r.Get(ev.AccountID)
	if err != nil {
		return err
	}
	if !acc.Push(ev.ToUpdate(r.deps.Clock.Now())) {
		return ErrNotConnected
	}
	return nil
}

// Shutdown останавливает все счета, не трогая сохранённые учётные данные
func (r *Registry) Shutdown(ctx context.Context) error {
	accounts := r.List()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, acc := range accounts {
			wg.Add(1)
			go func(a *Account) {
				defer wg.Done()
				a.Close()
			}(acc)
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info("registry stopped", utils.Int("accounts", len(accounts)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("registry shutdown: %w", ctx.Err())
	}
}
