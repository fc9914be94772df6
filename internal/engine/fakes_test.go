package engine

import (
	"context"
	"sync"
	"time"

	"accountsync/internal/bridge"
	"accountsync/internal/models"
	"accountsync/pkg/retry"
)

// ============================================================
// Тестовые двойники: транспорт, ledger, генератор
// ============================================================

type fakeTransport struct {
	mu sync.Mutex

	connectInfo *bridge.AccountInfo
	connectErr  error
	info        *bridge.AccountInfo
	infoErr     error
	positions   []bridge.PositionInfo
	status      *bridge.Status
	statusErr   error
	order       *bridge.OrderResult
	orderErr    error
	closeRes    *bridge.CloseResult
	closeErr    error

	// block != nil - AccountInfo ждёт закрытия канала
	block   chan struct{}
	entered chan struct{}

	calls map[string]int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		connectInfo: &bridge.AccountInfo{
			Name:     "Demo",
			Company:  "MetaQuotes",
			Currency: "USD",
			Balance:  models.Float(10000),
			Equity:   models.Float(10000),
			Leverage: models.Int(100),
		},
		info:   &bridge.AccountInfo{Balance: models.Float(10000), Equity: models.Float(10000)},
		status: &bridge.Status{MT5Connected: true},
		calls:  map[string]int{},
	}
}

func (f *fakeTransport) count(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func (f *fakeTransport) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeTransport) set(fn func(f *fakeTransport)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

func (f *fakeTransport) Connect(ctx context.Context, creds models.Credentials) (*bridge.AccountInfo, error) {
	f.count("connect")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectInfo, f.connectErr
}

func (f *fakeTransport) AccountInfo(ctx context.Context) (*bridge.AccountInfo, error) {
	f.count("account_info")
	f.mu.Lock()
	block, entered := f.block, f.entered
	f.entered = nil
	f.mu.Unlock()

	if block != nil {
		if entered != nil {
			close(entered)
		}
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info, f.infoErr
}

func (f *fakeTransport) Positions(ctx context.Context) ([]bridge.PositionInfo, error) {
	f.count("positions")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.positions, nil
}

func (f *fakeTransport) PlaceOrder(ctx context.Context, req bridge.OrderRequest) (*bridge.OrderResult, error) {
	f.count("place_order")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.order, f.orderErr
}

func (f *fakeTransport) CloseOrder(ctx context.Context, ticket int64) (*bridge.CloseResult, error) {
	f.count("close_order")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeRes, f.closeErr
}

func (f *fakeTransport) Status(ctx context.Context) (*bridge.Status, error) {
	f.count("status")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.statusErr
}

var _ bridge.Transport = (*fakeTransport)(nil)

func timeoutErr(op string) error {
	return &bridge.Error{Kind: bridge.KindNetwork, Op: op, Message: "timeout"}
}

func authErr() error {
	return &bridge.Error{Kind: bridge.KindAuth, Op: "connect", Message: "Login failed: invalid account"}
}

// memLedger - ledger в памяти
type memLedger struct {
	mu        sync.Mutex
	accounts  map[string]*models.AccountSnapshot
	positions map[string]map[int64]*models.Position
	syncLogs  []*models.SyncLogEntry
	alerts    []*models.RiskAlert
	params    map[string]models.RiskParameters
	creds     map[string]models.Credentials
	failWrite error
}

func newMemLedger() *memLedger {
	return &memLedger{
		accounts:  map[string]*models.AccountSnapshot{},
		positions: map[string]map[int64]*models.Position{},
		params:    map[string]models.RiskParameters{},
		creds:     map[string]models.Credentials{},
	}
}

func (m *memLedger) GetAccount(ctx context.Context, accountID string) (*models.AccountSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return s.Clone(), nil
}

func (m *memLedger) UpsertAccount(ctx context.Context, snapshot *models.AccountSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite != nil {
		return m.failWrite
	}
	m.accounts[snapshot.AccountID] = snapshot.Clone()
	return nil
}

func (m *memLedger) UpsertPosition(ctx context.Context, p *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite != nil {
		return m.failWrite
	}
	if m.positions[p.AccountID] == nil {
		m.positions[p.AccountID] = map[int64]*models.Position{}
	}
	m.positions[p.AccountID][p.Ticket] = p.Clone()
	return nil
}

func (m *memLedger) ListOpenPositions(ctx context.Context, accountID string) ([]*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Position
	for _, p := range m.positions[accountID] {
		if p.IsOpen() {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (m *memLedger) AppendSyncLog(ctx context.Context, entry *models.SyncLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *entry
	m.syncLogs = append(m.syncLogs, &c)
	return nil
}

func (m *memLedger) AppendAlert(ctx context.Context, alert *models.RiskAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *alert
	m.alerts = append(m.alerts, &c)
	return nil
}

func (m *memLedger) GetRiskParameters(ctx context.Context, accountID string) (*models.RiskParameters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.params[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &p, nil
}

func (m *memLedger) UpsertRiskParameters(ctx context.Context, accountID string, params models.RiskParameters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params[accountID] = params
	return nil
}

func (m *memLedger) SaveCredentials(ctx context.Context, creds models.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[creds.AccountID] = creds
	return nil
}

func (m *memLedger) ListActiveCredentials(ctx context.Context) ([]models.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Credentials, 0, len(m.creds))
	for _, c := range m.creds {
		out = append(out, c)
	}
	return out, nil
}

func (m *memLedger) DeactivateCredentials(ctx context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, accountID)
	return nil
}

func (m *memLedger) SyncLogs() []*models.SyncLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.SyncLogEntry(nil), m.syncLogs...)
}

func (m *memLedger) Alerts() []*models.RiskAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.RiskAlert(nil), m.alerts...)
}

var (
	_ Ledger          = (*memLedger)(nil)
	_ RiskParamsStore = (*memLedger)(nil)
	_ CredentialStore = (*memLedger)(nil)
)

// fixedRand - детерминированный генератор
type fixedRand struct {
	f float64
	n int64
}

func (r fixedRand) Float64() float64 { return r.f }

func (r fixedRand) Int63n(n int64) int64 {
	if r.n >= n {
		return n - 1
	}
	return r.n
}

// testAccountConfig - таймеры отключены, фоновые циклы не тикают
func testAccountConfig() AccountConfig {
	return AccountConfig{
		PollInterval: time.Hour,
		PushBuffer:   8,
		MagicNumber:  12345,
		Supervisor: SupervisorConfig{
			ProbeInterval: time.Hour,
			Reconnect: retry.Config{
				InitialDelay: time.Hour,
				MaxDelay:     time.Hour,
				Multiplier:   2,
			},
		},
		Reconciler: ReconcilerConfig{FailureThreshold: 3, CallTimeout: time.Second},
		Simulator:  DefaultSimulatorConfig(),
	}
}

func testCreds() models.Credentials {
	return models.Credentials{Server: "MetaQuotes-Demo", AccountNumber: 12345678, Password: "secret"}
}

func newTestAccount(ft *fakeTransport, ledger *memLedger) *Account {
	return NewAccount("acc-1", testAccountConfig(), models.DefaultRiskParameters(), AccountDeps{
		Transport:  ft,
		Ledger:     ledger,
		RiskParams: ledger,
		Events:     NewEventBus(256),
		Random:     fixedRand{f: 0.5, n: 4242},
	})
}

func countAlerts(alerts []models.RiskAlert, level, message string) int {
	n := 0
	for _, a := range alerts {
		if a.Level == level && a.Message == message {
			n++
		}
	}
	return n
}

func (m *memLedger) Position(accountID string, ticket int64) *models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[accountID][ticket]
	if !ok {
		return nil
	}
	return p.Clone()
}
