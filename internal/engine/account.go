package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"accountsync/internal/bridge"
	"accountsync/internal/models"
	"accountsync/internal/risk"
	"accountsync/pkg/utils"
)

// Сообщения алертов супервизора
const (
	AlertBridgeDegraded   = "bridge degraded"
	ActionCheckBridge     = "check bridge connectivity"
	AlertAuthRejected     = "bridge authentication rejected"
	ActionReenterPassword = "re-enter terminal credentials"
)

const (
	maxAssessAttempts = 3  // повторные оценки, если View меняется между оценкой и отправкой
	maxTicketAttempts = 10 // подбор свободного симулированного тикета
)

// AccountConfig - параметры одного счёта
type AccountConfig struct {
	PollInterval time.Duration
	PushBuffer   int
	MagicNumber  int64
	Supervisor   SupervisorConfig
	Reconciler   ReconcilerConfig
	Simulator    SimulatorConfig
}

// AccountDeps - внешние зависимости счёта
type AccountDeps struct {
	Transport  bridge.Transport
	Ledger     Ledger
	RiskParams RiskParamsStore
	Events     *EventBus
	Clock      Clock
	Random     RandomSource
	Log        *utils.Logger
}

// TradeRequest - запрос на открытие сделки
type TradeRequest struct {
	Symbol     string   `json:"symbol"`
	Side       string   `json:"side"` // long | short
	Volume     float64  `json:"volume"`
	Price      *float64 `json:"price,omitempty"`
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`
	Comment    string   `json:"comment,omitempty"`
}

// Validate проверяет формат запроса
func (r TradeRequest) Validate() error {
	if err := utils.ValidateSymbol(r.Symbol); err != nil {
		return err
	}
	if err := utils.ValidateSide(r.Side); err != nil {
		return err
	}
	if err := utils.ValidateVolume(r.Volume); err != nil {
		return err
	}
	for _, p := range []*float64{r.Price, r.StopLoss, r.TakeProfit} {
		if p != nil {
			if err := utils.ValidatePrice(*p); err != nil {
				return err
			}
		}
	}
	return nil
}

// TradeResult - итог PlaceTrade. Position == nil при отказе Risk Gate.
type TradeResult struct {
	Assessment models.Assessment `json:"assessment"`
	Position   *models.Position  `json:"position,omitempty"`
	Simulated  bool              `json:"simulated"`
}

// AccountStatus - сводка состояния счёта
type AccountStatus struct {
	AccountID     string                  `json:"account_id"`
	State         string                  `json:"state"`
	Description   string                  `json:"description"`
	CanTradeReal  bool                    `json:"can_place_real_orders"`
	Version       uint64                  `json:"version"`
	Snapshot      *models.AccountSnapshot `json:"snapshot"`
	OpenPositions int                     `json:"open_positions"`
	FailedPolls   int                     `json:"failed_polls"`
}

// Account - планировщик одного счёта: владеет таймером опроса и
// каналом push, связывает Supervisor, Reconciler и Risk Gate.
type Account struct {
	id        string
	cfg       AccountConfig
	transport bridge.Transport
	ledger    Ledger
	params    RiskParamsStore
	events    *EventBus
	clock     Clock
	log       *utils.Logger

	sup  *Supervisor
	rec  *Reconciler
	gate *risk.Gate
	sim  *Simulator

	pushCh chan models.AccountUpdate

	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewAccount собирает счёт в состоянии OFFLINE
func NewAccount(id string, cfg AccountConfig, params models.RiskParameters, deps AccountDeps) *Account {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.PushBuffer <= 0 {
		cfg.PushBuffer = 64
	}
	if cfg.MagicNumber == 0 {
		cfg.MagicNumber = 12345
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock
	}
	if deps.Random == nil {
		deps.Random = NewRandomSource(0)
	}

	a := &Account{
		id:        id,
		cfg:       cfg,
		transport: deps.Transport,
		ledger:    deps.Ledger,
		params:    deps.RiskParams,
		events:    deps.Events,
		clock:     deps.Clock,
		log:       utils.OrGlobal(deps.Log).WithComponent("account").WithAccount(id),
		pushCh:    make(chan models.AccountUpdate, cfg.PushBuffer),
	}

	a.sim = NewSimulator(cfg.Simulator, deps.Random)
	a.gate = risk.NewGate(id, params, a.onAlert, deps.Log)
	a.sup = NewSupervisor(id, deps.Transport, cfg.Supervisor, SupervisorHooks{
		OnTransition:    a.onTransition,
		OnConnected:     a.onConnected,
		OnConnectFailed: a.onConnectFailed,
		OnDegraded:      a.onDegraded,
		OnAuthLost:      a.onAuthLost,
	}, deps.Clock, deps.Log)
	a.rec = NewReconciler(id, a.sup, deps.Transport, a.sim, deps.Ledger, deps.Events, deps.Clock, cfg.Reconciler, deps.Log)

	return a
}

// ID возвращает идентификатор счёта
func (a *Account) ID() string { return a.id }

// Supervisor возвращает супервизор подключения
func (a *Account) Supervisor() *Supervisor { return a.sup }

// Reconciler возвращает владельца снимка
func (a *Account) Reconciler() *Reconciler { return a.rec }

// Gate возвращает Risk Gate счёта
func (a *Account) Gate() *risk.Gate { return a.gate }

// ============================================================
// Реакции на события супервизора и Risk Gate
// ============================================================

func (a *Account) onTransition(change models.StateChange) {
	a.events.emit(models.EventStateChanged, a.id, a.clock.Now(), change)
}

func (a *Account) onConnected(creds models.Credentials, info *bridge.AccountInfo, at time.Time, took time.Duration) {
	if _, err := a.rec.ApplyConnect(context.Background(), creds, info, at, took); err != nil && !errors.Is(err, ErrResultDiscarded) {
		a.log.Error("apply connect data failed", utils.Err(err))
	}
}

func (a *Account) onConnectFailed(err error, took time.Duration) {
	a.rec.RecordConnectFailure(context.Background(), err, took)
}

func (a *Account) onDegraded(reason string) {
	a.gate.Raise(models.AlertLevelMedium, AlertBridgeDegraded, ActionCheckBridge)
}

func (a *Account) onAuthLost(err error) {
	a.gate.Raise(models.AlertLevelHigh, AlertAuthRejected, ActionReenterPassword)
}

// onAlert сохраняет алерт и публикует событие
func (a *Account) onAlert(alert models.RiskAlert) {
	if a.ledger != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.ledger.AppendAlert(ctx, &alert); err != nil {
			a.log.Error("append alert failed", utils.Err(err))
		}
	}
	a.events.emit(models.EventAlertRaised, a.id, alert.Timestamp, alert)
}

// ============================================================
// Жизненный цикл
// ============================================================

// Connect подключает счёт и запускает цикл синхронизации.
// Недоступный мост не ошибка: счёт работает в SIMULATED.
func (a *Account) Connect(ctx context.Context, creds models.Credentials) error {
	creds.AccountID = a.id
	if err := a.sup.Connect(ctx, creds); err != nil {
		return err
	}
	a.startLoop()
	return nil
}

// Disconnect переводит счёт в OFFLINE и останавливает цикл.
// Не ждёт незавершённых вызовов моста.
func (a *Account) Disconnect() {
	a.stopLoop()
	a.sup.Disconnect()
}

// Close отключает счёт и ждёт завершения фоновых горутин
func (a *Account) Close() {
	a.Disconnect()
	a.wg.Wait()
	a.sup.Wait()
}

func (a *Account) startLoop() {
	a.loopMu.Lock()
	defer a.loopMu.Unlock()
	if a.loopCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.loopCancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.loop(ctx)
	}()
}

func (a *Account) stopLoop() {
	a.loopMu.Lock()
	defer a.loopMu.Unlock()
	if a.loopCancel != nil {
		a.loopCancel()
		a.loopCancel = nil
	}
}

// loop - единственный цикл синхронизации счёта: таймер опроса и канал push
// питают одну функцию слияния
func (a *Account) loop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.wg.Add(1)
			go func() {
				defer a.wg.Done()
				a.pollAndLog(ctx)
			}()
		case upd := <-a.pushCh:
			if _, err := a.rec.OnPush(ctx, upd); err != nil && !errors.Is(err, ErrResultDiscarded) {
				a.log.Warn("push merge failed", utils.Err(err))
			}
		}
	}
}

func (a *Account) pollAndLog(ctx context.Context) {
	entry, err := a.rec.PollOnce(ctx)
	switch {
	case errors.Is(err, ErrPollInFlight):
		a.log.Debug("poll skipped: previous poll still running")
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrResultDiscarded):
	case err != nil:
		a.log.Warn("poll failed", utils.Err(err))
	case entry != nil:
		a.log.Debug("poll completed",
			utils.Outcome(entry.Outcome),
			utils.Int64("duration_ms", entry.DurationMs),
			utils.Bool("simulated", entry.Simulated),
		)
	}
}

// Push ставит внешнее уведомление в очередь цикла.
// false - счёт не подключён или буфер заполнен.
func (a *Account) Push(upd models.AccountUpdate) bool {
	if !IsConnected(a.sup.Mode()) {
		return false
	}
	select {
	case a.pushCh <- upd:
		return true
	default:
		RecordBufferOverflow("push")
		a.log.Warn("push buffer full, update dropped")
		return false
	}
}

// PollNow выполняет опрос вне расписания
func (a *Account) PollNow(ctx context.Context) (*models.SyncLogEntry, error) {
	return a.rec.PollOnce(ctx)
}

// ApplyPush сливает уведомление синхронно (bulk sync из API)
func (a *Account) ApplyPush(ctx context.Context, upd models.AccountUpdate) (*models.SyncLogEntry, error) {
	if !IsConnected(a.sup.Mode()) {
		return nil, ErrNotConnected
	}
	return a.rec.OnPush(ctx, upd)
}

// ============================================================
// Торговля
// ============================================================

// PlaceTrade оценивает и исполняет сделку.
//
// Оценка и отправка относятся к одной версии View: если состояние
// изменилось между ними, сделка оценивается заново. В SIMULATED проверка
// версии и слияние сделки выполняются атомарно. В ONLINE ордер уже принят
// брокером, поэтому исполнение записывается даже если слияние успело
// пройти после проверки. Отказ Risk Gate возвращается как результат с
// Position == nil, не как ошибка.
func (a *Account) PlaceTrade(ctx context.Context, req TradeRequest) (*TradeResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTrade, err)
	}
	if !IsConnected(a.sup.Mode()) {
		return nil, ErrNotConnected
	}

	for attempt := 0; attempt < maxAssessAttempts; attempt++ {
		view := a.rec.View()
		assessment := a.gate.Assess(req.Symbol, req.Volume, view.Snapshot, view.OpenPositions())
		if !assessment.Approved {
			return &TradeResult{Assessment: assessment}, nil
		}
		if a.rec.Version() != view.Version {
			a.log.Debug("state moved during assessment, reassessing", utils.Int("attempt", attempt+1))
			continue
		}

		pos, simulated, err := a.execute(ctx, req, view)
		if errors.Is(err, ErrApprovalStale) {
			a.log.Debug("state moved before simulated fill, reassessing", utils.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, err
		}

		a.log.Info("trade executed",
			utils.Ticket(pos.Ticket),
			utils.Symbol(pos.Symbol),
			utils.Side(pos.Side),
			utils.Volume(pos.Volume),
			utils.Price(pos.OpenPrice),
			utils.Bool("simulated", simulated),
		)
		a.events.emit(models.EventTradeExecuted, a.id, a.clock.Now(), pos)

		return &TradeResult{Assessment: assessment, Position: pos, Simulated: simulated}, nil
	}
	return nil, ErrApprovalStale
}

// execute отправляет ордер в мост (ONLINE) или исполняет локально (SIMULATED)
// и сливает исполнение в View
func (a *Account) execute(ctx context.Context, req TradeRequest, view *View) (*models.Position, bool, error) {
	fill := models.PositionUpdate{
		Symbol:      req.Symbol,
		Side:        req.Side,
		Volume:      req.Volume,
		Comment:     req.Comment,
		MagicNumber: int(a.cfg.MagicNumber),
		OpenTime:    a.clock.Now(),
		Status:      models.PositionStatusOpen,
	}
	if req.StopLoss != nil {
		fill.StopLoss = *req.StopLoss
	}
	if req.TakeProfit != nil {
		fill.TakeProfit = *req.TakeProfit
	}

	switch a.sup.Mode() {
	case models.StateOnline:
		res, err := a.transport.PlaceOrder(ctx, bridge.OrderRequest{
			Symbol:      req.Symbol,
			TradeType:   bridge.TradeTypeFromSide(req.Side),
			Volume:      req.Volume,
			Price:       req.Price,
			StopLoss:    req.StopLoss,
			TakeProfit:  req.TakeProfit,
			Comment:     req.Comment,
			MagicNumber: a.cfg.MagicNumber,
		})
		if err != nil {
			return nil, false, fmt.Errorf("place order: %w", err)
		}
		fill.Ticket = res.Ticket
		fill.OpenPrice = res.OpenPrice
		fill.CurrentPrice = res.OpenPrice
		pos, err := a.rec.ApplyFill(ctx, fill, false)
		return pos, false, err

	case models.StateSimulated:
		price := a.sim.FillPrice(req.Symbol, req.Price, view.OpenPositions())
		fill.Ticket = a.sim.Ticket()
		for i := 0; i < maxTicketAttempts; i++ {
			if !a.rec.KnownTicket(fill.Ticket) {
				break
			}
			fill.Ticket = a.sim.Ticket()
		}
		if a.rec.KnownTicket(fill.Ticket) {
			return nil, true, ErrTicketExhausted
		}
		fill.OpenPrice = price
		fill.CurrentPrice = price
		pos, err := a.rec.ApplyFillAt(ctx, fill, true, view.Version)
		return pos, true, err

	default:
		return nil, false, ErrNotConnected
	}
}

// CloseTrade закрывает позицию: через мост в ONLINE, локально в SIMULATED.
// В SIMULATED локально закрываются только симулированные позиции: реальная
// позиция открыта у брокера и без моста не закрывается.
func (a *Account) CloseTrade(ctx context.Context, ticket int64) (*models.Position, error) {
	pos, ok := a.rec.Position(ticket)
	if !ok {
		return nil, ErrPositionNotFound
	}

	var closePrice, profit float64
	simulated := false
	switch a.sup.Mode() {
	case models.StateOnline:
		res, err := a.transport.CloseOrder(ctx, ticket)
		if err != nil {
			return nil, fmt.Errorf("close order %d: %w", ticket, err)
		}
		closePrice, profit = res.ClosePrice, res.Profit
	case models.StateSimulated:
		if !pos.Simulated {
			return nil, fmt.Errorf("%w: position %d is held by the broker", ErrNotConnected, ticket)
		}
		closePrice = pos.CurrentPrice
		if closePrice <= 0 {
			closePrice = pos.OpenPrice
		}
		profit = pos.Profit
		simulated = true
	default:
		return nil, ErrNotConnected
	}

	return a.rec.ClosePosition(ctx, ticket, closePrice, profit, simulated)
}

// ============================================================
// Риск
// ============================================================

// Assess оценивает сделку без исполнения
func (a *Account) Assess(symbol string, volume float64) models.Assessment {
	view := a.rec.View()
	return a.gate.Assess(symbol, volume, view.Snapshot, view.OpenPositions())
}

// OptimalPositionSize считает объём по балансу текущего снимка
func (a *Account) OptimalPositionSize(symbol string, entryPrice, stopLoss float64) float64 {
	return a.gate.OptimalPositionSize(symbol, entryPrice, stopLoss, a.rec.View().Snapshot.Balance)
}

// Metrics возвращает метрики портфеля
func (a *Account) Metrics() models.PortfolioMetrics {
	view := a.rec.View()
	return a.gate.Metrics(view.Snapshot, view.OpenPositions())
}

// Alerts возвращает журнал алертов, новые первыми
func (a *Account) Alerts() []models.RiskAlert {
	return a.gate.Alerts()
}

// RiskParameters возвращает текущие параметры риска
func (a *Account) RiskParameters() models.RiskParameters {
	return a.gate.Params()
}

// UpdateRiskParameters накладывает частичное обновление, проверяет и сохраняет
func (a *Account) UpdateRiskParameters(ctx context.Context, patch models.RiskParametersPatch) (models.RiskParameters, error) {
	next := a.gate.Params().Apply(patch)
	next.UpdatedAt = a.clock.Now().UTC()

	if err := a.gate.SetParams(next); err != nil {
		return models.RiskParameters{}, fmt.Errorf("%w: %v", ErrInvalidRiskParameters, err)
	}
	if a.params != nil {
		if err := a.params.UpsertRiskParameters(ctx, a.id, next); err != nil {
			return next, fmt.Errorf("persist risk parameters: %w", err)
		}
	}
	return next, nil
}

// ============================================================
// Чтение
// ============================================================

// State возвращает состояние подключения
func (a *Account) State() string {
	return a.sup.State()
}

// Snapshot возвращает копию снимка
func (a *Account) Snapshot() *models.AccountSnapshot {
	return a.rec.Snapshot()
}

// Positions возвращает открытые позиции
func (a *Account) Positions() []*models.Position {
	return a.rec.OpenPositions()
}

// Status возвращает сводку счёта
func (a *Account) Status() AccountStatus {
	state := a.sup.State()
	view := a.rec.View()
	return AccountStatus{
		AccountID:     a.id,
		State:         state,
		Description:   StateInfo(state),
		CanTradeReal:  a.sup.CanPlaceRealOrders(),
		Version:       view.Version,
		Snapshot:      view.Snapshot.Clone(),
		OpenPositions: len(view.Open),
		FailedPolls:   a.rec.Failures(),
	}
}
