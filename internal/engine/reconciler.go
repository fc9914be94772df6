package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"accountsync/internal/bridge"
	"accountsync/internal/models"
	"accountsync/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ReconcilerConfig - параметры синхронизации
type ReconcilerConfig struct {
	FailureThreshold int           // подряд неудачных опросов до деградации (default: 3)
	CallTimeout      time.Duration // таймаут вызовов моста (default: 10s)
	PersistTimeout   time.Duration // таймаут записи в ledger (default: 5s)
}

// Reconciler - единственный источник истины о снимке и позициях счёта.
//
// Опрос и push проходят через одну функцию слияния. Опубликованный View
// читается без блокировок (atomic.Pointer), слияния сериализованы mergeMu.
type Reconciler struct {
	accountID string
	sup       *Supervisor
	transport bridge.Transport
	sim       *Simulator
	ledger    Ledger
	events    *EventBus
	clock     Clock
	cfg       ReconcilerConfig
	tracer    trace.Tracer
	log       *utils.Logger

	view     atomic.Pointer[View]
	mergeMu  sync.Mutex
	polling  atomic.Bool
	failures atomic.Int32
}

// NewReconciler создаёт Reconciler с пустым View
func NewReconciler(accountID string, sup *Supervisor, transport bridge.Transport, sim *Simulator, ledger Ledger, events *EventBus, clock Clock, cfg ReconcilerConfig, log *utils.Logger) *Reconciler {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	if clock == nil {
		clock = SystemClock
	}

	r := &Reconciler{
		accountID: accountID,
		sup:       sup,
		transport: transport,
		sim:       sim,
		ledger:    ledger,
		events:    events,
		clock:     clock,
		cfg:       cfg,
		tracer:    otel.Tracer("accountsync/engine"),
		log:       utils.OrGlobal(log).WithComponent("reconciler").WithAccount(accountID),
	}
	r.view.Store(NewView(accountID))
	return r
}

// ============================================================
// Чтение
// ============================================================

// View возвращает текущее опубликованное состояние (только чтение)
func (r *Reconciler) View() *View {
	return r.view.Load()
}

// Version возвращает версию текущего состояния
func (r *Reconciler) Version() uint64 {
	return r.view.Load().Version
}

// Snapshot возвращает копию снимка счёта
func (r *Reconciler) Snapshot() *models.AccountSnapshot {
	return r.view.Load().Snapshot.Clone()
}

// OpenPositions возвращает копии открытых позиций
func (r *Reconciler) OpenPositions() []*models.Position {
	open := r.view.Load().OpenPositions()
	out := make([]*models.Position, len(open))
	for i, p := range open {
		out[i] = p.Clone()
	}
	return out
}

// Position возвращает открытую позицию по тикету
func (r *Reconciler) Position(ticket int64) (*models.Position, bool) {
	p, ok := r.view.Load().Open[ticket]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// KnownTicket сообщает, занят ли тикет открытой или закрытой позицией
func (r *Reconciler) KnownTicket(ticket int64) bool {
	v := r.view.Load()
	if _, ok := v.Open[ticket]; ok {
		return true
	}
	_, ok := v.Closed[ticket]
	return ok
}

// Failures возвращает число подряд неудачных опросов
func (r *Reconciler) Failures() int {
	return int(r.failures.Load())
}

// Seed загружает начальное состояние (тёплый старт из ledger).
// Используется только до первого слияния.
func (r *Reconciler) Seed(snapshot *models.AccountSnapshot, positions []*models.Position) {
	r.mergeMu.Lock()
	defer r.mergeMu.Unlock()

	v := NewView(r.accountID)
	if snapshot != nil {
		v.Snapshot = snapshot.Clone()
		v.Snapshot.AccountID = r.accountID
		if v.Snapshot.FieldTimes == nil {
			v.Snapshot.FieldTimes = map[string]time.Time{}
		}
		v.Snapshot.RecalculateFloating()
	}
	for _, p := range positions {
		if p != nil && p.IsOpen() {
			v.Open[p.Ticket] = p.Clone()
		}
	}
	r.view.Store(v)
}

// ============================================================
// Опрос
// ============================================================

// PollOnce выполняет один цикл опроса.
//
// ONLINE - данные моста, SIMULATED - дрейф последнего снимка.
// Ошибки транспорта не возвращаются: они записываются в журнал
// синхронизации, а после FailureThreshold подряд счёт деградирует.
// Возвращает ErrPollInFlight, ErrNotConnected или ErrResultDiscarded.
func (r *Reconciler) PollOnce(ctx context.Context) (*models.SyncLogEntry, error) {
	if !r.polling.CompareAndSwap(false, true) {
		return nil, ErrPollInFlight
	}
	defer r.polling.Store(false)

	gen := r.sup.Generation()
	mode := r.sup.Mode()
	if mode != models.StateOnline && mode != models.StateSimulated {
		return nil, ErrNotConnected
	}

	ctx, span := r.tracer.Start(ctx, "reconciler.poll",
		trace.WithAttributes(
			attribute.String("account.id", r.accountID),
			attribute.String("account.mode", mode),
		),
	)
	defer span.End()

	start := r.clock.Now()

	var upd models.AccountUpdate
	if mode == models.StateOnline {
		var err error
		upd, err = r.fetch(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "fetch failed")
			entry := r.recordFailure(ctx, models.SyncSourcePoll, err, r.clock.Now().Sub(start))
			r.countFailure()
			return entry, nil
		}
		r.failures.Store(0)
	} else {
		view := r.view.Load()
		upd = r.sim.Perturb(view.Snapshot, view.OpenPositions(), r.clock.Now())
	}

	entry, err := r.apply(ctx, gen, upd, start)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return entry, err
}

// fetch запрашивает счёт и позиции. Вызовы не отменяются вместе с ctx
// (disconnect не обрывает их), но ограничены CallTimeout.
func (r *Reconciler) fetch(ctx context.Context) (models.AccountUpdate, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.CallTimeout)
	defer cancel()

	info, err := r.transport.AccountInfo(callCtx)
	if err != nil {
		return models.AccountUpdate{}, err
	}
	positions, err := r.transport.Positions(callCtx)
	if err != nil {
		return models.AccountUpdate{}, err
	}
	return bridge.ToUpdate(info, positions, r.clock.Now(), models.SyncSourcePoll), nil
}

// countFailure считает неудачный опрос и деградирует счёт по порогу
func (r *Reconciler) countFailure() {
	n := r.failures.Add(1)
	if int(n) < r.cfg.FailureThreshold {
		return
	}
	r.failures.Store(0)
	reason := fmt.Sprintf("%d consecutive failed polls", n)
	if r.sup.Degrade(reason) {
		r.log.Warn("bridge degraded", utils.Int("failures", int(n)))
	}
}

// ============================================================
// Push и подключение
// ============================================================

// OnPush применяет внешнее уведомление тем же слиянием, что и опрос
func (r *Reconciler) OnPush(ctx context.Context, upd models.AccountUpdate) (*models.SyncLogEntry, error) {
	if upd.FetchedAt.IsZero() {
		upd.FetchedAt = r.clock.Now()
	}
	upd.Source = models.SyncSourcePush
	return r.apply(ctx, r.sup.Generation(), upd, r.clock.Now())
}

// ApplyConnect сливает данные счёта, полученные при подключении
func (r *Reconciler) ApplyConnect(ctx context.Context, creds models.Credentials, info *bridge.AccountInfo, at time.Time, took time.Duration) (*models.SyncLogEntry, error) {
	upd := bridge.ToUpdate(info, nil, at, models.SyncSourceConnect)
	if upd.Identity == nil {
		upd.Identity = &models.AccountIdentity{}
	}
	upd.Identity.AccountNumber = creds.AccountNumber
	upd.Identity.Server = creds.Server
	r.failures.Store(0)
	return r.apply(ctx, r.sup.Generation(), upd, at.Add(-took))
}

// RecordConnectFailure записывает неудачное подключение в журнал
func (r *Reconciler) RecordConnectFailure(ctx context.Context, err error, took time.Duration) {
	r.recordFailure(ctx, models.SyncSourceConnect, err, took)
}

// ApplyFill сливает подтверждённую сделку (upsert позиции)
func (r *Reconciler) ApplyFill(ctx context.Context, fill models.PositionUpdate, simulated bool) (*models.Position, error) {
	return r.applyFill(ctx, fill, simulated, nil)
}

// ApplyFillAt сливает сделку, только если версия View всё ещё равна
// version; иначе ErrApprovalStale и View не меняется
func (r *Reconciler) ApplyFillAt(ctx context.Context, fill models.PositionUpdate, simulated bool, version uint64) (*models.Position, error) {
	return r.applyFill(ctx, fill, simulated, &version)
}

func (r *Reconciler) applyFill(ctx context.Context, fill models.PositionUpdate, simulated bool, version *uint64) (*models.Position, error) {
	at := r.clock.Now()
	upd := models.AccountUpdate{
		FetchedAt: at,
		Source:    models.SyncSourcePush,
		Simulated: simulated,
		Positions: []models.PositionUpdate{fill},
	}

	r.mergeMu.Lock()
	if version != nil && r.view.Load().Version != *version {
		r.mergeMu.Unlock()
		return nil, ErrApprovalStale
	}
	_, err := r.applyLocked(ctx, r.sup.Generation(), upd, at)
	r.mergeMu.Unlock()
	if err != nil {
		return nil, err
	}

	if p, ok := r.Position(fill.Ticket); ok {
		return p, nil
	}
	return nil, ErrPositionNotFound
}

// ============================================================
// Слияние
// ============================================================

// apply - единая точка слияния: проверка поколения, Merge, публикация,
// запись в ledger, событие и запись журнала
func (r *Reconciler) apply(ctx context.Context, gen uint64, upd models.AccountUpdate, start time.Time) (*models.SyncLogEntry, error) {
	r.mergeMu.Lock()
	defer r.mergeMu.Unlock()
	return r.applyLocked(ctx, gen, upd, start)
}

// applyLocked вызывается под mergeMu
func (r *Reconciler) applyLocked(ctx context.Context, gen uint64, upd models.AccountUpdate, start time.Time) (*models.SyncLogEntry, error) {
	if !r.sup.BeginReconcile(gen) {
		entry := r.recordFailure(ctx, upd.Source, ErrResultDiscarded, r.clock.Now().Sub(start))
		r.log.Info("merge result discarded", utils.String("source", upd.Source))
		return entry, ErrResultDiscarded
	}
	defer r.sup.EndReconcile()

	res := Merge(r.view.Load(), upd)
	r.view.Store(res.View)

	r.log.Debug("merged update",
		utils.String("source", upd.Source),
		utils.Bool("simulated", upd.Simulated),
		utils.Int("upserted", len(res.Upserted)),
		utils.Int("closed", len(res.Closed)),
		utils.Int("stale", res.Stale),
	)

	persistErr := r.persist(ctx, res)

	now := r.clock.Now()
	if res.AccountChanged || len(res.Upserted) > 0 {
		r.events.emit(models.EventSnapshotUpdated, r.accountID, now, res.View.Snapshot.Clone())
	}
	for _, p := range res.Closed {
		r.events.emit(models.EventPositionClosed, r.accountID, now, p.Clone())
	}

	entry := &models.SyncLogEntry{
		AccountID:  r.accountID,
		Outcome:    models.SyncOutcomeSuccess,
		Source:     upd.Source,
		Simulated:  upd.Simulated,
		DurationMs: now.Sub(start).Milliseconds(),
	}
	if persistErr != nil {
		entry.Outcome = models.SyncOutcomePartial
		entry.Error = persistErr.Error()
	}
	if payload, err := json.Marshal(upd); err == nil {
		entry.Payload = payload
	}
	r.appendSyncLog(ctx, entry)

	return entry, nil
}

// persist записывает снимок и изменённые позиции; при ошибке продолжает
// запись остальных и возвращает первую ошибку
func (r *Reconciler) persist(ctx context.Context, res MergeResult) error {
	if r.ledger == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.PersistTimeout)
	defer cancel()

	var errs []error
	if res.AccountChanged {
		if err := r.ledger.UpsertAccount(ctx, res.View.Snapshot.Clone()); err != nil {
			errs = append(errs, fmt.Errorf("upsert account: %w", err))
		}
	}
	for _, p := range append(res.Upserted, res.Closed...) {
		if err := r.ledger.UpsertPosition(ctx, p.Clone()); err != nil {
			errs = append(errs, fmt.Errorf("upsert position %d: %w", p.Ticket, err))
		}
	}

	if len(errs) > 0 {
		r.log.Error("persist merged state failed", utils.Err(errs[0]), utils.Int("errors", len(errs)))
		return errors.Join(errs...)
	}
	return nil
}

// ClosePosition закрывает открытую позицию: баланс и equity
// пересчитываются, позиция уходит из открытого набора.
// simulated помечает закрытую позицию и снимок как симулированные.
// ErrPositionNotFound если тикет не открыт.
func (r *Reconciler) ClosePosition(ctx context.Context, ticket int64, closePrice, profit float64, simulated bool) (*models.Position, error) {
	r.mergeMu.Lock()
	defer r.mergeMu.Unlock()

	next, closed, err := ApplyClose(r.view.Load(), ticket, closePrice, profit, r.clock.Now(), simulated)
	if err != nil {
		return nil, err
	}
	r.view.Store(next)

	r.log.Info("position closed",
		utils.Ticket(ticket),
		utils.Price(closePrice),
		utils.PNL(profit),
		utils.Bool("simulated", simulated),
	)

	if r.ledger != nil {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.PersistTimeout)
		defer cancel()
		if err := r.ledger.UpsertPosition(pctx, closed.Clone()); err != nil {
			r.log.Error("persist closed position failed", utils.Ticket(ticket), utils.Err(err))
		}
		if err := r.ledger.UpsertAccount(pctx, next.Snapshot.Clone()); err != nil {
			r.log.Error("persist account after close failed", utils.Err(err))
		}
	}

	now := r.clock.Now()
	r.events.emit(models.EventPositionClosed, r.accountID, now, closed.Clone())
	r.events.emit(models.EventSnapshotUpdated, r.accountID, now, next.Snapshot.Clone())

	return closed.Clone(), nil
}

// ============================================================
// Журнал синхронизации
// ============================================================

func (r *Reconciler) recordFailure(ctx context.Context, source string, cause error, took time.Duration) *models.SyncLogEntry {
	entry := &models.SyncLogEntry{
		AccountID:  r.accountID,
		Outcome:    models.SyncOutcomeFailed,
		Source:     source,
		Simulated:  false,
		DurationMs: took.Milliseconds(),
		Error:      cause.Error(),
	}
	if !errors.Is(cause, ErrResultDiscarded) {
		r.log.Warn("sync failed", utils.String("source", source), utils.Err(cause))
	}
	r.appendSyncLog(ctx, entry)
	return entry
}

func (r *Reconciler) appendSyncLog(ctx context.Context, entry *models.SyncLogEntry) {
	entry.ID = ulid.Make().String()
	entry.CreatedAt = r.clock.Now().UTC()
	RecordSync(entry.Source, entry.Outcome, entry.DurationMs)

	if r.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.PersistTimeout)
	defer cancel()
	if err := r.ledger.AppendSyncLog(ctx, entry); err != nil {
		r.log.Error("append sync log failed", utils.Err(err))
	}
}
