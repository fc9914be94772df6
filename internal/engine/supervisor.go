package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"accountsync/internal/bridge"
	"accountsync/internal/models"
	"accountsync/pkg/retry"
	"accountsync/pkg/utils"
)

// SupervisorConfig - параметры жизненного цикла подключения
type SupervisorConfig struct {
	ProbeInterval time.Duration // интервал health probe в ONLINE
	Reconnect     retry.Config  // расписание переподключения в SIMULATED
}

// SupervisorHooks - реакции на события супервизора.
// Вызываются вне блокировки; любые поля могут быть nil.
type SupervisorHooks struct {
	OnTransition    func(change models.StateChange)
	OnConnected     func(creds models.Credentials, info *bridge.AccountInfo, at time.Time, took time.Duration)
	OnConnectFailed func(err error, took time.Duration)
	OnDegraded      func(reason string)
	OnAuthLost      func(err error)
}

// Supervisor владеет состоянием подключения счёта и выбирает
// источник данных: реальный мост (ONLINE) или симуляция (SIMULATED).
//
// Ошибки транспорта не выходят наружу: они превращаются в переходы
// состояния и записи журнала. Наружу отдаются только ErrAuthRejected
// и логические ошибки.
type Supervisor struct {
	accountID string
	transport bridge.Transport
	cfg       SupervisorConfig
	hooks     SupervisorHooks
	clock     Clock
	log       *utils.Logger

	mu           sync.Mutex
	mode         string // OFFLINE | CONNECTING | ONLINE | SIMULATED
	reconciling  bool
	generation   uint64 // меняется при connect/disconnect
	creds        *models.Credentials
	loopCtx      context.Context
	loopCancel   context.CancelFunc
	probeSeq     uint64 // номер активного цикла probe
	reconnecting bool

	wg sync.WaitGroup
}

// NewSupervisor создаёт супервизор в состоянии OFFLINE
func NewSupervisor(accountID string, transport bridge.Transport, cfg SupervisorConfig, hooks SupervisorHooks, clock Clock, log *utils.Logger) *Supervisor {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 15 * time.Second
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Supervisor{
		accountID: accountID,
		transport: transport,
		cfg:       cfg,
		hooks:     hooks,
		clock:     clock,
		log:       utils.OrGlobal(log).WithComponent("supervisor").WithAccount(accountID),
		mode:      models.StateOffline,
	}
}

// State возвращает текущее состояние (RECONCILING на время слияния)
func (s *Supervisor) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Supervisor) stateLocked() string {
	if s.reconciling && s.mode != models.StateOffline {
		return models.StateReconciling
	}
	return s.mode
}

// Mode возвращает режим транспорта без учёта RECONCILING
func (s *Supervisor) Mode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Generation возвращает номер текущего подключения
func (s *Supervisor) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// CanPlaceRealOrders - ордера уходят в реальный терминал
func (s *Supervisor) CanPlaceRealOrders() bool {
	return CanPlaceRealOrders(s.Mode())
}

// setModeLocked меняет режим; вызывать под s.mu
func (s *Supervisor) setModeLocked(to, reason string) (models.StateChange, error) {
	from := s.stateLocked()
	if !CanTransition(s.mode, to) {
		return models.StateChange{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.mode, to)
	}
	s.mode = to
	if to == models.StateOffline {
		s.reconciling = false
	}
	StateTransitions.WithLabelValues(from, to).Inc()
	return models.StateChange{From: from, To: to, Reason: reason}, nil
}

func (s *Supervisor) notify(change models.StateChange) {
	s.log.Info("connection state changed",
		utils.String("from", change.From),
		utils.State(change.To),
		utils.String("reason", change.Reason),
	)
	if s.hooks.OnTransition != nil {
		s.hooks.OnTransition(change)
	}
}

// ============================================================
// Connect / Disconnect
// ============================================================

// Connect подключает счёт: OFFLINE → CONNECTING → ONLINE | SIMULATED.
//
// Недоступный мост переводит счёт в SIMULATED и запускает переподключение,
// ошибка при этом не возвращается. ErrAuthRejected возвращает счёт в OFFLINE.
func (s *Supervisor) Connect(ctx context.Context, creds models.Credentials) error {
	s.mu.Lock()
	if s.mode != models.StateOffline {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	change, err := s.setModeLocked(models.StateConnecting, "connect requested")
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.generation++
	gen := s.generation
	c := creds
	s.creds = &c
	s.loopCtx, s.loopCancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	s.notify(change)

	start := s.clock.Now()
	info, err := s.transport.Connect(ctx, creds)
	took := s.clock.Now().Sub(start)

	s.mu.Lock()
	if s.generation != gen {
		// disconnect во время подключения
		s.mu.Unlock()
		return ErrResultDiscarded
	}

	switch {
	case err == nil:
		change, _ = s.setModeLocked(models.StateOnline, "connected")
		s.startProbeLocked(gen)
		s.mu.Unlock()

		s.notify(change)
		if s.hooks.OnConnected != nil {
			s.hooks.OnConnected(creds, info, s.clock.Now(), took)
		}
		return nil

	case errors.Is(err, bridge.ErrAuthRejected):
		change, _ = s.setModeLocked(models.StateOffline, "auth rejected")
		s.stopLoopsLocked()
		s.creds = nil
		s.mu.Unlock()

		s.notify(change)
		if s.hooks.OnConnectFailed != nil {
			s.hooks.OnConnectFailed(err, took)
		}
		return err

	default:
		change, _ = s.setModeLocked(models.StateSimulated, "bridge unavailable")
		s.startReconnectLocked(gen)
		s.mu.Unlock()

		s.log.Warn("bridge unavailable on connect, falling back to simulation", utils.Err(err))
		s.notify(change)
		if s.hooks.OnConnectFailed != nil {
			s.hooks.OnConnectFailed(err, took)
		}
		return nil
	}
}

// Disconnect переводит счёт в OFFLINE из любого состояния и
// останавливает probe и переподключение. Незавершённые вызовы
// доработают, но их результаты будут отброшены.
func (s *Supervisor) Disconnect() {
	s.mu.Lock()
	if s.mode == models.StateOffline {
		s.mu.Unlock()
		return
	}
	change, _ := s.setModeLocked(models.StateOffline, "disconnect requested")
	s.generation++
	s.creds = nil
	s.stopLoopsLocked()
	s.mu.Unlock()

	s.notify(change)
}

// Wait ждёт завершения фоновых циклов (для graceful shutdown)
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func (s *Supervisor) stopLoopsLocked() {
	if s.loopCancel != nil {
		s.loopCancel()
		s.loopCancel = nil
	}
	s.reconnecting = false
}

// ============================================================
// Деградация и RECONCILING
// ============================================================

// Degrade переводит ONLINE → SIMULATED. Возвращает false если счёт не был ONLINE.
// OnDegraded вызывается ровно один раз на каждый такой переход.
func (s *Supervisor) Degrade(reason string) bool {
	s.mu.Lock()
	if s.mode != models.StateOnline {
		s.mu.Unlock()
		return false
	}
	change, _ := s.setModeLocked(models.StateSimulated, reason)
	s.startReconnectLocked(s.generation)
	s.mu.Unlock()

	s.notify(change)
	if s.hooks.OnDegraded != nil {
		s.hooks.OnDegraded(reason)
	}
	return true
}

// BeginReconcile отмечает начало слияния для подключения gen.
// false - счёт отключён или переподключён, результат нужно отбросить.
func (s *Supervisor) BeginReconcile(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen || !CanTransition(s.mode, models.StateReconciling) {
		return false
	}
	s.reconciling = true
	return true
}

// EndReconcile снимает отметку слияния
func (s *Supervisor) EndReconcile() {
	s.mu.Lock()
	s.reconciling = false
	s.mu.Unlock()
}

// ============================================================
// Health probe
// ============================================================

func (s *Supervisor) startProbeLocked(gen uint64) {
	ctx := s.loopCtx
	s.probeSeq++
	seq := s.probeSeq

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.ProbeInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !s.probeActive(gen, seq) {
					return
				}
				s.ProbeOnce(ctx)
			}
		}
	}()
}

// probeActive - цикл probe всё ещё текущий (после деградации и
// переподключения запускается новый цикл, старый завершается)
func (s *Supervisor) probeActive(gen, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation == gen && s.probeSeq == seq && s.mode == models.StateOnline
}

// ProbeOnce проверяет мост; выполняется только в ONLINE.
// Недоступный мост или отключённый терминал переводят счёт в SIMULATED.
func (s *Supervisor) ProbeOnce(ctx context.Context) bool {
	if s.Mode() != models.StateOnline {
		return false
	}

	status, err := s.transport.Status(ctx)
	switch {
	case err != nil:
		s.log.Warn("health probe failed", utils.Err(err))
		s.Degrade("health probe failed")
		return false
	case !status.MT5Connected:
		s.log.Warn("health probe: terminal disconnected from bridge")
		s.Degrade("terminal disconnected")
		return false
	}
	return true
}

// ============================================================
// Переподключение
// ============================================================

func (s *Supervisor) startReconnectLocked(gen uint64) {
	if s.reconnecting || s.creds == nil || s.loopCtx == nil {
		return
	}
	s.reconnecting = true
	ctx := s.loopCtx
	creds := *s.creds

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reconnectLoop(ctx, gen, creds)
	}()
}

func (s *Supervisor) reconnectLoop(ctx context.Context, gen uint64, creds models.Credentials) {
	// успешный выход сбрасывает флаг сам, под блокировкой
	giveUp := func() {
		s.mu.Lock()
		if s.generation == gen {
			s.reconnecting = false
		}
		s.mu.Unlock()
	}

	cfg := s.cfg.Reconnect
	for attempt := 0; cfg.MaxRetries <= 0 || attempt < cfg.MaxRetries; attempt++ {
		delay := cfg.Delay(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			giveUp()
			return
		case <-timer.C:
		}

		start := s.clock.Now()
		info, err := s.transport.Connect(ctx, creds)
		took := s.clock.Now().Sub(start)

		s.mu.Lock()
		if s.generation != gen || s.mode != models.StateSimulated {
			if s.generation == gen {
				s.reconnecting = false
			}
			s.mu.Unlock()
			return
		}

		if err == nil {
			change, _ := s.setModeLocked(models.StateOnline, "reconnected")
			s.reconnecting = false
			s.startProbeLocked(gen)
			s.mu.Unlock()

			s.notify(change)
			if s.hooks.OnConnected != nil {
				s.hooks.OnConnected(creds, info, s.clock.Now(), took)
			}
			return
		}
		s.mu.Unlock()

		if errors.Is(err, bridge.ErrAuthRejected) {
			s.log.Error("reconnect rejected by terminal, giving up", utils.Err(err))
			giveUp()
			if s.hooks.OnAuthLost != nil {
				s.hooks.OnAuthLost(err)
			}
			return
		}

		s.log.Debug("reconnect attempt failed",
			utils.Int("attempt", attempt+1),
			utils.Duration("next_delay", cfg.Delay(attempt+1)),
			utils.Err(err),
		)
	}
	giveUp()
}
