package risk

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"accountsync/internal/models"
	"accountsync/pkg/utils"
)

// Тексты алерта отказа
const (
	AlertTradeRejected = "trade rejected"
	ActionReviewRisk   = "review risk parameters or reduce size"
)

// AlertSink получает каждый поднятый алерт (сохранение, события)
type AlertSink func(alert models.RiskAlert)

// Gate - допуск сделок одного счёта.
// Параметры читаются под RLock, меняются целиком через SetParams.
type Gate struct {
	accountID string

	mu     sync.RWMutex
	params models.RiskParameters

	alerts *AlertLog
	sink   AlertSink
	now    func() time.Time
	log    *utils.Logger
}

// NewGate создаёт Gate; sink может быть nil
func NewGate(accountID string, params models.RiskParameters, sink AlertSink, log *utils.Logger) *Gate {
	return &Gate{
		accountID: accountID,
		params:    params,
		alerts:    NewAlertLog(AlertLogCapacity),
		sink:      sink,
		now:       time.Now,
		log:       utils.OrGlobal(log).WithComponent("risk").WithAccount(accountID),
	}
}

// Params возвращает текущие параметры риска
func (g *Gate) Params() models.RiskParameters {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.params
}

// SetParams заменяет параметры после валидации
func (g *Gate) SetParams(params models.RiskParameters) error {
	if err := params.Validate(); err != nil {
		return err
	}
	g.mu.Lock()
	g.params = params
	g.mu.Unlock()

	g.log.Info("risk parameters updated",
		utils.Float64("max_daily_loss", params.MaxDailyLoss),
		utils.Float64("max_position_size", params.MaxPositionSize),
		utils.Int("max_concurrent_trades", params.MaxConcurrentTrades),
	)
	return nil
}

// Assess оценивает сделку; при отказе поднимает алерт уровня high
func (g *Gate) Assess(symbol string, volume float64, snapshot *models.AccountSnapshot, open []*models.Position) models.Assessment {
	result := AssessTrade(symbol, volume, snapshot, open, g.Params())

	outcome := "approved"
	if !result.Approved {
		outcome = "rejected"
		g.Raise(models.AlertLevelHigh, AlertTradeRejected, ActionReviewRisk)
	}
	AssessmentsTotal.WithLabelValues(outcome).Inc()

	g.log.Debug("trade assessed",
		utils.Symbol(symbol),
		utils.Volume(volume),
		utils.Float64("risk_score", result.RiskScore),
		utils.Int("warnings", len(result.Warnings)),
		utils.Outcome(outcome),
	)
	return result
}

// OptimalPositionSize считает объём для текущих параметров
func (g *Gate) OptimalPositionSize(symbol string, entryPrice, stopLoss, balance float64) float64 {
	return OptimalPositionSize(symbol, entryPrice, stopLoss, balance, g.Params())
}

// Metrics считает портфельные метрики
func (g *Gate) Metrics(snapshot *models.AccountSnapshot, open []*models.Position) models.PortfolioMetrics {
	return PortfolioMetrics(snapshot, open, g.now())
}

// Raise добавляет алерт в журнал и передаёт его в sink
func (g *Gate) Raise(level, message, action string) models.RiskAlert {
	alert := models.RiskAlert{
		ID:        uuid.New().String(),
		AccountID: g.accountID,
		Level:     level,
		Message:   message,
		Action:    action,
		Timestamp: g.now().UTC(),
	}
	g.alerts.Add(alert)
	AlertsRaised.WithLabelValues(level).Inc()

	g.log.Warn("risk alert",
		utils.String("level", level),
		utils.String("message", message),
	)

	if g.sink != nil {
		g.sink(alert)
	}
	return alert
}

// Alerts возвращает журнал алертов, новые первыми
func (g *Gate) Alerts() []models.RiskAlert {
	return g.alerts.List()
}
