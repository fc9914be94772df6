package models

import (
	"fmt"
	"time"
)

// RiskParameters - настройки риска счёта. Меняет владелец счёта, читает только Risk Gate.
type RiskParameters struct {
	MaxDailyLoss        float64   `json:"max_daily_loss" db:"max_daily_loss"`
	MaxPositionSize     float64   `json:"max_position_size" db:"max_position_size"`
	MaxConcurrentTrades int       `json:"max_concurrent_trades" db:"max_concurrent_trades"`
	RiskPerTrade        float64   `json:"risk_per_trade" db:"risk_per_trade"`
	CorrelationLimit    float64   `json:"correlation_limit" db:"correlation_limit"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultRiskParameters возвращает параметры по умолчанию
func DefaultRiskParameters() RiskParameters {
	return RiskParameters{
		MaxDailyLoss:        500,
		MaxPositionSize:     1.0,
		MaxConcurrentTrades: 5,
		RiskPerTrade:        0.02,
		CorrelationLimit:    0.7,
	}
}

// Validate проверяет диапазоны параметров
func (p RiskParameters) Validate() error {
	if p.MaxDailyLoss < 0 {
		return fmt.Errorf("max_daily_loss cannot be negative, got %v", p.MaxDailyLoss)
	}
	if p.MaxPositionSize <= 0 {
		return fmt.Errorf("max_position_size must be positive, got %v", p.MaxPositionSize)
	}
	if p.MaxConcurrentTrades < 1 {
		return fmt.Errorf("max_concurrent_trades must be at least 1, got %d", p.MaxConcurrentTrades)
	}
	if p.RiskPerTrade <= 0 || p.RiskPerTrade > 1 {
		return fmt.Errorf("risk_per_trade must be in (0, 1], got %v", p.RiskPerTrade)
	}
	if p.CorrelationLimit < 0 || p.CorrelationLimit > 1 {
		return fmt.Errorf("correlation_limit must be in [0, 1], got %v", p.CorrelationLimit)
	}
	return nil
}

// RiskParametersPatch - частичное обновление параметров (nil = не менять)
type RiskParametersPatch struct {
	MaxDailyLoss        *float64 `json:"max_daily_loss,omitempty"`
	MaxPositionSize     *float64 `json:"max_position_size,omitempty"`
	MaxConcurrentTrades *int     `json:"max_concurrent_trades,omitempty"`
	RiskPerTrade        *float64 `json:"risk_per_trade,omitempty"`
	CorrelationLimit    *float64 `json:"correlation_limit,omitempty"`
}

// Apply накладывает патч поверх текущих параметров
func (p RiskParameters) Apply(patch RiskParametersPatch) RiskParameters {
	if patch.MaxDailyLoss != nil {
		p.MaxDailyLoss = *patch.MaxDailyLoss
	}
	if patch.MaxPositionSize != nil {
		p.MaxPositionSize = *patch.MaxPositionSize
	}
	if patch.MaxConcurrentTrades != nil {
		p.MaxConcurrentTrades = *patch.MaxConcurrentTrades
	}
	if patch.RiskPerTrade != nil {
		p.RiskPerTrade = *patch.RiskPerTrade
	}
	if patch.CorrelationLimit != nil {
		p.CorrelationLimit = *patch.CorrelationLimit
	}
	return p
}

// Уровни риск-алертов
const (
	AlertLevelLow      = "low"
	AlertLevelMedium   = "medium"
	AlertLevelHigh     = "high"
	AlertLevelCritical = "critical"
)

// RiskAlert - запись журнала алертов
type RiskAlert struct {
	ID        string    `json:"id" db:"id"`
	AccountID string    `json:"account_id" db:"account_id"`
	Level     string    `json:"level" db:"level"`
	Message   string    `json:"message" db:"message"`
	Action    string    `json:"action_required" db:"action_required"`
	Timestamp time.Time `json:"timestamp" db:"created_at"`
}

// Assessment - результат оценки сделки. Отказ - нормальный результат, не ошибка.
type Assessment struct {
	Symbol      string   `json:"symbol"`
	Volume      float64  `json:"volume"`
	Approved    bool     `json:"approved"`
	RiskScore   float64  `json:"risk_score"`
	Warnings    []string `json:"warnings"`
	Exposure    float64  `json:"exposure"`
	Correlation float64  `json:"correlation"`
}

// PortfolioMetrics - метрики портфеля.
// TotalExposure и DailyPnL - точные суммы, остальные поля - оценки.
type PortfolioMetrics struct {
	TotalExposure    float64 `json:"total_exposure"`
	DailyPnL         float64 `json:"daily_pnl"`
	WinRate          float64 `json:"win_rate"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	AvgTradeDuration float64 `json:"avg_trade_duration"` // часы
	Estimated        bool    `json:"estimated"`
}
