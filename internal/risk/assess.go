// Package risk - допуск сделок и портфельные метрики.
//
// AssessTrade, OptimalPositionSize и PortfolioMetrics - чистые функции
// над снимком счёта и открытыми позициями. Gate хранит параметры риска
// и журнал алертов одного счёта.
package risk

import (
	"math"
	"strings"
	"time"

	"accountsync/internal/models"
	"accountsync/pkg/utils"
)

// ============================================================
// Пороги оценки
// ============================================================

const (
	exposureThreshold = 0.10 // доля номинала позиции от баланса

	exposureWeight    = 0.3
	correlationWeight = 0.2
	concurrencyWeight = 0.4
	dailyLossWeight   = 0.5

	rejectScore    = 0.7 // score >= rejectScore - отказ
	rejectWarnings = 3   // warnings >= rejectWarnings - отказ

	// точность округления суммы весов (0.3+0.4 должно давать ровно 0.7)
	scorePrecision = 9
)

// Тексты предупреждений
const (
	WarnPositionSize  = "High position size relative to account balance"
	WarnCorrelation   = "High correlation with existing positions"
	WarnMaxConcurrent = "Maximum concurrent trades reached"
	WarnDailyLoss     = "Daily loss limit exceeded"
)

// AssessTrade оценивает предлагаемую сделку.
//
// Факторы (складываются):
//   - размер: volume × ContractSize / balance > 0.10 → +0.3
//   - корреляция: доля позиций с общей валютой > CorrelationLimit → +0.2
//   - количество: открытых позиций >= MaxConcurrentTrades → +0.4
//   - дневной убыток: сумма profit < -MaxDailyLoss → +0.5
//
// Сделка допускается при score < 0.7 и менее чем трёх предупреждениях.
// Отказ - обычный результат, не ошибка.
func AssessTrade(symbol string, volume float64, snapshot *models.AccountSnapshot, open []*models.Position, params models.RiskParameters) models.Assessment {
	open = openOnly(open)

	result := models.Assessment{
		Symbol:   symbol,
		Volume:   volume,
		Warnings: []string{},
	}

	var balance float64
	if snapshot != nil {
		balance = snapshot.Balance
	}

	var score float64

	exp := exposure(volume, balance)
	if !math.IsInf(exp, 1) {
		// бесконечность не сериализуется в JSON, в отчёте остаётся 0
		result.Exposure = exp
	}
	if exp > exposureThreshold {
		score += exposureWeight
		result.Warnings = append(result.Warnings, WarnPositionSize)
	}

	result.Correlation = correlation(symbol, open)
	if result.Correlation > params.CorrelationLimit {
		score += correlationWeight
		result.Warnings = append(result.Warnings, WarnCorrelation)
	}

	if len(open) >= params.MaxConcurrentTrades {
		score += concurrencyWeight
		result.Warnings = append(result.Warnings, WarnMaxConcurrent)
	}

	if dailyPnL(open) < -params.MaxDailyLoss {
		score += dailyLossWeight
		result.Warnings = append(result.Warnings, WarnDailyLoss)
	}

	score = utils.RoundTo(score, scorePrecision)
	result.Approved = score < rejectScore && len(result.Warnings) < rejectWarnings
	result.RiskScore = utils.Clamp(score, 0, 1)

	return result
}

// exposure - номинал позиции относительно баланса.
// Неположительный баланс даёт бесконечную нагрузку.
func exposure(volume, balance float64) float64 {
	if balance <= 0 {
		return math.Inf(1)
	}
	return volume * utils.ContractSize / balance
}

// correlation - доля открытых позиций, символ которых содержит
// базовую валюту или валюту котировки предлагаемого символа
func correlation(symbol string, open []*models.Position) float64 {
	base := utils.ExtractBaseCurrency(symbol)
	quote := utils.ExtractQuoteCurrency(symbol)

	related := 0
	for _, p := range open {
		s := utils.NormalizeSymbol(p.Symbol)
		if (base != "" && strings.Contains(s, base)) || (quote != "" && strings.Contains(s, quote)) {
			related++
		}
	}

	n := len(open)
	if n < 1 {
		n = 1
	}
	return float64(related) / float64(n)
}

func dailyPnL(open []*models.Position) float64 {
	var sum float64
	for _, p := range open {
		sum += p.Profit
	}
	return sum
}

func openOnly(positions []*models.Position) []*models.Position {
	out := make([]*models.Position, 0, len(positions))
	for _, p := range positions {
		if p != nil && p.IsOpen() {
			out = append(out, p)
		}
	}
	return out
}

// OptimalPositionSize считает объём по риску на сделку:
//
//	risk = balance × RiskPerTrade
//	distance = |entry - stopLoss| / PipSize(symbol)
//	volume = risk / (distance × PipValuePerLot)
//
// Результат ограничен [0, MaxPositionSize]. При нулевой дистанции - 0.
func OptimalPositionSize(symbol string, entryPrice, stopLoss, balance float64, params models.RiskParameters) float64 {
	distance := math.Abs(entryPrice-stopLoss) / utils.PipSize(symbol)
	if distance == 0 || balance <= 0 {
		return 0
	}

	riskAmount := balance * params.RiskPerTrade
	volume := riskAmount / (distance * utils.PipValuePerLot)

	return utils.Clamp(volume, 0, params.MaxPositionSize)
}

// PortfolioMetrics считает метрики по открытым позициям.
//
// TotalExposure (сумма объёмов) и DailyPnL (сумма profit) точные.
// Остальные поля - оценки по текущим открытым позициям, без истории сделок:
//   - WinRate: доля позиций в плюсе
//   - MaxDrawdown: худший убыток позиции как доля баланса
//   - SharpeRatio: mean/stddev profit позиций
//   - AvgTradeDuration: среднее время с открытия, часы
func PortfolioMetrics(snapshot *models.AccountSnapshot, open []*models.Position, now time.Time) models.PortfolioMetrics {
	open = openOnly(open)

	m := models.PortfolioMetrics{Estimated: true}
	if len(open) == 0 {
		return m
	}

	profits := make([]float64, 0, len(open))
	var winners int
	var worst float64
	var hours []float64

	for _, p := range open {
		m.TotalExposure += p.Volume
		m.DailyPnL += p.Profit
		profits = append(profits, p.Profit)

		if p.Profit > 0 {
			winners++
		}
		if p.Profit < worst {
			worst = p.Profit
		}
		if !p.OpenTime.IsZero() && now.After(p.OpenTime) {
			hours = append(hours, now.Sub(p.OpenTime).Hours())
		}
	}

	m.WinRate = float64(winners) / float64(len(open))

	if snapshot != nil && snapshot.Balance > 0 {
		m.MaxDrawdown = -worst / snapshot.Balance
	}

	if sd := utils.StdDev(profits); sd > 0 {
		m.SharpeRatio = utils.Mean(profits) / sd
	}

	m.AvgTradeDuration = utils.Mean(hours)

	return m
}
