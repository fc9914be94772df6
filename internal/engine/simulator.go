package engine

import (
	"math"
	"time"

	"accountsync/internal/models"
	"accountsync/pkg/utils"
)

// SimulatorConfig - параметры локальной симуляции
type SimulatorConfig struct {
	DriftFraction float64 // максимальное относительное отклонение за один тик
	DemoBalance   float64 // баланс для счёта без известного снимка
	Leverage      int
	Currency      string
}

// DefaultSimulatorConfig возвращает конфигурацию по умолчанию
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		DriftFraction: 0.001,
		DemoBalance:   10000,
		Leverage:      100,
		Currency:      "USD",
	}
}

// Simulator генерирует ограниченный случайный дрейф последнего снимка.
// Все результаты помечены Simulated.
type Simulator struct {
	cfg SimulatorConfig
	rnd RandomSource
}

// NewSimulator создаёт симулятор с заданным генератором
func NewSimulator(cfg SimulatorConfig, rnd RandomSource) *Simulator {
	if cfg.DemoBalance <= 0 {
		cfg.DemoBalance = DefaultSimulatorConfig().DemoBalance
	}
	if cfg.Leverage <= 0 {
		cfg.Leverage = DefaultSimulatorConfig().Leverage
	}
	if cfg.Currency == "" {
		cfg.Currency = DefaultSimulatorConfig().Currency
	}
	return &Simulator{cfg: cfg, rnd: rnd}
}

// drift возвращает множитель в [1-d, 1+d]
func (s *Simulator) drift() float64 {
	return 1 + (s.rnd.Float64()*2-1)*s.cfg.DriftFraction
}

// Perturb строит обновление: дрейф цен позиций, баланса и маржи.
// Баланс никогда не становится отрицательным.
func (s *Simulator) Perturb(snap *models.AccountSnapshot, open []*models.Position, at time.Time) models.AccountUpdate {
	upd := models.AccountUpdate{
		FetchedAt: at,
		Source:    models.SyncSourcePoll,
		Simulated: true,
	}

	balance, equity, margin := s.cfg.DemoBalance, s.cfg.DemoBalance, 0.0
	if snap != nil && snap.Balance > 0 {
		balance, equity, margin = snap.Balance, snap.Equity, snap.Margin
	} else {
		upd.Identity = &models.AccountIdentity{Currency: s.cfg.Currency}
		upd.Leverage = models.Int(s.cfg.Leverage)
	}

	balance = math.Max(0, balance*s.drift())

	var floating float64
	if len(open) > 0 {
		upd.Positions = make([]models.PositionUpdate, 0, len(open))
		for _, p := range open {
			u := s.perturbPosition(p)
			floating += u.Profit
			upd.Positions = append(upd.Positions, u)
		}
	} else {
		floating = (equity - balance) * s.drift()
	}
	equity = balance + floating
	margin = math.Max(0, margin*s.drift())

	upd.Balance = models.Float(utils.RoundTo(balance, 2))
	upd.Equity = models.Float(utils.RoundTo(equity, 2))
	upd.Margin = models.Float(utils.RoundTo(margin, 2))
	upd.FreeMargin = models.Float(utils.RoundTo(equity-margin, 2))
	if margin > 0 {
		upd.MarginLevel = models.Float(utils.RoundTo(equity/margin*100, 2))
	} else {
		upd.MarginLevel = models.Float(0)
	}

	return upd
}

func (s *Simulator) perturbPosition(p *models.Position) models.PositionUpdate {
	u := models.PositionUpdate{
		Ticket:       p.Ticket,
		Symbol:       p.Symbol,
		Side:         p.Side,
		Volume:       p.Volume,
		OpenPrice:    p.OpenPrice,
		CurrentPrice: p.CurrentPrice,
		Profit:       p.Profit,
		Swap:         p.Swap,
		Commission:   p.Commission,
		Status:       models.PositionStatusOpen,
	}

	price := p.CurrentPrice
	if price <= 0 {
		price = p.OpenPrice
	}
	if price > 0 && p.OpenPrice > 0 {
		u.CurrentPrice = price * s.drift()
		u.Profit = utils.RoundTo(utils.CalculatePNL(p.Side, p.OpenPrice, u.CurrentPrice, p.Volume), 2)
	}
	return u
}

// Ticket выдаёт тикет симулированной сделки в [100000, 999999]
func (s *Simulator) Ticket() int64 {
	return 100000 + s.rnd.Int63n(900000)
}

// FillPrice выбирает цену симулированного исполнения:
// цена запроса, иначе последняя цена символа среди открытых позиций, иначе 1.0
func (s *Simulator) FillPrice(symbol string, requested *float64, open []*models.Position) float64 {
	if requested != nil && *requested > 0 {
		return *requested
	}
	norm := utils.NormalizeSymbol(symbol)
	for _, p := range open {
		if utils.NormalizeSymbol(p.Symbol) == norm && p.CurrentPrice > 0 {
			return p.CurrentPrice
		}
	}
	return 1.0
}
