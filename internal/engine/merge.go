package engine

import (
	"sort"
	"time"

	"accountsync/internal/models"
)

// maxClosedTickets - сколько закрытых тикетов View помнит для защиты
// от повторного открытия; старейшие по времени закрытия вытесняются
const maxClosedTickets = 1000

// View - неизменяемое состояние счёта: снимок и позиции.
// Каждое слияние создаёт новый View; опубликованный View не меняется.
type View struct {
	Version  uint64
	Snapshot *models.AccountSnapshot
	Open     map[int64]*models.Position
	Closed   map[int64]*models.Position // закрытые тикеты, терминальное состояние, не больше maxClosedTickets
}

// NewView создаёт пустой View счёта
func NewView(accountID string) *View {
	return &View{
		Snapshot: &models.AccountSnapshot{AccountID: accountID, FieldTimes: map[string]time.Time{}},
		Open:     map[int64]*models.Position{},
		Closed:   map[int64]*models.Position{},
	}
}

// OpenPositions возвращает открытые позиции, отсортированные по тикету
func (v *View) OpenPositions() []*models.Position {
	out := make([]*models.Position, 0, len(v.Open))
	for _, p := range v.Open {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out
}

// clone делает копию с независимыми картами (позиции разделяются)
func (v *View) clone() *View {
	c := &View{
		Version:  v.Version,
		Snapshot: v.Snapshot.Clone(),
		Open:     make(map[int64]*models.Position, len(v.Open)),
		Closed:   make(map[int64]*models.Position, len(v.Closed)),
	}
	for k, p := range v.Open {
		c.Open[k] = p
	}
	for k, p := range v.Closed {
		c.Closed[k] = p
	}
	if c.Snapshot.FieldTimes == nil {
		c.Snapshot.FieldTimes = map[string]time.Time{}
	}
	return c
}

// pruneClosed вытесняет самые давно закрытые тикеты сверх maxClosedTickets
func (v *View) pruneClosed() {
	for len(v.Closed) > maxClosedTickets {
		var oldest int64
		var oldestAt time.Time
		first := true
		for ticket, p := range v.Closed {
			at := p.UpdatedAt
			if p.CloseTime != nil {
				at = *p.CloseTime
			}
			if first || at.Before(oldestAt) || (at.Equal(oldestAt) && ticket < oldest) {
				oldest, oldestAt, first = ticket, at, false
			}
		}
		delete(v.Closed, oldest)
	}
}

// MergeResult - итог слияния
type MergeResult struct {
	View           *View
	AccountChanged bool
	Upserted       []*models.Position // новые и обновлённые открытые позиции
	Closed         []*models.Position // позиции, закрытые этим слиянием
	Stale          int                // проигнорированные обновления позиций
}

// Merge сливает обновление в View.
//
// Поля счёта: last-write-wins по каждому полю, ключ - FetchedAt.
// Поле применяется если FetchedAt не раньше метки поля.
// Позиции: upsert по тикету, устаревшие (FetchedAt < UpdatedAt) игнорируются.
// Закрытая позиция не открывается повторно. Отсутствие тикета в
// обновлении позицию не закрывает.
func Merge(current *View, upd models.AccountUpdate) MergeResult {
	next := current.clone()
	res := MergeResult{View: next}

	snap := next.Snapshot
	at := upd.FetchedAt

	apply := func(field string) bool {
		stamp, ok := snap.FieldTimes[field]
		if ok && at.Before(stamp) {
			return false
		}
		snap.FieldTimes[field] = at
		res.AccountChanged = true
		return true
	}

	if upd.Identity != nil && apply(models.FieldIdentity) {
		id := upd.Identity
		if id.AccountNumber != 0 {
			snap.AccountNumber = id.AccountNumber
		}
		if id.Server != "" {
			snap.Server = id.Server
		}
		if id.Name != "" {
			snap.Name = id.Name
		}
		if id.Company != "" {
			snap.Company = id.Company
		}
		if id.Currency != "" {
			snap.Currency = id.Currency
		}
	}
	if upd.Balance != nil && apply(models.FieldBalance) {
		snap.Balance = *upd.Balance
	}
	if upd.Equity != nil && apply(models.FieldEquity) {
		snap.Equity = *upd.Equity
	}
	if upd.Margin != nil && apply(models.FieldMargin) {
		snap.Margin = *upd.Margin
	}
	if upd.FreeMargin != nil && apply(models.FieldFreeMargin) {
		snap.FreeMargin = *upd.FreeMargin
	}
	if upd.MarginLevel != nil && apply(models.FieldMarginLevel) {
		snap.MarginLevel = *upd.MarginLevel
	}
	if upd.Leverage != nil && apply(models.FieldLeverage) {
		snap.Leverage = *upd.Leverage
	}

	if res.AccountChanged {
		snap.Simulated = upd.Simulated
	}
	snap.RecalculateFloating()
	if at.After(snap.LastSync) {
		snap.LastSync = at
	}

	for _, u := range upd.Positions {
		mergePosition(next, snap.AccountID, u, upd, &res)
	}
	if len(res.Closed) > 0 {
		next.pruneClosed()
	}

	next.Version = current.Version + 1
	return res
}

func mergePosition(v *View, accountID string, u models.PositionUpdate, upd models.AccountUpdate, res *MergeResult) {
	if _, closed := v.Closed[u.Ticket]; closed {
		// повторное закрытие идемпотентно, "open" для закрытого тикета устарело
		if !u.Closed() {
			res.Stale++
			StalePositionUpdates.Inc()
		}
		return
	}

	existing := v.Open[u.Ticket]
	if existing != nil && upd.FetchedAt.Before(existing.UpdatedAt) {
		res.Stale++
		StalePositionUpdates.Inc()
		return
	}

	var p *models.Position
	if existing != nil {
		p = existing.Clone()
	} else {
		p = &models.Position{
			AccountID: accountID,
			Ticket:    u.Ticket,
			Status:    models.PositionStatusOpen,
			OpenTime:  upd.FetchedAt,
		}
	}

	applyPositionUpdate(p, u)
	p.Simulated = upd.Simulated
	p.UpdatedAt = upd.FetchedAt

	if u.Closed() {
		p.Status = models.PositionStatusClosed
		closePrice := p.CurrentPrice
		if u.ClosePrice != nil {
			closePrice = *u.ClosePrice
		}
		closeTime := upd.FetchedAt
		if u.CloseTime != nil {
			closeTime = *u.CloseTime
		}
		p.ClosePrice = &closePrice
		p.CloseTime = &closeTime

		delete(v.Open, u.Ticket)
		v.Closed[u.Ticket] = p
		res.Closed = append(res.Closed, p)
		return
	}

	v.Open[u.Ticket] = p
	res.Upserted = append(res.Upserted, p)
}

// applyPositionUpdate переносит поля; нулевые цены и пустые строки
// означают "не передано" и не затирают известные значения
func applyPositionUpdate(p *models.Position, u models.PositionUpdate) {
	if u.Symbol != "" {
		p.Symbol = u.Symbol
	}
	if u.Side != "" {
		p.Side = u.Side
	}
	if u.Volume > 0 {
		p.Volume = u.Volume
	}
	if u.OpenPrice > 0 {
		p.OpenPrice = u.OpenPrice
	}
	if u.CurrentPrice > 0 {
		p.CurrentPrice = u.CurrentPrice
	}
	if u.StopLoss > 0 {
		p.StopLoss = u.StopLoss
	}
	if u.TakeProfit > 0 {
		p.TakeProfit = u.TakeProfit
	}
	if u.Comment != "" {
		p.Comment = u.Comment
	}
	if u.MagicNumber != 0 {
		p.MagicNumber = u.MagicNumber
	}
	if !u.OpenTime.IsZero() {
		p.OpenTime = u.OpenTime
	}
	p.Profit = u.Profit
	p.Swap = u.Swap
	p.Commission = u.Commission
}

// ApplyClose закрывает открытую позицию.
//
//	balance += profit
//	equity  += profit - position.Profit (плавающая прибыль позиции уже в equity)
//
// simulated помечает закрытую позицию и снимок; симулированное закрытие
// реальную позицию не снимает.
func ApplyClose(current *View, ticket int64, closePrice, profit float64, at time.Time, simulated bool) (*View, *models.Position, error) {
	pos, ok := current.Open[ticket]
	if !ok {
		return nil, nil, ErrPositionNotFound
	}
	if simulated && !pos.Simulated {
		return nil, nil, ErrNotConnected
	}

	next := current.clone()
	snap := next.Snapshot

	snap.Balance += profit
	snap.Equity += profit - pos.Profit
	snap.RecalculateFloating()
	stampAt(snap, models.FieldBalance, at)
	stampAt(snap, models.FieldEquity, at)
	if at.After(snap.LastSync) {
		snap.LastSync = at
	}
	if simulated {
		snap.Simulated = true
	}

	closed := pos.Clone()
	closed.Status = models.PositionStatusClosed
	closed.Profit = profit
	closed.ClosePrice = &closePrice
	closed.CloseTime = &at
	closed.UpdatedAt = at
	if simulated {
		closed.Simulated = true
	}

	delete(next.Open, ticket)
	next.Closed[ticket] = closed
	next.pruneClosed()
	next.Version = current.Version + 1

	return next, closed, nil
}

// stampAt сдвигает метку поля вперёд (назад не двигает)
func stampAt(snap *models.AccountSnapshot, field string, at time.Time) {
	if stamp, ok := snap.FieldTimes[field]; !ok || at.After(stamp) {
		snap.FieldTimes[field] = at
	}
}
