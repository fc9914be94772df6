package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accountsync/internal/models"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func eurusd(ticket int64, price, profit float64) models.PositionUpdate {
	return models.PositionUpdate{
		Ticket:       ticket,
		Symbol:       "EURUSD",
		Side:         models.SideLong,
		Volume:       0.1,
		OpenPrice:    1.1000,
		CurrentPrice: price,
		Profit:       profit,
	}
}

func TestMerge_Idempotent(t *testing.T) {
	upd := models.AccountUpdate{
		FetchedAt: t0,
		Source:    models.SyncSourcePoll,
		Balance:   models.Float(10000),
		Equity:    models.Float(10050),
		Positions: []models.PositionUpdate{eurusd(123, 1.1050, 50)},
	}

	first := Merge(NewView("acc"), upd)
	second := Merge(first.View, upd)

	a, b := first.View.Snapshot, second.View.Snapshot
	assert.Equal(t, a.Balance, b.Balance)
	assert.Equal(t, a.Equity, b.Equity)
	assert.Equal(t, 50.0, b.FloatingProfit)
	require.Len(t, second.View.Open, 1)
	assert.Equal(t, 50.0, second.View.Open[123].Profit)
	assert.Equal(t, first.View.Open[123].CurrentPrice, second.View.Open[123].CurrentPrice)
	assert.Equal(t, first.View.Version+1, second.View.Version)
}

func TestMerge_UpsertByTicket(t *testing.T) {
	v := Merge(NewView("acc"), models.AccountUpdate{
		FetchedAt: t0,
		Positions: []models.PositionUpdate{eurusd(123, 1.1010, 10)},
	}).View

	res := Merge(v, models.AccountUpdate{
		FetchedAt: t0.Add(time.Second),
		Positions: []models.PositionUpdate{eurusd(123, 1.1020, 20)},
	})

	require.Len(t, res.View.Open, 1)
	p := res.View.Open[123]
	assert.Equal(t, 1.1020, p.CurrentPrice)
	assert.Equal(t, 20.0, p.Profit)
	assert.Equal(t, "acc", p.AccountID)
	assert.Equal(t, t0, p.OpenTime, "open time of a new position defaults to its first fetch")
	assert.Len(t, res.Upserted, 1)

	// предыдущий View не изменился
	assert.Equal(t, 1.1010, v.Open[123].CurrentPrice)
}

func TestMerge_ClosedPositionNeverReopens(t *testing.T) {
	closed := eurusd(123, 1.1030, 30)
	closed.Status = models.PositionStatusClosed

	v := Merge(NewView("acc"), models.AccountUpdate{
		FetchedAt: t0,
		Positions: []models.PositionUpdate{eurusd(123, 1.1010, 10)},
	}).View

	res := Merge(v, models.AccountUpdate{FetchedAt: t0.Add(time.Second), Positions: []models.PositionUpdate{closed}})
	require.Len(t, res.Closed, 1)
	assert.Empty(t, res.View.Open)
	require.NotNil(t, res.View.Closed[123].ClosePrice)
	assert.Equal(t, 1.1030, *res.View.Closed[123].ClosePrice)

	// устаревший payload всё ещё показывает позицию открытой
	stale := Merge(res.View, models.AccountUpdate{
		FetchedAt: t0.Add(time.Minute),
		Positions: []models.PositionUpdate{eurusd(123, 1.1040, 40)},
	})
	assert.Empty(t, stale.View.Open)
	assert.Equal(t, 1, stale.Stale)
	assert.Empty(t, stale.Upserted)

	// повторное закрытие ничего не меняет
	again := Merge(stale.View, models.AccountUpdate{FetchedAt: t0.Add(2 * time.Minute), Positions: []models.PositionUpdate{closed}})
	assert.Empty(t, again.Closed)
	assert.Equal(t, 0, again.Stale)
}

func TestMerge_StalePositionIgnored(t *testing.T) {
	v := Merge(NewView("acc"), models.AccountUpdate{
		FetchedAt: t0.Add(time.Minute),
		Positions: []models.PositionUpdate{eurusd(7, 1.2000, 5)},
	}).View

	res := Merge(v, models.AccountUpdate{
		FetchedAt: t0,
		Positions: []models.PositionUpdate{eurusd(7, 1.1000, -5)},
	})
	assert.Equal(t, 1, res.Stale)
	assert.Equal(t, 1.2000, res.View.Open[7].CurrentPrice)
}

func TestMerge_LastWriteWinsPerField(t *testing.T) {
	v := Merge(NewView("acc"), models.AccountUpdate{
		FetchedAt: t0.Add(2 * time.Second),
		Balance:   models.Float(2000),
	}).View

	res := Merge(v, models.AccountUpdate{
		FetchedAt: t0.Add(time.Second),
		Balance:   models.Float(1000),
		Equity:    models.Float(2100),
	})

	snap := res.View.Snapshot
	assert.Equal(t, 2000.0, snap.Balance, "older balance must not overwrite a newer one")
	assert.Equal(t, 2100.0, snap.Equity, "equity had no newer value")
	assert.Equal(t, 100.0, snap.FloatingProfit)
	assert.Equal(t, t0.Add(2*time.Second), snap.LastSync)
}

func TestMerge_AbsentTicketStaysOpen(t *testing.T) {
	v := Merge(NewView("acc"), models.AccountUpdate{
		FetchedAt: t0,
		Positions: []models.PositionUpdate{eurusd(1, 1.1, 0), eurusd(2, 1.1, 0)},
	}).View

	res := Merge(v, models.AccountUpdate{
		FetchedAt: t0.Add(time.Second),
		Positions: []models.PositionUpdate{eurusd(1, 1.2, 0)},
	})
	assert.Len(t, res.View.Open, 2)
	assert.Empty(t, res.Closed)
}

func TestMerge_SimulatedTagging(t *testing.T) {
	res := Merge(NewView("acc"), models.AccountUpdate{
		FetchedAt: t0,
		Simulated: true,
		Balance:   models.Float(10000),
		Positions: []models.PositionUpdate{eurusd(9, 1.1, 0)},
	})
	assert.True(t, res.View.Snapshot.Simulated)
	assert.True(t, res.View.Open[9].Simulated)

	live := Merge(res.View, models.AccountUpdate{FetchedAt: t0.Add(time.Second), Balance: models.Float(10001)})
	assert.False(t, live.View.Snapshot.Simulated)
}

func TestApplyClose(t *testing.T) {
	v := Merge(NewView("acc"), models.AccountUpdate{
		FetchedAt: t0,
		Balance:   models.Float(10000),
		Equity:    models.Float(10050),
		Positions: []models.PositionUpdate{eurusd(123, 1.1050, 50)},
	}).View

	next, closed, err := ApplyClose(v, 123, 1.1060, 60, t0.Add(time.Minute), false)
	require.NoError(t, err)

	assert.Empty(t, next.Open)
	assert.Equal(t, models.PositionStatusClosed, closed.Status)
	assert.Equal(t, 60.0, closed.Profit)
	assert.Equal(t, 10060.0, next.Snapshot.Balance)
	assert.Equal(t, 10060.0, next.Snapshot.Equity)
	assert.Equal(t, 0.0, next.Snapshot.FloatingProfit)
	assert.Equal(t, v.Version+1, next.Version)

	_, _, err = ApplyClose(next, 123, 1.1, 0, t0.Add(2*time.Minute), false)
	assert.ErrorIs(t, err, ErrPositionNotFound)
}

func TestApplyClose_SimulatedTagging(t *testing.T) {
	sim := eurusd(555001, 1.1020, 20)
	v := Merge(NewView("acc"), models.AccountUpdate{
		FetchedAt: t0,
		Balance:   models.Float(10000),
		Positions: []models.PositionUpdate{eurusd(777, 1.1025, 25)},
	}).View
	v = Merge(v, models.AccountUpdate{
		FetchedAt: t0.Add(time.Second),
		Simulated: true,
		Positions: []models.PositionUpdate{sim},
	}).View

	// реальная позиция симулированным закрытием не снимается
	_, _, err := ApplyClose(v, 777, 1.1025, 25, t0.Add(time.Minute), true)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Contains(t, v.Open, int64(777))

	next, closed, err := ApplyClose(v, 555001, 1.1020, 20, t0.Add(time.Minute), true)
	require.NoError(t, err)
	assert.True(t, closed.Simulated)
	assert.True(t, next.Snapshot.Simulated)
	assert.Contains(t, next.Open, int64(777))
}

func TestMerge_ClosedTicketsBounded(t *testing.T) {
	closedUpdate := func(ticket int64) models.PositionUpdate {
		u := eurusd(ticket, 1.1010, 10)
		u.Status = models.PositionStatusClosed
		return u
	}

	batch := make([]models.PositionUpdate, 0, maxClosedTickets)
	for i := int64(1); i <= maxClosedTickets; i++ {
		batch = append(batch, closedUpdate(i))
	}
	v := Merge(NewView("acc"), models.AccountUpdate{FetchedAt: t0, Positions: batch}).View
	require.Len(t, v.Closed, maxClosedTickets)

	var late []models.PositionUpdate
	for i := int64(1); i <= 5; i++ {
		late = append(late, closedUpdate(maxClosedTickets+i))
	}
	v = Merge(v, models.AccountUpdate{FetchedAt: t0.Add(time.Second), Positions: late}).View

	assert.Len(t, v.Closed, maxClosedTickets)
	for i := int64(1); i <= 5; i++ {
		assert.NotContains(t, v.Closed, i, "oldest closes are evicted first")
		assert.Contains(t, v.Closed, maxClosedTickets+i)
	}
	assert.Contains(t, v.Closed, int64(6))
}
