package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accountsync/internal/models"
)

func TestSimulator_PerturbWithinEnvelope(t *testing.T) {
	snap := &models.AccountSnapshot{Balance: 10000, Equity: 10050, Margin: 200}
	open := []*models.Position{{
		Ticket: 1, Symbol: "EURUSD", Side: models.SideLong, Volume: 0.1,
		OpenPrice: 1.1000, CurrentPrice: 1.1050, Profit: 50,
	}}

	for _, f := range []float64{0, 0.25, 0.5, 0.75, 0.999} {
		sim := NewSimulator(DefaultSimulatorConfig(), fixedRand{f: f})
		upd := sim.Perturb(snap, open, t0)

		assert.True(t, upd.Simulated)
		assert.Equal(t, models.SyncSourcePoll, upd.Source)
		require.NotNil(t, upd.Balance)
		assert.InDelta(t, 10000, *upd.Balance, 10000*0.001+0.01)
		assert.GreaterOrEqual(t, *upd.Balance, 0.0)
		require.Len(t, upd.Positions, 1)
		assert.InDelta(t, 1.1050, upd.Positions[0].CurrentPrice, 1.1050*0.001+1e-9)
		assert.InDelta(t, *upd.Balance+upd.Positions[0].Profit, *upd.Equity, 0.011)
		assert.Nil(t, upd.Identity, "known account keeps its identity")
	}
}

func TestSimulator_NeverNegativeBalance(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{DriftFraction: 5}, fixedRand{f: 0})
	upd := sim.Perturb(&models.AccountSnapshot{Balance: 1, Equity: 1}, nil, t0)
	assert.Equal(t, 0.0, *upd.Balance)
}

func TestSimulator_DemoAccount(t *testing.T) {
	sim := NewSimulator(DefaultSimulatorConfig(), fixedRand{f: 0.5})
	upd := sim.Perturb(nil, nil, t0)

	assert.Equal(t, 10000.0, *upd.Balance)
	assert.Equal(t, 10000.0, *upd.Equity)
	require.NotNil(t, upd.Leverage)
	assert.Equal(t, 100, *upd.Leverage)
	require.NotNil(t, upd.Identity)
	assert.Equal(t, "USD", upd.Identity.Currency)
}

func TestSimulator_TicketRange(t *testing.T) {
	for _, n := range []int64{0, 500000, 1 << 40} {
		ticket := NewSimulator(DefaultSimulatorConfig(), fixedRand{n: n}).Ticket()
		assert.GreaterOrEqual(t, ticket, int64(100000))
		assert.LessOrEqual(t, ticket, int64(999999))
	}

	sim := NewSimulator(DefaultSimulatorConfig(), NewRandomSource(42))
	for i := 0; i < 1000; i++ {
		ticket := sim.Ticket()
		require.True(t, ticket >= 100000 && ticket <= 999999, "ticket %d out of range", ticket)
	}
}

func TestSimulator_FillPrice(t *testing.T) {
	sim := NewSimulator(DefaultSimulatorConfig(), fixedRand{})
	open := []*models.Position{{Symbol: "EURUSD.m", CurrentPrice: 1.0850}}

	assert.Equal(t, 1.2, sim.FillPrice("EURUSD", models.Float(1.2), open))
	assert.Equal(t, 1.0850, sim.FillPrice("eurusd", nil, open))
	assert.Equal(t, 1.0, sim.FillPrice("GBPJPY", nil, open))
}
