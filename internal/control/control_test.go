package control

import (
	"context"
	"equity-cycle-bot/internal/handoff"
	"equity-cycle-bot/internal/models"
	"equity-cycle-bot/internal/persistence"
	"equity-cycle-bot/internal/state"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errFlaky = errors.New("flaky")

// mockDataProvider is a scripted DataProvider that records every call into a shared event log.
type mockDataProvider struct {
	sync.Mutex
	events           *eventLog
	closedChecks     int // IsMarketOpen returns false this many times
	balanceFailures  int
	instrumentsCalls int
	instruments      []models.Instrument
}

func (m *mockDataProvider) IsMarketOpen(ctx context.Context) bool {
	m.Lock()
	defer m.Unlock()
	if m.closedChecks > 0 {
		m.closedChecks--
		return false
	}
	return true
}

func (m *mockDataProvider) FetchBalance(ctx context.Context) (*models.Balance, error) {
	m.Lock()
	defer m.Unlock()
	if m.balanceFailures > 0 {
		m.balanceFailures--
		return nil, errFlaky
	}
	m.events.add("balance")
	return &models.Balance{Free: 10000}, nil
}

func (m *mockDataProvider) FetchInstruments(ctx context.Context) ([]models.Instrument, error) {
	m.Lock()
	defer m.Unlock()
	m.instrumentsCalls++
	m.events.add("instruments")
	return append([]models.Instrument(nil), m.instruments...), nil
}

func (m *mockDataProvider) FetchPositions(ctx context.Context) ([]models.Position, error) {
	m.events.add("positions")
	return []models.Position{{Ticker: "AAPL_US_EQ", Quantity: 1}}, nil
}

func (m *mockDataProvider) FetchOpenOrders(ctx context.Context) ([]models.LimitOrder, error) {
	m.events.add("limit_orders")
	return nil, nil
}

func (m *mockDataProvider) FetchCandidateDetails(ctx context.Context, instrument models.Instrument) (*models.CandidateCompany, error) {
	return nil, errors.New("not used")
}

func (m *mockDataProvider) fetchCount() int {
	m.Lock()
	defer m.Unlock()
	return m.instrumentsCalls
}

type eventLog struct {
	sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.Lock()
	defer l.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) snapshot() []string {
	l.Lock()
	defer l.Unlock()
	return append([]string(nil), l.events...)
}

type mockRecorder struct {
	sync.Mutex
	started   []string
	completed []string
}

func (r *mockRecorder) CycleStarted(cycleID string, freeCash float64, positions int) {
	r.Lock()
	defer r.Unlock()
	r.started = append(r.started, cycleID)
}

func (r *mockRecorder) CycleCompleted(cycleID string) {
	r.Lock()
	defer r.Unlock()
	r.completed = append(r.completed, cycleID)
}

func testConfig() *models.Config {
	return &models.Config{Timing: models.TimingConfig{MarketClosedSleepMs: 1, BalanceBackoffMs: 1}}
}

type fixture struct {
	data     *mockDataProvider
	state    *state.MarketState
	graph    *handoff.Graph
	repo     persistence.Repository
	recorder *mockRecorder
	coord    *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo, err := persistence.NewInMemoryRepository()
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	f := &fixture{
		data: &mockDataProvider{
			events:      &eventLog{},
			instruments: []models.Instrument{{Ticker: "A"}, {Ticker: "B"}, {Ticker: "C"}},
		},
		state:    state.NewMarketState(),
		graph:    handoff.NewGraph(),
		repo:     repo,
		recorder: &mockRecorder{},
	}
	n := 0
	f.coord = New(testConfig(), f.data, f.state, f.graph, repo, f.recorder, zap.NewNop(),
		WithShuffle(func(in []models.Instrument) {
			// reverse, so the order visibly changes
			for i, j := 0, len(in)-1; i < j; i, j = i+1, j-1 {
				in[i], in[j] = in[j], in[i]
			}
		}),
		WithCycleIDs(func() string { n++; return fmt.Sprintf("cycle-%d", n) }),
	)
	return f
}

// fakeWorkers stands in for Buy and Sell: both log when their start signal arrives, and Sell hands back to Control.
func (f *fixture) fakeWorkers(ctx context.Context, cycles int) {
	go func() {
		for i := 0; i < cycles; i++ {
			if f.graph.ControlToBuy.Wait(ctx) != nil {
				return
			}
			f.data.events.add("buy_start")
		}
	}()
	go func() {
		for i := 0; i < cycles; i++ {
			if f.graph.ControlToSell.Wait(ctx) != nil {
				return
			}
			f.data.events.add("sell_start")
			f.graph.SellToControl.Send(ctx)
		}
	}()
}

func TestRefreshCompletesBeforeWorkersStart(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f.fakeWorkers(ctx, 2)

	require.NoError(t, f.coord.RunCycle(ctx))
	require.NoError(t, f.coord.RunCycle(ctx))

	events := f.data.events.snapshot()
	// Each cycle's four refreshes come before that cycle's worker starts.
	var refreshed, started int
	for _, e := range events {
		switch e {
		case "balance", "instruments", "positions", "limit_orders":
			refreshed++
		case "buy_start", "sell_start":
			started++
			assert.GreaterOrEqual(t, refreshed, 4*((started+1)/2), "worker started before refresh: %v", events)
		}
	}
	assert.Equal(t, []string{"cycle-1", "cycle-2"}, f.recorder.completed)
	assert.Equal(t, "cycle-2", f.state.CycleID())
	assert.Equal(t, 10000.0, f.state.Balance().Free)
	assert.Len(t, f.state.SnapshotPositions(), 1)
}

func TestInstrumentsAlternateBetweenFreshAndSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f.fakeWorkers(ctx, 3)

	require.NoError(t, f.coord.RunCycle(ctx))
	assert.Equal(t, 1, f.data.fetchCount())
	first := f.state.SnapshotInstruments()
	assert.Equal(t, "C", first[0].Ticker, "fresh instruments are shuffled")

	require.NoError(t, f.coord.RunCycle(ctx))
	assert.Equal(t, 1, f.data.fetchCount(), "second cycle reuses the snapshot")
	assert.Equal(t, first, f.state.SnapshotInstruments())

	require.NoError(t, f.coord.RunCycle(ctx))
	assert.Equal(t, 2, f.data.fetchCount())
}

func TestStaleSnapshotFallsBackToFresh(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f.fakeWorkers(ctx, 1)

	// Not the first cycle, but no snapshot has been written.
	f.coord.fetchFreshInstruments = false
	require.NoError(t, f.coord.RunCycle(ctx))
	assert.Equal(t, 1, f.data.fetchCount())
}

func TestMarketClosedAndRefreshRetries(t *testing.T) {
	f := newFixture(t)
	f.data.closedChecks = 2
	f.data.balanceFailures = 3
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f.fakeWorkers(ctx, 1)

	require.NoError(t, f.coord.RunCycle(ctx))
	assert.Equal(t, 10000.0, f.state.Balance().Free)

	snap, err := f.repo.ReadAccountSnapshot()
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "cycle-1", snap.CycleID)
}

func TestCancelStopsRetryingRefresh(t *testing.T) {
	f := newFixture(t)
	f.data.balanceFailures = 1 << 30
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.coord.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, handoff.ErrStopped)
	case <-time.After(1 * time.Second):
		t.Fatal("coordinator did not stop")
	}
	assert.Empty(t, f.recorder.started)
}

func TestNewCycleIDIsShortAndUnique(t *testing.T) {
	a, b := NewCycleID(), NewCycleID()
	assert.NotEqual(t, a, b)
	assert.LessOrEqual(t, len(a), 22)
}
