package state

import (
	"equity-cycle-bot/internal/models"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotsAreCopies(t *testing.T) {
	s := NewMarketState()

	in := []models.Instrument{{Ticker: "AAPL_US_EQ"}, {Ticker: "MSFT_US_EQ"}}
	s.SetInstruments(in)
	in[0].Ticker = "mutated"

	snap := s.SnapshotInstruments()
	require.Len(t, snap, 2)
	assert.Equal(t, "AAPL_US_EQ", snap[0].Ticker)

	snap[1].Ticker = "mutated"
	assert.Equal(t, "MSFT_US_EQ", s.SnapshotInstruments()[1].Ticker)
}

func TestLimitOrderSnapshotCopiesPrices(t *testing.T) {
	s := NewMarketState()
	price := 10.5
	s.SetLimitOrders([]models.LimitOrder{{ID: 1, Ticker: "AAPL_US_EQ", Quantity: -2, LimitPrice: &price}})

	snap := s.SnapshotLimitOrders()
	require.Len(t, snap, 1)
	*snap[0].LimitPrice = 99

	assert.Equal(t, 10.5, s.SnapshotLimitOrders()[0].Price())
	price = 1
	assert.Equal(t, 10.5, s.SnapshotLimitOrders()[0].Price())
}

func TestPositionsAndBalance(t *testing.T) {
	s := NewMarketState()
	s.SetPositions([]models.Position{{Ticker: "AAPL_US_EQ", Quantity: 3}})
	s.SetBalance(models.Balance{Free: 1000, Total: 1500})

	positions := s.SnapshotPositions()
	require.Len(t, positions, 1)
	positions[0].Quantity = 99
	assert.Equal(t, 3.0, s.SnapshotPositions()[0].Quantity, "snapshots are copies")
	assert.Equal(t, 1000.0, s.Balance().Free)
}

func TestCycleID(t *testing.T) {
	s := NewMarketState()
	assert.Equal(t, "", s.CycleID())
	s.BeginCycle("abc")
	assert.Equal(t, "abc", s.CycleID())
}

func TestConcurrentAccess(t *testing.T) {
	s := NewMarketState()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.SetInstruments([]models.Instrument{{Ticker: fmt.Sprintf("T%d_%d", i, j)}})
				s.SetBalance(models.Balance{Free: float64(j)})
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = len(s.SnapshotInstruments())
				_ = s.Balance()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, s.SnapshotInstruments(), 1)
}
