package state

import (
	"equity-cycle-bot/internal/models"
	"sync"
	"sync/atomic"
)

// MarketState is the process-wide store shared by the Control, Buy and Sell workers.
// Each collection has its own lock. Locks are held only while copying in or out
// and never nested.
type MarketState struct {
	instrumentsMu sync.RWMutex
	instruments   []models.Instrument

	positionsMu sync.RWMutex
	positions   []models.Position

	limitOrdersMu sync.RWMutex
	limitOrders   []models.LimitOrder

	balanceMu sync.RWMutex
	balance   models.Balance

	cycleID atomic.Value // string
}

// NewMarketState creates an empty MarketState.
func NewMarketState() *MarketState {
	s := &MarketState{}
	s.cycleID.Store("")
	return s
}

// BeginCycle records the id of the cycle whose data is about to be refreshed.
func (s *MarketState) BeginCycle(id string) {
	s.cycleID.Store(id)
}

// CycleID returns the id of the current cycle.
func (s *MarketState) CycleID() string {
	return s.cycleID.Load().(string)
}

// SetInstruments replaces the instrument universe.
func (s *MarketState) SetInstruments(instruments []models.Instrument) {
	cp := append([]models.Instrument(nil), instruments...)
	s.instrumentsMu.Lock()
	s.instruments = cp
	s.instrumentsMu.Unlock()
}

// SnapshotInstruments returns a copy of the instrument universe.
func (s *MarketState) SnapshotInstruments() []models.Instrument {
	s.instrumentsMu.RLock()
	defer s.instrumentsMu.RUnlock()
	return append([]models.Instrument(nil), s.instruments...)
}

// SetPositions replaces the open positions.
func (s *MarketState) SetPositions(positions []models.Position) {
	cp := append([]models.Position(nil), positions...)
	s.positionsMu.Lock()
	s.positions = cp
	s.positionsMu.Unlock()
}

// SnapshotPositions returns a copy of the open positions.
func (s *MarketState) SnapshotPositions() []models.Position {
	s.positionsMu.RLock()
	defer s.positionsMu.RUnlock()
	return append([]models.Position(nil), s.positions...)
}

// SetLimitOrders replaces the working orders.
func (s *MarketState) SetLimitOrders(orders []models.LimitOrder) {
	cp := copyOrders(orders)
	s.limitOrdersMu.Lock()
	s.limitOrders = cp
	s.limitOrdersMu.Unlock()
}

// SnapshotLimitOrders returns a deep copy of the working orders.
func (s *MarketState) SnapshotLimitOrders() []models.LimitOrder {
	s.limitOrdersMu.RLock()
	defer s.limitOrdersMu.RUnlock()
	return copyOrders(s.limitOrders)
}

// SetBalance replaces the cash snapshot.
func (s *MarketState) SetBalance(b models.Balance) {
	s.balanceMu.Lock()
	s.balance = b
	s.balanceMu.Unlock()
}

// Balance returns the cash snapshot.
func (s *MarketState) Balance() models.Balance {
	s.balanceMu.RLock()
	defer s.balanceMu.RUnlock()
	return s.balance
}

func copyOrders(orders []models.LimitOrder) []models.LimitOrder {
	if orders == nil {
		return nil
	}
	cp := make([]models.LimitOrder, len(orders))
	for i, o := range orders {
		cp[i] = o
		if o.LimitPrice != nil {
			v := *o.LimitPrice
			cp[i].LimitPrice = &v
		}
		if o.StopPrice != nil {
			v := *o.StopPrice
			cp[i].StopPrice = &v
		}
	}
	return cp
}
