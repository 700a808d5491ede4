package journal

import (
	"equity-cycle-bot/internal/models"
	"equity-cycle-bot/internal/persistence"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType defines the type of a journal event
type EventType int

const (
	CycleStartedEvent EventType = iota
	ShortlistedEvent
	BuyPlacedEvent
	SellPlacedEvent
	CycleCompletedEvent
)

func (t EventType) String() string {
	switch t {
	case CycleStartedEvent:
		return "cycle_started"
	case ShortlistedEvent:
		return "shortlisted"
	case BuyPlacedEvent:
		return "buy_placed"
	case SellPlacedEvent:
		return "sell_placed"
	case CycleCompletedEvent:
		return "cycle_completed"
	}
	return "unknown"
}

// Event is a standardized internal representation of something that happened in a cycle.
// CycleID ties the event to the record it mutates; events for another cycle are dropped.
type Event struct {
	Type      EventType
	CycleID   string
	Timestamp time.Time
	Data      interface{}
}

// CycleStartedData opens a new record.
type CycleStartedData struct {
	FreeCash  float64
	Positions int
}

// Journal is responsible for all cycle record mutations and persistence.
// It ensures that all changes are processed serially.
type Journal struct {
	mu              sync.RWMutex
	current         *models.CycleRecord
	repo            persistence.JournalRepository
	eventChannel    chan Event
	persistenceChan chan *models.CycleRecord
	stopChan        chan struct{}
	stopOnce        sync.Once
	logger          *zap.Logger
}

// New creates a new Journal. repo may be nil, in which case records are kept in memory only.
func New(repo persistence.JournalRepository, logger *zap.Logger) *Journal {
	return &Journal{
		repo:            repo,
		eventChannel:    make(chan Event, 1024),
		persistenceChan: make(chan *models.CycleRecord, 128),
		stopChan:        make(chan struct{}),
		logger:          logger,
	}
}

// Start begins the journal's event processing and persistence loops.
func (j *Journal) Start() {
	go j.eventLoop()
	go j.persistenceLoop()
	j.logger.Sugar().Info("Journal started.")
}

// Stop shuts down the journal. It is safe to call more than once.
func (j *Journal) Stop() {
	j.stopOnce.Do(func() {
		close(j.stopChan)
		j.logger.Sugar().Info("Journal stopped.")
	})
}

// Dispatch sends an event to the journal. Events after Stop are dropped.
func (j *Journal) Dispatch(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case j.eventChannel <- event:
	case <-j.stopChan:
	}
}

// CycleStarted, Shortlisted, BuyPlaced, SellPlaced and CycleCompleted are typed shorthands for Dispatch.

func (j *Journal) CycleStarted(cycleID string, freeCash float64, positions int) {
	j.Dispatch(Event{Type: CycleStartedEvent, CycleID: cycleID, Data: CycleStartedData{FreeCash: freeCash, Positions: positions}})
}

func (j *Journal) Shortlisted(cycleID string, tickers []string) {
	j.Dispatch(Event{Type: ShortlistedEvent, CycleID: cycleID, Data: append([]string(nil), tickers...)})
}

func (j *Journal) BuyPlaced(cycleID string, rec models.BuyRecord) {
	j.Dispatch(Event{Type: BuyPlacedEvent, CycleID: cycleID, Data: rec})
}

func (j *Journal) SellPlaced(cycleID string, rec models.SellRecord) {
	j.Dispatch(Event{Type: SellPlacedEvent, CycleID: cycleID, Data: rec})
}

func (j *Journal) CycleCompleted(cycleID string) {
	j.Dispatch(Event{Type: CycleCompletedEvent, CycleID: cycleID})
}

// Current returns a deep copy of the open cycle record, or nil before the first cycle.
func (j *Journal) Current() *models.CycleRecord {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return deepCopy(j.current)
}

func deepCopy(rec *models.CycleRecord) *models.CycleRecord {
	if rec == nil {
		return nil
	}
	c := *rec
	if rec.CompletedAt != nil {
		t := *rec.CompletedAt
		c.CompletedAt = &t
	}
	c.Shortlisted = append([]string(nil), rec.Shortlisted...)
	c.Buys = append([]models.BuyRecord(nil), rec.Buys...)
	c.Sells = append([]models.SellRecord(nil), rec.Sells...)
	return &c
}

// eventLoop is the core processing loop that handles all incoming events serially.
func (j *Journal) eventLoop() {
	for {
		select {
		case event := <-j.eventChannel:
			j.processEvent(event)
		case <-j.stopChan:
			return
		}
	}
}

// persistenceLoop handles the asynchronous saving of cycle records.
func (j *Journal) persistenceLoop() {
	for {
		select {
		case rec := <-j.persistenceChan:
			if j.repo != nil {
				if err := j.repo.SaveCycle(rec); err != nil {
					j.logger.Error("Failed to save cycle record", zap.String("cycle_id", rec.CycleID), zap.Error(err))
				}
			}
		case <-j.stopChan:
			return
		}
	}
}

func (j *Journal) processEvent(event Event) {
	j.mu.Lock()
	changed := j.apply(event)
	snapshot := deepCopy(j.current)
	j.mu.Unlock()

	if !changed || snapshot == nil {
		return
	}
	select {
	case j.persistenceChan <- snapshot:
	case <-j.stopChan:
	}
}

// apply mutates the current record. Must be called with mu held.
func (j *Journal) apply(event Event) bool {
	if event.Type == CycleStartedEvent {
		data, _ := event.Data.(CycleStartedData)
		j.current = &models.CycleRecord{
			CycleID:   event.CycleID,
			StartedAt: event.Timestamp,
			FreeCash:  data.FreeCash,
			Positions: data.Positions,
		}
		return true
	}

	if j.current == nil || j.current.CycleID != event.CycleID {
		j.logger.Warn("Dropping journal event for unknown cycle",
			zap.Stringer("event", event.Type), zap.String("cycle_id", event.CycleID))
		return false
	}

	switch event.Type {
	case ShortlistedEvent:
		if tickers, ok := event.Data.([]string); ok {
			j.current.Shortlisted = tickers
			return true
		}
	case BuyPlacedEvent:
		if rec, ok := event.Data.(models.BuyRecord); ok {
			j.current.Buys = append(j.current.Buys, rec)
			return true
		}
	case SellPlacedEvent:
		if rec, ok := event.Data.(models.SellRecord); ok {
			j.current.Sells = upsertSell(j.current.Sells, rec)
			return true
		}
	case CycleCompletedEvent:
		t := event.Timestamp
		j.current.CompletedAt = &t
		return true
	}
	j.logger.Sugar().Warnf("Received %s event with unexpected data type: %T", event.Type, event.Data)
	return false
}

// upsertSell keeps one entry per ticker holding its latest escalation state.
// upsertSell keeps the latest state per tracked ticker. A failed placement for a ticker
// with no earlier record is an untracked initial order and is left to the order ledger.
func upsertSell(sells []models.SellRecord, rec models.SellRecord) []models.SellRecord {
	for i := range sells {
		if sells[i].Ticker == rec.Ticker {
			sells[i] = rec
			return sells
		}
	}
	if !rec.Placed {
		return sells
	}
	return append(sells, rec)
}
