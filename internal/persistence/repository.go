package persistence

import "equity-cycle-bot/internal/models"

// SnapshotStore persists the snapshots the workers share across cycles and restarts.
// Missing snapshots are not errors: readers return empty results with a nil error.
type SnapshotStore interface {
	// ReadInstrumentSnapshot returns the stored instrument universe and whether it
	// was written today. ok is false when no snapshot exists or it is stale.
	ReadInstrumentSnapshot() (instruments []models.Instrument, ok bool, err error)
	WriteInstrumentSnapshot(instruments []models.Instrument) error

	// ReadBuyList returns the previous cycle's shortlist, or nil if there is none.
	ReadBuyList() ([]models.CandidateCompany, error)
	WriteBuyList(list []models.CandidateCompany) error

	// ReadAccountSnapshot returns the last refreshed account state, or nil if there is none.
	ReadAccountSnapshot() (*models.AccountSnapshot, error)
	WriteAccountSnapshot(snapshot *models.AccountSnapshot) error
}

// JournalRepository stores completed cycle records.
type JournalRepository interface {
	SaveCycle(record *models.CycleRecord) error
	// LoadRecentCycles returns up to limit records, newest first.
	LoadRecentCycles(limit int) ([]models.CycleRecord, error)
}

// Repository is the full storage surface used by the bot.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the rest of the application.
type Repository interface {
	SnapshotStore
	JournalRepository

	// Close gracefully closes the connection to the database.
	Close() error
}
