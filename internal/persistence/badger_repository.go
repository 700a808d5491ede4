package persistence

import (
	"encoding/json"
	"equity-cycle-bot/internal/models"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
)

var (
	instrumentSnapshotKey = []byte("snapshot/instruments")
	buyListKey            = []byte("snapshot/buy_list")
	accountSnapshotKey    = []byte("snapshot/account")
	cyclePrefix           = []byte("cycle/")
)

const snapshotDateLayout = "2006-01-02"

// instrumentSnapshot wraps the instrument list with the day it was written.
type instrumentSnapshot struct {
	CreationDate string              `json:"creation_date"`
	Instruments  []models.Instrument `json:"instruments"`
}

// badgerRepository is the BadgerDB implementation of the Repository.
type badgerRepository struct {
	db  *badger.DB
	now func() time.Time
}

// NewBadgerRepository creates and returns a new repository instance connected to a BadgerDB database.
func NewBadgerRepository(dbPath string) (Repository, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging is disabled to keep our app's logs clean.
	// Errors will still be returned from DB operations.
	opts.Logger = nil
	return open(opts)
}

// NewInMemoryRepository creates a repository that keeps everything in memory.
func NewInMemoryRepository() (Repository, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts)
}

func open(opts badger.Options) (*badgerRepository, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &badgerRepository{db: db, now: time.Now}, nil
}

// put marshals v into JSON and saves it under key.
func (r *badgerRepository) put(key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// get loads the JSON value under key into v.
// found is false when the key does not exist.
func (r *badgerRepository) get(key []byte, v interface{}) (found bool, err error) {
	err = r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return fmt.Errorf("value for %s is empty in database", key)
			}
			return json.Unmarshal(val, v)
		})
	})

	// Key not found is the expected "no snapshot yet" case.
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ReadInstrumentSnapshot loads the instrument universe and checks it was written today.
func (r *badgerRepository) ReadInstrumentSnapshot() ([]models.Instrument, bool, error) {
	var snap instrumentSnapshot
	found, err := r.get(instrumentSnapshotKey, &snap)
	if err != nil || !found {
		return nil, false, err
	}
	valid := snap.CreationDate == r.now().Format(snapshotDateLayout)
	return snap.Instruments, valid, nil
}

// WriteInstrumentSnapshot saves the instrument universe stamped with today's date.
func (r *badgerRepository) WriteInstrumentSnapshot(instruments []models.Instrument) error {
	return r.put(instrumentSnapshotKey, instrumentSnapshot{
		CreationDate: r.now().Format(snapshotDateLayout),
		Instruments:  instruments,
	})
}

func (r *badgerRepository) ReadBuyList() ([]models.CandidateCompany, error) {
	var list []models.CandidateCompany
	if _, err := r.get(buyListKey, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (r *badgerRepository) WriteBuyList(list []models.CandidateCompany) error {
	return r.put(buyListKey, list)
}

func (r *badgerRepository) ReadAccountSnapshot() (*models.AccountSnapshot, error) {
	var snap models.AccountSnapshot
	found, err := r.get(accountSnapshotKey, &snap)
	if err != nil || !found {
		return nil, err
	}
	return &snap, nil
}

func (r *badgerRepository) WriteAccountSnapshot(snapshot *models.AccountSnapshot) error {
	return r.put(accountSnapshotKey, snapshot)
}

// cycleKey sorts records by start time, so a reverse scan yields the newest first.
func cycleKey(record *models.CycleRecord) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", cyclePrefix, record.StartedAt.UnixNano(), record.CycleID))
}

// SaveCycle upserts a cycle record.
func (r *badgerRepository) SaveCycle(record *models.CycleRecord) error {
	return r.put(cycleKey(record), record)
}

// LoadRecentCycles returns up to limit cycle records, newest first.
func (r *badgerRepository) LoadRecentCycles(limit int) ([]models.CycleRecord, error) {
	var records []models.CycleRecord

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = cyclePrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// In reverse mode, seek to the largest key under the prefix.
		seek := append(append([]byte(nil), cyclePrefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(cyclePrefix); it.Next() {
			if limit > 0 && len(records) >= limit {
				break
			}
			var rec models.CycleRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
