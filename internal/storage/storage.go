package storage

import (
	"database/sql"
	"equity-cycle-bot/internal/models"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // Import the sqlite3 driver
)

// Side values stored in the orders table.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// OrderEntry is one row of the order ledger: a single placement attempt made by a stage.
type OrderEntry struct {
	ID         int64
	CycleID    string
	Side       string
	Ticker     string
	Quantity   float64
	LimitPrice float64
	OrderID    int64
	Placed     bool
	Direction  string // sells only
	Attempts   int    // sells only
	CreatedAt  time.Time
}

// Ledger is an append-only audit trail of every order the bot placed, kept in sqlite.
// The badger journal holds one summarized record per cycle; the ledger keeps every attempt.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// Open initializes the database connection and creates necessary tables.
func Open(dataSourceName string) (*Ledger, error) {
	if !strings.HasPrefix(dataSourceName, ":memory:") && !strings.HasPrefix(dataSourceName, "file:") {
		if err := os.MkdirAll(filepath.Dir(dataSourceName), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer; ":memory:" databases are also per connection.
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err = createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &Ledger{db: db, now: time.Now}, nil
}

// createTables creates the necessary database tables if they don't exist.
func createTables(db *sql.DB) error {
	createOrdersTableSQL := `
	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cycle_id TEXT NOT NULL,
		side TEXT NOT NULL,
		ticker TEXT NOT NULL,
		quantity REAL NOT NULL,
		limit_price REAL NOT NULL,
		order_id INTEGER NOT NULL,
		placed BOOLEAN NOT NULL,
		direction TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(createOrdersTableSQL); err != nil {
		return err
	}

	createIndexSQL := `CREATE INDEX IF NOT EXISTS idx_orders_cycle ON orders (cycle_id);`
	if _, err := db.Exec(createIndexSQL); err != nil {
		return err
	}
	return nil
}

// RecordBuy inserts a buy placement.
func (l *Ledger) RecordBuy(cycleID string, rec models.BuyRecord) error {
	return l.insert(OrderEntry{
		CycleID:    cycleID,
		Side:       SideBuy,
		Ticker:     rec.Ticker,
		Quantity:   rec.Quantity,
		LimitPrice: rec.LimitPrice,
		OrderID:    rec.OrderID,
		Placed:     rec.Placed,
	})
}

// RecordSell inserts a sell placement.
func (l *Ledger) RecordSell(cycleID string, rec models.SellRecord) error {
	return l.insert(OrderEntry{
		CycleID:    cycleID,
		Side:       SideSell,
		Ticker:     rec.Ticker,
		Quantity:   rec.Quantity,
		LimitPrice: rec.LimitPrice,
		OrderID:    rec.OrderID,
		Placed:     rec.Placed,
		Direction:  string(rec.Direction),
		Attempts:   rec.Attempts,
	})
}

func (l *Ledger) insert(e OrderEntry) error {
	query := `
	INSERT INTO orders (cycle_id, side, ticker, quantity, limit_price, order_id, placed, direction, attempts, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := l.db.Exec(query,
		e.CycleID, e.Side, e.Ticker, e.Quantity, e.LimitPrice,
		e.OrderID, e.Placed, e.Direction, e.Attempts, l.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert %s order for %s: %w", e.Side, e.Ticker, err)
	}
	return nil
}

// OrdersForCycle returns the cycle's entries in insertion order.
func (l *Ledger) OrdersForCycle(cycleID string) ([]OrderEntry, error) {
	query := `
	SELECT id, cycle_id, side, ticker, quantity, limit_price, order_id, placed, direction, attempts, created_at
	FROM orders
	WHERE cycle_id = ?
	ORDER BY id`

	rows, err := l.db.Query(query, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var entries []OrderEntry
	for rows.Next() {
		var e OrderEntry
		var createdAt int64
		if err := rows.Scan(
			&e.ID, &e.CycleID, &e.Side, &e.Ticker, &e.Quantity, &e.LimitPrice,
			&e.OrderID, &e.Placed, &e.Direction, &e.Attempts, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan order row: %w", err)
		}
		e.CreatedAt = time.UnixMilli(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountBySide returns how many successful placements of each side the ledger holds.
func (l *Ledger) CountBySide() (map[string]int, error) {
	rows, err := l.db.Query(`SELECT side, COUNT(*) FROM orders WHERE placed GROUP BY side`)
	if err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var side string
		var n int
		if err := rows.Scan(&side, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		counts[side] = n
	}
	return counts, rows.Err()
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
