package receipt

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS receipts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	total REAL NOT NULL,
	timestamp TEXT NOT NULL,
	category TEXT DEFAULT 'Uncategorized'
);
CREATE TABLE IF NOT EXISTS sequences (
	name TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);`

// SQLiteDB implements the DB interface on a single-file SQLite database
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens (creating if needed) the SQLite ledger at path
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// one connection keeps pragmas in effect and serializes writers in this process
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

// InsertReceipt records a receipt and returns its assigned id
func (s *SQLiteDB) InsertReceipt(total decimal.Decimal, timestamp, category string) (uint64, error) {
	if err := validateTotal(total); err != nil {
		return 0, err
	}
	res, err := s.db.Exec(
		"INSERT INTO receipts (total, timestamp, category) VALUES (?, ?, ?)",
		total.Round(2).InexactFloat64(), timestamp, normalizeCategory(category),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting receipt: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading receipt id: %w", err)
	}
	return uint64(id), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (*Receipt, error) {
	var (
		id        int64
		total     float64
		timestamp string
		category  sql.NullString
	)
	if err := row.Scan(&id, &total, &timestamp, &category); err != nil {
		return nil, err
	}
	r := &Receipt{
		ID:        uint64(id),
		Total:     decimal.NewFromFloat(total).Round(2),
		Timestamp: timestamp,
		Category:  DefaultCategory,
	}
	if category.Valid {
		r.Category = category.String
	}
	return r, nil
}

// GetReceipt retrieves a receipt by ID
func (s *SQLiteDB) GetReceipt(id uint64) (*Receipt, error) {
	row := s.db.QueryRow("SELECT id, total, timestamp, category FROM receipts WHERE id = ?", int64(id))
	r, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying receipt: %w", err)
	}
	return r, nil
}

// ListReceipts returns all receipts in insertion order
func (s *SQLiteDB) ListReceipts() ([]*Receipt, error) {
	rows, err := s.db.Query("SELECT id, total, timestamp, category FROM receipts ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying receipts: %w", err)
	}
	defer rows.Close()

	receipts := make([]*Receipt, 0)
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning receipt: %w", err)
		}
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}

// UpdateTotal replaces the total of a receipt
func (s *SQLiteDB) UpdateTotal(id uint64, total decimal.Decimal) (bool, error) {
	if err := validateTotal(total); err != nil {
		return false, err
	}
	return s.exec("updating total", "UPDATE receipts SET total = ? WHERE id = ?", total.Round(2).InexactFloat64(), int64(id))
}

// UpdateCategory replaces the category of a receipt
func (s *SQLiteDB) UpdateCategory(id uint64, category string) (bool, error) {
	return s.exec("updating category", "UPDATE receipts SET category = ? WHERE id = ?", normalizeCategory(category), int64(id))
}

// DeleteReceipt removes a receipt
func (s *SQLiteDB) DeleteReceipt(id uint64) (bool, error) {
	return s.exec("deleting receipt", "DELETE FROM receipts WHERE id = ?", int64(id))
}

func (s *SQLiteDB) exec(op, query string, args ...any) (bool, error) {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

// AggregateTotal sums every receipt total
func (s *SQLiteDB) AggregateTotal() (decimal.Decimal, error) {
	var sum float64
	if err := s.db.QueryRow("SELECT COALESCE(SUM(total), 0) FROM receipts").Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("summing totals: %w", err)
	}
	return decimal.NewFromFloat(sum).Round(2), nil
}

// CategoryTotals sums receipt totals per category
func (s *SQLiteDB) CategoryTotals() ([]*CategoryTotal, error) {
	rows, err := s.db.Query(`
		SELECT COALESCE(category, ?), COUNT(*), SUM(total)
		FROM receipts
		GROUP BY COALESCE(category, ?)
		ORDER BY 1`, DefaultCategory, DefaultCategory)
	if err != nil {
		return nil, fmt.Errorf("querying category totals: %w", err)
	}
	defer rows.Close()

	totals := make([]*CategoryTotal, 0)
	for rows.Next() {
		var (
			ct  CategoryTotal
			sum float64
		)
		if err := rows.Scan(&ct.Category, &ct.Count, &sum); err != nil {
			return nil, fmt.Errorf("scanning category total: %w", err)
		}
		ct.Total = decimal.NewFromFloat(sum).Round(2)
		totals = append(totals, &ct)
	}
	return totals, rows.Err()
}

// NextSequence increments and returns the named sequence
func (s *SQLiteDB) NextSequence(name string) (uint64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("INSERT INTO sequences (name, value) VALUES (?, 0) ON CONFLICT(name) DO NOTHING", name); err != nil {
		return 0, fmt.Errorf("seeding sequence %s: %w", name, err)
	}
	var value int64
	err = tx.QueryRow("UPDATE sequences SET value = value + 1 WHERE name = ? RETURNING value", name).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("advancing sequence %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing sequence %s: %w", name, err)
	}
	return uint64(value), nil
}

// CurrentSequence returns the last value handed out by the named sequence
func (s *SQLiteDB) CurrentSequence(name string) (uint64, error) {
	var value int64
	err := s.db.QueryRow("SELECT value FROM sequences WHERE name = ?", name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading sequence %s: %w", name, err)
	}
	return uint64(value), nil
}

// RaiseSequence moves the named sequence forward to floor
func (s *SQLiteDB) RaiseSequence(name string, floor uint64) error {
	_, err := s.db.Exec(`INSERT INTO sequences (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = MAX(value, excluded.value)`, name, int64(floor))
	if err != nil {
		return fmt.Errorf("raising sequence %s: %w", name, err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
