package receipt

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.etcd.io/bbolt"
)

const (
	bucketName         = "receipts"
	sequenceBucketName = "sequences"
)

// DB defines the interface for ledger operations
type DB interface {
	// InsertReceipt records a receipt and returns its assigned id
	InsertReceipt(total decimal.Decimal, timestamp, category string) (uint64, error)

	// GetReceipt retrieves a receipt by ID
	GetReceipt(id uint64) (*Receipt, error)

	// ListReceipts returns all receipts in insertion order
	ListReceipts() ([]*Receipt, error)

	// UpdateTotal replaces the total of a receipt; false means no such id
	UpdateTotal(id uint64, total decimal.Decimal) (bool, error)

	// UpdateCategory replaces the category of a receipt; false means no such id
	UpdateCategory(id uint64, category string) (bool, error)

	// DeleteReceipt removes a receipt; false means no such id
	DeleteReceipt(id uint64) (bool, error)

	// AggregateTotal sums every receipt total
	AggregateTotal() (decimal.Decimal, error)

	// CategoryTotals sums receipt totals per category, ordered by category
	CategoryTotals() ([]*CategoryTotal, error)

	// Close closes the database connection
	Close() error
}

// SequenceStore hands out named, durable, strictly increasing sequences
type SequenceStore interface {
	NextSequence(name string) (uint64, error)
	CurrentSequence(name string) (uint64, error)

	// RaiseSequence moves the named sequence forward to floor; it never moves back
	RaiseSequence(name string, floor uint64) error
}

// boltRecord is the stored form of a receipt. The total is kept as a fixed
// two-decimal string so values round-trip exactly.
type boltRecord struct {
	Total     string `json:"total"`
	Timestamp string `json:"timestamp"`
	Category  string `json:"category"`
}

func (r boltRecord) toReceipt(id uint64) (*Receipt, error) {
	total, err := decimal.NewFromString(r.Total)
	if err != nil {
		return nil, fmt.Errorf("parsing stored total of receipt %d: %w", id, err)
	}
	return &Receipt{ID: id, Total: total, Timestamp: r.Timestamp, Category: r.Category}, nil
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(sequenceBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// InsertReceipt records a receipt and returns its assigned id
func (b *BoltDB) InsertReceipt(total decimal.Decimal, timestamp, category string) (uint64, error) {
	if err := validateTotal(total); err != nil {
		return 0, err
	}
	record := boltRecord{
		Total:     total.Round(2).StringFixed(2),
		Timestamp: timestamp,
		Category:  normalizeCategory(category),
	}

	var id uint64
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		next, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating receipt id: %w", err)
		}
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshaling receipt: %w", err)
		}
		if err := bucket.Put(itob(next), data); err != nil {
			return err
		}
		id = next
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(id uint64) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data := bucket.Get(itob(id))
		if data == nil {
			return fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		var record boltRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return fmt.Errorf("unmarshaling receipt: %w", err)
		}
		r, err := record.toReceipt(id)
		receipt = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListReceipts returns all receipts in insertion order
func (b *BoltDB) ListReceipts() ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var record boltRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			receipt, err := record.toReceipt(btoi(k))
			if err != nil {
				return err
			}
			receipts = append(receipts, receipt)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

// UpdateTotal replaces the total of a receipt
func (b *BoltDB) UpdateTotal(id uint64, total decimal.Decimal) (bool, error) {
	if err := validateTotal(total); err != nil {
		return false, err
	}
	return b.update(id, func(record *boltRecord) {
		record.Total = total.Round(2).StringFixed(2)
	})
}

// UpdateCategory replaces the category of a receipt
func (b *BoltDB) UpdateCategory(id uint64, category string) (bool, error) {
	return b.update(id, func(record *boltRecord) {
		record.Category = normalizeCategory(category)
	})
}

func (b *BoltDB) update(id uint64, mutate func(*boltRecord)) (bool, error) {
	found := false
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		key := itob(id)
		data := bucket.Get(key)
		if data == nil {
			return nil
		}
		var record boltRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return fmt.Errorf("unmarshaling receipt: %w", err)
		}
		mutate(&record)
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshaling receipt: %w", err)
		}
		found = true
		return bucket.Put(key, data)
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// DeleteReceipt removes a receipt from the database
func (b *BoltDB) DeleteReceipt(id uint64) (bool, error) {
	found := false
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		key := itob(id)
		if bucket.Get(key) == nil {
			return nil
		}
		found = true
		return bucket.Delete(key)
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// AggregateTotal sums every receipt total
func (b *BoltDB) AggregateTotal() (decimal.Decimal, error) {
	receipts, err := b.ListReceipts()
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, r := range receipts {
		sum = sum.Add(r.Total)
	}
	return sum.Round(2), nil
}

// CategoryTotals sums receipt totals per category
func (b *BoltDB) CategoryTotals() ([]*CategoryTotal, error) {
	receipts, err := b.ListReceipts()
	if err != nil {
		return nil, err
	}
	return categoryTotals(receipts), nil
}

// NextSequence increments and returns the named sequence
func (b *BoltDB) NextSequence(name string) (uint64, error) {
	var value uint64
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sequenceBucketName))
		if data := bucket.Get([]byte(name)); data != nil {
			value = btoi(data)
		}
		value++
		return bucket.Put([]byte(name), itob(value))
	})
	if err != nil {
		return 0, fmt.Errorf("advancing sequence %s: %w", name, err)
	}
	return value, nil
}

// CurrentSequence returns the last value handed out by the named sequence
func (b *BoltDB) CurrentSequence(name string) (uint64, error) {
	var value uint64
	err := b.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket([]byte(sequenceBucketName)).Get([]byte(name)); data != nil {
			value = btoi(data)
		}
		return nil
	})
	return value, err
}

// RaiseSequence moves the named sequence forward to floor
func (b *BoltDB) RaiseSequence(name string, floor uint64) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sequenceBucketName))
		if data := bucket.Get([]byte(name)); data != nil && btoi(data) >= floor {
			return nil
		}
		return bucket.Put([]byte(name), itob(floor))
	})
	if err != nil {
		return fmt.Errorf("raising sequence %s: %w", name, err)
	}
	return nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func categoryTotals(receipts []*Receipt) []*CategoryTotal {
	byCategory := make(map[string]*CategoryTotal)
	for _, r := range receipts {
		ct, ok := byCategory[r.Category]
		if !ok {
			ct = &CategoryTotal{Category: r.Category, Total: decimal.Zero}
			byCategory[r.Category] = ct
		}
		ct.Count++
		ct.Total = ct.Total.Add(r.Total)
	}

	totals := make([]*CategoryTotal, 0, len(byCategory))
	for _, ct := range byCategory {
		ct.Total = ct.Total.Round(2)
		totals = append(totals, ct)
	}
	sort.Slice(totals, func(i, j int) bool {
		return totals[i].Category < totals[j].Category
	})
	return totals
}

// itob encodes ids big-endian so bolt iterates them in numeric order
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func btoi(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
