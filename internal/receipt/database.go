package receipt

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"
)

const receiptsBucket = "receipts"

// ErrNotFound means no receipt exists under the requested ID.
var ErrNotFound = errors.New("receipt not found")

// DB defines the persistence interface for receipts.
type DB interface {
	// SaveReceipt inserts or overwrites a receipt
	SaveReceipt(r *Receipt) error

	// GetReceipt retrieves a receipt by ID
	GetReceipt(id string) (*Receipt, error)

	// FindByHash retrieves a receipt by document hash, nil when absent
	FindByHash(hash string) (*Receipt, error)

	// ListReceipts returns all receipts
	ListReceipts() ([]*Receipt, error)

	// DeleteReceipt removes a receipt
	DeleteReceipt(id string) error

	// DeleteAll removes every receipt and returns the count
	DeleteAll() (int, error)
}

// BoltDB implements the DB interface on a shared bbolt handle.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates the receipts bucket if needed.
func NewBoltDB(db *bbolt.DB) (*BoltDB, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(receiptsBucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating receipts bucket: %w", err)
	}
	return &BoltDB{db: db}, nil
}

// SaveReceipt inserts or overwrites a receipt. The whole record, items
// included, is written in one transaction so a reparse replaces the item
// list atomically.
func (b *BoltDB) SaveReceipt(r *Receipt) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshaling receipt: %w", err)
		}
		return tx.Bucket([]byte(receiptsBucket)).Put([]byte(r.ID), data)
	})
}

// GetReceipt retrieves a receipt by ID.
func (b *BoltDB) GetReceipt(id string) (*Receipt, error) {
	var r *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(receiptsBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &r)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// FindByHash scans for a receipt with the given document hash. Returns
// (nil, nil) when no receipt matches.
func (b *BoltDB) FindByHash(hash string) (*Receipt, error) {
	if hash == "" {
		return nil, nil
	}
	var found *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(receiptsBucket)).ForEach(func(k, v []byte) error {
			if found != nil {
				return nil
			}
			var r Receipt
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			if r.DocHash == hash {
				found = &r
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// ListReceipts returns all receipts.
func (b *BoltDB) ListReceipts() ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(receiptsBucket)).ForEach(func(k, v []byte) error {
			var r Receipt
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			receipts = append(receipts, &r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt from the database.
func (b *BoltDB) DeleteReceipt(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(receiptsBucket)).Delete([]byte(id))
	})
}

// DeleteAll removes every receipt.
func (b *BoltDB) DeleteAll() (int, error) {
	deleted := 0
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptsBucket))
		var keys [][]byte
		if err := bucket.ForEach(func(k, v []byte) error {
			keys = append(keys, append([]byte(nil), k...))
			return nil
		}); err != nil {
			return err
		}
		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
