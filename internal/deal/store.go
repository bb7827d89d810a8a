package deal

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const dealsBucket = "deals"

// ErrNotFound means no deal exists under the requested item_id.
var ErrNotFound = errors.New("deal not found")

// Store defines the persistence interface for deals.
type Store interface {
	// Save inserts or overwrites a deal keyed by item_id
	Save(d *Deal) error

	// Get retrieves a deal by item_id
	Get(itemID string) (*Deal, error)

	// List returns all stored deals
	List() ([]*Deal, error)

	// Delete removes one deal by item_id
	Delete(itemID string) error

	// DeleteBySource removes every deal observed from one source
	DeleteBySource(source string) (int, error)

	// DeleteAll removes every stored deal
	DeleteAll() (int, error)

	// Reconcile merges freshly scanned deals into the stored set
	Reconcile(deals []*Deal) (ReconcileReport, error)

	// PurgeExpired removes deals whose promo ended before the retention cutoff
	PurgeExpired(asOf time.Time, retention time.Duration) (int, error)
}

// ReconcileReport summarizes one merge of scanned deals into the store.
type ReconcileReport struct {
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) the deal bucket in the given bbolt handle.
// Sharing one handle with the receipt database is fine; buckets are disjoint.
func NewBoltStore(db *bbolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(dealsBucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating deals bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Save inserts or overwrites a deal keyed by item_id.
func (s *BoltStore) Save(d *Deal) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("marshaling deal: %w", err)
		}
		return tx.Bucket([]byte(dealsBucket)).Put([]byte(d.ItemID), data)
	})
}

// Get retrieves a deal by item_id.
func (s *BoltStore) Get(itemID string) (*Deal, error) {
	var d *Deal
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(dealsBucket)).Get([]byte(itemID))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, itemID)
		}
		return json.Unmarshal(data, &d)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// List returns all stored deals.
func (s *BoltStore) List() ([]*Deal, error) {
	deals := make([]*Deal, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(dealsBucket)).ForEach(func(k, v []byte) error {
			var d Deal
			if err := json.Unmarshal(v, &d); err != nil {
				return fmt.Errorf("unmarshaling deal: %w", err)
			}
			deals = append(deals, &d)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return deals, nil
}

// Delete removes one deal by item_id.
func (s *BoltStore) Delete(itemID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(dealsBucket)).Delete([]byte(itemID))
	})
}

// DeleteBySource removes every deal observed from one source.
func (s *BoltStore) DeleteBySource(source string) (int, error) {
	return s.deleteWhere(func(d *Deal) bool { return d.Source == source })
}

// DeleteAll removes every stored deal.
func (s *BoltStore) DeleteAll() (int, error) {
	return s.deleteWhere(func(*Deal) bool { return true })
}

// PurgeExpired removes deals whose promo_end passed the retention cutoff.
// Deals without a promo_end are never purged by date.
func (s *BoltStore) PurgeExpired(asOf time.Time, retention time.Duration) (int, error) {
	cutoff := asOf.Add(-retention).Format("2006-01-02")
	return s.deleteWhere(func(d *Deal) bool {
		return d.PromoEnd != "" && d.PromoEnd < cutoff
	})
}

func (s *BoltStore) deleteWhere(match func(*Deal) bool) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(dealsBucket))
		var victims [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var d Deal
			if err := json.Unmarshal(v, &d); err != nil {
				return fmt.Errorf("unmarshaling deal: %w", err)
			}
			if match(&d) {
				victims = append(victims, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range victims {
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

// Reconcile merges newly scanned deals into the persisted set. New identities
// are inserted; existing ones get scanned_date refreshed and count as updated
// only when a non-identity field actually changed. Deals absent from the scan
// are left alone — a quiet source does not mean its deals are gone. The whole
// merge runs in one write transaction, so readers never observe a
// half-written record.
func (s *BoltStore) Reconcile(deals []*Deal) (ReconcileReport, error) {
	var report ReconcileReport
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(dealsBucket))
		for _, incoming := range deals {
			data := bucket.Get([]byte(incoming.ItemID))
			if data == nil {
				report.Added++
				if err := putDeal(bucket, incoming); err != nil {
					return err
				}
				continue
			}

			var existing Deal
			if err := json.Unmarshal(data, &existing); err != nil {
				return fmt.Errorf("unmarshaling deal %s: %w", incoming.ItemID, err)
			}
			if dealChanged(&existing, incoming) {
				report.Updated++
			} else {
				report.Unchanged++
			}
			// scanned_date always reflects the latest observation
			existing.ItemName = incoming.ItemName
			existing.ItemNumber = incoming.ItemNumber
			existing.SalePrice = incoming.SalePrice
			existing.OriginalPrice = incoming.OriginalPrice
			existing.Link = incoming.Link
			existing.PromoStart = incoming.PromoStart
			existing.PromoEnd = incoming.PromoEnd
			existing.ScannedDate = incoming.ScannedDate
			if err := putDeal(bucket, &existing); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ReconcileReport{}, err
	}
	return report, nil
}

func putDeal(bucket *bbolt.Bucket, d *Deal) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshaling deal: %w", err)
	}
	return bucket.Put([]byte(d.ItemID), data)
}

func dealChanged(old, fresh *Deal) bool {
	return old.ItemName != fresh.ItemName ||
		old.ItemNumber != fresh.ItemNumber ||
		old.SalePrice != fresh.SalePrice ||
		old.OriginalPrice != fresh.OriginalPrice ||
		old.Link != fresh.Link ||
		old.PromoStart != fresh.PromoStart ||
		old.PromoEnd != fresh.PromoEnd
}
