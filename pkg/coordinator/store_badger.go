package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

const (
	txKeyPrefix         = "tx:"
	txIndexStatusPrefix = "tx:index:status:"
)

// BadgerTransactionStore stores transaction records in Badger. Records
// live at "tx:{id}"; a secondary index "tx:index:status:{status}:{id}"
// serves the status-filtered scans of the recovery and timeout loops.
type BadgerTransactionStore struct {
	db *badger.DB
}

// NewBadgerTransactionStore creates a Badger-backed transaction store.
func NewBadgerTransactionStore(db *badger.DB) (*BadgerTransactionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db cannot be nil")
	}
	return &BadgerTransactionStore{db: db}, nil
}

// Save upserts one transaction record and maintains the status index
// inside a single Badger transaction.
func (s *BadgerTransactionStore) Save(ctx context.Context, rec *TransactionRecord) error {
	if rec == nil {
		return fmt.Errorf("transaction record cannot be nil")
	}
	if rec.TransactionID == "" {
		return fmt.Errorf("transaction id cannot be empty")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	key := []byte(txDataKey(rec.TransactionID))
	newIndexKey := []byte(txStatusIndexKey(rec.Status.String(), rec.TransactionID))

	return s.db.Update(func(txn *badger.Txn) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var oldStatus string
		item, err := txn.Get(key)
		if err == nil {
			var previous TransactionRecord
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &previous) }); err == nil {
				oldStatus = previous.Status.String()
			}
		}

		if err := txn.Set(key, data); err != nil {
			return err
		}
		if err := txn.Set(newIndexKey, []byte{}); err != nil {
			return err
		}
		if oldStatus != "" && oldStatus != rec.Status.String() {
			_ = txn.Delete([]byte(txStatusIndexKey(oldStatus, rec.TransactionID)))
		}
		return nil
	})
}

// Get loads one transaction record by id.
func (s *BadgerTransactionStore) Get(ctx context.Context, transactionID string) (*TransactionRecord, error) {
	var rec TransactionRecord
	err := s.db.View(func(txn *badger.Txn) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		item, err := txn.Get([]byte(txDataKey(transactionID)))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrTransactionNotFound
			}
			return err
		}
		return item.Value(func(v []byte) error { return json.Unmarshal(v, &rec) })
	})
	if err != nil {
		return nil, err
	}
	return rec.clone(), nil
}

// List queries transaction records by status with optional deadline
// filter and pagination. Status-narrowed queries walk the index;
// unfiltered queries scan the record prefix.
func (s *BadgerTransactionStore) List(ctx context.Context, filter TransactionFilter) ([]*TransactionRecord, int, error) {
	records := make([]*TransactionRecord, 0)

	err := s.db.View(func(txn *badger.Txn) error {
		if len(filter.Statuses) > 0 {
			for _, status := range filter.Statuses {
				if err := s.scanStatusIndex(ctx, txn, status, filter, &records); err != nil {
					return err
				}
			}
			return nil
		}
		return s.scanAll(ctx, txn, filter, &records)
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	total := len(records)
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if filter.Limit > 0 && offset+filter.Limit < end {
		end = offset + filter.Limit
	}

	paged := make([]*TransactionRecord, 0, end-offset)
	for _, rec := range records[offset:end] {
		paged = append(paged, rec.clone())
	}
	return paged, total, nil
}

func (s *BadgerTransactionStore) scanStatusIndex(
	ctx context.Context,
	txn *badger.Txn,
	status Status,
	filter TransactionFilter,
	out *[]*TransactionRecord,
) error {
	prefix := []byte(txStatusIndexPrefix(status.String()))
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		key := string(it.Item().Key())
		transactionID := strings.TrimPrefix(key, txStatusIndexPrefix(status.String()))
		rec, err := s.getInTxn(txn, transactionID)
		if err != nil {
			continue
		}
		// A stale index entry can outlive a status change; trust the
		// record, not the key.
		if rec.Status != status {
			continue
		}
		if !filter.matchesDeadline(rec.TimeoutAt) {
			continue
		}
		*out = append(*out, rec)
	}
	return nil
}

func (s *BadgerTransactionStore) scanAll(
	ctx context.Context,
	txn *badger.Txn,
	filter TransactionFilter,
	out *[]*TransactionRecord,
) error {
	prefix := []byte(txKeyPrefix)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		key := string(it.Item().Key())
		if strings.HasPrefix(key, txIndexStatusPrefix) {
			continue
		}
		var rec TransactionRecord
		if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &rec) }); err != nil {
			continue
		}
		if !filter.matchesDeadline(rec.TimeoutAt) {
			continue
		}
		*out = append(*out, rec.clone())
	}
	return nil
}

func (s *BadgerTransactionStore) getInTxn(txn *badger.Txn, transactionID string) (*TransactionRecord, error) {
	item, err := txn.Get([]byte(txDataKey(transactionID)))
	if err != nil {
		return nil, err
	}
	var rec TransactionRecord
	if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &rec) }); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Close closes the underlying Badger database.
func (s *BadgerTransactionStore) Close() error {
	return s.db.Close()
}

func txDataKey(transactionID string) string {
	return txKeyPrefix + transactionID
}

func txStatusIndexPrefix(status string) string {
	return txIndexStatusPrefix + status + ":"
}

func txStatusIndexKey(status, transactionID string) string {
	return txStatusIndexPrefix(status) + transactionID
}
