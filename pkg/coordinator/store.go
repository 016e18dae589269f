package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// TransactionFilter controls list queries against the durable store.
// Statuses narrows by status, ExpiredBefore keeps only records whose
// deadline passed before the given instant, Limit/Offset paginate.
type TransactionFilter struct {
	Statuses      []Status
	ExpiredBefore *time.Time
	Limit         int
	Offset        int
}

func (f TransactionFilter) matchesStatus(status Status) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if s == status {
			return true
		}
	}
	return false
}

func (f TransactionFilter) matchesDeadline(timeoutAt time.Time) bool {
	if f.ExpiredBefore == nil {
		return true
	}
	return !timeoutAt.IsZero() && timeoutAt.Before(*f.ExpiredBefore)
}

// TransactionStore is the durable persistence contract the coordinator
// requires: atomic upsert keyed by transaction id, point lookup, and
// status/deadline filtered listing for the recovery and timeout loops.
// No assumption is made about the storage technology.
type TransactionStore interface {
	Save(ctx context.Context, rec *TransactionRecord) error
	Get(ctx context.Context, transactionID string) (*TransactionRecord, error)
	List(ctx context.Context, filter TransactionFilter) ([]*TransactionRecord, int, error)
	Close() error
}

// MemoryTransactionStore is an in-memory TransactionStore for tests and
// single-process development setups.
type MemoryTransactionStore struct {
	mu      sync.RWMutex
	records map[string]*TransactionRecord
}

// NewMemoryTransactionStore creates an in-memory transaction store.
func NewMemoryTransactionStore() *MemoryTransactionStore {
	return &MemoryTransactionStore{
		records: make(map[string]*TransactionRecord),
	}
}

// Save upserts one transaction record.
func (s *MemoryTransactionStore) Save(_ context.Context, rec *TransactionRecord) error {
	if rec == nil {
		return fmt.Errorf("transaction record cannot be nil")
	}
	if rec.TransactionID == "" {
		return fmt.Errorf("transaction id cannot be empty")
	}
	s.mu.Lock()
	s.records[rec.TransactionID] = rec.clone()
	s.mu.Unlock()
	return nil
}

// Get loads one transaction record by id.
func (s *MemoryTransactionStore) Get(_ context.Context, transactionID string) (*TransactionRecord, error) {
	s.mu.RLock()
	rec, ok := s.records[transactionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return rec.clone(), nil
}

// List queries transaction records with status and deadline filters.
func (s *MemoryTransactionStore) List(_ context.Context, filter TransactionFilter) ([]*TransactionRecord, int, error) {
	s.mu.RLock()
	all := make([]*TransactionRecord, 0, len(s.records))
	for _, rec := range s.records {
		if !filter.matchesStatus(rec.Status) {
			continue
		}
		if !filter.matchesDeadline(rec.TimeoutAt) {
			continue
		}
		all = append(all, rec.clone())
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	total := len(all)
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
	return all[offset:end], total, nil
}

// Close releases nothing for the in-memory store.
func (s *MemoryTransactionStore) Close() error {
	return nil
}
