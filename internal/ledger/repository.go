package ledger

import (
	"context"
	"sort"
	"sync"
)

// Repository is the durable storage contract for ActionRecords/Transactions
// (spec.md §6: "actions.db — keyed storage supporting range scans").
// ActionLedger composes a Repository rather than embedding storage logic
// directly, so Mongo-backed and in-process implementations share the same
// rollback algorithm.
type Repository interface {
	NextID(ctx context.Context) (int64, error)
	Append(ctx context.Context, rec ActionRecord) error
	MarkRolledBack(ctx context.Context, id int64) error
	// LastReversible returns up to n ActionRecords with reversible=true and
	// rolled_back=false, newest first, optionally restricted to txnID (empty
	// matches any transaction).
	LastReversible(ctx context.Context, txnID string, n int) ([]ActionRecord, error)
	// Records returns every ActionRecord for txnID (empty matches any
	// transaction), oldest first, for session.history() (spec.md §6).
	Records(ctx context.Context, txnID string) ([]ActionRecord, error)
	UpsertTransaction(ctx context.Context, txn Transaction) error
	Close(ctx context.Context) error
}

type memRepository struct {
	mu      sync.Mutex
	nextID  int64
	records []ActionRecord
	txns    map[string]Transaction
}

// NewMemRepository constructs an in-process Repository with no persistence,
// for tests and as a fallback when no Mongo client is configured.
func NewMemRepository() Repository {
	return &memRepository{txns: make(map[string]Transaction)}
}

func (r *memRepository) NextID(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return r.nextID, nil
}

func (r *memRepository) Append(ctx context.Context, rec ActionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *memRepository) MarkRolledBack(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, rec := range r.records {
		if rec.ID == id {
			r.records[i].RolledBack = true
			return nil
		}
	}
	return nil
}

func (r *memRepository) LastReversible(ctx context.Context, txnID string, n int) ([]ActionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []ActionRecord
	for _, rec := range r.records {
		if !rec.Reversible || rec.RolledBack {
			continue
		}
		if txnID != "" && rec.TxnID != txnID {
			continue
		}
		matched = append(matched, rec)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	if n > 0 && len(matched) > n {
		matched = matched[:n]
	}
	return matched, nil
}

func (r *memRepository) Records(ctx context.Context, txnID string) ([]ActionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []ActionRecord
	for _, rec := range r.records {
		if txnID != "" && rec.TxnID != txnID {
			continue
		}
		matched = append(matched, rec)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return matched, nil
}

func (r *memRepository) UpsertTransaction(ctx context.Context, txn Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txns[txn.ID] = txn
	return nil
}

func (r *memRepository) Close(ctx context.Context) error { return nil }
