package failurestore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Guillhermm/zenus-os-sub000/internal/errkind"
	"github.com/Guillhermm/zenus-os-sub000/internal/telemetry"
)

// Store is the FailureStore contract (spec.md §4.3). Implementations must be
// safe for concurrent use (spec.md §9: process-singleton collaborator).
type Store interface {
	// RecordFailure upserts on signature hash, incrementing occurrences and
	// updating last_seen (spec.md §4.3 "Writes").
	RecordFailure(ctx context.Context, tool, userInput, errorMessage string, kind errkind.Kind) (Record, error)
	// RecordRemedyAttempt increments remedy_attempt_count for the record
	// matching (tool, userInput)'s most recent signature, and, if success is
	// true, remedy_success_count too (spec.md §4.3: "On the next successful
	// execution with the same signature in the same session, increment
	// remedy_success_count if a remedy was proposed").
	RecordRemedyAttempt(ctx context.Context, tool, userInput string, success bool) error
	// Similar returns FailureRecords for (tool, userInput) sorted by
	// occurrences desc.
	Similar(ctx context.Context, tool, userInput string) ([]Record, error)
	// SuccessProbability computes spec.md §4.3's probability formula for
	// (tool, userInput).
	SuccessProbability(ctx context.Context, tool, userInput string) (float64, error)
	Close(ctx context.Context) error
}

// memStore is an in-process Store used by tests and as a fallback when no
// Mongo client is configured. It is not process-durable across restarts;
// production wiring should use NewMongoStore.
type memStore struct {
	logger telemetry.Logger

	mu      sync.Mutex
	records map[string][]Record // keyed by input digest, newest signature last
}

// NewMemStore constructs an in-process Store with no persistence.
func NewMemStore(logger telemetry.Logger) Store {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &memStore{logger: logger, records: make(map[string][]Record)}
}

func (s *memStore) RecordFailure(ctx context.Context, tool, userInput, errorMessage string, kind errkind.Kind) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	digest := InputDigest(tool, userInput)
	sig := SignatureHash(errorMessage)
	now := time.Now()

	for i, r := range s.records[digest] {
		if r.SignatureHash == sig {
			r.Occurrences++
			r.OccurrencesLast30d++
			r.LastSeen = now
			s.records[digest][i] = r
			return r, nil
		}
	}

	rec := Record{
		SignatureHash:      sig,
		InputDigest:        digest,
		Tool:               tool,
		ErrorKind:          kind,
		FirstSeen:          now,
		LastSeen:           now,
		Occurrences:        1,
		OccurrencesLast30d: 1,
	}
	s.records[digest] = append(s.records[digest], rec)
	s.logger.Debug(ctx, "failure recorded", "tool", tool, "signature_hash", sig, "error_kind", string(kind))
	return rec, nil
}

func (s *memStore) RecordRemedyAttempt(ctx context.Context, tool, userInput string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	digest := InputDigest(tool, userInput)
	recs := s.records[digest]
	if len(recs) == 0 {
		return nil
	}
	// "the same signature in the same session" — apply to the most
	// recently seen record for this input.
	idx := 0
	for i, r := range recs {
		if r.LastSeen.After(recs[idx].LastSeen) {
			idx = i
		}
	}
	recs[idx].RemedyAttemptCount++
	if success {
		recs[idx].RemedySuccessCount++
	}
	return nil
}

func (s *memStore) Similar(ctx context.Context, tool, userInput string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	digest := InputDigest(tool, userInput)
	out := append([]Record(nil), s.records[digest]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Occurrences > out[j].Occurrences })
	return out, nil
}

func (s *memStore) SuccessProbability(ctx context.Context, tool, userInput string) (float64, error) {
	recs, err := s.Similar(ctx, tool, userInput)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0.95, nil
	}
	return successProbability(recs, time.Now()), nil
}

func (s *memStore) Close(ctx context.Context) error { return nil }
