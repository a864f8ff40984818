// Package audit implements AuditLog (spec.md §2 item 1, §6): an append-only
// JSON-lines record of every attempted/completed/failed operation, totally
// ordered by a monotonic per-process sequence.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Guillhermm/zenus-os-sub000/internal/errkind"
	"github.com/Guillhermm/zenus-os-sub000/internal/telemetry"
)

// Record is one AuditLog entry, matching the on-disk schema in spec.md §6.
type Record struct {
	Seq        uint64         `json:"seq"`
	TS         time.Time      `json:"ts"`
	TxnID      string         `json:"txn_id"`
	Tool       string         `json:"tool"`
	Action     string         `json:"action"`
	Args       map[string]any `json:"args"`
	Outcome    string         `json:"outcome"`
	ErrorKind  errkind.Kind   `json:"error_kind,omitempty"`
	StdoutTail string         `json:"stdout_tail"`
	Stderr     string         `json:"stderr"`
	ElapsedMs  int64          `json:"elapsed_ms"`
}

// Log is the process-singleton AuditLog. Exclusive write serialization per
// record append; concurrent reads are allowed (spec.md §5).
type Log struct {
	mu     sync.Mutex
	seq    uint64
	file   *os.File
	writer *bufio.Writer
	path   string
	logger telemetry.Logger

	// records mirrors everything appended to this process's segment, so
	// Rollback/FailureStore/history queries don't need to re-parse the file.
	records []Record
}

// Open creates (or appends to) the session's log segment under
// <stateRoot>/logs/session-<ISO8601>.jsonl (spec.md §6).
func Open(stateRoot string, logger telemetry.Logger) (*Log, error) {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	dir := filepath.Join(stateRoot, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit log dir: %w", err)
	}
	name := fmt.Sprintf("session-%s.jsonl", time.Now().UTC().Format("20060102T150405Z"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &Log{file: f, writer: bufio.NewWriter(f), path: f.Name(), logger: logger}, nil
}

// Append writes one record, assigning it the next monotonic sequence number.
// Concurrent callers are serialized by Log's mutex; the ordering of
// AuditLog entries is therefore total per process (spec.md §5).
func (l *Log) Append(ctx context.Context, rec Record) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	rec.Seq = l.seq
	if rec.TS.IsZero() {
		rec.TS = time.Now().UTC()
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return rec, fmt.Errorf("marshal audit record: %w", err)
	}
	if _, err := l.writer.Write(b); err != nil {
		return rec, fmt.Errorf("write audit record: %w", err)
	}
	if err := l.writer.WriteByte('\n'); err != nil {
		return rec, fmt.Errorf("write audit record newline: %w", err)
	}
	if err := l.writer.Flush(); err != nil {
		return rec, fmt.Errorf("flush audit record: %w", err)
	}
	l.records = append(l.records, rec)
	l.logger.Debug(ctx, "audit record appended", "seq", rec.Seq, "txn_id", rec.TxnID, "tool", rec.Tool, "outcome", rec.Outcome)
	return rec, nil
}

// Filter narrows a History query. Zero values match everything.
type Filter struct {
	TxnID string
	Tool  string
}

// History returns a pull-based iterator (spec.md §9 "Generators / async
// streams") over records matching filter, oldest first.
func (l *Log) History(filter Filter) func(yield func(Record) bool) {
	l.mu.Lock()
	snapshot := append([]Record(nil), l.records...)
	l.mu.Unlock()

	return func(yield func(Record) bool) {
		for _, r := range snapshot {
			if filter.TxnID != "" && r.TxnID != filter.TxnID {
				continue
			}
			if filter.Tool != "" && r.Tool != filter.Tool {
				continue
			}
			if !yield(r) {
				return
			}
		}
	}
}

// Close flushes and closes the current log segment.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.file.Close()
}

// Path returns the filesystem path of the active log segment.
func (l *Log) Path() string { return l.path }
