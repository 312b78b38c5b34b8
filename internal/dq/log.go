// Package dq implements the append-only data-quality event log that every
// pipeline stage writes to. The log is the permanent record of every
// correction, rejection, or assumption made during a run; it is injected
// into components rather than held globally so tests and concurrent runs
// get isolated instances.
package dq

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Entry is one data-quality event. ValueSeen holds the original,
// pre-correction value as text; Reason is free-form but stable enough
// for the dashboard to group on.
type Entry struct {
	TS         time.Time `json:"ts"`
	FileName   string    `json:"file_name"`
	RowID      string    `json:"row_id"`
	ColumnName string    `json:"column_name,omitempty"`
	ValueSeen  string    `json:"value_seen,omitempty"`
	Reason     string    `json:"reason"`
}

// Log is an append-only sink of quality events. Appends are mutex-guarded
// and sequence-ordered so the concurrent extractor can share one instance;
// entries are never mutated or removed once recorded.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	once    map[string]bool
	clock   func() time.Time
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{
		once:  make(map[string]bool),
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// Record appends a quality event and mirrors it to the process logger.
func (l *Log) Record(fileName, rowID, columnName, valueSeen, reason string) {
	l.mu.Lock()
	l.entries = append(l.entries, Entry{
		TS:         l.clock(),
		FileName:   fileName,
		RowID:      rowID,
		ColumnName: columnName,
		ValueSeen:  valueSeen,
		Reason:     reason,
	})
	l.mu.Unlock()

	zap.L().Warn("dq",
		zap.String("file", fileName),
		zap.String("row", rowID),
		zap.String("column", columnName),
		zap.String("seen", valueSeen),
		zap.String("reason", reason),
	)
}

// RecordOnce appends the event only the first time key is seen during the
// run. Used for per-column assumptions (e.g. UTC defaulting) that would
// otherwise flood the log with one entry per row. Returns true if recorded.
func (l *Log) RecordOnce(key, fileName, rowID, columnName, valueSeen, reason string) bool {
	l.mu.Lock()
	if l.once[key] {
		l.mu.Unlock()
		return false
	}
	l.once[key] = true
	l.mu.Unlock()

	l.Record(fileName, rowID, columnName, valueSeen, reason)
	return true
}

// Entries returns a copy of all recorded events in append order.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of recorded events.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
