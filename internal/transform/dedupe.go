package transform

import (
	"fmt"

	"github.com/harborview-health/patient-etl/internal/dq"
)

// cleanRow pairs a transformed entity with the provenance of the raw row
// it came from, so dedupe decisions stay traceable after the raw record
// is gone.
type cleanRow[T any] struct {
	ordinal int
	rowID   string
	val     T
}

// Deduplicator applies the two-stage duplicate policy: exact duplicates
// keep the first occurrence, primary-key duplicates keep the last. The
// stages are intentionally separate since they answer different
// questions: exact copies are re-sent data, conflicting rows under one
// key are corrections.
type Deduplicator struct {
	rules *Context
	log   *dq.Log
}

// NewDeduplicator creates a deduplicator writing to the quality log.
func NewDeduplicator(rules *Context, log *dq.Log) *Deduplicator {
	return &Deduplicator{rules: rules, log: log}
}

// dedupeExact removes rows whose full serialized content repeats an
// earlier row, keeping the first. By default one summary entry records
// the count per file; per-row entries are opt-in for debugging runs.
func dedupeExact[T any](d *Deduplicator, fileName string, rows []cleanRow[T], key func(T) string) []cleanRow[T] {
	seen := make(map[string]struct{}, len(rows))
	out := rows[:0:0]
	dropped := 0
	for _, row := range rows {
		k := key(row.val)
		if _, dup := seen[k]; dup {
			dropped++
			if d.rules.LogExactDuplicates {
				d.log.Record(fileName, row.rowID, "", k, "exact duplicate row removed; first occurrence kept")
			}
			continue
		}
		seen[k] = struct{}{}
		out = append(out, row)
	}
	if dropped > 0 && !d.rules.LogExactDuplicates {
		d.log.Record(fileName, "*", "", fmt.Sprintf("%d", dropped),
			fmt.Sprintf("%d exact duplicate rows removed; first occurrences kept", dropped))
	}
	return out
}

// dropMissingPK removes rows whose primary key is empty. Such rows are
// unloadable and unmatchable, so removal is the only defined outcome.
func dropMissingPK[T any](d *Deduplicator, fileName, pkCol string, rows []cleanRow[T], pk func(T) string) []cleanRow[T] {
	out := rows[:0:0]
	for _, row := range rows {
		if pk(row.val) == "" {
			d.log.Record(fileName, row.rowID, pkCol, "", "missing primary key; row dropped")
			continue
		}
		out = append(out, row)
	}
	return out
}

// dedupeByPK keeps the last occurrence per primary key, in the order
// those survivors appear. Later rows in an extract supersede earlier ones.
func dedupeByPK[T any](d *Deduplicator, fileName, pkCol string, rows []cleanRow[T], pk func(T) string) []cleanRow[T] {
	last := make(map[string]int, len(rows))
	for i, row := range rows {
		last[pk(row.val)] = i
	}
	out := rows[:0:0]
	for i, row := range rows {
		k := pk(row.val)
		if last[k] != i {
			d.log.Record(fileName, row.rowID, pkCol, k,
				"duplicate primary key; superseded by later row")
			continue
		}
		out = append(out, row)
	}
	return out
}
