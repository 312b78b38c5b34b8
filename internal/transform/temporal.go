package transform

import (
	"fmt"
	"time"

	"github.com/harborview-health/patient-etl/internal/dq"
)

// TemporalNormalizer parses date and timestamp strings against the
// context's format list in fixed priority order, defaults missing
// timezone offsets to UTC, and rejects timestamps unrealistically far in
// the future. The UTC assumption is logged once per file+column per run;
// logging every occurrence would drown the audit trail, since naive
// timestamps are the dominant case in hospital extracts.
type TemporalNormalizer struct {
	rules *Context
	log   *dq.Log
}

// NewTemporalNormalizer creates a normalizer writing to the quality log.
func NewTemporalNormalizer(rules *Context, log *dq.Log) *TemporalNormalizer {
	return &TemporalNormalizer{rules: rules, log: log}
}

// Parse converts a sanitized date/timestamp string to UTC. Missing input
// yields nil without a log entry; that is expected absence, not bad data.
// Invalid formats and over-threshold future dates yield nil with one.
func (t *TemporalNormalizer) Parse(fileName, rowID, col string, raw *string) *time.Time {
	if raw == nil {
		return nil
	}
	s := *raw

	parsed, naive, ok := t.tryFormats(s)
	if !ok {
		t.log.Record(fileName, rowID, col, s, "invalid datetime format; set NULL")
		return nil
	}

	cutoff := t.rules.Now.AddDate(t.rules.MaxFutureYears, 0, 0)
	if parsed.After(cutoff) {
		t.log.Record(fileName, rowID, col, s,
			fmt.Sprintf("future datetime beyond %d-year threshold; set NULL", t.rules.MaxFutureYears))
		return nil
	}

	// The UTC assumption is recorded only for values that survive the
	// future gate; a nulled value carries no assumption into the output.
	if naive {
		t.log.RecordOnce("utc:"+fileName+":"+col, fileName, rowID, col, s,
			"no timezone offset; UTC assumed (logged once per column)")
	}

	utc := parsed.UTC()
	return &utc
}

// tryFormats attempts each configured layout in order; first match wins.
// naive reports that the matching layout carried no zone component.
func (t *TemporalNormalizer) tryFormats(s string) (parsed time.Time, naive, ok bool) {
	for _, layout := range t.rules.TimeFormats {
		if layoutHasZone(layout) {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, false, true
			}
			continue
		}
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return parsed, true, true
		}
	}
	return time.Time{}, false, false
}
