package transform

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/harborview-health/patient-etl/internal/dq"
	"github.com/harborview-health/patient-etl/internal/model"
)

var (
	ctrlRe = regexp.MustCompile(`[\x00-\x1F\x7F]`)
	wsRe   = regexp.MustCompile(`\s+`)
)

// Sanitizer performs character-level cleanup and schema-length enforcement.
// It never drops a row: every input has a defined output, possibly nil.
type Sanitizer struct {
	rules *Context
	log   *dq.Log
}

// NewSanitizer creates a sanitizer writing to the given quality log.
func NewSanitizer(rules *Context, log *dq.Log) *Sanitizer {
	return &Sanitizer{rules: rules, log: log}
}

// Clean sanitizes the named column of a raw record: strips control
// characters, trims, collapses whitespace runs, then truncates to the
// column's schema length. Empty output from non-empty input is logged and
// returned as nil; missing input is nil without a log entry.
func (s *Sanitizer) Clean(entity Entity, rec model.RawRecord, col string) *string {
	raw := rec.Get(col)
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	v := raw
	if ctrlRe.MatchString(v) {
		s.log.Record(rec.SourceFile, rec.RowID, col, raw, "control characters removed")
		v = ctrlRe.ReplaceAllString(v, "")
	}
	v = strings.TrimSpace(v)
	v = wsRe.ReplaceAllString(v, " ")

	if maxLen := s.rules.maxLenFor(entity, col); maxLen > 0 {
		if r := []rune(v); len(r) > maxLen {
			s.log.Record(rec.SourceFile, rec.RowID, col, v,
				fmt.Sprintf("value length %d exceeds schema length %d; truncated", len(r), maxLen))
			v = string(r[:maxLen])
		}
	}

	if v == "" {
		s.log.Record(rec.SourceFile, rec.RowID, col, raw, "empty after cleaning; set NULL")
		return nil
	}
	return &v
}
