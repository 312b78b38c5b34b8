package transform

import (
	"strings"

	"github.com/harborview-health/patient-etl/internal/dq"
	"github.com/harborview-health/patient-etl/internal/model"
)

// RowScrubber removes stray header rows re-introduced mid-file by
// concatenated source extracts. It runs before any other transform:
// header text may exceed schema lengths or contain characters that would
// otherwise trigger unrelated sanitization entries.
type RowScrubber struct {
	log *dq.Log
}

// NewRowScrubber creates a scrubber writing to the quality log.
func NewRowScrubber(log *dq.Log) *RowScrubber {
	return &RowScrubber{log: log}
}

// Scrub returns the records with embedded header rows removed, logging
// each removal with its positional identifier and file name.
func (r *RowScrubber) Scrub(recs []model.RawRecord) []model.RawRecord {
	out := recs[:0:0]
	for _, rec := range recs {
		if isHeaderRow(rec) {
			r.log.Record(rec.SourceFile, rec.RowID, "",
				strings.Join(rec.Values, ","), "embedded header row removed")
			continue
		}
		out = append(out, rec)
	}
	return out
}

// isHeaderRow detects two shapes of embedded header: a row whose non-empty
// values each equal their own column name, and a row collapsed into a
// single cell holding the comma- or semicolon-joined header text.
func isHeaderRow(rec model.RawRecord) bool {
	nonEmpty := 0
	allMatch := true
	for i, v := range rec.Values {
		t := strings.TrimSpace(v)
		if t == "" {
			continue
		}
		nonEmpty++
		if i >= len(rec.Header) || !strings.EqualFold(t, strings.TrimSpace(rec.Header[i])) {
			allMatch = false
		}
	}
	if nonEmpty >= 2 && allMatch {
		return true
	}

	if nonEmpty == 1 {
		var cell string
		for _, v := range rec.Values {
			if t := strings.TrimSpace(v); t != "" {
				cell = t
				break
			}
		}
		for _, sep := range []string{",", ";"} {
			if strings.EqualFold(cell, strings.Join(rec.Header, sep)) {
				return true
			}
		}
	}
	return false
}
