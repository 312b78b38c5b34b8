// Package model defines the record types flowing through the ETL pipeline:
// raw extract rows on the way in, typed clinical entities on the way out.
package model

import "strings"

// RawRecord is a single row of an extract file before any cleaning.
// Columns keep their file order via the parallel Header/Values slices.
// RowID is a best-effort positional or natural identifier used only for
// data-quality logging, never for uniqueness.
type RawRecord struct {
	SourceFile string
	RowID      string
	Ordinal    int
	Header     []string
	Values     []string
}

// Get returns the value for the named column (case-insensitive),
// or empty string if the column is absent or the row is short.
func (r RawRecord) Get(col string) string {
	for i, h := range r.Header {
		if strings.EqualFold(strings.TrimSpace(h), col) {
			if i < len(r.Values) {
				return r.Values[i]
			}
			return ""
		}
	}
	return ""
}

// RawBatch holds the raw rows for one pipeline run, per entity.
type RawBatch struct {
	Patients   []RawRecord
	Encounters []RawRecord
	Diagnoses  []RawRecord
}
