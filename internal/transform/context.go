// Package transform implements the transform and data-quality core: the
// rules that sanitize, convert units, normalize dates and categoricals,
// deduplicate, chronologically validate, and referentially filter raw
// patient-record rows. The core performs no I/O; a run is a deterministic
// function of (raw records, Context, pre-existing key sets), with every
// non-trivial decision recorded in the injected dq.Log.
package transform

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Entity names one of the three record streams.
type Entity string

const (
	EntityPatients   Entity = "patients"
	EntityEncounters Entity = "encounters"
	EntityDiagnoses  Entity = "diagnoses"
)

// Bounds is an inclusive physical plausibility range.
type Bounds struct {
	Min float64
	Max float64
}

// Contains reports whether v falls inside the range.
func (b Bounds) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// Context is the read-only validation configuration shared by all stages
// of one run. It is initialized once and never mutated while rows flow.
type Context struct {
	// MaxLen maps entity → column → schema max length in characters.
	// A missing column means unlimited.
	MaxLen map[Entity]map[string]int

	// HeightBounds and WeightBounds gate converted measurements.
	HeightBounds Bounds
	WeightBounds Bounds

	// MaxFutureYears rejects timestamps further than this many years
	// past Now.
	MaxFutureYears int

	// PKColumn names the primary key column per entity.
	PKColumn map[Entity]string

	// TimeFormats are tried in order; first match wins. Layouts without
	// a zone component are interpreted as UTC.
	TimeFormats []string

	// Now anchors the future-date check for the whole run.
	Now time.Time

	// LogExactDuplicates switches exact full-row duplicate removal from
	// a count-only summary entry to one entry per dropped row.
	LogExactDuplicates bool
}

// DefaultContext returns the standard validation context anchored at now.
func DefaultContext(now time.Time) *Context {
	return &Context{
		MaxLen: map[Entity]map[string]int{
			EntityPatients: {
				"patient_id":  50,
				"given_name":  100,
				"family_name": 100,
				"sex":         10,
			},
			EntityEncounters: {
				"encounter_id":   50,
				"patient_id":     50,
				"encounter_type": 30,
				"source_file":    255,
			},
			EntityDiagnoses: {
				"diagnosis_id": 50,
				"encounter_id": 50,
				"code":         20,
				"system":       50,
			},
		},
		HeightBounds:   Bounds{Min: 30, Max: 272},
		WeightBounds:   Bounds{Min: 2, Max: 635},
		MaxFutureYears: 3,
		PKColumn: map[Entity]string{
			EntityPatients:   "patient_id",
			EntityEncounters: "encounter_id",
			EntityDiagnoses:  "diagnosis_id",
		},
		TimeFormats: []string{
			time.RFC3339,
			"2006-01-02T15:04:05",
			"2006-01-02 15:04:05",
			"2006-01-02",
			"01/02/2006 15:04",
			"01/02/2006",
			"Jan 2, 2006",
		},
		Now: now,
	}
}

// Validate checks the context for fatal misconfiguration. A malformed
// context aborts the run before any row is processed: silently running
// with broken bounds would corrupt the entire audit trail.
func (c *Context) Validate() error {
	if c == nil {
		return eris.New("transform: nil validation context")
	}
	if c.Now.IsZero() {
		return eris.New("transform: context has no run clock")
	}
	if c.HeightBounds.Min <= 0 || c.HeightBounds.Max <= c.HeightBounds.Min {
		return eris.Errorf("transform: invalid height bounds [%v, %v]", c.HeightBounds.Min, c.HeightBounds.Max)
	}
	if c.WeightBounds.Min <= 0 || c.WeightBounds.Max <= c.WeightBounds.Min {
		return eris.Errorf("transform: invalid weight bounds [%v, %v]", c.WeightBounds.Min, c.WeightBounds.Max)
	}
	if c.MaxFutureYears <= 0 {
		return eris.Errorf("transform: max future years must be positive, got %d", c.MaxFutureYears)
	}
	if len(c.TimeFormats) == 0 {
		return eris.New("transform: no timestamp formats configured")
	}
	if c.MaxLen == nil {
		return eris.New("transform: no schema length table configured")
	}
	for _, e := range []Entity{EntityPatients, EntityEncounters, EntityDiagnoses} {
		if c.PKColumn[e] == "" {
			return eris.Errorf("transform: no primary key column configured for %s", e)
		}
	}
	return nil
}

// maxLenFor returns the schema length for a column, 0 meaning unlimited.
func (c *Context) maxLenFor(entity Entity, col string) int {
	cols, ok := c.MaxLen[entity]
	if !ok {
		return 0
	}
	return cols[col]
}

// layoutHasZone reports whether a time layout carries an explicit offset.
func layoutHasZone(layout string) bool {
	return strings.Contains(layout, "Z07") ||
		strings.Contains(layout, "-07") ||
		strings.Contains(layout, "MST")
}
