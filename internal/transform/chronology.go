package transform

import (
	"fmt"

	"github.com/harborview-health/patient-etl/internal/dq"
	"github.com/harborview-health/patient-etl/internal/model"
)

// ChronologyValidator flags encounters whose discharge precedes their
// admit. Detection only: which timestamp is wrong cannot be decided from
// the data, so both values are preserved for downstream review.
type ChronologyValidator struct {
	log *dq.Log
}

// NewChronologyValidator creates a validator writing to the quality log.
func NewChronologyValidator(log *dq.Log) *ChronologyValidator {
	return &ChronologyValidator{log: log}
}

// Check logs one entry per encounter with an inverted admit/discharge
// pair. Encounters missing either timestamp are skipped; absence is not
// an ordering violation.
func (c *ChronologyValidator) Check(fileName string, encs []cleanRow[model.Encounter]) {
	for _, row := range encs {
		e := row.val
		if e.AdmitDT == nil || e.DischargeDT == nil {
			continue
		}
		if e.DischargeDT.Before(*e.AdmitDT) {
			c.log.Record(fileName, row.rowID, "discharge_dt",
				fmt.Sprintf("admit=%s discharge=%s",
					e.AdmitDT.Format("2006-01-02T15:04:05Z07:00"),
					e.DischargeDT.Format("2006-01-02T15:04:05Z07:00")),
				"discharge precedes admit; values preserved")
		}
	}
}
