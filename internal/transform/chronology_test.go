package transform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborview-health/patient-etl/internal/dq"
	"github.com/harborview-health/patient-etl/internal/model"
)

func tp(t time.Time) *time.Time { return &t }

func TestChronologyDetectionOnly(t *testing.T) {
	admit := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	discharge := time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)

	rows := []cleanRow[model.Encounter]{
		{rowID: "1", val: model.Encounter{EncounterID: "e1", AdmitDT: tp(admit), DischargeDT: tp(discharge)}},
		{rowID: "2", val: model.Encounter{EncounterID: "e2", AdmitDT: tp(admit), DischargeDT: tp(admit.Add(time.Hour))}},
		{rowID: "3", val: model.Encounter{EncounterID: "e3", AdmitDT: tp(admit), DischargeDT: tp(admit)}}, // same-instant is fine
		{rowID: "4", val: model.Encounter{EncounterID: "e4", AdmitDT: nil, DischargeDT: tp(discharge)}},
		{rowID: "5", val: model.Encounter{EncounterID: "e5", AdmitDT: tp(admit), DischargeDT: nil}},
	}

	log := dq.NewLog()
	NewChronologyValidator(log).Check("encounters.csv", rows)

	entries := log.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "1", entries[0].RowID)
	assert.Equal(t, "discharge_dt", entries[0].ColumnName)
	assert.Equal(t, "discharge precedes admit; values preserved", entries[0].Reason)

	// Detection only: the rows themselves are untouched.
	assert.Equal(t, discharge, *rows[0].val.DischargeDT)
}
