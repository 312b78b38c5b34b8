package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborview-health/patient-etl/internal/dq"
	"github.com/harborview-health/patient-etl/internal/model"
)

func keySet(keys ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

func TestReferentialEncounters(t *testing.T) {
	rows := []cleanRow[model.Encounter]{
		{rowID: "1", val: model.Encounter{EncounterID: "e1", PatientID: "p1"}}, // in batch
		{rowID: "2", val: model.Encounter{EncounterID: "e2", PatientID: "p9"}}, // in store
		{rowID: "3", val: model.Encounter{EncounterID: "e3", PatientID: "px"}}, // unknown
	}

	log := dq.NewLog()
	f := NewReferentialFilter(log)
	out := f.Encounters("encounters.csv", rows, keySet("p1"), keySet("p9"))

	require.Len(t, out, 2)
	assert.Equal(t, "e1", out[0].val.EncounterID)
	assert.Equal(t, "e2", out[1].val.EncounterID)

	entries := log.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "3", entries[0].RowID)
	assert.Equal(t, "patient_id", entries[0].ColumnName)
	assert.Equal(t, "px", entries[0].ValueSeen)
	assert.Contains(t, entries[0].Reason, "encounter dropped")
}

func TestReferentialDiagnoses(t *testing.T) {
	rows := []cleanRow[model.Diagnosis]{
		{rowID: "1", val: model.Diagnosis{DiagnosisID: "d1", EncounterID: "e1"}},
		{rowID: "2", val: model.Diagnosis{DiagnosisID: "d2", EncounterID: "ex"}},
	}

	log := dq.NewLog()
	f := NewReferentialFilter(log)
	out := f.Diagnoses("diagnoses.xml", rows, keySet("e1"), nil)

	require.Len(t, out, 1)
	assert.Equal(t, "d1", out[0].val.DiagnosisID)

	entries := log.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "encounter_id", entries[0].ColumnName)
	assert.Contains(t, entries[0].Reason, "diagnosis dropped")
}

func TestReferentialEmptyStoreSets(t *testing.T) {
	// Truncate runs pass nil store sets; batch-internal references resolve.
	rows := []cleanRow[model.Encounter]{
		{rowID: "1", val: model.Encounter{EncounterID: "e1", PatientID: "p1"}},
	}
	log := dq.NewLog()
	out := NewReferentialFilter(log).Encounters("encounters.csv", rows, keySet("p1"), nil)
	assert.Len(t, out, 1)
	assert.Equal(t, 0, log.Len())
}
