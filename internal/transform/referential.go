package transform

import (
	"github.com/harborview-health/patient-etl/internal/dq"
	"github.com/harborview-health/patient-etl/internal/model"
)

// ReferentialFilter drops child rows whose parent key resolves neither
// within the current batch nor among keys already present in the target
// store. Parent sets are plain string sets supplied by the caller, so
// the filter itself stays storage-agnostic.
type ReferentialFilter struct {
	log *dq.Log
}

// NewReferentialFilter creates a filter writing to the quality log.
func NewReferentialFilter(log *dq.Log) *ReferentialFilter {
	return &ReferentialFilter{log: log}
}

// Encounters removes encounters referencing unknown patients. Known
// patients are the union of the batch's surviving patient IDs and the
// existing set from the store.
func (f *ReferentialFilter) Encounters(fileName string, encs []cleanRow[model.Encounter], batchPatients, existingPatients map[string]struct{}) []cleanRow[model.Encounter] {
	out := encs[:0:0]
	for _, row := range encs {
		pid := row.val.PatientID
		if !inEither(pid, batchPatients, existingPatients) {
			f.log.Record(fileName, row.rowID, "patient_id", pid,
				"unknown patient_id; encounter dropped")
			continue
		}
		out = append(out, row)
	}
	return out
}

// Diagnoses removes diagnoses referencing unknown encounters, under the
// same union rule as Encounters.
func (f *ReferentialFilter) Diagnoses(fileName string, diags []cleanRow[model.Diagnosis], batchEncounters, existingEncounters map[string]struct{}) []cleanRow[model.Diagnosis] {
	out := diags[:0:0]
	for _, row := range diags {
		eid := row.val.EncounterID
		if !inEither(eid, batchEncounters, existingEncounters) {
			f.log.Record(fileName, row.rowID, "encounter_id", eid,
				"unknown encounter_id; diagnosis dropped")
			continue
		}
		out = append(out, row)
	}
	return out
}

func inEither(k string, a, b map[string]struct{}) bool {
	if _, ok := a[k]; ok {
		return true
	}
	_, ok := b[k]
	return ok
}
