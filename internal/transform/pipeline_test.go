package transform

import (
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborview-health/patient-etl/internal/dq"
	"github.com/harborview-health/patient-etl/internal/model"
)

var (
	patientHeader   = []string{"patient_id", "given_name", "family_name", "sex", "date_of_birth", "height", "weight"}
	encounterHeader = []string{"encounter_id", "patient_id", "admit_dt", "discharge_dt", "encounter_type"}
	diagnosisHeader = []string{"diagnosis_id", "encounter_id", "code", "system", "is_primary", "recorded_at"}
)

func TestNewPipelineRejectsBadContext(t *testing.T) {
	ctx := testCtx()
	ctx.MaxFutureYears = -1
	_, err := NewPipeline(ctx, dq.NewLog())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid context")
}

func TestPipelineEndToEnd(t *testing.T) {
	raw := model.RawBatch{
		Patients: []model.RawRecord{
			rawRec("patients.csv", "1", 1, patientHeader,
				[]string{"p1", "alice", "o'brien-smith", "f", "1980-05-01", "5'11\"", "150 lb"}),
			rawRec("patients.csv", "2", 2, patientHeader,
				[]string{"p2", "  bob ", "smith", "male", "1975-12-31", "180 cm", "90 kg"}),
			// Embedded header row.
			rawRec("patients.csv", "3", 3, patientHeader, patientHeader),
			// Missing primary key.
			rawRec("patients.csv", "4", 4, patientHeader,
				[]string{"", "carol", "jones", "f", "", "", ""}),
			// Duplicate PK; this later row supersedes row 2.
			rawRec("patients.csv", "5", 5, patientHeader,
				[]string{"p2", "robert", "smith", "m", "1975-12-31", "180 cm", "91 kg"}),
		},
		Encounters: []model.RawRecord{
			rawRec("encounters.csv", "1", 1, encounterHeader,
				[]string{"e1", "p1", "2024-03-15T08:30:00Z", "2024-03-16T10:00:00Z", "inpatient"}),
			// Inverted chronology: detected, values preserved.
			rawRec("encounters.csv", "2", 2, encounterHeader,
				[]string{"e2", "p2", "2024-03-15T08:30:00Z", "2024-03-14T08:30:00Z", "er"}),
			// References a patient that does not exist anywhere.
			rawRec("encounters.csv", "3", 3, encounterHeader,
				[]string{"e3", "p404", "2024-03-15T08:30:00Z", "", "outpatient"}),
			// References a patient known only to the store.
			rawRec("encounters.csv", "4", 4, encounterHeader,
				[]string{"e4", "p-store", "2024-03-15T08:30:00Z", "", "outpatient"}),
		},
		Diagnoses: []model.RawRecord{
			rawRec("diagnoses.xml", "1", 1, diagnosisHeader,
				[]string{"d1", "e1", "I10", "ICD-10", "true", "2024-03-15T09:00:00Z"}),
			// Missing coding system: defaulted, logged once per file.
			rawRec("diagnoses.xml", "2", 2, diagnosisHeader,
				[]string{"d2", "e2", "E11.9", "", "false", ""}),
			// Missing code: structural skip.
			rawRec("diagnoses.xml", "3", 3, diagnosisHeader,
				[]string{"d3", "e1", "", "ICD-10", "false", ""}),
			// Unknown encounter: referentially dropped.
			rawRec("diagnoses.xml", "4", 4, diagnosisHeader,
				[]string{"d4", "e404", "J45", "ICD-10", "false", ""}),
		},
	}

	log := dq.NewLog()
	p, err := NewPipeline(testCtx(), log)
	require.NoError(t, err)

	batch, err := p.Run(raw, ExistingKeys{Patients: keySet("p-store")})
	require.NoError(t, err)

	require.Len(t, batch.Patients, 2)
	p1, p2 := batch.Patients[0], batch.Patients[1]
	assert.Equal(t, "p1", p1.PatientID)
	assert.Equal(t, "Alice", *p1.GivenName)
	assert.Equal(t, "O'Brien-Smith", *p1.FamilyName)
	assert.Equal(t, "F", p1.Sex)
	assert.Equal(t, time.Date(1980, 5, 1, 0, 0, 0, 0, time.UTC), *p1.DOB)
	assert.InDelta(t, 180.34, *p1.HeightCM, 0.001)
	assert.InDelta(t, 68.04, *p1.WeightKG, 0.001)

	// Keep-last won for p2.
	assert.Equal(t, "p2", p2.PatientID)
	assert.Equal(t, "Robert", *p2.GivenName)
	assert.InDelta(t, 91, *p2.WeightKG, 0.001)

	require.Len(t, batch.Encounters, 3)
	assert.Equal(t, "e1", batch.Encounters[0].EncounterID)
	assert.Equal(t, "INPATIENT", *batch.Encounters[0].EncounterType)
	assert.Equal(t, "encounters.csv", *batch.Encounters[0].SourceFile)
	// e2 kept despite inverted chronology, values untouched.
	e2 := batch.Encounters[1]
	assert.True(t, e2.DischargeDT.Before(*e2.AdmitDT))
	// e4 survived via the store's key set.
	assert.Equal(t, "e4", batch.Encounters[2].EncounterID)

	require.Len(t, batch.Diagnoses, 2)
	assert.Equal(t, "d1", batch.Diagnoses[0].DiagnosisID)
	assert.True(t, batch.Diagnoses[0].IsPrimary)
	assert.Equal(t, "ICD-10", batch.Diagnoses[1].System) // defaulted

	rs := reasons(log)
	assert.Contains(t, rs, "embedded header row removed")
	assert.Contains(t, rs, "missing primary key; row dropped")
	assert.Contains(t, rs, "duplicate primary key; superseded by later row")
	assert.Contains(t, rs, "discharge precedes admit; values preserved")
	assert.Contains(t, rs, "unknown patient_id; encounter dropped")
	assert.Contains(t, rs, "unknown encounter_id; diagnosis dropped")
	assert.Contains(t, rs, "missing required field; diagnosis dropped")
	assert.Contains(t, rs, "missing coding system; ICD-10 assumed (logged once per file)")
}

func TestPipelineEncounterSourceFileColumn(t *testing.T) {
	withSource := append(encounterHeader, "source_file")
	raw := model.RawBatch{
		Patients: []model.RawRecord{
			rawRec("patients.csv", "1", 1, patientHeader,
				[]string{"p1", "alice", "smith", "f", "1980-05-01", "170 cm", "60 kg"}),
		},
		Encounters: []model.RawRecord{
			// The feed names its own origin in the source_file column.
			rawRec("encounters.csv", "1", 1, withSource,
				[]string{"e1", "p1", "2024-03-15T08:30:00Z", "", "inpatient", "portal-A-feed"}),
			// A blank cell falls back to the extract file name.
			rawRec("encounters.csv", "2", 2, withSource,
				[]string{"e2", "p1", "2024-03-15T08:30:00Z", "", "inpatient", "  "}),
		},
	}

	p, err := NewPipeline(testCtx(), dq.NewLog())
	require.NoError(t, err)
	batch, err := p.Run(raw, ExistingKeys{})
	require.NoError(t, err)

	require.Len(t, batch.Encounters, 2)
	assert.Equal(t, "portal-A-feed", *batch.Encounters[0].SourceFile)
	assert.Equal(t, "encounters.csv", *batch.Encounters[1].SourceFile)
}

// Re-running the pipeline over its own serialized output must change
// nothing and log nothing: cleaned data carries explicit units and
// offsets, so every quality gate passes silently.
func TestPipelineStableOnCleanData(t *testing.T) {
	raw := model.RawBatch{
		Patients: []model.RawRecord{
			rawRec("patients.csv", "1", 1, patientHeader,
				[]string{"p1", "alice", "o'brien-smith", "f", "1980-05-01", "5'11\"", "150 lb"}),
		},
		Encounters: []model.RawRecord{
			rawRec("encounters.csv", "1", 1, encounterHeader,
				[]string{"e1", "p1", "2024-03-15 08:30:00", "2024-03-16T10:00:00+02:00", "inpatient"}),
		},
		Diagnoses: []model.RawRecord{
			rawRec("diagnoses.xml", "1", 1, diagnosisHeader,
				[]string{"d1", "e1", "I10", "", "true", "2024-03-15T09:00:00Z"}),
		},
	}

	p, err := NewPipeline(testCtx(), dq.NewLog())
	require.NoError(t, err)
	first, err := p.Run(raw, ExistingKeys{})
	require.NoError(t, err)

	relog := dq.NewLog()
	p2, err := NewPipeline(testCtx(), relog)
	require.NoError(t, err)
	second, err := p2.Run(serializeBatch(first), ExistingKeys{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 0, relog.Len(), "re-run logged: %v", reasons(relog))
}

// serializeBatch renders cleaned entities back into raw rows the way a
// round-trip export would: explicit metric units, RFC 3339 timestamps.
func serializeBatch(b *model.Batch) model.RawBatch {
	var out model.RawBatch
	for i, p := range b.Patients {
		out.Patients = append(out.Patients, rawRec("patients.csv", fmt.Sprint(i+1), i+1, patientHeader, []string{
			p.PatientID, derefStr(p.GivenName), derefStr(p.FamilyName), p.Sex,
			formatTime(p.DOB), formatUnit(p.HeightCM, "cm"), formatUnit(p.WeightKG, "kg"),
		}))
	}
	for i, e := range b.Encounters {
		out.Encounters = append(out.Encounters, rawRec("encounters.csv", fmt.Sprint(i+1), i+1, encounterHeader, []string{
			e.EncounterID, e.PatientID, formatTime(e.AdmitDT), formatTime(e.DischargeDT), derefStr(e.EncounterType),
		}))
	}
	for i, d := range b.Diagnoses {
		out.Diagnoses = append(out.Diagnoses, rawRec("diagnoses.xml", fmt.Sprint(i+1), i+1, diagnosisHeader, []string{
			d.DiagnosisID, d.EncounterID, d.Code, d.System,
			strconv.FormatBool(d.IsPrimary), formatTime(d.RecordedAt),
		}))
	}
	return out
}

func derefStr(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func formatTime(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.Format(time.RFC3339)
}

func formatUnit(v *float64, unit string) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64) + " " + unit
}
