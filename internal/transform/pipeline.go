package transform

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/harborview-health/patient-etl/internal/dq"
	"github.com/harborview-health/patient-etl/internal/model"
)

// ExistingKeys carries primary keys already present in the target store,
// used by referential filtering in append and upsert runs. Leave the sets
// empty for truncate runs; batch-internal references still resolve.
type ExistingKeys struct {
	Patients   map[string]struct{}
	Encounters map[string]struct{}
}

// Pipeline wires the full transform chain for one batch: scrub, sanitize,
// normalize, dedupe, chronology check, referential filter. A pipeline is
// safe for reuse across batches but not for concurrent Run calls, since
// per-column assumption logging is keyed on the shared quality log.
type Pipeline struct {
	rules *Context
	log   *dq.Log

	scrub *RowScrubber
	san   *Sanitizer
	units *UnitConverter
	temp  *TemporalNormalizer
	cat   *CategoricalNormalizer
	dedup *Deduplicator
	chron *ChronologyValidator
	ref   *ReferentialFilter
}

// NewPipeline validates the transform context and builds the stage chain.
// An invalid context is a configuration fault, not a data-quality event.
func NewPipeline(rules *Context, log *dq.Log) (*Pipeline, error) {
	if err := rules.Validate(); err != nil {
		return nil, eris.Wrap(err, "transform: invalid context")
	}
	return &Pipeline{
		rules: rules,
		log:   log,
		scrub: NewRowScrubber(log),
		san:   NewSanitizer(rules, log),
		units: NewUnitConverter(rules, log),
		temp:  NewTemporalNormalizer(rules, log),
		cat:   NewCategoricalNormalizer(log),
		dedup: NewDeduplicator(rules, log),
		chron: NewChronologyValidator(log),
		ref:   NewReferentialFilter(log),
	}, nil
}

// Run transforms a raw batch into loadable entities. Order matters:
// patients resolve before encounters so encounter filtering sees the
// surviving patient set, and likewise encounters before diagnoses.
func (p *Pipeline) Run(raw model.RawBatch, existing ExistingKeys) (*model.Batch, error) {
	patients := p.buildPatients(raw.Patients)

	batchPatients := make(map[string]struct{}, len(patients))
	for _, row := range patients {
		batchPatients[row.val.PatientID] = struct{}{}
	}

	encounters := p.buildEncounters(raw.Encounters, batchPatients, existing.Patients)

	batchEncounters := make(map[string]struct{}, len(encounters))
	for _, row := range encounters {
		batchEncounters[row.val.EncounterID] = struct{}{}
	}

	diagnoses := p.buildDiagnoses(raw.Diagnoses, batchEncounters, existing.Encounters)

	out := &model.Batch{
		Patients:   make([]model.Patient, 0, len(patients)),
		Encounters: make([]model.Encounter, 0, len(encounters)),
		Diagnoses:  make([]model.Diagnosis, 0, len(diagnoses)),
	}
	for _, row := range patients {
		out.Patients = append(out.Patients, row.val)
	}
	for _, row := range encounters {
		out.Encounters = append(out.Encounters, row.val)
	}
	for _, row := range diagnoses {
		out.Diagnoses = append(out.Diagnoses, row.val)
	}
	return out, nil
}

func (p *Pipeline) buildPatients(recs []model.RawRecord) []cleanRow[model.Patient] {
	recs = p.scrub.Scrub(recs)
	fileName := fileNameOf(recs)

	rows := make([]cleanRow[model.Patient], 0, len(recs))
	for _, rec := range recs {
		pat := model.Patient{
			GivenName:  p.cat.PersonName(p.san.Clean(EntityPatients, rec, "given_name")),
			FamilyName: p.cat.PersonName(p.san.Clean(EntityPatients, rec, "family_name")),
			Sex:        p.cat.Sex(rec.SourceFile, rec.RowID, p.san.Clean(EntityPatients, rec, "sex")),
			DOB:        p.temp.Parse(rec.SourceFile, rec.RowID, "date_of_birth", p.dob(rec)),
			HeightCM:   p.units.Height(rec.SourceFile, rec.RowID, p.san.Clean(EntityPatients, rec, "height")),
			WeightKG:   p.units.Weight(rec.SourceFile, rec.RowID, p.san.Clean(EntityPatients, rec, "weight")),
		}
		if pk := p.san.Clean(EntityPatients, rec, "patient_id"); pk != nil {
			pat.PatientID = *pk
		}
		rows = append(rows, cleanRow[model.Patient]{ordinal: rec.Ordinal, rowID: rec.RowID, val: pat})
	}

	pkCol := p.rules.PKColumn[EntityPatients]
	rows = dedupeExact(p.dedup, fileName, rows, patientKey)
	rows = dropMissingPK(p.dedup, fileName, pkCol, rows, func(v model.Patient) string { return v.PatientID })
	return dedupeByPK(p.dedup, fileName, pkCol, rows, func(v model.Patient) string { return v.PatientID })
}

func (p *Pipeline) buildEncounters(recs []model.RawRecord, batchPatients, existingPatients map[string]struct{}) []cleanRow[model.Encounter] {
	recs = p.scrub.Scrub(recs)
	fileName := fileNameOf(recs)

	rows := make([]cleanRow[model.Encounter], 0, len(recs))
	for _, rec := range recs {
		// The source_file data column names the upstream feed; extracts
		// that omit it fall back to the file the row arrived in.
		src := p.san.Clean(EntityEncounters, rec, "source_file")
		if src == nil {
			v := rec.SourceFile
			src = &v
		}
		enc := model.Encounter{
			AdmitDT:       p.temp.Parse(rec.SourceFile, rec.RowID, "admit_dt", p.san.Clean(EntityEncounters, rec, "admit_dt")),
			DischargeDT:   p.temp.Parse(rec.SourceFile, rec.RowID, "discharge_dt", p.san.Clean(EntityEncounters, rec, "discharge_dt")),
			EncounterType: p.cat.EncounterType(p.san.Clean(EntityEncounters, rec, "encounter_type")),
			SourceFile:    src,
		}
		if pk := p.san.Clean(EntityEncounters, rec, "encounter_id"); pk != nil {
			enc.EncounterID = *pk
		}
		if fk := p.san.Clean(EntityEncounters, rec, "patient_id"); fk != nil {
			enc.PatientID = *fk
		}
		rows = append(rows, cleanRow[model.Encounter]{ordinal: rec.Ordinal, rowID: rec.RowID, val: enc})
	}

	pkCol := p.rules.PKColumn[EntityEncounters]
	rows = dedupeExact(p.dedup, fileName, rows, encounterKey)
	rows = dropMissingPK(p.dedup, fileName, pkCol, rows, func(v model.Encounter) string { return v.EncounterID })
	rows = dedupeByPK(p.dedup, fileName, pkCol, rows, func(v model.Encounter) string { return v.EncounterID })
	p.chron.Check(fileName, rows)
	return p.ref.Encounters(fileName, rows, batchPatients, existingPatients)
}

func (p *Pipeline) buildDiagnoses(recs []model.RawRecord, batchEncounters, existingEncounters map[string]struct{}) []cleanRow[model.Diagnosis] {
	recs = p.scrub.Scrub(recs)
	fileName := fileNameOf(recs)

	rows := make([]cleanRow[model.Diagnosis], 0, len(recs))
	for _, rec := range recs {
		eid := p.san.Clean(EntityDiagnoses, rec, "encounter_id")
		code := p.san.Clean(EntityDiagnoses, rec, "code")
		if eid == nil || code == nil {
			col := "encounter_id"
			if eid != nil {
				col = "code"
			}
			p.log.Record(rec.SourceFile, rec.RowID, col, "", "missing required field; diagnosis dropped")
			continue
		}

		diag := model.Diagnosis{
			EncounterID: *eid,
			Code:        *code,
			System:      p.diagnosisSystem(rec),
			RecordedAt:  p.temp.Parse(rec.SourceFile, rec.RowID, "recorded_at", p.san.Clean(EntityDiagnoses, rec, "recorded_at")),
		}
		if pk := p.san.Clean(EntityDiagnoses, rec, "diagnosis_id"); pk != nil {
			diag.DiagnosisID = *pk
		}
		if prim := p.san.Clean(EntityDiagnoses, rec, "is_primary"); prim != nil {
			diag.IsPrimary = strings.EqualFold(strings.TrimSpace(*prim), "true")
		}
		rows = append(rows, cleanRow[model.Diagnosis]{ordinal: rec.Ordinal, rowID: rec.RowID, val: diag})
	}

	pkCol := p.rules.PKColumn[EntityDiagnoses]
	rows = dedupeExact(p.dedup, fileName, rows, diagnosisKey)
	rows = dropMissingPK(p.dedup, fileName, pkCol, rows, func(v model.Diagnosis) string { return v.DiagnosisID })
	rows = dedupeByPK(p.dedup, fileName, pkCol, rows, func(v model.Diagnosis) string { return v.DiagnosisID })
	return p.ref.Diagnoses(fileName, rows, batchEncounters, existingEncounters)
}

// dob reads the birth date column, accepting the legacy "dob" header used
// by older extracts when "date_of_birth" is absent.
func (p *Pipeline) dob(rec model.RawRecord) *string {
	if v := p.san.Clean(EntityPatients, rec, "date_of_birth"); v != nil {
		return v
	}
	return p.san.Clean(EntityPatients, rec, "dob")
}

// diagnosisSystem applies the ICD-10 default for extracts that omit the
// coding system, logging the assumption once per file.
func (p *Pipeline) diagnosisSystem(rec model.RawRecord) string {
	if v := p.san.Clean(EntityDiagnoses, rec, "system"); v != nil {
		return *v
	}
	p.log.RecordOnce("system:"+rec.SourceFile, rec.SourceFile, rec.RowID, "system", "",
		"missing coding system; ICD-10 assumed (logged once per file)")
	return "ICD-10"
}

func fileNameOf(recs []model.RawRecord) string {
	if len(recs) == 0 {
		return ""
	}
	return recs[0].SourceFile
}

// Entity content keys for exact-duplicate detection. Nil and empty are
// distinct on purpose: a missing value and a cleaned-empty value came
// from different raw rows.

func patientKey(v model.Patient) string {
	return strings.Join([]string{
		v.PatientID, strp(v.GivenName), strp(v.FamilyName), v.Sex,
		timep(v.DOB), floatp(v.HeightCM), floatp(v.WeightKG),
	}, "\x1f")
}

func encounterKey(v model.Encounter) string {
	return strings.Join([]string{
		v.EncounterID, v.PatientID, timep(v.AdmitDT), timep(v.DischargeDT),
		strp(v.EncounterType), strp(v.SourceFile),
	}, "\x1f")
}

func diagnosisKey(v model.Diagnosis) string {
	return strings.Join([]string{
		v.DiagnosisID, v.EncounterID, v.Code, v.System,
		fmt.Sprintf("%t", v.IsPrimary), timep(v.RecordedAt),
	}, "\x1f")
}

func strp(v *string) string {
	if v == nil {
		return "\x00"
	}
	return *v
}

func timep(v *time.Time) string {
	if v == nil {
		return "\x00"
	}
	return v.Format(time.RFC3339Nano)
}

func floatp(v *float64) string {
	if v == nil {
		return "\x00"
	}
	return fmt.Sprintf("%g", *v)
}
