package model

import "time"

// Patient is a cleaned demographics record. Pointer fields are nullable:
// a nil value means the source was missing or failed a quality gate.
type Patient struct {
	PatientID  string
	GivenName  *string
	FamilyName *string
	Sex        string // always one of M, F, U
	DOB        *time.Time
	HeightCM   *float64
	WeightKG   *float64
}

// Encounter is a cleaned admit/discharge record referencing a patient.
type Encounter struct {
	EncounterID   string
	PatientID     string
	AdmitDT       *time.Time
	DischargeDT   *time.Time
	EncounterType *string
	SourceFile    *string
}

// Diagnosis is a cleaned coded-diagnosis record referencing an encounter.
type Diagnosis struct {
	DiagnosisID string
	EncounterID string
	Code        string
	System      string
	IsPrimary   bool
	RecordedAt  *time.Time
}

// Batch is the output of one transform run: three ordered sequences in
// FK-safe order. After referential filtering, every Encounter.PatientID
// resolves inside the batch or in the target store, and likewise for
// Diagnosis.EncounterID.
type Batch struct {
	Patients   []Patient
	Encounters []Encounter
	Diagnoses  []Diagnosis
}
