// Package load persists transformed batches and data-quality entries into
// the clinical store, tracks run history, and owns schema migrations.
// Postgres is the production backend; SQLite serves laptop runs and CI.
package load

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/harborview-health/patient-etl/internal/dq"
	"github.com/harborview-health/patient-etl/internal/model"
	"github.com/harborview-health/patient-etl/internal/transform"
)

// Mode selects how a batch lands in the target tables.
type Mode string

const (
	// ModeTruncate clears every entity table and reloads from scratch.
	ModeTruncate Mode = "truncate"
	// ModeAppend inserts only rows whose primary key is not yet present.
	ModeAppend Mode = "append"
	// ModeUpsert inserts new rows and updates existing ones in place.
	ModeUpsert Mode = "upsert"
)

// ParseMode validates a configured load mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeTruncate, ModeAppend, ModeUpsert:
		return Mode(s), nil
	default:
		return "", eris.Errorf("load: unknown mode %q (want truncate, append, or upsert)", s)
	}
}

// Result counts what one load wrote.
type Result struct {
	Patients   int64
	Encounters int64
	Diagnoses  int64
	DQEntries  int64
}

// Run is one row of the run history table.
type Run struct {
	ID          int64
	RunID       string
	Mode        string
	Status      string
	StartedAt   time.Time
	CompletedAt *time.Time
	Patients    int64
	Encounters  int64
	Diagnoses   int64
	DQEntries   int64
	Error       string
}

// DQRecord is one persisted data-quality entry, tagged with its run.
type DQRecord struct {
	RunID string
	dq.Entry
}

// Loader is the storage backend for one target store.
type Loader interface {
	// Migrate brings the schema up to date. Safe to run concurrently
	// across deploys.
	Migrate(ctx context.Context) error

	// ExistingKeys returns the primary keys already present, for
	// referential filtering in append and upsert runs.
	ExistingKeys(ctx context.Context) (transform.ExistingKeys, error)

	// StartRun opens a run history row and returns its row id.
	StartRun(ctx context.Context, runID uuid.UUID, mode Mode) (int64, error)

	// CompleteRun closes a run history row with its counts.
	CompleteRun(ctx context.Context, id int64, res Result) error

	// FailRun closes a run history row with an error message.
	FailRun(ctx context.Context, id int64, errMsg string) error

	// Load writes the batch under the given mode and flushes the
	// quality log, all tagged with runID.
	Load(ctx context.Context, runID uuid.UUID, mode Mode, batch *model.Batch, log *dq.Log) (Result, error)

	// ListRuns returns run history, most recent first.
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// ListDQ returns persisted quality entries for one run.
	ListDQ(ctx context.Context, runID string, limit int) ([]DQRecord, error)

	// Close releases the underlying connections.
	Close()
}

// Open builds a loader for the configured driver.
func Open(ctx context.Context, driver, dsn string) (Loader, error) {
	switch driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, eris.Wrap(err, "load: connect postgres")
		}
		return NewPostgres(pool, pool.Close), nil
	case "sqlite":
		return OpenSQLite(dsn)
	default:
		return nil, eris.Errorf("load: unknown store driver %q (want postgres or sqlite)", driver)
	}
}

var (
	patientColumns   = []string{"patient_id", "given_name", "family_name", "sex", "dob", "height_cm", "weight_kg"}
	encounterColumns = []string{"encounter_id", "patient_id", "admit_dt", "discharge_dt", "encounter_type", "source_file"}
	diagnosisColumns = []string{"diagnosis_id", "encounter_id", "code", "system", "is_primary", "recorded_at"}
	dqColumns        = []string{"run_id", "ts", "file_name", "row_id", "column_name", "value_seen", "reason"}
)

func patientRow(p model.Patient) []any {
	return []any{p.PatientID, p.GivenName, p.FamilyName, p.Sex, p.DOB, p.HeightCM, p.WeightKG}
}

func encounterRow(e model.Encounter) []any {
	return []any{e.EncounterID, e.PatientID, e.AdmitDT, e.DischargeDT, e.EncounterType, e.SourceFile}
}

func diagnosisRow(d model.Diagnosis) []any {
	return []any{d.DiagnosisID, d.EncounterID, d.Code, d.System, d.IsPrimary, d.RecordedAt}
}
