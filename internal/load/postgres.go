package load

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harborview-health/patient-etl/internal/db"
	"github.com/harborview-health/patient-etl/internal/dq"
	"github.com/harborview-health/patient-etl/internal/model"
	"github.com/harborview-health/patient-etl/internal/transform"
)

// Postgres is the production loader. Entity rows travel over COPY;
// upserts fold through a temp table.
type Postgres struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres wraps an open pool. closeFn releases it on Close; pass nil
// when the caller owns the pool's lifetime.
func NewPostgres(pool db.Pool, closeFn func()) *Postgres {
	return &Postgres{pool: pool, closeFn: closeFn}
}

func (p *Postgres) Migrate(ctx context.Context) error {
	return migrate(ctx, p.pool)
}

func (p *Postgres) ExistingKeys(ctx context.Context) (transform.ExistingKeys, error) {
	patients, err := p.keySet(ctx, "patient_id", "clinical.patients")
	if err != nil {
		return transform.ExistingKeys{}, err
	}
	encounters, err := p.keySet(ctx, "encounter_id", "clinical.encounters")
	if err != nil {
		return transform.ExistingKeys{}, err
	}
	return transform.ExistingKeys{Patients: patients, Encounters: encounters}, nil
}

func (p *Postgres) keySet(ctx context.Context, column, table string) (map[string]struct{}, error) {
	rows, err := p.pool.Query(ctx, fmt.Sprintf("SELECT %s FROM %s", column, table))
	if err != nil {
		return nil, eris.Wrapf(err, "load: query %s keys", table)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, eris.Wrapf(err, "load: scan %s key", table)
		}
		keys[k] = struct{}{}
	}
	return keys, rows.Err()
}

func (p *Postgres) StartRun(ctx context.Context, runID uuid.UUID, mode Mode) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO clinical.etl_runs (run_id, mode, status, started_at)
		 VALUES ($1, $2, 'running', now()) RETURNING id`,
		runID, string(mode),
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "load: start run %s", runID)
	}
	return id, nil
}

func (p *Postgres) CompleteRun(ctx context.Context, id int64, res Result) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE clinical.etl_runs
		 SET status = 'complete', completed_at = now(),
		     patients = $1, encounters = $2, diagnoses = $3, dq_entries = $4
		 WHERE id = $5`,
		res.Patients, res.Encounters, res.Diagnoses, res.DQEntries, id,
	)
	if err != nil {
		return eris.Wrapf(err, "load: complete run %d", id)
	}
	return nil
}

func (p *Postgres) FailRun(ctx context.Context, id int64, errMsg string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE clinical.etl_runs
		 SET status = 'failed', completed_at = now(), error = $1
		 WHERE id = $2`,
		errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "load: fail run %d", id)
	}
	return nil
}

// Load writes the batch then flushes the quality log in one pass, so a
// run's data and its audit trail land together.
func (p *Postgres) Load(ctx context.Context, runID uuid.UUID, mode Mode, batch *model.Batch, log *dq.Log) (Result, error) {
	var res Result
	var err error

	switch mode {
	case ModeTruncate:
		res, err = p.loadTruncate(ctx, batch)
	case ModeAppend:
		res, err = p.loadAppend(ctx, batch, log)
	case ModeUpsert:
		res, err = p.loadUpsert(ctx, batch)
	default:
		return Result{}, eris.Errorf("load: unknown mode %q", mode)
	}
	if err != nil {
		return Result{}, err
	}

	n, err := p.flushDQ(ctx, runID, log)
	if err != nil {
		return Result{}, err
	}
	res.DQEntries = n

	zap.L().Info("load complete",
		zap.String("mode", string(mode)),
		zap.Int64("patients", res.Patients),
		zap.Int64("encounters", res.Encounters),
		zap.Int64("diagnoses", res.Diagnoses),
		zap.Int64("dq_entries", res.DQEntries),
	)
	return res, nil
}

func (p *Postgres) loadTruncate(ctx context.Context, batch *model.Batch) (Result, error) {
	if _, err := p.pool.Exec(ctx,
		"TRUNCATE clinical.diagnoses, clinical.encounters, clinical.patients",
	); err != nil {
		return Result{}, eris.Wrap(err, "load: truncate entity tables")
	}

	var res Result
	var err error
	if res.Patients, err = db.CopyInto(ctx, p.pool, "clinical", "patients", patientColumns, patientRows(batch.Patients)); err != nil {
		return Result{}, err
	}
	if res.Encounters, err = db.CopyInto(ctx, p.pool, "clinical", "encounters", encounterColumns, encounterRows(batch.Encounters)); err != nil {
		return Result{}, err
	}
	if res.Diagnoses, err = db.CopyInto(ctx, p.pool, "clinical", "diagnoses", diagnosisColumns, diagnosisRows(batch.Diagnoses)); err != nil {
		return Result{}, err
	}
	return res, nil
}

// loadAppend inserts only rows with unseen primary keys. Skips are
// quality events, not errors: re-sending an extract is routine.
func (p *Postgres) loadAppend(ctx context.Context, batch *model.Batch, log *dq.Log) (Result, error) {
	var res Result

	existing, err := p.keySet(ctx, "patient_id", "clinical.patients")
	if err != nil {
		return Result{}, err
	}
	patients := make([]model.Patient, 0, len(batch.Patients))
	for _, pt := range batch.Patients {
		if _, ok := existing[pt.PatientID]; ok {
			log.Record("patients", pt.PatientID, "patient_id", pt.PatientID,
				"primary key already present; row skipped in append mode")
			continue
		}
		patients = append(patients, pt)
	}
	if res.Patients, err = db.CopyInto(ctx, p.pool, "clinical", "patients", patientColumns, patientRows(patients)); err != nil {
		return Result{}, err
	}

	existing, err = p.keySet(ctx, "encounter_id", "clinical.encounters")
	if err != nil {
		return Result{}, err
	}
	encounters := make([]model.Encounter, 0, len(batch.Encounters))
	for _, e := range batch.Encounters {
		if _, ok := existing[e.EncounterID]; ok {
			log.Record("encounters", e.EncounterID, "encounter_id", e.EncounterID,
				"primary key already present; row skipped in append mode")
			continue
		}
		encounters = append(encounters, e)
	}
	if res.Encounters, err = db.CopyInto(ctx, p.pool, "clinical", "encounters", encounterColumns, encounterRows(encounters)); err != nil {
		return Result{}, err
	}

	existing, err = p.keySet(ctx, "diagnosis_id", "clinical.diagnoses")
	if err != nil {
		return Result{}, err
	}
	diagnoses := make([]model.Diagnosis, 0, len(batch.Diagnoses))
	for _, d := range batch.Diagnoses {
		if _, ok := existing[d.DiagnosisID]; ok {
			log.Record("diagnoses", d.DiagnosisID, "diagnosis_id", d.DiagnosisID,
				"primary key already present; row skipped in append mode")
			continue
		}
		diagnoses = append(diagnoses, d)
	}
	if res.Diagnoses, err = db.CopyInto(ctx, p.pool, "clinical", "diagnoses", diagnosisColumns, diagnosisRows(diagnoses)); err != nil {
		return Result{}, err
	}

	return res, nil
}

func (p *Postgres) loadUpsert(ctx context.Context, batch *model.Batch) (Result, error) {
	var res Result
	var err error

	if res.Patients, err = db.BulkUpsert(ctx, p.pool, db.UpsertConfig{
		Table:        "clinical.patients",
		Columns:      patientColumns,
		ConflictKeys: []string{"patient_id"},
	}, patientRows(batch.Patients)); err != nil {
		return Result{}, err
	}
	if res.Encounters, err = db.BulkUpsert(ctx, p.pool, db.UpsertConfig{
		Table:        "clinical.encounters",
		Columns:      encounterColumns,
		ConflictKeys: []string{"encounter_id"},
	}, encounterRows(batch.Encounters)); err != nil {
		return Result{}, err
	}
	if res.Diagnoses, err = db.BulkUpsert(ctx, p.pool, db.UpsertConfig{
		Table:        "clinical.diagnoses",
		Columns:      diagnosisColumns,
		ConflictKeys: []string{"diagnosis_id"},
	}, diagnosisRows(batch.Diagnoses)); err != nil {
		return Result{}, err
	}

	return res, nil
}

func (p *Postgres) flushDQ(ctx context.Context, runID uuid.UUID, log *dq.Log) (int64, error) {
	entries := log.Entries()
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []any{runID, e.TS, e.FileName, e.RowID, e.ColumnName, e.ValueSeen, e.Reason})
	}
	n, err := db.CopyInto(ctx, p.pool, "clinical", "data_quality_log", dqColumns, rows)
	if err != nil {
		return 0, eris.Wrap(err, "load: flush data quality log")
	}
	return n, nil
}

func (p *Postgres) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx,
		`SELECT id, run_id, mode, status, started_at, completed_at,
		        patients, encounters, diagnoses, dq_entries, error
		 FROM clinical.etl_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "load: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var runID uuid.UUID
		var errStr *string
		if err := rows.Scan(&r.ID, &runID, &r.Mode, &r.Status, &r.StartedAt, &r.CompletedAt,
			&r.Patients, &r.Encounters, &r.Diagnoses, &r.DQEntries, &errStr); err != nil {
			return nil, eris.Wrap(err, "load: scan run row")
		}
		r.RunID = runID.String()
		if errStr != nil {
			r.Error = *errStr
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (p *Postgres) ListDQ(ctx context.Context, runID string, limit int) ([]DQRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := p.pool.Query(ctx,
		`SELECT run_id, ts, file_name, row_id, column_name, value_seen, reason
		 FROM clinical.data_quality_log WHERE run_id = $1 ORDER BY id LIMIT $2`,
		runID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "load: list dq entries for %s", runID)
	}
	defer rows.Close()

	var recs []DQRecord
	for rows.Next() {
		var rec DQRecord
		var id uuid.UUID
		var col, seen *string
		if err := rows.Scan(&id, &rec.TS, &rec.FileName, &rec.RowID, &col, &seen, &rec.Reason); err != nil {
			return nil, eris.Wrap(err, "load: scan dq row")
		}
		rec.RunID = id.String()
		if col != nil {
			rec.ColumnName = *col
		}
		if seen != nil {
			rec.ValueSeen = *seen
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (p *Postgres) Close() {
	if p.closeFn != nil {
		p.closeFn()
	}
}

func patientRows(pats []model.Patient) [][]any {
	rows := make([][]any, 0, len(pats))
	for _, p := range pats {
		rows = append(rows, patientRow(p))
	}
	return rows
}

func encounterRows(encs []model.Encounter) [][]any {
	rows := make([][]any, 0, len(encs))
	for _, e := range encs {
		rows = append(rows, encounterRow(e))
	}
	return rows
}

func diagnosisRows(diags []model.Diagnosis) [][]any {
	rows := make([][]any, 0, len(diags))
	for _, d := range diags {
		rows = append(rows, diagnosisRow(d))
	}
	return rows
}
