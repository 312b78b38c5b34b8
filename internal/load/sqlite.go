package load

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/harborview-health/patient-etl/internal/dq"
	"github.com/harborview-health/patient-etl/internal/model"
	"github.com/harborview-health/patient-etl/internal/transform"
)

// SQLite is the embedded-store loader for laptop runs and CI. Same
// contract as Postgres, plain INSERTs instead of COPY.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) a database at the given path and
// configures WAL mode.
func OpenSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "load: sqlite open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "load: sqlite exec %s", pragma)
		}
	}
	return &SQLite{db: db}, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS patients (
	patient_id  TEXT PRIMARY KEY,
	given_name  TEXT,
	family_name TEXT,
	sex         TEXT NOT NULL DEFAULT 'U',
	dob         DATETIME,
	height_cm   REAL,
	weight_kg   REAL
);

CREATE TABLE IF NOT EXISTS encounters (
	encounter_id   TEXT PRIMARY KEY,
	patient_id     TEXT NOT NULL REFERENCES patients(patient_id),
	admit_dt       DATETIME,
	discharge_dt   DATETIME,
	encounter_type TEXT,
	source_file    TEXT
);
CREATE INDEX IF NOT EXISTS idx_encounters_patient ON encounters(patient_id);

CREATE TABLE IF NOT EXISTS diagnoses (
	diagnosis_id TEXT PRIMARY KEY,
	encounter_id TEXT NOT NULL REFERENCES encounters(encounter_id),
	code         TEXT NOT NULL,
	system       TEXT NOT NULL DEFAULT 'ICD-10',
	is_primary   INTEGER NOT NULL DEFAULT 0,
	recorded_at  DATETIME
);
CREATE INDEX IF NOT EXISTS idx_diagnoses_encounter ON diagnoses(encounter_id);

CREATE TABLE IF NOT EXISTS data_quality_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	ts          DATETIME NOT NULL,
	file_name   TEXT NOT NULL,
	row_id      TEXT NOT NULL,
	column_name TEXT,
	value_seen  TEXT,
	reason      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dq_log_run ON data_quality_log(run_id);

CREATE TABLE IF NOT EXISTS etl_runs (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL UNIQUE,
	mode         TEXT NOT NULL,
	status       TEXT NOT NULL,
	started_at   DATETIME NOT NULL,
	completed_at DATETIME,
	patients     INTEGER NOT NULL DEFAULT 0,
	encounters   INTEGER NOT NULL DEFAULT 0,
	diagnoses    INTEGER NOT NULL DEFAULT 0,
	dq_entries   INTEGER NOT NULL DEFAULT 0,
	error        TEXT
);
`

func (s *SQLite) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return eris.Wrap(err, "load: sqlite migrate")
}

func (s *SQLite) ExistingKeys(ctx context.Context) (transform.ExistingKeys, error) {
	patients, err := s.keySet(ctx, "patient_id", "patients")
	if err != nil {
		return transform.ExistingKeys{}, err
	}
	encounters, err := s.keySet(ctx, "encounter_id", "encounters")
	if err != nil {
		return transform.ExistingKeys{}, err
	}
	return transform.ExistingKeys{Patients: patients, Encounters: encounters}, nil
}

func (s *SQLite) keySet(ctx context.Context, column, table string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s", column, table))
	if err != nil {
		return nil, eris.Wrapf(err, "load: sqlite query %s keys", table)
	}
	defer rows.Close() //nolint:errcheck

	keys := make(map[string]struct{})
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, eris.Wrapf(err, "load: sqlite scan %s key", table)
		}
		keys[k] = struct{}{}
	}
	return keys, rows.Err()
}

func (s *SQLite) StartRun(ctx context.Context, runID uuid.UUID, mode Mode) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO etl_runs (run_id, mode, status, started_at) VALUES (?, ?, 'running', ?)`,
		runID.String(), string(mode), time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "load: sqlite start run %s", runID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "load: sqlite run id")
	}
	return id, nil
}

func (s *SQLite) CompleteRun(ctx context.Context, id int64, res Result) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE etl_runs
		 SET status = 'complete', completed_at = ?,
		     patients = ?, encounters = ?, diagnoses = ?, dq_entries = ?
		 WHERE id = ?`,
		time.Now().UTC(), res.Patients, res.Encounters, res.Diagnoses, res.DQEntries, id,
	)
	if err != nil {
		return eris.Wrapf(err, "load: sqlite complete run %d", id)
	}
	return nil
}

func (s *SQLite) FailRun(ctx context.Context, id int64, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE etl_runs SET status = 'failed', completed_at = ?, error = ? WHERE id = ?`,
		time.Now().UTC(), errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "load: sqlite fail run %d", id)
	}
	return nil
}

func (s *SQLite) Load(ctx context.Context, runID uuid.UUID, mode Mode, batch *model.Batch, log *dq.Log) (Result, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, eris.Wrap(err, "load: sqlite begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if mode == ModeTruncate {
		for _, table := range []string{"diagnoses", "encounters", "patients"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return Result{}, eris.Wrapf(err, "load: sqlite clear %s", table)
			}
		}
	}

	var res Result
	if res.Patients, err = s.insertBatch(ctx, tx, mode, log, "patients", "patient_id", patientColumns,
		patientRows(batch.Patients)); err != nil {
		return Result{}, err
	}
	if res.Encounters, err = s.insertBatch(ctx, tx, mode, log, "encounters", "encounter_id", encounterColumns,
		encounterRows(batch.Encounters)); err != nil {
		return Result{}, err
	}
	if res.Diagnoses, err = s.insertBatch(ctx, tx, mode, log, "diagnoses", "diagnosis_id", diagnosisColumns,
		diagnosisRows(batch.Diagnoses)); err != nil {
		return Result{}, err
	}

	for _, e := range log.Entries() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO data_quality_log (run_id, ts, file_name, row_id, column_name, value_seen, reason)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID.String(), e.TS, e.FileName, e.RowID, e.ColumnName, e.ValueSeen, e.Reason,
		); err != nil {
			return Result{}, eris.Wrap(err, "load: sqlite flush data quality log")
		}
	}
	res.DQEntries = int64(log.Len())

	if err := tx.Commit(); err != nil {
		return Result{}, eris.Wrap(err, "load: sqlite commit")
	}

	zap.L().Info("load complete",
		zap.String("mode", string(mode)),
		zap.Int64("patients", res.Patients),
		zap.Int64("encounters", res.Encounters),
		zap.Int64("diagnoses", res.Diagnoses),
		zap.Int64("dq_entries", res.DQEntries),
	)
	return res, nil
}

// insertBatch writes one entity table. Append mode detects collisions via
// INSERT OR IGNORE and logs each skipped key; upsert updates in place so
// child rows keep their foreign keys.
func (s *SQLite) insertBatch(ctx context.Context, tx *sql.Tx, mode Mode, log *dq.Log, table, pkCol string, columns []string, rows [][]any) (int64, error) {
	verb := "INSERT"
	if mode == ModeAppend {
		verb = "INSERT OR IGNORE"
	}

	placeholders := ""
	for i := range columns {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
	}
	colList := ""
	for i, c := range columns {
		if i > 0 {
			colList += ", "
		}
		colList += c
	}
	query := fmt.Sprintf("%s INTO %s (%s) VALUES (%s)", verb, table, colList, placeholders)
	if mode == ModeUpsert {
		sets := ""
		for _, c := range columns {
			if c == pkCol {
				continue
			}
			if sets != "" {
				sets += ", "
			}
			sets += fmt.Sprintf("%s = excluded.%s", c, c)
		}
		query += fmt.Sprintf(" ON CONFLICT(%s) DO UPDATE SET %s", pkCol, sets)
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, eris.Wrapf(err, "load: sqlite prepare %s insert", table)
	}
	defer stmt.Close() //nolint:errcheck

	var written int64
	for _, row := range rows {
		res, err := stmt.ExecContext(ctx, row...)
		if err != nil {
			return 0, eris.Wrapf(err, "load: sqlite insert into %s", table)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrapf(err, "load: sqlite rows affected for %s", table)
		}
		if n == 0 && mode == ModeAppend {
			pk := fmt.Sprint(row[0])
			log.Record(table, pk, pkCol, pk, "primary key already present; row skipped in append mode")
			continue
		}
		written += n
	}
	return written, nil
}

func (s *SQLite) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, mode, status, started_at, completed_at,
		        patients, encounters, diagnoses, dq_entries, error
		 FROM etl_runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "load: sqlite list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		var r Run
		var errStr *string
		if err := rows.Scan(&r.ID, &r.RunID, &r.Mode, &r.Status, &r.StartedAt, &r.CompletedAt,
			&r.Patients, &r.Encounters, &r.Diagnoses, &r.DQEntries, &errStr); err != nil {
			return nil, eris.Wrap(err, "load: sqlite scan run row")
		}
		if errStr != nil {
			r.Error = *errStr
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *SQLite) ListDQ(ctx context.Context, runID string, limit int) ([]DQRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, ts, file_name, row_id, column_name, value_seen, reason
		 FROM data_quality_log WHERE run_id = ? ORDER BY id LIMIT ?`,
		runID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "load: sqlite list dq entries for %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var recs []DQRecord
	for rows.Next() {
		var rec DQRecord
		var col, seen *string
		if err := rows.Scan(&rec.RunID, &rec.TS, &rec.FileName, &rec.RowID, &col, &seen, &rec.Reason); err != nil {
			return nil, eris.Wrap(err, "load: sqlite scan dq row")
		}
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

func (s *SQLite) Close() {
	_ = s.db.Close()
}
