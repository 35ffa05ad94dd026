package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS training_runs (
	id             TEXT PRIMARY KEY,
	model_id       TEXT NOT NULL,
	artifact_path  TEXT NOT NULL,
	schema         TEXT NOT NULL,
	seed           INTEGER NOT NULL,
	val_fraction   REAL NOT NULL,
	trees          INTEGER NOT NULL,
	train_rows     INTEGER NOT NULL,
	val_rows       INTEGER NOT NULL,
	positives      INTEGER NOT NULL,
	train_accuracy REAL NOT NULL,
	val_accuracy   REAL NOT NULL,
	record_file    TEXT NOT NULL DEFAULT '',
	region_file    TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS training_regions (
	run_id       TEXT NOT NULL REFERENCES training_runs(id),
	region_name  TEXT NOT NULL,
	req_count    INTEGER NOT NULL,
	avg_res_time REAL,
	label        INTEGER NOT NULL,
	PRIMARY KEY (run_id, region_name)
);

CREATE INDEX IF NOT EXISTS idx_training_runs_created_at ON training_runs(created_at);
CREATE INDEX IF NOT EXISTS idx_training_runs_model_id ON training_runs(model_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) RecordTrainingRun(ctx context.Context, run *TrainingRun) error {
	if err := prepareRun(run); err != nil {
		return err
	}

	schemaJSON, err := json.Marshal(run.Schema)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal schema")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO training_runs (id, model_id, artifact_path, schema, seed, val_fraction, trees,
			train_rows, val_rows, positives, train_accuracy, val_accuracy, record_file, region_file, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ModelID, run.ArtifactPath, string(schemaJSON), int64(run.Seed), run.ValFraction, run.Trees,
		run.TrainRows, run.ValRows, run.Positives, run.TrainAccuracy, run.ValAccuracy,
		run.RecordFile, run.RegionFile, run.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert training run %s", run.ID)
	}

	for _, r := range run.Regions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO training_regions (run_id, region_name, req_count, avg_res_time, label) VALUES (?, ?, ?, ?, ?)`,
			run.ID, r.Region, r.ReqCount, r.AvgResTime, r.Label,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert training region %s", r.Region)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit training run")
}

func (s *SQLiteStore) GetTrainingRun(ctx context.Context, id string) (*TrainingRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM training_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Errorf("sqlite: training run not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get training run")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT region_name, req_count, avg_res_time, label FROM training_regions WHERE run_id = ? ORDER BY region_name`,
		id,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list training regions")
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var r TrainingRegion
		var avg sql.NullFloat64
		if err := rows.Scan(&r.Region, &r.ReqCount, &avg, &r.Label); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan training region")
		}
		if avg.Valid {
			v := avg.Float64
			r.AvgResTime = &v
		}
		run.Regions = append(run.Regions, r)
	}
	return run, eris.Wrap(rows.Err(), "sqlite: training regions iterate")
}

func (s *SQLiteStore) ListTrainingRuns(ctx context.Context, filter RunFilter) ([]TrainingRun, error) {
	query := `SELECT ` + runColumns + ` FROM training_runs WHERE 1=1`
	var args []any

	if filter.ModelID != "" {
		query += ` AND model_id = ?`
		args = append(args, filter.ModelID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list training runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []TrainingRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan training run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list training runs iterate")
}

// helpers

const runColumns = `id, model_id, artifact_path, schema, seed, val_fraction, trees,
	train_rows, val_rows, positives, train_accuracy, val_accuracy, record_file, region_file, created_at`

type scannable interface {
	Scan(dest ...any) error
}

// scanRun reads the runColumns projection. sql.ErrNoRows is returned
// unwrapped.
func scanRun(row scannable) (*TrainingRun, error) {
	var r TrainingRun
	var schemaJSON []byte
	var seed int64

	if err := row.Scan(&r.ID, &r.ModelID, &r.ArtifactPath, &schemaJSON, &seed, &r.ValFraction, &r.Trees,
		&r.TrainRows, &r.ValRows, &r.Positives, &r.TrainAccuracy, &r.ValAccuracy,
		&r.RecordFile, &r.RegionFile, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Seed = uint64(seed)
	if err := json.Unmarshal(schemaJSON, &r.Schema); err != nil {
		return nil, eris.Wrap(err, "unmarshal schema")
	}
	return &r, nil
}

// MaxSeed is the largest seed the ledger can hold; both backends store
// seeds in a signed 64-bit column.
const MaxSeed uint64 = math.MaxInt64

// prepareRun rejects seeds the ledger cannot hold and fills the ID and
// timestamp of a run that has none.
func prepareRun(run *TrainingRun) error {
	if run.Seed > MaxSeed {
		return eris.Errorf("store: seed %d exceeds the ledger maximum %d", run.Seed, MaxSeed)
	}
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	run.CreatedAt = run.CreatedAt.UTC()
	return nil
}
