package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/needscore/internal/db"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS training_runs (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	model_id       TEXT NOT NULL,
	artifact_path  TEXT NOT NULL,
	schema         JSONB NOT NULL,
	seed           BIGINT NOT NULL,
	val_fraction   DOUBLE PRECISION NOT NULL,
	trees          INTEGER NOT NULL,
	train_rows     INTEGER NOT NULL,
	val_rows       INTEGER NOT NULL,
	positives      INTEGER NOT NULL,
	train_accuracy DOUBLE PRECISION NOT NULL,
	val_accuracy   DOUBLE PRECISION NOT NULL,
	record_file    TEXT NOT NULL DEFAULT '',
	region_file    TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS training_regions (
	run_id       TEXT NOT NULL REFERENCES training_runs(id) ON DELETE CASCADE,
	region_name  TEXT NOT NULL,
	req_count    INTEGER NOT NULL,
	avg_res_time DOUBLE PRECISION,
	label        SMALLINT NOT NULL,
	PRIMARY KEY (run_id, region_name)
);

CREATE INDEX IF NOT EXISTS idx_training_runs_created_at ON training_runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_training_runs_model_id ON training_runs(model_id);
`

var trainingRegionColumns = []string{"run_id", "region_name", "req_count", "avg_res_time", "label"}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) RecordTrainingRun(ctx context.Context, run *TrainingRun) error {
	if err := prepareRun(run); err != nil {
		return err
	}

	schemaJSON, err := json.Marshal(run.Schema)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal schema")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO training_runs (id, model_id, artifact_path, schema, seed, val_fraction, trees,
			train_rows, val_rows, positives, train_accuracy, val_accuracy, record_file, region_file, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		run.ID, run.ModelID, run.ArtifactPath, schemaJSON, int64(run.Seed), run.ValFraction, run.Trees,
		run.TrainRows, run.ValRows, run.Positives, run.TrainAccuracy, run.ValAccuracy,
		run.RecordFile, run.RegionFile, run.CreatedAt,
	)
	if err != nil {
		_ = tx.Rollback(ctx)
		return eris.Wrapf(err, "postgres: insert training run %s", run.ID)
	}

	rows := make([][]any, len(run.Regions))
	for i, r := range run.Regions {
		rows[i] = []any{run.ID, r.Region, r.ReqCount, r.AvgResTime, r.Label}
	}
	if _, err := db.CopyFrom(ctx, tx, "training_regions", trainingRegionColumns, rows); err != nil {
		_ = tx.Rollback(ctx)
		return eris.Wrap(err, "postgres: copy training regions")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit training run")
}

func (s *PostgresStore) GetTrainingRun(ctx context.Context, id string) (*TrainingRun, error) {
	run, err := scanRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM training_runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("postgres: training run not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get training run %s", id)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT region_name, req_count, avg_res_time, label FROM training_regions WHERE run_id = $1 ORDER BY region_name`,
		id,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list training regions")
	}
	defer rows.Close()

	for rows.Next() {
		var r TrainingRegion
		if err := rows.Scan(&r.Region, &r.ReqCount, &r.AvgResTime, &r.Label); err != nil {
			return nil, eris.Wrap(err, "postgres: scan training region")
		}
		run.Regions = append(run.Regions, r)
	}
	return run, eris.Wrap(rows.Err(), "postgres: training regions iterate")
}

func (s *PostgresStore) ListTrainingRuns(ctx context.Context, filter RunFilter) ([]TrainingRun, error) {
	query := `SELECT ` + runColumns + ` FROM training_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.ModelID != "" {
		query += fmt.Sprintf(` AND model_id = $%d`, argIdx)
		args = append(args, filter.ModelID)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list training runs")
	}
	defer rows.Close()

	var runs []TrainingRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan training run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list training runs iterate")
}
