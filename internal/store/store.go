// Package store persists the training-run ledger: one row per trained
// model plus the per-region labels it was fitted on.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/needscore/internal/model"
	"github.com/sells-group/needscore/internal/risk"
)

// TrainingRegion is one labelled row of a training set.
type TrainingRegion struct {
	Region     string   `json:"region_name"`
	ReqCount   int      `json:"req_count"`
	AvgResTime *float64 `json:"avg_res_time,omitempty"`
	Label      int      `json:"label"`
}

// TrainingRun describes a completed training run.
type TrainingRun struct {
	ID            string           `json:"id"`
	ModelID       string           `json:"model_id"`
	ArtifactPath  string           `json:"artifact_path"`
	Schema        []string         `json:"schema"`
	Seed          uint64           `json:"seed"`
	ValFraction   float64          `json:"val_fraction"`
	Trees         int              `json:"trees"`
	TrainRows     int              `json:"train_rows"`
	ValRows       int              `json:"val_rows"`
	Positives     int              `json:"positives"`
	TrainAccuracy float64          `json:"train_accuracy"`
	ValAccuracy   float64          `json:"val_accuracy"`
	RecordFile    string           `json:"record_file,omitempty"`
	RegionFile    string           `json:"region_file,omitempty"`
	Regions       []TrainingRegion `json:"regions,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// RunFilter specifies criteria for listing training runs.
type RunFilter struct {
	ModelID string `json:"model_id,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for the training ledger.
type Store interface {
	RecordTrainingRun(ctx context.Context, run *TrainingRun) error
	GetTrainingRun(ctx context.Context, id string) (*TrainingRun, error)
	ListTrainingRuns(ctx context.Context, filter RunFilter) ([]TrainingRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the ledger for driver. An empty driver yields a nil
// Store and no error, meaning the ledger is disabled.
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Store, error) {
	switch strings.ToLower(driver) {
	case "":
		return nil, nil
	case DriverSQLite:
		s, err := NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres, "postgresql":
		s, err := NewPostgres(ctx, dsn, poolCfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("store: unsupported driver %q", driver)
	}
}

// NewTrainingRun builds a ledger entry from a trained model and the rows
// it was fitted on.
func NewTrainingRun(m *risk.Model, rows []model.AggregateRow, artifactPath string) *TrainingRun {
	rows = risk.TrainingRows(rows)
	labels := risk.Labels(rows)

	regions := make([]TrainingRegion, len(rows))
	for i, r := range rows {
		regions[i] = TrainingRegion{
			Region:     r.Region,
			ReqCount:   r.ReqCount,
			AvgResTime: r.AvgResTime,
			Label:      labels[i],
		}
	}

	md := m.Metadata
	return &TrainingRun{
		ModelID:       md.ID,
		ArtifactPath:  artifactPath,
		Schema:        append([]string(nil), m.Schema...),
		Seed:          md.Seed,
		ValFraction:   md.ValFraction,
		Trees:         md.Trees,
		TrainRows:     md.TrainRows,
		ValRows:       md.ValRows,
		Positives:     md.Positives,
		TrainAccuracy: md.TrainAccuracy,
		ValAccuracy:   md.ValAccuracy,
		Regions:       regions,
		CreatedAt:     md.TrainedAt,
	}
}

func listLimit(filter RunFilter) int {
	if filter.Limit <= 0 {
		return 100
	}
	return filter.Limit
}
