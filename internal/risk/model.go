// Package risk trains and persists the binary "needs attention" classifier
// over per-region aggregates.
package risk

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/needscore/internal/model"
)

// MinRows is the smallest aggregate set that can be split for training.
const MinRows = 2

// Options configures Train. Zero values fall back to the defaults below.
type Options struct {
	Schema      []string
	Seed        uint64
	ValFraction float64 // default 0.3
	Trees       int     // default 100
	MaxDepth    int     // 0 = unlimited
	MinLeaf     int     // default 1
}

func (o Options) withDefaults() Options {
	if len(o.Schema) == 0 {
		o.Schema = DefaultSchema
	}
	if o.ValFraction <= 0 || o.ValFraction >= 1 {
		o.ValFraction = 0.3
	}
	if o.Trees <= 0 {
		o.Trees = 100
	}
	if o.MinLeaf <= 0 {
		o.MinLeaf = 1
	}
	return o
}

// Metadata describes how a model was trained.
type Metadata struct {
	ID            string    `json:"id"`
	Seed          uint64    `json:"seed"`
	ValFraction   float64   `json:"val_fraction"`
	Trees         int       `json:"trees"`
	MaxDepth      int       `json:"max_depth,omitempty"`
	MinLeaf       int       `json:"min_leaf"`
	TrainRows     int       `json:"train_rows"`
	ValRows       int       `json:"val_rows"`
	Positives     int       `json:"positives"`
	TrainAccuracy float64   `json:"train_accuracy"`
	ValAccuracy   float64   `json:"val_accuracy"`
	TrainedAt     time.Time `json:"trained_at"`
}

// Model is a fitted forest plus the ordered feature schema it expects.
type Model struct {
	Schema   []string `json:"schema"`
	Metadata Metadata `json:"metadata"`
	Forest   *Forest  `json:"forest"`
}

// Report summarizes a training run.
type Report struct {
	TrainRows     int     `json:"train_rows"`
	ValRows       int     `json:"val_rows"`
	Positives     int     `json:"positives"`
	TrainAccuracy float64 `json:"train_accuracy"`
	ValAccuracy   float64 `json:"val_accuracy"`
}

// PredictProba returns the positive-class probability for a row, building
// its feature vector in the model's schema order.
func (m *Model) PredictProba(row model.AggregateRow) float64 {
	x := make([]float64, len(m.Schema))
	for i, name := range m.Schema {
		x[i], _ = featureValue(row, name)
	}
	return m.Forest.PredictProba(x)
}

// SchemaMatches reports whether expected lists the model's features in the
// same order.
func (m *Model) SchemaMatches(expected []string) bool {
	if len(expected) != len(m.Schema) {
		return false
	}
	for i := range expected {
		if expected[i] != m.Schema[i] {
			return false
		}
	}
	return true
}

// TrainingRows returns the rows a model is trained on: every declared
// region, with the unmatched bucket left out.
func TrainingRows(rows []model.AggregateRow) []model.AggregateRow {
	out := make([]model.AggregateRow, 0, len(rows))
	for _, r := range rows {
		if !r.IsUnmatched() {
			out = append(out, r)
		}
	}
	return out
}

// Train labels rows by the req_count median, shuffles them with a seeded
// generator, holds out a validation partition and fits a random forest on
// the remainder. The unmatched row is excluded. Fewer than MinRows
// training rows yields an *InsufficientDataError.
func Train(rows []model.AggregateRow, opts Options) (*Model, Report, error) {
	opts = opts.withDefaults()
	if err := ValidateSchema(opts.Schema); err != nil {
		return nil, Report{}, err
	}

	rows = TrainingRows(rows)
	if len(rows) < MinRows {
		return nil, Report{}, &InsufficientDataError{Rows: len(rows), Min: MinRows}
	}

	x, err := Features(rows, opts.Schema)
	if err != nil {
		return nil, Report{}, eris.Wrap(err, "risk: build features")
	}
	y := Labels(rows)

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	trainIdx, valIdx := split(len(rows), opts.ValFraction, rng)

	trainX, trainY := subset(x, y, trainIdx)
	valX, valY := subset(x, y, valIdx)

	forest := fitForest(trainX, trainY, forestParams{
		trees:    opts.Trees,
		maxDepth: opts.MaxDepth,
		minLeaf:  opts.MinLeaf,
	}, rng)

	positives := 0
	for _, v := range y {
		positives += v
	}

	report := Report{
		TrainRows:     len(trainIdx),
		ValRows:       len(valIdx),
		Positives:     positives,
		TrainAccuracy: accuracy(forest, trainX, trainY),
		ValAccuracy:   accuracy(forest, valX, valY),
	}

	m := &Model{
		Schema: append([]string(nil), opts.Schema...),
		Forest: forest,
		Metadata: Metadata{
			ID:            uuid.New().String(),
			Seed:          opts.Seed,
			ValFraction:   opts.ValFraction,
			Trees:         opts.Trees,
			MaxDepth:      opts.MaxDepth,
			MinLeaf:       opts.MinLeaf,
			TrainRows:     report.TrainRows,
			ValRows:       report.ValRows,
			Positives:     report.Positives,
			TrainAccuracy: report.TrainAccuracy,
			ValAccuracy:   report.ValAccuracy,
			TrainedAt:     time.Now().UTC(),
		},
	}

	zap.L().Info("risk: model trained",
		zap.String("model_id", m.Metadata.ID),
		zap.Int("train_rows", report.TrainRows),
		zap.Int("val_rows", report.ValRows),
		zap.Float64("train_accuracy", report.TrainAccuracy),
		zap.Float64("val_accuracy", report.ValAccuracy),
	)
	return m, report, nil
}

// split shuffles 0..n-1 and holds out ceil(n*frac) indices for validation,
// keeping at least one index on each side.
func split(n int, frac float64, rng *rand.Rand) (train, val []int) {
	perm := rng.Perm(n)
	nVal := int(math.Ceil(float64(n) * frac))
	nVal = min(max(nVal, 1), n-1)
	return perm[nVal:], perm[:nVal]
}

func subset(x [][]float64, y []int, idx []int) ([][]float64, []int) {
	sx := make([][]float64, len(idx))
	sy := make([]int, len(idx))
	for i, j := range idx {
		sx[i] = x[j]
		sy[i] = y[j]
	}
	return sx, sy
}

func accuracy(f *Forest, x [][]float64, y []int) float64 {
	if len(x) == 0 {
		return 0
	}
	correct := 0
	for i := range x {
		if f.Predict(x[i]) == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(x))
}
