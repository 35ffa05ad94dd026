// Package inference loads a persisted risk model and scores aggregate rows
// with it. A loaded Service is read-only and safe for concurrent use.
package inference

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/needscore/internal/model"
	"github.com/sells-group/needscore/internal/risk"
)

// ModelUnavailableError reports that no usable model could be loaded.
type ModelUnavailableError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ModelUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("inference: model unavailable at %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("inference: model unavailable at %s: %s", e.Path, e.Reason)
}

func (e *ModelUnavailableError) Unwrap() error {
	return e.Err
}

// IsModelUnavailable returns true if err (or any error in its chain) is a
// ModelUnavailableError.
func IsModelUnavailable(err error) bool {
	var mue *ModelUnavailableError
	return errors.As(err, &mue)
}

// Load reads the artifact at path and checks that its feature schema equals
// expected, in order. Any failure is a *ModelUnavailableError.
func Load(path string, expected []string) (*risk.Model, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &ModelUnavailableError{Path: path, Reason: "artifact not found", Err: err}
	}

	m, err := risk.LoadArtifact(path)
	if err != nil {
		return nil, &ModelUnavailableError{Path: path, Reason: "artifact unreadable", Err: err}
	}

	if len(expected) > 0 && !m.SchemaMatches(expected) {
		return nil, &ModelUnavailableError{
			Path: path,
			Reason: fmt.Sprintf("feature schema mismatch: model has [%s], expected [%s]",
				strings.Join(m.Schema, ", "), strings.Join(expected, ", ")),
		}
	}

	zap.L().Info("inference: model loaded",
		zap.String("path", path),
		zap.String("model_id", m.Metadata.ID),
		zap.Strings("schema", m.Schema),
	)
	return m, nil
}

// Service scores aggregate rows with a loaded model.
type Service struct {
	model *risk.Model
}

// New wraps a loaded model. Returns nil if m is nil.
func New(m *risk.Model) *Service {
	if m == nil {
		return nil
	}
	return &Service{model: m}
}

// Model returns the underlying model.
func (s *Service) Model() *risk.Model {
	return s.model
}

// Score returns a copy of rows with RiskScore set on every matched row. The
// unmatched bucket is left unscored; the input is never modified.
func (s *Service) Score(rows []model.AggregateRow) []model.AggregateRow {
	out := model.CloneRows(rows)
	for i := range out {
		if out[i].IsUnmatched() {
			out[i].RiskScore = nil
			continue
		}
		p := s.model.PredictProba(out[i])
		out[i].RiskScore = &p
	}
	return out
}

// ScoreOrDegrade loads the model at path and scores rows. When the model
// is unavailable it returns an unscored copy of rows together with the
// *ModelUnavailableError so the caller can surface a warning.
func ScoreOrDegrade(path string, expected []string, rows []model.AggregateRow) ([]model.AggregateRow, error) {
	m, err := Load(path, expected)
	if err != nil {
		zap.L().Warn("inference: serving unscored rows", zap.Error(err))
		return model.CloneRows(rows), err
	}
	return New(m).Score(rows), nil
}
