package inference

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/needscore/internal/model"
	"github.com/sells-group/needscore/internal/risk"
)

func sampleRows() []model.AggregateRow {
	mk := func(name string, count int, avg float64) model.AggregateRow {
		return model.AggregateRow{Region: name, ReqCount: count, AvgResTime: &avg}
	}
	return []model.AggregateRow{
		mk("Astoria", 2, 10),
		mk("Bushwick", 4, 12),
		mk("Chelsea", 6, 9),
		mk("Dumbo", 30, 40),
		mk("Flushing", 35, 42),
		mk("Harlem", 40, 38),
		{Region: model.Unmatched, ReqCount: 3},
	}
}

func savedModel(t *testing.T) string {
	t.Helper()
	m, _, err := risk.Train(sampleRows(), risk.Options{Seed: 42, Trees: 20})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "risk_model.json.gz")
	require.NoError(t, risk.Save(path, m))
	return path
}

func TestLoad_MissingArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.json.gz")

	m, err := Load(path, risk.DefaultSchema)
	require.Error(t, err)
	assert.Nil(t, m)
	assert.True(t, IsModelUnavailable(err))

	var mue *ModelUnavailableError
	require.ErrorAs(t, err, &mue)
	assert.Equal(t, path, mue.Path)
	assert.Equal(t, "artifact not found", mue.Reason)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_CorruptArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.joblib")
	require.NoError(t, os.WriteFile(path, []byte{0x80, 0x04, 0x95}, 0o644))

	_, err := Load(path, risk.DefaultSchema)
	require.Error(t, err)
	assert.True(t, IsModelUnavailable(err))
	assert.Contains(t, err.Error(), "artifact unreadable")
}

func TestLoad_SchemaMismatch(t *testing.T) {
	path := savedModel(t)

	_, err := Load(path, []string{"avg_res_time", "req_count"})
	require.Error(t, err)
	assert.True(t, IsModelUnavailable(err))
	assert.Contains(t, err.Error(), "feature schema mismatch")

	m, err := Load(path, risk.DefaultSchema)
	require.NoError(t, err)
	assert.Equal(t, risk.DefaultSchema, m.Schema)
}

func TestService_Score(t *testing.T) {
	m, err := Load(savedModel(t), risk.DefaultSchema)
	require.NoError(t, err)
	svc := New(m)

	rows := sampleRows()
	scored := svc.Score(rows)
	require.Len(t, scored, len(rows))

	for i, r := range scored {
		assert.Equal(t, rows[i].Region, r.Region)
		assert.Nil(t, rows[i].RiskScore, "input must not be mutated")
		if r.IsUnmatched() {
			assert.Nil(t, r.RiskScore)
			continue
		}
		require.NotNil(t, r.RiskScore)
		assert.GreaterOrEqual(t, *r.RiskScore, 0.0)
		assert.LessOrEqual(t, *r.RiskScore, 1.0)
	}

	again := svc.Score(rows)
	assert.Equal(t, scored, again)
}

func TestNew_Nil(t *testing.T) {
	assert.Nil(t, New(nil))
}

func TestScoreOrDegrade(t *testing.T) {
	rows := sampleRows()

	t.Run("degrades without model", func(t *testing.T) {
		out, err := ScoreOrDegrade(filepath.Join(t.TempDir(), "missing.gz"), risk.DefaultSchema, rows)
		require.Error(t, err)
		assert.True(t, IsModelUnavailable(err))
		require.Len(t, out, len(rows))
		for _, r := range out {
			assert.Nil(t, r.RiskScore)
		}
	})

	t.Run("scores with model", func(t *testing.T) {
		out, err := ScoreOrDegrade(savedModel(t), risk.DefaultSchema, rows)
		require.NoError(t, err)
		assert.NotNil(t, out[0].RiskScore)
	})
}
