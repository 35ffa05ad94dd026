package risk

import (
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// Artifact identification written into every saved model.
const (
	ArtifactFormat  = "needscore.risk-model"
	ArtifactVersion = 1
)

type artifact struct {
	Format   string   `json:"format"`
	Version  int      `json:"version"`
	ID       string   `json:"id"`
	Schema   []string `json:"schema"`
	Metadata Metadata `json:"metadata"`
	Forest   *Forest  `json:"forest"`
}

// Save writes m to path as gzip-compressed JSON. The file is written to a
// temporary sibling and renamed into place, so readers never observe a
// partial artifact.
func Save(path string, m *Model) error {
	if m == nil || m.Forest == nil {
		return eris.New("risk: cannot save empty model")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "risk: create model dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".risk-model-*.tmp")
	if err != nil {
		return eris.Wrap(err, "risk: create temp artifact")
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	zw := gzip.NewWriter(tmp)
	if err := json.NewEncoder(zw).Encode(artifact{
		Format:   ArtifactFormat,
		Version:  ArtifactVersion,
		ID:       m.Metadata.ID,
		Schema:   m.Schema,
		Metadata: m.Metadata,
		Forest:   m.Forest,
	}); err != nil {
		return eris.Wrap(err, "risk: encode artifact")
	}
	if err := zw.Close(); err != nil {
		return eris.Wrap(err, "risk: flush artifact")
	}
	if err := tmp.Sync(); err != nil {
		return eris.Wrap(err, "risk: sync artifact")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "risk: close artifact")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return eris.Wrapf(err, "risk: move artifact to %s", path)
	}
	committed = true
	return nil
}

// LoadArtifact reads a model written by Save. It rejects files with an
// unknown format or version and forests whose structure does not match the
// recorded schema.
func LoadArtifact(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "risk: open artifact %s", path)
	}
	defer f.Close() //nolint:errcheck

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, eris.Wrap(err, "risk: artifact is not gzip-compressed")
	}
	defer zr.Close() //nolint:errcheck

	var a artifact
	if err := json.NewDecoder(zr).Decode(&a); err != nil {
		return nil, eris.Wrap(err, "risk: decode artifact")
	}
	if a.Format != ArtifactFormat {
		return nil, eris.Errorf("risk: unexpected artifact format %q", a.Format)
	}
	if a.Version != ArtifactVersion {
		return nil, eris.Errorf("risk: unsupported artifact version %d (want %d)", a.Version, ArtifactVersion)
	}
	if err := ValidateSchema(a.Schema); err != nil {
		return nil, eris.Wrap(err, "risk: artifact schema")
	}
	if err := a.Forest.validate(len(a.Schema)); err != nil {
		return nil, err
	}

	a.Metadata.ID = a.ID
	return &Model{Schema: a.Schema, Metadata: a.Metadata, Forest: a.Forest}, nil
}

// validate checks that every tree is well formed: children point forward
// within the node slice and split features index into the schema.
func (f *Forest) validate(features int) error {
	if f == nil || len(f.Trees) == 0 {
		return eris.New("risk: artifact has no trees")
	}
	if f.Features != features {
		return eris.Errorf("risk: forest expects %d features, schema has %d", f.Features, features)
	}
	for t, tree := range f.Trees {
		if len(tree.Nodes) == 0 {
			return eris.Errorf("risk: tree %d is empty", t)
		}
		for i, n := range tree.Nodes {
			if n.Leaf {
				if n.Prob < 0 || n.Prob > 1 {
					return eris.Errorf("risk: tree %d node %d has probability %v", t, i, n.Prob)
				}
				continue
			}
			if n.Feature < 0 || n.Feature >= features {
				return eris.Errorf("risk: tree %d node %d splits on feature %d", t, i, n.Feature)
			}
			if n.Left <= i || n.Right <= i || n.Left >= len(tree.Nodes) || n.Right >= len(tree.Nodes) {
				return eris.Errorf("risk: tree %d node %d has invalid children", t, i)
			}
		}
	}
	return nil
}
