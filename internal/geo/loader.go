package geo

import (
	"archive/zip"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/needscore/internal/fetcher"
	"github.com/sells-group/needscore/internal/model"
)

// DefaultNameProperty is the GeoJSON/DBF attribute holding the region name.
const DefaultNameProperty = "neighborhood"

// LoaderOptions configures region file loading.
type LoaderOptions struct {
	// NameProperty is the GeoJSON feature property or shapefile attribute
	// holding the region name. Falls back to "name" when absent.
	NameProperty string
	// TempDir receives extracted shapefiles from .zip archives.
	TempDir string
}

// regionDoc is one entry of a JSON or YAML region list.
type regionDoc struct {
	Name     string      `json:"name" yaml:"name"`
	Boundary [][]float64 `json:"boundary" yaml:"boundary"`
}

// LoadRegions reads region definitions from path. The format is chosen by
// extension: .json (list of {name, boundary}), .geojson (FeatureCollection),
// .yaml/.yml (list of {name, boundary}), .shp, or .zip holding a shapefile.
// Any malformed entry fails the whole load.
func LoadRegions(ctx context.Context, path string, opts LoaderOptions) ([]model.Region, error) {
	if opts.NameProperty == "" {
		opts.NameProperty = DefaultNameProperty
	}

	log := zap.L().With(zap.String("component", "geo.loader"), zap.String("path", path))

	var (
		regions []model.Region
		err     error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		regions, err = loadJSONRegions(ctx, path)
	case ".geojson":
		regions, err = loadGeoJSONRegions(path, opts.NameProperty)
	case ".yaml", ".yml":
		regions, err = loadYAMLRegions(path)
	case ".shp":
		regions, err = loadShapefileRegions(path, opts.NameProperty)
	case ".zip":
		regions, err = loadZippedShapefile(path, opts)
	default:
		return nil, eris.Errorf("geo: unsupported region file extension %q", ext)
	}
	if err != nil {
		return nil, err
	}

	log.Info("regions loaded", zap.Int("regions", len(regions)))
	return regions, nil
}

// LoadIndex loads regions from path and builds a validated Index.
func LoadIndex(ctx context.Context, path string, opts LoaderOptions) (*Index, error) {
	regions, err := LoadRegions(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	return NewIndex(regions)
}

func loadJSONRegions(ctx context.Context, path string) ([]model.Region, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "geo: open region file")
	}
	defer f.Close() //nolint:errcheck

	docCh, errCh := fetcher.DecodeJSONArray[regionDoc](ctx, f)
	var regions []model.Region
	for doc := range docCh {
		r, err := doc.toRegion(len(regions))
		if err != nil {
			// Drain so the decoder goroutine can exit.
			for range docCh {
			}
			return nil, err
		}
		regions = append(regions, r)
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrap(err, "geo: decode region list")
	}
	return regions, nil
}

func loadYAMLRegions(path string) ([]model.Region, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "geo: read region file")
	}

	var docs []regionDoc
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, eris.Wrap(err, "geo: parse region yaml")
	}

	regions := make([]model.Region, 0, len(docs))
	for i, doc := range docs {
		r, err := doc.toRegion(i)
		if err != nil {
			return nil, err
		}
		regions = append(regions, r)
	}
	return regions, nil
}

func (d regionDoc) toRegion(pos int) (model.Region, error) {
	if strings.TrimSpace(d.Name) == "" {
		return model.Region{}, eris.Errorf("geo: region %d has no name", pos)
	}
	if len(d.Boundary) == 0 {
		return model.Region{}, eris.Errorf("geo: region %q has no boundary", d.Name)
	}
	pts := make([]model.Point, 0, len(d.Boundary))
	for i, pair := range d.Boundary {
		if len(pair) != 2 {
			return model.Region{}, eris.Errorf("geo: region %q vertex %d has %d values, want [lon, lat]", d.Name, i, len(pair))
		}
		pts = append(pts, model.Point{Lon: pair[0], Lat: pair[1]})
	}
	return model.Region{Name: strings.TrimSpace(d.Name), Boundary: pts}, nil
}

func loadGeoJSONRegions(path, nameProp string) ([]model.Region, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "geo: read geojson")
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrap(err, "geo: parse geojson")
	}

	regions := make([]model.Region, 0, len(fc.Features))
	for i, f := range fc.Features {
		name := featureName(f.Properties, nameProp)
		if name == "" {
			return nil, eris.Errorf("geo: feature %d has no %q or \"name\" property", i, nameProp)
		}
		ring, err := outerRing(f.Geometry)
		if err != nil {
			return nil, eris.Wrapf(err, "geo: feature %q", name)
		}
		regions = append(regions, model.Region{Name: name, Boundary: ring})
	}
	return regions, nil
}

func featureName(props map[string]any, nameProp string) string {
	for _, key := range []string{nameProp, "name"} {
		if v, ok := props[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// outerRing extracts the single hole-free ring of a Polygon, or of a
// MultiPolygon wrapping exactly one Polygon.
func outerRing(g geom.T) ([]model.Point, error) {
	var poly *geom.Polygon
	switch t := g.(type) {
	case *geom.Polygon:
		poly = t
	case *geom.MultiPolygon:
		if t.NumPolygons() != 1 {
			return nil, eris.Errorf("multipolygon with %d parts is not supported", t.NumPolygons())
		}
		poly = t.Polygon(0)
	case nil:
		return nil, eris.New("missing geometry")
	default:
		return nil, eris.Errorf("unsupported geometry type %T", g)
	}

	if poly.NumLinearRings() != 1 {
		return nil, eris.Errorf("polygon has %d rings; holes are not supported", poly.NumLinearRings())
	}

	coords := poly.LinearRing(0).Coords()
	ring := make([]model.Point, 0, len(coords))
	for _, c := range coords {
		ring = append(ring, model.Point{Lon: c.X(), Lat: c.Y()})
	}
	return ring, nil
}

func loadShapefileRegions(path, nameProp string) ([]model.Region, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "geo: open shapefile")
	}
	defer func() { _ = reader.Close() }()

	nameIdx := fieldIndex(reader, nameProp)
	if nameIdx < 0 {
		nameIdx = fieldIndex(reader, "name")
	}
	if nameIdx < 0 {
		return nil, eris.Errorf("geo: shapefile has no %q or NAME attribute", nameProp)
	}

	var regions []model.Region
	for reader.Next() {
		n, shape := reader.Shape()
		name := strings.TrimSpace(strings.TrimRight(reader.Attribute(nameIdx), "\x00"))
		if name == "" {
			return nil, eris.Errorf("geo: shapefile record %d has no name", n)
		}

		p, ok := shape.(*shp.Polygon)
		if !ok || p == nil {
			return nil, eris.Errorf("geo: shapefile record %q is %T, want polygon", name, shape)
		}
		if p.NumParts != 1 {
			return nil, eris.Errorf("geo: shapefile record %q has %d parts; holes and multipart shapes are not supported", name, p.NumParts)
		}

		ring := make([]model.Point, 0, len(p.Points))
		for _, pt := range p.Points {
			ring = append(ring, model.Point{Lon: pt.X, Lat: pt.Y})
		}
		regions = append(regions, model.Region{Name: name, Boundary: ring})
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrap(err, "geo: read shapefile")
	}
	return regions, nil
}

func loadZippedShapefile(path string, opts LoaderOptions) ([]model.Region, error) {
	if opts.TempDir != "" {
		if err := os.MkdirAll(opts.TempDir, 0o755); err != nil {
			return nil, eris.Wrap(err, "geo: create temp dir")
		}
	}
	dir, err := os.MkdirTemp(opts.TempDir, "regions-")
	if err != nil {
		return nil, eris.Wrap(err, "geo: create extract dir")
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	if err := extractZIP(path, dir); err != nil {
		return nil, eris.Wrap(err, "geo: extract region archive")
	}
	shpPath, err := findFileByExt(dir, ".shp")
	if err != nil {
		return nil, eris.Wrap(err, "geo: find .shp file")
	}
	return loadShapefileRegions(shpPath, opts.NameProperty)
}

// extractZIP extracts a ZIP archive to the destination directory.
func extractZIP(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return eris.Wrap(err, "open zip")
	}
	defer r.Close() //nolint:errcheck

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(f.Name)
		destPath := filepath.Join(destDir, name)

		rc, err := f.Open()
		if err != nil {
			return eris.Wrapf(err, "open zip entry %s", f.Name)
		}

		outFile, err := os.Create(destPath)
		if err != nil {
			_ = rc.Close()
			return eris.Wrapf(err, "create %s", destPath)
		}

		if _, err := io.Copy(outFile, rc); err != nil {
			_ = outFile.Close()
			_ = rc.Close()
			return eris.Wrapf(err, "extract %s", f.Name)
		}
		_ = outFile.Close()
		_ = rc.Close()
	}

	return nil
}

// findFileByExt finds the first file with the given extension in a directory.
func findFileByExt(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", eris.Wrap(err, "read directory")
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ext) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", eris.Errorf("no %s file found in %s", ext, dir)
}

// dbfFieldNameLen is the longest field name a dBASE header can hold;
// writers truncate longer names.
const dbfFieldNameLen = 10

// fieldIndex returns the index of a named field in the shapefile, or -1 if
// not found. Names are matched case-insensitively, and a stored name that was
// truncated to the dBASE limit matches the full name it was cut from.
func fieldIndex(reader *shp.Reader, name string) int {
	for i, f := range reader.Fields() {
		if dbfNameMatches(f.String(), name) {
			return i
		}
	}
	return -1
}

func dbfNameMatches(stored, name string) bool {
	stored = strings.TrimSpace(strings.TrimRight(stored, "\x00"))
	if strings.EqualFold(stored, name) {
		return true
	}
	return len(stored) >= dbfFieldNameLen && len(name) > len(stored) &&
		strings.EqualFold(stored, name[:len(stored)])
}
