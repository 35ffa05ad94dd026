package geo

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/needscore/internal/model"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// wantSquare is the unit square every loader test expects.
var wantSquare = []model.Point{{Lon: 0, Lat: 0}, {Lon: 10, Lat: 0}, {Lon: 10, Lat: 10}, {Lon: 0, Lat: 10}}

func TestLoadRegions_JSON(t *testing.T) {
	path := writeFile(t, "regions.json", `[
		{"name": "R1", "boundary": [[0,0],[10,0],[10,10],[0,10]]},
		{"name": "R2", "boundary": [[10,0],[20,0],[20,10],[10,10]]}
	]`)

	regions, err := LoadRegions(context.Background(), path, LoaderOptions{})
	require.NoError(t, err)
	require.Len(t, regions, 2)
	assert.Equal(t, "R1", regions[0].Name)
	assert.Equal(t, wantSquare, regions[0].Boundary)
	assert.Equal(t, "R2", regions[1].Name)
}

func TestLoadRegions_JSONMalformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"bad pair", `[{"name":"R1","boundary":[[0,0,0],[1,0],[1,1]]}]`, "want [lon, lat]"},
		{"no name", `[{"boundary":[[0,0],[1,0],[1,1]]}]`, "has no name"},
		{"no boundary", `[{"name":"R1"}]`, "has no boundary"},
		{"not a list", `{"name":"R1"}`, "decode region list"},
		{"truncated", `[{"name":"R1","boundary":[[0,0],`, "decode region list"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "regions.json", tt.content)
			_, err := LoadRegions(context.Background(), path, LoaderOptions{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadRegions_YAML(t *testing.T) {
	path := writeFile(t, "regions.yaml", `
- name: R1
  boundary:
    - [0, 0]
    - [10, 0]
    - [10, 10]
    - [0, 10]
`)

	regions, err := LoadRegions(context.Background(), path, LoaderOptions{})
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, "R1", regions[0].Name)
	assert.Equal(t, wantSquare, regions[0].Boundary)
}

func TestLoadRegions_GeoJSON(t *testing.T) {
	path := writeFile(t, "neighborhoods.geojson", `{
		"type": "FeatureCollection",
		"features": [
			{
				"type": "Feature",
				"properties": {"neighborhood": "Downtown"},
				"geometry": {"type": "Polygon", "coordinates": [[[0,0],[10,0],[10,10],[0,10],[0,0]]]}
			},
			{
				"type": "Feature",
				"properties": {"name": "Fallback"},
				"geometry": {"type": "MultiPolygon", "coordinates": [[[[20,0],[30,0],[30,10],[20,0]]]]}
			}
		]
	}`)

	regions, err := LoadRegions(context.Background(), path, LoaderOptions{})
	require.NoError(t, err)
	require.Len(t, regions, 2)
	assert.Equal(t, "Downtown", regions[0].Name)
	assert.Equal(t, wantSquare, regions[0].OpenRing())
	assert.Equal(t, "Fallback", regions[1].Name)

	idx, err := NewIndex(regions)
	require.NoError(t, err)
	name, ok := idx.Query(5, 5)
	require.True(t, ok)
	assert.Equal(t, "Downtown", name)
}

func TestLoadRegions_GeoJSONRejectsHoles(t *testing.T) {
	path := writeFile(t, "holes.geojson", `{
		"type": "FeatureCollection",
		"features": [{
			"type": "Feature",
			"properties": {"neighborhood": "Donut"},
			"geometry": {"type": "Polygon", "coordinates": [
				[[0,0],[10,0],[10,10],[0,10],[0,0]],
				[[4,4],[6,4],[6,6],[4,6],[4,4]]
			]}
		}]
	}`)

	_, err := LoadRegions(context.Background(), path, LoaderOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "holes are not supported")
}

func TestLoadRegions_GeoJSONMissingName(t *testing.T) {
	path := writeFile(t, "anon.geojson", `{
		"type": "FeatureCollection",
		"features": [{
			"type": "Feature",
			"properties": {},
			"geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,0]]]}
		}]
	}`)

	_, err := LoadRegions(context.Background(), path, LoaderOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feature 0")
}

func writeShapefile(t *testing.T, dir string) string {
	t.Helper()
	return writeShapefileField(t, dir, "NEIGHBORHOOD")
}

// writeShapefileField writes a one-square shapefile whose name attribute is
// stored under field.
func writeShapefileField(t *testing.T, dir, field string) string {
	t.Helper()
	base := filepath.Join(dir, "regions")

	w, err := shp.Create(base+".shp", shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{shp.StringField(field, 50)}))

	ring := []shp.Point{{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 0}, {X: 0, Y: 0}}
	poly := shp.Polygon(*shp.NewPolyLine([][]shp.Point{ring}))
	n := w.Write(&poly)
	require.NoError(t, w.WriteAttribute(int(n), 0, "Midtown"))
	w.Close()

	// go-shp's writer names the attribute file "<base>dbf" while its reader
	// opens "<base>.dbf".
	if _, err := os.Stat(base + "dbf"); err == nil {
		require.NoError(t, os.Rename(base+"dbf", base+".dbf"))
	}
	require.FileExists(t, base+".dbf")

	return base + ".shp"
}

func TestLoadRegions_Shapefile(t *testing.T) {
	path := writeShapefile(t, t.TempDir())

	regions, err := LoadRegions(context.Background(), path, LoaderOptions{})
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, "Midtown", regions[0].Name)
	assert.Len(t, regions[0].OpenRing(), 4)

	idx, err := NewIndex(regions)
	require.NoError(t, err)
	name, ok := idx.Query(5, 5)
	require.True(t, ok)
	assert.Equal(t, "Midtown", name)
}

func TestLoadRegions_ZippedShapefile(t *testing.T) {
	srcDir := t.TempDir()
	shpPath := writeShapefile(t, srcDir)
	base := shpPath[:len(shpPath)-len(".shp")]

	zipPath := filepath.Join(t.TempDir(), "regions.zip")
	zf, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(zf)
	for _, ext := range []string{".shp", ".shx", ".dbf"} {
		src, err := os.Open(base + ext)
		require.NoError(t, err)
		dst, err := zw.Create("nested/regions" + ext)
		require.NoError(t, err)
		_, err = io.Copy(dst, src)
		require.NoError(t, err)
		_ = src.Close()
	}
	require.NoError(t, zw.Close())
	require.NoError(t, zf.Close())

	tempDir := filepath.Join(t.TempDir(), "not", "yet", "created")
	regions, err := LoadRegions(context.Background(), zipPath, LoaderOptions{TempDir: tempDir})
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, "Midtown", regions[0].Name)

	assert.DirExists(t, tempDir)
	leftovers, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, leftovers, "extract dir is removed after loading")
}

func TestLoadRegions_ShapefileTruncatedFieldName(t *testing.T) {
	tests := []struct {
		name  string
		field string
	}{
		{name: "dbase ten characters", field: "NEIGHBORHO"},
		{name: "go-shp eleven characters", field: "NEIGHBORHOOD"},
		{name: "lower case", field: "neighborhood"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeShapefileField(t, t.TempDir(), tt.field)

			regions, err := LoadRegions(context.Background(), path, LoaderOptions{})
			require.NoError(t, err)
			require.Len(t, regions, 1)
			assert.Equal(t, "Midtown", regions[0].Name)
		})
	}
}

func TestLoadRegions_ShapefileMissingNameField(t *testing.T) {
	path := writeShapefileField(t, t.TempDir(), "BOROUGH")

	_, err := LoadRegions(context.Background(), path, LoaderOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NAME attribute")
}

func TestDBFNameMatches(t *testing.T) {
	assert.True(t, dbfNameMatches("NEIGHBORHO", "neighborhood"))
	assert.True(t, dbfNameMatches("NAME\x00\x00", "name"))
	assert.False(t, dbfNameMatches("NEIGH", "neighborhood"), "short names must match exactly")
	assert.False(t, dbfNameMatches("NEIGHBORHX", "neighborhood"))
}

func TestLoadRegions_UnsupportedExtension(t *testing.T) {
	path := writeFile(t, "regions.kml", "<kml/>")
	_, err := LoadRegions(context.Background(), path, LoaderOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported region file extension")
}

func TestLoadRegions_MissingFile(t *testing.T) {
	_, err := LoadRegions(context.Background(), filepath.Join(t.TempDir(), "nope.json"), LoaderOptions{})
	require.Error(t, err)
}

func TestLoadIndex_InvalidGeometry(t *testing.T) {
	path := writeFile(t, "regions.json", `[{"name":"line","boundary":[[0,0],[1,1]]}]`)
	_, err := LoadIndex(context.Background(), path, LoaderOptions{})
	require.Error(t, err)
	assert.True(t, IsInvalidGeometry(err))
}
