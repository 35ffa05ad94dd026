// Package geo provides the region index, point-in-polygon containment, the
// record-to-region spatial join, and region file loaders.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/lineintersector"
	"github.com/twpayne/go-geom/xy/location"
	"github.com/twpayne/go-geom/xy/orientation"

	"github.com/sells-group/needscore/internal/model"
)

// InvalidGeometryError reports a region whose boundary cannot be indexed.
type InvalidGeometryError struct {
	Region string
	Reason string
}

func (e *InvalidGeometryError) Error() string {
	return fmt.Sprintf("geo: invalid geometry for region %q: %s", e.Region, e.Reason)
}

// IsInvalidGeometry returns true if err (or any error in its chain) is an
// InvalidGeometryError.
func IsInvalidGeometry(err error) bool {
	var ge *InvalidGeometryError
	return errors.As(err, &ge)
}

// Locator answers point-containment queries.
type Locator interface {
	Query(lat, lon float64) (string, bool)
}

type indexedRegion struct {
	name    string
	bounds  bbox
	polygon *geom.Polygon
}

// bbox is a lon/lat bounding box.
type bbox struct {
	minLon, minLat, maxLon, maxLat float64
}

func (b bbox) contains(lon, lat float64) bool {
	return lon >= b.minLon && lon <= b.maxLon && lat >= b.minLat && lat <= b.maxLat
}

// Index holds validated regions in declaration order. It is read-only
// after construction and safe for concurrent queries.
type Index struct {
	regions []indexedRegion
}

// NewIndex validates every region and builds the index. Boundaries must
// have at least three distinct finite vertices, enclose a non-zero area,
// and form a simple ring. Region names must be non-empty and unique.
func NewIndex(regions []model.Region) (*Index, error) {
	idx := &Index{regions: make([]indexedRegion, 0, len(regions))}
	seen := make(map[string]bool, len(regions))

	for _, r := range regions {
		if r.Name == "" {
			return nil, &InvalidGeometryError{Region: r.Name, Reason: "empty region name"}
		}
		if r.Name == model.Unmatched {
			return nil, &InvalidGeometryError{Region: r.Name, Reason: "name is reserved for the unmatched bucket"}
		}
		if seen[r.Name] {
			return nil, &InvalidGeometryError{Region: r.Name, Reason: "duplicate region name"}
		}
		seen[r.Name] = true

		poly, err := buildPolygon(r.Name, r.OpenRing())
		if err != nil {
			return nil, err
		}
		b := poly.Bounds()

		idx.regions = append(idx.regions, indexedRegion{
			name: r.Name,
			bounds: bbox{
				minLon: b.Min(0), minLat: b.Min(1),
				maxLon: b.Max(0), maxLat: b.Max(1),
			},
			polygon: poly,
		})
	}

	return idx, nil
}

// Query returns the name of the first region, in declaration order, that
// contains the point. A point on a boundary belongs to every region
// sharing that boundary, so the earliest declared one wins.
func (x *Index) Query(lat, lon float64) (string, bool) {
	p := geom.Coord{lon, lat}
	for i := range x.regions {
		r := &x.regions[i]
		if !r.bounds.contains(lon, lat) {
			continue
		}
		if containsCoord(r.polygon, p) {
			return r.name, true
		}
	}
	return "", false
}

// containsCoord reports whether p is in the interior or on the boundary of
// the polygon's outer ring.
func containsCoord(poly *geom.Polygon, p geom.Coord) bool {
	return xy.LocatePointInRing(geom.XY, p, poly.LinearRing(0).FlatCoords()) != location.Exterior
}

// Regions returns the region names in declaration order.
func (x *Index) Regions() []string {
	names := make([]string, len(x.regions))
	for i, r := range x.regions {
		names[i] = r.name
	}
	return names
}

// Len returns the number of indexed regions.
func (x *Index) Len() int {
	return len(x.regions)
}

// Polygon returns the closed go-geom polygon for a region, or nil.
func (x *Index) Polygon(name string) *geom.Polygon {
	for _, r := range x.regions {
		if r.name == name {
			return r.polygon
		}
	}
	return nil
}

// buildPolygon validates an open ring and returns it as a closed go-geom
// polygon.
func buildPolygon(name string, ring []model.Point) (*geom.Polygon, error) {
	invalid := func(format string, args ...any) error {
		return &InvalidGeometryError{Region: name, Reason: fmt.Sprintf(format, args...)}
	}

	if len(ring) < 3 {
		return nil, invalid("boundary has %d vertices, need at least 3", len(ring))
	}

	distinct := make(map[model.Point]struct{}, len(ring))
	for i, p := range ring {
		if math.IsNaN(p.Lon) || math.IsNaN(p.Lat) || math.IsInf(p.Lon, 0) || math.IsInf(p.Lat, 0) {
			return nil, invalid("vertex %d is not finite", i)
		}
		distinct[p] = struct{}{}
	}
	if len(distinct) < 3 {
		return nil, invalid("boundary has %d distinct vertices, need at least 3", len(distinct))
	}

	n := len(ring)
	for i := 0; i < n; i++ {
		if ring[i] == ring[(i+1)%n] {
			return nil, invalid("repeated consecutive vertex at %d", i)
		}
	}

	coords := make([]geom.Coord, n)
	for i, p := range ring {
		coords[i] = geom.Coord{p.Lon, p.Lat}
	}
	closed := make([]float64, 0, 2*(n+1))
	for _, c := range coords {
		closed = append(closed, c...)
	}
	closed = append(closed, coords[0]...)

	if xy.SignedArea(geom.XY, closed) == 0 {
		return nil, invalid("boundary encloses zero area")
	}

	// Adjacent edges may only share their common vertex.
	for i := 0; i < n; i++ {
		a, b, c := coords[i], coords[(i+1)%n], coords[(i+2)%n]
		if xy.OrientationIndex(a, b, c) == orientation.Collinear {
			dot := (a.X()-b.X())*(c.X()-b.X()) + (a.Y()-b.Y())*(c.Y()-b.Y())
			if dot > 0 {
				return nil, invalid("edges %d and %d fold back on each other", i, (i+1)%n)
			}
		}
	}

	// Non-adjacent edges must not touch.
	for i := 0; i < n; i++ {
		for j := i + 2; j < n; j++ {
			if i == 0 && j == n-1 {
				continue
			}
			if segmentsTouch(coords[i], coords[(i+1)%n], coords[j], coords[(j+1)%n]) {
				return nil, invalid("edges %d and %d intersect", i, j)
			}
		}
	}

	return geom.NewPolygonFlat(geom.XY, closed, []int{len(closed)}).SetSRID(4326), nil
}

// segmentsTouch reports whether closed segments p1-p2 and q1-q2 share any
// point, including collinear overlap and touching endpoints.
func segmentsTouch(p1, p2, q1, q2 geom.Coord) bool {
	res := lineintersector.LineIntersectsLine(lineintersector.RobustLineIntersector{}, p1, p2, q1, q2)
	return res.HasIntersection()
}
