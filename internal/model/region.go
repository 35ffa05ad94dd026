package model

// Point is a (longitude, latitude) vertex.
type Point struct {
	Lon float64 `json:"lon" yaml:"lon"`
	Lat float64 `json:"lat" yaml:"lat"`
}

// Region is a named polygon. Boundary is an implicitly closed ring with
// no holes; a trailing vertex equal to the first is redundant.
type Region struct {
	Name     string  `json:"name"`
	Boundary []Point `json:"boundary"`
}

// OpenRing returns the boundary without a trailing closing vertex.
func (r Region) OpenRing() []Point {
	ring := r.Boundary
	if n := len(ring); n > 1 && ring[0] == ring[n-1] {
		return ring[:n-1]
	}
	return ring
}
