// Package model defines the complaint records, regions, and per-region
// aggregates that flow through the need-score pipeline.
package model

import (
	"math"
	"strings"
	"time"
)

// Status is the lifecycle state of a complaint record.
type Status string

const (
	StatusOpen    Status = "Open"
	StatusClosed  Status = "Closed"
	StatusUnknown Status = "Unknown"
)

// ParseStatus maps a raw status value onto a Status. Matching is
// case-insensitive; anything unrecognized becomes StatusUnknown.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open":
		return StatusOpen
	case "closed":
		return StatusClosed
	default:
		return StatusUnknown
	}
}

// Record is a single geotagged complaint. Missing coordinates are NaN.
type Record struct {
	ID        int64      `json:"unique_key"`
	CreatedAt *time.Time `json:"created_date,omitempty"`
	ClosedAt  *time.Time `json:"closed_date,omitempty"`
	Category  string     `json:"complaint_type"`
	Status    Status     `json:"status"`
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	Borough   string     `json:"borough,omitempty"`
}

// HasValidCoordinates reports whether the record carries finite, in-range
// WGS84 coordinates.
func (r Record) HasValidCoordinates() bool {
	return ValidCoordinate(r.Latitude, r.Longitude)
}

// ResolutionHours returns the hours between creation and closure. The
// second return is false when either timestamp is missing or the record
// closed before it was created.
func (r Record) ResolutionHours() (float64, bool) {
	if r.CreatedAt == nil || r.ClosedAt == nil {
		return 0, false
	}
	d := r.ClosedAt.Sub(*r.CreatedAt)
	if d < 0 {
		return 0, false
	}
	return d.Hours(), true
}

// ValidCoordinate reports whether lat/lon are finite and within
// [-90,90] / [-180,180].
func ValidCoordinate(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// JoinedRecord pairs a record with the region that contains it.
// Region is empty when the record was not located or fell inside no
// region; Located is false only when the coordinates were unusable.
type JoinedRecord struct {
	Record  Record `json:"record"`
	Region  string `json:"region_name,omitempty"`
	Located bool   `json:"located"`
}

// Matched reports whether the record was assigned to a declared region.
func (j JoinedRecord) Matched() bool {
	return j.Located && j.Region != ""
}
