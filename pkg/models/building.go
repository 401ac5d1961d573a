// Package models contains shared data models used across the fragility codebase.
package models

// BuildingRecord is one building read from the inventory. It is never
// mutated after being read.
type BuildingRecord struct {
	ID          string       `json:"id"`
	AreaSqm     float64      `json:"area_sqm"`
	Height      float64      `json:"max_height"`
	FloorCode   string       `json:"floor,omitempty"`
	MaxAge      *float64     `json:"max_age,omitempty"`
	SubPolygons []SubPolygon `json:"polygons,omitempty"`
}

// SubPolygon carries the optional per-part overrides of a building footprint.
type SubPolygon struct {
	FloorCode string   `json:"floor,omitempty"`
	Age       *float64 `json:"age,omitempty"`
}
