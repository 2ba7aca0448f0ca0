// Package storage persists conversion results in SQLite or Postgres.
package storage

import (
	"time"
)

// Session is one conversion run.
type Session struct {
	ID             string
	JobID          string
	Status         string
	SlideCount     int
	ProcessingTime float64
	ResultLocation string
	Error          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SlideRecord is a stored slide row.
type SlideRecord struct {
	ID           string
	SessionID    string
	SlideNumber  int
	Width        float64
	Height       float64
	Unit         string
	SVGURL       string
	ThumbnailURL string
	Placeholder  bool
	Error        string
}

// ShapeRecord is a stored shape row. Payload is the JSON encoded shape.
type ShapeRecord struct {
	ID           string
	SlideID      string
	ReadingOrder int
	Kind         string
	Text         string
	X, Y         float64
	Width        float64
	Height       float64
	Payload      string
}
