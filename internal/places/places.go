// Package places talks to the Google Places web API: geocoding a location
// string, then finding businesses around it through nearby or text search
// with page-token pagination.
package places

import (
	"context"
	"errors"
)

// Business is one lead candidate as returned by the Place Details API.
type Business struct {
	Name           string  `json:"name"`
	Address        string  `json:"address"`
	Phone          string  `json:"phone"`
	Website        string  `json:"website,omitempty"`
	MapsURL        string  `json:"maps_url,omitempty"`
	PlaceID        string  `json:"place_id"`
	BusinessStatus string  `json:"business_status,omitempty"`
	TotalReviews   int     `json:"total_reviews,omitempty"`
	PhotoReference string  `json:"image_url,omitempty"`
	Rating         float64 `json:"rating,omitempty"`
}

// Coordinates is a geocoded point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Query is a validated lead search.
type Query struct {
	Keyword      string
	Location     string
	RadiusMeters int
	MaxResults   int
}

// Lookup is the collaborator surface the search orchestrator depends on.
type Lookup interface {
	Search(ctx context.Context, query Query) ([]Business, error)
}

var (
	ErrMissingAPIKey = errors.New("places api key is required")
	ErrLookupFailed  = errors.New("places lookup failed")
)
