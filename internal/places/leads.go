package places

import (
	"context"
	"fmt"
	"strings"
)

// largeRadiusMeters marks a search wide enough that a point-and-radius
// nearby search would miss most of the area.
const largeRadiusMeters = 25000

// placesAPI is the slice of Client the LeadFinder needs.
type placesAPI interface {
	Geocode(ctx context.Context, location string) (Coordinates, bool, error)
	NearbySearch(ctx context.Context, keyword string, at Coordinates, radiusMeters int, maxResults int) ([]Business, error)
	TextSearch(ctx context.Context, query string, maxResults int) ([]Business, error)
}

// LeadFinder picks the right search strategy for a query: text search for
// provinces, countries, and wide radii; geocode plus nearby search for
// specific places, falling back to text search when geocoding finds nothing.
type LeadFinder struct {
	api placesAPI
}

// NewLeadFinder wires a LeadFinder over a Places client.
func NewLeadFinder(api placesAPI) *LeadFinder {
	return &LeadFinder{api: api}
}

// Search implements Lookup.
func (finder *LeadFinder) Search(ctx context.Context, query Query) ([]Business, error) {
	enhancedLocation := enhanceLocation(query.Location)

	if isLargeArea(query.Location, query.RadiusMeters) {
		return finder.api.TextSearch(ctx, textQuery(query.Keyword, enhancedLocation), query.MaxResults)
	}

	coordinates, found, err := finder.api.Geocode(ctx, enhancedLocation)
	if err != nil {
		return nil, err
	}
	if found {
		return finder.api.NearbySearch(ctx, query.Keyword, coordinates, query.RadiusMeters, query.MaxResults)
	}
	return finder.api.TextSearch(ctx, textQuery(query.Keyword, enhancedLocation), query.MaxResults)
}

func textQuery(keyword string, location string) string {
	return fmt.Sprintf("%s in %s", keyword, location)
}

// provinceContext disambiguates bare Canadian province names that geocode
// poorly without a country suffix.
var provinceContext = map[string]string{
	"ontario":              "Ontario, Canada",
	"quebec":               "Quebec, Canada",
	"alberta":              "Alberta, Canada",
	"british columbia":     "British Columbia, Canada",
	"bc":                   "British Columbia, Canada",
	"manitoba":             "Manitoba, Canada",
	"saskatchewan":         "Saskatchewan, Canada",
	"nova scotia":          "Nova Scotia, Canada",
	"new brunswick":        "New Brunswick, Canada",
	"newfoundland":         "Newfoundland, Canada",
	"prince edward island": "Prince Edward Island, Canada",
}

var largeAreaKeywords = []string{
	// Countries
	"canada", "united states", "usa", "america", "mexico", "australia", "uk", "england",
	// Canadian provinces and territories
	"ontario", "quebec", "british columbia", "alberta", "manitoba", "saskatchewan",
	"nova scotia", "new brunswick", "newfoundland", "prince edward island",
	"northwest territories", "nunavut", "yukon", "bc", "ont",
	// US states
	"california", "texas", "florida", "new york", "pennsylvania", "illinois",
	"ohio", "georgia", "north carolina", "michigan", "new jersey", "virginia",
	"washington", "arizona", "massachusetts", "tennessee", "indiana", "missouri",
	"maryland", "wisconsin", "colorado", "minnesota", "south carolina", "alabama",
	"louisiana", "kentucky", "oregon", "oklahoma", "connecticut", "utah", "iowa",
	"nevada", "arkansas", "mississippi", "kansas", "new mexico", "nebraska",
	"west virginia", "idaho", "hawaii", "new hampshire", "maine", "montana",
	"rhode island", "delaware", "south dakota", "north dakota", "alaska", "vermont", "wyoming",
	// Generic wide-area words
	"region", "county", "province", "state", "territory",
}

func enhanceLocation(location string) string {
	if enhanced, ok := provinceContext[strings.ToLower(strings.TrimSpace(location))]; ok {
		return enhanced
	}
	return location
}

func isLargeArea(location string, radiusMeters int) bool {
	if radiusMeters > largeRadiusMeters {
		return true
	}
	lowered := strings.ToLower(strings.TrimSpace(location))
	for _, keyword := range largeAreaKeywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}
