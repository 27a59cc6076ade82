package places

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(_ context.Context, _ time.Duration) error { return nil }

func newStubClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Sleep:   noSleep,
	})
	require.NoError(t, err)
	return client, server
}

func writeJSON(t *testing.T, w http.ResponseWriter, payload any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(payload))
}

func detailPayload(name string) map[string]any {
	return map[string]any{
		"status": "OK",
		"result": map[string]any{
			"name":                   name,
			"formatted_address":      "123 Main St",
			"formatted_phone_number": "555-0100",
			"website":                "",
			"url":                    "https://maps.example.com/" + name,
			"business_status":        "OPERATIONAL",
			"user_ratings_total":     12,
			"rating":                 4.5,
		},
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(Config{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestGeocodeReturnsFirstCandidate(t *testing.T) {
	client, _ := newStubClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/findplacefromtext/json", r.URL.Path)
		assert.Equal(t, "Kingston, Ontario", r.URL.Query().Get("input"))
		writeJSON(t, w, map[string]any{
			"status": "OK",
			"candidates": []map[string]any{
				{"geometry": map[string]any{"location": map[string]any{"lat": 44.23, "lng": -76.48}}},
			},
		})
	}))

	coordinates, found, err := client.Geocode(context.Background(), "Kingston, Ontario")
	require.NoError(t, err)
	require.True(t, found)
	assert.InDelta(t, 44.23, coordinates.Lat, 0.001)
	assert.InDelta(t, -76.48, coordinates.Lng, 0.001)
}

func TestGeocodeMissReturnsNotFound(t *testing.T) {
	client, _ := newStubClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"status": "ZERO_RESULTS"})
	}))

	_, found, err := client.Geocode(context.Background(), "nowhere")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTextSearchPaginatesUntilCap(t *testing.T) {
	pageRequests := 0
	client, _ := newStubClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/textsearch/json":
			pageRequests++
			if r.URL.Query().Get("pagetoken") == "" {
				writeJSON(t, w, map[string]any{
					"status":          "OK",
					"next_page_token": "page-2",
					"results": []map[string]any{
						{"place_id": "p1"}, {"place_id": "p2"},
					},
				})
				return
			}
			assert.Equal(t, "page-2", r.URL.Query().Get("pagetoken"))
			writeJSON(t, w, map[string]any{
				"status": "OK",
				"results": []map[string]any{
					{"place_id": "p3"}, {"place_id": "p4"},
				},
			})
		case "/details/json":
			writeJSON(t, w, detailPayload("biz-"+r.URL.Query().Get("place_id")))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	businesses, err := client.TextSearch(context.Background(), "plumber in Ontario, Canada", 3)
	require.NoError(t, err)
	require.Len(t, businesses, 3)
	assert.Equal(t, 2, pageRequests)
	assert.Equal(t, "biz-p1", businesses[0].Name)
	assert.Equal(t, "p3", businesses[2].PlaceID)
}

func TestNearbySearchStopsOnExhaustedPages(t *testing.T) {
	client, _ := newStubClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/nearbysearch/json":
			assert.Equal(t, "5000", r.URL.Query().Get("radius"))
			writeJSON(t, w, map[string]any{
				"status":  "OK",
				"results": []map[string]any{{"place_id": "solo"}},
			})
		case "/details/json":
			writeJSON(t, w, detailPayload("solo-biz"))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	businesses, err := client.NearbySearch(context.Background(), "cafe", Coordinates{Lat: 44, Lng: -76}, 5000, 20)
	require.NoError(t, err)
	require.Len(t, businesses, 1)
	assert.Equal(t, "solo-biz", businesses[0].Name)
}

func TestSearchFirstPageFailureIsAnError(t *testing.T) {
	client, _ := newStubClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"status": "REQUEST_DENIED"})
	}))

	_, err := client.TextSearch(context.Background(), "anything", 5)
	assert.ErrorIs(t, err, ErrLookupFailed)
}

func TestSearchZeroResultsIsEmptyNotError(t *testing.T) {
	client, _ := newStubClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"status": "ZERO_RESULTS"})
	}))

	businesses, err := client.TextSearch(context.Background(), "unicorn wrangler in Mars", 5)
	require.NoError(t, err)
	assert.Empty(t, businesses)
}

func TestSearchTransportFailureIsAnError(t *testing.T) {
	client, server := newStubClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	_, err := client.TextSearch(context.Background(), "anything", 5)
	assert.ErrorIs(t, err, ErrLookupFailed)
}

func TestPaginationHonorsContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/textsearch/json":
			writeJSON(t, w, map[string]any{
				"status":          "OK",
				"next_page_token": "more",
				"results":         []map[string]any{{"place_id": "p1"}},
			})
		case "/details/json":
			writeJSON(t, w, detailPayload("biz"))
		}
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{APIKey: "test-key", BaseURL: server.URL, PageDelay: 10 * time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = client.TextSearch(ctx, "slow query", 10)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDetailsDefaultsBusinessStatus(t *testing.T) {
	client, _ := newStubClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"status": "OK",
			"result": map[string]any{"name": "bare"},
		})
	}))

	business, found, err := client.Details(context.Background(), "bare-id")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "OPERATIONAL", business.BusinessStatus)
	assert.Equal(t, "bare-id", business.PlaceID)
}

func TestDetailsSkipsUnresolvedPlaces(t *testing.T) {
	client, _ := newStubClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/textsearch/json":
			writeJSON(t, w, map[string]any{
				"status":  "OK",
				"results": []map[string]any{{"place_id": "gone"}, {"place_id": "kept"}},
			})
		case "/details/json":
			if r.URL.Query().Get("place_id") == "gone" {
				writeJSON(t, w, map[string]any{"status": "NOT_FOUND"})
				return
			}
			writeJSON(t, w, detailPayload(fmt.Sprintf("kept-%s", r.URL.Query().Get("place_id"))))
		}
	}))

	businesses, err := client.TextSearch(context.Background(), "anything", 10)
	require.NoError(t, err)
	require.Len(t, businesses, 1)
	assert.Equal(t, "kept", businesses[0].PlaceID)
}
