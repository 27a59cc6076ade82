package places

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	defaultBaseURL   = "https://maps.googleapis.com/maps/api/place"
	defaultPageDelay = 2 * time.Second

	statusOK          = "OK"
	statusZeroResults = "ZERO_RESULTS"

	detailFields = "name,formatted_address,formatted_phone_number,website,url,business_status,user_ratings_total,photos,rating"
)

// Config carries Client dependencies. Zero values fall back to production
// defaults; tests inject a stub server URL and a no-op sleeper.
type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	PageDelay  time.Duration
	Sleep      func(ctx context.Context, duration time.Duration) error
}

// Client is a thin Places web API client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	pageDelay  time.Duration
	sleep      func(ctx context.Context, duration time.Duration) error
}

// NewClient validates the config and wires a Client.
func NewClient(config Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	client := &Client{
		apiKey:     config.APIKey,
		baseURL:    config.BaseURL,
		httpClient: config.HTTPClient,
		pageDelay:  config.PageDelay,
		sleep:      config.Sleep,
	}
	if client.baseURL == "" {
		client.baseURL = defaultBaseURL
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if client.pageDelay == 0 {
		client.pageDelay = defaultPageDelay
	}
	if client.sleep == nil {
		client.sleep = sleepWithContext
	}
	return client, nil
}

type searchResponse struct {
	Status        string        `json:"status"`
	NextPageToken string        `json:"next_page_token"`
	Candidates    []candidate   `json:"candidates"`
	Results       []placeResult `json:"results"`
	Result        *placeDetail  `json:"result"`
}

type candidate struct {
	Geometry struct {
		Location Coordinates `json:"location"`
	} `json:"geometry"`
}

type placeResult struct {
	PlaceID string `json:"place_id"`
}

type placeDetail struct {
	Name             string  `json:"name"`
	FormattedAddress string  `json:"formatted_address"`
	FormattedPhone   string  `json:"formatted_phone_number"`
	Website          string  `json:"website"`
	URL              string  `json:"url"`
	BusinessStatus   string  `json:"business_status"`
	UserRatingsTotal int     `json:"user_ratings_total"`
	Rating           float64 `json:"rating"`
	Photos           []struct {
		PhotoReference string `json:"photo_reference"`
	} `json:"photos"`
}

// Geocode resolves a location string to coordinates through Find Place From
// Text. The second return reports whether a candidate was found.
func (client *Client) Geocode(ctx context.Context, location string) (Coordinates, bool, error) {
	params := url.Values{}
	params.Set("input", location)
	params.Set("inputtype", "textquery")
	params.Set("fields", "geometry")
	params.Set("key", client.apiKey)

	response, err := client.get(ctx, "/findplacefromtext/json", params)
	if err != nil {
		return Coordinates{}, false, err
	}
	if response.Status != statusOK || len(response.Candidates) == 0 {
		return Coordinates{}, false, nil
	}
	return response.Candidates[0].Geometry.Location, true, nil
}

// NearbySearch pages through Nearby Search results around a point,
// resolving each place to its details, until maxResults are collected or
// the pages run out.
func (client *Client) NearbySearch(ctx context.Context, keyword string, at Coordinates, radiusMeters int, maxResults int) ([]Business, error) {
	params := url.Values{}
	params.Set("location", fmt.Sprintf("%f,%f", at.Lat, at.Lng))
	params.Set("radius", strconv.Itoa(radiusMeters))
	params.Set("keyword", keyword)
	params.Set("key", client.apiKey)
	return client.paginate(ctx, "/nearbysearch/json", params, maxResults)
}

// TextSearch pages through Text Search results for a free-form query.
func (client *Client) TextSearch(ctx context.Context, query string, maxResults int) ([]Business, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("key", client.apiKey)
	return client.paginate(ctx, "/textsearch/json", params, maxResults)
}

// Details fetches the displayable fields for one place. The second return
// reports whether the place resolved.
func (client *Client) Details(ctx context.Context, placeID string) (Business, bool, error) {
	params := url.Values{}
	params.Set("place_id", placeID)
	params.Set("fields", detailFields)
	params.Set("key", client.apiKey)

	response, err := client.get(ctx, "/details/json", params)
	if err != nil {
		return Business{}, false, err
	}
	if response.Status != statusOK || response.Result == nil {
		return Business{}, false, nil
	}
	detail := response.Result
	business := Business{
		Name:           detail.Name,
		Address:        detail.FormattedAddress,
		Phone:          detail.FormattedPhone,
		Website:        detail.Website,
		MapsURL:        detail.URL,
		PlaceID:        placeID,
		BusinessStatus: detail.BusinessStatus,
		TotalReviews:   detail.UserRatingsTotal,
		Rating:         detail.Rating,
	}
	if business.BusinessStatus == "" {
		business.BusinessStatus = "OPERATIONAL"
	}
	if len(detail.Photos) > 0 {
		business.PhotoReference = detail.Photos[0].PhotoReference
	}
	return business, true, nil
}

// paginate drives the page-token loop shared by nearby and text search.
// The API needs a short delay before a fresh page token becomes valid.
func (client *Client) paginate(ctx context.Context, path string, firstPage url.Values, maxResults int) ([]Business, error) {
	businesses := make([]Business, 0, maxResults)
	pageToken := ""
	firstRequest := true

	for len(businesses) < maxResults {
		params := firstPage
		if pageToken != "" {
			params = url.Values{}
			params.Set("pagetoken", pageToken)
			params.Set("key", client.apiKey)
		}

		response, err := client.get(ctx, path, params)
		if err != nil {
			return nil, err
		}
		if response.Status != statusOK {
			if firstRequest && response.Status != statusZeroResults {
				return nil, fmt.Errorf("%w: status %s", ErrLookupFailed, response.Status)
			}
			break
		}
		firstRequest = false

		for _, result := range response.Results {
			if len(businesses) >= maxResults {
				break
			}
			business, found, err := client.Details(ctx, result.PlaceID)
			if err != nil {
				return nil, err
			}
			if found {
				businesses = append(businesses, business)
			}
		}

		pageToken = response.NextPageToken
		if pageToken == "" {
			break
		}
		if err := client.sleep(ctx, client.pageDelay); err != nil {
			return nil, err
		}
	}

	return businesses, nil
}

func (client *Client) get(ctx context.Context, path string, params url.Values) (searchResponse, error) {
	requestURL := client.baseURL + path + "?" + params.Encode()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return searchResponse{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	httpResponse, err := client.httpClient.Do(request)
	if err != nil {
		return searchResponse{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	defer httpResponse.Body.Close()
	if httpResponse.StatusCode != http.StatusOK {
		return searchResponse{}, fmt.Errorf("%w: http %d", ErrLookupFailed, httpResponse.StatusCode)
	}
	var decoded searchResponse
	if err := json.NewDecoder(httpResponse.Body).Decode(&decoded); err != nil {
		return searchResponse{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	return decoded, nil
}

func sleepWithContext(ctx context.Context, duration time.Duration) error {
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
