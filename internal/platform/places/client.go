// Package places finds specialists near a postal code with the Google Maps
// Geocoding and Places Nearby Search APIs.
package places

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"gendoc/internal/consultation"
)

const (
	searchRadiusMeters = 20000
	maxResults         = 5
)

type Client struct {
	maps *maps.Client
}

// NewClient builds a client for apiKey. baseURL overrides the Maps API host
// and is only set in tests.
func NewClient(apiKey, baseURL string) (*Client, error) {
	opts := []maps.ClientOption{maps.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, maps.WithBaseURL(baseURL))
	}
	mc, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create maps client: %w", err)
	}
	return &Client{maps: mc}, nil
}

// NearbySpecialists geocodes locationCode and searches hospitals matching the
// specialty keyword around the first geocoding result. A location that does
// not geocode yields an empty listing and no nearby search.
func (c *Client) NearbySpecialists(ctx context.Context, locationCode, specialty string) ([]consultation.Specialist, error) {
	geo, err := c.maps.Geocode(ctx, &maps.GeocodingRequest{Address: locationCode})
	if err != nil {
		return nil, fmt.Errorf("geocode %q: %w", locationCode, err)
	}
	if len(geo) == 0 {
		return []consultation.Specialist{}, nil
	}

	loc := geo[0].Geometry.Location
	resp, err := c.maps.NearbySearch(ctx, &maps.NearbySearchRequest{
		Location: &loc,
		Radius:   searchRadiusMeters,
		Keyword:  specialty,
		Type:     maps.PlaceTypeHospital,
	})
	if err != nil {
		return nil, fmt.Errorf("nearby search: %w", err)
	}

	results := resp.Results
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	out := make([]consultation.Specialist, 0, len(results))
	for _, r := range results {
		out = append(out, consultation.Specialist{Name: r.Name, Address: r.Vicinity})
	}
	return out, nil
}
