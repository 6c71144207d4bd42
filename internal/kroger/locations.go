package kroger

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// SearchLocations returns stores near the given coordinates, else near the
// zip code, else near the home coordinates. Without any of them it fails
// with ErrInvalidArgument before calling Kroger.
func (c *Client) SearchLocations(ctx context.Context, q LocationQuery) ([]Location, error) {
	query := url.Values{}
	switch {
	case q.Latitude != "" && q.Longitude != "":
		query.Set("filter.lat.near", q.Latitude)
		query.Set("filter.lon.near", q.Longitude)
	case q.ZipCode != "":
		query.Set("filter.zipCode.near", q.ZipCode)
	case c.home == (Coordinates{}):
		return nil, fmt.Errorf("%w: zip code or coordinates required when no home location is configured", ErrInvalidArgument)
	default:
		query.Set("filter.lat.near", strconv.FormatFloat(c.home.Latitude, 'f', -1, 64))
		query.Set("filter.lon.near", strconv.FormatFloat(c.home.Longitude, 'f', -1, 64))
	}

	var resp locationsResponse
	if err := c.do(ctx, request{op: "search_locations", method: http.MethodGet, path: "/locations", query: query}, &resp); err != nil {
		return nil, err
	}

	locations := make([]Location, 0, len(resp.Data))
	for _, item := range resp.Data {
		locations = append(locations, Location{
			LocationID: item.LocationID,
			Name:       item.Name,
		})
	}
	return locations, nil
}
