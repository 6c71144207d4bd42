package kroger

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

const frontPerspective = "front"

// SearchProducts returns the products matching q.Term, optionally narrowed
// by brand and store location.
func (c *Client) SearchProducts(ctx context.Context, q ProductQuery) ([]Product, error) {
	const op = "search_products"

	if q.Term == "" {
		return nil, fmt.Errorf("%w: term must be specified when querying products", ErrInvalidArgument)
	}

	query := url.Values{"filter.term": {q.Term}}
	if q.Brand != "" {
		query.Set("filter.brand", q.Brand)
	}
	if q.LocationID != "" {
		query.Set("filter.locationId", q.LocationID)
	}

	var resp productsResponse
	if err := c.do(ctx, request{op: op, method: http.MethodGet, path: "/product", query: query}, &resp); err != nil {
		return nil, err
	}

	products := make([]Product, 0, len(resp.Data))
	for _, item := range resp.Data {
		image, ok := frontImage(item.Images)
		if !ok {
			err := &UpstreamError{Op: op, StatusCode: http.StatusOK, Err: fmt.Errorf("product %s has no front image", item.ProductID)}
			slog.ErrorContext(ctx, "unable to retrieve products", "error", err)
			return nil, err
		}
		products = append(products, Product{
			UPC:         item.ProductID,
			Description: item.Description,
			Brand:       item.Brand,
			Image:       image,
		})
	}
	return products, nil
}

// frontImage returns the first size URL of the first front-perspective image.
func frontImage(images []imageData) (string, bool) {
	for _, img := range images {
		if img.Perspective != frontPerspective {
			continue
		}
		if len(img.Sizes) == 0 {
			return "", false
		}
		return img.Sizes[0].URL, true
	}
	return "", false
}
