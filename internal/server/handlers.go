package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/florianilch/kroger-bridge/internal/kroger"
)

// API is the part of the Kroger client the endpoints expose.
type API interface {
	SearchProducts(ctx context.Context, q kroger.ProductQuery) ([]kroger.Product, error)
	SearchLocations(ctx context.Context, q kroger.LocationQuery) ([]kroger.Location, error)
	AddToCart(ctx context.Context, item kroger.CartItem) error
}

// ProductsHandler serves GET /api/kroger/products?term&brand&locationId.
type ProductsHandler struct {
	API API
}

// Compile-time check to ensure ProductsHandler implements http.Handler
var _ http.Handler = (*ProductsHandler)(nil)

func (h *ProductsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	products, err := h.API.SearchProducts(ctx, kroger.ProductQuery{
		Term:       q.Get("term"),
		Brand:      q.Get("brand"),
		LocationID: q.Get("locationId"),
	})
	if err != nil {
		writeAPIError(ctx, w, err)
		return
	}
	if products == nil {
		products = []kroger.Product{}
	}

	writeJSON(ctx, w, products, http.StatusOK)
}

// LocationsHandler serves GET /api/kroger/locations?zip_code&latitude&longitude.
type LocationsHandler struct {
	API API
}

// Compile-time check to ensure LocationsHandler implements http.Handler
var _ http.Handler = (*LocationsHandler)(nil)

func (h *LocationsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	locations, err := h.API.SearchLocations(ctx, kroger.LocationQuery{
		ZipCode:   q.Get("zip_code"),
		Latitude:  q.Get("latitude"),
		Longitude: q.Get("longitude"),
	})
	if err != nil {
		writeAPIError(ctx, w, err)
		return
	}
	if locations == nil {
		locations = []kroger.Location{}
	}

	writeJSON(ctx, w, locations, http.StatusOK)
}

// cartAddRequest is the PUT /api/kroger/cart_add body. Quantity defaults to 1.
type cartAddRequest struct {
	UPC      string `json:"upc"`
	Quantity *int   `json:"quantity"`
}

// CartAddHandler serves PUT /api/kroger/cart_add.
type CartAddHandler struct {
	API API
}

// Compile-time check to ensure CartAddHandler implements http.Handler
var _ http.Handler = (*CartAddHandler)(nil)

func (h *CartAddHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req cartAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.WarnContext(ctx, "failed to decode request", "error", err)
		writeJSONError(ctx, w, "invalid request body", http.StatusBadRequest)
		return
	}

	item := kroger.CartItem{UPC: req.UPC, Quantity: 1}
	if req.Quantity != nil {
		if *req.Quantity < 1 {
			writeJSONError(ctx, w, "quantity must be at least 1", http.StatusBadRequest)
			return
		}
		item.Quantity = *req.Quantity
	}

	if err := h.API.AddToCart(ctx, item); err != nil {
		writeAPIError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
}

// writeAPIError maps client errors onto the JSON error envelope: invalid
// arguments are the caller's fault, everything else is a 500.
func writeAPIError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, kroger.ErrInvalidArgument) {
		writeJSONError(ctx, w, err.Error(), http.StatusBadRequest)
		return
	}

	slog.ErrorContext(ctx, "request failed", "error", err)
	writeJSONError(ctx, w, "Unexpected error occurred: "+err.Error(), http.StatusInternalServerError)
}
