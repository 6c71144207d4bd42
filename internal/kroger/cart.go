package kroger

import (
	"context"
	"fmt"
	"net/http"
)

// AddToCart puts item into the authorized user's cart. A nil error means
// Kroger accepted the item.
func (c *Client) AddToCart(ctx context.Context, item CartItem) error {
	if item.UPC == "" {
		return fmt.Errorf("%w: upc must be specified when adding to cart", ErrInvalidArgument)
	}
	if item.Quantity < 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidArgument, item.Quantity)
	}
	if item.Quantity == 0 {
		item.Quantity = 1
	}

	return c.do(ctx, request{op: "add_to_cart", method: http.MethodPut, path: "/cart/add", body: item}, nil)
}
