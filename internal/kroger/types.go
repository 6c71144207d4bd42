package kroger

// Product is a simplified product search result.
type Product struct {
	UPC         string `json:"upc"`
	Description string `json:"description"`
	Brand       string `json:"brand"`
	Image       string `json:"image"`
}

// Location is a simplified store location search result.
type Location struct {
	LocationID string `json:"locationId"`
	Name       string `json:"name"`
}

// CartItem is sent on add-to-cart. A zero Quantity means one.
type CartItem struct {
	UPC      string `json:"upc"`
	Quantity int    `json:"quantity"`
}

// ProductQuery filters a product search. Term is required.
type ProductQuery struct {
	Term       string
	Brand      string
	LocationID string
}

// LocationQuery filters a location search. Latitude and Longitude take
// precedence over ZipCode; with neither, the home coordinates are used.
type LocationQuery struct {
	ZipCode   string
	Latitude  string
	Longitude string
}

// Coordinates locate the home the bridge serves.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// Wire shapes of the Kroger API. Only the fields the bridge reads are declared.
type (
	productsResponse struct {
		Data []productData `json:"data"`
	}

	productData struct {
		ProductID   string      `json:"productId"`
		Description string      `json:"description"`
		Brand       string      `json:"brand"`
		Images      []imageData `json:"images"`
	}

	imageData struct {
		Perspective string          `json:"perspective"`
		Sizes       []imageSizeData `json:"sizes"`
	}

	imageSizeData struct {
		Size string `json:"size"`
		URL  string `json:"url"`
	}

	locationsResponse struct {
		Data []locationData `json:"data"`
	}

	locationData struct {
		LocationID string `json:"locationId"`
		Name       string `json:"name"`
	}

	apiErrorResponse struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Errors           *struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	}
)
