package models

import (
	"time"
)

// Product is a scraped product. ASIN and URL are always set; every other
// field is best effort and serializes as null when unknown.
type Product struct {
	ASIN            string         `json:"asin"`
	URL             string         `json:"url"`
	Title           *string        `json:"title"`
	Price           *float64       `json:"price"`
	Currency        *string        `json:"currency"`
	Brand           *string        `json:"brand"`
	ImageURL        *string        `json:"img_url"`
	Rating          *float64       `json:"rating"`
	ReviewCount     *int           `json:"reviews_count"`
	Badge           *string        `json:"badge"`
	Delivery        *string        `json:"delivery_info"`
	ColorVariants   []ColorVariant `json:"color_variants"`
	DiscountPercent *int           `json:"discount_percent"`
	OriginalPrice   *float64       `json:"original_price"`
	Prime           bool           `json:"prime"`
	Deal            bool           `json:"deal"`
	ScrapedAt       time.Time      `json:"scraped_at"`
}

type ColorVariant struct {
	Name string  `json:"name"`
	URL  string  `json:"url"`
	ASIN *string `json:"asin"`
}

// SearchPage is the parsed content of one listing page.
type SearchPage struct {
	Products []Product `json:"products"`
	NextURL  *string   `json:"next_url"`
}

func NewProduct(asin, url string) *Product {
	return &Product{
		ASIN:          asin,
		URL:           url,
		ColorVariants: make([]ColorVariant, 0),
		ScrapedAt:     time.Now().UTC(),
	}
}

// StringOrEmpty dereferences an optional string.
func StringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func Ptr[T any](v T) *T {
	return &v
}
