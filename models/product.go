// Package models defines data structures shared across the pipeline stages.
package models

import "time"

// Category is one top-level catalog partition of the wholesale portal.
type Category struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name"`
	ListingURL   string `json:"listing_url"`
	ProductCount int    `json:"product_count,omitempty"`
}

// ProductLink points at one product detail page within a category.
// Unique per (Category, ID).
type ProductLink struct {
	Category string `json:"category"`
	URL      string `json:"url"`
	ID       string `json:"id"`
}

// Swatch is one color option with its swatch image.
type Swatch struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// InventoryRow is the stock state for one (color, size) pair. Quantity is
// the sum over every inventory lot the page listed for that pair.
type InventoryRow struct {
	Color    string `json:"color"`
	ColorSKU string `json:"color_sku"`
	Size     string `json:"size"`
	Quantity int    `json:"quantity"`
	InStock  bool   `json:"in_stock"`
}

// ProductRecord is the normalized output unit: one product with one
// InventoryRow per distinct (color, size) pair observed on its page.
type ProductRecord struct {
	Category       string         `json:"category"`
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	SKU            string         `json:"sku"`
	SKUName        string         `json:"sku_name"`
	RetailPrice    string         `json:"retail_price"`
	WholesalePrice string         `json:"wholesale_price"`
	Description    string         `json:"description"`
	Slug           string         `json:"slug"`
	ProductType    string         `json:"product_type"`
	Gender         string         `json:"gender"`
	ImageURL       string         `json:"image_url"`
	Swatches       []Swatch       `json:"swatches"`
	Rows           []InventoryRow `json:"rows"`
	ExtractedAt    time.Time      `json:"extracted_at"`
}

// ColorList returns the comma-joined names of every swatch color.
func (r *ProductRecord) ColorList() string {
	if len(r.Swatches) == 0 {
		return ""
	}
	out := r.Swatches[0].Name
	for _, s := range r.Swatches[1:] {
		out += ", " + s.Name
	}
	return out
}

// TotalQuantity sums quantities across every (color, size) row.
func (r *ProductRecord) TotalQuantity() int {
	total := 0
	for _, row := range r.Rows {
		total += row.Quantity
	}
	return total
}

// RunSummary holds the overall result of one pipeline run.
type RunSummary struct {
	StartTime         time.Time
	EndTime           time.Time
	CategoriesTotal   int
	CategoriesFailed  int
	LinksDiscovered   int
	PagesFetched      int
	PagesSkipped      int
	PagesFailed       int
	RecordsExtracted  int
	PagesUnparseable  int
	ReportPath        string
	FailedIdentifiers []string
	DiscoveryFailures map[string]string
}
