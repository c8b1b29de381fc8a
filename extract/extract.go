// Package extract turns persisted product pages into normalized records. It
// reads two channels per page: the embedded framework state blob for product
// identity and pricing, and the rendered DOM for images, color swatches and
// the inventory grid. Either channel may be missing; a page fails only when
// both are.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"wholescrape/fetch"
	"wholescrape/models"
	"wholescrape/progress"
)

// Rendered-DOM selectors of the portal's product page.
const (
	stateScriptSelector = "script#__NEXT_DATA__"

	mainImageSelector       = "img.image_image__ECDWj"
	swatchContainerSelector = "div.color-swatches-selector_colorSwatchContainer__fjw54"
	swatchImageSelector     = "img.color-swatch_colorSwatchImg__apmdW"
	accordionItemSelector   = "details.inventory-grid_accordionItem__XXIck"
	accordionColorSelector  = "span.inventory-grid_accordionHeadingContent__oebUk"
	inventoryRowSelector    = "table tbody tr"
	rowSizeSelector         = "span.inventory-grid-table_size__5wMgv"
	rowQuantitySelector     = "span.inventory-grid-table_quantity__Q0EiU"
)

// srcset widths preferred for the main product image, best first.
var preferredWidths = []string{"1280w", "1080w"}

// Result is the output of the extraction stage.
type Result struct {
	Records []models.ProductRecord
	// Unparseable lists category/id pairs whose pages yielded nothing.
	Unparseable []string
}

// Extractor parses persisted product pages.
type Extractor struct {
	pager  *fetch.Fetcher
	logger *slog.Logger
}

// New builds an Extractor reading pages persisted by pager.
func New(pager *fetch.Fetcher, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{pager: pager, logger: logger}
}

// Run extracts a record per link whose page exists on disk. The compose
// phase must already be started on reporter; Run advances its counter by one
// per link. Unparseable and missing pages are recorded, never fatal.
func (x *Extractor) Run(ctx context.Context, reporter *progress.Reporter, links []models.ProductLink) (*Result, error) {
	result := &Result{}

	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		record, err := x.ExtractFile(x.pager.PagePath(link), link.Category, link.ID)
		if err != nil {
			if os.IsNotExist(err) {
				// Page was never fetched (or was pruned); nothing to extract.
				reporter.Increment(fmt.Sprintf("no page for %s/%s", link.Category, link.ID))
				continue
			}
			x.logger.Warn("page unparseable", "category", link.Category, "id", link.ID, "error", err)
			result.Unparseable = append(result.Unparseable, link.Category+"/"+link.ID)
			reporter.Increment(fmt.Sprintf("unparseable %s/%s", link.Category, link.ID))
			continue
		}

		result.Records = append(result.Records, *record)
		reporter.Increment(fmt.Sprintf("extracted %s/%s", link.Category, link.ID))
	}

	x.logger.Info("extraction finished",
		"records", len(result.Records), "unparseable", len(result.Unparseable))
	return result, nil
}

// ExtractFile parses one persisted page into a product record.
func (x *Extractor) ExtractFile(path, category, id string) (*models.ProductRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, &ExtractError{Category: category, ID: id, Err: err}
	}

	blob := x.parseStateBlob(doc, category, id)
	dom := parseDOM(doc)

	if blob == nil && dom.empty() {
		return nil, &ExtractError{Category: category, ID: id}
	}
	return merge(category, id, blob, dom), nil
}

// domData is the DOM-sourced half of a record: visual and inventory state
// rendered client-side and absent from the embedded blob.
type domData struct {
	imageURL string
	swatches []models.Swatch
	rows     []models.InventoryRow
}

func (d domData) empty() bool {
	return d.imageURL == "" && len(d.swatches) == 0 && len(d.rows) == 0
}

func parseDOM(doc *goquery.Document) domData {
	return domData{
		imageURL: parseMainImage(doc),
		swatches: parseSwatches(doc),
		rows:     parseInventory(doc),
	}
}

// merge combines the two channels into one record. Identity and pricing come
// only from the blob, visual and inventory state only from the DOM; a missing
// channel leaves its fields zero.
func merge(category, id string, blob *productBlob, dom domData) *models.ProductRecord {
	record := &models.ProductRecord{
		Category:    category,
		ID:          id,
		ImageURL:    dom.imageURL,
		Swatches:    dom.swatches,
		Rows:        dom.rows,
		ExtractedAt: time.Now().UTC(),
	}
	if blob != nil {
		record.Name = blob.Name
		record.SKU = blob.sku()
		record.SKUName = string(blob.Attributes.SKUName)
		record.RetailPrice = blob.retailPrice()
		record.WholesalePrice = blob.wholesalePrice()
		record.Description = blob.description()
		record.Slug = blob.Slug
		record.ProductType = string(blob.Attributes.ProductType)
		record.Gender = string(blob.Attributes.Gender)
	}
	return record
}

// parseStateBlob decodes the embedded state script. A missing or mangled
// blob degrades to nil; the DOM channel may still carry the page.
func (x *Extractor) parseStateBlob(doc *goquery.Document, category, id string) *productBlob {
	raw := doc.Find(stateScriptSelector).First().Text()
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var state pageState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		x.logger.Debug("state blob undecodable", "category", category, "id", id, "error", err)
		return nil
	}
	return state.product()
}

// parseMainImage picks the main product image, preferring the largest
// rendition in its srcset.
func parseMainImage(doc *goquery.Document) string {
	img := doc.Find(mainImageSelector).First()
	if img.Length() == 0 {
		return ""
	}
	if srcset, ok := img.Attr("srcset"); ok {
		if url := pickFromSrcset(srcset); url != "" {
			return url
		}
	}
	return img.AttrOr("src", "")
}

// pickFromSrcset selects the preferred width from a srcset attribute,
// falling back to the last (usually largest) entry.
func pickFromSrcset(srcset string) string {
	type candidate struct {
		url   string
		width string
	}
	var candidates []candidate
	for _, entry := range strings.Split(srcset, ",") {
		fields := strings.Fields(strings.TrimSpace(entry))
		if len(fields) == 0 {
			continue
		}
		c := candidate{url: fields[0]}
		if len(fields) > 1 {
			c.width = fields[1]
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return ""
	}
	for _, want := range preferredWidths {
		for _, c := range candidates {
			if c.width == want {
				return c.url
			}
		}
	}
	return candidates[len(candidates)-1].url
}

// parseSwatches reads the color swatch strip.
func parseSwatches(doc *goquery.Document) []models.Swatch {
	var swatches []models.Swatch
	doc.Find(swatchContainerSelector).Find(swatchImageSelector).Each(func(_ int, img *goquery.Selection) {
		name := strings.TrimSpace(img.AttrOr("alt", ""))
		url := img.AttrOr("src", "")
		if name == "" && url == "" {
			return
		}
		swatches = append(swatches, models.Swatch{Name: name, URL: url})
	})
	return swatches
}

// parseInventory reads the per-color accordion grid. Each table row carries
// one size span, one quantity span per lot and one input per lot whose name
// attribute is the color SKU. Lot quantities are summed per row, and rows for
// the same (color, size) merged in first-seen order.
func parseInventory(doc *goquery.Document) []models.InventoryRow {
	type key struct{ color, size string }
	index := make(map[key]int)
	var rows []models.InventoryRow

	doc.Find(accordionItemSelector).Each(func(_ int, item *goquery.Selection) {
		color := strings.TrimSpace(item.Find(accordionColorSelector).First().Text())

		item.Find(inventoryRowSelector).Each(func(_ int, tr *goquery.Selection) {
			sizeSpan := tr.Find(rowSizeSelector).First()
			if sizeSpan.Length() == 0 {
				return
			}
			size := strings.TrimSpace(sizeSpan.Text())
			colorSKU := tr.Find("input[name]").First().AttrOr("name", "")

			qty := 0
			tr.Find(rowQuantitySelector).Each(func(_ int, span *goquery.Selection) {
				qty += parseQuantity(span.Text())
			})

			k := key{color: color, size: size}
			if at, ok := index[k]; ok {
				rows[at].Quantity += qty
				rows[at].InStock = rows[at].Quantity > 0
				if rows[at].ColorSKU == "" {
					rows[at].ColorSKU = colorSKU
				}
				return
			}
			index[k] = len(rows)
			rows = append(rows, models.InventoryRow{
				Color:    color,
				ColorSKU: colorSKU,
				Size:     size,
				Quantity: qty,
				InStock:  qty > 0,
			})
		})
	})
	return rows
}

// parseQuantity reads an integer out of a quantity cell, tolerating thousands
// separators and surrounding text. Unreadable cells count as zero.
func parseQuantity(text string) int {
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, text)
	if cleaned == "" {
		return 0
	}
	n, err := strconv.Atoi(cleaned)
	if err != nil {
		return 0
	}
	return n
}
