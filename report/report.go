// Package report composes the run's xlsx workbook: a Summary sheet of
// per-category totals plus one sheet per category with one row per
// (color, size) inventory pair. Image cells reference their URLs through
// display formulas instead of embedded binaries.
package report

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"wholescrape/config"
	"wholescrape/models"
)

const (
	summarySheet   = "Summary"
	filePrefix     = "all_products_"
	fileTimeLayout = "20060102_150405"

	// xlsx caps sheet names at 31 characters.
	maxSheetNameLen = 31
)

var invalidSheetChars = strings.NewReplacer(
	":", " ", `\`, " ", "/", " ", "?", " ", "*", " ", "[", " ", "]", " ",
)

// Composer writes product records into a styled workbook.
type Composer struct {
	cfg    *config.Config
	logger *slog.Logger
	now    func() time.Time
}

// New builds a Composer writing under the configured results directory.
func New(cfg *config.Config, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{cfg: cfg, logger: logger, now: time.Now}
}

// headers builds the product sheet header row; the swatch block width comes
// from configuration.
func (c *Composer) headers() []string {
	h := []string{"Image", "Product Name", "SKU", "SKU Name"}
	for i := 1; i <= c.cfg.MaxSwatchColumns; i++ {
		h = append(h, fmt.Sprintf("Swatch %d", i))
	}
	return append(h,
		"Colors", "Color", "Color SKU", "Size", "Quantity", "In Stock",
		"Retail Price", "Wholesale Price", "Description", "Category",
		"Product Type", "Gender",
	)
}

// Compose writes the workbook and returns its path.
func (c *Composer) Compose(records []models.ProductRecord) (string, error) {
	if err := os.MkdirAll(c.cfg.ResultsDir(), 0o755); err != nil {
		return "", &ComposeError{Err: err}
	}

	name := filePrefix + c.now().Format(fileTimeLayout) + ".xlsx"
	path := filepath.Join(c.cfg.ResultsDir(), name)

	f := excelize.NewFile()
	defer f.Close()

	styles, err := newStyleSet(f)
	if err != nil {
		return "", &ComposeError{Path: path, Err: err}
	}

	byCategory, order := groupByCategory(records)

	if err := c.writeSummary(f, styles, byCategory, order); err != nil {
		return "", &ComposeError{Path: path, Err: err}
	}
	for _, category := range order {
		if err := c.writeCategorySheet(f, styles, category, byCategory[category]); err != nil {
			return "", &ComposeError{Path: path, Err: err}
		}
	}

	f.SetActiveSheet(0)
	if err := f.SaveAs(path); err != nil {
		return "", &ComposeError{Path: path, Err: err}
	}

	c.logger.Info("report written", "path", path, "records", len(records), "categories", len(order))
	return path, nil
}

// LatestReport returns the most recent workbook in dir. The timestamped
// filenames sort lexicographically, so the greatest name is the newest.
func LatestReport(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, filePrefix+"*.xlsx"))
	if err != nil {
		return "", fmt.Errorf("scan reports: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no reports in %s", dir)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// styleSet holds the shared cell styles of one workbook.
type styleSet struct {
	header int
	altRow int
}

func newStyleSet(f *excelize.File) (*styleSet, error) {
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"1F4E78"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}

	altRow, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"E8F4F8"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Vertical: "center",
			WrapText: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("alternating row style: %w", err)
	}

	return &styleSet{header: header, altRow: altRow}, nil
}

func (c *Composer) writeSummary(f *excelize.File, styles *styleSet, byCategory map[string][]models.ProductRecord, order []string) error {
	f.SetSheetName("Sheet1", summarySheet)

	headers := []string{"Category", "Products", "Inventory Rows", "Total Quantity"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(summarySheet, cell, h); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(summarySheet, "A1", "D1", styles.header); err != nil {
		return err
	}

	totalProducts, totalRows, totalQty := 0, 0, 0
	for i, category := range order {
		records := byCategory[category]
		rows, qty := 0, 0
		for _, r := range records {
			rows += len(r.Rows)
			qty += r.TotalQuantity()
		}
		totalProducts += len(records)
		totalRows += rows
		totalQty += qty

		rowNum := i + 2
		f.SetCellValue(summarySheet, fmt.Sprintf("A%d", rowNum), category)
		f.SetCellValue(summarySheet, fmt.Sprintf("B%d", rowNum), len(records))
		f.SetCellValue(summarySheet, fmt.Sprintf("C%d", rowNum), rows)
		f.SetCellValue(summarySheet, fmt.Sprintf("D%d", rowNum), qty)
	}

	totalRow := len(order) + 2
	f.SetCellValue(summarySheet, fmt.Sprintf("A%d", totalRow), "Total")
	f.SetCellValue(summarySheet, fmt.Sprintf("B%d", totalRow), totalProducts)
	f.SetCellValue(summarySheet, fmt.Sprintf("C%d", totalRow), totalRows)
	f.SetCellValue(summarySheet, fmt.Sprintf("D%d", totalRow), totalQty)

	f.SetCellValue(summarySheet, fmt.Sprintf("A%d", totalRow+2), "Generated")
	f.SetCellValue(summarySheet, fmt.Sprintf("B%d", totalRow+2), c.now().Format(time.RFC3339))

	return f.SetColWidth(summarySheet, "A", "D", 18)
}

func (c *Composer) writeCategorySheet(f *excelize.File, styles *styleSet, category string, records []models.ProductRecord) error {
	sheet := sheetName(category)
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	headers := c.headers()
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	lastCol, err := excelize.ColumnNumberToName(len(headers))
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", lastCol+"1", styles.header); err != nil {
		return err
	}

	rowNum := 2
	for i := range records {
		record := &records[i]
		rows := record.Rows
		if len(rows) == 0 {
			// No inventory grid; keep the product visible with one bare row.
			rows = []models.InventoryRow{{}}
		}
		for _, invRow := range rows {
			if err := c.writeProductRow(f, styles, sheet, rowNum, lastCol, record, invRow); err != nil {
				return err
			}
			rowNum++
		}
	}

	// Image and swatch columns are wide enough for thumbnails; text columns
	// get room to breathe.
	swatchLast, err := excelize.ColumnNumberToName(4 + c.cfg.MaxSwatchColumns)
	if err != nil {
		return err
	}
	f.SetColWidth(sheet, "A", "A", 22)
	f.SetColWidth(sheet, "B", "D", 28)
	f.SetColWidth(sheet, "E", swatchLast, 14)
	f.SetColWidth(sheet, swatchLast, lastCol, 16)
	return nil
}

func (c *Composer) writeProductRow(f *excelize.File, styles *styleSet, sheet string, rowNum int, lastCol string, record *models.ProductRecord, invRow models.InventoryRow) error {
	setFormula := func(col int, url string) error {
		cell, err := excelize.CoordinatesToCellName(col, rowNum)
		if err != nil {
			return err
		}
		return f.SetCellFormula(sheet, cell, fmt.Sprintf("IMAGE(%q,1)", url))
	}

	if record.ImageURL != "" {
		if err := setFormula(1, record.ImageURL); err != nil {
			return err
		}
	}

	swatchCount := len(record.Swatches)
	if swatchCount > c.cfg.MaxSwatchColumns {
		swatchCount = c.cfg.MaxSwatchColumns
	}
	for i := 0; i < swatchCount; i++ {
		if record.Swatches[i].URL == "" {
			continue
		}
		if err := setFormula(5+i, record.Swatches[i].URL); err != nil {
			return err
		}
	}

	inStock := ""
	if invRow.Size != "" || invRow.Quantity > 0 {
		inStock = "No"
		if invRow.InStock {
			inStock = "Yes"
		}
	}

	col := 2
	for _, v := range []interface{}{record.Name, record.SKU, record.SKUName} {
		cell, err := excelize.CoordinatesToCellName(col, rowNum)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
		col++
	}

	col = 5 + c.cfg.MaxSwatchColumns
	tail := []interface{}{
		record.ColorList(), invRow.Color, invRow.ColorSKU, invRow.Size,
		invRow.Quantity, inStock, record.RetailPrice, record.WholesalePrice,
		record.Description, record.Category, record.ProductType, record.Gender,
	}
	for _, v := range tail {
		cell, err := excelize.CoordinatesToCellName(col, rowNum)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
		col++
	}

	if rowNum%2 == 0 {
		first := fmt.Sprintf("B%d", rowNum)
		last := fmt.Sprintf("%s%d", lastCol, rowNum)
		if err := f.SetCellStyle(sheet, first, last, styles.altRow); err != nil {
			return err
		}
	}

	return f.SetRowHeight(sheet, rowNum, c.cfg.ReportRowHeight)
}

// groupByCategory splits records by category, preserving first-seen order.
func groupByCategory(records []models.ProductRecord) (map[string][]models.ProductRecord, []string) {
	byCategory := make(map[string][]models.ProductRecord)
	var order []string
	for _, r := range records {
		if _, seen := byCategory[r.Category]; !seen {
			order = append(order, r.Category)
		}
		byCategory[r.Category] = append(byCategory[r.Category], r)
	}
	return byCategory, order
}

// sheetName maps a category ID onto a legal xlsx sheet name.
func sheetName(category string) string {
	name := invalidSheetChars.Replace(category)
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Category"
	}
	if len(name) > maxSheetNameLen {
		name = name[:maxSheetNameLen]
	}
	return name
}
