package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/maltedev/amazon-product-scraper/internal/models"
)

const (
	outputJSON  = "json"
	outputTable = "table"
)

func validateOutput(format string) error {
	switch format {
	case outputJSON, outputTable:
		return nil
	}
	return fmt.Errorf("unknown output format %q (want json or table)", format)
}

func render(w io.Writer, format string, products []models.Product) error {
	if format == outputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if products == nil {
			products = []models.Product{}
		}
		return enc.Encode(products)
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"#", "ASIN", "Title", "Brand", "Price", "Rating", "Reviews", "Flags"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Title", WidthMax: 60, WidthMaxEnforcer: text.Trim},
		{Name: "Brand", WidthMax: 20, WidthMaxEnforcer: text.Trim},
		{Name: "Price", Align: text.AlignRight},
		{Name: "Rating", Align: text.AlignRight},
		{Name: "Reviews", Align: text.AlignRight},
	})
	for i, p := range products {
		t.AppendRow(table.Row{
			i + 1,
			p.ASIN,
			models.StringOrEmpty(p.Title),
			models.StringOrEmpty(p.Brand),
			formatPrice(p),
			formatRating(p.Rating),
			formatCount(p.ReviewCount),
			flags(p),
		})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d products", len(products))})
	t.Render()
	return nil
}

func formatPrice(p models.Product) string {
	if p.Price == nil {
		return "-"
	}
	s := models.StringOrEmpty(p.Currency) + strconv.FormatFloat(*p.Price, 'f', 2, 64)
	if p.DiscountPercent != nil {
		s += fmt.Sprintf(" (-%d%%)", *p.DiscountPercent)
	}
	return s
}

func formatRating(r *float64) string {
	if r == nil {
		return "-"
	}
	return strconv.FormatFloat(*r, 'f', 1, 64)
}

func formatCount(n *int) string {
	if n == nil {
		return "-"
	}
	return strconv.Itoa(*n)
}

func flags(p models.Product) string {
	var out string
	if p.Prime {
		out += "prime "
	}
	if p.Deal {
		out += "deal "
	}
	if p.Badge != nil {
		out += *p.Badge
	}
	return strings.TrimSpace(out)
}
