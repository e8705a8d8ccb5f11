package parser

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	priceNumberRe    = regexp.MustCompile(`[\d,]+\.?\d*`)
	currencyPrefixRe = regexp.MustCompile(`^[^\d]+`)
	ratingRe         = regexp.MustCompile(`([\d.]+)\s+out\s+of\s+5`)
	looseRatingRe    = regexp.MustCompile(`([\d.]+)(?:\s+out\s+of\s+5)?`)
	reviewCountRe    = regexp.MustCompile(`([\d][\d,.]*)\s?([KkM])?\b`)
	percentRe        = regexp.MustCompile(`(\d+)\s*%`)
	brandStoreRe     = regexp.MustCompile(`(?i)visit\s+the\s+(.+?)\s+store`)
	brandPrefixRe    = regexp.MustCompile(`(?i)^brand:\s*`)
)

// ParsePrice pulls the numeric amount out of text such as "$1,299.00".
// Thousands separators are dropped.
func ParsePrice(text string) (float64, bool) {
	m := priceNumberRe.FindString(text)
	m = strings.ReplaceAll(m, ",", "")
	if m == "" || m == "." {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// JoinPrice combines the whole and fraction parts of a split price. An
// empty fraction yields the whole part alone.
func JoinPrice(whole, fraction string) (float64, bool) {
	whole = strings.TrimSpace(strings.ReplaceAll(whole, ",", ""))
	whole = strings.TrimRight(whole, ". ")
	fraction = strings.Trim(strings.TrimSpace(fraction), ".")
	if whole == "" {
		return 0, false
	}

	text := whole
	if fraction != "" {
		text = whole + "." + fraction
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// CurrencyPrefix returns the non-digit prefix of a price text.
func CurrencyPrefix(text string) (string, bool) {
	c := strings.TrimSpace(currencyPrefixRe.FindString(strings.TrimSpace(text)))
	return c, c != ""
}

// ParseRating reads "<x> out of 5". loose also accepts a bare number.
func ParseRating(text string, loose bool) (float64, bool) {
	re := ratingRe
	if loose {
		re = looseRatingRe
	}
	m := re.FindStringSubmatch(text)
	if m == nil || m[1] == "." {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimRight(m[1], "."), 64)
	if err != nil || f < 0 || f > 5 {
		return 0, false
	}
	return f, true
}

// ParseReviewCount expands counts like "1.2K" to 1200 and "2M" to 2000000.
func ParseReviewCount(text string) (int, bool) {
	m := reviewCountRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	num := strings.TrimRight(strings.ReplaceAll(m[1], ",", ""), ".")
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToUpper(m[2]) {
	case "K":
		f *= 1_000
	case "M":
		f *= 1_000_000
	}
	return int(math.Round(f)), true
}

// DiscountPercent computes round(100 - price/original*100).
func DiscountPercent(price, original float64) (int, bool) {
	if price <= 0 || original <= 0 {
		return 0, false
	}
	return int(math.Round(100 - price/original*100)), true
}

// ParsePercent reads the first "<n>%" in text.
func ParsePercent(text string) (int, bool) {
	m := percentRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// BrandFromByline extracts the brand from byline text such as
// "Visit the Anker Store" or "Brand: Anker".
func BrandFromByline(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if m := brandStoreRe.FindStringSubmatch(text); m != nil {
		b := strings.TrimSpace(m[1])
		return b, b != ""
	}
	b := strings.TrimSpace(brandPrefixRe.ReplaceAllString(text, ""))
	return b, b != ""
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
