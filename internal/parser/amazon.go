package parser

import (
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/amazon-product-scraper/internal/detect"
	"github.com/maltedev/amazon-product-scraper/internal/logger"
	"github.com/maltedev/amazon-product-scraper/internal/models"
	"github.com/maltedev/amazon-product-scraper/internal/urlnorm"
)

// AmazonParser holds the selector cascades for product and listing pages.
type AmazonParser struct {
	logger *slog.Logger

	title         []Strategy[string]
	price         []Strategy[float64]
	currency      []Strategy[string]
	brand         []Strategy[string]
	image         []Strategy[string]
	rating        []Strategy[float64]
	reviewCount   []Strategy[int]
	originalPrice []Strategy[float64]
	savings       []Strategy[int]
	nextPage      []Strategy[string]

	listing listingStrategies
}

func NewAmazonParser(log *slog.Logger) *AmazonParser {
	if log == nil {
		log = logger.Discard()
	}

	return &AmazonParser{
		logger: log.With("component", "parser"),
		title:  []Strategy[string]{Text("#productTitle")},
		price: []Strategy[float64]{
			splitPrice,
			Map(Text("span.a-offscreen"), ParsePrice),
		},
		currency: []Strategy[string]{
			Text(".a-price-symbol"),
			Map(Text("span.a-offscreen"), CurrencyPrefix),
		},
		brand: []Strategy[string]{
			Map(Text("#bylineInfo"), BrandFromByline),
			detailBulletBrand,
		},
		image: []Strategy[string]{
			imageFrom("#landingImage"),
			imageFrom("#imgBlkFront"),
		},
		rating: []Strategy[float64]{
			Map(Attr("#acrPopover", "title"), ratingStrict),
			Map(Text("#acrPopover"), ratingStrict),
			Map(Text("span.a-icon-alt"), ratingStrict),
		},
		reviewCount: []Strategy[int]{
			Map(Text("#acrCustomerReviewText"), ParseReviewCount),
		},
		originalPrice: []Strategy[float64]{
			Map(Text(".a-price.a-text-price .a-offscreen"), ParsePrice),
			Map(Text("#listPrice"), ParsePrice),
		},
		savings: []Strategy[int]{
			Map(Text(".savingsPercentage"), ParsePercent),
		},
		nextPage: []Strategy[string]{
			enabledPaginationNext,
			Attr("li.a-last:not(.a-disabled) a", "href"),
			nextLabelledAnchor,
			Attr(`a[aria-label="Go to next page"]`, "href"),
		},
		listing: newListingStrategies(),
	}
}

var defaultParser = NewAmazonParser(nil)

// ParseProduct extracts a product detail page. See AmazonParser.ParseProduct.
func ParseProduct(html, sourceURL, domainSuffix string) *models.Product {
	return defaultParser.ParseProduct(html, sourceURL, domainSuffix)
}

// ParseListing extracts a search result page. See AmazonParser.ParseListing.
func ParseListing(html, baseURL, domainSuffix string) *models.SearchPage {
	return defaultParser.ParseListing(html, baseURL, domainSuffix)
}

// NextPageURL finds the next pagination link. See AmazonParser.NextPageURL.
func NextPageURL(html, baseURL string) *string {
	return defaultParser.NextPageURL(html, baseURL)
}

// ParseProduct returns nil for empty or blocked pages and when no ASIN can be
// read from sourceURL. Every other field is optional.
func (p *AmazonParser) ParseProduct(html, sourceURL, domainSuffix string) *models.Product {
	if strings.TrimSpace(html) == "" {
		p.logger.Warn("empty product page", "url", sourceURL)
		return nil
	}
	if v := detect.Classify(html); v.Blocked {
		p.logger.Warn("block page detected", "url", sourceURL, "reason", v.Reason)
		return nil
	}

	asin, ok := urlnorm.ASINFromPath(sourceURL)
	if !ok {
		p.logger.Warn("no ASIN in source url", "url", sourceURL)
		return nil
	}
	if domainSuffix == "" {
		domainSuffix = suffixOf(sourceURL)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		p.logger.Warn("failed to parse HTML", "url", sourceURL, "error", err)
		return nil
	}
	root := doc.Selection

	product := models.NewProduct(asin, urlnorm.Canonicalize(asin, domainSuffix))
	product.Title = Optional(root, p.title...)
	product.Price = Optional(root, p.price...)
	product.Currency = Optional(root, p.currency...)
	product.Brand = Optional(root, p.brand...)
	product.ImageURL = Optional(root, p.image...)
	product.Rating = Optional(root, p.rating...)
	product.ReviewCount = Optional(root, p.reviewCount...)
	product.OriginalPrice = Optional(root, p.originalPrice...)
	product.DiscountPercent = discount(product.Price, product.OriginalPrice, root, p.savings)

	return product
}

// NextPageURL returns the absolute URL of the next result page, or nil.
func (p *AmazonParser) NextPageURL(html, baseURL string) *string {
	if strings.TrimSpace(html) == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	return p.nextURL(doc.Selection, baseURL)
}

func (p *AmazonParser) nextURL(root *goquery.Selection, baseURL string) *string {
	href, ok := Cascade(root, p.nextPage...)
	if !ok {
		return nil
	}
	next := urlnorm.Resolve(baseURL, href)
	return &next
}

func discount(price, original *float64, root *goquery.Selection, badge []Strategy[int]) *int {
	if price != nil && original != nil {
		if d, ok := DiscountPercent(*price, *original); ok {
			return &d
		}
	}
	return Optional(root, badge...)
}

func suffixOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return urlnorm.DefaultDomainSuffix
	}
	if s, ok := urlnorm.DomainSuffix(u.Hostname()); ok {
		return s
	}
	return urlnorm.DefaultDomainSuffix
}

func ratingStrict(text string) (float64, bool) {
	return ParseRating(text, false)
}

func splitPrice(s *goquery.Selection) (float64, bool) {
	whole := s.Find(".a-price-whole").First()
	if whole.Length() == 0 {
		return 0, false
	}
	// the whole part carries the decimal separator in a nested span
	w := whole.Clone()
	w.Find(".a-price-decimal").Remove()
	return JoinPrice(w.Text(), s.Find(".a-price-fraction").First().Text())
}

func detailBulletBrand(s *goquery.Selection) (string, bool) {
	var brand string
	s.Find("#detailBullets_feature_div li").EachWithBreak(func(_ int, li *goquery.Selection) bool {
		if !strings.Contains(strings.ToLower(li.Text()), "brand") {
			return true
		}
		brand = collapseSpace(li.Find(".a-text-bold + span").First().Text())
		return false
	})
	return brand, brand != ""
}

func imageFrom(selector string) Strategy[string] {
	return func(s *goquery.Selection) (string, bool) {
		img := s.Find(selector).First()
		if img.Length() == 0 {
			return "", false
		}
		for _, attr := range []string{"src", "data-old-hires"} {
			if v := strings.TrimSpace(img.AttrOr(attr, "")); v != "" {
				return v, true
			}
		}
		return firstJSONKey(img.AttrOr("data-a-dynamic-image", ""))
	}
}

// firstJSONKey returns the first key of a JSON object in document order.
func firstJSONKey(raw string) (string, bool) {
	if strings.TrimSpace(raw) == "" {
		return "", false
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return "", false
	}
	tok, err := dec.Token()
	if err != nil {
		return "", false
	}
	key, ok := tok.(string)
	return key, ok && key != ""
}

func enabledPaginationNext(s *goquery.Selection) (string, bool) {
	var href string
	s.Find("a.s-pagination-next").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if a.HasClass("s-pagination-disabled") || a.AttrOr("aria-disabled", "") == "true" {
			return true
		}
		href = strings.TrimSpace(a.AttrOr("href", ""))
		return href == ""
	})
	return href, href != ""
}

func nextLabelledAnchor(s *goquery.Selection) (string, bool) {
	var href string
	s.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		match := false
		a.Find("span").EachWithBreak(func(_ int, span *goquery.Selection) bool {
			match = strings.HasPrefix(collapseSpace(span.Text()), "Next")
			return !match
		})
		if !match {
			return true
		}
		href = strings.TrimSpace(a.AttrOr("href", ""))
		return href == ""
	})
	return href, href != ""
}
