package parser

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/amazon-product-scraper/internal/detect"
	"github.com/maltedev/amazon-product-scraper/internal/models"
	"github.com/maltedev/amazon-product-scraper/internal/urlnorm"
)

var containerSelectors = []string{
	`div[data-component-type="s-search-result"]`,
	`.s-result-item[data-asin]`,
	`.s-result-item`,
}

var titleLinkSelectors = []string{
	"h2 a.a-link-normal",
	".a-text-normal[href]",
	"h2.a-size-base-plus a",
	"a.s-line-clamp-2",
	".a-text-normal[data-hover]",
	".a-size-base-plus[aria-label]",
}

var sponsoredSelectors = []string{
	".puis-sponsored-label-text",
	".s-sponsored-label-text",
	".s-sponsored-label-info-icon",
	`[data-component-type="sp-sponsored-result"]`,
}

type listingStrategies struct {
	title         []Strategy[string]
	brand         []Strategy[string]
	price         []Strategy[float64]
	currency      []Strategy[string]
	originalPrice []Strategy[float64]
	discountBadge []Strategy[int]
	image         []Strategy[string]
	rating        []Strategy[float64]
	reviewCount   []Strategy[int]
	prime         []Strategy[bool]
	badge         []Strategy[string]
	delivery      []Strategy[string]
	deal          []Strategy[bool]
}

func newListingStrategies() listingStrategies {
	ls := listingStrategies{
		brand: []Strategy[string]{
			Text(".a-row .a-size-base-plus.a-color-base"),
			Text(".a-size-base-plus:not([aria-label])"),
			Text("h2 .a-size-base-plus"),
			Text(".s-line-clamp-1 span"),
		},
		price: []Strategy[float64]{
			Map(Text(".a-price .a-offscreen"), ParsePrice),
			splitPrice,
		},
		currency: []Strategy[string]{
			Map(Text(".a-price .a-offscreen"), CurrencyPrefix),
			Text(".a-price-symbol"),
		},
		originalPrice: []Strategy[float64]{
			Map(Text(".a-price.a-text-price .a-offscreen"), ParsePrice),
		},
		discountBadge: []Strategy[int]{
			Map(Text(`span:contains("% off")`), ParsePercent),
		},
		image: []Strategy[string]{
			listingImage("img.s-image"),
			listingImage(".s-image img"),
			listingImage(".a-section img[srcset]"),
			listingImage(".s-product-image-container img"),
		},
		rating: []Strategy[float64]{
			listingRating("i.a-icon-star-small"),
			listingRating(".a-icon-star"),
			listingRating("span.a-icon-alt"),
			listingRating("i.a-star-mini-4"),
			listingRating(`[aria-label*="out of 5 stars"]`),
		},
		reviewCount: []Strategy[int]{
			Map(labelOrText(`span[aria-label*="reviews"]`), ParseReviewCount),
			Map(labelOrText(".a-size-base.s-underline-text"), ParseReviewCount),
			Map(labelOrText(`a:contains("ratings")`), ParseReviewCount),
			Map(labelOrText(`a:contains("reviews")`), ParseReviewCount),
			Map(labelOrText(".a-link-normal .a-size-base"), ParseReviewCount),
		},
		prime: []Strategy[bool]{
			Exists(
				"i.a-icon-prime",
				".a-icon-prime",
				`span:contains("Prime")`,
				".aok-relative.s-icon-text-medium",
				`[aria-label="Prime"]`,
			),
		},
		badge: []Strategy[string]{
			labelOrText(".a-badge-text"),
			labelOrText(`[aria-label*="Choice"]`),
		},
		delivery: []Strategy[string]{
			innermostRowContaining("delivery"),
			Attr(`[aria-label*="delivery"]`, "aria-label"),
		},
		deal: []Strategy[bool]{
			Exists(`span:contains("Deal")`, `.a-badge:contains("Deal")`),
		},
	}

	for _, sel := range titleLinkSelectors {
		ls.title = append(ls.title, linkTitle(sel))
	}
	return ls
}

// ParseListing extracts every organic result of a search page in document
// order, plus the next page link. Blocked or empty pages yield an empty
// page.
func (p *AmazonParser) ParseListing(html, baseURL, domainSuffix string) *models.SearchPage {
	page := &models.SearchPage{Products: []models.Product{}}

	if strings.TrimSpace(html) == "" {
		p.logger.Warn("empty listing page", "url", baseURL)
		return page
	}
	if v := detect.Classify(html); v.Blocked {
		p.logger.Warn("block page detected", "url", baseURL, "reason", v.Reason)
		return page
	}
	if domainSuffix == "" {
		domainSuffix = suffixOf(baseURL)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		p.logger.Warn("failed to parse HTML", "url", baseURL, "error", err)
		return page
	}

	containers := findContainers(doc.Selection)
	containers.Each(func(i int, c *goquery.Selection) {
		product, err := p.parseContainer(c, baseURL, domainSuffix)
		if err != nil {
			p.logger.Debug("skipping result", "index", i, "error", err)
			return
		}
		if product != nil {
			page.Products = append(page.Products, *product)
		}
	})

	page.NextURL = p.nextURL(doc.Selection, baseURL)

	p.logger.Debug("parsed listing", "url", baseURL, "containers", containers.Length(), "products", len(page.Products))
	return page
}

func findContainers(root *goquery.Selection) *goquery.Selection {
	for _, sel := range containerSelectors {
		if c := root.Find(sel); c.Length() > 0 {
			return c
		}
	}
	return root.Find(containerSelectors[0])
}

func (p *AmazonParser) parseContainer(c *goquery.Selection, baseURL, domainSuffix string) (product *models.Product, err error) {
	defer func() {
		if r := recover(); r != nil {
			product, err = nil, fmt.Errorf("panic while parsing result: %v", r)
		}
	}()

	if isSponsored(c) {
		return nil, nil
	}

	asin := strings.TrimSpace(c.AttrOr("data-asin", c.AttrOr("asin", "")))
	if !urlnorm.ValidASIN(asin) {
		return nil, nil
	}

	ls := p.listing
	product = models.NewProduct(asin, urlnorm.Canonicalize(asin, domainSuffix))
	product.Title = Optional(c, ls.title...)
	product.Brand = Optional(c, ls.brand...)
	product.Price = Optional(c, ls.price...)
	product.Currency = Optional(c, ls.currency...)
	product.OriginalPrice = Optional(c, ls.originalPrice...)
	product.DiscountPercent = discount(product.Price, product.OriginalPrice, c, ls.discountBadge)
	product.ImageURL = Optional(c, ls.image...)
	product.Rating = Optional(c, ls.rating...)
	product.ReviewCount = Optional(c, ls.reviewCount...)
	product.Badge = Optional(c, ls.badge...)
	product.Delivery = Optional(c, ls.delivery...)
	product.ColorVariants = colorVariants(c, baseURL, domainSuffix)

	if prime, ok := Cascade(c, ls.prime...); ok {
		product.Prime = prime
	}
	if deal, ok := Cascade(c, ls.deal...); ok {
		product.Deal = deal
	}

	return product, nil
}

func isSponsored(c *goquery.Selection) bool {
	if c.HasClass("AdHolder") {
		return true
	}
	for _, sel := range sponsoredSelectors {
		if c.Is(sel) || c.Find(sel).Length() > 0 {
			return true
		}
	}
	sponsored := false
	c.Find("span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		sponsored = strings.TrimSpace(s.Text()) == "Sponsored"
		return !sponsored
	})
	return sponsored
}

func linkTitle(selector string) Strategy[string] {
	return func(s *goquery.Selection) (string, bool) {
		link := s.Find(selector).First()
		if link.Length() == 0 {
			return "", false
		}
		if label := strings.TrimSpace(link.AttrOr("aria-label", "")); label != "" {
			return label, true
		}
		if span := link.Find("span").First(); span.Length() > 0 {
			if t := collapseSpace(span.Text()); t != "" {
				return t, true
			}
		}
		t := collapseSpace(link.Text())
		return t, t != ""
	}
}

func labelOrText(selector string) Strategy[string] {
	return func(s *goquery.Selection) (string, bool) {
		el := s.Find(selector).First()
		if el.Length() == 0 {
			return "", false
		}
		if t := collapseSpace(el.Text()); t != "" {
			return t, true
		}
		label := strings.TrimSpace(el.AttrOr("aria-label", ""))
		return label, label != ""
	}
}

func listingImage(selector string) Strategy[string] {
	return func(s *goquery.Selection) (string, bool) {
		img := s.Find(selector).First()
		if img.Length() == 0 {
			return "", false
		}
		if srcset := strings.TrimSpace(img.AttrOr("srcset", "")); srcset != "" {
			parts := strings.Split(srcset, ",")
			if fields := strings.Fields(parts[len(parts)-1]); len(fields) > 0 {
				return fields[0], true
			}
		}
		src := strings.TrimSpace(img.AttrOr("src", ""))
		return src, src != ""
	}
}

func listingRating(selector string) Strategy[float64] {
	return func(s *goquery.Selection) (float64, bool) {
		el := s.Find(selector).First()
		if el.Length() == 0 {
			return 0, false
		}

		var text string
		switch {
		case strings.Contains(el.AttrOr("aria-label", ""), "out of 5"):
			text = el.AttrOr("aria-label", "")
		case strings.Contains(el.AttrOr("alt", ""), "out of 5"):
			text = el.AttrOr("alt", "")
		default:
			text = collapseSpace(el.Text())
			if text == "" {
				text = collapseSpace(el.Parent().Text())
			}
		}
		return ParseRating(text, true)
	}
}

func innermostRowContaining(word string) Strategy[string] {
	return func(s *goquery.Selection) (string, bool) {
		var found string
		s.Find(".a-row").Each(func(_ int, row *goquery.Selection) {
			text := collapseSpace(row.Text())
			if !strings.Contains(strings.ToLower(text), word) {
				return
			}
			if found == "" || len(text) < len(found) {
				found = text
			}
		})
		return found, found != ""
	}
}

func colorVariants(c *goquery.Selection, baseURL, domainSuffix string) []models.ColorVariant {
	variants := make([]models.ColorVariant, 0)
	c.Find(".s-color-swatch-outer-circle").Each(func(_ int, swatch *goquery.Selection) {
		link := swatch.Find("a").First()
		name := strings.TrimSpace(link.AttrOr("aria-label", ""))
		if link.Length() == 0 || name == "" {
			return
		}

		href := strings.TrimSpace(link.AttrOr("href", ""))
		v := models.ColorVariant{Name: name, URL: href}
		if asin, ok := urlnorm.ASINFromPath(href); ok {
			v.ASIN = &asin
			v.URL = urlnorm.Canonicalize(asin, domainSuffix)
		} else if href != "" && baseURL != "" {
			v.URL = urlnorm.Resolve(baseURL, href)
		}
		variants = append(variants, v)
	})
	return variants
}
