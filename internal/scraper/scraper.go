// Package scraper ties URL normalization, the fetch session and the parser
// together into product lookups and paginated searches.
package scraper

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/maltedev/amazon-product-scraper/internal/fetch"
	"github.com/maltedev/amazon-product-scraper/internal/logger"
	"github.com/maltedev/amazon-product-scraper/internal/models"
	"github.com/maltedev/amazon-product-scraper/internal/parser"
	"github.com/maltedev/amazon-product-scraper/internal/urlnorm"
)

var ErrNoQuery = errors.New("search needs a query or a URL")

const DefaultMaxPages = 1

type SearchRequest struct {
	Query    string `json:"query,omitempty"`
	URL      string `json:"url,omitempty"`
	MaxPages int    `json:"max_pages,omitempty"`
}

// SearchResult is a search plus the details of how the walk went.
type SearchResult struct {
	Products []models.Product
	Pages    int
	Stop     StopReason
}

type Scraper struct {
	fetcher      Fetcher
	parser       *parser.AmazonParser
	domainSuffix string
	logger       *slog.Logger
}

// New builds a scraper over f. domainSuffix picks the storefront for
// query searches; product URLs carry their own.
func New(f Fetcher, domainSuffix string, log *slog.Logger) *Scraper {
	if log == nil {
		log = logger.Discard()
	}
	if domainSuffix == "" {
		domainSuffix = urlnorm.DefaultDomainSuffix
	}
	return &Scraper{
		fetcher:      f,
		parser:       parser.NewAmazonParser(log),
		domainSuffix: domainSuffix,
		logger:       log.With("component", "scraper"),
	}
}

// NewFromSession is New using the session's own storefront.
func NewFromSession(s *fetch.Session, log *slog.Logger) *Scraper {
	return New(s, s.DomainSuffix(), log)
}

func (s *Scraper) DomainSuffix() string {
	return s.domainSuffix
}

// GetProduct fetches and parses one product page. It returns nil when the
// URL is not a product URL, the fetch did not succeed or the page held no
// product.
func (s *Scraper) GetProduct(ctx context.Context, rawURL string) *models.Product {
	parsed, err := urlnorm.Normalize(rawURL)
	if err != nil {
		s.logger.Warn("invalid product URL", "url", rawURL, "error", err)
		return nil
	}
	canonical := urlnorm.Canonicalize(parsed.ASIN, parsed.DomainSuffix)
	s.logger.Info("fetching product", "asin", parsed.ASIN, "url", canonical)

	out := s.fetcher.Fetch(ctx, canonical, nil)
	if !out.OK() {
		s.logger.Warn("failed to fetch product page", "url", canonical, "outcome", out.Kind.String(), "error", out.Error())
		return nil
	}

	product := s.parser.ParseProduct(string(out.Body), canonical, parsed.DomainSuffix)
	if product == nil {
		s.logger.Warn("failed to extract product", "url", canonical)
		return nil
	}
	s.logger.Info("extracted product", "asin", product.ASIN, "title", models.StringOrEmpty(product.Title))
	return product
}

// Search walks the result pages of req. An explicit URL wins over Query.
func (s *Scraper) Search(ctx context.Context, req SearchRequest) []models.Product {
	return s.SearchReport(ctx, req, nil).Products
}

// SearchReport is Search with a per-page callback and walk details.
func (s *Scraper) SearchReport(ctx context.Context, req SearchRequest, onPage func(PageResult)) SearchResult {
	start, err := s.StartURL(req)
	if err != nil {
		s.logger.Warn("cannot start search", "error", err)
		return SearchResult{Products: []models.Product{}, Stop: StopNoStartURL}
	}
	maxPages := req.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	pages := 0
	w := NewWalker(s.fetcher, s.parser, s.domainSuffix, s.logger)
	w.OnPage = func(p PageResult) {
		pages = p.Number
		if onPage != nil {
			onPage(p)
		}
	}

	s.logger.Info("starting product search", "url", start, "max_pages", maxPages)
	products, stop := w.WalkReport(ctx, start, maxPages)
	return SearchResult{Products: products, Pages: pages, Stop: stop}
}

// StartURL returns the first listing page for req.
func (s *Scraper) StartURL(req SearchRequest) (string, error) {
	if u := strings.TrimSpace(req.URL); u != "" {
		return u, nil
	}
	if strings.TrimSpace(req.Query) == "" {
		return "", ErrNoQuery
	}
	return urlnorm.SearchURL(s.domainSuffix, req.Query), nil
}
