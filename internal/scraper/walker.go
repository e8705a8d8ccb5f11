package scraper

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/maltedev/amazon-product-scraper/internal/fetch"
	"github.com/maltedev/amazon-product-scraper/internal/logger"
	"github.com/maltedev/amazon-product-scraper/internal/models"
	"github.com/maltedev/amazon-product-scraper/internal/parser"
	"github.com/maltedev/amazon-product-scraper/internal/urlnorm"
)

// Fetcher is the part of fetch.Session the scraper depends on.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, extra http.Header) fetch.Outcome
}

// PageResult describes one listing page the walker consumed.
type PageResult struct {
	Number   int
	URL      string
	Products int
	Total    int
}

// StopReason says why a walk ended.
type StopReason string

const (
	StopMaxPages   StopReason = "max_pages"
	StopNoNext     StopReason = "no_next_page"
	StopEmptyPage  StopReason = "empty_page"
	StopFetch      StopReason = "fetch_failed"
	StopVisited    StopReason = "already_visited"
	StopCancelled  StopReason = "cancelled"
	StopNoStartURL StopReason = "no_start_url"
)

// Walker follows "next page" links across listing pages.
type Walker struct {
	fetcher      Fetcher
	parser       *parser.AmazonParser
	domainSuffix string
	logger       *slog.Logger

	// OnPage, when set, is called after every page that yielded products.
	OnPage func(PageResult)
}

func NewWalker(f Fetcher, p *parser.AmazonParser, domainSuffix string, log *slog.Logger) *Walker {
	if log == nil {
		log = logger.Discard()
	}
	if p == nil {
		p = parser.NewAmazonParser(log)
	}
	return &Walker{
		fetcher:      f,
		parser:       p,
		domainSuffix: domainSuffix,
		logger:       log.With("component", "walker"),
	}
}

// Walk fetches up to maxPages listing pages starting at initialURL and
// returns their products in page order. It stops early on a failed fetch,
// a page without products, a missing next link or a URL it already saw.
func (w *Walker) Walk(ctx context.Context, initialURL string, maxPages int) []models.Product {
	products, _ := w.WalkReport(ctx, initialURL, maxPages)
	return products
}

// WalkReport is Walk that also says why the walk ended.
func (w *Walker) WalkReport(ctx context.Context, initialURL string, maxPages int) ([]models.Product, StopReason) {
	products := make([]models.Product, 0)
	if strings.TrimSpace(initialURL) == "" {
		return products, StopNoStartURL
	}

	visited := make(map[string]struct{})
	current := initialURL
	reason := StopMaxPages

	for page := 1; page <= maxPages; page++ {
		if ctx.Err() != nil {
			reason = StopCancelled
			break
		}

		key := VisitKey(current)
		if _, seen := visited[key]; seen {
			w.logger.Warn("next link points at a visited page", "url", current, "page", page)
			reason = StopVisited
			break
		}
		visited[key] = struct{}{}

		w.logger.Info("scraping search page", "page", page, "max_pages", maxPages, "url", current)

		out := w.fetcher.Fetch(ctx, current, nil)
		if !out.OK() {
			w.logger.Warn("failed to fetch search page", "page", page, "outcome", out.Kind.String(), "reason", out.Reason)
			reason = StopFetch
			break
		}

		base := out.URL
		if base == "" {
			base = urlnorm.BaseURL(w.domainSuffix)
		}
		result := w.parser.ParseListing(string(out.Body), base, w.domainSuffix)
		if len(result.Products) == 0 {
			w.logger.Info("no products on page", "page", page)
			reason = StopEmptyPage
			break
		}

		products = append(products, result.Products...)
		w.logger.Info("found products on page", "page", page, "count", len(result.Products))
		if w.OnPage != nil {
			w.OnPage(PageResult{Number: page, URL: current, Products: len(result.Products), Total: len(products)})
		}

		if page >= maxPages {
			break
		}
		if result.NextURL == nil {
			w.logger.Info("no next page found", "page", page)
			reason = StopNoNext
			break
		}
		current = *result.NextURL
	}

	w.logger.Info("search completed", "total_products", len(products), "stop", string(reason))
	return products, reason
}

var trackingParams = map[string]bool{
	"ref":        true,
	"ref_":       true,
	"qid":        true,
	"sr":         true,
	"crid":       true,
	"sprefix":    true,
	"dib":        true,
	"dib_tag":    true,
	"_encoding":  true,
	"content-id": true,
}

// VisitKey reduces a listing URL to the form used for loop detection:
// lower-cased host, no fragment, no "/ref=..." path segment and no
// tracking query parameters. Remaining parameters are sorted.
func VisitKey(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return rawURL
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	segments := strings.Split(u.Path, "/")
	kept := segments[:0]
	for _, seg := range segments {
		if strings.HasPrefix(seg, "ref=") {
			continue
		}
		kept = append(kept, seg)
	}
	u.Path = strings.Join(kept, "/")
	u.RawPath = ""

	q := u.Query()
	for name := range q {
		if trackingParams[strings.ToLower(name)] || strings.HasPrefix(name, "pd_rd_") || strings.HasPrefix(name, "pf_rd_") {
			q.Del(name)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
