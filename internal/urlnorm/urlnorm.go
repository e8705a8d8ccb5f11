// Package urlnorm extracts product identifiers from Amazon URLs and builds
// canonical product, base and search URLs from them.
package urlnorm

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrNotRecognized is returned for any input that is not an Amazon product URL.
var ErrNotRecognized = errors.New("not a recognized Amazon product URL")

const DefaultDomainSuffix = "com"

var (
	asinPathPattern = regexp.MustCompile(`(?:^|/)(?:dp|gp/product)/([A-Z0-9]{10})(?:/|$)`)
	asinPattern     = regexp.MustCompile(`^[A-Z0-9]{10}$`)
)

// storefronts are the domain suffixes of the Amazon retail sites.
var storefronts = map[string]bool{
	"com": true, "ca": true, "com.mx": true, "com.br": true,
	"co.uk": true, "ie": true, "de": true, "fr": true, "it": true, "es": true,
	"nl": true, "se": true, "pl": true, "com.be": true, "com.tr": true,
	"ae": true, "sa": true, "eg": true, "in": true, "co.jp": true,
	"sg": true, "com.au": true, "cn": true, "co.za": true,
}

// KnownSuffix reports whether suffix names an Amazon storefront.
func KnownSuffix(suffix string) bool {
	return storefronts[suffix]
}

// Parsed is the result of a successful Normalize call.
type Parsed struct {
	DomainSuffix string
	ASIN         string
}

// Normalize extracts the domain suffix and the 10 character identifier from
// an arbitrary Amazon product URL. Any malformed input yields ErrNotRecognized.
func Normalize(rawURL string) (Parsed, error) {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return Parsed{}, ErrNotRecognized
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Parsed{}, ErrNotRecognized
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Parsed{}, ErrNotRecognized
	}

	suffix, ok := DomainSuffix(u.Hostname())
	if !ok {
		return Parsed{}, ErrNotRecognized
	}

	asin, ok := ASINFromPath(u.Path)
	if !ok {
		return Parsed{}, ErrNotRecognized
	}

	return Parsed{DomainSuffix: suffix, ASIN: asin}, nil
}

// DomainSuffix returns "co.uk" for "www.amazon.co.uk".
func DomainSuffix(host string) (string, bool) {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	host = strings.TrimPrefix(host, "www.")
	suffix, found := strings.CutPrefix(host, "amazon.")
	if !found || !storefronts[suffix] {
		return "", false
	}
	return suffix, true
}

// ASINFromPath finds the identifier after /dp/ or /gp/product/ in a path or
// href. Query strings and fragments are ignored.
func ASINFromPath(path string) (string, bool) {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if u, err := url.Parse(path); err == nil && u.Host != "" {
		path = u.Path
	}
	m := asinPathPattern.FindStringSubmatch(path)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}

// ValidASIN reports whether s has the shape of a product identifier.
func ValidASIN(s string) bool {
	return asinPattern.MatchString(s)
}

// Canonicalize builds https://www.amazon.<suffix>/dp/<asin>.
func Canonicalize(asin, domainSuffix string) string {
	return fmt.Sprintf("%s/dp/%s", BaseURL(domainSuffix), asin)
}

// BaseURL returns the site root without a trailing slash.
func BaseURL(domainSuffix string) string {
	if domainSuffix == "" {
		domainSuffix = DefaultDomainSuffix
	}
	return "https://www.amazon." + domainSuffix
}

// SearchURL builds the first result page for a free-text query.
func SearchURL(domainSuffix, query string) string {
	return BaseURL(domainSuffix) + "/s?k=" + url.QueryEscape(strings.TrimSpace(query))
}

// Resolve turns a possibly relative href into an absolute URL on the given
// site. Unparseable hrefs are returned unchanged.
func Resolve(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}
