// Package cache keeps recently scraped products so repeated lookups of the
// same ASIN do not hit the storefront again.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maltedev/amazon-product-scraper/internal/logger"
	"github.com/maltedev/amazon-product-scraper/internal/models"
	"github.com/maltedev/amazon-product-scraper/internal/urlnorm"
)

var ErrMiss = errors.New("cache miss")

// Cache stores products by key. Get returns ErrMiss when nothing is stored.
type Cache interface {
	Get(ctx context.Context, key string) (*models.Product, error)
	Set(ctx context.Context, key string, p *models.Product) error
}

// Key derives the cache key for a product URL. Every URL form of the same
// product on the same storefront maps to one key.
func Key(rawURL string) (string, error) {
	parsed, err := urlnorm.Normalize(rawURL)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("product:%s:%s", parsed.DomainSuffix, parsed.ASIN), nil
}

// GetOrLoad returns the cached product for key or calls load and stores a
// non-nil result. Cache failures are logged and never fail the lookup.
func GetOrLoad(ctx context.Context, c Cache, key string, log *slog.Logger, load func(context.Context) *models.Product) *models.Product {
	if c == nil {
		return load(ctx)
	}
	if log == nil {
		log = logger.Discard()
	}

	p, err := c.Get(ctx, key)
	if err == nil {
		log.Debug("cache hit", "key", key)
		return p
	}
	if !errors.Is(err, ErrMiss) {
		log.Warn("cache read failed", "key", key, "error", err)
	}

	p = load(ctx)
	if p == nil {
		return nil
	}
	if err := c.Set(ctx, key, p); err != nil {
		log.Warn("cache write failed", "key", key, "error", err)
	}
	return p
}

// Layered checks caches in order and copies a hit into the faster layers
// that missed.
type Layered []Cache

func (l Layered) Get(ctx context.Context, key string) (*models.Product, error) {
	var errs []error
	for i, c := range l {
		p, err := c.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, ErrMiss) {
				errs = append(errs, err)
			}
			continue
		}
		for _, faster := range l[:i] {
			_ = faster.Set(ctx, key, p)
		}
		return p, nil
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return nil, ErrMiss
}

func (l Layered) Set(ctx context.Context, key string, p *models.Product) error {
	var errs []error
	for _, c := range l {
		if err := c.Set(ctx, key, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
