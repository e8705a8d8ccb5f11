package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/amazon-product-scraper/internal/models"
	"github.com/maltedev/amazon-product-scraper/internal/urlnorm"
)

const productColumns = `asin, url, title, price, currency, brand, image_url, rating,
	review_count, badge, delivery_info, color_variants, discount_percent,
	original_price, prime, deal, scraped_at`

const upsertProduct = `
	INSERT INTO products (domain, ` + productColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	ON CONFLICT (domain, asin) DO UPDATE SET
		url = EXCLUDED.url,
		title = COALESCE(EXCLUDED.title, products.title),
		price = EXCLUDED.price,
		currency = COALESCE(EXCLUDED.currency, products.currency),
		brand = COALESCE(EXCLUDED.brand, products.brand),
		image_url = COALESCE(EXCLUDED.image_url, products.image_url),
		rating = COALESCE(EXCLUDED.rating, products.rating),
		review_count = COALESCE(EXCLUDED.review_count, products.review_count),
		badge = EXCLUDED.badge,
		delivery_info = EXCLUDED.delivery_info,
		color_variants = EXCLUDED.color_variants,
		discount_percent = EXCLUDED.discount_percent,
		original_price = EXCLUDED.original_price,
		prime = EXCLUDED.prime,
		deal = EXCLUDED.deal,
		scraped_at = EXCLUDED.scraped_at,
		updated_at = CURRENT_TIMESTAMP`

// UpsertProduct stores p, keyed by storefront and ASIN. Descriptive fields
// the new scrape did not find keep their previous values.
func (db *DB) UpsertProduct(ctx context.Context, p *models.Product) error {
	args, err := upsertArgs(p)
	if err != nil {
		return err
	}
	if _, err := db.pool.Exec(ctx, upsertProduct, args...); err != nil {
		return fmt.Errorf("failed to upsert product %s: %w", p.ASIN, err)
	}
	return nil
}

// UpsertProducts stores a batch in one transaction.
func (db *DB) UpsertProducts(ctx context.Context, products []models.Product) error {
	if len(products) == 0 {
		return nil
	}

	return db.WithTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for i := range products {
			args, err := upsertArgs(&products[i])
			if err != nil {
				return err
			}
			batch.Queue(upsertProduct, args...)
		}

		results := tx.SendBatch(ctx, batch)
		for i := range products {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("failed to upsert product %s: %w", products[i].ASIN, err)
			}
		}
		return results.Close()
	})
}

// GetProduct returns nil, nil when the product is not stored.
func (db *DB) GetProduct(ctx context.Context, domain, asin string) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE domain = $1 AND asin = $2`

	p, err := scanProduct(db.pool.QueryRow(ctx, query, domain, asin))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

// ListProducts returns the most recently scraped products first.
func (db *DB) ListProducts(ctx context.Context, limit, offset int) ([]models.Product, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + productColumns + ` FROM products ORDER BY scraped_at DESC LIMIT $1 OFFSET $2`

	rows, err := db.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	products := make([]models.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func (db *DB) CountProducts(ctx context.Context) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return n, nil
}

func upsertArgs(p *models.Product) ([]any, error) {
	domain, err := DomainOf(p.URL)
	if err != nil {
		return nil, err
	}
	variants := p.ColorVariants
	if variants == nil {
		variants = []models.ColorVariant{}
	}
	variantsJSON, err := json.Marshal(variants)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal color variants: %w", err)
	}

	return []any{
		domain, p.ASIN, p.URL, p.Title, p.Price, p.Currency, p.Brand, p.ImageURL, p.Rating,
		p.ReviewCount, p.Badge, p.Delivery, variantsJSON, p.DiscountPercent,
		p.OriginalPrice, p.Prime, p.Deal, p.ScrapedAt,
	}, nil
}

func scanProduct(row pgx.Row) (*models.Product, error) {
	p := &models.Product{}
	var variantsJSON []byte
	err := row.Scan(
		&p.ASIN, &p.URL, &p.Title, &p.Price, &p.Currency, &p.Brand, &p.ImageURL, &p.Rating,
		&p.ReviewCount, &p.Badge, &p.Delivery, &variantsJSON, &p.DiscountPercent,
		&p.OriginalPrice, &p.Prime, &p.Deal, &p.ScrapedAt,
	)
	if err != nil {
		return nil, err
	}

	p.ColorVariants = []models.ColorVariant{}
	if len(variantsJSON) > 0 {
		if err := json.Unmarshal(variantsJSON, &p.ColorVariants); err != nil {
			return nil, fmt.Errorf("failed to unmarshal color variants: %w", err)
		}
	}
	return p, nil
}

// DomainOf returns the storefront suffix ("com", "co.uk") of a product URL.
func DomainOf(productURL string) (string, error) {
	u, err := url.Parse(productURL)
	if err != nil {
		return "", fmt.Errorf("invalid product url %q: %w", productURL, err)
	}
	suffix, ok := urlnorm.DomainSuffix(u.Hostname())
	if !ok {
		return "", fmt.Errorf("invalid product url %q: %w", productURL, urlnorm.ErrNotRecognized)
	}
	return suffix, nil
}
