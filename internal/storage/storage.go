// Package storage keeps scraped products in a JSON file so repeated CLI
// runs accumulate into one result set.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/maltedev/amazon-product-scraper/internal/models"
)

// FileStore is a product set keyed by product URL, persisted on every
// write.
type FileStore struct {
	mu       sync.RWMutex
	products map[string]models.Product
	filename string
}

// Open loads filename if it exists and starts empty otherwise.
func Open(filename string) (*FileStore, error) {
	fs := &FileStore{
		products: make(map[string]models.Product),
		filename: filename,
	}

	if err := fs.load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", filename, err)
	}

	return fs, nil
}

// Add stores products and reports how many were new and how many replaced
// an earlier record of the same product.
func (fs *FileStore) Add(products ...models.Product) (added, updated int, err error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for _, p := range products {
		if p.ASIN == "" || p.URL == "" {
			continue
		}
		if _, exists := fs.products[p.URL]; exists {
			updated++
		} else {
			added++
		}
		fs.products[p.URL] = p
	}

	if added+updated == 0 {
		return 0, 0, nil
	}
	return added, updated, fs.save()
}

func (fs *FileStore) Get(productURL string) (models.Product, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	p, ok := fs.products[productURL]
	return p, ok
}

// All returns the stored products, newest scrape first.
func (fs *FileStore) All() []models.Product {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	all := make([]models.Product, 0, len(fs.products))
	for _, p := range fs.products {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].ScrapedAt.Equal(all[j].ScrapedAt) {
			return all[i].URL < all[j].URL
		}
		return all[i].ScrapedAt.After(all[j].ScrapedAt)
	})
	return all
}

func (fs *FileStore) Len() int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return len(fs.products)
}

func (fs *FileStore) save() error {
	data, err := json.MarshalIndent(fs.products, "", "  ")
	if err != nil {
		return err
	}

	// write to a temp file first so a crash never leaves a truncated store
	tmpFile := fs.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return err
	}

	return os.Rename(tmpFile, fs.filename)
}

func (fs *FileStore) load() error {
	data, err := os.ReadFile(fs.filename)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, &fs.products)
}
