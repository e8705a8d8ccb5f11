package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/maltedev/amazon-product-scraper/internal/models"
)

const (
	DefaultSize = 2048
	DefaultTTL  = 15 * time.Minute
)

// Memory is an in-process cache bounded by entry count and age.
type Memory struct {
	lru *expirable.LRU[string, models.Product]
}

func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{lru: expirable.NewLRU[string, models.Product](size, nil, ttl)}
}

// Get returns a copy of the stored product.
func (m *Memory) Get(_ context.Context, key string) (*models.Product, error) {
	p, ok := m.lru.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	return &p, nil
}

func (m *Memory) Set(_ context.Context, key string, p *models.Product) error {
	m.lru.Add(key, *p)
	return nil
}

func (m *Memory) Len() int {
	return m.lru.Len()
}
