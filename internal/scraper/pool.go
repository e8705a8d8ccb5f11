package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrPoolClosed = errors.New("scraper pool closed")

// Factory builds one scraper with its own fetch session.
type Factory func() (*Scraper, error)

// Pool lends scrapers to concurrent callers. A scraper is only ever used by
// the goroutine holding it.
type Pool struct {
	idle chan *Scraper
	size int

	done      chan struct{}
	closeOnce sync.Once
}

func NewPool(size int, factory Factory) (*Pool, error) {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		idle: make(chan *Scraper, size),
		size: size,
		done: make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		s, err := factory()
		if err != nil {
			return nil, fmt.Errorf("failed to create scraper %d: %w", i, err)
		}
		p.idle <- s
	}
	return p, nil
}

func (p *Pool) Size() int {
	return p.size
}

// Acquire blocks until a scraper is free, ctx ends or the pool is closed.
func (p *Pool) Acquire(ctx context.Context) (*Scraper, error) {
	select {
	case <-p.done:
		return nil, ErrPoolClosed
	default:
	}

	select {
	case s := <-p.idle:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, ErrPoolClosed
	}
}

func (p *Pool) Release(s *Scraper) {
	if s == nil {
		return
	}
	select {
	case p.idle <- s:
	default:
	}
}

// Do runs fn with a pooled scraper.
func (p *Pool) Do(ctx context.Context, fn func(*Scraper)) error {
	s, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(s)
	fn(s)
	return nil
}

// Close makes pending and future Acquire calls fail.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}
