package jobs

import (
	"context"
	"fmt"

	"github.com/maltedev/amazon-product-scraper/internal/scraper"
)

// Start launches the workers. They run until ctx ends or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	m.logger.Info("job workers starting", "workers", m.opts.Workers, "queue_size", m.opts.QueueSize)
	for i := 0; i < m.opts.Workers; i++ {
		m.wg.Add(1)
		go m.worker(ctx, i)
	}
}

// Stop closes the queue and waits for running jobs to finish. Jobs still
// queued are left pending.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("job workers stopped")
}

func (m *Manager) worker(ctx context.Context, n int) {
	defer m.wg.Done()
	log := m.logger.With("worker", n)

	for {
		select {
		case <-ctx.Done():
			log.Info("job worker stopping")
			return
		case id, ok := <-m.queue:
			if !ok {
				return
			}
			m.process(ctx, id)
		}
	}
}

func (m *Manager) process(ctx context.Context, id string) {
	var req scraper.SearchRequest
	started := m.now().UTC()
	m.update(id, func(j *Job) {
		j.Status = StatusRunning
		j.StartedAt = &started
		req = scraper.SearchRequest{Query: j.Query, URL: j.URL, MaxPages: j.MaxPages}
	})
	m.logger.Info("processing job", "id", id, "query", req.Query, "url", req.URL)

	onPage := func(p scraper.PageResult) {
		m.update(id, func(j *Job) {
			j.PagesScraped = p.Number
			j.ProductsFound = p.Total
		})
	}

	result, err := m.exec(ctx, req, onPage)
	if err == nil && m.sink != nil && len(result.Products) > 0 {
		if serr := m.sink.UpsertProducts(ctx, result.Products); serr != nil {
			err = fmt.Errorf("failed to save products: %w", serr)
		}
	}

	completed := m.now().UTC()
	m.update(id, func(j *Job) {
		j.CompletedAt = &completed
		j.Products = result.Products
		j.ProductsFound = len(result.Products)
		j.PagesScraped = result.Pages
		j.StopReason = string(result.Stop)
		if err != nil {
			j.Status = StatusFailed
			j.Error = err.Error()
			return
		}
		j.Status = StatusCompleted
	})

	m.mu.Lock()
	m.pruneLocked()
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("job failed", "id", id, "error", err)
		return
	}
	m.logger.Info("job completed", "id", id, "products", len(result.Products), "pages", result.Pages, "stop", string(result.Stop))
}

// PoolExecutor runs searches on scrapers borrowed from pool.
func PoolExecutor(pool *scraper.Pool) Executor {
	return func(ctx context.Context, req scraper.SearchRequest, onPage func(scraper.PageResult)) (scraper.SearchResult, error) {
		var result scraper.SearchResult
		err := pool.Do(ctx, func(s *scraper.Scraper) {
			result = s.SearchReport(ctx, req, onPage)
		})
		return result, err
	}
}
