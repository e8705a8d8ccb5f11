// Package jobs runs search scrapes in the background and tracks their
// progress.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/amazon-product-scraper/internal/logger"
	"github.com/maltedev/amazon-product-scraper/internal/models"
	"github.com/maltedev/amazon-product-scraper/internal/scraper"
)

var (
	ErrQueueFull      = errors.New("job queue is full")
	ErrQueueClosed    = errors.New("job queue is closed")
	ErrInvalidRequest = errors.New("job needs a query or a URL")
	ErrNotFound       = errors.New("job not found")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is a search scrape and its progress.
type Job struct {
	ID            string           `json:"id"`
	Query         string           `json:"query,omitempty"`
	URL           string           `json:"url,omitempty"`
	MaxPages      int              `json:"max_pages"`
	Status        Status           `json:"status"`
	PagesScraped  int              `json:"pages_scraped"`
	ProductsFound int              `json:"products_found"`
	StopReason    string           `json:"stop_reason,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	Error         string           `json:"error,omitempty"`
	Products      []models.Product `json:"products,omitempty"`
}

// Executor runs one search. onPage reports progress after each page.
type Executor func(ctx context.Context, req scraper.SearchRequest, onPage func(scraper.PageResult)) (scraper.SearchResult, error)

// Sink receives the products of every finished job.
type Sink interface {
	UpsertProducts(ctx context.Context, products []models.Product) error
}

// Default retention of finished jobs.
const (
	DefaultRetain    = 500
	DefaultRetention = time.Hour
)

type Options struct {
	Workers   int
	QueueSize int
	// Retain caps how many completed or failed jobs are kept.
	Retain int
	// Retention is how long a finished job stays queryable.
	Retention time.Duration
}

type Manager struct {
	exec   Executor
	sink   Sink
	logger *slog.Logger
	opts   Options

	mu     sync.RWMutex
	jobs   map[string]*Job
	queue  chan string
	closed bool
	now    func() time.Time

	wg sync.WaitGroup
}

// NewManager builds a manager. sink may be nil.
func NewManager(exec Executor, sink Sink, opts Options, log *slog.Logger) *Manager {
	if log == nil {
		log = logger.Discard()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 100
	}
	if opts.Retain < 1 {
		opts.Retain = DefaultRetain
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	return &Manager{
		exec:   exec,
		sink:   sink,
		logger: log.With("component", "job_manager"),
		opts:   opts,
		jobs:   make(map[string]*Job),
		queue:  make(chan string, opts.QueueSize),
		now:    time.Now,
	}
}

// Submit validates req and queues a new job.
func (m *Manager) Submit(req scraper.SearchRequest) (*Job, error) {
	req.Query = strings.TrimSpace(req.Query)
	req.URL = strings.TrimSpace(req.URL)
	if req.Query == "" && req.URL == "" {
		return nil, ErrInvalidRequest
	}
	if req.MaxPages <= 0 {
		req.MaxPages = scraper.DefaultMaxPages
	}

	job := &Job{
		ID:        uuid.New().String(),
		Query:     req.Query,
		URL:       req.URL,
		MaxPages:  req.MaxPages,
		Status:    StatusPending,
		CreatedAt: m.now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrQueueClosed
	}
	m.pruneLocked()
	select {
	case m.queue <- job.ID:
	default:
		return nil, ErrQueueFull
	}
	m.jobs[job.ID] = job

	m.logger.Info("job created", "id", job.ID, "query", job.Query, "url", job.URL, "max_pages", job.MaxPages)
	return job.snapshot(true), nil
}

// Get returns a copy of the job including its products.
func (m *Manager) Get(id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return job.snapshot(true), nil
}

// List returns all jobs, newest first, without their products.
func (m *Manager) List() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		list = append(list, job.snapshot(false))
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list
}

// Stats counts jobs per status.
func (m *Manager) Stats() map[Status]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := map[Status]int{
		StatusPending:   0,
		StatusRunning:   0,
		StatusCompleted: 0,
		StatusFailed:    0,
	}
	for _, job := range m.jobs {
		stats[job.Status]++
	}
	return stats
}

func (m *Manager) update(id string, fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		fn(job)
	}
}

// pruneLocked drops finished jobs past the retention period, then the
// oldest finished jobs beyond the Retain cap. Pending and running jobs are
// never dropped.
func (m *Manager) pruneLocked() {
	cutoff := m.now().Add(-m.opts.Retention)

	var finished []*Job
	for id, job := range m.jobs {
		if job.CompletedAt == nil {
			continue
		}
		if job.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
			continue
		}
		finished = append(finished, job)
	}

	excess := len(finished) - m.opts.Retain
	if excess <= 0 {
		return
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].CompletedAt.Before(*finished[j].CompletedAt)
	})
	for _, job := range finished[:excess] {
		delete(m.jobs, job.ID)
	}
	m.logger.Debug("evicted finished jobs", "count", excess)
}

func (j *Job) snapshot(withProducts bool) *Job {
	c := *j
	c.Products = nil
	if withProducts && j.Products != nil {
		c.Products = append([]models.Product(nil), j.Products...)
	}
	return &c
}
