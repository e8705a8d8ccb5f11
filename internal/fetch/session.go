// Package fetch implements the anti-bot aware fetch session: identity
// rotation, paced retries, block detection and terminal outcome
// classification.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/maltedev/amazon-product-scraper/internal/config"
	"github.com/maltedev/amazon-product-scraper/internal/detect"
	"github.com/maltedev/amazon-product-scraper/internal/identity"
	"github.com/maltedev/amazon-product-scraper/internal/logger"
	"github.com/maltedev/amazon-product-scraper/internal/ratelimit"
	"github.com/maltedev/amazon-product-scraper/internal/urlnorm"
)

const (
	networkPenalty = 2
	blockedPenalty = 3
)

// Session fetches pages from one storefront. It is meant to be owned by a
// single goroutine; concurrent calls are serialized.
type Session struct {
	mu sync.Mutex

	cfg            config.Session
	domainSuffix   string
	acceptLanguage string

	transport Transport
	rotator   *identity.Rotator
	pacer     *ratelimit.Pacer
	sleeper   ratelimit.Sleeper
	metrics   *Metrics
	logger    *slog.Logger

	proxies   []*url.URL
	nextProxy int
}

type Option func(*Session)

func WithTransport(t Transport) Option {
	return func(s *Session) { s.transport = t }
}

func WithSleeper(sl ratelimit.Sleeper) Option {
	return func(s *Session) { s.sleeper = sl }
}

func WithPacer(p *ratelimit.Pacer) Option {
	return func(s *Session) { s.pacer = p }
}

func WithRotator(r *identity.Rotator) Option {
	return func(s *Session) { s.rotator = r }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithAcceptLanguage overrides the storefront-derived Accept-Language.
func WithAcceptLanguage(v string) Option {
	return func(s *Session) { s.acceptLanguage = v }
}

// NewSession validates cfg and builds a session for the storefront with the
// given domain suffix ("com", "co.uk", ...).
func NewSession(cfg config.Session, domainSuffix string, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	if domainSuffix == "" {
		domainSuffix = urlnorm.DefaultDomainSuffix
	}

	s := &Session{
		cfg:            cfg,
		domainSuffix:   domainSuffix,
		acceptLanguage: identity.AcceptLanguage(domainSuffix),
		sleeper:        ratelimit.ClockSleeper{},
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, raw := range cfg.Proxies {
		p, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy %q: %w", raw, err)
		}
		s.proxies = append(s.proxies, p)
	}

	if s.logger == nil {
		s.logger = logger.Discard()
	}
	s.logger = s.logger.With("component", "fetch", "domain", domainSuffix)

	if s.pacer == nil {
		s.pacer = ratelimit.NewPacer(cfg.DelayMin, cfg.DelayMax)
	}
	if s.rotator == nil {
		r, err := identity.NewRotator(cfg.Impersonate, cfg.Rotation)
		if err != nil {
			return nil, err
		}
		s.rotator = r
	}
	if s.transport == nil {
		t, err := NewRestyTransport(nil)
		if err != nil {
			return nil, err
		}
		s.transport = t
	}

	return s, nil
}

func (s *Session) Config() config.Session {
	return s.cfg
}

func (s *Session) DomainSuffix() string {
	return s.domainSuffix
}

// Fetch retrieves rawURL, retrying per the session configuration, and
// returns the terminal outcome. Relative URLs are resolved against the
// storefront root. Headers in extra override the identity headers.
func (s *Session) Fetch(ctx context.Context, rawURL string, extra http.Header) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.fetch(ctx, rawURL, extra)
	s.metrics.IncOutcome(out.Kind)

	log := s.logger.With("url", out.URL, "attempts", out.Attempts, "outcome", out.Kind.String())
	switch out.Kind {
	case Success:
		log.Debug("fetch complete", "status", out.StatusCode, "bytes", len(out.Body))
	case Blocked:
		log.Warn("fetch blocked", "reason", out.Reason)
	default:
		log.Warn("fetch failed", "reason", out.Reason, "error", out.Err)
	}
	return out
}

func (s *Session) fetch(ctx context.Context, rawURL string, extra http.Header) Outcome {
	target := urlnorm.Resolve(urlnorm.BaseURL(s.domainSuffix)+"/", rawURL)
	if u, err := url.Parse(target); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return Outcome{Kind: FatalError, URL: rawURL, Reason: "invalid url", Err: fmt.Errorf("%w: cannot fetch %q", ErrFatal, rawURL)}
	}

	attempts := s.cfg.Attempts()
	profile := s.rotator.BeginRequest()
	last := Outcome{Kind: TransientError, URL: target}

	for attempt := 0; attempt < attempts; attempt++ {
		if s.rotator.Policy() == identity.PerAttempt {
			profile = s.rotator.BeginAttempt()
		}
		remaining := attempt < attempts-1

		delay := s.pacer.Delay(attempt)
		if err := s.sleeper.Sleep(ctx, delay); err != nil {
			return cancelled(target, attempt, err)
		}

		req := &Request{
			URL:     target,
			Header:  mergeHeaders(profile.Headers(s.acceptLanguage), extra),
			Attempt: attempt,
			Proxy:   s.pickProxy(),
		}

		log := s.logger.With("url", target, "attempt", attempt+1, "of", attempts, "profile", profile.String())
		log.Debug("fetch attempt", "delay", delay)

		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		start := time.Now()
		resp, err := s.transport.Do(attemptCtx, req)
		cancel()
		s.metrics.ObserveAttempt(time.Since(start))

		if err != nil {
			if ctx.Err() != nil {
				return cancelled(target, attempt+1, ctx.Err())
			}
			s.metrics.IncAttempt(attemptLabel(err))
			if IsFatal(err) {
				return Outcome{Kind: FatalError, URL: target, Reason: "non-retryable transport error", Err: err, Attempts: attempt + 1, Profile: profile.Name}
			}

			last = Outcome{Kind: TransientError, URL: target, Reason: "network error", Err: err, Attempts: attempt + 1, Profile: profile.Name}
			if !remaining {
				break
			}
			log.Warn("network error, retrying", "error", err)
			s.metrics.IncRetry("network")
			if err := s.sleeper.Sleep(ctx, networkPenalty*delay); err != nil {
				return cancelled(target, attempt+1, err)
			}
			profile = s.rotator.OnFailure()
			continue
		}

		if resp.StatusCode >= 500 && remaining {
			log.Warn("server error, retrying", "status", resp.StatusCode)
			s.metrics.IncAttempt("server_error")
			s.metrics.IncRetry("server_error")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			log.Warn("unexpected status", "status", resp.StatusCode)
		}

		if verdict := detect.Classify(string(resp.Body)); verdict.Blocked {
			s.metrics.IncAttempt("blocked")
			last = Outcome{Kind: Blocked, URL: target, StatusCode: resp.StatusCode, Reason: verdict.Reason, Attempts: attempt + 1, Profile: profile.Name}
			if !remaining {
				break
			}
			log.Warn("blocked, retrying with new identity", "reason", verdict.Reason)
			s.metrics.IncRetry("blocked")
			if err := s.sleeper.Sleep(ctx, blockedPenalty*delay); err != nil {
				return cancelled(target, attempt+1, err)
			}
			profile = s.rotator.OnFailure()
			continue
		}

		s.metrics.IncAttempt("ok")
		return Outcome{
			Kind:       Success,
			URL:        target,
			StatusCode: resp.StatusCode,
			Body:       resp.Body,
			Attempts:   attempt + 1,
			Profile:    profile.Name,
		}
	}

	return last
}

func (s *Session) pickProxy() *url.URL {
	if len(s.proxies) == 0 {
		return nil
	}
	p := s.proxies[s.nextProxy%len(s.proxies)]
	s.nextProxy++
	return p
}

func cancelled(target string, attempts int, err error) Outcome {
	return Outcome{Kind: FatalError, URL: target, Reason: "cancelled", Err: err, Attempts: attempts}
}

func mergeHeaders(base, extra http.Header) http.Header {
	for key, values := range extra {
		base[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
	}
	return base
}
