package fetch

import (
	"context"
	"crypto/x509"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/amazon-product-scraper/internal/config"
	"github.com/maltedev/amazon-product-scraper/internal/identity"
	"github.com/maltedev/amazon-product-scraper/internal/ratelimit"
)

const (
	productURL  = "https://www.amazon.com/dp/B000000001"
	captchaPage = `<html><body><form action="/errors/validateCaptcha">Type the characters you see</form></body></html>`
	productPage = `<html><body><span id="productTitle">Widget</span></body></html>`
)

type step struct {
	status int
	body   string
	err    error
}

type scriptedTransport struct {
	mu    sync.Mutex
	steps []step
	reqs  []*Request
}

func (s *scriptedTransport) Do(_ context.Context, req *Request) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reqs = append(s.reqs, req)
	i := len(s.reqs) - 1
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	st := s.steps[i]
	if st.err != nil {
		return nil, st.err
	}
	return &Response{StatusCode: st.status, Body: []byte(st.body), FinalURL: req.URL}, nil
}

type recordingSleeper struct {
	slept []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.slept = append(r.slept, d)
	return nil
}

func networkError() error {
	return &url.Error{Op: "Get", URL: productURL, Err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}}
}

func newTestSession(t *testing.T, maxRetries int, tr Transport, opts ...Option) (*Session, *recordingSleeper) {
	t.Helper()

	cfg := config.DefaultSession()
	cfg.MaxRetries = maxRetries
	cfg.DelayMin = time.Second
	cfg.DelayMax = time.Second

	sl := &recordingSleeper{}
	all := append([]Option{
		WithTransport(tr),
		WithSleeper(sl),
		WithPacer(ratelimit.NewPacer(time.Second, time.Second)),
	}, opts...)

	s, err := NewSession(cfg, "com", all...)
	require.NoError(t, err)
	return s, sl
}

func secs(f ...float64) []time.Duration {
	out := make([]time.Duration, len(f))
	for i, v := range f {
		out[i] = time.Duration(v * float64(time.Second))
	}
	return out
}

func TestFetchScenarios(t *testing.T) {
	tests := []struct {
		name         string
		maxRetries   int
		steps        []step
		wantKind     Kind
		wantStatus   int
		wantAttempts int
		wantSleeps   []time.Duration
		wantErr      error
	}{
		{
			name:         "success first try",
			maxRetries:   3,
			steps:        []step{{status: 200, body: productPage}},
			wantKind:     Success,
			wantStatus:   200,
			wantAttempts: 1,
			wantSleeps:   secs(1),
		},
		{
			name:         "always blocked exhausts attempts",
			maxRetries:   2,
			steps:        []step{{status: 200, body: captchaPage}},
			wantKind:     Blocked,
			wantStatus:   200,
			wantAttempts: 3,
			wantSleeps:   secs(1, 3, 1.5, 4.5, 2),
			wantErr:      ErrBlocked,
		},
		{
			name:         "blocked then success",
			maxRetries:   3,
			steps:        []step{{status: 200, body: captchaPage}, {status: 200, body: productPage}},
			wantKind:     Success,
			wantStatus:   200,
			wantAttempts: 2,
			wantSleeps:   secs(1, 3, 1.5),
		},
		{
			name:         "network error then success",
			maxRetries:   3,
			steps:        []step{{err: networkError()}, {status: 200, body: productPage}},
			wantKind:     Success,
			wantStatus:   200,
			wantAttempts: 2,
			wantSleeps:   secs(1, 2, 1.5),
		},
		{
			name:         "network errors exhaust attempts",
			maxRetries:   1,
			steps:        []step{{err: networkError()}},
			wantKind:     TransientError,
			wantAttempts: 2,
			wantSleeps:   secs(1, 2, 1.5),
			wantErr:      ErrTransient,
		},
		{
			name:         "server error retried without penalty",
			maxRetries:   3,
			steps:        []step{{status: 503, body: "unavailable"}, {status: 200, body: productPage}},
			wantKind:     Success,
			wantStatus:   200,
			wantAttempts: 2,
			wantSleeps:   secs(1, 1.5),
		},
		{
			name:         "server error on last attempt is classified",
			maxRetries:   0,
			steps:        []step{{status: 503, body: "unavailable"}},
			wantKind:     Success,
			wantStatus:   503,
			wantAttempts: 1,
			wantSleeps:   secs(1),
		},
		{
			name:         "blocked server error on last attempt",
			maxRetries:   1,
			steps:        []step{{status: 503, body: "x"}, {status: 503, body: captchaPage}},
			wantKind:     Blocked,
			wantStatus:   503,
			wantAttempts: 2,
			wantSleeps:   secs(1, 1.5),
			wantErr:      ErrBlocked,
		},
		{
			name:         "client error is not retried",
			maxRetries:   3,
			steps:        []step{{status: 404, body: "<html>not found</html>"}},
			wantKind:     Success,
			wantStatus:   404,
			wantAttempts: 1,
			wantSleeps:   secs(1),
		},
		{
			name:         "certificate failure is fatal",
			maxRetries:   3,
			steps:        []step{{err: &url.Error{Op: "Get", URL: productURL, Err: x509.UnknownAuthorityError{}}}},
			wantKind:     FatalError,
			wantAttempts: 1,
			wantSleeps:   secs(1),
			wantErr:      ErrFatal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &scriptedTransport{steps: tt.steps}
			s, sl := newTestSession(t, tt.maxRetries, tr)

			out := s.Fetch(context.Background(), productURL, nil)

			assert.Equal(t, tt.wantKind, out.Kind, out.Kind.String())
			assert.Equal(t, tt.wantStatus, out.StatusCode)
			assert.Equal(t, tt.wantAttempts, out.Attempts)
			assert.Len(t, tr.reqs, tt.wantAttempts)
			assert.Equal(t, tt.wantSleeps, sl.slept)
			assert.Equal(t, productURL, out.URL)

			if tt.wantErr == nil {
				assert.NoError(t, out.Error())
			} else {
				assert.ErrorIs(t, out.Error(), tt.wantErr)
			}
			if out.Kind == Success {
				assert.NotEmpty(t, out.Body)
			}
		})
	}
}

func TestFetchCancelledDuringSleep(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{status: 200, body: productPage}}}
	s, _ := newTestSession(t, 3, tr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := s.Fetch(ctx, productURL, nil)
	assert.Equal(t, FatalError, out.Kind)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.ErrorIs(t, out.Error(), ErrFatal)
	assert.Empty(t, tr.reqs)
}

func TestFetchCancelledDuringAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	tr := TransportFunc(func(ctx context.Context, _ *Request) (*Response, error) {
		calls++
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s, _ := newTestSession(t, 3, tr)

	out := s.Fetch(ctx, productURL, nil)
	assert.Equal(t, FatalError, out.Kind)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, out.Err, context.Canceled)
}

func TestFetchAttemptTimeoutIsRetried(t *testing.T) {
	calls := 0
	tr := TransportFunc(func(ctx context.Context, req *Request) (*Response, error) {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return nil, &url.Error{Op: "Get", URL: req.URL, Err: ctx.Err()}
		}
		return &Response{StatusCode: 200, Body: []byte(productPage)}, nil
	})

	cfg := config.DefaultSession()
	cfg.RequestTimeout = 10 * time.Millisecond
	s, err := NewSession(cfg, "com",
		WithTransport(tr),
		WithSleeper(&recordingSleeper{}),
		WithPacer(ratelimit.NewPacer(0, 0)),
	)
	require.NoError(t, err)

	out := s.Fetch(context.Background(), productURL, nil)
	assert.Equal(t, Success, out.Kind)
	assert.Equal(t, 2, calls)
}

func TestFetchResolvesRelativeURL(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{status: 200, body: productPage}}}

	cfg := config.DefaultSession()
	s, err := NewSession(cfg, "co.uk", WithTransport(tr), WithSleeper(&recordingSleeper{}))
	require.NoError(t, err)

	out := s.Fetch(context.Background(), "/s?k=kettle&page=2", nil)
	require.True(t, out.OK())
	assert.Equal(t, "https://www.amazon.co.uk/s?k=kettle&page=2", tr.reqs[0].URL)
	assert.Equal(t, "en-GB,en;q=0.9", tr.reqs[0].Header.Get("Accept-Language"))
}

func TestFetchRejectsUnfetchableURL(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{status: 200}}}
	s, _ := newTestSession(t, 3, tr)

	out := s.Fetch(context.Background(), "ftp://files.example.com/x", nil)
	assert.Equal(t, FatalError, out.Kind)
	assert.Empty(t, tr.reqs)
}

func TestFetchHeaders(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{status: 200, body: productPage}}}
	s, _ := newTestSession(t, 3, tr)

	extra := http.Header{}
	extra.Set("user-agent", "custom-agent")
	extra.Set("Referer", "https://www.amazon.com/")

	out := s.Fetch(context.Background(), productURL, extra)
	require.True(t, out.OK())

	h := tr.reqs[0].Header
	assert.Equal(t, "custom-agent", h.Get("User-Agent"))
	assert.Equal(t, "https://www.amazon.com/", h.Get("Referer"))
	assert.NotEmpty(t, h.Get("Accept"))
	assert.Empty(t, h.Get("Accept-Encoding"))
}

func TestFetchRotatesProxies(t *testing.T) {
	tr := &scriptedTransport{steps: []step{{status: 503}, {status: 503}, {status: 200, body: productPage}}}

	cfg := config.DefaultSession()
	cfg.Proxies = []string{"http://p1:8080", "socks5://p2:1080"}
	s, err := NewSession(cfg, "com", WithTransport(tr), WithSleeper(&recordingSleeper{}))
	require.NoError(t, err)

	out := s.Fetch(context.Background(), productURL, nil)
	require.True(t, out.OK())
	require.Len(t, tr.reqs, 3)
	assert.Equal(t, "p1:8080", tr.reqs[0].Proxy.Host)
	assert.Equal(t, "p2:1080", tr.reqs[1].Proxy.Host)
	assert.Equal(t, "p1:8080", tr.reqs[2].Proxy.Host)
}

func TestFetchIdentityRotation(t *testing.T) {
	blockedTwice := func() *scriptedTransport {
		return &scriptedTransport{steps: []step{{status: 200, body: captchaPage}, {status: 200, body: captchaPage}, {status: 200, body: productPage}}}
	}
	uas := func(tr *scriptedTransport) []string {
		var out []string
		for _, r := range tr.reqs {
			out = append(out, r.Header.Get("User-Agent"))
		}
		return out
	}

	t.Run("sticky keeps the default profile", func(t *testing.T) {
		rot, err := identity.NewRotatorWithSource("chrome119", identity.Sticky, rand.NewSource(7))
		require.NoError(t, err)
		tr := blockedTwice()
		s, _ := newTestSession(t, 3, tr, WithRotator(rot))

		require.True(t, s.Fetch(context.Background(), productURL, nil).OK())
		def, _ := identity.Lookup("chrome119")
		got := uas(tr)
		assert.Equal(t, []string{def.UserAgent, def.UserAgent, def.UserAgent}, got)
	})

	t.Run("per-request rotates after a block", func(t *testing.T) {
		rot, err := identity.NewRotatorWithSource("chrome119", identity.PerRequest, rand.NewSource(7))
		require.NoError(t, err)
		tr := blockedTwice()
		s, _ := newTestSession(t, 3, tr, WithRotator(rot))

		require.True(t, s.Fetch(context.Background(), productURL, nil).OK())
		got := uas(tr)
		assert.NotEqual(t, got[0], got[1])
		assert.NotEqual(t, got[1], got[2])
	})
}

func TestFetchStartsOnConfiguredProfile(t *testing.T) {
	safari, ok := identity.Lookup("safari17_0")
	require.True(t, ok)

	for _, policy := range []identity.Policy{identity.PerRequest, identity.PerAttempt, identity.Sticky} {
		t.Run(string(policy), func(t *testing.T) {
			cfg := config.DefaultSession()
			cfg.Impersonate = "safari17_0"
			cfg.Rotation = policy

			tr := &scriptedTransport{steps: []step{{status: 200, body: productPage}}}
			s, err := NewSession(cfg, "com",
				WithTransport(tr),
				WithSleeper(&recordingSleeper{}),
				WithPacer(ratelimit.NewPacer(time.Second, time.Second)),
			)
			require.NoError(t, err)

			require.True(t, s.Fetch(context.Background(), productURL, nil).OK())
			require.True(t, s.Fetch(context.Background(), productURL, nil).OK())

			require.Len(t, tr.reqs, 2)
			assert.Equal(t, safari.UserAgent, tr.reqs[0].Header.Get("User-Agent"))
			if policy == identity.Sticky {
				assert.Equal(t, safari.UserAgent, tr.reqs[1].Header.Get("User-Agent"))
			} else {
				assert.NotEqual(t, safari.UserAgent, tr.reqs[1].Header.Get("User-Agent"))
			}
		})
	}
}

func TestFetchMetrics(t *testing.T) {
	m := NewMetrics()
	tr := &scriptedTransport{steps: []step{{status: 200, body: captchaPage}, {err: networkError()}, {status: 200, body: productPage}}}
	s, _ := newTestSession(t, 3, tr, WithMetrics(m))

	require.True(t, s.Fetch(context.Background(), productURL, nil).OK())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AttemptsTotal.WithLabelValues("blocked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AttemptsTotal.WithLabelValues("network")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AttemptsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetriesTotal.WithLabelValues("blocked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutcomesTotal.WithLabelValues("success")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncAttempt("ok")
		m.IncRetry("blocked")
		m.IncOutcome(Success)
		m.ObserveAttempt(time.Second)
	})
}

func TestNewSessionRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultSession()
	cfg.Proxies = []string{"gopher://old:70"}

	_, err := NewSession(cfg, "com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported proxy scheme")
}
