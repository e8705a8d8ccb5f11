package fetch

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/maltedev/amazon-product-scraper/internal/config"
)

func newMockedTransport(t *testing.T, limiter *rate.Limiter) (*RestyTransport, *httpmock.MockTransport) {
	t.Helper()

	tr, err := NewRestyTransport(limiter)
	require.NoError(t, err)

	mock := httpmock.NewMockTransport()
	tr.client.SetTransport(mock)
	return tr, mock
}

func TestRestyTransportSendsHeaders(t *testing.T) {
	tr, mock := newMockedTransport(t, nil)

	var got http.Header
	mock.RegisterResponder(http.MethodGet, productURL, func(req *http.Request) (*http.Response, error) {
		got = req.Header.Clone()
		return httpmock.NewStringResponse(200, productPage), nil
	})

	h := http.Header{}
	h.Set("User-Agent", "test-agent")
	h.Set("Sec-Ch-Ua-Platform", `"Windows"`)

	resp, err := tr.Do(context.Background(), &Request{URL: productURL, Header: h})
	require.NoError(t, err)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, productPage, string(resp.Body))
	assert.Equal(t, productURL, resp.FinalURL)
	assert.Equal(t, "test-agent", got.Get("User-Agent"))
	assert.Equal(t, `"Windows"`, got.Get("Sec-Ch-Ua-Platform"))
}

func TestRestyTransportPassesErrorStatuses(t *testing.T) {
	tr, mock := newMockedTransport(t, nil)
	mock.RegisterResponder(http.MethodGet, productURL, httpmock.NewStringResponder(503, "busy"))

	resp, err := tr.Do(context.Background(), &Request{URL: productURL, Header: http.Header{}})
	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode)
	assert.Equal(t, "busy", string(resp.Body))
}

func TestRestyTransportKeepsCookies(t *testing.T) {
	tr, mock := newMockedTransport(t, nil)

	var cookies []string
	mock.RegisterResponder(http.MethodGet, productURL, func(req *http.Request) (*http.Response, error) {
		cookies = append(cookies, req.Header.Get("Cookie"))
		resp := httpmock.NewStringResponse(200, productPage)
		resp.Header.Set("Set-Cookie", "session-id=abc123; Path=/; Domain=.amazon.com")
		return resp, nil
	})

	for i := 0; i < 2; i++ {
		_, err := tr.Do(context.Background(), &Request{URL: productURL, Header: http.Header{}})
		require.NoError(t, err)
	}

	require.Len(t, cookies, 2)
	assert.Empty(t, cookies[0])
	assert.Equal(t, "session-id=abc123", cookies[1])
}

func TestRestyTransportWaitsOnLimiter(t *testing.T) {
	limiter := rate.NewLimiter(rate.Limit(1), 1)
	tr, mock := newMockedTransport(t, limiter)
	mock.RegisterResponder(http.MethodGet, productURL, httpmock.NewStringResponder(200, productPage))

	_, err := tr.Do(context.Background(), &Request{URL: productURL, Header: http.Header{}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = tr.Do(ctx, &Request{URL: productURL, Header: http.Header{}})
	assert.Error(t, err)
	assert.Equal(t, 1, mock.GetTotalCallCount())
}

func TestRestyTransportNetworkError(t *testing.T) {
	tr, mock := newMockedTransport(t, nil)
	mock.RegisterResponder(http.MethodGet, productURL, httpmock.NewErrorResponder(networkError()))

	_, err := tr.Do(context.Background(), &Request{URL: productURL, Header: http.Header{}})
	require.Error(t, err)
	assert.False(t, IsFatal(err))
}

func TestProxyFromRequest(t *testing.T) {
	tests := []struct {
		name    string
		proxy   string
		want    string
		wantErr bool
	}{
		{"none", "", "", false},
		{"http", "http://user:pw@p1:8080", "p1:8080", false},
		{"socks", "socks5://p2:1080", "p2:1080", false},
		{"unsupported", "gopher://p3:70", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.proxy != "" {
				p, err := url.Parse(tt.proxy)
				require.NoError(t, err)
				ctx = withProxy(ctx, p)
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, productURL, nil)
			require.NoError(t, err)

			got, err := proxyFromRequest(req)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrFatal)
				return
			}
			require.NoError(t, err)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			assert.Equal(t, tt.want, got.Host)
		})
	}
}

func TestSessionOverRestyTransportBlocked(t *testing.T) {
	tr, mock := newMockedTransport(t, nil)
	mock.RegisterResponder(http.MethodGet, productURL, httpmock.NewStringResponder(200, captchaPage))

	cfg := config.DefaultSession()
	cfg.MaxRetries = 2
	s, err := NewSession(cfg, "com", WithTransport(tr), WithSleeper(&recordingSleeper{}))
	require.NoError(t, err)

	out := s.Fetch(context.Background(), productURL, nil)
	assert.Equal(t, Blocked, out.Kind)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 3, mock.GetTotalCallCount())
	assert.ErrorIs(t, out.Error(), ErrBlocked)
}

func TestIsFatal(t *testing.T) {
	assert.False(t, IsFatal(nil))
	assert.False(t, IsFatal(networkError()))
	assert.False(t, IsFatal(context.DeadlineExceeded))
	assert.True(t, IsFatal(ErrFatal))
	assert.True(t, IsFatal(&url.Error{Op: "Get", URL: "x", Err: &testSchemeErr{}}))
}

type testSchemeErr struct{}

func (*testSchemeErr) Error() string { return `unsupported protocol scheme "ftp"` }
