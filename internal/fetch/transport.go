package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

// Request is one attempt of a fetch as seen by a Transport.
type Request struct {
	URL     string
	Header  http.Header
	Attempt int
	Proxy   *url.URL
}

// Response is what a Transport got back. Body is fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FinalURL   string
}

// Transport performs a single HTTP attempt. Implementations must honour
// ctx for cancellation and the per-attempt deadline.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

type proxyKey struct{}

func withProxy(ctx context.Context, p *url.URL) context.Context {
	if p == nil {
		return ctx
	}
	return context.WithValue(ctx, proxyKey{}, p)
}

func proxyFromRequest(r *http.Request) (*url.URL, error) {
	p, _ := r.Context().Value(proxyKey{}).(*url.URL)
	if p == nil {
		return nil, nil
	}
	switch p.Scheme {
	case "http", "https", "socks5", "socks5h":
		return p, nil
	}
	return nil, fmt.Errorf("%w: unsupported proxy scheme %q", ErrFatal, p.Scheme)
}

const maxRedirects = 10

// RestyTransport is the default Transport: a resty client with a
// public-suffix aware cookie jar, the cloudflare bypass round tripper and an
// optional shared request-rate cap.
type RestyTransport struct {
	client *resty.Client
}

// NewRestyTransport creates the transport. limiter may be nil.
func NewRestyTransport(limiter *rate.Limiter) (*RestyTransport, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.Proxy = proxyFromRequest

	httpClient := &http.Client{
		Transport: cloudflarebp.AddCloudFlareByPass(base),
		Jar:       jar,
	}

	client := resty.NewWithClient(httpClient)
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(maxRedirects))

	if limiter != nil {
		client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return limiter.Wait(req.Context())
		})
	}

	return &RestyTransport{client: client}, nil
}

func (t *RestyTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	r := t.client.R().SetContext(withProxy(ctx, req.Proxy))
	for key, values := range req.Header {
		r.SetHeader(key, strings.Join(values, ", "))
	}

	res, err := r.Get(req.URL)
	if err != nil {
		return nil, err
	}

	finalURL := req.URL
	if raw := res.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		finalURL = raw.Request.URL.String()
	}

	return &Response{
		StatusCode: res.StatusCode(),
		Header:     res.Header(),
		Body:       res.Body(),
		FinalURL:   finalURL,
	}, nil
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

func (f TransportFunc) Do(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
