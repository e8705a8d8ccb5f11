// Package browser provides a fetch.Transport backed by a real Chromium
// instance driven through playwright, for storefronts that refuse plain
// HTTP clients.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/amazon-product-scraper/internal/fetch"
	"github.com/maltedev/amazon-product-scraper/internal/logger"
)

type Options struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	TimezoneID     string
	// SettleDelay is waited after DOMContentLoaded before the page is read.
	SettleDelay time.Duration
	Humanize    bool
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		Locale:         "en-US",
		TimezoneID:     "America/New_York",
		SettleDelay:    2 * time.Second,
	}
}

// Transport renders every attempt in a fresh browser context so cookies,
// user agent and proxy follow the identity of the attempt.
type Transport struct {
	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
	opts    *Options
	logger  *slog.Logger
}

func New(opts *Options, log *slog.Logger) (*Transport, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if log == nil {
		log = logger.Discard()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			fmt.Sprintf("--window-size=%d,%d", opts.ViewportWidth, opts.ViewportHeight),
		},
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return &Transport{
		pw:      pw,
		browser: b,
		opts:    opts,
		logger:  log.With("component", "browser"),
	}, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	if t.browser != nil {
		if err := t.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
		t.browser = nil
	}
	if t.pw != nil {
		if err := t.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
		t.pw = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}
	return nil
}

type pageResult struct {
	resp *fetch.Response
	err  error
}

func (t *Transport) Do(ctx context.Context, req *fetch.Request) (*fetch.Response, error) {
	t.mu.Lock()
	b := t.browser
	t.mu.Unlock()
	if b == nil {
		return nil, fmt.Errorf("%w: browser is closed", fetch.ErrFatal)
	}

	bctx, err := b.NewContext(contextOptions(t.opts, req))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create browser context: %v", fetch.ErrFatal, err)
	}
	defer bctx.Close()

	timeout := t.opts.Timeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}

	done := make(chan pageResult, 1)
	go func() {
		resp, err := t.load(bctx, req.URL, timeout)
		done <- pageResult{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.resp, r.err
	}
}

func (t *Transport) load(bctx playwright.BrowserContext, target string, timeout time.Duration) (*fetch.Response, error) {
	page, err := bctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}
	page.SetDefaultTimeout(float64(timeout.Milliseconds()))

	resp, err := page.Goto(target, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return nil, fmt.Errorf("navigation failed: %w", err)
	}

	if t.opts.SettleDelay > 0 {
		time.Sleep(t.opts.SettleDelay)
	}

	content, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("failed to get page content: %w", err)
	}

	if isInterstitial(content) {
		t.logger.Info("interstitial detected, continuing", "url", target)
		if t.continueShopping(page) {
			if c, err := page.Content(); err == nil {
				content = c
			}
		}
	}

	if t.opts.Humanize {
		t.humanize(page)
	}

	status := http.StatusOK
	headers := http.Header{}
	if resp != nil {
		status = resp.Status()
		for k, v := range resp.Headers() {
			headers.Set(k, v)
		}
	}

	return &fetch.Response{
		StatusCode: status,
		Header:     headers,
		Body:       []byte(content),
		FinalURL:   page.URL(),
	}, nil
}

var interstitialMarkers = []string{
	"Click the button below to continue shopping",
	"Klicke auf die Schaltfläche unten",
}

// isInterstitial reports the "continue shopping" soft block, which carries
// a plain button rather than a challenge.
func isInterstitial(content string) bool {
	for _, m := range interstitialMarkers {
		if strings.Contains(content, m) {
			return true
		}
	}
	return false
}

var continueSelectors = []string{
	`button:has-text("Continue shopping")`,
	`button:has-text("Weiter shoppen")`,
	`input[type="submit"][value*="Continue"]`,
	`.a-button-primary`,
}

func (t *Transport) continueShopping(page playwright.Page) bool {
	for _, selector := range continueSelectors {
		button := page.Locator(selector).First()
		count, err := button.Count()
		if err != nil || count == 0 {
			continue
		}
		if err := button.Click(); err != nil {
			t.logger.Debug("failed to click button", "selector", selector, "error", err)
			continue
		}
		_ = page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
			State: playwright.LoadStateDomcontentloaded,
		})
		return true
	}
	return false
}

func (t *Transport) humanize(page playwright.Page) {
	for i := 0; i < 3; i++ {
		_ = page.Mouse().Move(float64(100+i*200), float64(100+i*150))
		time.Sleep(time.Duration(200+i*100) * time.Millisecond)
	}
	_, _ = page.Evaluate(`window.scrollBy(0, Math.random() * 300)`)
}

// contextOptions maps the attempt onto a browser context. The engine keeps
// its own User-Agent, client hints and fetch metadata so the fingerprint
// matches the browser actually rendering the page; only headers that do not
// describe the client are forwarded.
func contextOptions(opts *Options, req *fetch.Request) playwright.BrowserNewContextOptions {
	extra := map[string]string{}
	for k, v := range req.Header {
		if len(v) == 0 || engineHeader(k) {
			continue
		}
		extra[http.CanonicalHeaderKey(k)] = strings.Join(v, ", ")
	}

	co := playwright.BrowserNewContextOptions{
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            playwright.String(opts.Locale),
		TimezoneId:        playwright.String(opts.TimezoneID),
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: extra,
	}
	if req.Proxy != nil {
		co.Proxy = proxyOption(req.Proxy)
	}
	return co
}

// engineHeader reports whether the browser engine owns header k.
func engineHeader(k string) bool {
	k = http.CanonicalHeaderKey(k)
	switch k {
	case "User-Agent", "Accept", "Accept-Encoding", "Upgrade-Insecure-Requests":
		return true
	}
	return strings.HasPrefix(k, "Sec-Ch-") || strings.HasPrefix(k, "Sec-Fetch-")
}

func proxyOption(p *url.URL) *playwright.Proxy {
	proxy := &playwright.Proxy{Server: p.Scheme + "://" + p.Host}
	if p.User != nil {
		proxy.Username = playwright.String(p.User.Username())
		if pw, ok := p.User.Password(); ok {
			proxy.Password = playwright.String(pw)
		}
	}
	return proxy
}
