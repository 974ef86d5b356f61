package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"HotTopics/internal/ports"
	"HotTopics/internal/retry"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// maxBodySize caps downloaded pages.
const maxBodySize = 8 << 20

// Page identifies a document to load.
type Page struct {
	URL     string
	Headers map[string]string
}

// Loader turns a page reference into a parsed document.
type Loader interface {
	Load(ctx context.Context, page Page) (*goquery.Document, error)
}

// HTTPOptions tune the plain HTTP loader.
type HTTPOptions struct {
	UserAgent string
	// HostInterval is the minimum spacing between requests to the same host.
	HostInterval time.Duration
	Policy       retry.Policy
	Logger       *slog.Logger
}

// HTTPLoader fetches static pages with the network retry profile and a per-host limiter.
type HTTPLoader struct {
	client    *http.Client
	userAgent string
	interval  time.Duration
	policy    retry.Policy

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

var _ Loader = (*HTTPLoader)(nil)

// NewHTTPLoader wires an HTTP client; a nil client gets a 20 second timeout.
func NewHTTPLoader(client *http.Client, opts HTTPOptions) *HTTPLoader {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Policy.Name == "" {
		opts.Policy = retry.Network()
	}
	if opts.Logger != nil {
		opts.Policy = opts.Policy.WithLogger(opts.Logger.With("component", "http_loader"))
	}
	return &HTTPLoader{
		client:    client,
		userAgent: opts.UserAgent,
		interval:  opts.HostInterval,
		policy:    opts.Policy,
		limiters:  map[string]*rate.Limiter{},
	}
}

// Load implements Loader.
func (l *HTTPLoader) Load(ctx context.Context, page Page) (*goquery.Document, error) {
	body, err := l.Get(ctx, page)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

// Get downloads a page body, retrying I/O failures and transient statuses.
func (l *HTTPLoader) Get(ctx context.Context, page Page) ([]byte, error) {
	if err := l.wait(ctx, page.URL); err != nil {
		return nil, err
	}
	return retry.Value(ctx, l.policy, func(ctx context.Context) ([]byte, error) {
		return l.fetch(ctx, page)
	})
}

func (l *HTTPLoader) fetch(ctx context.Context, page Page) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, page.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", l.userAgent)
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9")
	for k, v := range page.Headers {
		req.Header.Set(k, v)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return nil, retry.MarkTransient(fmt.Errorf("%s returned %s", page.URL, resp.Status))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %s", page.URL, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, retry.MarkTransient(fmt.Errorf("%s returned an empty body", page.URL))
	}
	return body, nil
}

func (l *HTTPLoader) wait(ctx context.Context, rawURL string) error {
	if l.interval <= 0 {
		return nil
	}
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}

	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(l.interval), 1)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for %s: %w", host, err)
	}
	return nil
}

// BrowserLoader renders pages in a headless browser before parsing them.
type BrowserLoader struct {
	renderer ports.Renderer
}

var _ Loader = (*BrowserLoader)(nil)

// NewBrowserLoader wraps a renderer.
func NewBrowserLoader(renderer ports.Renderer) *BrowserLoader {
	return &BrowserLoader{renderer: renderer}
}

// Load implements Loader.
func (b *BrowserLoader) Load(ctx context.Context, page Page) (*goquery.Document, error) {
	if b.renderer == nil {
		return nil, fmt.Errorf("browser renderer is not configured")
	}
	rendered, err := b.renderer.Render(ctx, ports.RenderRequest{URL: page.URL, Headers: page.Headers})
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", page.URL, err)
	}
	if strings.TrimSpace(rendered.HTML) == "" {
		return nil, fmt.Errorf("render %s: empty document", page.URL)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rendered.HTML))
	if err != nil {
		return nil, fmt.Errorf("parse rendered document: %w", err)
	}
	return doc, nil
}
