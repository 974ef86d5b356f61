// Package browser drives a headless Chrome through the DevTools protocol.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"HotTopics/internal/logging"
	"HotTopics/internal/ports"
	"HotTopics/internal/retry"
)

// hideWebdriver runs before any page script so that simple bot checks see a regular browser.
const hideWebdriver = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Options configure the renderer.
type Options struct {
	Headless bool
	// Timeout bounds one page visit.
	Timeout time.Duration
	// PollAttempts and PollInterval bound how long a visit waits for intercepted responses.
	PollAttempts int
	PollInterval time.Duration
	ExecPath     string
	UserAgent    string
	// MemoTTL keeps a rendered page around so that a DOM fallback can reuse the
	// visit made by the interception strategy. Zero disables the memo.
	MemoTTL time.Duration
	Policy  retry.Policy
	Logger  *slog.Logger
}

type memoEntry struct {
	page        ports.RenderedPage
	capturePath string
	expires     time.Time
}

// Renderer implements ports.Renderer on top of chromedp.
type Renderer struct {
	opts        Options
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
	logger      *slog.Logger

	render func(ctx context.Context, req ports.RenderRequest) (ports.RenderedPage, error)
	now    func() time.Time

	mu   sync.Mutex
	memo map[string]memoEntry
}

var _ ports.Renderer = (*Renderer)(nil)

// New prepares a browser allocator. Chrome itself starts on the first visit.
func New(opts Options) *Renderer {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = 30
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Policy.Name == "" {
		opts.Policy = retry.Browser()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.With("component", "browser")
	opts.Policy = opts.Policy.WithLogger(logger)

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(opts.UserAgent),
		chromedp.WindowSize(1920, 1080),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)

	r := &Renderer{
		opts:        opts,
		allocCtx:    allocCtx,
		cancelAlloc: cancel,
		logger:      logger,
		now:         time.Now,
		memo:        map[string]memoEntry{},
	}
	r.render = r.visit
	return r
}

// Close shuts the browser down.
func (r *Renderer) Close() {
	r.cancelAlloc()
}

// Render implements ports.Renderer.
func (r *Renderer) Render(ctx context.Context, req ports.RenderRequest) (ports.RenderedPage, error) {
	if cached, ok := r.recall(req); ok {
		r.logger.Debug("reusing rendered page", "url", req.URL)
		return cached, nil
	}

	rendered, err := retry.Value(ctx, r.opts.Policy, func(ctx context.Context) (ports.RenderedPage, error) {
		return r.render(ctx, req)
	})
	if err != nil {
		return ports.RenderedPage{}, err
	}

	r.remember(req, rendered)
	return rendered, nil
}

func (r *Renderer) recall(req ports.RenderRequest) (ports.RenderedPage, bool) {
	if r.opts.MemoTTL <= 0 {
		return ports.RenderedPage{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.memo[req.URL]
	if !ok {
		return ports.RenderedPage{}, false
	}
	if r.now().After(entry.expires) {
		delete(r.memo, req.URL)
		return ports.RenderedPage{}, false
	}
	if req.CapturePath != "" && req.CapturePath != entry.capturePath {
		return ports.RenderedPage{}, false
	}
	return entry.page, true
}

func (r *Renderer) remember(req ports.RenderRequest, rendered ports.RenderedPage) {
	if r.opts.MemoTTL <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memo[req.URL] = memoEntry{page: rendered, capturePath: req.CapturePath, expires: r.now().Add(r.opts.MemoTTL)}
}

func (r *Renderer) visit(ctx context.Context, req ports.RenderRequest) (ports.RenderedPage, error) {
	tabCtx, cancelTab := chromedp.NewContext(r.allocCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, r.opts.Timeout)
	defer cancelTimeout()
	// The tab lives under the allocator, so the caller's cancellation is forwarded explicitly.
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	sink := newCapture(req.CapturePath)
	if sink != nil {
		chromedp.ListenTarget(tabCtx, func(ev interface{}) {
			switch e := ev.(type) {
			case *network.EventResponseReceived:
				sink.observe(e.RequestID, e.Response.URL)
			case *network.EventLoadingFinished:
				if !sink.finish(e.RequestID) {
					return
				}
				// Listeners must not block, so the body is read on its own goroutine.
				go func(id network.RequestID) {
					c := chromedp.FromContext(tabCtx)
					if c == nil || c.Target == nil {
						return
					}
					body, err := network.GetResponseBody(id).Do(cdp.WithExecutor(tabCtx, c.Target))
					if err != nil {
						r.logger.Debug("read intercepted body", "url", req.URL, "error", err)
						return
					}
					sink.store(body)
				}(e.RequestID)
			}
		})
	}

	tasks := chromedp.Tasks{
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(hideWebdriver).Do(ctx)
			return err
		}),
	}
	if len(req.Headers) > 0 {
		headers := network.Headers{}
		for k, v := range req.Headers {
			headers[k] = v
		}
		tasks = append(tasks, network.SetExtraHTTPHeaders(headers))
	}
	tasks = append(tasks, chromedp.Navigate(req.URL))
	if req.WaitSelector != "" {
		tasks = append(tasks, chromedp.WaitVisible(req.WaitSelector, chromedp.ByQuery))
	}

	if err := chromedp.Run(tabCtx, tasks); err != nil {
		return ports.RenderedPage{}, fmt.Errorf("navigate %s: %w", req.URL, ctxErr(ctx, err))
	}

	if sink != nil {
		if err := r.poll(tabCtx, sink); err != nil {
			return ports.RenderedPage{}, fmt.Errorf("wait for %s: %w", req.CapturePath, ctxErr(ctx, err))
		}
	}

	var html string
	if err := chromedp.Run(tabCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return ports.RenderedPage{}, fmt.Errorf("snapshot %s: %w", req.URL, ctxErr(ctx, err))
	}

	out := ports.RenderedPage{URL: req.URL, HTML: html}
	if sink != nil {
		out.Captured = sink.bodies()
		r.logger.Debug("page rendered", "url", req.URL, "captured", len(out.Captured))
	}
	return out, nil
}

// poll waits until a matching response was captured or the attempts run out.
// Running out is not an error: the caller decides what an empty capture means.
func (r *Renderer) poll(ctx context.Context, c *capture) error {
	for i := 0; i < r.opts.PollAttempts; i++ {
		if c.count() > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.opts.PollInterval):
		}
	}
	return nil
}

func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return err
}

// capture collects bodies of responses whose URL contains a path fragment.
type capture struct {
	path string

	mu       sync.Mutex
	pending  map[network.RequestID]struct{}
	captured [][]byte
}

func newCapture(path string) *capture {
	if path == "" {
		return nil
	}
	return &capture{path: path, pending: map[network.RequestID]struct{}{}}
}

func (c *capture) observe(id network.RequestID, url string) {
	if !strings.Contains(url, c.path) {
		return
	}
	c.mu.Lock()
	c.pending[id] = struct{}{}
	c.mu.Unlock()
}

func (c *capture) finish(id network.RequestID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}

func (c *capture) store(body []byte) {
	c.mu.Lock()
	c.captured = append(c.captured, body)
	c.mu.Unlock()
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.captured)
}

func (c *capture) bodies() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.captured))
	copy(out, c.captured)
	return out
}
