package browser

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"

	"HotTopics/internal/logging"
	"HotTopics/internal/ports"
	"HotTopics/internal/retry"
)

func newTestRenderer(t *testing.T, ttl time.Duration) (*Renderer, *int) {
	t.Helper()

	r := New(Options{
		MemoTTL: ttl,
		Policy:  retry.Policy{Name: "test", MaxAttempts: 2, MinWait: time.Millisecond, MaxWait: time.Millisecond},
	})
	t.Cleanup(r.Close)

	calls := 0
	r.render = func(_ context.Context, req ports.RenderRequest) (ports.RenderedPage, error) {
		calls++
		return ports.RenderedPage{URL: req.URL, HTML: "<html></html>", Captured: [][]byte{[]byte("{}")}}, nil
	}
	return r, &calls
}

func TestRenderReusesMemoForDOMFallback(t *testing.T) {
	t.Parallel()

	r, calls := newTestRenderer(t, time.Minute)
	ctx := context.Background()

	if _, err := r.Render(ctx, ports.RenderRequest{URL: "https://www.toutiao.com/", CapturePath: "hot-event/hot-board"}); err != nil {
		t.Fatalf("first render: %v", err)
	}
	page, err := r.Render(ctx, ports.RenderRequest{URL: "https://www.toutiao.com/"})
	if err != nil {
		t.Fatalf("second render: %v", err)
	}
	if *calls != 1 {
		t.Fatalf("expected one browser visit, got %d", *calls)
	}
	if page.HTML == "" {
		t.Fatal("expected memoized html")
	}

	if _, err := r.Render(ctx, ports.RenderRequest{URL: "https://www.toutiao.com/", CapturePath: "other/api"}); err != nil {
		t.Fatalf("third render: %v", err)
	}
	if *calls != 2 {
		t.Fatalf("a different capture path must trigger a new visit, got %d visits", *calls)
	}
}

func TestRenderTagsLogsWithComponentOnce(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	r := New(Options{MemoTTL: time.Minute, Logger: logging.NewWithWriter(&buf, "debug", "json")})
	t.Cleanup(r.Close)
	r.render = func(_ context.Context, req ports.RenderRequest) (ports.RenderedPage, error) {
		return ports.RenderedPage{URL: req.URL, HTML: "<html></html>"}, nil
	}

	req := ports.RenderRequest{URL: "https://www.douyin.com/hot"}
	for i := 0; i < 2; i++ {
		if _, err := r.Render(context.Background(), req); err != nil {
			t.Fatalf("render %d: %v", i, err)
		}
	}

	line := strings.TrimSpace(buf.String())
	if !strings.Contains(line, "reusing rendered page") {
		t.Fatalf("expected memo log line, got %q", line)
	}
	if n := strings.Count(line, `"component":"browser"`); n != 1 {
		t.Fatalf("expected component once, got %d in %q", n, line)
	}
}

func TestRenderMemoExpires(t *testing.T) {
	t.Parallel()

	r, calls := newTestRenderer(t, time.Second)
	now := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	req := ports.RenderRequest{URL: "https://www.douyin.com/hot"}
	_, _ = r.Render(context.Background(), req)
	now = now.Add(2 * time.Second)
	_, _ = r.Render(context.Background(), req)

	if *calls != 2 {
		t.Fatalf("expected expired memo to be refreshed, got %d visits", *calls)
	}
}

func TestRenderRetriesFailedVisit(t *testing.T) {
	t.Parallel()

	r, _ := newTestRenderer(t, 0)
	attempts := 0
	r.render = func(context.Context, ports.RenderRequest) (ports.RenderedPage, error) {
		attempts++
		if attempts == 1 {
			return ports.RenderedPage{}, errors.New("target crashed")
		}
		return ports.RenderedPage{HTML: "<html></html>"}, nil
	}

	if _, err := r.Render(context.Background(), ports.RenderRequest{URL: "https://example.com"}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestCaptureMatchesPathFragment(t *testing.T) {
	t.Parallel()

	c := newCapture("web/hot/search/list")
	c.observe(network.RequestID("1"), "https://www.douyin.com/aweme/v1/web/hot/search/list/?device_platform=webapp")
	c.observe(network.RequestID("2"), "https://www.douyin.com/static/app.js")

	if !c.finish("1") {
		t.Fatal("expected matching request to be tracked")
	}
	if c.finish("1") {
		t.Fatal("a request finishes only once")
	}
	if c.finish("2") {
		t.Fatal("non-matching request must be ignored")
	}

	c.store([]byte(`{"data":{}}`))
	if c.count() != 1 || len(c.bodies()) != 1 {
		t.Fatalf("unexpected captured bodies: %d", c.count())
	}

	if newCapture("") != nil {
		t.Fatal("empty path disables capture")
	}
}
