package parser

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"HotTopics/internal/ports"
	"HotTopics/internal/retry"
)

const weiboFixture = `<!DOCTYPE html>
<html><body><table><tbody>
<tr><td class="td-01">1</td><td class="td-02"><a href="/weibo?q=%23%E4%BA%8B%E4%BB%B6%E4%B8%80%23">事件一</a></td></tr>
<tr><td class="td-02"><a href="javascript:void(0);">置顶推广</a></td></tr>
<tr><td class="td-02"><a href="https://ad.example.com/x">外链广告</a></td></tr>
<tr><td class="td-02"><a href="/weibo?q=two"> 事件 二 </a></td></tr>
<tr><td class="td-02"><a href="/weibo?q=dup">事件一</a></td></tr>
</tbody></table></body></html>`

const mirrorFixture = `<html><body><table class="table"><tbody>
<tr><td>1.</td><td class="al"><a href="/l?e=abc">知乎问题一</a></td><td>1200万热度</td></tr>
<tr><td>2.</td><td class="al"><a href="https://www.zhihu.com/question/2">知乎问题二</a></td><td>800万热度</td></tr>
<tr><td>3.</td><td class="al"><a href="/l?e=num">12345</a></td><td></td></tr>
</tbody></table></body></html>`

const feedFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>微博热搜榜</title>
<item><title>热搜甲</title><link>https://s.weibo.com/weibo?q=a</link></item>
<item><title>热搜乙</title><link>https://s.weibo.com/weibo?q=b</link></item>
</channel></rss>`

func fastLoader() *HTTPLoader {
	return NewHTTPLoader(&http.Client{Timeout: 2 * time.Second}, HTTPOptions{
		Policy: retry.Policy{
			Name:        "test",
			MaxAttempts: 2,
			MinWait:     time.Millisecond,
			MaxWait:     time.Millisecond,
			Retryable:   retry.IsIOError,
		},
	})
}

func TestWeiboDOMParsing(t *testing.T) {
	t.Parallel()

	var gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReferer = r.Header.Get("Referer")
		w.Write([]byte(weiboFixture))
	}))
	defer srv.Close()

	endpoints := DefaultEndpoints()
	endpoints.WeiboSummary = srv.URL
	adapter := NewWeibo(Dependencies{HTTP: fastLoader(), Endpoints: endpoints})

	topics := adapter.Scrape(context.Background(), 10)
	if len(topics) != 2 {
		t.Fatalf("expected 2 topics, got %d: %+v", len(topics), topics)
	}
	if topics[0].Title != "事件一" || !strings.HasPrefix(topics[0].Link, "https://s.weibo.com/weibo?q=") {
		t.Fatalf("unexpected first topic: %+v", topics[0])
	}
	if topics[1].Title != "事件 二" {
		t.Fatalf("expected whitespace collapsed, got %q", topics[1].Title)
	}
	if topics[0].Source != "微博" {
		t.Fatalf("unexpected source %q", topics[0].Source)
	}
	if gotReferer != "https://s.weibo.com/" {
		t.Fatalf("expected referer header, got %q", gotReferer)
	}
}

func TestWeiboFallsBackToFeed(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/summary", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>请登录</p></body></html>`))
	})
	mux.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(feedFixture))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	endpoints := DefaultEndpoints()
	endpoints.WeiboSummary = srv.URL + "/summary"
	endpoints.WeiboFeed = srv.URL + "/feed"
	adapter := NewWeibo(Dependencies{HTTP: fastLoader(), Endpoints: endpoints})

	topics := adapter.Scrape(context.Background(), 1)
	if len(topics) != 1 || topics[0].Title != "热搜甲" {
		t.Fatalf("expected feed fallback result, got %+v", topics)
	}
}

func TestFeedRetriesTransientStatus(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(feedFixture))
	}))
	defer srv.Close()

	strategy := &FeedStrategy{Loader: fastLoader(), Page: Page{URL: srv.URL}}
	topics, err := strategy.Fetch(context.Background(), 10)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if len(topics) != 2 || topics[1].Title != "热搜乙" {
		t.Fatalf("unexpected topics %+v", topics)
	}
	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Fatalf("expected one retry, got %d requests", n)
	}
}

func TestBaiduBuildsSearchLinks(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<div><div class="c-single-text-ellipsis"> 百度 热点 </div><div class="c-single-text-ellipsis">3</div></div>`))
	}))
	defer srv.Close()

	endpoints := DefaultEndpoints()
	endpoints.BaiduBoard = srv.URL
	topics := NewBaidu(Dependencies{HTTP: fastLoader(), Endpoints: endpoints}).Scrape(context.Background(), 5)

	if len(topics) != 1 {
		t.Fatalf("expected 1 topic, got %+v", topics)
	}
	if topics[0].Link != "https://www.baidu.com/s?wd=%E7%99%BE%E5%BA%A6+%E7%83%AD%E7%82%B9" {
		t.Fatalf("unexpected link %q", topics[0].Link)
	}
}

func TestZhihuMirrorResolvesRelativeLinks(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(mirrorFixture))
	}))
	defer srv.Close()

	endpoints := DefaultEndpoints()
	endpoints.ZhihuMirror = srv.URL + "/n/mproPpoq6O"
	topics := NewZhihu(Dependencies{HTTP: fastLoader(), Endpoints: endpoints}).Scrape(context.Background(), 10)

	if len(topics) != 2 {
		t.Fatalf("expected 2 topics, got %+v", topics)
	}
	if topics[0].Link != srv.URL+"/l?e=abc" {
		t.Fatalf("expected resolved link, got %q", topics[0].Link)
	}
	if topics[1].Link != "https://www.zhihu.com/question/2" {
		t.Fatalf("unexpected absolute link %q", topics[1].Link)
	}
}

func TestZhihuFallsBackToDaily(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/mirror", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})
	mux.HandleFunc("/daily/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<div class="box"><a class="link-button" href="/story/1"><span class="title">日报一</span></a></div>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	endpoints := DefaultEndpoints()
	endpoints.ZhihuMirror = srv.URL + "/mirror"
	endpoints.ZhihuDaily = srv.URL + "/daily/"
	topics := NewZhihu(Dependencies{HTTP: fastLoader(), Endpoints: endpoints}).Scrape(context.Background(), 10)

	if len(topics) != 1 || topics[0].Title != "日报一" || topics[0].Link != srv.URL+"/story/1" {
		t.Fatalf("unexpected daily fallback result: %+v", topics)
	}
}

func TestHTTPLoaderRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	body, err := fastLoader().Get(context.Background(), Page{URL: srv.URL})
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if !strings.Contains(string(body), "ok") {
		t.Fatalf("unexpected body %q", body)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestHTTPLoaderDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := fastLoader().Get(context.Background(), Page{URL: srv.URL}); err == nil {
		t.Fatal("expected error for 404")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

type fakeRenderer struct {
	page  ports.RenderedPage
	err   error
	calls int32
}

func (f *fakeRenderer) Render(_ context.Context, req ports.RenderRequest) (ports.RenderedPage, error) {
	atomic.AddInt32(&f.calls, 1)
	page := f.page
	page.URL = req.URL
	return page, f.err
}

func TestDouyinInterceptsHotList(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{page: ports.RenderedPage{Captured: [][]byte{
		[]byte(`{"status_code":0}`),
		[]byte(`{"data":{"word_list":[{"word":"抖音热点","hot_value":100},{"word":" "},{"word":"第二条"}]}}`),
	}}}
	topics := NewDouyin(Dependencies{HTTP: fastLoader(), Renderer: renderer}).Scrape(context.Background(), 5)

	if len(topics) != 2 {
		t.Fatalf("expected 2 topics, got %+v", topics)
	}
	if topics[0].Link != "https://www.douyin.com/search/%E6%8A%96%E9%9F%B3%E7%83%AD%E7%82%B9?type=hot" {
		t.Fatalf("unexpected link %q", topics[0].Link)
	}
	if topics[0].Source != "抖音" {
		t.Fatalf("unexpected source %q", topics[0].Source)
	}
}

func TestDouyinFallsBackToMirror(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(mirrorFixture))
	}))
	defer srv.Close()

	endpoints := DefaultEndpoints()
	endpoints.DouyinMirror = srv.URL
	renderer := &fakeRenderer{err: errors.New("browser crashed")}
	topics := NewDouyin(Dependencies{HTTP: fastLoader(), Renderer: renderer, Endpoints: endpoints}).Scrape(context.Background(), 5)

	if len(topics) != 2 {
		t.Fatalf("expected mirror fallback, got %+v", topics)
	}
}

func TestToutiaoDecodesBothPayloadShapes(t *testing.T) {
	t.Parallel()

	flat, err := DecodeToutiaoHotBoard([]byte(`{"data":[{"Title":"头条一","Url":"https://www.toutiao.com/trending/1/"}]}`))
	if err != nil || len(flat) != 1 {
		t.Fatalf("flat payload: %+v, %v", flat, err)
	}

	nested, err := DecodeToutiaoHotBoard([]byte(`{"data":{"data":[{"Title":"头条二","Url":"https://www.toutiao.com/trending/2/"},{"Title":"","Url":"x"}]}}`))
	if err != nil || len(nested) != 1 || nested[0].Title != "头条二" {
		t.Fatalf("nested payload: %+v, %v", nested, err)
	}

	if _, err := DecodeToutiaoHotBoard([]byte(`{"message":"error"}`)); err == nil {
		t.Fatal("expected error for missing data")
	}
}

func TestToutiaoFallsBackToRenderedDOM(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{page: ports.RenderedPage{HTML: `<html><body>
<div class="home-hot-board"><a href="https://www.toutiao.com/trending/9/">短</a><a href="https://www.toutiao.com/trending/7/">长一些的头条标题</a></div>
</body></html>`}}
	topics := NewToutiao(Dependencies{HTTP: fastLoader(), Renderer: renderer}).Scrape(context.Background(), 5)

	if len(topics) != 1 || topics[0].Title != "长一些的头条标题" {
		t.Fatalf("unexpected DOM fallback result: %+v", topics)
	}
	if atomic.LoadInt32(&renderer.calls) != 2 {
		t.Fatalf("expected intercept and dom renders, got %d", renderer.calls)
	}
}
