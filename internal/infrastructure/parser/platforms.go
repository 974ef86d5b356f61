package parser

import (
	"log/slog"
	"net/url"
	"strings"

	"HotTopics/internal/ports"
	"HotTopics/internal/scanner"
)

// Platform identifiers used in configuration.
const (
	PlatformWeibo       = "weibo"
	PlatformBaidu       = "baidu"
	PlatformDouyin      = "douyin"
	PlatformToutiao     = "toutiao"
	PlatformZhihu       = "zhihu"
	PlatformXiaohongshu = "xiaohongshu"
)

// Endpoints lists every URL the platform adapters visit.
type Endpoints struct {
	WeiboSummary      string
	WeiboFeed         string
	BaiduBoard        string
	BaiduFeed         string
	DouyinHot         string
	DouyinMirror      string
	ToutiaoHome       string
	ZhihuMirror       string
	ZhihuDaily        string
	XiaohongshuMirror string
}

// DefaultEndpoints returns the production URLs.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		WeiboSummary:      "https://s.weibo.com/top/summary",
		WeiboFeed:         "https://rsshub.app/weibo/search/hot",
		BaiduBoard:        "https://top.baidu.com/board?tab=realtime",
		BaiduFeed:         "https://rsshub.app/baidu/topwords",
		DouyinHot:         "https://www.douyin.com/hot",
		DouyinMirror:      "https://tophub.today/n/DpQvNABoNE",
		ToutiaoHome:       "https://www.toutiao.com/",
		ZhihuMirror:       "https://tophub.today/n/mproPpoq6O",
		ZhihuDaily:        "https://daily.zhihu.com/",
		XiaohongshuMirror: "https://tophub.today/n/rYqoXQ8vOa",
	}
}

// Dependencies are shared by every platform adapter.
type Dependencies struct {
	HTTP      *HTTPLoader
	Renderer  ports.Renderer
	Endpoints Endpoints
	// WeiboCookie is sent to s.weibo.com, which redirects anonymous visitors to a login wall.
	WeiboCookie string
	Logger      *slog.Logger
}

// RegisterAll adds the six platform adapters to reg.
func RegisterAll(reg *scanner.Registry, deps Dependencies) {
	reg.Register(NewWeibo(deps))
	reg.Register(NewBaidu(deps))
	reg.Register(NewDouyin(deps))
	reg.Register(NewToutiao(deps))
	reg.Register(NewZhihu(deps))
	reg.Register(NewXiaohongshu(deps))
}

// NewWeibo reads the realtime search summary, falling back to a feed mirror.
func NewWeibo(deps Dependencies) *scanner.Chain {
	deps = deps.withDefaults()
	headers := map[string]string{"Referer": "https://s.weibo.com/"}
	if deps.WeiboCookie != "" {
		headers["Cookie"] = deps.WeiboCookie
	}

	return scanner.NewChain(PlatformWeibo, "微博", deps.Logger,
		&DOMStrategy{
			Loader:    deps.HTTP,
			Page:      Page{URL: deps.Endpoints.WeiboSummary, Headers: headers},
			Selectors: []string{"td.td-02 a"},
			Link: func(_, href string) string {
				if strings.Contains(href, "javascript") || !strings.HasPrefix(href, "/") {
					return ""
				}
				return "https://s.weibo.com" + href
			},
		},
		deps.feed(deps.Endpoints.WeiboFeed),
	)
}

// NewBaidu reads the realtime board, falling back to a feed mirror.
func NewBaidu(deps Dependencies) *scanner.Chain {
	deps = deps.withDefaults()
	return scanner.NewChain(PlatformBaidu, "百度", deps.Logger,
		&DOMStrategy{
			Loader:    deps.HTTP,
			Page:      Page{URL: deps.Endpoints.BaiduBoard},
			Selectors: []string{".c-single-text-ellipsis"},
			Link: func(title, _ string) string {
				return "https://www.baidu.com/s?wd=" + url.QueryEscape(title)
			},
		},
		deps.feed(deps.Endpoints.BaiduFeed),
	)
}

// NewDouyin intercepts the hot search API, falling back to an aggregator mirror.
func NewDouyin(deps Dependencies) *scanner.Chain {
	deps = deps.withDefaults()
	return scanner.NewChain(PlatformDouyin, "抖音", deps.Logger,
		&InterceptStrategy{
			Renderer: deps.Renderer,
			Request: ports.RenderRequest{
				URL:         deps.Endpoints.DouyinHot,
				CapturePath: "web/hot/search/list",
				Headers:     map[string]string{"Referer": "https://www.douyin.com/"},
			},
			Decode: DecodeDouyinHotList,
		},
		&MirrorStrategy{Loader: deps.HTTP, Page: Page{URL: deps.Endpoints.DouyinMirror}},
	)
}

// NewToutiao intercepts the hot board API; the DOM fallback reads the same rendered page.
func NewToutiao(deps Dependencies) *scanner.Chain {
	deps = deps.withDefaults()
	return scanner.NewChain(PlatformToutiao, "今日头条", deps.Logger,
		&InterceptStrategy{
			Renderer: deps.Renderer,
			Request: ports.RenderRequest{
				URL:         deps.Endpoints.ToutiaoHome,
				CapturePath: "hot-event/hot-board",
			},
			Decode: DecodeToutiaoHotBoard,
		},
		&DOMStrategy{
			Loader:        NewBrowserLoader(deps.Renderer),
			Page:          Page{URL: deps.Endpoints.ToutiaoHome},
			Selectors:     []string{`div[class*="hot-board"] a`, `a[href*="toutiao.com/trending"]`},
			MinTitleRunes: 5,
		},
	)
}

// NewZhihu reads the aggregator mirror of the hot list, falling back to Zhihu Daily.
// Keyword mode inflates the limit by a fixed factor because the mirror is short.
func NewZhihu(deps Dependencies) *scanner.Chain {
	deps = deps.withDefaults()
	return scanner.NewChain(PlatformZhihu, "知乎", deps.Logger,
		&MirrorStrategy{Loader: deps.HTTP, Page: Page{URL: deps.Endpoints.ZhihuMirror}},
		&DOMStrategy{
			Loader:        deps.HTTP,
			Page:          Page{URL: deps.Endpoints.ZhihuDaily},
			Selectors:     []string{".box a.link-button"},
			TitleSelector: "span.title",
		},
	).WithKeywordInflation(2)
}

// NewXiaohongshu reads the aggregator mirror.
func NewXiaohongshu(deps Dependencies) *scanner.Chain {
	deps = deps.withDefaults()
	return scanner.NewChain(PlatformXiaohongshu, "小红书", deps.Logger,
		&MirrorStrategy{Loader: deps.HTTP, Page: Page{URL: deps.Endpoints.XiaohongshuMirror}},
	)
}

func (d Dependencies) withDefaults() Dependencies {
	if d.HTTP == nil {
		d.HTTP = NewHTTPLoader(nil, HTTPOptions{Logger: d.Logger})
	}
	if d.Endpoints == (Endpoints{}) {
		d.Endpoints = DefaultEndpoints()
	}
	return d
}

func (d Dependencies) feed(feedURL string) scanner.Strategy {
	return &FeedStrategy{Loader: d.HTTP, Page: Page{URL: feedURL, Headers: map[string]string{"Accept": "application/rss+xml, application/atom+xml, */*"}}}
}
