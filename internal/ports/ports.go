package ports

import (
	"context"
	"errors"
	"time"

	"HotTopics/internal/domain"
)

// ErrLLMNotConfigured is returned by chat clients that have no credential.
var ErrLLMNotConfigured = errors.New("llm client is not configured")

// RawTopicStore ingests scraped topics and serves them to the analysis stage.
type RawTopicStore interface {
	InsertRawTopicsIfAbsent(ctx context.Context, topics []domain.RawTopic, categoryID *int64) (int, error)
	FetchUnanalyzed(ctx context.Context, limit, maxFailCount int) ([]domain.RawTopic, error)
	UpdateAnalysis(ctx context.Context, update domain.AnalysisUpdate) error
	PruneRawTopics(ctx context.Context, before time.Time) (int, error)
}

// ScoredTopicStore serves analysed candidates to the selection stage.
type ScoredTopicStore interface {
	FetchTopScoring(ctx context.Context, hoursWindow, limit int, minScore float64) ([]domain.ScoredTopic, error)
}

// HotTopicStore holds the published ranked set.
type HotTopicStore interface {
	ReplaceHotTopics(ctx context.Context, topics []domain.HotTopic) (int, error)
	LoadHotTopics(ctx context.Context) ([]domain.HotTopic, error)
}

// CategoryStore exposes keyword categories for category-mode scraping.
type CategoryStore interface {
	FetchCategoriesWithKeywords(ctx context.Context) ([]domain.Category, error)
	FetchCategory(ctx context.Context, id int64) (domain.Category, bool, error)
	FetchEnabledPlatformsForCategory(ctx context.Context, id int64) ([]string, error)
}

// StatsReader reports raw store counters.
type StatsReader interface {
	Stats(ctx context.Context) (domain.Stats, error)
}

// TopicRepository is the full persistence collaborator consumed by the pipeline.
type TopicRepository interface {
	RawTopicStore
	ScoredTopicStore
	HotTopicStore
	CategoryStore
	StatsReader
}

// ChatRequest is a single chat-completion exchange.
type ChatRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	MaxTokens    int
}

// ChatClient sends prompts to an LLM and returns its free-form answer.
type ChatClient interface {
	Configured() bool
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

// RenderRequest describes a headless-browser page visit.
type RenderRequest struct {
	URL string
	// CapturePath is a substring of internal API URLs whose JSON responses must be captured.
	CapturePath string
	// WaitSelector, when set, is awaited before the DOM snapshot is taken.
	WaitSelector string
	Headers      map[string]string
}

// RenderedPage is the outcome of a browser visit.
type RenderedPage struct {
	URL      string
	HTML     string
	Captured [][]byte
}

// Renderer drives a headless browser.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (RenderedPage, error)
}

// Notifier streams the published hot topics to an outbound channel.
type Notifier interface {
	PublishHotTopics(ctx context.Context, topics []domain.HotTopic) error
}

// Scheduler controls when stage jobs execute.
type Scheduler interface {
	Register(name, spec string, job func(context.Context)) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Next(name string) time.Time
}
