package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"HotTopics/internal/domain"
	"HotTopics/internal/logging"
)

// Chain is an Adapter that tries its strategies in priority order until one
// yields a non-empty result.
type Chain struct {
	name       string
	source     string
	strategies []Strategy
	inflation  int
	logger     *slog.Logger
}

var _ Adapter = (*Chain)(nil)

// NewChain wires a platform adapter from ordered strategies.
func NewChain(name, source string, logger *slog.Logger, strategies ...Strategy) *Chain {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Chain{
		name:       name,
		source:     source,
		strategies: strategies,
		logger:     logger.With("platform", name),
	}
}

// WithKeywordInflation fixes the factor by which the limit is inflated in
// keyword mode; zero (the default) inflates by the number of keywords.
func (c *Chain) WithKeywordInflation(factor int) *Chain {
	c.inflation = factor
	return c
}

// Name implements Adapter.
func (c *Chain) Name() string {
	return c.name
}

// Source implements Adapter.
func (c *Chain) Source() string {
	return c.source
}

// Strategies exposes the configured kinds in priority order.
func (c *Chain) Strategies() []Kind {
	kinds := make([]Kind, 0, len(c.strategies))
	for _, s := range c.strategies {
		kinds = append(kinds, s.Kind())
	}
	return kinds
}

// Scrape walks the fallback chain and returns the first non-empty, de-duplicated result.
func (c *Chain) Scrape(ctx context.Context, limit int) []domain.RawTopic {
	c.logger.Info("scrape started", "limit", limit, "strategies", len(c.strategies))

	for _, strategy := range c.strategies {
		if ctx.Err() != nil {
			c.logger.Warn("scrape aborted", "error", ctx.Err())
			break
		}

		topics, err := c.run(ctx, strategy, limit)
		if err != nil {
			c.logger.Warn("strategy failed", "strategy", strategy.Kind(), "error", err)
			continue
		}

		topics = c.finalize(topics, limit)
		if len(topics) == 0 {
			c.logger.Warn("strategy returned no usable topics", "strategy", strategy.Kind())
			continue
		}

		c.logger.Info("scrape finished", "strategy", strategy.Kind(), "count", len(topics))
		return topics
	}

	c.logger.Error("all strategies failed")
	return []domain.RawTopic{}
}

// ScrapeByKeywords reuses the general ranking and keeps titles containing a keyword.
func (c *Chain) ScrapeByKeywords(ctx context.Context, keywords []string, limit int) []domain.RawTopic {
	keywords = cleanKeywords(keywords)
	if len(keywords) == 0 {
		return []domain.RawTopic{}
	}

	factor := c.inflation
	if factor <= 0 {
		factor = len(keywords)
	}

	all := c.Scrape(ctx, limit*factor)
	filtered := FilterByKeywords(all, keywords, limit)
	c.logger.Info("keyword filter applied", "keywords", len(keywords), "candidates", len(all), "matched", len(filtered))
	return filtered
}

func (c *Chain) run(ctx context.Context, strategy Strategy, limit int) (topics []domain.RawTopic, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy %s panicked: %v", strategy.Kind(), r)
		}
	}()
	return strategy.Fetch(ctx, limit)
}

func (c *Chain) finalize(topics []domain.RawTopic, limit int) []domain.RawTopic {
	out := make([]domain.RawTopic, 0, len(topics))
	seen := make(map[string]struct{}, len(topics))

	for _, topic := range topics {
		topic.Title = CleanText(topic.Title)
		topic.Link = strings.TrimSpace(topic.Link)
		if topic.Title == "" || topic.Link == "" {
			continue
		}

		key := NormalizeTitle(topic.Title)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		topic.Source = c.source
		out = append(out, topic)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// FilterByKeywords keeps topics whose title contains one of the keywords
// (case-insensitive), tagging the first matching keyword.
func FilterByKeywords(topics []domain.RawTopic, keywords []string, limit int) []domain.RawTopic {
	out := make([]domain.RawTopic, 0)
	for _, topic := range topics {
		title := strings.ToLower(topic.Title)
		for _, keyword := range keywords {
			if keyword == "" {
				continue
			}
			if strings.Contains(title, strings.ToLower(keyword)) {
				topic.MatchedKeyword = keyword
				out = append(out, topic)
				break
			}
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// NormalizeTitle derives the in-adapter de-duplication key of a title.
func NormalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CleanText trims a scraped string and collapses inner whitespace runs.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func cleanKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
