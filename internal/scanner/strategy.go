package scanner

import (
	"context"
	"errors"

	"HotTopics/internal/domain"
)

// Kind tags a fallback strategy variant.
type Kind string

const (
	// KindIntercept captures the page's internal JSON API response in a headless browser.
	KindIntercept Kind = "intercept"
	// KindDOM parses the page markup with CSS selectors.
	KindDOM Kind = "dom"
	// KindMirror parses a third-party aggregator page republishing the ranking.
	KindMirror Kind = "mirror"
	// KindFeed parses an RSS/Atom feed republishing the ranking.
	KindFeed Kind = "feed"
)

// ErrNoData is returned by strategies that ran cleanly but found nothing.
var ErrNoData = errors.New("strategy produced no topics")

// Strategy is one way of obtaining a platform's ranking.
type Strategy interface {
	Kind() Kind
	Fetch(ctx context.Context, limit int) ([]domain.RawTopic, error)
}

// StrategyFunc adapts a function into a Strategy.
type StrategyFunc struct {
	StrategyKind Kind
	Fn           func(ctx context.Context, limit int) ([]domain.RawTopic, error)
}

// Kind implements Strategy.
func (s StrategyFunc) Kind() Kind {
	return s.StrategyKind
}

// Fetch implements Strategy.
func (s StrategyFunc) Fetch(ctx context.Context, limit int) ([]domain.RawTopic, error) {
	return s.Fn(ctx, limit)
}
