package parser

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"

	"HotTopics/internal/domain"
	"HotTopics/internal/scanner"
)

// BodyLoader downloads raw response bodies.
type BodyLoader interface {
	Get(ctx context.Context, page Page) ([]byte, error)
}

var _ BodyLoader = (*HTTPLoader)(nil)

// FeedStrategy reads an RSS or Atom feed that republishes a ranking.
type FeedStrategy struct {
	Loader BodyLoader
	Page   Page
}

var _ scanner.Strategy = (*FeedStrategy)(nil)

// Kind implements scanner.Strategy.
func (s *FeedStrategy) Kind() scanner.Kind {
	return scanner.KindFeed
}

// Fetch implements scanner.Strategy.
func (s *FeedStrategy) Fetch(ctx context.Context, limit int) ([]domain.RawTopic, error) {
	body, err := s.Loader.Get(ctx, s.Page)
	if err != nil {
		return nil, fmt.Errorf("load feed %s: %w", s.Page.URL, err)
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", s.Page.URL, err)
	}

	topics := make([]domain.RawTopic, 0, len(feed.Items))
	for _, item := range feed.Items {
		if limit > 0 && len(topics) >= limit {
			break
		}
		title := scanner.CleanText(item.Title)
		link := strings.TrimSpace(item.Link)
		if link == "" && len(item.Links) > 0 {
			link = strings.TrimSpace(item.Links[0])
		}
		if title == "" || link == "" {
			continue
		}
		topics = append(topics, domain.RawTopic{Title: title, Link: link})
	}

	if len(topics) == 0 {
		return nil, scanner.ErrNoData
	}
	return topics, nil
}
