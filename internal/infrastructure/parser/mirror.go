package parser

import (
	"context"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"HotTopics/internal/domain"
	"HotTopics/internal/scanner"
)

const (
	mirrorRowSelector  = "table.table tbody tr"
	mirrorLinkSelector = "td.al a"
)

// MirrorStrategy reads a third-party aggregator page that republishes a
// platform's ranking as a table.
type MirrorStrategy struct {
	Loader Loader
	Page   Page
}

var _ scanner.Strategy = (*MirrorStrategy)(nil)

// Kind implements scanner.Strategy.
func (s *MirrorStrategy) Kind() scanner.Kind {
	return scanner.KindMirror
}

// Fetch implements scanner.Strategy.
func (s *MirrorStrategy) Fetch(ctx context.Context, limit int) ([]domain.RawTopic, error) {
	if s.Loader == nil {
		return nil, fmt.Errorf("mirror strategy %s: loader is not configured", s.Page.URL)
	}
	doc, err := s.Loader.Load(ctx, s.Page)
	if err != nil {
		return nil, err
	}

	var topics []domain.RawTopic
	doc.Find(mirrorRowSelector).EachWithBreak(func(_ int, row *goquery.Selection) bool {
		anchor := row.Find(mirrorLinkSelector).First()
		title := scanner.CleanText(anchor.Text())
		href, _ := anchor.Attr("href")
		link := resolveLink(s.Page.URL, href)
		if !usableTitle(title, 0) || link == "" {
			return true
		}
		topics = append(topics, domain.RawTopic{Title: title, Link: link})
		return limit <= 0 || len(topics) < limit
	})

	if len(topics) == 0 {
		return nil, scanner.ErrNoData
	}
	return topics, nil
}
