package parser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"HotTopics/internal/domain"
	"HotTopics/internal/scanner"
)

// LinkBuilder derives a topic link from the anchor text and href.
// An empty result drops the entry.
type LinkBuilder func(title, href string) string

// DOMStrategy parses a ranking page with CSS selectors. Selectors are tried in
// order; the first one producing entries wins.
type DOMStrategy struct {
	Loader    Loader
	Page      Page
	Selectors []string
	// TitleSelector, when set, reads the title from a child node instead of the anchor text.
	TitleSelector string
	// MinTitleRunes drops titles with fewer runes.
	MinTitleRunes int
	Link          LinkBuilder
}

var _ scanner.Strategy = (*DOMStrategy)(nil)

// Kind implements scanner.Strategy.
func (s *DOMStrategy) Kind() scanner.Kind {
	return scanner.KindDOM
}

// Fetch implements scanner.Strategy.
func (s *DOMStrategy) Fetch(ctx context.Context, limit int) ([]domain.RawTopic, error) {
	if s.Loader == nil {
		return nil, fmt.Errorf("dom strategy %s: loader is not configured", s.Page.URL)
	}
	doc, err := s.Loader.Load(ctx, s.Page)
	if err != nil {
		return nil, err
	}

	for _, selector := range s.Selectors {
		topics := s.extract(doc, selector, limit)
		if len(topics) > 0 {
			return topics, nil
		}
	}
	return nil, scanner.ErrNoData
}

func (s *DOMStrategy) extract(doc *goquery.Document, selector string, limit int) []domain.RawTopic {
	var topics []domain.RawTopic
	doc.Find(selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		title := sel.Text()
		if s.TitleSelector != "" {
			title = sel.Find(s.TitleSelector).First().Text()
		}
		title = scanner.CleanText(title)
		if !usableTitle(title, s.MinTitleRunes) {
			return true
		}

		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		var link string
		if s.Link != nil {
			link = s.Link(title, href)
		} else {
			link = resolveLink(s.Page.URL, href)
		}
		if link == "" {
			return true
		}

		topics = append(topics, domain.RawTopic{Title: title, Link: link})
		return limit <= 0 || len(topics) < limit
	})
	return topics
}

func usableTitle(title string, minRunes int) bool {
	if title == "" {
		return false
	}
	if minRunes > 0 && utf8.RuneCountInString(title) < minRunes {
		return false
	}
	// Pure rank numbers are layout noise.
	return strings.IndexFunc(title, func(r rune) bool { return !unicode.IsDigit(r) }) >= 0
}

// resolveLink turns href into an absolute URL relative to base.
// Script pseudo-links and fragments are dropped.
func resolveLink(base, href string) string {
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(ref).String()
}
