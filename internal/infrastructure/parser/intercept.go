package parser

import (
	"context"
	"fmt"

	"HotTopics/internal/domain"
	"HotTopics/internal/ports"
	"HotTopics/internal/scanner"
)

// PayloadDecoder converts one captured API response body into topics.
type PayloadDecoder func(body []byte) ([]domain.RawTopic, error)

// InterceptStrategy loads a page in a headless browser and decodes the JSON
// responses of the page's own ranking API.
type InterceptStrategy struct {
	Renderer ports.Renderer
	Request  ports.RenderRequest
	Decode   PayloadDecoder
}

var _ scanner.Strategy = (*InterceptStrategy)(nil)

// Kind implements scanner.Strategy.
func (s *InterceptStrategy) Kind() scanner.Kind {
	return scanner.KindIntercept
}

// Fetch implements scanner.Strategy.
func (s *InterceptStrategy) Fetch(ctx context.Context, limit int) ([]domain.RawTopic, error) {
	if s.Renderer == nil {
		return nil, fmt.Errorf("intercept strategy %s: renderer is not configured", s.Request.URL)
	}
	page, err := s.Renderer.Render(ctx, s.Request)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", s.Request.URL, err)
	}
	if len(page.Captured) == 0 {
		return nil, fmt.Errorf("no response matching %q captured: %w", s.Request.CapturePath, scanner.ErrNoData)
	}

	var lastErr error
	for _, body := range page.Captured {
		topics, err := s.Decode(body)
		if err != nil {
			lastErr = err
			continue
		}
		if len(topics) == 0 {
			continue
		}
		if limit > 0 && len(topics) > limit {
			topics = topics[:limit]
		}
		return topics, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("decode captured payload: %w", lastErr)
	}
	return nil, scanner.ErrNoData
}
