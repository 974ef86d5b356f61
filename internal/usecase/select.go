package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"HotTopics/internal/domain"
	"HotTopics/internal/logging"
	"HotTopics/internal/ports"
)

const (
	selectionTemperature = 0.5
	selectionMaxTokens   = 2048
	maxSelectionTitle    = 80
)

var (
	indexPattern    = regexp.MustCompile(`\d+`)
	errNoCandidates = errors.New("no candidates in selection window")
)

// SelectionOptions tunes the final pick.
type SelectionOptions struct {
	HoursWindow int
	TopCount    int
	FinalCount  int
	MinScore    float64
}

// SelectionReport summarizes one selection cycle.
type SelectionReport struct {
	Candidates int
	Published  int
	Topics     []domain.HotTopic
}

// Selector turns the scored candidate pool into the published hot topics.
type Selector struct {
	chat   ports.ChatClient
	scored ports.ScoredTopicStore
	hot    ports.HotTopicStore
	opts   SelectionOptions
	logger *slog.Logger
	now    func() time.Time
}

// NewSelector wires the chat client and the stores used by RunCycle.
func NewSelector(chat ports.ChatClient, scored ports.ScoredTopicStore, hot ports.HotTopicStore, opts SelectionOptions, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.HoursWindow <= 0 {
		opts.HoursWindow = 48
	}
	if opts.TopCount <= 0 {
		opts.TopCount = 50
	}
	if opts.FinalCount <= 0 {
		opts.FinalCount = 20
	}
	return &Selector{
		chat:   chat,
		scored: scored,
		hot:    hot,
		opts:   opts,
		logger: logger.With("component", "selector"),
		now:    time.Now,
	}
}

// Select picks finalCount topics, letting the model choose when it is
// available and falling back to the score order otherwise. The result is
// sorted by score, highest first.
func (s *Selector) Select(ctx context.Context, candidates []domain.ScoredTopic, finalCount int) []domain.HotTopic {
	if finalCount <= 0 {
		finalCount = s.opts.FinalCount
	}
	if len(candidates) <= finalCount {
		return publish(candidates)
	}

	ranked := make([]domain.ScoredTopic, len(candidates))
	copy(ranked, candidates)
	domain.SortByScore(ranked)

	picked, err := s.pick(ctx, ranked, finalCount)
	if err != nil {
		s.logger.Warn("ai selection failed, using score order", "error", err)
		return publish(ranked[:finalCount])
	}
	return publish(picked)
}

func (s *Selector) pick(ctx context.Context, ranked []domain.ScoredTopic, finalCount int) ([]domain.ScoredTopic, error) {
	if s.chat == nil || !s.chat.Configured() {
		return nil, ports.ErrLLMNotConfigured
	}

	pool := ranked
	if len(pool) > s.opts.TopCount {
		pool = pool[:s.opts.TopCount]
	}
	if len(pool) <= finalCount {
		return ranked[:finalCount], nil
	}

	content, err := s.chat.Complete(ctx, ports.ChatRequest{
		SystemPrompt: selectionPrompt(finalCount, len(pool)),
		UserPrompt:   s.describe(pool),
		Temperature:  selectionTemperature,
		MaxTokens:    selectionMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("request selection: %w", err)
	}

	indices := ParseIndices(content, len(pool), finalCount)
	if len(indices) == 0 {
		return nil, errors.New("no valid index in selection answer")
	}
	if len(indices) < finalCount {
		s.logger.Warn("ai picked too few topics, backfilling by score", "picked", len(indices), "wanted", finalCount)
		indices = backfill(indices, len(pool), finalCount)
	}

	picked := make([]domain.ScoredTopic, 0, len(indices))
	for _, idx := range indices {
		picked = append(picked, pool[idx])
	}
	return picked, nil
}

func (s *Selector) describe(pool []domain.ScoredTopic) string {
	now := s.now()
	var b strings.Builder
	for i, topic := range pool {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s (评分:%.1f, 时间:%s)", i, truncateRunes(topic.Title, maxSelectionTitle), topic.Score, age(now, topic.CreatedAt))
	}
	return b.String()
}

// RunCycle loads the candidate pool, selects and atomically replaces the
// published set. Nothing is replaced when there are no candidates.
func (s *Selector) RunCycle(ctx context.Context) (SelectionReport, error) {
	var report SelectionReport
	if s.scored == nil || s.hot == nil {
		return report, fmt.Errorf("topic stores are not configured")
	}

	candidates, err := s.scored.FetchTopScoring(ctx, s.opts.HoursWindow, s.opts.TopCount, s.opts.MinScore)
	if err != nil {
		return report, fmt.Errorf("fetch candidates: %w", err)
	}
	report.Candidates = len(candidates)
	if len(candidates) == 0 {
		return report, errNoCandidates
	}

	topics := s.Select(ctx, candidates, s.opts.FinalCount)

	count, err := s.hot.ReplaceHotTopics(ctx, topics)
	if err != nil {
		return report, fmt.Errorf("replace hot topics: %w", err)
	}
	report.Published = count
	report.Topics = topics
	s.logger.Info("hot topics published", "candidates", len(candidates), "published", count)
	return report, nil
}

// ParseIndices extracts distinct in-range indices from a free-form answer,
// keeping the model's order and at most limit of them.
func ParseIndices(content string, size, limit int) []int {
	seen := map[int]bool{}
	var out []int
	for _, match := range indexPattern.FindAllString(content, -1) {
		if len(out) >= limit {
			break
		}
		idx, err := strconv.Atoi(match)
		if err != nil || idx < 0 || idx >= size || seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, idx)
	}
	return out
}

// backfill tops up indices with the best unused positions of a score-sorted pool.
func backfill(indices []int, size, want int) []int {
	used := make(map[int]bool, len(indices))
	for _, idx := range indices {
		used[idx] = true
	}
	for idx := 0; idx < size && len(indices) < want; idx++ {
		if !used[idx] {
			indices = append(indices, idx)
		}
	}
	return indices
}

func publish(topics []domain.ScoredTopic) []domain.HotTopic {
	out := make([]domain.HotTopic, len(topics))
	for i, topic := range topics {
		out[i] = domain.HotTopicFrom(topic)
	}
	domain.SortHotTopics(out)
	return out
}

func selectionPrompt(count, size int) string {
	return fmt.Sprintf("你是一个热点话题精选专家。请从以上候选新闻中精选出 %d 条最具价值的热点。\n\n"+
		"精选标准:\n"+
		"1. 时效性：优先最新事件\n"+
		"2. 热度：优先讨论度高的事件\n"+
		"3. 价值性：优先有社会影响、公众关注的事件\n"+
		"4. 多样性：避免选太多同类型新闻\n\n"+
		"请返回精选的 %d 条新闻的索引号（0-%d），用逗号分隔。\n\n"+
		"示例: 0, 3, 5, 7, 12", count, count, size-1)
}

func age(now, created time.Time) string {
	if created.IsZero() {
		return "未知"
	}
	hours := int(now.Sub(created).Hours())
	if hours <= 0 {
		return "1小时内"
	}
	return strconv.Itoa(hours) + "小时前"
}
