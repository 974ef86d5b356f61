package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"HotTopics/internal/domain"
	"HotTopics/internal/logging"
	"HotTopics/internal/ports"
)

const (
	clusterPrompt = "你是一个专业的全网舆情分析师。请对以下新闻标题列表进行去重和深度分析。\n" +
		"任务：\n" +
		"1. 合并重复或内容相近的事件。\n" +
		"2. 从原始列表中选择一个代表性 ID。\n" +
		"3. 评分 (heat 0-100) 并打标签 (tags)。\n" +
		"4. 写一句简短犀利的点评 (comment, 50字内)。\n" +
		"\n" +
		"严格的数据清洗规则：\n" +
		"1. 标题清洗：生成的 title 字段必须去除开头的 [微博]、[百度] 等来源前缀。只保留纯文本标题。\n" +
		"2. 标签清洗：tags 数组中禁止包含平台名称（如：微博、百度、知乎、头条、热搜）。\n" +
		"3. 禁止推理：不要输出思考过程，直接返回 JSON 数组。\n" +
		"\n" +
		"格式示例：\n" +
		`[{ "id": 0, "title": "纯净的标题内容", "heat": 80, "tags": ["事件关键词", "核心人物"], "comment": "..." }]`

	clusterRetryPrompt = "请对新闻标题去重、评分，返回 JSON。注意：标题不要包含 [xx] 前缀。"

	scoringPrompt = "你是一个专业的内容分析师。请对以上新闻列表进行评分和点评。\n" +
		"评分标准 (0-10分):\n" +
		"1. 时效性 (3分): 越新越高\n" +
		"2. 热度 (3分): 越热门越高\n" +
		"3. 价值性 (4分): 内容是否重要、有趣、有讨论价值\n\n" +
		"点评要求: 简短精炼，20字以内，点出核心看点\n\n" +
		"请返回 JSON 数组格式:\n" +
		`[{"index": 0, "score": 8.5, "comment": "核心看点"}, {"index": 1, "score": 7.0, "comment": "核心看点"}]` + "\n\n" +
		"只返回 JSON，不要有其他内容。"

	clusterTemperature = 0.2
	retryTemperature   = 0.5
	scoringTemperature = 0.3

	defaultHeat      = 50
	defaultScore     = 5.0
	maxTagRunes      = 10
	maxCommentRunes  = 20
	maxPromptTitle   = 100
	skipReasonPrefix = "too many failures"
	mergedReason     = "merged into cluster"
)

// AnalysisOptions tunes both analysis flavours.
type AnalysisOptions struct {
	BatchSize    int
	FetchLimit   int
	MaxFailCount int
	MaxTokens    int
}

// ScoreReport summarizes one scheduled analysis cycle.
type ScoreReport struct {
	Fetched  int
	Batches  int
	Analyzed int
	Failed   int
	Skipped  int
	// Degraded is set when no LLM credential is configured and nothing was scored.
	Degraded bool
}

// ClusterReport summarizes one clustering pass over stored topics.
type ClusterReport struct {
	Fetched  int
	Batches  int
	Clusters int
	Merged   int
	// Unclustered counts topics left pending because a batch fell back to raw input.
	Unclustered int
	Degraded    bool
}

// Analyzer deduplicates, scores and comments raw topics with an LLM.
type Analyzer struct {
	chat   ports.ChatClient
	raw    ports.RawTopicStore
	opts   AnalysisOptions
	logger *slog.Logger
}

// NewAnalyzer wires the chat client and the raw store. A nil chat client
// behaves as an unconfigured one.
func NewAnalyzer(chat ports.ChatClient, raw ports.RawTopicStore, opts AnalysisOptions, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = 50
	}
	if opts.MaxFailCount <= 0 {
		opts.MaxFailCount = 3
	}
	return &Analyzer{
		chat:   chat,
		raw:    raw,
		opts:   opts,
		logger: logger.With("component", "analyzer"),
	}
}

func (a *Analyzer) configured() bool {
	return a.chat != nil && a.chat.Configured()
}

// Analyze pulls up to limit pending topics from storage and clusters them.
func (a *Analyzer) Analyze(ctx context.Context, limit int) ([]domain.ScoredTopic, error) {
	if a.raw == nil {
		return nil, fmt.Errorf("raw topic store is not configured")
	}
	if limit <= 0 {
		limit = a.opts.FetchLimit
	}
	topics, err := a.raw.FetchUnanalyzed(ctx, limit, a.opts.MaxFailCount)
	if err != nil {
		return nil, fmt.Errorf("fetch unanalyzed: %w", err)
	}
	return a.AnalyzeBatch(ctx, topics), nil
}

// AnalyzeBatch merges near-duplicate events and scores each cluster. Whatever
// goes wrong, the input is returned as unscored topics rather than lost.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, topics []domain.RawTopic) []domain.ScoredTopic {
	if len(topics) == 0 {
		return []domain.ScoredTopic{}
	}
	if !a.configured() {
		a.logger.Warn("llm not configured, topics left unscored", "count", len(topics))
		return unscored(topics)
	}

	user := "以下是原始标题列表：\n" + enumerate(topics)

	content := a.complete(ctx, clusterPrompt, user, clusterTemperature)
	if strings.TrimSpace(content) == "" {
		a.logger.Warn("empty llm answer, retrying with simplified prompt")
		content = a.complete(ctx, clusterRetryPrompt, user, retryTemperature)
	}

	items, err := decodeArray[clusterItem](content)
	if err != nil {
		a.logger.Warn("cluster answer unparseable, keeping raw topics", "error", err)
		return unscored(topics)
	}

	accepted := make([]domain.ScoredTopic, 0, len(items))
	seen := map[int]bool{}
	for _, item := range items {
		idx := item.ID.position()
		if idx < 0 || idx >= len(topics) || seen[idx] {
			continue
		}
		seen[idx] = true
		accepted = append(accepted, item.scored(topics[idx]))
	}

	if len(accepted) == 0 {
		a.logger.Warn("cluster answer had no usable items, keeping raw topics")
		return unscored(topics)
	}

	sortByHeat(accepted)
	a.logger.Info("batch analysed", "input", len(topics), "clusters", len(accepted))
	return accepted
}

// complete returns the model answer, or "" when the call failed.
func (a *Analyzer) complete(ctx context.Context, system, user string, temperature float64) string {
	content, err := a.chat.Complete(ctx, ports.ChatRequest{
		SystemPrompt: system,
		UserPrompt:   user,
		Temperature:  temperature,
		MaxTokens:    a.opts.MaxTokens,
	})
	if err != nil {
		a.logger.Warn("llm request failed", "error", err)
		return ""
	}
	return content
}

// RunCycle scores pending topics in batches and records per-topic outcomes.
// Topics that keep failing are retired once they pass MaxFailCount.
func (a *Analyzer) RunCycle(ctx context.Context) (ScoreReport, error) {
	var report ScoreReport
	if a.raw == nil {
		return report, fmt.Errorf("raw topic store is not configured")
	}
	if !a.configured() {
		a.logger.Warn("llm not configured, scoring skipped")
		report.Degraded = true
		return report, nil
	}

	pending, err := a.raw.FetchUnanalyzed(ctx, a.opts.FetchLimit, a.opts.MaxFailCount)
	if err != nil {
		return report, fmt.Errorf("fetch unanalyzed: %w", err)
	}
	report.Fetched = len(pending)
	if len(pending) == 0 {
		a.logger.Info("nothing to analyse")
		return report, nil
	}

	for start := 0; start < len(pending); start += a.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		end := min(start+a.opts.BatchSize, len(pending))
		batch := pending[start:end]
		report.Batches++

		outcomes := a.scoreBatch(ctx, batch)
		for i, topic := range batch {
			if err := a.record(ctx, topic, outcomes[i], &report); err != nil {
				return report, err
			}
		}
		a.logger.Info("batch scored", "batch", report.Batches, "size", len(batch))
	}

	return report, nil
}

// RunClusterCycle clusters pending topics batch by batch and stores every
// representative with score heat/10. Topics folded into a cluster are retired;
// a batch that falls back to raw input is left pending.
func (a *Analyzer) RunClusterCycle(ctx context.Context) (ClusterReport, error) {
	var report ClusterReport
	if a.raw == nil {
		return report, fmt.Errorf("raw topic store is not configured")
	}
	if !a.configured() {
		a.logger.Warn("llm not configured, clustering skipped")
		report.Degraded = true
		return report, nil
	}

	pending, err := a.raw.FetchUnanalyzed(ctx, a.opts.FetchLimit, a.opts.MaxFailCount)
	if err != nil {
		return report, fmt.Errorf("fetch unanalyzed: %w", err)
	}
	report.Fetched = len(pending)

	for start := 0; start < len(pending); start += a.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		batch := pending[start:min(start+a.opts.BatchSize, len(pending))]
		report.Batches++

		clusters := a.AnalyzeBatch(ctx, batch)
		if len(clusters) == 0 || !clusters[0].Analyzed {
			report.Unclustered += len(batch)
			continue
		}
		if err := a.storeClusters(ctx, batch, clusters, &report); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (a *Analyzer) storeClusters(ctx context.Context, batch []domain.RawTopic, clusters []domain.ScoredTopic, report *ClusterReport) error {
	kept := make(map[int64]bool, len(clusters))
	for _, c := range clusters {
		kept[c.ID] = true
		update := domain.AnalysisUpdate{ID: c.ID, Score: c.Score, Comment: c.Comment, Analyzed: true}
		if err := a.raw.UpdateAnalysis(ctx, update); err != nil {
			return fmt.Errorf("update analysis of %d: %w", c.ID, err)
		}
		report.Clusters++
	}
	for _, topic := range batch {
		if kept[topic.ID] {
			continue
		}
		if err := a.raw.UpdateAnalysis(ctx, domain.AnalysisUpdate{ID: topic.ID, SkipReason: mergedReason}); err != nil {
			return fmt.Errorf("update analysis of %d: %w", topic.ID, err)
		}
		report.Merged++
	}
	return nil
}

type scoreOutcome struct {
	ok      bool
	score   float64
	comment string
	reason  string
}

func (a *Analyzer) scoreBatch(ctx context.Context, batch []domain.RawTopic) []scoreOutcome {
	outcomes := make([]scoreOutcome, len(batch))
	fail := func(reason string) []scoreOutcome {
		for i := range outcomes {
			outcomes[i] = scoreOutcome{reason: reason}
		}
		return outcomes
	}

	content, err := a.chat.Complete(ctx, ports.ChatRequest{
		SystemPrompt: scoringPrompt,
		UserPrompt:   enumerate(batch),
		Temperature:  scoringTemperature,
		MaxTokens:    a.opts.MaxTokens,
	})
	if err != nil {
		a.logger.Warn("scoring request failed", "error", err)
		return fail("llm request failed")
	}

	items, err := decodeArray[scoreItem](content)
	if err != nil {
		a.logger.Warn("scoring answer unparseable", "error", err)
		return fail("unparseable answer")
	}

	for i := range outcomes {
		outcomes[i] = scoreOutcome{reason: "omitted by model"}
	}
	for _, item := range items {
		idx := item.Index.position()
		if idx < 0 || idx >= len(batch) || outcomes[idx].ok {
			continue
		}
		outcomes[idx] = item.outcome()
	}
	return outcomes
}

func (a *Analyzer) record(ctx context.Context, topic domain.RawTopic, outcome scoreOutcome, report *ScoreReport) error {
	update := domain.AnalysisUpdate{ID: topic.ID}
	switch {
	case outcome.ok:
		update.Analyzed = true
		update.Score = outcome.score
		update.Comment = outcome.comment
		report.Analyzed++
	case topic.FailCount+1 > a.opts.MaxFailCount:
		update.SkipReason = skipReasonPrefix + ": " + outcome.reason
		report.Skipped++
	default:
		report.Failed++
	}

	if err := a.raw.UpdateAnalysis(ctx, update); err != nil {
		return fmt.Errorf("update analysis of %d: %w", topic.ID, err)
	}
	return nil
}

// clusterItem is one merged event proposed by the model.
type clusterItem struct {
	ID      *flexIndex `json:"id"`
	Title   string     `json:"title"`
	Heat    *float64   `json:"heat"`
	Tags    []string   `json:"tags"`
	Comment string     `json:"comment"`
}

// scored rebuilds the topic from the original record; only title, heat,
// tags and comment are taken from the model.
func (c clusterItem) scored(orig domain.RawTopic) domain.ScoredTopic {
	title := strings.TrimSpace(c.Title)
	if title == "" {
		title = orig.Title
	}
	title = SanitizeTitle(title, orig.Source)
	if title == "" {
		title = SanitizeTitle(orig.Title, orig.Source)
	}

	heat := defaultHeat
	if c.Heat != nil {
		heat = int(math.Round(math.Max(0, math.Min(100, *c.Heat))))
	}

	raw := orig
	raw.Title = title
	return domain.ScoredTopic{
		RawTopic: raw,
		Heat:     heat,
		Score:    float64(heat) / 10,
		Tags:     SanitizeTags(c.Tags, orig.Source),
		Comment:  strings.TrimSpace(c.Comment),
		Analyzed: true,
	}
}

// scoreItem is one per-topic score proposed by the model.
type scoreItem struct {
	Index   *flexIndex `json:"index"`
	Score   *float64   `json:"score"`
	Comment string     `json:"comment"`
}

func (s scoreItem) outcome() scoreOutcome {
	score := defaultScore
	if s.Score != nil {
		score = math.Max(0, math.Min(10, *s.Score))
	}
	return scoreOutcome{
		ok:      true,
		score:   score,
		comment: truncateRunes(strings.TrimSpace(s.Comment), maxCommentRunes),
	}
}

// SanitizeTitle removes source markers the model tends to echo back.
func SanitizeTitle(title, source string) string {
	var dirty []string
	if source != "" {
		dirty = append(dirty,
			"["+source+"]", "【"+source+"】",
			"["+source+"热搜]", "【"+source+"热搜】",
		)
	}
	dirty = append(dirty, "[]", "【】")

	for _, d := range dirty {
		title = strings.ReplaceAll(title, d, "")
	}
	return strings.TrimSpace(title)
}

// SanitizeTags drops tags naming the source and overly long tags.
func SanitizeTags(tags []string, source string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if source != "" && strings.Contains(tag, source) {
			continue
		}
		if utf8.RuneCountInString(tag) >= maxTagRunes {
			continue
		}
		out = append(out, tag)
	}
	return out
}

// enumerate lists topics as "index. [source] title", one per line.
func enumerate(topics []domain.RawTopic) string {
	var b strings.Builder
	for i, topic := range topics {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. [%s] %s", i, topic.Source, truncateRunes(topic.Title, maxPromptTitle))
	}
	return b.String()
}

func unscored(topics []domain.RawTopic) []domain.ScoredTopic {
	out := make([]domain.ScoredTopic, len(topics))
	for i, topic := range topics {
		out[i] = domain.ScoredTopic{RawTopic: topic}
	}
	return out
}

func sortByHeat(topics []domain.ScoredTopic) {
	sort.SliceStable(topics, func(i, j int) bool {
		return topics[i].Heat > topics[j].Heat
	})
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
