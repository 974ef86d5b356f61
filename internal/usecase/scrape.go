package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"HotTopics/internal/domain"
	"HotTopics/internal/logging"
	"HotTopics/internal/ports"
	"HotTopics/internal/scanner"
)

// DefaultCategoryPlatforms are used for a category without enabled platforms.
var DefaultCategoryPlatforms = []string{"weibo", "zhihu"}

// ScrapeOptions tunes the orchestrator.
type ScrapeOptions struct {
	Limit        int
	KeywordLimit int
	// AdapterTimeout bounds a single adapter call; zero means no extra bound.
	AdapterTimeout time.Duration
	// Concurrency caps parallel adapters; zero runs all of them at once.
	Concurrency int
	// Platforms restricts ranking mode; empty means every registered adapter.
	Platforms         []string
	FallbackPlatforms []string
	// Retention prunes raw topics older than this after every cycle; zero disables pruning.
	Retention time.Duration
}

// ScrapeReport summarizes one scrape cycle.
type ScrapeReport struct {
	Fetched    int
	Inserted   int
	Ranking    int
	Categories int
	Pruned     int
	BySource   map[string]int
	Missing    []string
	// FailedCategories lists categories whose scrape was abandoned.
	FailedCategories []int64
}

// Orchestrator fans out to source adapters and persists their merged output.
type Orchestrator struct {
	registry   *scanner.Registry
	raw        ports.RawTopicStore
	categories ports.CategoryStore
	opts       ScrapeOptions
	logger     *slog.Logger
	now        func() time.Time
}

// NewOrchestrator wires the registry to its persistence collaborators.
func NewOrchestrator(registry *scanner.Registry, raw ports.RawTopicStore, categories ports.CategoryStore, opts ScrapeOptions, logger *slog.Logger) *Orchestrator {
	if registry == nil {
		registry = scanner.NewRegistry()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.KeywordLimit <= 0 {
		opts.KeywordLimit = 20
	}
	if len(opts.FallbackPlatforms) == 0 {
		opts.FallbackPlatforms = DefaultCategoryPlatforms
	}

	return &Orchestrator{
		registry:   registry,
		raw:        raw,
		categories: categories,
		opts:       opts,
		logger:     logger.With("component", "orchestrator"),
		now:        time.Now,
	}
}

// RunScrapeCycle scrapes every enabled platform's ranking, then every
// keyword category, and stores what was found.
func (o *Orchestrator) RunScrapeCycle(ctx context.Context) (ScrapeReport, error) {
	report := ScrapeReport{BySource: map[string]int{}}

	if err := o.scrapeRanking(ctx, &report); err != nil {
		return report, err
	}

	if o.categories != nil {
		categories, err := o.categories.FetchCategoriesWithKeywords(ctx)
		if err != nil {
			return report, fmt.Errorf("fetch categories: %w", err)
		}
		for _, category := range categories {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			if err := o.scrapeCategory(ctx, category, &report); err != nil {
				o.logger.Error("category scrape failed", "category_id", category.ID, "error", err)
				report.FailedCategories = append(report.FailedCategories, category.ID)
			}
		}
	}

	o.prune(ctx, &report)
	return report, nil
}

// RunScrapeCycleFor scrapes a single category and skips ranking mode.
func (o *Orchestrator) RunScrapeCycleFor(ctx context.Context, categoryID int64) (ScrapeReport, error) {
	report := ScrapeReport{BySource: map[string]int{}}
	if o.categories == nil {
		return report, fmt.Errorf("category store is not configured")
	}

	category, ok, err := o.categories.FetchCategory(ctx, categoryID)
	if err != nil {
		return report, fmt.Errorf("fetch category %d: %w", categoryID, err)
	}
	if !ok {
		return report, fmt.Errorf("category %d not found", categoryID)
	}

	if err := o.scrapeCategory(ctx, category, &report); err != nil {
		return report, err
	}
	o.prune(ctx, &report)
	return report, nil
}

func (o *Orchestrator) scrapeRanking(ctx context.Context, report *ScrapeReport) error {
	adapters, missing := o.registry.Select(o.opts.Platforms)
	if len(missing) > 0 {
		o.logger.Warn("unknown platforms ignored", "platforms", missing)
		report.Missing = append(report.Missing, missing...)
	}
	if len(adapters) == 0 {
		return nil
	}

	topics := o.fanOut(ctx, adapters, func(ctx context.Context, adapter scanner.Adapter) []domain.RawTopic {
		return adapter.Scrape(ctx, o.opts.Limit)
	})

	inserted, err := o.store(ctx, topics, nil, report)
	if err != nil {
		return err
	}
	report.Ranking += inserted
	o.logger.Info("ranking scraped", "fetched", len(topics), "inserted", inserted)
	return nil
}

func (o *Orchestrator) scrapeCategory(ctx context.Context, category domain.Category, report *ScrapeReport) error {
	logger := o.logger.With("category", category.Name, "category_id", category.ID)
	if len(category.Keywords) == 0 {
		logger.Info("category has no keywords")
		return nil
	}

	platforms, err := o.categories.FetchEnabledPlatformsForCategory(ctx, category.ID)
	if err != nil {
		return fmt.Errorf("fetch platforms of category %d: %w", category.ID, err)
	}
	if len(platforms) == 0 {
		platforms = o.opts.FallbackPlatforms
	}

	adapters, missing := o.registry.Select(platforms)
	if len(missing) > 0 {
		logger.Warn("unknown platforms ignored", "platforms", missing)
		report.Missing = append(report.Missing, missing...)
	}
	if len(adapters) == 0 {
		return nil
	}

	topics := o.fanOut(ctx, adapters, func(ctx context.Context, adapter scanner.Adapter) []domain.RawTopic {
		return adapter.ScrapeByKeywords(ctx, category.Keywords, o.opts.KeywordLimit)
	})

	id := category.ID
	for i := range topics {
		topics[i].CategoryID = &id
	}

	inserted, err := o.store(ctx, topics, &id, report)
	if err != nil {
		return err
	}
	report.Categories += inserted
	logger.Info("category scraped", "fetched", len(topics), "inserted", inserted)
	return nil
}

// fanOut runs call on every adapter concurrently and merges the results once
// all of them returned. A panicking or slow adapter only loses its own share.
func (o *Orchestrator) fanOut(ctx context.Context, adapters []scanner.Adapter, call func(context.Context, scanner.Adapter) []domain.RawTopic) []domain.RawTopic {
	results := make([][]domain.RawTopic, len(adapters))

	var g errgroup.Group
	if o.opts.Concurrency > 0 {
		g.SetLimit(o.opts.Concurrency)
	}
	for i, adapter := range adapters {
		g.Go(func() error {
			results[i] = o.invoke(ctx, adapter, call)
			return nil
		})
	}
	_ = g.Wait()

	var merged []domain.RawTopic
	for _, batch := range results {
		merged = append(merged, batch...)
	}
	return merged
}

func (o *Orchestrator) invoke(ctx context.Context, adapter scanner.Adapter, call func(context.Context, scanner.Adapter) []domain.RawTopic) (topics []domain.RawTopic) {
	logger := o.logger.With("platform", adapter.Name())
	defer func() {
		if r := recover(); r != nil {
			logger.Error("adapter panicked", "panic", r)
			topics = nil
		}
	}()

	if o.opts.AdapterTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.AdapterTimeout)
		defer cancel()
	}

	started := o.now()
	topics = call(ctx, adapter)
	logger.Debug("adapter finished", "count", len(topics), "elapsed", o.now().Sub(started))
	return topics
}

func (o *Orchestrator) store(ctx context.Context, topics []domain.RawTopic, categoryID *int64, report *ScrapeReport) (int, error) {
	report.Fetched += len(topics)
	for _, topic := range topics {
		report.BySource[topic.Source]++
	}
	if len(topics) == 0 || o.raw == nil {
		return 0, nil
	}

	inserted, err := o.raw.InsertRawTopicsIfAbsent(ctx, topics, categoryID)
	if err != nil {
		return 0, fmt.Errorf("store raw topics: %w", err)
	}
	report.Inserted += inserted
	return inserted, nil
}

func (o *Orchestrator) prune(ctx context.Context, report *ScrapeReport) {
	if o.opts.Retention <= 0 || o.raw == nil {
		return
	}
	pruned, err := o.raw.PruneRawTopics(ctx, o.now().Add(-o.opts.Retention))
	if err != nil {
		o.logger.Warn("prune raw topics failed", "error", err)
		return
	}
	report.Pruned = pruned
	if pruned > 0 {
		o.logger.Info("old raw topics pruned", "count", pruned)
	}
}
