package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"HotTopics/internal/domain"
	"HotTopics/internal/logging"
	"HotTopics/internal/ports"
)

// PipelineDeps wires the stages and their collaborators into the pipeline.
type PipelineDeps struct {
	Orchestrator *Orchestrator
	Analyzer     *Analyzer
	Selector     *Selector
	HotTopics    ports.HotTopicStore
	Stats        ports.StatsReader
	Notifier     ports.Notifier
	// Schedule, when set, supplies next activation times for Status.
	Schedule ports.Scheduler
	Night    NightWindow
	Location *time.Location
	Logger   *slog.Logger
	Now      func() time.Time
}

// PipelineStatus is the read model served to callers.
type PipelineStatus struct {
	Now        time.Time
	NightHours bool
	Stages     []domain.StageStatus
	Full       domain.StageStatus
	HotTopics  int
	Stats      domain.Stats
}

// Pipeline exposes the stage triggers and guards them with running flags and
// the night window.
type Pipeline struct {
	orchestrator *Orchestrator
	analyzer     *Analyzer
	selector     *Selector
	hotStore     ports.HotTopicStore
	stats        ports.StatsReader
	notifier     ports.Notifier
	schedule     ports.Scheduler
	night        NightWindow
	location     *time.Location
	logger       *slog.Logger
	now          func() time.Time

	state *PipelineState

	mu  sync.RWMutex
	hot []domain.HotTopic
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	loc := deps.Location
	if loc == nil {
		loc = time.Local
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Pipeline{
		orchestrator: deps.Orchestrator,
		analyzer:     deps.Analyzer,
		selector:     deps.Selector,
		hotStore:     deps.HotTopics,
		stats:        deps.Stats,
		notifier:     deps.Notifier,
		schedule:     deps.Schedule,
		night:        deps.Night,
		location:     loc,
		logger:       logger.With("component", "pipeline"),
		now:          now,
		state:        NewPipelineState(),
	}
}

// State exposes the running flags.
func (p *Pipeline) State() *PipelineState {
	return p.state
}

// Restore loads the last published set into memory.
func (p *Pipeline) Restore(ctx context.Context) error {
	if p.hotStore == nil {
		return nil
	}
	topics, err := p.hotStore.LoadHotTopics(ctx)
	if err != nil {
		return fmt.Errorf("load hot topics: %w", err)
	}
	p.setHotTopics(topics)
	p.logger.Info("hot topics restored", "count", len(topics))
	return nil
}

// HotTopics returns a copy of the current published set.
func (p *Pipeline) HotTopics() []domain.HotTopic {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.HotTopic, len(p.hot))
	copy(out, p.hot)
	return out
}

func (p *Pipeline) setHotTopics(topics []domain.HotTopic) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hot = topics
}

// RunScrapeCycle scrapes rankings and keyword categories.
func (p *Pipeline) RunScrapeCycle(ctx context.Context) domain.StageResult {
	return p.run(ctx, domain.StageScrape, func(ctx context.Context, res *domain.StageResult) error {
		if p.orchestrator == nil {
			return errors.New("scrape orchestrator is not configured")
		}
		report, err := p.orchestrator.RunScrapeCycle(ctx)
		fillScrape(res, report)
		return err
	})
}

// RunScrapeCycleFor scrapes a single keyword category.
func (p *Pipeline) RunScrapeCycleFor(ctx context.Context, categoryID int64) domain.StageResult {
	return p.run(ctx, domain.StageScrape, func(ctx context.Context, res *domain.StageResult) error {
		if p.orchestrator == nil {
			return errors.New("scrape orchestrator is not configured")
		}
		report, err := p.orchestrator.RunScrapeCycleFor(ctx, categoryID)
		fillScrape(res, report)
		return err
	})
}

// RunAnalysisCycle scores pending raw topics.
func (p *Pipeline) RunAnalysisCycle(ctx context.Context) domain.StageResult {
	return p.run(ctx, domain.StageAnalyze, func(ctx context.Context, res *domain.StageResult) error {
		if p.analyzer == nil {
			return errors.New("analyzer is not configured")
		}
		report, err := p.analyzer.RunCycle(ctx)
		res.Counts["fetched"] = report.Fetched
		res.Counts["batches"] = report.Batches
		res.Counts["analyzed"] = report.Analyzed
		res.Counts["failed"] = report.Failed
		res.Counts["skipped"] = report.Skipped
		if report.Degraded {
			res.Message = "llm not configured, scoring skipped"
		} else {
			res.Message = fmt.Sprintf("analysed %d, failed %d, skipped %d", report.Analyzed, report.Failed, report.Skipped)
		}
		return err
	})
}

// RunClusterCycle merges pending raw topics into scored clusters. It shares
// the analysis flag with RunAnalysisCycle.
func (p *Pipeline) RunClusterCycle(ctx context.Context) domain.StageResult {
	return p.run(ctx, domain.StageAnalyze, func(ctx context.Context, res *domain.StageResult) error {
		if p.analyzer == nil {
			return errors.New("analyzer is not configured")
		}
		report, err := p.analyzer.RunClusterCycle(ctx)
		res.Counts["fetched"] = report.Fetched
		res.Counts["batches"] = report.Batches
		res.Counts["analyzed"] = report.Clusters
		res.Counts["merged"] = report.Merged
		res.Counts["unclustered"] = report.Unclustered
		if report.Degraded {
			res.Message = "llm not configured, clustering skipped"
		} else {
			res.Message = fmt.Sprintf("%d clusters from %d topics, %d merged", report.Clusters, report.Fetched, report.Merged)
		}
		return err
	})
}

// RunSelectionCycle publishes a new hot-topic set.
func (p *Pipeline) RunSelectionCycle(ctx context.Context) domain.StageResult {
	return p.run(ctx, domain.StageSelect, func(ctx context.Context, res *domain.StageResult) error {
		if p.selector == nil {
			return errors.New("selector is not configured")
		}
		report, err := p.selector.RunCycle(ctx)
		res.Counts["candidates"] = report.Candidates
		res.Counts["selected"] = report.Published
		if err != nil {
			return err
		}

		p.setHotTopics(report.Topics)
		res.Message = fmt.Sprintf("published %d of %d candidates", report.Published, report.Candidates)
		p.notify(ctx, report.Topics)
		return nil
	})
}

// RunFullPipeline runs scrape, clustering analysis and selection in order.
// Each step still takes its own flag, so a step already running on schedule
// is skipped.
func (p *Pipeline) RunFullPipeline(ctx context.Context) domain.StageResult {
	return p.run(ctx, domain.StageFull, func(ctx context.Context, res *domain.StageResult) error {
		steps := []func(context.Context) domain.StageResult{
			p.RunScrapeCycle,
			p.RunClusterCycle,
			p.RunSelectionCycle,
		}

		var (
			errs    []error
			summary []string
		)
		for _, step := range steps {
			if err := ctx.Err(); err != nil {
				errs = append(errs, err)
				break
			}
			out := step(ctx)
			res.Steps = append(res.Steps, out)
			switch {
			case out.Skipped:
				summary = append(summary, fmt.Sprintf("%s skipped (%s)", out.Stage, out.Message))
			case !out.Success:
				summary = append(summary, fmt.Sprintf("%s failed", out.Stage))
				errs = append(errs, fmt.Errorf("%s: %s", out.Stage, out.Message))
			default:
				summary = append(summary, fmt.Sprintf("%s ok", out.Stage))
			}
			for name, v := range out.Counts {
				res.Counts[string(out.Stage)+"."+name] = v
			}
		}
		res.Message = strings.Join(summary, ", ")
		return errors.Join(errs...)
	})
}

// Run dispatches a trigger by name: scrape, analyze, cluster, select or full.
func (p *Pipeline) Run(ctx context.Context, name string) (domain.StageResult, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "scrape", string(domain.StageScrape):
		return p.RunScrapeCycle(ctx), nil
	case "analyze", "analyse", string(domain.StageAnalyze):
		return p.RunAnalysisCycle(ctx), nil
	case "cluster":
		return p.RunClusterCycle(ctx), nil
	case "select", string(domain.StageSelect):
		return p.RunSelectionCycle(ctx), nil
	case "full", "pipeline":
		return p.RunFullPipeline(ctx), nil
	default:
		return domain.StageResult{}, fmt.Errorf("unknown trigger %q", name)
	}
}

// Status reports flags, run times, the night flag and store counters.
func (p *Pipeline) Status(ctx context.Context) (PipelineStatus, error) {
	now := p.now().In(p.location)
	status := PipelineStatus{
		Now:        now,
		NightHours: p.night.Contains(now),
		Full:       p.state.Status(domain.StageFull),
		HotTopics:  len(p.HotTopics()),
	}
	for _, stage := range domain.Stages {
		st := p.state.Status(stage)
		if p.schedule != nil {
			st.NextRun = p.schedule.Next(string(stage))
		}
		status.Stages = append(status.Stages, st)
	}

	if p.stats != nil {
		stats, err := p.stats.Stats(ctx)
		if err != nil {
			return status, fmt.Errorf("read stats: %w", err)
		}
		status.Stats = stats
	}
	return status, nil
}

// run executes body under the stage flag. The flag is always cleared, and
// errors and panics end up in the result instead of propagating.
func (p *Pipeline) run(ctx context.Context, stage domain.Stage, body func(context.Context, *domain.StageResult) error) domain.StageResult {
	res := domain.StageResult{
		Stage:   stage,
		RunID:   uuid.NewString(),
		Started: p.now(),
		Counts:  map[string]int{},
	}
	logger := p.logger.With("stage", stage, "run_id", res.RunID)

	if p.night.Contains(res.Started.In(p.location)) {
		res.Skipped = true
		res.Message = "night hours, stage skipped"
		res.Finished = res.Started
		logger.Info("stage skipped in night hours")
		return res
	}

	if !p.state.TryAcquire(stage) {
		res.Skipped = true
		res.Message = "stage already running"
		res.Finished = res.Started
		logger.Info("stage already running, trigger ignored")
		return res
	}
	defer p.state.Release(stage)
	p.state.markStarted(stage, res.Started)
	logger.Info("stage started")

	err := p.guard(ctx, &res, body)

	res.Finished = p.now()
	elapsed := res.Finished.Sub(res.Started)
	if err != nil {
		res.Success = false
		if res.Message == "" {
			res.Message = err.Error()
		} else {
			res.Message += ": " + err.Error()
		}
		logger.Error("stage failed", "error", err, "elapsed", elapsed)
	} else {
		res.Success = true
		logger.Info("stage finished", "message", res.Message, "elapsed", elapsed)
	}
	p.state.record(res)
	return res
}

func (p *Pipeline) guard(ctx context.Context, res *domain.StageResult, body func(context.Context, *domain.StageResult) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage panicked: %v", r)
		}
	}()
	return body(ctx, res)
}

func (p *Pipeline) notify(ctx context.Context, topics []domain.HotTopic) {
	if p.notifier == nil || len(topics) == 0 {
		return
	}
	if err := p.notifier.PublishHotTopics(ctx, topics); err != nil {
		p.logger.Warn("hot topic notification failed", "error", err)
	}
}

func fillScrape(res *domain.StageResult, report ScrapeReport) {
	res.Counts["scraped"] = report.Inserted
	res.Counts["fetched"] = report.Fetched
	res.Counts["ranking"] = report.Ranking
	res.Counts["category"] = report.Categories
	res.Counts["pruned"] = report.Pruned
	res.Counts["failed_categories"] = len(report.FailedCategories)
	res.BySource = report.BySource
	res.Message = fmt.Sprintf("scraped %d new topics (%d fetched)", report.Inserted, report.Fetched)
}
