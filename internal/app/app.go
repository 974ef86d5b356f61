package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"HotTopics/internal/config"
	"HotTopics/internal/domain"
	"HotTopics/internal/infrastructure/browser"
	"HotTopics/internal/infrastructure/llm"
	"HotTopics/internal/infrastructure/parser"
	"HotTopics/internal/infrastructure/scheduler"
	"HotTopics/internal/infrastructure/storage"
	"HotTopics/internal/infrastructure/telegram"
	"HotTopics/internal/logging"
	"HotTopics/internal/ports"
	"HotTopics/internal/scanner"
	"HotTopics/internal/usecase"
)

const shutdownTimeout = 30 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	repo      *storage.SQLRepository
	renderer  *browser.Renderer
	pipeline  *usecase.Pipeline
	scheduler *usecase.Scheduler
}

// New opens storage and builds every adapter, stage and the scheduler.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	for _, warning := range cfg.Warnings {
		baseLogger.Warn("config warning", "detail", warning)
	}

	retention := time.Duration(cfg.Analysis.RetentionDays) * 24 * time.Hour
	repo, err := storage.Open(ctx, cfg.Database.DSN, storage.Options{Retention: retention})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if err := repo.SeedCategories(ctx, categorySeeds(cfg.Categories)); err != nil {
		repo.Close()
		return nil, fmt.Errorf("seed categories: %w", err)
	}

	renderer := browser.New(browser.Options{
		Headless:     cfg.Browser.Headless,
		Timeout:      cfg.Browser.Timeout,
		PollAttempts: cfg.Browser.PollAttempts,
		PollInterval: cfg.Browser.PollInterval,
		ExecPath:     cfg.Browser.ExecPath,
		UserAgent:    cfg.Scraping.UserAgent,
		MemoTTL:      cfg.Browser.MemoTTL,
		Logger:       baseLogger,
	})

	loader := parser.NewHTTPLoader(&http.Client{Timeout: cfg.Scraping.RequestTimeout}, parser.HTTPOptions{
		UserAgent:    cfg.Scraping.UserAgent,
		HostInterval: cfg.Scraping.HostInterval,
		Logger:       baseLogger,
	})

	registry := scanner.NewRegistry()
	parser.RegisterAll(registry, parser.Dependencies{
		HTTP:        loader,
		Renderer:    renderer,
		Endpoints:   parser.DefaultEndpoints(),
		WeiboCookie: cfg.Scraping.WeiboCookie,
		Logger:      baseLogger.With("component", "scanner"),
	})

	chat := llm.NewChatGPTClient(cfg.LLM, baseLogger)
	if !chat.Configured() {
		baseLogger.Warn("llm api key missing, analysis runs in degraded mode")
	}

	var notifier ports.Notifier
	if cfg.Notifications.Telegram.Enabled() {
		tg := cfg.Notifications.Telegram
		notifier = telegram.NewNotifier(tg.BotToken, tg.ChatID, tg.Endpoint)
	}

	driver := scheduler.NewCronScheduler(cfg.Scheduler.Location(), baseLogger)

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Orchestrator: usecase.NewOrchestrator(registry, repo, repo, usecase.ScrapeOptions{
			Limit:          cfg.Scraping.Limit,
			KeywordLimit:   cfg.Scraping.KeywordLimit,
			AdapterTimeout: cfg.Scraping.AdapterTimeout,
			Concurrency:    cfg.Scraping.Concurrency,
			Platforms:      cfg.Scraping.Platforms,
			Retention:      retention,
		}, baseLogger),
		Analyzer: usecase.NewAnalyzer(chat, repo, usecase.AnalysisOptions{
			BatchSize:    cfg.Analysis.BatchSize,
			FetchLimit:   cfg.Analysis.FetchLimit,
			MaxFailCount: cfg.Analysis.MaxFailCount,
			MaxTokens:    cfg.LLM.MaxTokens,
		}, baseLogger),
		Selector: usecase.NewSelector(chat, repo, repo, usecase.SelectionOptions{
			HoursWindow: cfg.Selection.HoursWindow,
			TopCount:    cfg.Selection.TopCount,
			FinalCount:  cfg.Selection.FinalCount,
			MinScore:    cfg.Selection.MinScore,
		}, baseLogger),
		HotTopics: repo,
		Stats:     repo,
		Notifier:  notifier,
		Schedule:  driver,
		Night: usecase.NightWindow{
			Enabled: cfg.Scheduler.NightHours.Enabled,
			Start:   cfg.Scheduler.NightHours.Start,
			End:     cfg.Scheduler.NightHours.End,
		},
		Location: cfg.Scheduler.Location(),
		Logger:   baseLogger,
	})

	if err := pipeline.Restore(ctx); err != nil {
		baseLogger.Warn("hot topic snapshot not restored", "error", err)
	}

	return &Application{
		cfg:      cfg,
		logger:   baseLogger.With("component", "app"),
		repo:     repo,
		renderer: renderer,
		pipeline: pipeline,
		scheduler: usecase.NewScheduler(driver, pipeline, usecase.ScheduleSpecs{
			Scrape:  cfg.Scheduler.ScrapeCron,
			Analyze: cfg.Scheduler.AnalyzeCron,
			Select:  cfg.Scheduler.SelectCron,
		}, baseLogger),
	}, nil
}

// Pipeline exposes the triggers and status read model.
func (a *Application) Pipeline() *usecase.Pipeline {
	return a.pipeline
}

// RunOnce executes a single named trigger.
func (a *Application) RunOnce(ctx context.Context, trigger string) (domain.StageResult, error) {
	res, err := a.pipeline.Run(ctx, trigger)
	if err != nil {
		return res, err
	}
	a.logger.Info("trigger finished", "stage", res.Stage, "success", res.Success, "skipped", res.Skipped, "message", res.Message)
	if !res.Success && !res.Skipped {
		return res, fmt.Errorf("%s failed: %s", res.Stage, res.Message)
	}
	return res, nil
}

// Run starts the scheduler and blocks until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	if !a.cfg.Scheduler.Enabled {
		a.logger.Info("scheduler disabled, waiting for shutdown")
		<-ctx.Done()
		return nil
	}

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("scheduler running", "timezone", a.cfg.Scheduler.Location().String())

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.scheduler.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop scheduler: %w", err)
	}
	return nil
}

// Close releases the browser and the database.
func (a *Application) Close() error {
	var errs []error
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.repo != nil {
		if err := a.repo.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	return errors.Join(errs...)
}

func categorySeeds(categories []config.CategoryConfig) []storage.CategorySeed {
	seeds := make([]storage.CategorySeed, 0, len(categories))
	for _, c := range categories {
		seeds = append(seeds, storage.CategorySeed{
			Name:      c.Name,
			Keywords:  c.Keywords,
			Platforms: c.Platforms,
		})
	}
	return seeds
}
