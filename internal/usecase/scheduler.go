package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"HotTopics/internal/domain"
	"HotTopics/internal/logging"
	"HotTopics/internal/ports"
)

// ScheduleSpecs holds the cron expression of every stage.
type ScheduleSpecs struct {
	Scrape  string
	Analyze string
	Select  string
}

// Scheduler wires the cron-like driver with the pipeline triggers.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	specs    ScheduleSpecs
	logger   *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring stage jobs.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, specs ScheduleSpecs, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Scheduler{
		driver:   driver,
		pipeline: pipeline,
		specs:    specs,
		logger:   logger.With("component", "scheduler"),
	}
}

// Start registers the three stage jobs and starts the driver. A stage with an
// empty expression is not scheduled.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}

	jobs := []struct {
		stage   domain.Stage
		spec    string
		trigger func(context.Context) domain.StageResult
	}{
		{domain.StageScrape, s.specs.Scrape, s.pipeline.RunScrapeCycle},
		{domain.StageAnalyze, s.specs.Analyze, s.pipeline.RunAnalysisCycle},
		{domain.StageSelect, s.specs.Select, s.pipeline.RunSelectionCycle},
	}

	for _, job := range jobs {
		if job.spec == "" {
			s.logger.Info("stage not scheduled", "stage", job.stage)
			continue
		}
		trigger := job.trigger
		if err := s.driver.Register(string(job.stage), job.spec, func(ctx context.Context) {
			res := trigger(ctx)
			s.logger.Debug("scheduled run done", "stage", res.Stage, "success", res.Success, "skipped", res.Skipped)
		}); err != nil {
			return fmt.Errorf("schedule %s: %w", job.stage, err)
		}
		s.logger.Info("stage scheduled", "stage", job.stage, "cron", job.spec)
	}

	return s.driver.Start(ctx)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
