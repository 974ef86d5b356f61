package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"HotTopics/internal/logging"
	"HotTopics/internal/ports"
)

// CronScheduler runs named jobs on standard five-field cron expressions.
type CronScheduler struct {
	cron     *cron.Cron
	location *time.Location
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
	base    context.Context
	cancel  context.CancelFunc
	started bool
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds a scheduler evaluating expressions in loc.
func NewCronScheduler(loc *time.Location, logger *slog.Logger) *CronScheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.With("component", "cron")
	adapter := cronLogger{logger: logger}

	return &CronScheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		location: loc,
		logger:   logger,
		entries:  map[string]cron.EntryID{},
		base:     context.Background(),
	}
}

// Register adds or replaces the job registered under name.
func (c *CronScheduler) Register(name, spec string, job func(context.Context)) error {
	if job == nil {
		return fmt.Errorf("job %s is nil", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.entries[name]; ok {
		c.cron.Remove(id)
		delete(c.entries, name)
	}

	id, err := c.cron.AddFunc(spec, func() {
		c.logger.Debug("job fired", "job", name)
		job(c.jobContext())
	})
	if err != nil {
		return fmt.Errorf("register %s with %q: %w", name, spec, err)
	}
	c.entries[name] = id
	return nil
}

// Start begins dispatching jobs. Cancelling ctx cancels running jobs.
func (c *CronScheduler) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil
	}
	c.base, c.cancel = context.WithCancel(ctx)
	c.started = true
	c.cron.Start()
	c.logger.Info("cron started", "jobs", len(c.entries), "timezone", c.location.String())
	return nil
}

// Stop prevents new runs and waits for running jobs until ctx expires.
func (c *CronScheduler) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	cancel := c.cancel
	c.mu.Unlock()

	done := c.cron.Stop()
	cancel()

	select {
	case <-done.Done():
		c.logger.Info("cron stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for running jobs: %w", ctx.Err())
	}
}

// Next reports the next activation of the named job, or the zero time when unknown.
func (c *CronScheduler) Next(name string) time.Time {
	c.mu.Lock()
	id, ok := c.entries[name]
	c.mu.Unlock()
	if !ok {
		return time.Time{}
	}

	entry := c.cron.Entry(id)
	if !entry.Valid() {
		return time.Time{}
	}
	if !entry.Next.IsZero() {
		return entry.Next
	}
	return entry.Schedule.Next(time.Now().In(c.location))
}

func (c *CronScheduler) jobContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base
}

// cronLogger routes robfig/cron diagnostics into slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
