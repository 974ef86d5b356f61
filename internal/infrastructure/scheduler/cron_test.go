package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestRegisterRejectsInvalidSpec(t *testing.T) {
	t.Parallel()

	s := NewCronScheduler(time.UTC, nil)
	if err := s.Register("scrape", "not a cron", func(context.Context) {}); err == nil {
		t.Fatal("expected error for invalid spec")
	}
	if err := s.Register("scrape", "0 6-23 * * *", nil); err == nil {
		t.Fatal("expected error for nil job")
	}
}

func TestNextUsesLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("CST", 8*3600)
	s := NewCronScheduler(loc, nil)
	if err := s.Register("select", "30 6-23 * * *", func(context.Context) {}); err != nil {
		t.Fatalf("register: %v", err)
	}

	next := s.Next("select")
	if next.IsZero() {
		t.Fatal("expected next activation before start")
	}
	local := next.In(loc)
	if local.Minute() != 30 || local.Hour() < 6 {
		t.Fatalf("unexpected next activation %s", local)
	}
	if !s.Next("unknown").IsZero() {
		t.Fatal("unknown job must report zero time")
	}
}

func TestRegisterReplacesExistingJob(t *testing.T) {
	t.Parallel()

	s := NewCronScheduler(time.UTC, nil)
	if err := s.Register("analyze", "0 */2 * * *", func(context.Context) {}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Register("analyze", "15 * * * *", func(context.Context) {}); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if got := len(s.cron.Entries()); got != 1 {
		t.Fatalf("expected a single entry, got %d", got)
	}
	if s.Next("analyze").Minute() != 15 {
		t.Fatalf("expected replaced schedule, got %s", s.Next("analyze"))
	}
}

func TestStartRunsJobsWithContextAndStops(t *testing.T) {
	t.Parallel()

	s := NewCronScheduler(time.UTC, nil)
	fired := make(chan context.Context, 1)
	if err := s.Register("tick", "@every 1s", func(ctx context.Context) {
		select {
		case fired <- ctx:
		default:
		}
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	var jobCtx context.Context
	select {
	case jobCtx = <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if jobCtx.Err() == nil {
		t.Fatal("expected job context to be cancelled on stop")
	}
}
