package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"HotTopics/internal/domain"
)

type fakeDriver struct {
	specs   map[string]string
	jobs    map[string]func(context.Context)
	started bool
	stopped bool
	failOn  string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{specs: map[string]string{}, jobs: map[string]func(context.Context){}}
}

func (d *fakeDriver) Register(name, spec string, job func(context.Context)) error {
	if name == d.failOn {
		return errors.New("bad spec")
	}
	d.specs[name] = spec
	d.jobs[name] = job
	return nil
}

func (d *fakeDriver) Start(context.Context) error { d.started = true; return nil }
func (d *fakeDriver) Stop(context.Context) error  { d.stopped = true; return nil }

func (d *fakeDriver) Next(name string) time.Time {
	if _, ok := d.specs[name]; ok {
		return noon.Add(time.Hour)
	}
	return time.Time{}
}

func TestSchedulerRegistersStageJobs(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(noon, NightWindow{})
	driver := newFakeDriver()
	s := NewScheduler(driver, f.pipeline, ScheduleSpecs{Scrape: "0 6-23 * * *", Analyze: "0 */2 * * *"}, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if !driver.started {
		t.Fatal("driver not started")
	}
	if driver.specs["scraping"] != "0 6-23 * * *" || driver.specs["analyzing"] != "0 */2 * * *" {
		t.Fatalf("unexpected registrations %v", driver.specs)
	}
	if _, ok := driver.specs["selecting"]; ok {
		t.Fatal("a stage without expression must not be scheduled")
	}

	driver.jobs["scraping"](context.Background())
	if f.adapter.calls.Load() != 1 {
		t.Fatal("scheduled job must trigger the scrape stage")
	}
	if last := f.pipeline.State().Status(domain.StageScrape).LastResult; last == nil || !last.Success {
		t.Fatalf("expected recorded scrape result, got %+v", last)
	}

	if err := s.Stop(context.Background()); err != nil || !driver.stopped {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestSchedulerSurfacesRegistrationErrors(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(noon, NightWindow{})
	driver := newFakeDriver()
	driver.failOn = "selecting"
	s := NewScheduler(driver, f.pipeline, ScheduleSpecs{Scrape: "x", Analyze: "y", Select: "z"}, nil)

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected registration error")
	}
	if driver.started {
		t.Fatal("driver must not start after a failed registration")
	}
}

func TestStatusReportsNextRuns(t *testing.T) {
	t.Parallel()

	driver := newFakeDriver()
	driver.specs["scraping"] = "0 * * * *"
	p := NewPipeline(PipelineDeps{Schedule: driver, Location: time.UTC, Now: func() time.Time { return noon }})

	status, err := p.Status(context.Background())
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if !status.Stages[0].NextRun.Equal(noon.Add(time.Hour)) || !status.Stages[1].NextRun.IsZero() {
		t.Fatalf("unexpected next runs %+v", status.Stages)
	}
}
