package usecase

import (
	"sync"
	"sync/atomic"
	"time"

	"HotTopics/internal/domain"
)

// PipelineState holds one running flag per stage plus the last outcome of each.
// Flags are taken with compare-and-swap so a second trigger never blocks.
type PipelineState struct {
	flags map[domain.Stage]*atomic.Bool

	mu      sync.Mutex
	lastRun map[domain.Stage]time.Time
	last    map[domain.Stage]domain.StageResult
}

// NewPipelineState returns idle flags for the three stages and the full pipeline.
func NewPipelineState() *PipelineState {
	flags := map[domain.Stage]*atomic.Bool{}
	for _, stage := range append(append([]domain.Stage{}, domain.Stages...), domain.StageFull) {
		flags[stage] = &atomic.Bool{}
	}
	return &PipelineState{
		flags:   flags,
		lastRun: map[domain.Stage]time.Time{},
		last:    map[domain.Stage]domain.StageResult{},
	}
}

// TryAcquire flips the stage flag from idle to running.
func (s *PipelineState) TryAcquire(stage domain.Stage) bool {
	flag, ok := s.flags[stage]
	return ok && flag.CompareAndSwap(false, true)
}

// Release returns the stage to idle.
func (s *PipelineState) Release(stage domain.Stage) {
	if flag, ok := s.flags[stage]; ok {
		flag.Store(false)
	}
}

// Running reports whether the stage flag is set.
func (s *PipelineState) Running(stage domain.Stage) bool {
	flag, ok := s.flags[stage]
	return ok && flag.Load()
}

func (s *PipelineState) markStarted(stage domain.Stage, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun[stage] = at
}

func (s *PipelineState) record(result domain.StageResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[result.Stage] = result
}

// Status returns the read model of one stage; NextRun is left to the caller.
func (s *PipelineState) Status(stage domain.Stage) domain.StageStatus {
	status := domain.StageStatus{Stage: stage, Running: s.Running(stage)}

	s.mu.Lock()
	defer s.mu.Unlock()
	status.LastRun = s.lastRun[stage]
	if result, ok := s.last[stage]; ok {
		status.LastResult = &result
	}
	return status
}

// NightWindow is a daily blackout [Start, End) in hours. Start > End wraps
// past midnight; Start == End is an empty window.
type NightWindow struct {
	Enabled bool
	Start   int
	End     int
}

// Contains reports whether t falls inside the window in t's own location.
func (w NightWindow) Contains(t time.Time) bool {
	if !w.Enabled || w.Start == w.End {
		return false
	}
	hour := t.Hour()
	if w.Start < w.End {
		return hour >= w.Start && hour < w.End
	}
	return hour >= w.Start || hour < w.End
}
