package domain

import "time"

// Stage enumerates pipeline stages guarded by a running flag.
type Stage string

const (
	StageScrape  Stage = "scraping"
	StageAnalyze Stage = "analyzing"
	StageSelect  Stage = "selecting"
	StageFull    Stage = "full"
)

// Stages lists the three scheduled stages in execution order.
var Stages = []Stage{StageScrape, StageAnalyze, StageSelect}

// StageResult is returned by every trigger for logging and status reads.
type StageResult struct {
	Stage    Stage
	RunID    string
	Success  bool
	Skipped  bool
	Counts   map[string]int
	BySource map[string]int
	Message  string
	Started  time.Time
	Finished time.Time
	Steps    []StageResult
}

// Count returns a named counter, zero when absent.
func (r StageResult) Count(name string) int {
	if r.Counts == nil {
		return 0
	}
	return r.Counts[name]
}

// StageStatus is the read model of one stage's run state.
type StageStatus struct {
	Stage      Stage
	Running    bool
	LastRun    time.Time
	NextRun    time.Time
	LastResult *StageResult
}
