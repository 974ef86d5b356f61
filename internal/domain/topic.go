package domain

import (
	"sort"
	"time"
)

// RawTopic is a single ranking entry normalized by a source adapter.
// Link is the natural key across the raw store.
type RawTopic struct {
	ID             int64
	Title          string
	Link           string
	Source         string
	CategoryID     *int64
	MatchedKeyword string
	FailCount      int
	CreatedAt      time.Time
}

// ScoredTopic is a RawTopic enriched with analysis output.
type ScoredTopic struct {
	RawTopic
	Score      float64
	Heat       int
	Tags       []string
	Comment    string
	Analyzed   bool
	SkipReason string
}

// Skipped reports whether the topic reached the terminal skipped state.
func (s ScoredTopic) Skipped() bool {
	return !s.Analyzed && s.SkipReason != ""
}

// HotTopic is one entry of the published ranked set.
type HotTopic struct {
	Title      string
	Link       string
	Source     string
	Score      float64
	Comment    string
	CategoryID *int64
}

// HotTopicFrom reformats a scored candidate into its published shape.
func HotTopicFrom(s ScoredTopic) HotTopic {
	return HotTopic{
		Title:      s.Title,
		Link:       s.Link,
		Source:     s.Source,
		Score:      s.Score,
		Comment:    s.Comment,
		CategoryID: s.CategoryID,
	}
}

// SortHotTopics orders topics by score, highest first, keeping ties stable.
func SortHotTopics(topics []HotTopic) {
	sort.SliceStable(topics, func(i, j int) bool {
		return topics[i].Score > topics[j].Score
	})
}

// SortByScore orders scored topics by score, highest first, keeping ties stable.
func SortByScore(topics []ScoredTopic) {
	sort.SliceStable(topics, func(i, j int) bool {
		return topics[i].Score > topics[j].Score
	})
}

// Category groups keywords used for keyword-filtered scraping.
type Category struct {
	ID       int64
	Name     string
	Keywords []string
}

// AnalysisUpdate carries the outcome of analysing one stored raw topic.
// A failed update (Analyzed=false) always increments the fail counter;
// a non-empty SkipReason additionally moves the record to the skipped state.
type AnalysisUpdate struct {
	ID         int64
	Score      float64
	Comment    string
	Analyzed   bool
	SkipReason string
}

// Stats summarizes the raw store.
type Stats struct {
	Total      int
	Analyzed   int
	Unanalyzed int
	Skipped    int
	AvgScore   float64
}
