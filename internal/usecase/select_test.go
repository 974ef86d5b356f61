package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"HotTopics/internal/domain"
)

func candidates(n int) []domain.ScoredTopic {
	out := make([]domain.ScoredTopic, n)
	for i := range out {
		out[i] = domain.ScoredTopic{
			RawTopic: domain.RawTopic{
				Title:  fmt.Sprintf("topic-%02d", i),
				Link:   fmt.Sprintf("https://example.com/%d", i),
				Source: "微博",
			},
			Score:    float64(i) / 10,
			Analyzed: true,
		}
	}
	return out
}

func shuffled(topics []domain.ScoredTopic) []domain.ScoredTopic {
	out := append([]domain.ScoredTopic(nil), topics...)
	rand.New(rand.NewSource(7)).Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func TestSelectFallsBackToScoreOrderOnLLMError(t *testing.T) {
	t.Parallel()

	s := NewSelector(failing(errors.New("boom")), nil, nil, SelectionOptions{}, nil)
	got := s.Select(context.Background(), shuffled(candidates(60)), 20)

	if len(got) != 20 {
		t.Fatalf("expected 20 topics, got %d", len(got))
	}
	for i, topic := range got {
		want := fmt.Sprintf("topic-%02d", 59-i)
		if topic.Title != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, topic.Title)
		}
	}
}

func TestSelectWithoutCredentialUsesScoreOrder(t *testing.T) {
	t.Parallel()

	chat := replying("0, 1, 2")
	chat.configured = false
	s := NewSelector(chat, nil, nil, SelectionOptions{}, nil)

	got := s.Select(context.Background(), shuffled(candidates(30)), 5)
	if len(got) != 5 || got[0].Title != "topic-29" || chat.calls() != 0 {
		t.Fatalf("unexpected fallback %+v (calls %d)", got, chat.calls())
	}
}

func TestSelectBackfillsPartialAnswer(t *testing.T) {
	t.Parallel()

	// The pool is sorted by score, so index i holds topic-(59-i).
	indices := make([]string, 0, 12)
	for i := 30; i < 42; i++ {
		indices = append(indices, fmt.Sprint(i))
	}
	chat := replying("精选结果: " + strings.Join(indices, ", ") + ", 99")
	s := NewSelector(chat, nil, nil, SelectionOptions{TopCount: 50}, nil)

	got := s.Select(context.Background(), shuffled(candidates(60)), 20)
	if len(got) != 20 {
		t.Fatalf("expected 20 topics, got %d", len(got))
	}

	want := map[string]bool{}
	for i := 30; i < 42; i++ {
		want[fmt.Sprintf("topic-%02d", 59-i)] = true
	}
	for i := 0; i < 8; i++ {
		want[fmt.Sprintf("topic-%02d", 59-i)] = true
	}
	for i, topic := range got {
		if !want[topic.Title] {
			t.Fatalf("unexpected topic %s", topic.Title)
		}
		if i > 0 && got[i-1].Score < topic.Score {
			t.Fatal("result must be sorted by score")
		}
	}

	prompt := chat.request(0)
	if !strings.Contains(prompt.UserPrompt, "49. ") || strings.Contains(prompt.UserPrompt, "50. ") {
		t.Fatal("only the top candidates may be offered to the model")
	}
}

func TestSelectReturnsAllWhenFewCandidates(t *testing.T) {
	t.Parallel()

	chat := replying("0")
	s := NewSelector(chat, nil, nil, SelectionOptions{}, nil)

	got := s.Select(context.Background(), candidates(5), 20)
	if len(got) != 5 || chat.calls() != 0 {
		t.Fatalf("expected all 5 without llm call, got %d (calls %d)", len(got), chat.calls())
	}
	if got[0].Title != "topic-04" {
		t.Fatalf("expected score order, got %s first", got[0].Title)
	}
}

func TestSelectFallsBackWithoutAnyValidIndex(t *testing.T) {
	t.Parallel()

	s := NewSelector(replying("我无法完成这个任务"), nil, nil, SelectionOptions{}, nil)
	got := s.Select(context.Background(), candidates(30), 10)
	if len(got) != 10 || got[0].Title != "topic-29" || got[9].Title != "topic-20" {
		t.Fatalf("unexpected fallback %+v", got)
	}
}

func TestParseIndices(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		content string
		size    int
		limit   int
		want    []int
	}{
		{"comma list", "0, 3, 5", 10, 20, []int{0, 3, 5}},
		{"duplicates and range", "3 3 12 1", 10, 20, []int{3, 1}},
		{"limit", "1,2,3,4", 10, 2, []int{1, 2}},
		{"prose", "推荐：第4条和第7条", 10, 20, []int{4, 7}},
		{"nothing", "无", 10, 20, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := ParseIndices(tc.content, tc.size, tc.limit)
			if fmt.Sprint(got) != fmt.Sprint(tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestSelectorRunCycleReplacesPublishedSet(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.hot = []domain.HotTopic{{Title: "stale"}}
	store.scored = candidates(8)

	s := NewSelector(nil, store, store, SelectionOptions{FinalCount: 3}, nil)
	report, err := s.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if report.Published != 3 || len(store.hot) != 3 || store.hot[0].Title != "topic-07" {
		t.Fatalf("unexpected published set %+v", store.hot)
	}
}

func TestSelectorRunCycleKeepsSetWithoutCandidates(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.hot = []domain.HotTopic{{Title: "current"}}

	s := NewSelector(nil, store, store, SelectionOptions{}, nil)
	if _, err := s.RunCycle(context.Background()); !errors.Is(err, errNoCandidates) {
		t.Fatalf("expected no candidates error, got %v", err)
	}
	if store.replaced != 0 || store.hot[0].Title != "current" {
		t.Fatal("published set must stay untouched")
	}
}
