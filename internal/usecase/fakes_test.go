package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"HotTopics/internal/domain"
	"HotTopics/internal/ports"
	"HotTopics/internal/scanner"
)

var _ ports.TopicRepository = (*memStore)(nil)

// memStore is an in-memory topic repository.
type memStore struct {
	mu sync.Mutex

	nextID     int64
	raw        []domain.RawTopic
	links      map[string]bool
	done       map[int64]bool
	updates    []domain.AnalysisUpdate
	scored     []domain.ScoredTopic
	hot        []domain.HotTopic
	replaced   int
	categories []domain.Category
	platforms  map[int64][]string
	pruneCalls int

	panicOnTop   bool
	insertErr    error
	platformsErr map[int64]error
}

func newMemStore() *memStore {
	return &memStore{
		links:     map[string]bool{},
		done:      map[int64]bool{},
		platforms: map[int64][]string{},
	}
}

func (m *memStore) InsertRawTopicsIfAbsent(_ context.Context, topics []domain.RawTopic, categoryID *int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return 0, m.insertErr
	}

	inserted := 0
	for _, topic := range topics {
		if m.links[topic.Link] {
			continue
		}
		m.nextID++
		topic.ID = m.nextID
		topic.CategoryID = categoryID
		m.links[topic.Link] = true
		m.raw = append(m.raw, topic)
		inserted++
	}
	return inserted, nil
}

func (m *memStore) FetchUnanalyzed(_ context.Context, limit, maxFailCount int) ([]domain.RawTopic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.RawTopic
	for _, topic := range m.raw {
		if m.done[topic.ID] || topic.FailCount > maxFailCount {
			continue
		}
		out = append(out, topic)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) UpdateAnalysis(_ context.Context, update domain.AnalysisUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.raw {
		if m.raw[i].ID != update.ID {
			continue
		}
		m.updates = append(m.updates, update)
		if update.Analyzed || update.SkipReason != "" {
			m.done[update.ID] = true
		}
		if !update.Analyzed {
			m.raw[i].FailCount++
		}
		return nil
	}
	return errors.New("not found")
}

func (m *memStore) PruneRawTopics(context.Context, time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneCalls++
	return 0, nil
}

func (m *memStore) FetchTopScoring(_ context.Context, _, limit int, minScore float64) ([]domain.ScoredTopic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panicOnTop {
		panic("store exploded")
	}

	var out []domain.ScoredTopic
	for _, topic := range m.scored {
		if topic.Score >= minScore {
			out = append(out, topic)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ReplaceHotTopics(_ context.Context, topics []domain.HotTopic) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaced++
	m.hot = append([]domain.HotTopic(nil), topics...)
	return len(topics), nil
}

func (m *memStore) LoadHotTopics(context.Context) ([]domain.HotTopic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.HotTopic(nil), m.hot...), nil
}

func (m *memStore) FetchCategoriesWithKeywords(context.Context) ([]domain.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Category(nil), m.categories...), nil
}

func (m *memStore) FetchCategory(_ context.Context, id int64) (domain.Category, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.categories {
		if c.ID == id {
			return c, true, nil
		}
	}
	return domain.Category{}, false, nil
}

func (m *memStore) FetchEnabledPlatformsForCategory(_ context.Context, id int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.platformsErr[id]; err != nil {
		return nil, err
	}
	return m.platforms[id], nil
}

func (m *memStore) Stats(context.Context) (domain.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.Stats{Total: len(m.raw), Analyzed: len(m.done)}, nil
}

func (m *memStore) rawCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.raw)
}

// fakeChat answers through fn and records every request.
type fakeChat struct {
	configured bool
	fn         func(req ports.ChatRequest) (string, error)

	mu       sync.Mutex
	requests []ports.ChatRequest
}

func replying(answers ...string) *fakeChat {
	var n atomic.Int32
	return &fakeChat{
		configured: true,
		fn: func(ports.ChatRequest) (string, error) {
			i := int(n.Add(1)) - 1
			if i >= len(answers) {
				i = len(answers) - 1
			}
			return answers[i], nil
		},
	}
}

func failing(err error) *fakeChat {
	return &fakeChat{
		configured: true,
		fn:         func(ports.ChatRequest) (string, error) { return "", err },
	}
}

func (f *fakeChat) Configured() bool { return f.configured }

func (f *fakeChat) Complete(_ context.Context, req ports.ChatRequest) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if !f.configured {
		return "", ports.ErrLLMNotConfigured
	}
	return f.fn(req)
}

func (f *fakeChat) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeChat) request(i int) ports.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

// fakeAdapter serves fixed topics and can block, panic or hang on demand.
type fakeAdapter struct {
	name   string
	source string
	topics []domain.RawTopic

	panics  bool
	hang    bool
	started chan struct{}
	release chan struct{}

	calls    atomic.Int32
	active   atomic.Int32
	overlap  atomic.Bool
	keywords atomic.Value
}

var _ scanner.Adapter = (*fakeAdapter)(nil)

func newFakeAdapter(name, source string, titles ...string) *fakeAdapter {
	a := &fakeAdapter{name: name, source: source}
	for _, title := range titles {
		a.topics = append(a.topics, domain.RawTopic{
			Title:  title,
			Link:   "https://" + name + ".example/" + title,
			Source: source,
		})
	}
	return a
}

func (a *fakeAdapter) Name() string   { return a.name }
func (a *fakeAdapter) Source() string { return a.source }

func (a *fakeAdapter) Scrape(ctx context.Context, limit int) []domain.RawTopic {
	a.calls.Add(1)
	if a.active.Add(1) > 1 {
		a.overlap.Store(true)
	}
	defer a.active.Add(-1)

	if a.started != nil {
		select {
		case a.started <- struct{}{}:
		default:
		}
	}
	if a.release != nil {
		<-a.release
	}
	if a.panics {
		panic("adapter exploded")
	}
	if a.hang {
		<-ctx.Done()
		return nil
	}

	out := append([]domain.RawTopic(nil), a.topics...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (a *fakeAdapter) ScrapeByKeywords(ctx context.Context, keywords []string, limit int) []domain.RawTopic {
	a.keywords.Store(keywords)
	return scanner.FilterByKeywords(a.Scrape(ctx, 0), keywords, limit)
}

func registryOf(adapters ...scanner.Adapter) *scanner.Registry {
	reg := scanner.NewRegistry()
	for _, a := range adapters {
		reg.Register(a)
	}
	return reg
}

// recordingNotifier captures published sets.
type recordingNotifier struct {
	mu   sync.Mutex
	sent [][]domain.HotTopic
	err  error
}

func (n *recordingNotifier) PublishHotTopics(_ context.Context, topics []domain.HotTopic) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, topics)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}
