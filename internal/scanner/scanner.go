package scanner

import (
	"context"
	"fmt"

	"HotTopics/internal/domain"
)

// Adapter turns one platform's ranking into canonical raw topics.
// Failures never propagate: a broken platform yields an empty list.
type Adapter interface {
	// Name is the platform identifier used in configuration ("weibo").
	Name() string
	// Source is the display name stored on every topic ("微博").
	Source() string
	Scrape(ctx context.Context, limit int) []domain.RawTopic
	ScrapeByKeywords(ctx context.Context, keywords []string, limit int) []domain.RawTopic
}

// Registry keeps a mapping from platform names to their adapters.
type Registry struct {
	adapters map[string]Adapter
	order    []string
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

// Register adds or replaces an adapter implementation.
func (r *Registry) Register(adapter Adapter) {
	if r.adapters == nil {
		r.adapters = map[string]Adapter{}
	}
	if _, exists := r.adapters[adapter.Name()]; !exists {
		r.order = append(r.order, adapter.Name())
	}
	r.adapters[adapter.Name()] = adapter
}

// Resolve returns an adapter by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Adapter, error) {
	if adapter, ok := r.adapters[name]; ok {
		return adapter, nil
	}
	return nil, fmt.Errorf("adapter %s is not registered", name)
}

// Names lists registered platforms in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Select resolves the given names, or every registered adapter when names is empty.
// Unknown names are reported through the returned slice of missing names.
func (r *Registry) Select(names []string) ([]Adapter, []string) {
	if len(names) == 0 {
		names = r.order
	}

	var (
		adapters []Adapter
		missing  []string
	)
	for _, name := range names {
		adapter, ok := r.adapters[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		adapters = append(adapters, adapter)
	}
	return adapters, missing
}
