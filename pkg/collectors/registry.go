package collectors

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
)

// Registry holds collectors by source name
type Registry struct {
	mu         sync.RWMutex
	collectors map[string]domain.Collector
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		collectors: make(map[string]domain.Collector),
	}
}

// Register adds a collector under its Name
func (r *Registry) Register(c domain.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c == nil {
		return fmt.Errorf("collector cannot be nil")
	}

	name := c.Name()
	if name == "" {
		return fmt.Errorf("collector name cannot be empty")
	}

	if _, exists := r.collectors[name]; exists {
		return fmt.Errorf("collector %s already registered", name)
	}

	r.collectors[name] = c
	return nil
}

// Get retrieves a collector by name
func (r *Registry) Get(name string) (domain.Collector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.collectors[name]
	if !exists {
		return nil, fmt.Errorf("collector %s not found", name)
	}

	return c, nil
}

// List returns the registered source names in sorted order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.collectors))
	for name := range r.collectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Factory builds every collector from one set of dependencies and hands
// out the ones a backend needs
type Factory struct {
	registry      *Registry
	knowledgeBase *KnowledgeBaseCollector
	bing          *BingCollector
	duckDuckGo    *DuckDuckGoCollector
	google        *GoogleCollector
	wikipedia     *WikipediaCollector
	video         *VideoCollector
}

// NewFactory creates all collectors and registers the single-name ones
func NewFactory(deps Deps) *Factory {
	deps = deps.withDefaults()
	f := &Factory{
		registry:      NewRegistry(),
		knowledgeBase: NewKnowledgeBaseCollector(deps),
		bing:          NewBingCollector(deps),
		duckDuckGo:    NewDuckDuckGoCollector(deps),
		google:        NewGoogleCollector(deps),
		wikipedia:     NewWikipediaCollector(deps),
		video:         NewVideoCollector(deps),
	}
	for _, c := range []domain.Collector{f.knowledgeBase, f.bing, f.duckDuckGo, f.google, f.wikipedia} {
		// names are distinct constants
		_ = f.registry.Register(c)
	}
	return f
}

// Registry exposes the collectors registered by name
func (f *Factory) Registry() *Registry {
	return f.registry
}

// NewSearchCollector returns the web search collector for backend
func (f *Factory) NewSearchCollector(backend domain.Backend) (domain.Collector, error) {
	if backend == domain.BackendNone {
		return nil, fmt.Errorf("%w: web search is disabled", domain.ErrUnsupportedBackend)
	}
	c, err := f.registry.Get(string(backend))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedBackend, backend)
	}
	return c, nil
}

// NewWikipedia returns the encyclopedia collector
func (f *Factory) NewWikipedia() domain.Collector {
	return f.wikipedia
}

// NewVideo returns the subtitle collector
func (f *Factory) NewVideo() domain.TranscriptCollector {
	return f.video
}

// VideoSearcherFor returns the collector that discovers video URLs for
// backend, or nil when the backend cannot supply them. The knowledge base
// borrows Google when the API pair is configured and Bing otherwise.
func (f *Factory) VideoSearcherFor(backend domain.Backend) domain.VideoURLSearcher {
	switch backend {
	case domain.BackendKnowledgeBase:
		if f.google.UsesAPI() {
			return f.google
		}
		return f.bing
	case domain.BackendBing:
		return f.bing
	case domain.BackendGoogle:
		return f.google
	default:
		return nil
	}
}
