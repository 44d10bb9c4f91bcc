package collectors

import (
	"testing"

	"github.com/ncolesummers/character-prompt-agent/internal/testutil"
	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectBackend(t *testing.T) {
	tests := []struct {
		name  string
		flags BackendFlags
		want  domain.Backend
	}{
		{"no flags uses google", BackendFlags{}, domain.BackendGoogle},
		{"bing", BackendFlags{Bing: true}, domain.BackendBing},
		{"duckduckgo", BackendFlags{DuckDuckGo: true}, domain.BackendDuckDuckGo},
		{"knowledge base", BackendFlags{KnowledgeBase: true}, domain.BackendKnowledgeBase},
		{"knowledge base beats bing", BackendFlags{KnowledgeBase: true, Bing: true}, domain.BackendKnowledgeBase},
		{"bing beats duckduckgo", BackendFlags{Bing: true, DuckDuckGo: true}, domain.BackendBing},
		{"no search wins", BackendFlags{NoSearch: true, Bing: true}, domain.BackendNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectBackend(tt.flags))
		})
	}
}

func TestValidateBackendFlags(t *testing.T) {
	assert.NoError(t, ValidateBackendFlags(BackendFlags{}))
	assert.NoError(t, ValidateBackendFlags(BackendFlags{Bing: true}))
	assert.NoError(t, ValidateBackendFlags(BackendFlags{DuckDuckGo: true, NoSearch: true}))

	err := ValidateBackendFlags(BackendFlags{Bing: true, DuckDuckGo: true})
	assert.ErrorIs(t, err, domain.ErrConflictingBackends)

	err = ValidateBackendFlags(BackendFlags{KnowledgeBase: true, Bing: true, DuckDuckGo: true})
	assert.ErrorIs(t, err, domain.ErrConflictingBackends)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	stub := &testutil.StubCollector{SourceName: "bing"}

	require.NoError(t, r.Register(stub))
	assert.Error(t, r.Register(stub), "duplicate names are rejected")
	assert.Error(t, r.Register(nil))
	assert.Error(t, r.Register(&testutil.StubCollector{}))

	got, err := r.Get("bing")
	require.NoError(t, err)
	assert.Same(t, stub, got)

	_, err = r.Get("missing")
	assert.Error(t, err)

	require.NoError(t, r.Register(&testutil.StubCollector{SourceName: "alpha"}))
	assert.Equal(t, []string{"alpha", "bing"}, r.List())
}

func TestFactory(t *testing.T) {
	cfg := testutil.NewTestConfig()
	f := NewFactory(Deps{Config: cfg, LLM: testutil.NewMockLLMClient()})

	assert.Equal(t, []string{"bing", "chatgpt", "duckduckgo", "google", "wikipedia"}, f.Registry().List())

	for _, backend := range []domain.Backend{domain.BackendKnowledgeBase, domain.BackendBing, domain.BackendDuckDuckGo, domain.BackendGoogle} {
		c, err := f.NewSearchCollector(backend)
		require.NoError(t, err)
		assert.Equal(t, string(backend), c.Name())
	}

	_, err := f.NewSearchCollector(domain.BackendNone)
	assert.ErrorIs(t, err, domain.ErrUnsupportedBackend)
	_, err = f.NewSearchCollector(domain.Backend("altavista"))
	assert.ErrorIs(t, err, domain.ErrUnsupportedBackend)

	assert.Equal(t, "wikipedia", f.NewWikipedia().Name())
	assert.NotNil(t, f.NewVideo())
}

func TestFactoryVideoSearcher(t *testing.T) {
	cfg := testutil.NewTestConfig()
	f := NewFactory(Deps{Config: cfg})

	assert.IsType(t, &BingCollector{}, f.VideoSearcherFor(domain.BackendKnowledgeBase))
	assert.IsType(t, &BingCollector{}, f.VideoSearcherFor(domain.BackendBing))
	assert.IsType(t, &GoogleCollector{}, f.VideoSearcherFor(domain.BackendGoogle))
	assert.Nil(t, f.VideoSearcherFor(domain.BackendDuckDuckGo))
	assert.Nil(t, f.VideoSearcherFor(domain.BackendNone))

	cfg = testutil.NewTestConfig()
	cfg.Search.GoogleAPIKey = "key"
	cfg.Search.GoogleCX = "cx"
	f = NewFactory(Deps{Config: cfg})
	assert.IsType(t, &GoogleCollector{}, f.VideoSearcherFor(domain.BackendKnowledgeBase))
}
