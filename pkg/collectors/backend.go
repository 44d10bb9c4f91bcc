package collectors

import (
	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
)

// BackendFlags are the user's search backend switches
type BackendFlags struct {
	KnowledgeBase bool
	Bing          bool
	DuckDuckGo    bool
	// NoSearch disables the web search branch entirely
	NoSearch bool
}

// backendPriority lists the alternate backends in precedence order.
// Google is used when none of them is selected.
var backendPriority = []struct {
	backend  domain.Backend
	selected func(BackendFlags) bool
}{
	{domain.BackendKnowledgeBase, func(f BackendFlags) bool { return f.KnowledgeBase }},
	{domain.BackendBing, func(f BackendFlags) bool { return f.Bing }},
	{domain.BackendDuckDuckGo, func(f BackendFlags) bool { return f.DuckDuckGo }},
}

// SelectBackend picks the backend for flags using the fixed precedence
// chatgpt > bing > duckduckgo > google
func SelectBackend(flags BackendFlags) domain.Backend {
	if flags.NoSearch {
		return domain.BackendNone
	}
	for _, entry := range backendPriority {
		if entry.selected(flags) {
			return entry.backend
		}
	}
	return domain.BackendGoogle
}

// ValidateBackendFlags rejects more than one alternate backend
func ValidateBackendFlags(flags BackendFlags) error {
	selected := 0
	for _, entry := range backendPriority {
		if entry.selected(flags) {
			selected++
		}
	}
	if selected > 1 {
		return domain.ErrConflictingBackends
	}
	return nil
}
