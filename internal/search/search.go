// Package search backs the assistant's web_search tool with pluggable
// providers. DuckDuckGo needs no credentials and is the default; a
// self-hosted SearXNG instance can take over via configuration.
//
// Queries here are overwhelmingly Chinese, so the [Manager] fills in a
// Chinese default language before delegating. Each provider translates
// that into whatever its upstream expects.
package search

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Defaults applied by the Manager before delegating to a provider.
const (
	defaultCount    = 5
	defaultLanguage = "zh-CN"
)

// Result is a single search result.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Options are optional parameters for a search query.
type Options struct {
	// Count is the maximum number of results to return.
	// Providers may return fewer. Zero means the manager default.
	Count int `json:"count,omitempty"`

	// Language is a BCP 47 tag (e.g., "zh-CN", "en"). Providers map it
	// to their own region or language parameter.
	Language string `json:"language,omitempty"`
}

// Provider is the interface that search backends implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "searxng", "duckduckgo").
	Name() string

	// Search executes a query and returns results.
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Manager holds configured providers and routes searches.
type Manager struct {
	providers map[string]Provider
	primary   string
}

// NewManager creates a search manager. The primary provider name
// determines which backend is used by default.
func NewManager(primary string) *Manager {
	return &Manager{
		providers: make(map[string]Provider),
		primary:   primary,
	}
}

// Register adds a provider to the manager.
func (m *Manager) Register(p Provider) {
	m.providers[p.Name()] = p
}

// Search runs a query against the primary provider.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	return m.SearchWith(ctx, m.primary, query, opts)
}

// SearchWith runs a query against a specific named provider.
func (m *Manager) SearchWith(ctx context.Context, provider, query string, opts Options) ([]Result, error) {
	p, ok := m.providers[provider]
	if !ok {
		return nil, fmt.Errorf("search provider %q not configured", provider)
	}
	if opts.Count <= 0 {
		opts.Count = defaultCount
	}
	if opts.Language == "" {
		opts.Language = defaultLanguage
	}
	return p.Search(ctx, query, opts)
}

// Providers returns the names of all registered providers.
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	return names
}

// Configured reports whether at least one provider is registered.
func (m *Manager) Configured() bool {
	return len(m.providers) > 0
}

// FormatResults renders results as the numbered Chinese list the model
// relays to the user.
func FormatResults(results []Result, count int) string {
	if len(results) == 0 {
		return "没有找到相关结果。"
	}
	if count > 0 && len(results) > count {
		results = results[:count]
	}

	var b strings.Builder
	b.WriteString("找到以下搜索结果：")
	for i, r := range results {
		b.WriteString("\n\n")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(r.Title)
		b.WriteString("\n   ")
		b.WriteString(r.URL)
		if r.Snippet != "" {
			b.WriteString("\n   ")
			b.WriteString(r.Snippet)
		}
	}
	return b.String()
}
