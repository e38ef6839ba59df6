package render

import (
	"fmt"
	"time"

	"github.com/aymerick/raymond"

	"github.com/vampirenirmal/quire/internal/cache"
)

const (
	defaultTemplateTTL  = time.Hour
	defaultTemplateSize = 512
)

// TemplateCache caches parsed chapter templates keyed by their source text.
// Cached templates never carry helpers; callers clone before registering.
// Entries unused for the TTL expire, and the least recently used entry makes
// room once the cache is full.
type TemplateCache struct {
	templates *cache.MemoryCache[string, *raymond.Template]
}

// NewTemplateCache creates an empty cache. Non-positive arguments select the
// defaults of one hour and 512 templates.
func NewTemplateCache(ttl time.Duration, maxSize int) *TemplateCache {
	if ttl <= 0 {
		ttl = defaultTemplateTTL
	}
	if maxSize <= 0 {
		maxSize = defaultTemplateSize
	}
	return &TemplateCache{
		templates: cache.NewMemoryCache[string, *raymond.Template](ttl, maxSize),
	}
}

// Load returns the parsed template for source, parsing it on first use.
func (tc *TemplateCache) Load(source string) (*raymond.Template, error) {
	if tpl, ok := tc.templates.Touch(source); ok {
		return tpl, nil
	}

	annotated, err := annotate(source)
	if err != nil {
		return nil, fmt.Errorf("parsing template: %w", err)
	}
	tpl, err := raymond.Parse(annotated)
	if err != nil {
		return nil, fmt.Errorf("parsing template: %w", err)
	}

	tc.templates.Set(source, tpl)
	return tpl, nil
}

// Preload parses several templates, stopping at the first syntax error.
func (tc *TemplateCache) Preload(sources []string) error {
	for i, source := range sources {
		if _, err := tc.Load(source); err != nil {
			return fmt.Errorf("preloading template %d: %w", i, err)
		}
	}
	return nil
}

// Prune drops expired templates.
func (tc *TemplateCache) Prune() {
	tc.templates.Cleanup()
}

// Clear removes all cached templates.
func (tc *TemplateCache) Clear() {
	tc.templates.Clear()
}

// Len returns the number of cached templates.
func (tc *TemplateCache) Len() int {
	return tc.templates.Len()
}

// Check reports the first template syntax error among sources, using the
// default engine's cache.
func Check(sources []string) error {
	return defaultEngine.cache.Preload(sources)
}
