// Package render expands a chapter template into display text while
// recording the inputs, persisted values and navigation choices it declares.
//
// Templates use handlebars syntax with these directives:
//
//	{{input "number" age=30}}           an editable field
//	{{set visited=true}}                a value carried into the response
//	{{#nav "cellar"}}Go down{{/nav}}    a navigation choice; null ends the story
//	{{asset "map"}} {{mime "map"}}      asset url and mime type
//	{{linebreak}} {{linebreak n=2}}     format-specific line breaks
package render

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aymerick/raymond"

	"github.com/vampirenirmal/quire/pkg/quire/document"
	"github.com/vampirenirmal/quire/pkg/quire/value"
)

// Field is an input or set directive occurrence.
type Field struct {
	Name  string      `json:"name"`
	Type  value.Type  `json:"type"`
	Value value.Value `json:"value"`
}

// Nav is a navigation choice. A nil Target ends the story.
type Nav struct {
	Text   string  `json:"text"`
	Target *string `json:"target"`
}

// Result is rebuilt on every render and never persisted.
type Result struct {
	Text   string  `json:"text"`
	Inputs []Field `json:"inputs"`
	Sets   []Field `json:"sets"`
	Navs   []Nav   `json:"navs"`
}

// Engine renders templates, reusing parsed templates across calls.
type Engine struct {
	cache *TemplateCache
}

// EngineOption configures an Engine.
type EngineOption func(*engineConfig)

type engineConfig struct {
	cacheTTL  time.Duration
	cacheSize int
}

// WithTemplateCache bounds the engine's template cache.
func WithTemplateCache(ttl time.Duration, maxSize int) EngineOption {
	return func(c *engineConfig) {
		c.cacheTTL = ttl
		c.cacheSize = maxSize
	}
}

// NewEngine creates an engine with its own template cache.
func NewEngine(opts ...EngineOption) *Engine {
	var cfg engineConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{cache: NewTemplateCache(cfg.cacheTTL, cfg.cacheSize)}
}

// Prune drops cached templates that have not been used within the cache TTL.
func (e *Engine) Prune() {
	e.cache.Prune()
}

var defaultEngine = NewEngine()

// Render expands template with the default engine.
func Render(template string, scope value.Scope, assets document.Assets, f Formatter) (Result, error) {
	return defaultEngine.Render(template, scope, assets, f)
}

// Render expands template against a scope snapshot. Directives are evaluated
// left to right in a single pass and every occurrence is recorded in order.
// Hash pairs are recorded in the order they were written, and a pair whose
// value is null or undefined is recorded as null.
func (e *Engine) Render(template string, scope value.Scope, assets document.Assets, f Formatter) (Result, error) {
	if f == nil {
		f = Markdown()
	}

	parsed, err := e.cache.Load(template)
	if err != nil {
		return Result{}, err
	}

	r := &recorder{
		formatter: f,
		assets:    assets,
		result: Result{
			Inputs: []Field{},
			Sets:   []Field{},
			Navs:   []Nav{},
		},
	}

	tpl := parsed.Clone()
	tpl.RegisterHelpers(r.helpers())

	text, err := tpl.Exec(scope.Any())
	if err != nil {
		return Result{}, fmt.Errorf("rendering template: %w", err)
	}

	if finisher, ok := f.(Finisher); ok {
		text, err = finisher.Finish(text)
		if err != nil {
			return Result{}, fmt.Errorf("finishing %s output: %w", f.Name(), err)
		}
	}

	r.result.Text = text
	return r.result, nil
}

// recorder collects directive occurrences for a single render call.
type recorder struct {
	formatter Formatter
	assets    document.Assets
	result    Result
}

func (r *recorder) helpers() map[string]interface{} {
	return map[string]interface{}{
		"input":     r.input,
		"set":       r.set,
		"nav":       r.nav,
		"asset":     r.asset,
		"mime":      r.mime,
		"linebreak": r.linebreak,
	}
}

func (r *recorder) input(typ string, options *raymond.Options) raymond.SafeString {
	keys := hashKeys(options.Hash())
	if len(keys) == 0 {
		return ""
	}
	name := keys[0]
	field := Field{Name: name, Type: value.ParseType(typ), Value: toValue(options.HashProp(name))}
	r.result.Inputs = append(r.result.Inputs, field)

	if f, ok := r.formatter.(InputFormatter); ok {
		return raymond.SafeString(f.Input(field))
	}
	return ""
}

func (r *recorder) set(options *raymond.Options) raymond.SafeString {
	for _, name := range hashKeys(options.Hash()) {
		v := toValue(options.HashProp(name))
		r.result.Sets = append(r.result.Sets, Field{Name: name, Type: value.TypeOf(v), Value: v})
	}
	return ""
}

func (r *recorder) nav(target interface{}, options *raymond.Options) raymond.SafeString {
	nav := Nav{Text: strings.TrimSpace(options.Fn())}
	if target != nil {
		id := raymond.Str(target)
		nav.Target = &id
	}
	r.result.Navs = append(r.result.Navs, nav)

	if f, ok := r.formatter.(NavFormatter); ok {
		return raymond.SafeString(f.Nav(nav))
	}
	return ""
}

func (r *recorder) asset(name string) raymond.SafeString {
	return raymond.SafeString(r.assets[name].URL)
}

func (r *recorder) mime(name string) raymond.SafeString {
	return raymond.SafeString(r.assets[name].MIME)
}

func (r *recorder) linebreak(options *raymond.Options) raymond.SafeString {
	n := 1
	if raw := options.HashProp("n"); raw != nil {
		if v, ok := toValue(raw).AsNumber(); ok {
			n = int(v)
		}
	}
	if n < 0 {
		n = 0
	}
	br := "\n"
	if f, ok := r.formatter.(BreakFormatter); ok {
		br = f.LineBreak()
	}
	return raymond.SafeString(strings.Repeat(br, n))
}

// toValue converts template data to a Value, falling back to its text form
// for data that has no JSON-like shape. Missing data is null.
func toValue(raw interface{}) value.Value {
	v, err := value.FromAny(raw)
	if err != nil {
		return value.String(raymond.Str(raw))
	}
	return v
}

// sortedKeys orders hash arguments by name.
func sortedKeys(hash map[string]interface{}) []string {
	keys := make([]string, 0, len(hash))
	for k := range hash {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
