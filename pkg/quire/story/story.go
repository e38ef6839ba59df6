// Package story plays a parsed document: it binds hook scripts to chapters
// and runs the render, prompt and navigate loop until no chapter remains.
package story

import (
	"fmt"
	"log/slog"

	"github.com/vampirenirmal/quire/pkg/quire/document"
	"github.com/vampirenirmal/quire/pkg/quire/hook"
	"github.com/vampirenirmal/quire/pkg/quire/luahooks"
	"github.com/vampirenirmal/quire/pkg/quire/render"
	"github.com/vampirenirmal/quire/pkg/quire/value"
)

// Chapter is a parsed chapter with its bound hooks.
type Chapter struct {
	ID       string
	Title    string
	Template string
	Hooks    hook.Hooks
}

// Render expands the chapter template against scope.
func (c *Chapter) Render(engine *render.Engine, scope value.Scope, assets document.Assets, f render.Formatter) (render.Result, error) {
	result, err := engine.Render(c.Template, scope, assets, f)
	if err != nil {
		return render.Result{}, fmt.Errorf("rendering chapter %q: %w", c.ID, err)
	}
	return result, nil
}

// Story is an immutable chapter graph. Playback state lives in Play, so one
// Story may be played any number of times.
type Story struct {
	Metadata   document.Metadata
	Stylesheet string

	entry    string
	order    []string
	chapters map[string]*Chapter
	hooks    hook.Hooks

	binder    hook.Binder
	formatter render.Formatter
	engine    *render.Engine
	logger    *slog.Logger
}

// Option configures a Story.
type Option func(*Story)

// WithBinder sets how hook scripts are bound. The default evaluates them in
// a Lua sandbox owned by the story.
func WithBinder(b hook.Binder) Option {
	return func(s *Story) {
		s.binder = b
	}
}

// WithFormatter sets the output format. The default is markdown.
func WithFormatter(f render.Formatter) Option {
	return func(s *Story) {
		s.formatter = f
	}
}

// WithEngine sets the render engine, letting stories share a template cache.
func WithEngine(e *render.Engine) Option {
	return func(s *Story) {
		s.engine = e
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Story) {
		s.logger = logger
	}
}

// Load parses text and builds a story from it.
func Load(text string, opts ...Option) (*Story, error) {
	body, err := document.Parse(text)
	if err != nil {
		return nil, err
	}
	return New(body, opts...)
}

// New binds the hooks of a parsed body. A binding failure aborts construction.
func New(body *document.Body, opts ...Option) (*Story, error) {
	s := &Story{
		Metadata:   body.Metadata,
		Stylesheet: body.Stylesheet,
		entry:      body.Entry,
		order:      append([]string(nil), body.Order...),
		chapters:   make(map[string]*Chapter, len(body.Order)),
		formatter:  render.Markdown(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.engine == nil {
		s.engine = render.NewEngine()
	}
	if s.binder == nil {
		s.binder = luahooks.New(luahooks.WithLogger(s.logger))
	}

	hooks, err := s.binder.Bind(hook.StoryOwner, body.Script)
	if err != nil {
		return nil, fmt.Errorf("binding story hooks: %w", err)
	}
	s.hooks = hooks

	for _, id := range body.Order {
		parsed := body.Chapters[id]
		hooks, err := s.binder.Bind(id, parsed.Script)
		if err != nil {
			return nil, fmt.Errorf("binding hooks of chapter %q: %w", id, err)
		}
		s.chapters[id] = &Chapter{
			ID:       id,
			Title:    parsed.Title,
			Template: parsed.Template,
			Hooks:    hooks,
		}
	}

	return s, nil
}

// Entry returns the first chapter, or nil for a story without chapters.
func (s *Story) Entry() *Chapter {
	return s.chapters[s.entry]
}

// Chapter looks up a chapter by id.
func (s *Story) Chapter(id string) (*Chapter, bool) {
	c, ok := s.chapters[id]
	return c, ok
}

// Chapters returns the chapters in document order.
func (s *Story) Chapters() []*Chapter {
	out := make([]*Chapter, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.chapters[id])
	}
	return out
}

// Globals returns a copy of the initial globals declared in front matter.
func (s *Story) Globals() value.Scope {
	return s.Metadata.Globals.Clone()
}
