// Package hook defines the lifecycle callbacks a story and its chapters may
// carry, and the binders that turn hook script text into them.
//
// Hooks only ever see snapshots of story state. They communicate changes
// through their return values and the playback loop decides what to merge.
package hook

import (
	"context"
	"fmt"
	"sync"

	"github.com/vampirenirmal/quire/pkg/quire/value"
)

// Hooks is the capability set bound to a story or a chapter. A story only
// uses OnStart; chapters use the other three.
//
// Scope-returning methods return nil to leave state untouched and a non-nil
// scope, possibly empty, to overlay it. OnNavigate reports changed=false to
// keep the current target; changed=true with a nil target ends the story.
type Hooks interface {
	OnStart(ctx context.Context, globals value.Scope) (value.Scope, error)
	OnEnter(ctx context.Context, globals value.Scope) (value.Scope, error)
	OnLeave(ctx context.Context, updates, globals value.Scope) (value.Scope, error)
	OnNavigate(ctx context.Context, target *string, updates, globals value.Scope) (next *string, changed bool, err error)
}

// Funcs adapts plain functions to Hooks. Nil fields do nothing.
type Funcs struct {
	Start    func(ctx context.Context, globals value.Scope) (value.Scope, error)
	Enter    func(ctx context.Context, globals value.Scope) (value.Scope, error)
	Leave    func(ctx context.Context, updates, globals value.Scope) (value.Scope, error)
	Navigate func(ctx context.Context, target *string, updates, globals value.Scope) (*string, bool, error)
}

var _ Hooks = Funcs{}

func (f Funcs) OnStart(ctx context.Context, globals value.Scope) (value.Scope, error) {
	if f.Start == nil {
		return nil, nil
	}
	return f.Start(ctx, globals)
}

func (f Funcs) OnEnter(ctx context.Context, globals value.Scope) (value.Scope, error) {
	if f.Enter == nil {
		return nil, nil
	}
	return f.Enter(ctx, globals)
}

func (f Funcs) OnLeave(ctx context.Context, updates, globals value.Scope) (value.Scope, error) {
	if f.Leave == nil {
		return nil, nil
	}
	return f.Leave(ctx, updates, globals)
}

func (f Funcs) OnNavigate(ctx context.Context, target *string, updates, globals value.Scope) (*string, bool, error) {
	if f.Navigate == nil {
		return nil, false, nil
	}
	return f.Navigate(ctx, target, updates, globals)
}

// Nop is the empty hook set.
var Nop Hooks = Funcs{}

// Binder turns hook script text into Hooks. owner is "" for the story-level
// script and the chapter id otherwise.
type Binder interface {
	Bind(owner, script string) (Hooks, error)
}

// BinderFunc adapts a function to Binder.
type BinderFunc func(owner, script string) (Hooks, error)

func (f BinderFunc) Bind(owner, script string) (Hooks, error) {
	return f(owner, script)
}

// StoryOwner is the owner key of story-level hooks.
const StoryOwner = ""

// Registry binds hooks registered explicitly in Go, keyed by owner, and
// falls back to another binder for owners it does not know.
type Registry struct {
	mu       sync.RWMutex
	hooks    map[string]Hooks
	fallback Binder
}

// NewRegistry creates a registry. A nil fallback binds unknown owners to Nop.
func NewRegistry(fallback Binder) *Registry {
	return &Registry{
		hooks:    make(map[string]Hooks),
		fallback: fallback,
	}
}

// Register binds hooks to owner, replacing any earlier registration.
func (r *Registry) Register(owner string, hooks Hooks) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.hooks[owner] = hooks
}

// Bind returns the registered hooks for owner. Registered hooks take
// precedence over any script text.
func (r *Registry) Bind(owner, script string) (Hooks, error) {
	r.mu.RLock()
	hooks, ok := r.hooks[owner]
	r.mu.RUnlock()

	if ok {
		return hooks, nil
	}
	if r.fallback == nil {
		return Nop, nil
	}

	hooks, err := r.fallback.Bind(owner, script)
	if err != nil {
		return nil, fmt.Errorf("binding hooks for %q: %w", owner, err)
	}
	return hooks, nil
}

// Ignore is a binder that discards script text.
var Ignore Binder = BinderFunc(func(string, string) (Hooks, error) {
	return Nop, nil
})
