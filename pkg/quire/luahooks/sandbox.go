// Package luahooks binds inline hook scripts with an embedded Lua sandbox.
//
// A hook script is a Lua chunk returning a table:
//
//	return {
//	  onEnter = function(globals) return { visits = (globals.visits or 0) + 1 } end,
//	  onNavigate = function(target, updates, globals)
//	    if updates.brave then return "dragon" end
//	  end,
//	}
//
// Returning nothing leaves state untouched. From onNavigate, returning nil
// explicitly ends the story.
//
// A script run stops with an error when its context is done or when it
// exceeds the sandbox's instruction limit. Values passed to or returned from
// a hook may nest at most MaxDepth levels and returned tables must not
// contain themselves.
package luahooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Shopify/go-lua"

	"github.com/vampirenirmal/quire/pkg/quire/hook"
	"github.com/vampirenirmal/quire/pkg/quire/value"
)

const (
	keyOnStart    = "onStart"
	keyOnEnter    = "onEnter"
	keyOnLeave    = "onLeave"
	keyOnNavigate = "onNavigate"
)

var hookKeys = []string{keyOnStart, keyOnEnter, keyOnLeave, keyOnNavigate}

const (
	// DefaultInstructionLimit bounds a single script run.
	DefaultInstructionLimit = 10_000_000

	// checkInterval is how many instructions run between context checks.
	checkInterval = 1000
)

// ErrInstructionLimit is returned when a script runs longer than the
// sandbox's instruction limit.
var ErrInstructionLimit = errors.New("hook script exceeded its instruction limit")

// Sandbox owns one restricted Lua state shared by every script it binds.
// Calls into the state are serialized.
type Sandbox struct {
	mu     sync.Mutex
	state  *lua.State
	seq    int
	limit  int
	logger *slog.Logger

	// interrupted holds the reason the running script was stopped.
	interrupted error
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithLogger sets the logger scripts print to.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sandbox) {
		s.logger = logger
	}
}

// WithInstructionLimit caps the instructions a single script run may
// execute. Zero or less removes the cap.
func WithInstructionLimit(n int) Option {
	return func(s *Sandbox) {
		s.limit = n
	}
}

// New creates a sandbox with the base, string, table and math libraries.
// File loading is disabled and print goes to the logger.
func New(opts ...Option) *Sandbox {
	s := &Sandbox{
		state:  lua.NewState(),
		limit:  DefaultInstructionLimit,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	l := s.state
	libs := []lua.RegistryFunction{
		{Name: "_G", Function: lua.BaseOpen},
		{Name: "string", Function: lua.StringOpen},
		{Name: "table", Function: lua.TableOpen},
		{Name: "math", Function: lua.MathOpen},
	}
	for _, lib := range libs {
		lua.Require(l, lib.Name, lib.Function, true)
		l.Pop(1)
	}
	for _, name := range []string{"dofile", "loadfile"} {
		l.PushNil()
		l.SetGlobal(name)
	}
	l.Register("print", s.print)

	return s
}

func (s *Sandbox) print(l *lua.State) int {
	n := l.Top()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		text, _ := lua.ToStringMeta(l, i)
		parts = append(parts, text)
		l.Pop(1)
	}
	s.logger.Info("Hook script output", "text", strings.Join(parts, "\t"))
	return 0
}

// Bind evaluates script and returns the hooks it declares. Blank scripts
// bind to hook.Nop. Keys other than the four hook names are ignored.
func (s *Sandbox) Bind(owner, script string) (hook.Hooks, error) {
	if strings.TrimSpace(script) == "" {
		return hook.Nop, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.state
	base := l.Top()
	defer l.SetTop(base)

	if err := lua.LoadBuffer(l, script, chunkName(owner), ""); err != nil {
		return nil, fmt.Errorf("loading hook script: %w", err)
	}
	if err := s.run(context.Background(), 0, 1); err != nil {
		return nil, fmt.Errorf("running hook script: %w", err)
	}
	if l.TypeOf(-1) != lua.TypeTable {
		return nil, fmt.Errorf("hook script must return a table, got %s", lua.TypeNameOf(l, -1))
	}

	s.seq++
	bound := &scriptHooks{sandbox: s, owner: owner, refs: map[string]string{}}
	for _, key := range hookKeys {
		l.Field(-1, key)
		switch l.TypeOf(-1) {
		case lua.TypeFunction:
			ref := fmt.Sprintf("quire.hook.%d.%s", s.seq, key)
			l.SetField(lua.RegistryIndex, ref)
			bound.refs[key] = ref
		case lua.TypeNil:
			l.Pop(1)
		default:
			return nil, fmt.Errorf("hook %s must be a function, got %s", key, lua.TypeNameOf(l, -1))
		}
	}

	return bound, nil
}

// run calls the function below the top nargs values while watching ctx and
// the instruction limit. Callers hold the lock.
func (s *Sandbox) run(ctx context.Context, nargs, nresults int) error {
	l := s.state
	steps := 0
	s.interrupted = nil

	// Once interrupted the hook fires on every instruction, so a script
	// that catches the error with pcall is stopped again right away.
	var check lua.Hook
	check = func(l *lua.State, _ lua.Debug) {
		if s.interrupted == nil {
			steps += checkInterval
			switch {
			case ctx.Err() != nil:
				s.interrupted = ctx.Err()
			case s.limit > 0 && steps > s.limit:
				s.interrupted = ErrInstructionLimit
			default:
				return
			}
			lua.SetDebugHook(l, check, lua.MaskCount, 1)
		}
		lua.Errorf(l, "%s", s.interrupted.Error())
	}
	lua.SetDebugHook(l, check, lua.MaskCount, checkInterval)
	defer lua.SetDebugHook(l, nil, 0, 0)

	if err := l.ProtectedCall(nargs, nresults, 0); err != nil {
		if s.interrupted != nil {
			return s.interrupted
		}
		return err
	}
	return nil
}

func chunkName(owner string) string {
	if owner == hook.StoryOwner {
		return "=story"
	}
	return "=" + owner
}

// scriptHooks calls the functions a script registered.
type scriptHooks struct {
	sandbox *Sandbox
	owner   string
	refs    map[string]string
}

var _ hook.Hooks = (*scriptHooks)(nil)

// call invokes the registered function with args and hands its results to
// read while the state is still locked. A function that is not registered
// yields no results.
func (h *scriptHooks) call(ctx context.Context, key string, args []value.Value, read func(l *lua.State, n int) error) (err error) {
	ref, ok := h.refs[key]
	if !ok {
		return read(nil, 0)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s := h.sandbox
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.state
	base := l.Top()
	defer l.SetTop(base)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s hook of %s: panic: %v", key, h.describe(), r)
		}
	}()

	l.Field(lua.RegistryIndex, ref)
	for i, arg := range args {
		if err := push(l, arg); err != nil {
			return fmt.Errorf("%s hook of %s: argument %d: %w", key, h.describe(), i+1, err)
		}
	}
	if err := s.run(ctx, len(args), lua.MultipleReturns); err != nil {
		return fmt.Errorf("%s hook of %s: %w", key, h.describe(), err)
	}

	n := l.Top() - base
	if err := read(l, n); err != nil {
		return fmt.Errorf("%s hook of %s: %w", key, h.describe(), err)
	}
	return nil
}

func (h *scriptHooks) describe() string {
	if h.owner == hook.StoryOwner {
		return "story"
	}
	return "chapter " + h.owner
}

func (h *scriptHooks) callScope(ctx context.Context, key string, args ...value.Value) (value.Scope, error) {
	var out value.Scope
	err := h.call(ctx, key, args, func(l *lua.State, n int) error {
		if n == 0 || l.IsNil(-n) {
			return nil
		}
		if l.TypeOf(-n) != lua.TypeTable {
			return fmt.Errorf("must return a table, got %s", lua.TypeNameOf(l, -n))
		}
		v, err := toValue(l, -n)
		if err != nil {
			return err
		}
		m, ok := v.AsMap()
		if !ok {
			return fmt.Errorf("must return a table with named fields")
		}
		out = value.Scope(m)
		return nil
	})
	return out, err
}

func (h *scriptHooks) OnStart(ctx context.Context, globals value.Scope) (value.Scope, error) {
	return h.callScope(ctx, keyOnStart, scopeValue(globals))
}

func (h *scriptHooks) OnEnter(ctx context.Context, globals value.Scope) (value.Scope, error) {
	return h.callScope(ctx, keyOnEnter, scopeValue(globals))
}

func (h *scriptHooks) OnLeave(ctx context.Context, updates, globals value.Scope) (value.Scope, error) {
	return h.callScope(ctx, keyOnLeave, scopeValue(updates), scopeValue(globals))
}

func (h *scriptHooks) OnNavigate(ctx context.Context, target *string, updates, globals value.Scope) (*string, bool, error) {
	current := value.Null()
	if target != nil {
		current = value.String(*target)
	}

	var next *string
	changed := false
	err := h.call(ctx, keyOnNavigate, []value.Value{current, scopeValue(updates), scopeValue(globals)}, func(l *lua.State, n int) error {
		if n == 0 {
			return nil
		}
		changed = true
		switch l.TypeOf(-n) {
		case lua.TypeNil:
			next = nil
		case lua.TypeString:
			s, _ := l.ToString(-n)
			next = &s
		default:
			return fmt.Errorf("must return a chapter id or nil, got %s", lua.TypeNameOf(l, -n))
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return next, changed, nil
}

func scopeValue(s value.Scope) value.Value {
	if s == nil {
		s = value.Scope{}
	}
	return value.Map(s)
}
