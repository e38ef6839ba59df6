package luahooks

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/vampirenirmal/quire/pkg/quire/hook"
	"github.com/vampirenirmal/quire/pkg/quire/value"
)

func TestBindBlankScript(t *testing.T) {
	hooks, err := New().Bind("a", "  \n")
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	got, err := hooks.OnEnter(context.Background(), value.Scope{})
	if err != nil || got != nil {
		t.Errorf("OnEnter() = %v, %v, want no change", got, err)
	}
}

func TestBindErrors(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		wantMsg string
	}{
		{name: "syntax error", script: "return {", wantMsg: "loading hook script"},
		{name: "runtime error", script: "error('boom')", wantMsg: "boom"},
		{name: "not a table", script: "return 42", wantMsg: "must return a table"},
		{name: "hook not a function", script: "return { onEnter = 1 }", wantMsg: "onEnter must be a function"},
		{name: "no file access", script: "return dofile('x.lua')", wantMsg: "running hook script"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().Bind("a", tt.script)
			if err == nil {
				t.Fatal("Bind() error = nil")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Bind() error = %v, want it to mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestScopeHooks(t *testing.T) {
	script := `
local counter = 0
return {
  onStart = function(globals) return { started = true } end,
  onEnter = function(globals)
    counter = counter + 1
    return { visits = (globals.visits or 0) + 1, calls = counter }
  end,
  onLeave = function(updates, globals)
    if updates.skip then return end
    return { total = updates.n + globals.bonus, tags = { "a", "b" } }
  end,
  ignored = "not a hook",
}`
	ctx := context.Background()
	hooks, err := New().Bind("hall", script)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	started, err := hooks.OnStart(ctx, value.Scope{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(value.Scope{"started": value.Bool(true)}, started); diff != "" {
		t.Errorf("OnStart() mismatch (-want +got):\n%s", diff)
	}

	for want := 1; want <= 2; want++ {
		entered, err := hooks.OnEnter(ctx, value.Scope{"visits": value.Number(4)})
		if err != nil {
			t.Fatal(err)
		}
		wantScope := value.Scope{"visits": value.Number(5), "calls": value.Number(float64(want))}
		if diff := cmp.Diff(wantScope, entered); diff != "" {
			t.Errorf("OnEnter() call %d mismatch (-want +got):\n%s", want, diff)
		}
	}

	left, err := hooks.OnLeave(ctx, value.Scope{"n": value.Number(2)}, value.Scope{"bonus": value.Number(3)})
	if err != nil {
		t.Fatal(err)
	}
	wantLeft := value.Scope{
		"total": value.Number(5),
		"tags":  value.List(value.String("a"), value.String("b")),
	}
	if diff := cmp.Diff(wantLeft, left); diff != "" {
		t.Errorf("OnLeave() mismatch (-want +got):\n%s", diff)
	}

	unchanged, err := hooks.OnLeave(ctx, value.Scope{"skip": value.Bool(true)}, value.Scope{})
	if err != nil || unchanged != nil {
		t.Errorf("OnLeave() = %v, %v, want no change", unchanged, err)
	}
}

func TestOnNavigate(t *testing.T) {
	script := `
return {
  onNavigate = function(target, updates, globals)
    if updates.mode == "keep" then return end
    if updates.mode == "stop" then return nil end
    if updates.mode == "bad" then return 7 end
    return target .. "-" .. globals.suffix
  end,
}`
	hooks, err := New().Bind(hook.StoryOwner, script)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	target := "room"
	globals := value.Scope{"suffix": value.String("b")}

	tests := []struct {
		mode        string
		wantTarget  *string
		wantChanged bool
		wantErr     bool
	}{
		{mode: "keep"},
		{mode: "stop", wantChanged: true},
		{mode: "bad", wantErr: true},
		{mode: "go", wantTarget: func() *string { s := "room-b"; return &s }(), wantChanged: true},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			next, changed, err := hooks.OnNavigate(context.Background(), &target, value.Scope{"mode": value.String(tt.mode)}, globals)
			if (err != nil) != tt.wantErr {
				t.Fatalf("OnNavigate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if changed != tt.wantChanged {
				t.Errorf("changed = %v, want %v", changed, tt.wantChanged)
			}
			if diff := cmp.Diff(tt.wantTarget, next); diff != "" {
				t.Errorf("target mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHookRuntimeErrorPropagates(t *testing.T) {
	hooks, err := New().Bind("trap", `return { onEnter = function() error("trapdoor") end }`)
	if err != nil {
		t.Fatal(err)
	}
	_, err = hooks.OnEnter(context.Background(), value.Scope{})
	if err == nil || !strings.Contains(err.Error(), "trapdoor") {
		t.Errorf("OnEnter() error = %v, want script error", err)
	}
}

func TestCanceledContextSkipsCall(t *testing.T) {
	hooks, err := New().Bind("a", `return { onEnter = function() return { x = 1 } end }`)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := hooks.OnEnter(ctx, value.Scope{}); err == nil {
		t.Error("OnEnter() error = nil, want context error")
	}
}

func TestConvertRoundTrip(t *testing.T) {
	s := New()
	in := value.Map(map[string]value.Value{
		"name":  value.String("Ann"),
		"gold":  value.Number(2.5),
		"brave": value.Bool(false),
		"items": value.List(value.String("rope"), value.Number(1)),
		"empty": value.Map(map[string]value.Value{}),
	})

	l := s.state
	if err := push(l, in); err != nil {
		t.Fatalf("push() error = %v", err)
	}
	got, err := toValue(l, -1)
	l.Pop(1)
	if err != nil {
		t.Fatalf("toValue() error = %v", err)
	}

	if diff := cmp.Diff(in, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func nested(depth int) value.Value {
	v := value.Number(1)
	for i := 0; i < depth; i++ {
		v = value.Map(map[string]value.Value{"n": v})
	}
	return v
}

func TestHookResultLimits(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		wantErr error
	}{
		{
			name:    "cyclic table",
			script:  `return { onEnter = function() local t = {} t.self = t return t end }`,
			wantErr: ErrCyclicTable,
		},
		{
			name:    "cyclic list",
			script:  `return { onEnter = function() local t = {} t[1] = t return { items = t } end }`,
			wantErr: ErrCyclicTable,
		},
		{
			name: "deep table",
			script: `return { onEnter = function()
  local t = { n = 1 }
  for i = 1, 200 do t = { n = t } end
  return t
end }`,
			wantErr: ErrTooDeep,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hooks, err := New().Bind("a", tt.script)
			if err != nil {
				t.Fatal(err)
			}
			_, err = hooks.OnEnter(context.Background(), value.Scope{})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("OnEnter() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSharedTableIsNotACycle(t *testing.T) {
	hooks, err := New().Bind("a", `return { onEnter = function()
  local shared = { 1 }
  return { a = shared, b = shared }
end }`)
	if err != nil {
		t.Fatal(err)
	}
	got, err := hooks.OnEnter(context.Background(), value.Scope{})
	if err != nil {
		t.Fatalf("OnEnter() error = %v", err)
	}
	want := value.Scope{"a": value.List(value.Number(1)), "b": value.List(value.Number(1))}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("OnEnter() mismatch (-want +got):\n%s", diff)
	}
}

func TestDeepArgumentsAreRejected(t *testing.T) {
	s := New()
	hooks, err := s.Bind("a", `return { onEnter = function(globals) return { ok = true } end }`)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := hooks.OnEnter(context.Background(), value.Scope{"deep": nested(MaxDepth - 1)}); err != nil {
		t.Fatalf("OnEnter() at the depth limit error = %v", err)
	}
	_, err = hooks.OnEnter(context.Background(), value.Scope{"deep": nested(MaxDepth + 10)})
	if !errors.Is(err, ErrTooDeep) {
		t.Fatalf("OnEnter() error = %v, want %v", err, ErrTooDeep)
	}

	got, err := hooks.OnEnter(context.Background(), value.Scope{})
	if err != nil {
		t.Fatalf("OnEnter() after a rejected call error = %v", err)
	}
	if diff := cmp.Diff(value.Scope{"ok": value.Bool(true)}, got); diff != "" {
		t.Errorf("OnEnter() mismatch (-want +got):\n%s", diff)
	}
}

func TestRunawayScripts(t *testing.T) {
	loop := `return { onEnter = function() while true do end end }`

	t.Run("canceled context", func(t *testing.T) {
		hooks, err := New(WithInstructionLimit(0)).Bind("a", loop)
		if err != nil {
			t.Fatal(err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err = hooks.OnEnter(ctx, value.Scope{})
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("OnEnter() error = %v, want deadline exceeded", err)
		}
	})

	t.Run("instruction limit", func(t *testing.T) {
		s := New(WithInstructionLimit(100_000))
		hooks, err := s.Bind("a", loop)
		if err != nil {
			t.Fatal(err)
		}
		_, err = hooks.OnEnter(context.Background(), value.Scope{})
		if !errors.Is(err, ErrInstructionLimit) {
			t.Errorf("OnEnter() error = %v, want %v", err, ErrInstructionLimit)
		}

		other, err := s.Bind("b", `return { onEnter = function() return { x = 1 } end }`)
		if err != nil {
			t.Fatalf("Bind() after a runaway script error = %v", err)
		}
		if _, err := other.OnEnter(context.Background(), value.Scope{}); err != nil {
			t.Errorf("OnEnter() after a runaway script error = %v", err)
		}
	})

	t.Run("pcall cannot swallow the limit", func(t *testing.T) {
		hooks, err := New(WithInstructionLimit(100_000)).Bind("a",
			`return { onEnter = function() while true do pcall(function() while true do end end) end end }`)
		if err != nil {
			t.Fatal(err)
		}
		_, err = hooks.OnEnter(context.Background(), value.Scope{})
		if !errors.Is(err, ErrInstructionLimit) {
			t.Errorf("OnEnter() error = %v, want %v", err, ErrInstructionLimit)
		}
	})

	t.Run("top level of a script", func(t *testing.T) {
		_, err := New(WithInstructionLimit(100_000)).Bind("a", `while true do end`)
		if !errors.Is(err, ErrInstructionLimit) {
			t.Errorf("Bind() error = %v, want %v", err, ErrInstructionLimit)
		}
	})
}
