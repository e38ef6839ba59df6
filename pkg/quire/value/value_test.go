package value

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTypeOf(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		want  Type
	}{
		{"string", String("a"), TypeString},
		{"number", Number(5), TypeNumber},
		{"null counts as number", Null(), TypeNumber},
		{"boolean", Bool(true), TypeBoolean},
		{"list", List(Number(1)), TypeObject},
		{"map", Map(map[string]Value{"a": Null()}), TypeObject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TypeOf(tt.value); got != tt.want {
				t.Errorf("TypeOf(%#v) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

func TestFromAny(t *testing.T) {
	raw := map[string]any{
		"name":  "Ada",
		"age":   36,
		"ratio": 0.5,
		"ok":    true,
		"none":  nil,
		"tags":  []any{"a", int64(2)},
		"inner": map[any]any{"k": "v"},
	}

	got, err := FromAny(raw)
	if err != nil {
		t.Fatalf("FromAny() error = %v", err)
	}

	want := Map(map[string]Value{
		"name":  String("Ada"),
		"age":   Number(36),
		"ratio": Number(0.5),
		"ok":    Bool(true),
		"none":  Null(),
		"tags":  List(String("a"), Number(2)),
		"inner": Map(map[string]Value{"k": String("v")}),
	})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FromAny() mismatch (-want +got):\n%s", diff)
	}

	if _, err := FromAny(struct{}{}); err == nil {
		t.Error("FromAny(struct{}{}) should fail")
	}
}

func TestValueJSON(t *testing.T) {
	v, err := ParseJSON(`{"a":[1,"two",null,false]}`)
	if err != nil {
		t.Fatalf("ParseJSON() error = %v", err)
	}
	want := Map(map[string]Value{
		"a": List(Number(1), String("two"), Null(), Bool(false)),
	})
	if !v.Equal(want) {
		t.Errorf("ParseJSON() = %#v, want %#v", v, want)
	}

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `{"a":[1,"two",null,false]}` {
		t.Errorf("Marshal() = %s", data)
	}

	if _, err := ParseJSON("{oops"); err == nil {
		t.Error("ParseJSON() with malformed text should fail")
	}
}

func TestValueString(t *testing.T) {
	tests := []struct {
		value Value
		want  string
	}{
		{String("x"), "x"},
		{Number(42), "42"},
		{Number(1.25), "1.25"},
		{Bool(false), "false"},
		{Null(), "null"},
		{List(Number(1), Number(2)), "[1,2]"},
	}
	for _, tt := range tests {
		if got := tt.value.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestScopeMerge(t *testing.T) {
	globals := Scope{"a": Number(1), "b": String("x")}

	t.Run("empty updates are a no-op", func(t *testing.T) {
		merged := globals.Merge(Scope{})
		if !merged.Equal(globals) {
			t.Errorf("Merge({}) = %v, want %v", merged, globals)
		}
	})

	t.Run("later keys overwrite", func(t *testing.T) {
		merged := globals.Merge(Scope{"b": String("y"), "c": Bool(true)})
		want := Scope{"a": Number(1), "b": String("y"), "c": Bool(true)}
		if diff := cmp.Diff(want, merged); diff != "" {
			t.Errorf("Merge() mismatch (-want +got):\n%s", diff)
		}
		if s, _ := globals["b"].AsString(); s != "x" {
			t.Errorf("Merge() mutated the receiver: b = %q", s)
		}
	})
}

func TestParseType(t *testing.T) {
	if got := ParseType("Boolean"); got != TypeBoolean {
		t.Errorf("ParseType(Boolean) = %q", got)
	}
	if got := ParseType("date"); got != TypeString {
		t.Errorf("ParseType(date) = %q, want string", got)
	}
}
