package value

import "fmt"

// Scope maps names to values. It is either a point-in-time snapshot or the
// long-lived globals owned by a playback session.
type Scope map[string]Value

// Clone returns a shallow copy. Values are immutable, so this is enough to
// isolate the copy from later writes.
func (s Scope) Clone() Scope {
	out := make(Scope, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Merge returns a new scope holding s overwritten key-wise by over.
func (s Scope) Merge(over Scope) Scope {
	out := make(Scope, len(s)+len(over))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

// Any converts the scope to plain Go data for template evaluation.
func (s Scope) Any() map[string]any {
	out := make(map[string]any, len(s))
	for k, v := range s {
		out[k] = v.Any()
	}
	return out
}

// Equal reports whether both scopes hold the same keys and values.
func (s Scope) Equal(o Scope) bool {
	if len(s) != len(o) {
		return false
	}
	for k, v := range s {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// ScopeFromAny converts a decoded mapping into a Scope.
func ScopeFromAny(raw map[string]any) (Scope, error) {
	out := make(Scope, len(raw))
	for k, e := range raw {
		v, err := FromAny(e)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}
