package luahooks

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Shopify/go-lua"

	"github.com/vampirenirmal/quire/pkg/quire/value"
)

// MaxDepth is how deeply values may nest when they cross into or out of Lua.
const MaxDepth = 32

var (
	// ErrTooDeep is returned for values nested deeper than MaxDepth.
	ErrTooDeep = errors.New("value nested too deeply")
	// ErrCyclicTable is returned for a table that contains itself.
	ErrCyclicTable = errors.New("table contains itself")
)

// push pushes v onto the stack. Map keys are pushed in sorted order so table
// construction is deterministic. On error the stack may hold a partial value;
// callers reset it.
func push(l *lua.State, v value.Value) error {
	return pushDepth(l, v, 0)
}

func pushDepth(l *lua.State, v value.Value, depth int) error {
	if depth > MaxDepth {
		return ErrTooDeep
	}
	if !l.CheckStack(2) {
		return fmt.Errorf("lua stack overflow at depth %d", depth)
	}

	switch v.Kind() {
	case value.KindString:
		s, _ := v.AsString()
		l.PushString(s)
	case value.KindNumber:
		n, _ := v.AsNumber()
		l.PushNumber(n)
	case value.KindBool:
		b, _ := v.AsBool()
		l.PushBoolean(b)
	case value.KindList:
		items, _ := v.AsList()
		l.CreateTable(len(items), 0)
		for i, item := range items {
			if err := pushDepth(l, item, depth+1); err != nil {
				return err
			}
			l.RawSetInt(-2, i+1)
		}
	case value.KindMap:
		m, _ := v.AsMap()
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		l.CreateTable(0, len(m))
		for _, k := range keys {
			if err := pushDepth(l, m[k], depth+1); err != nil {
				return err
			}
			l.SetField(-2, k)
		}
	default:
		l.PushNil()
	}
	return nil
}

// toValue reads the value at index. Tables whose keys are exactly 1..n
// become lists, other tables become maps keyed by their string keys.
// Functions and userdata become null.
func toValue(l *lua.State, index int) (value.Value, error) {
	r := reader{l: l, open: map[interface{}]bool{}}
	return r.read(index, 0)
}

// reader tracks the tables on the current path to reject cycles. A table
// reached twice through different paths is read twice.
type reader struct {
	l    *lua.State
	open map[interface{}]bool
}

func (r *reader) read(index, depth int) (value.Value, error) {
	l := r.l
	switch l.TypeOf(index) {
	case lua.TypeString:
		s, _ := l.ToString(index)
		return value.String(s), nil
	case lua.TypeNumber:
		n, _ := l.ToNumber(index)
		return value.Number(n), nil
	case lua.TypeBoolean:
		return value.Bool(l.ToBoolean(index)), nil
	case lua.TypeTable:
		if depth > MaxDepth {
			return value.Null(), ErrTooDeep
		}
		id := l.ToValue(index)
		if r.open[id] {
			return value.Null(), ErrCyclicTable
		}
		r.open[id] = true
		defer delete(r.open, id)
		return r.table(index, depth)
	default:
		return value.Null(), nil
	}
}

func (r *reader) table(index, depth int) (value.Value, error) {
	l := r.l
	index = l.AbsIndex(index)
	if !l.CheckStack(3) {
		return value.Null(), fmt.Errorf("lua stack overflow at depth %d", depth)
	}

	isArray := true
	maxIndex := 0
	count := 0
	l.PushNil()
	for l.Next(index) {
		if isArray {
			if l.TypeOf(-2) != lua.TypeNumber {
				isArray = false
			} else if idx, ok := l.ToInteger(-2); ok && idx > 0 {
				count++
				if idx > maxIndex {
					maxIndex = idx
				}
			} else {
				isArray = false
			}
		}
		l.Pop(1)
	}

	if isArray && count > 0 && maxIndex == count {
		items := make([]value.Value, 0, maxIndex)
		for i := 1; i <= maxIndex; i++ {
			l.RawGetInt(index, i)
			item, err := r.read(-1, depth+1)
			l.Pop(1)
			if err != nil {
				return value.Null(), err
			}
			items = append(items, item)
		}
		return value.List(items...), nil
	}

	entries := map[string]value.Value{}
	l.PushNil()
	for l.Next(index) {
		if l.TypeOf(-2) == lua.TypeString {
			key, _ := l.ToString(-2)
			item, err := r.read(-1, depth+1)
			if err != nil {
				l.Pop(2)
				return value.Null(), err
			}
			entries[key] = item
		}
		l.Pop(1)
	}
	return value.Map(entries), nil
}
