package story

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	qerrors "github.com/vampirenirmal/quire/pkg/quire/errors"
	"github.com/vampirenirmal/quire/pkg/quire/render"
	"github.com/vampirenirmal/quire/pkg/quire/value"
)

// Turn is what a prompter is shown for one chapter.
type Turn struct {
	Chapter *Chapter
	render.Result
}

// Prompter waits for the reader's response to a turn.
type Prompter interface {
	Prompt(ctx context.Context, turn Turn) (Response, error)
}

// PromptFunc adapts a function to Prompter.
type PromptFunc func(ctx context.Context, turn Turn) (Response, error)

func (f PromptFunc) Prompt(ctx context.Context, turn Turn) (Response, error) {
	return f(ctx, turn)
}

// Response is either an Answer or a Form.
type Response interface {
	resolve(result render.Result) (target *string, updates value.Scope, err error)
}

// Answer is a structured response used as given.
type Answer struct {
	Target  *string
	Updates value.Scope
}

func (a Answer) resolve(render.Result) (*string, value.Scope, error) {
	updates := a.Updates
	if updates == nil {
		updates = value.Scope{}
	}
	return a.Target, updates, nil
}

// Form is a raw field submission, decoded against the turn's fields.
type Form url.Values

func (f Form) resolve(result render.Result) (*string, value.Scope, error) {
	return DecodeForm(url.Values(f), result)
}

// DecodeForm reads the target from the reserved @target field and coerces
// every input field by its declared type. Set fields keep their authored
// values and are not read from the submission.
func DecodeForm(form url.Values, result render.Result) (*string, value.Scope, error) {
	var target *string
	if t := form.Get(render.TargetField); t != "" {
		target = &t
	}

	updates := make(value.Scope, len(result.Inputs)+len(result.Sets))
	for _, set := range result.Sets {
		updates[set.Name] = set.Value
	}
	for _, input := range result.Inputs {
		raw, present := lookup(form, input.Name)
		v, err := coerce(input.Type, raw, present)
		if err != nil {
			return nil, nil, qerrors.NewInputError(input.Name, raw, err)
		}
		updates[input.Name] = v
	}
	return target, updates, nil
}

func lookup(form url.Values, name string) (string, bool) {
	values, ok := form[name]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// coerce converts submitted text to a value of the given type.
func coerce(typ value.Type, raw string, present bool) (value.Value, error) {
	switch typ {
	case value.TypeBoolean:
		return value.Bool(raw == "on"), nil
	case value.TypeNumber:
		if raw == "" {
			return value.Null(), nil
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return value.Value{}, err
		}
		return value.Number(n), nil
	case value.TypeObject:
		if raw == "" {
			return value.Null(), nil
		}
		return value.ParseJSON(raw)
	default:
		if !present {
			return value.Null(), nil
		}
		return value.String(raw), nil
	}
}
