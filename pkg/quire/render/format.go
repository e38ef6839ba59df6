package render

import (
	"bytes"
	"encoding/json"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/vampirenirmal/quire/pkg/quire/value"
)

// Formatter selects an output format. What it renders is decided by the
// optional capability interfaces below; a formatter lacking one renders that
// directive as empty text.
type Formatter interface {
	Name() string
}

// InputFormatter renders input directives.
type InputFormatter interface {
	Input(field Field) string
}

// NavFormatter renders navigation directives.
type NavFormatter interface {
	Nav(nav Nav) string
}

// BreakFormatter renders a single line break. Without it breaks are newlines.
type BreakFormatter interface {
	LineBreak() string
}

// Finisher post-processes the expanded template.
type Finisher interface {
	Finish(text string) (string, error)
}

type markdownFormatter struct{}

// Markdown renders plain bracketed placeholders for inputs and leaves
// navigation to the prompt.
func Markdown() Formatter {
	return markdownFormatter{}
}

func (markdownFormatter) Name() string { return "markdown" }

func (markdownFormatter) Input(field Field) string {
	if field.Type == value.TypeBoolean {
		return "[ " + field.Name + "? ]"
	}
	return "[> " + field.Name + " <]"
}

func (markdownFormatter) LineBreak() string { return "\n" }

// TargetField is the reserved form field a navigation button submits.
const TargetField = "@target"

type htmlFormatter struct {
	tags     map[string]string
	markdown goldmark.Markdown
}

// HTMLOption customizes the html formatter.
type HTMLOption func(*htmlFormatter)

// WithTagMap replaces the element used for "input" or "button", for example
// to render custom elements.
func WithTagMap(tags map[string]string) HTMLOption {
	return func(h *htmlFormatter) {
		for k, v := range tags {
			h.tags[k] = v
		}
	}
}

// HTML renders escaped form controls and converts the result from markdown
// to HTML.
func HTML(opts ...HTMLOption) Formatter {
	h := &htmlFormatter{
		tags: map[string]string{},
		markdown: goldmark.New(
			goldmark.WithParserOptions(parser.WithAttribute()),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *htmlFormatter) Name() string { return "html" }

func (h *htmlFormatter) tag(name string) string {
	if t, ok := h.tags[name]; ok && t != "" {
		return t
	}
	return name
}

func (h *htmlFormatter) Input(field Field) string {
	attrs := []attr{{"name", field.Name}}
	if field.Type == value.TypeBoolean {
		attrs = append(attrs,
			attr{"type", "checkbox"},
			attr{"checked", field.Value.Truthy()},
		)
	} else {
		attrs = append(attrs,
			attr{"type", "text"},
			attr{"value", inputText(field)},
		)
	}
	attrs = append(attrs, attr{"aria-label", field.Name})
	return element(h.tag("input"), attrs, "")
}

func (h *htmlFormatter) Nav(nav Nav) string {
	target := ""
	if nav.Target != nil {
		target = *nav.Target
	}
	return element(h.tag("button"), []attr{
		{"name", TargetField},
		{"type", "submit"},
		{"value", target},
	}, nav.Text)
}

func (h *htmlFormatter) LineBreak() string { return "<br>" }

// Finish converts markdown to HTML and prepends a disabled, hidden submit
// control so a form submitted without a chosen button carries no target.
func (h *htmlFormatter) Finish(text string) (string, error) {
	var buf bytes.Buffer
	if err := h.markdown.Convert([]byte(text), &buf); err != nil {
		return "", err
	}
	guard := element("input", []attr{
		{"type", "submit"},
		{"disabled", true},
		{"hidden", true},
	}, "")
	return guard + buf.String(), nil
}

// inputText is the text a form control starts with: JSON for objects,
// nothing for null, plain text otherwise.
func inputText(field Field) string {
	if field.Value.IsNull() {
		return ""
	}
	if field.Type == value.TypeObject {
		data, err := json.Marshal(field.Value)
		if err != nil {
			return ""
		}
		return string(data)
	}
	return field.Value.String()
}
