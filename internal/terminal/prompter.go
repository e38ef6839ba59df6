// Package terminal plays stories on a text terminal.
package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/vampirenirmal/quire/pkg/quire/render"
	"github.com/vampirenirmal/quire/pkg/quire/story"
	"github.com/vampirenirmal/quire/pkg/quire/value"
)

// ErrQuit is returned when the reader closes the input.
var ErrQuit = errors.New("reader quit")

// Prompter shows each chapter on out, asks for every input with its
// authored value as the default, then offers the navigation choices.
type Prompter struct {
	in       *bufio.Reader
	out      io.Writer
	renderer *glamour.TermRenderer
	wrap     int
	style    string
	plain    bool
}

var _ story.Prompter = (*Prompter)(nil)

// Option configures a Prompter.
type Option func(*Prompter)

// WithWordWrap sets the wrap width of rendered text.
func WithWordWrap(width int) Option {
	return func(p *Prompter) {
		p.wrap = width
	}
}

// WithStyle selects a glamour standard style such as "dark" or "notty".
// The default detects the terminal background.
func WithStyle(style string) Option {
	return func(p *Prompter) {
		p.style = style
	}
}

// WithPlainText prints chapter text without markdown styling.
func WithPlainText() Option {
	return func(p *Prompter) {
		p.plain = true
	}
}

func New(in io.Reader, out io.Writer, opts ...Option) (*Prompter, error) {
	p := &Prompter{
		in:   bufio.NewReader(in),
		out:  out,
		wrap: 80,
	}
	for _, opt := range opts {
		opt(p)
	}

	if !p.plain {
		style := glamour.WithAutoStyle()
		if p.style != "" {
			style = glamour.WithStandardStyle(p.style)
		}
		renderer, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(p.wrap))
		if err != nil {
			return nil, fmt.Errorf("creating markdown renderer: %w", err)
		}
		p.renderer = renderer
	}

	return p, nil
}

// Prompt implements story.Prompter. The answer carries every input and set
// field; set fields keep their authored values.
func (p *Prompter) Prompt(ctx context.Context, turn story.Turn) (story.Response, error) {
	if err := p.show(turn.Text); err != nil {
		return nil, err
	}

	updates := make(value.Scope, len(turn.Inputs)+len(turn.Sets))
	for _, input := range turn.Inputs {
		v, err := p.ask(ctx, input)
		if err != nil {
			return nil, err
		}
		updates[input.Name] = v
	}
	for _, set := range turn.Sets {
		updates[set.Name] = set.Value
	}

	target, err := p.choose(ctx, turn.Navs)
	if err != nil {
		return nil, err
	}

	return story.Answer{Target: target, Updates: updates}, nil
}

func (p *Prompter) show(text string) error {
	if p.renderer != nil {
		rendered, err := p.renderer.Render(text)
		if err != nil {
			return fmt.Errorf("rendering chapter text: %w", err)
		}
		text = rendered
	}
	_, err := fmt.Fprintf(p.out, "%s\n\n", strings.TrimSpace(text))
	return err
}

// ask reads one input, asking again until the reply parses.
func (p *Prompter) ask(ctx context.Context, field render.Field) (value.Value, error) {
	def := defaultText(field)
	for {
		hint := def
		if field.Type == value.TypeBoolean {
			hint = "y/N"
			if field.Value.Truthy() {
				hint = "Y/n"
			}
		}
		line, err := p.readLine(ctx, fmt.Sprintf("%s [%s]: ", field.Name, hint))
		if err != nil {
			return value.Value{}, err
		}
		if line == "" {
			return field.Value, nil
		}

		v, err := parseReply(field.Type, line)
		if err == nil {
			return v, nil
		}
		fmt.Fprintf(p.out, "  %v\n", err)
	}
}

// choose lists the navigation choices and reads a number. Without choices
// the story ends.
func (p *Prompter) choose(ctx context.Context, navs []render.Nav) (*string, error) {
	if len(navs) == 0 {
		return nil, nil
	}
	if len(navs) == 1 {
		fmt.Fprintf(p.out, "1) %s\n", navs[0].Text)
	}

	for {
		if len(navs) > 1 {
			for i, nav := range navs {
				fmt.Fprintf(p.out, "%d) %s\n", i+1, nav.Text)
			}
		}
		line, err := p.readLine(ctx, "Choose: ")
		if err != nil {
			return nil, err
		}
		if line == "" && len(navs) == 1 {
			return navs[0].Target, nil
		}
		n, err := strconv.Atoi(line)
		if err == nil && n >= 1 && n <= len(navs) {
			return navs[n-1].Target, nil
		}
		fmt.Fprintf(p.out, "  enter a number from 1 to %d\n", len(navs))
	}
}

func (p *Prompter) readLine(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprint(p.out, prompt)

	line, err := p.in.ReadString('\n')
	if errors.Is(err, io.EOF) && line == "" {
		return "", ErrQuit
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading reply: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func defaultText(field render.Field) string {
	if field.Value.IsNull() {
		return ""
	}
	return field.Value.String()
}

func parseReply(typ value.Type, line string) (value.Value, error) {
	switch typ {
	case value.TypeBoolean:
		switch strings.ToLower(line) {
		case "y", "yes", "true", "on":
			return value.Bool(true), nil
		case "n", "no", "false", "off":
			return value.Bool(false), nil
		}
		return value.Value{}, fmt.Errorf("answer yes or no")
	case value.TypeNumber:
		n, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return value.Value{}, fmt.Errorf("enter a number")
		}
		return value.Number(n), nil
	case value.TypeObject:
		v, err := value.ParseJSON(line)
		if err != nil {
			return value.Value{}, fmt.Errorf("enter JSON: %v", err)
		}
		return v, nil
	default:
		return value.String(line), nil
	}
}
