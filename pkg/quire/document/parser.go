// Package document turns story source text into a chapter graph.
//
// A story is markdown with a YAML front-matter block, one level-one heading
// per chapter (optionally carrying an explicit id as `# Title {#id}`), raw
// `<script>` blocks holding hook scripts and raw `<style>` blocks that are
// collected into a single stylesheet.
package document

import (
	"regexp"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"

	qerrors "github.com/vampirenirmal/quire/pkg/quire/errors"
)

// ChapterBody is a parsed chapter. Template still begins with the chapter's
// own heading line; excised script and style lines never appear in it.
type ChapterBody struct {
	Title    string
	Template string
	Script   string
}

// Body is the immutable result of parsing a story document.
type Body struct {
	Metadata Metadata
	// Order lists chapter ids in document order.
	Order    []string
	Chapters map[string]ChapterBody
	// Entry is the first chapter id, or empty when there are no chapters.
	Entry      string
	Script     string
	Stylesheet string
}

// Chapter looks up a parsed chapter by id.
func (b *Body) Chapter(id string) (ChapterBody, bool) {
	c, ok := b.Chapters[id]
	return c, ok
}

var (
	markdown = goldmark.New(goldmark.WithParserOptions(parser.WithAttribute()))

	scriptBlock = regexp.MustCompile(`(?s)^\s*<script>(.*)</script>\s*$`)
	styleBlock  = regexp.MustCompile(`(?s)^\s*<style>(.*)</style>\s*$`)
	atxHeading  = regexp.MustCompile(`^ {0,3}#(\s|$)`)
)

type division struct {
	id     string
	title  string
	lineno int
	script string
}

type lineRange struct {
	from, to int
}

type parseState struct {
	source     []byte
	lines      *lineIndex
	metadata   Metadata
	script     string
	stylesheet string
	ignored    []lineRange
	divisions  []division
	seen       map[string]bool
	// next is the first line not yet covered by a visited block.
	next int
}

// Parse parses a story document. It fails with an invalid-metadata,
// duplicate-id or empty-chapter-id error; no partial body is returned.
func Parse(source string) (*Body, error) {
	p := &parseState{
		metadata: DefaultMetadata(),
		seen:     make(map[string]bool),
	}

	tokenized := source
	if fm, ok := findFrontMatter(source); ok {
		if strings.TrimSpace(fm.content) != "" {
			metadata, err := applyFrontMatter(p.metadata, fm.content)
			if err != nil {
				return nil, err
			}
			p.metadata = metadata
		}
		tokenized = blankLines(source, fm.from, fm.to)
	}

	p.source = []byte(tokenized)
	p.lines = newLineIndex(p.source)

	doc := markdown.Parser().Parse(text.NewReader(p.source))
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Type() != ast.TypeBlock {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			if node.Level == 1 && node.Parent() == doc {
				if err := p.heading(node); err != nil {
					return ast.WalkStop, err
				}
				return ast.WalkSkipChildren, nil
			}
		case *ast.HTMLBlock:
			p.htmlBlock(node)
			return ast.WalkSkipChildren, nil
		}
		p.advance(n)
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}

	return p.body(strings.Split(source, "\n")), nil
}

func (p *parseState) heading(node *ast.Heading) error {
	segments := node.Lines()
	lineno := -1
	var title strings.Builder
	for i := 0; i < segments.Len(); i++ {
		seg := segments.At(i)
		if i == 0 {
			lineno = p.lines.of(seg.Start)
		}
		if i > 0 {
			title.WriteByte('\n')
		}
		title.Write(seg.Value(p.source))
	}
	if lineno < 0 {
		lineno = p.findHeadingLine()
	}
	p.next = lineno + 1

	content := strings.TrimSpace(title.String())
	id := content
	if attr, ok := node.AttributeString("id"); ok {
		if explicit := attributeText(attr); explicit != "" {
			id = explicit
		}
	}

	if id == "" {
		return qerrors.ErrEmptyChapterID
	}
	if p.seen[id] {
		return &qerrors.DuplicateIDError{ID: id}
	}
	p.seen[id] = true
	p.divisions = append(p.divisions, division{id: id, title: content, lineno: lineno})
	return nil
}

func (p *parseState) htmlBlock(node *ast.HTMLBlock) {
	segments := node.Lines()
	if segments.Len() == 0 {
		return
	}
	var content strings.Builder
	for i := 0; i < segments.Len(); i++ {
		seg := segments.At(i)
		content.Write(seg.Value(p.source))
	}
	last := segments.At(segments.Len() - 1)
	if node.HasClosure() {
		content.Write(node.ClosureLine.Value(p.source))
		last = node.ClosureLine
	}
	block := lineRange{from: p.lines.of(segments.At(0).Start), to: p.lines.of(last.Start) + 1}
	if block.to > p.next {
		p.next = block.to
	}

	raw := content.String()
	if m := scriptBlock.FindStringSubmatch(raw); m != nil {
		script := strings.TrimSpace(m[1])
		if script == "" {
			return
		}
		if len(p.divisions) == 0 {
			p.script = script
		} else {
			p.divisions[len(p.divisions)-1].script = script
		}
		p.ignored = append(p.ignored, block)
	} else if m := styleBlock.FindStringSubmatch(raw); m != nil {
		p.stylesheet += strings.TrimSpace(m[1])
		p.ignored = append(p.ignored, block)
	}
}

// advance moves the line cursor past a block that carries source lines.
func (p *parseState) advance(n ast.Node) {
	segments := n.Lines()
	if segments.Len() == 0 {
		return
	}
	if end := p.lines.of(segments.At(segments.Len()-1).Start) + 1; end > p.next {
		p.next = end
	}
}

// findHeadingLine locates a heading without text segments, such as a bare
// `#` line, by scanning forward from the line cursor.
func (p *parseState) findHeadingLine() int {
	for i := p.next; i < p.lines.count(); i++ {
		if atxHeading.Match(p.lines.line(p.source, i)) {
			return i
		}
	}
	return p.next
}

func (p *parseState) isIgnored(line int) bool {
	for _, r := range p.ignored {
		if line >= r.from && line < r.to {
			return true
		}
	}
	return false
}

func (p *parseState) body(lines []string) *Body {
	body := &Body{
		Metadata:   p.metadata,
		Order:      make([]string, 0, len(p.divisions)),
		Chapters:   make(map[string]ChapterBody, len(p.divisions)),
		Script:     p.script,
		Stylesheet: p.stylesheet,
	}

	for i, d := range p.divisions {
		end := len(lines)
		if i+1 < len(p.divisions) {
			end = p.divisions[i+1].lineno
		}
		kept := make([]string, 0, end-d.lineno)
		for ln := d.lineno; ln < end && ln < len(lines); ln++ {
			if !p.isIgnored(ln) {
				kept = append(kept, lines[ln])
			}
		}
		body.Order = append(body.Order, d.id)
		body.Chapters[d.id] = ChapterBody{
			Title:    d.title,
			Template: strings.Join(kept, "\n"),
			Script:   d.script,
		}
	}
	if len(body.Order) > 0 {
		body.Entry = body.Order[0]
	}
	return body
}

func attributeText(v any) string {
	switch x := v.(type) {
	case []byte:
		return strings.TrimSpace(string(x))
	case string:
		return strings.TrimSpace(x)
	}
	return ""
}

// lineIndex maps byte offsets to zero-based line numbers.
type lineIndex struct {
	starts []int
}

func newLineIndex(src []byte) *lineIndex {
	starts := []int{0}
	for i, b := range src {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &lineIndex{starts: starts}
}

func (l *lineIndex) of(offset int) int {
	return sort.Search(len(l.starts), func(i int) bool { return l.starts[i] > offset }) - 1
}

func (l *lineIndex) count() int {
	return len(l.starts)
}

func (l *lineIndex) line(src []byte, i int) []byte {
	end := len(src)
	if i+1 < len(l.starts) {
		end = l.starts[i+1] - 1
	}
	return src[l.starts[i]:end]
}
