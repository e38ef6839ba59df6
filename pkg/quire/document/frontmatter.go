package document

import "strings"

const frontMatterFence = "---"

type frontMatterBlock struct {
	content string
	// from and to delimit the block's lines, fences included; to is exclusive.
	from, to int
}

// findFrontMatter recognizes a YAML block fenced by `---` lines at the very
// start of the document.
func findFrontMatter(source string) (frontMatterBlock, bool) {
	lines := strings.Split(source, "\n")
	if len(lines) < 2 || !isFence(lines[0]) {
		return frontMatterBlock{}, false
	}
	for i := 1; i < len(lines); i++ {
		if isFence(lines[i]) {
			return frontMatterBlock{
				content: strings.Join(lines[1:i], "\n"),
				from:    0,
				to:      i + 1,
			}, true
		}
	}
	return frontMatterBlock{}, false
}

func isFence(line string) bool {
	return strings.TrimRight(line, " \t\r") == frontMatterFence
}

// blankLines empties lines [from, to) while keeping the line count, so line
// numbers computed on the result match the original text.
func blankLines(source string, from, to int) string {
	lines := strings.Split(source, "\n")
	for i := from; i < to && i < len(lines); i++ {
		lines[i] = ""
	}
	return strings.Join(lines, "\n")
}
