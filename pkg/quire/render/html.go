package render

import (
	"strconv"
	"strings"
)

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// attr is an element attribute. Value is a string, a bool or nil; true
// renders the bare name, false and nil omit the attribute.
type attr struct {
	name  string
	value any
}

// escapeAttr replaces < > & ' " with numeric character references.
func escapeAttr(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '<', '>', '&', '\'', '"':
			b.WriteString("&#")
			b.WriteString(strconv.Itoa(int(r)))
			b.WriteByte(';')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func element(tag string, attrs []attr, children string) string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(tag)
	for _, a := range attrs {
		switch v := a.value.(type) {
		case bool:
			if v {
				b.WriteByte(' ')
				b.WriteString(a.name)
			}
		case string:
			b.WriteByte(' ')
			b.WriteString(a.name)
			b.WriteString(`="`)
			b.WriteString(escapeAttr(v))
			b.WriteByte('"')
		}
	}
	b.WriteByte('>')
	if voidElements[tag] {
		return b.String()
	}
	b.WriteString(children)
	b.WriteString("</")
	b.WriteString(tag)
	b.WriteByte('>')
	return b.String()
}
