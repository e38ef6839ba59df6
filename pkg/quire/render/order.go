package render

import (
	"sort"
	"strings"

	"github.com/aymerick/raymond/ast"
	"github.com/aymerick/raymond/parser"
)

// orderKey is the hidden hash pair that carries the authored key order of an
// input or set directive. Helpers receive an unordered hash with nil values
// removed, so the order list is also what keeps null pairs visible.
const orderKey = "quire-keys"

// recorded lists the helpers whose hash pairs become captures.
var recorded = map[string]bool{"input": true, "set": true}

type insertion struct {
	pos  int
	text string
}

// annotate adds an orderKey pair in front of the first hash pair of every
// recording directive in source.
func annotate(source string) (string, error) {
	program, err := parser.Parse(source)
	if err != nil {
		return "", err
	}

	var inserts []insertion
	walk(program, func(expr *ast.Expression) {
		if !recorded[expr.HelperName()] || expr.Hash == nil || len(expr.Hash.Pairs) == 0 {
			return
		}
		keys := make([]string, 0, len(expr.Hash.Pairs))
		seen := make(map[string]bool, len(expr.Hash.Pairs))
		for _, pair := range expr.Hash.Pairs {
			if pair.Key == orderKey || seen[pair.Key] {
				continue
			}
			seen[pair.Key] = true
			keys = append(keys, pair.Key)
		}
		inserts = append(inserts, insertion{
			pos:  expr.Hash.Pairs[0].Loc.Pos,
			text: orderKey + `="` + strings.Join(keys, " ") + `" `,
		})
	})
	if len(inserts) == 0 {
		return source, nil
	}

	sort.Slice(inserts, func(i, j int) bool { return inserts[i].pos > inserts[j].pos })
	for _, in := range inserts {
		source = source[:in.pos] + in.text + source[in.pos:]
	}
	return source, nil
}

// walk calls fn for every expression in node, nested ones included.
func walk(node ast.Node, fn func(*ast.Expression)) {
	switch n := node.(type) {
	case *ast.Program:
		if n == nil {
			return
		}
		for _, stmt := range n.Body {
			walk(stmt, fn)
		}
	case *ast.MustacheStatement:
		walk(n.Expression, fn)
	case *ast.BlockStatement:
		walk(n.Expression, fn)
		if n.Program != nil {
			walk(n.Program, fn)
		}
		if n.Inverse != nil {
			walk(n.Inverse, fn)
		}
	case *ast.SubExpression:
		walk(n.Expression, fn)
	case *ast.Expression:
		if n == nil {
			return
		}
		fn(n)
		for _, param := range n.Params {
			walk(param, fn)
		}
		if n.Hash != nil {
			for _, pair := range n.Hash.Pairs {
				walk(pair.Val, fn)
			}
		}
	}
}

// hashKeys returns the hash keys of a recording directive in authored order.
func hashKeys(hash map[string]interface{}) []string {
	raw, ok := hash[orderKey].(string)
	if !ok {
		keys := sortedKeys(hash)
		out := keys[:0]
		for _, k := range keys {
			if k != orderKey {
				out = append(out, k)
			}
		}
		return out
	}
	return strings.Fields(raw)
}
