// Package runtime expands {{#each}} blocks and substitutes tokens against a
// scope chain.
package runtime

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/sambeau/stitch/pkg/stitch/scanner"
	"github.com/sambeau/stitch/pkg/stitch/value"
)

// DefaultMaxDepth is the deepest each-block nesting that is expanded.
const DefaultMaxDepth = 8

// Evaluator post-processes every expanded item body, so statements inside a
// loop can see the item.
type Evaluator interface {
	Evaluate(seg string, sc *value.Scope) (string, map[string]any)
}

// Options configures an Interpreter.
type Options struct {
	MaxDepth int
	Assign   Evaluator // optional
}

// Interpreter renders segments. It keeps no per-render state.
type Interpreter struct {
	maxDepth int
	assign   Evaluator
}

// New returns an Interpreter.
func New(opts Options) *Interpreter {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	return &Interpreter{maxDepth: opts.MaxDepth, assign: opts.Assign}
}

// Render expands each blocks and tokens in seg. Anything that cannot be
// resolved at sc is copied through verbatim.
func (in *Interpreter) Render(seg string, sc *value.Scope) string {
	return in.render(seg, sc, 0)
}

func (in *Interpreter) render(seg string, sc *value.Scope, depth int) string {
	dirs := scanner.Scan(seg)
	if len(dirs) == 0 {
		return seg
	}

	var sb strings.Builder
	pos := 0
	for i := 0; i < len(dirs); i++ {
		switch d := dirs[i].(type) {
		case *scanner.BlockOpen:
			if d.Kind != scanner.KindEach {
				continue
			}
			j := scanner.MatchClose(dirs, i)
			if j < 0 {
				continue
			}
			closing := dirs[j].Pos()
			v, defined := sc.Lookup(d.Path)
			if !defined || depth >= in.maxDepth {
				i = j
				continue
			}
			sb.WriteString(seg[pos:d.Start])
			sb.WriteString(in.each(seg[d.End:closing.Start], d.Alias, v, sc, depth+1))
			pos = closing.End
			i = j
		case *scanner.Token:
			v, ok := sc.Lookup(d.Path)
			if !ok {
				continue
			}
			sb.WriteString(seg[pos:d.Start])
			sb.WriteString(sc.Hold(Token(v, d.Triple)))
			pos = d.End
		}
	}
	sb.WriteString(seg[pos:])
	return sb.String()
}

func (in *Interpreter) each(body, alias string, v any, sc *value.Scope, depth int) string {
	items := value.ToSlice(v)
	var sb strings.Builder
	for idx, item := range items {
		vars := make(map[string]any)
		if m, ok := value.AsMap(item); ok {
			for k, x := range m {
				vars[k] = x
			}
		}
		vars["this"] = item
		vars["@index"] = idx
		vars["@first"] = idx == 0
		vars["@last"] = idx == len(items)-1
		if alias != "" {
			vars[alias] = item
		}
		child := sc.Push(vars)

		out := in.render(body, child, depth)
		if in.assign != nil {
			out, _ = in.assign.Evaluate(out, child)
		}
		sb.WriteString(out)
	}
	return sb.String()
}

// Token renders a resolved token value: raw for triple delimiters, escaped
// otherwise.
func Token(v any, raw bool) string {
	s := value.String(v)
	if raw {
		return s
	}
	return html.EscapeString(s)
}
