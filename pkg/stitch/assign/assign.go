// Package assign evaluates {% let %} and {% assign %} statements and
// substitutes the resulting variables into the segment.
package assign

import (
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/sambeau/stitch/pkg/stitch/scanner"
	"github.com/sambeau/stitch/pkg/stitch/value"
)

// Filter transforms a piped value. args are already evaluated.
type Filter func(in any, args []any) any

// Options configures an Evaluator.
type Options struct {
	Locale string // default locale for the date filter, e.g. "en-US"
	Logger *zap.Logger
}

// Evaluator runs assignment statements. It holds no per-render state.
type Evaluator struct {
	locale  Locale
	filters map[string]Filter
	log     *zap.Logger
}

// New returns an Evaluator with the built-in filters.
func New(opts Options) *Evaluator {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	e := &Evaluator{
		locale: ParseLocale(opts.Locale),
		log:    log.Named("assign"),
	}
	e.filters = map[string]Filter{
		"date": e.dateFilter,
	}
	return e
}

// Evaluate runs every statement in seg in document order against sc plus the
// variables defined so far, removes the statements it could evaluate and
// substitutes {{name}} and {{{name}}} tokens rooted at a defined variable.
// A statement whose expression is undefined stays in place.
func (e *Evaluator) Evaluate(seg string, sc *value.Scope) (string, map[string]any) {
	vars := make(map[string]any)
	dirs := scanner.Scan(seg)

	local := sc.Push(vars)
	done := make(map[int]bool)
	for i, d := range dirs {
		a, ok := d.(*scanner.Assignment)
		if !ok {
			continue
		}
		v, ok := e.eval(a.Expr, local)
		if !ok {
			e.log.Debug("statement left for a later pass", zap.String("name", a.Name), zap.String("expr", a.Expr))
			continue
		}
		vars[a.Name] = v
		done[i] = true
	}
	if len(done) == 0 {
		return seg, vars
	}

	own := value.NewScope(vars)
	var sb strings.Builder
	pos := 0
	for i, d := range dirs {
		sp := d.Pos()
		switch d := d.(type) {
		case *scanner.Assignment:
			if !done[i] {
				continue
			}
			sb.WriteString(seg[pos:sp.Start])
			pos = sp.End
		case *scanner.Token:
			root, _, _ := strings.Cut(d.Path, ".")
			if _, defined := vars[root]; !defined {
				continue
			}
			v, ok := own.Lookup(d.Path)
			if !ok {
				continue
			}
			sb.WriteString(seg[pos:sp.Start])
			sb.WriteString(sc.Hold(renderToken(v, d.Triple)))
			pos = sp.End
		}
	}
	sb.WriteString(seg[pos:])
	return sb.String(), vars
}

func renderToken(v any, raw bool) string {
	s := value.String(v)
	if raw {
		return s
	}
	return html.EscapeString(s)
}

// eval evaluates expr := primary ("|" filter)*. The bool is false when the
// primary is an undefined path or cannot be parsed.
func (e *Evaluator) eval(expr string, sc *value.Scope) (any, bool) {
	parts := splitOutside(expr, '|')
	v, ok := e.primary(strings.TrimSpace(parts[0]), sc)
	if !ok {
		return nil, false
	}
	for _, p := range parts[1:] {
		name, rest, _ := strings.Cut(strings.TrimSpace(p), ":")
		name = strings.TrimSpace(name)
		f, known := e.filters[name]
		if !known {
			continue
		}
		var args []any
		if strings.TrimSpace(rest) != "" {
			for _, a := range splitOutside(rest, ',') {
				av, _ := e.primary(strings.TrimSpace(a), sc)
				args = append(args, av)
			}
		}
		v = f(v, args)
	}
	return v, true
}

func (e *Evaluator) primary(s string, sc *value.Scope) (any, bool) {
	if s == "" {
		return nil, false
	}
	switch s {
	case "true":
		return true, true
	case "false":
		return false, true
	case "null", "nil":
		return nil, true
	}
	if s[0] == '"' || s[0] == '\'' {
		return unquote(s)
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n, true
	}
	if scanner.IsPath(s) {
		return sc.Lookup(s)
	}
	return nil, false
}

func unquote(s string) (string, bool) {
	q := s[0]
	if len(s) < 2 || s[len(s)-1] != q {
		return "", false
	}
	var sb strings.Builder
	for i := 1; i < len(s)-1; i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s)-1 {
			i++
			c = s[i]
		} else if c == q {
			return "", false
		}
		sb.WriteByte(c)
	}
	return sb.String(), true
}

// splitOutside splits s at sep, ignoring separators inside quotes.
func splitOutside(s string, sep byte) []string {
	var out []string
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == sep:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}
