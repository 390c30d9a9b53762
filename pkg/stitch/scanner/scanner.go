// Package scanner finds the inline directive tags embedded in an email
// template without building a DOM.
//
// Three delimiter shapes are recognised: double tags {{ … }}, triple tags
// {{{ … }}} and statement tags {% … %}. The contents of a tag decide which
// Directive it becomes. Anything that does not match a known shape is left
// alone as plain text; Scan never fails.
package scanner

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Span locates a directive in the scanned document. Start and End are byte
// offsets ([Start, End)); Source is the tag exactly as written.
type Span struct {
	Start  int
	End    int
	Source string
}

// Pos returns the span itself; it lets every directive satisfy Directive.
func (s Span) Pos() Span { return s }

// Directive is one parsed tag occurrence.
type Directive interface {
	Pos() Span
}

// FragmentInclude is {{fragment id="…"}}.
type FragmentInclude struct {
	Span
	ID    string
	Extra map[string]string
}

// DataBinding is {{binding model="…" id="…"}}.
type DataBinding struct {
	Span
	Model string
	ID    string
	Extra map[string]string
}

// BlockOpen opens an each or rich block.
type BlockOpen struct {
	Span
	Kind  string            // "each" or "rich"
	Path  string            // each: the iterated path
	Alias string            // each: optional |alias|
	Attrs map[string]string // rich: style and friends
}

// BlockClose is {{/each}} or {{/rich}}.
type BlockClose struct {
	Span
	Kind string
}

// Assignment is {% let name = expr %} or {% assign name = expr %}.
type Assignment struct {
	Span
	Keyword string
	Name    string
	Expr    string
}

// Token is a substitution: {{path}} is escaped, {{{path}}} is raw.
type Token struct {
	Span
	Path   string
	Triple bool
}

// Reference is {{ref "text"}}, numbered inside rich blocks.
type Reference struct {
	Span
	Label string
}

// ReferenceList is {{references}}.
type ReferenceList struct {
	Span
}

// Block kinds understood by the scanner.
const (
	KindEach = "each"
	KindRich = "rich"
)

// reserved words never become substitution tokens.
var reserved = map[string]bool{
	"fragment":   true,
	"binding":    true,
	"ref":        true,
	"references": true,
}

// Scan returns every directive in doc, ordered by start offset.
func Scan(doc string) []Directive {
	var out []Directive
	i := 0
	for i < len(doc) {
		j := strings.IndexByte(doc[i:], '{')
		if j < 0 {
			break
		}
		i += j
		if i+1 >= len(doc) {
			break
		}

		var d Directive
		var end int
		switch doc[i+1] {
		case '{':
			if strings.HasPrefix(doc[i:], "{{{") {
				d, end = scanTriple(doc, i)
			}
			if d == nil {
				d, end = scanDouble(doc, i)
			}
		case '%':
			d, end = scanStatement(doc, i)
		}

		if d != nil {
			out = append(out, d)
			i = end
			continue
		}
		i++
	}
	return out
}

func scanTriple(doc string, start int) (Directive, int) {
	k := strings.Index(doc[start+3:], "}}}")
	if k < 0 {
		return nil, 0
	}
	end := start + 3 + k + 3
	inner := strings.TrimSpace(doc[start+3 : start+3+k])
	if !IsPath(inner) || reserved[inner] {
		return nil, 0
	}
	return &Token{Span: span(doc, start, end), Path: inner, Triple: true}, end
}

func scanDouble(doc string, start int) (Directive, int) {
	k := strings.Index(doc[start+2:], "}}")
	if k < 0 {
		return nil, 0
	}
	end := start + 2 + k + 2
	inner := strings.TrimSpace(doc[start+2 : start+2+k])
	if inner == "" {
		return nil, 0
	}
	sp := span(doc, start, end)

	switch inner[0] {
	case '#':
		return parseOpen(sp, strings.TrimSpace(inner[1:])), end
	case '/':
		kind := strings.TrimSpace(inner[1:])
		if kind != KindEach && kind != KindRich {
			return nil, 0
		}
		return &BlockClose{Span: sp, Kind: kind}, end
	}

	word, rest := splitWord(inner)
	switch word {
	case "fragment":
		attrs, ok := parseAttrs(rest)
		if !ok || attrs["id"] == "" {
			return nil, 0
		}
		id := attrs["id"]
		delete(attrs, "id")
		return &FragmentInclude{Span: sp, ID: id, Extra: attrs}, end
	case "binding":
		attrs, ok := parseAttrs(rest)
		if !ok || attrs["model"] == "" {
			return nil, 0
		}
		b := &DataBinding{Span: sp, Model: attrs["model"], ID: attrs["id"]}
		delete(attrs, "model")
		delete(attrs, "id")
		b.Extra = attrs
		return b, end
	case "ref":
		label, ok := unquote(strings.TrimSpace(rest))
		if !ok {
			return nil, 0
		}
		return &Reference{Span: sp, Label: label}, end
	case "references":
		if rest != "" {
			return nil, 0
		}
		return &ReferenceList{Span: sp}, end
	}

	if !IsPath(inner) {
		return nil, 0
	}
	return &Token{Span: sp, Path: inner}, end
}

// parseOpen parses the text after '#'. A nil return (typed as Directive)
// means the opener is malformed.
func parseOpen(sp Span, body string) Directive {
	kind, rest := splitWord(body)
	switch kind {
	case KindEach:
		path, rest := splitWord(rest)
		if !IsPath(path) {
			return nil
		}
		open := &BlockOpen{Span: sp, Kind: KindEach, Path: path}
		if rest == "" {
			return open
		}
		kw, rest := splitWord(rest)
		if kw != "as" {
			return nil
		}
		alias, ok := parseAlias(rest)
		if !ok {
			return nil
		}
		open.Alias = alias
		return open
	case KindRich:
		attrs, ok := parseAttrs(rest)
		if !ok {
			return nil
		}
		return &BlockOpen{Span: sp, Kind: KindRich, Attrs: attrs}
	}
	return nil
}

// parseAlias reads "|name|", tolerating inner spaces.
func parseAlias(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) < 3 || s[0] != '|' || s[len(s)-1] != '|' {
		return "", false
	}
	name := strings.TrimSpace(s[1 : len(s)-1])
	if !isIdent(name) {
		return "", false
	}
	return name, true
}

func scanStatement(doc string, start int) (Directive, int) {
	k := strings.Index(doc[start+2:], "%}")
	if k < 0 {
		return nil, 0
	}
	end := start + 2 + k + 2
	inner := strings.TrimSpace(doc[start+2 : start+2+k])

	kw, rest := splitWord(inner)
	if kw != "let" && kw != "assign" {
		return nil, 0
	}
	eq := strings.IndexByte(rest, '=')
	if eq < 0 {
		return nil, 0
	}
	name := strings.TrimSpace(rest[:eq])
	expr := strings.TrimSpace(rest[eq+1:])
	if !isIdent(name) || expr == "" {
		return nil, 0
	}
	return &Assignment{Span: span(doc, start, end), Keyword: kw, Name: name, Expr: expr}, end
}

func span(doc string, start, end int) Span {
	return Span{Start: start, End: end, Source: doc[start:end]}
}

// splitWord returns the first whitespace-delimited word and the trimmed rest.
func splitWord(s string) (string, string) {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}

// parseAttrs parses key="value" key='value' key=bare key pairs. Keys are
// order-independent; a later duplicate key wins. An unterminated quote makes
// the whole list invalid.
func parseAttrs(s string) (map[string]string, bool) {
	attrs := make(map[string]string)
	i := 0
	for {
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		if i >= len(s) {
			return attrs, true
		}

		ks := i
		for i < len(s) && isKeyByte(s[i]) {
			i++
		}
		if i == ks {
			return nil, false
		}
		key := s[ks:i]

		for i < len(s) && isSpace(s[i]) {
			i++
		}
		if i >= len(s) || s[i] != '=' {
			attrs[key] = ""
			continue
		}
		i++
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		if i >= len(s) {
			return nil, false
		}

		switch q := s[i]; q {
		case '"', '\'':
			j := i + 1
			var sb strings.Builder
			closed := false
			for j < len(s) {
				c := s[j]
				if c == '\\' && j+1 < len(s) {
					sb.WriteByte(s[j+1])
					j += 2
					continue
				}
				if c == q {
					closed = true
					break
				}
				sb.WriteByte(c)
				j++
			}
			if !closed {
				return nil, false
			}
			attrs[key] = sb.String()
			i = j + 1
		default:
			vs := i
			for i < len(s) && !isSpace(s[i]) {
				i++
			}
			attrs[key] = s[vs:i]
		}
	}
}

// unquote accepts a single- or double-quoted literal spanning all of s.
func unquote(s string) (string, bool) {
	if len(s) < 2 {
		return "", false
	}
	q := s[0]
	if (q != '"' && q != '\'') || s[len(s)-1] != q {
		return "", false
	}
	body := s[1 : len(s)-1]
	if !strings.Contains(body, "\\") {
		if strings.IndexByte(body, q) >= 0 {
			return "", false
		}
		return body, true
	}
	var sb strings.Builder
	for i := 0; i < len(body); i++ {
		if body[i] == '\\' && i+1 < len(body) {
			i++
		} else if body[i] == q {
			return "", false
		}
		sb.WriteByte(body[i])
	}
	return sb.String(), true
}

// IsPath reports whether s is a dotted field path such as "offer.items.0.title".
func IsPath(s string) bool {
	if s == "" {
		return false
	}
	for i, seg := range strings.Split(s, ".") {
		if seg == "" {
			return false
		}
		if i > 0 && isDigits(seg) {
			continue
		}
		if !isIdent(seg) {
			return false
		}
	}
	return true
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '$' || unicode.IsLetter(r):
		case r == '@' && i == 0:
		case i > 0 && (r == '-' || unicode.IsDigit(r)):
		default:
			return false
		}
	}
	// "@" on its own is not a name.
	return !(s[0] == '@' && utf8.RuneCountInString(s) == 1)
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isKeyByte(c byte) bool {
	return c == '_' || c == '-' || c == ':' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
