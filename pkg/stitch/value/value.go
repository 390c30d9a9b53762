// Package value holds the data model shared by the interpreter stages:
// opaque entity records, the scope chain tokens are resolved against, and
// the rules for turning arbitrary values into output text.
package value

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Record is an entity returned by a data source. Records are only ever read
// by field path, never positionally.
type Record map[string]any

// Get resolves a dotted path inside the record.
func (r Record) Get(path string) (any, bool) {
	if r == nil {
		return nil, false
	}
	return Walk(map[string]any(r), strings.Split(path, "."))
}

// Scope is one frame in a chain of name tables. Lookups start at the
// innermost frame and fall back outward.
type Scope struct {
	vars   map[string]any
	parent *Scope
	vault  *Vault
}

// NewScope returns a root scope over vars. A nil map is allowed.
func NewScope(vars map[string]any) *Scope {
	return &Scope{vars: vars}
}

// Push returns a child scope whose frame shadows s.
func (s *Scope) Push(vars map[string]any) *Scope {
	return &Scope{vars: vars, parent: s, vault: s.vault}
}

// WithVault returns a copy of s whose substitutions are held in v. Scopes
// pushed from it share v.
func (s *Scope) WithVault(v *Vault) *Scope {
	return &Scope{vars: s.vars, parent: s.parent, vault: v}
}

// Hold passes substituted text through the scope's vault, if any.
func (s *Scope) Hold(text string) string {
	if s == nil {
		return text
	}
	return s.vault.Hold(text)
}

// Lookup resolves a dotted path. The first segment is searched for in each
// frame from the innermost outward; the remaining segments walk into the
// value found. ok is false when the path is undefined, which is different
// from a defined path holding nil.
func (s *Scope) Lookup(path string) (any, bool) {
	segs := strings.Split(path, ".")
	for sc := s; sc != nil; sc = sc.parent {
		v, found := sc.vars[segs[0]]
		if !found {
			continue
		}
		return Walk(v, segs[1:])
	}
	return nil, false
}

// Walk follows segs into v through maps, records and slices.
func Walk(v any, segs []string) (any, bool) {
	cur := v
	for _, seg := range segs {
		switch c := cur.(type) {
		case map[string]any:
			next, ok := c[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case Record:
			next, ok := c[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case map[string]string:
			next, ok := c[seg]
			if !ok {
				return nil, false
			}
			cur = next
		default:
			items, isSeq := sequence(cur)
			if !isSeq {
				return nil, false
			}
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(items) {
				return nil, false
			}
			cur = items[idx]
		}
	}
	return cur, true
}

// AsMap returns v as a field table when it is an object.
func AsMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Record:
		return map[string]any(m), true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	}
	return nil, false
}

// ToSlice coerces v to a sequence. A non-sequence value becomes a
// one-element sequence and nil becomes an empty one.
func ToSlice(v any) []any {
	if v == nil {
		return nil
	}
	if items, ok := sequence(v); ok {
		return items
	}
	return []any{v}
}

func sequence(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out, true
	case []Record:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out, true
	case string, []byte:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, true
	}
	return nil, false
}

// String coerces any value to output text.
//
// Objects carrying a path-like field render as that path, objects carrying
// rich text render their html (or plaintext) field, sequences concatenate
// their elements without a separator, and everything else falls back to a
// JSON dump.
func String(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case float64:
		return formatFloat(x)
	case float32:
		return formatFloat(float64(x))
	case json.Number:
		return x.String()
	case time.Time:
		return x.Format(time.RFC3339)
	case fmt.Stringer:
		return x.String()
	}

	if m, ok := AsMap(v); ok {
		for _, key := range []string{"_path", "path"} {
			if p, ok := m[key].(string); ok {
				return p
			}
		}
		for _, key := range []string{"html", "plaintext"} {
			if s, ok := m[key].(string); ok {
				return s
			}
		}
		return dump(m)
	}

	if items, ok := sequence(v); ok {
		var sb strings.Builder
		for _, item := range items {
			sb.WriteString(String(item))
		}
		return sb.String()
	}

	return dump(v)
}

func formatFloat(f float64) string {
	if f == float64(int64(f)) && f < 1e15 && f > -1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func dump(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
