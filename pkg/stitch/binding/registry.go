package binding

import (
	"github.com/sambeau/stitch/pkg/stitch/value"
)

// Rule decides whether a caller-supplied record is complete enough to use
// without a live fetch.
type Rule func(rec value.Record) bool

// Model describes one binding target.
type Model struct {
	Name       string
	Namespace  string // composer walk that consumes this model's records
	Primary    bool   // drives style derivation
	Sufficient Rule
}

// Registry is the ordered set of known models. Order matters: the composer
// walks namespaces in registration order.
type Registry struct {
	models []Model
	index  map[string]int
}

// NewRegistry returns a registry holding models in the order given.
func NewRegistry(models ...Model) *Registry {
	r := &Registry{index: make(map[string]int)}
	for _, m := range models {
		r.Register(m)
	}
	return r
}

// DefaultRegistry knows the two models every template uses: promotional
// content and the brand properties record.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Model{Name: "content", Namespace: "content", Primary: true, Sufficient: ContentSufficient},
		Model{Name: "properties", Namespace: "properties", Sufficient: PropertiesSufficient},
	)
}

// Register adds m, or replaces the model of the same name in place.
func (r *Registry) Register(m Model) {
	if m.Namespace == "" {
		m.Namespace = m.Name
	}
	if m.Sufficient == nil {
		m.Sufficient = NonEmpty
	}
	if i, ok := r.index[m.Name]; ok {
		r.models[i] = m
		return
	}
	r.index[m.Name] = len(r.models)
	r.models = append(r.models, m)
}

// Lookup returns the model called name.
func (r *Registry) Lookup(name string) (Model, bool) {
	if r == nil {
		return Model{}, false
	}
	i, ok := r.index[name]
	if !ok {
		return Model{}, false
	}
	return r.models[i], true
}

// Models returns a copy of the registered models in order.
func (r *Registry) Models() []Model {
	return append([]Model(nil), r.models...)
}

// Namespaces returns the distinct namespaces in registration order.
func (r *Registry) Namespaces() []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range r.models {
		if !seen[m.Namespace] {
			seen[m.Namespace] = true
			out = append(out, m.Namespace)
		}
	}
	return out
}

// Primary returns the first model flagged primary.
func (r *Registry) Primary() (Model, bool) {
	for _, m := range r.models {
		if m.Primary {
			return m, true
		}
	}
	return Model{}, false
}

// RequireFields tightens the model's rule so that every path must also be
// present and non-empty. Unknown models are registered with only that rule.
func (r *Registry) RequireFields(model string, paths ...string) {
	if len(paths) == 0 {
		return
	}
	m, ok := r.Lookup(model)
	if !ok {
		r.Register(Model{Name: model, Sufficient: Fields(paths...)})
		return
	}
	m.Sufficient = All(m.Sufficient, Fields(paths...))
	r.Register(m)
}

// metaKeys are reference fields every record carries; a record with only
// these is a stub, not content.
var metaKeys = map[string]bool{"_id": true, "_path": true, "_model": true, "id": true}

// ContentSufficient accepts a record with at least one field beyond the
// reference metadata.
func ContentSufficient(rec value.Record) bool {
	for k := range rec {
		if !metaKeys[k] {
			return true
		}
	}
	return false
}

// PropertiesSufficient requires a style object and a non-empty brands list.
func PropertiesSufficient(rec value.Record) bool {
	style, ok := rec.Get("style")
	if !ok {
		return false
	}
	if _, ok := value.AsMap(style); !ok {
		return false
	}
	brands, ok := rec.Get("brands")
	if !ok || brands == nil {
		return false
	}
	return len(value.ToSlice(brands)) > 0
}

// NonEmpty accepts any record with at least one field.
func NonEmpty(rec value.Record) bool { return len(rec) > 0 }

// Fields accepts records where every path resolves to a non-empty value.
func Fields(paths ...string) Rule {
	return func(rec value.Record) bool {
		for _, p := range paths {
			v, ok := rec.Get(p)
			if !ok || isEmpty(v) {
				return false
			}
		}
		return true
	}
}

// All combines rules; every one must accept.
func All(rules ...Rule) Rule {
	return func(rec value.Record) bool {
		for _, rule := range rules {
			if rule != nil && !rule(rec) {
				return false
			}
		}
		return true
	}
}

func isEmpty(v any) bool {
	switch v := v.(type) {
	case nil:
		return true
	case string:
		return v == ""
	}
	if m, ok := value.AsMap(v); ok {
		return len(m) == 0
	}
	if s := value.ToSlice(v); len(s) == 0 {
		return true
	}
	return false
}
