package binding

import (
	"context"
	"strings"
)

// FieldDescriptor is one query field advertised by the upstream schema.
type FieldDescriptor struct {
	Name string   `json:"name"`
	Args []string `json:"args,omitempty"`
}

// Introspector lists the fields an entity source can be queried by.
type Introspector interface {
	IntrospectFields(ctx context.Context) ([]FieldDescriptor, error)
}

// ConventionalField returns the field and argument used when nothing better
// is known.
func ConventionalField(model string) (field, arg string) {
	return model + "ById", "_id"
}

// DiscoverField picks the fetch-by-id field for model from fields. It tries,
// in order, an exact "<model>ById", any field named "<model>…byid", and a
// field named after the model or its plural.
func DiscoverField(fields []FieldDescriptor, model string) (field, arg string, ok bool) {
	want, _ := ConventionalField(model)
	lm := strings.ToLower(model)

	match := func(pred func(name string) bool) (FieldDescriptor, bool) {
		for _, f := range fields {
			if pred(f.Name) {
				return f, true
			}
		}
		return FieldDescriptor{}, false
	}

	f, found := match(func(n string) bool { return strings.EqualFold(n, want) })
	if !found {
		f, found = match(func(n string) bool {
			ln := strings.ToLower(n)
			return strings.HasPrefix(ln, lm) && strings.HasSuffix(ln, "byid")
		})
	}
	if !found {
		f, found = match(func(n string) bool {
			return strings.EqualFold(n, model) || strings.EqualFold(n, model+"s")
		})
	}
	if !found {
		return "", "", false
	}
	return f.Name, pickArg(f.Args), true
}

func pickArg(args []string) string {
	for _, pref := range []string{"_id", "id", "path"} {
		for _, a := range args {
			if a == pref {
				return a
			}
		}
	}
	if len(args) > 0 {
		return args[0]
	}
	_, arg := ConventionalField("")
	return arg
}
