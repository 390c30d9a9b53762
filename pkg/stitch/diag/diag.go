// Package diag provides the structured warning type reported by every stage
// of the stitch pipeline.
//
// A render never aborts for missing business data. Instead each stage
// appends Warnings describing what could not be resolved, so that gaps in
// the rendered preview can be diagnosed without reading the markup.
package diag

import (
	"fmt"
	"strings"
)

// Class categorizes warnings for filtering and display.
type Class string

const (
	ClassConfig   Class = "config"   // A required collaborator is missing
	ClassFetch    Class = "fetch"    // A single fetch failed or returned nothing
	ClassUpstream Class = "upstream" // The data source reported a structural problem
	ClassSyntax   Class = "syntax"   // Directive could not be evaluated
	ClassCycle    Class = "cycle"    // Recursive fragment include
	ClassLimit    Class = "limit"    // A depth or size bound was hit
	ClassData     Class = "data"     // Caller data was rejected or unusable
)

// Stage names the pipeline stage that produced a warning.
type Stage string

const (
	StageFragments Stage = "fragments"
	StageBindings  Stage = "bindings"
	StageCompose   Stage = "compose"
)

// Warning is a single non-fatal diagnostic.
type Warning struct {
	Class   Class  `json:"class"`
	Code    string `json:"code"`          // e.g. "FRAG-0002"
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
	Ref     string `json:"ref,omitempty"` // fragment id, stream key, variable name…
}

// String returns a one-line representation suitable for logs and CLI output.
func (w Warning) String() string {
	var sb strings.Builder
	sb.WriteString(string(w.Stage))
	sb.WriteString(" ")
	sb.WriteString(w.Code)
	if w.Ref != "" {
		sb.WriteString(" [")
		sb.WriteString(w.Ref)
		sb.WriteString("]")
	}
	sb.WriteString(": ")
	sb.WriteString(w.Message)
	return sb.String()
}

// Warnings is an append-only accumulator owned by one render request.
type Warnings []Warning

// Add appends a warning built from a catalog entry.
func (ws *Warnings) Add(code string, ref string, args ...any) {
	*ws = append(*ws, New(code, ref, args...))
}

// Codes returns the warning codes in order, mostly useful in tests.
func (ws Warnings) Codes() []string {
	codes := make([]string, len(ws))
	for i, w := range ws {
		codes[i] = w.Code
	}
	return codes
}

// Has reports whether a warning with the given code was recorded.
func (ws Warnings) Has(code string) bool {
	for _, w := range ws {
		if w.Code == code {
			return true
		}
	}
	return false
}

type entry struct {
	class  Class
	stage  Stage
	format string
}

// catalog holds every warning the pipeline can emit.
var catalog = map[string]entry{
	// Fragment resolver
	"FRAG-0001": {ClassConfig, StageFragments, "fragment store not configured; includes left unresolved"},
	"FRAG-0002": {ClassFetch, StageFragments, "fragment fetch failed: %v"},
	"FRAG-0003": {ClassFetch, StageFragments, "fragment has no content"},
	"FRAG-0004": {ClassCycle, StageFragments, "fragment includes itself (via %s); include left unresolved"},
	"FRAG-0005": {ClassLimit, StageFragments, "maximum fragment depth %d reached with %d include(s) unresolved"},
	"FRAG-0006": {ClassLimit, StageFragments, "%d fragment(s) deferred: more than %d new ids in one pass"},

	// Binding resolver
	"BIND-0001": {ClassData, StageBindings, "stream value rejected: insufficient for model %q"},
	"BIND-0002": {ClassData, StageBindings, "cache value rejected: insufficient for model %q"},
	"BIND-0003": {ClassData, StageBindings, "unknown model %q; binding not hydrated"},
	"BIND-0004": {ClassFetch, StageBindings, "hydration failed: %v"},
	"BIND-0005": {ClassFetch, StageBindings, "hydration returned no record"},
	"BIND-0006": {ClassUpstream, StageBindings, "field introspection failed, using %s convention: %v"},
	"BIND-0007": {ClassConfig, StageBindings, "entity source not configured; %d binding(s) left unresolved"},
	"BIND-0008": {ClassData, StageBindings, "binding has no id; not hydrated"},

	// Composer
	"COMP-0001": {ClassSyntax, StageCompose, "unexpanded block tag removed: %s"},
	"COMP-0002": {ClassSyntax, StageCompose, "unevaluated statement removed: %s"},
	"COMP-0003": {ClassData, StageCompose, "no resolved record for binding %s; tokens left visible"},
}

// New builds a Warning from the catalog. Unknown codes produce a ClassSyntax
// warning carrying the formatted arguments, so a typo never panics.
func New(code string, ref string, args ...any) Warning {
	e, ok := catalog[code]
	if !ok {
		return Warning{Class: ClassSyntax, Code: code, Message: fmt.Sprint(args...), Ref: ref}
	}
	msg := e.format
	if strings.Contains(msg, "%") {
		msg = fmt.Sprintf(e.format, args...)
	}
	return Warning{Class: e.class, Code: code, Stage: e.stage, Message: msg, Ref: ref}
}
