// Package compose turns a stitched document and its resolved bindings into
// preview markup. Stages run in a fixed order: binding markers, rich blocks,
// style contexts, one walk per namespace, then sanitization.
package compose

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sambeau/stitch/pkg/stitch/assign"
	"github.com/sambeau/stitch/pkg/stitch/binding"
	"github.com/sambeau/stitch/pkg/stitch/diag"
	"github.com/sambeau/stitch/pkg/stitch/runtime"
	"github.com/sambeau/stitch/pkg/stitch/scanner"
	"github.com/sambeau/stitch/pkg/stitch/value"
)

const (
	bindingKind = "binding"

	DefaultStyleModel    = "properties"
	DefaultOverrideField = "styleOverride"
)

// Options configures a Composer.
type Options struct {
	Registry      *binding.Registry
	MaxBlockDepth int
	Locale        string
	StyleModel    string // model whose records carry style and brands
	OverrideField string // field on primary records overriding the style
	Logger        *zap.Logger
}

// Input is one composition job.
type Input struct {
	Document    string // stitched, bindings still in place
	Occurrences []binding.Occurrence
	Params      map[string]any
}

// Output is the composed document and what went wrong along the way.
type Output struct {
	Document   string
	References []string
	Warnings   diag.Warnings
}

// Composer runs the rendering stages. It keeps no per-render state.
type Composer struct {
	registry      *binding.Registry
	interp        *runtime.Interpreter
	assign        *assign.Evaluator
	styleModel    string
	overrideField string
	log           *zap.Logger
}

// New returns a Composer.
func New(opts Options) *Composer {
	if opts.Registry == nil {
		opts.Registry = binding.DefaultRegistry()
	}
	if opts.StyleModel == "" {
		opts.StyleModel = DefaultStyleModel
	}
	if opts.OverrideField == "" {
		opts.OverrideField = DefaultOverrideField
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ev := assign.New(assign.Options{Locale: opts.Locale, Logger: log})
	return &Composer{
		registry:      opts.Registry,
		interp:        runtime.New(runtime.Options{MaxDepth: opts.MaxBlockDepth, Assign: ev}),
		assign:        ev,
		styleModel:    opts.StyleModel,
		overrideField: opts.OverrideField,
		log:           log.Named("compose"),
	}
}

// Compose renders in. The result is a pure function of the input.
func (c *Composer) Compose(in Input) Output {
	var out Output

	doc, occs := markBindings(in.Document, in.Occurrences)

	var r refs
	doc = expandRich(doc, &r)
	out.References = r.labels

	base, styles := c.styles(occs)

	// Substituted values stay held until the end so no later walk, loop
	// body or sanitize pass reads data as template syntax.
	vault := &value.Vault{}
	for _, ns := range c.registry.Namespaces() {
		doc = c.walk(doc, ns, occs, in.Params, base, styles, vault, &out.Warnings)
	}

	doc, ws := Sanitize(doc)
	out.Warnings = append(out.Warnings, ws...)
	out.Document = vault.Restore(doc)
	c.log.Debug("composed",
		zap.Int("bindings", len(occs)),
		zap.Int("references", len(out.References)),
		zap.Int("warnings", len(out.Warnings)))
	return out
}

// markBindings swaps each binding directive for an ordinal marker so that
// every later stage sees stable positions that no substitution can shift.
func markBindings(doc string, occs []binding.Occurrence) (string, []placed) {
	bindings := scanner.Bindings(doc)
	placedOccs := make([]placed, len(bindings))

	var sb strings.Builder
	pos := 0
	for i, b := range bindings {
		p := placed{Index: i, Model: b.Model, StreamKey: binding.StreamKey(i, b.Model)}
		if i < len(occs) && occs[i].Status == binding.StatusResolved {
			p.Record = occs[i].Value
		}
		placedOccs[i] = p

		sb.WriteString(doc[pos:b.Start])
		sb.WriteString(scanner.OpenMarker(bindingKind, "index", strconv.Itoa(i), "model", b.Model))
		pos = b.End
	}
	sb.WriteString(doc[pos:])
	return sb.String(), placedOccs
}

// walk renders doc once for namespace ns. The document is cut at the
// markers of ns's models; each segment is rendered against the record of
// the marker that opens it, or with no record before the first marker.
func (c *Composer) walk(doc, ns string, occs []placed, params map[string]any,
	base map[string]any, styles map[int]map[string]any, vault *value.Vault, ws *diag.Warnings) string {

	inNS := make(map[string]bool)
	for _, m := range c.registry.Models() {
		if m.Namespace == ns {
			inNS[m.Name] = true
		}
	}
	primary, _ := c.registry.Primary()

	type cut struct {
		start int
		occ   *placed
		style map[string]any
	}
	cuts := []cut{{start: 0, style: base}}
	style := base
	for _, mk := range scanner.Markers(doc) {
		if mk.Kind != bindingKind || mk.Closing {
			continue
		}
		idx, err := strconv.Atoi(mk.Attrs["index"])
		if err != nil || idx < 0 || idx >= len(occs) {
			continue
		}
		o := &occs[idx]
		if o.Model == primary.Name {
			style = styles[idx]
		}
		if inNS[o.Model] {
			cuts = append(cuts, cut{start: mk.Start, occ: o, style: style})
		}
	}
	var sb strings.Builder
	for i, ct := range cuts {
		end := len(doc)
		if i+1 < len(cuts) {
			end = cuts[i+1].start
		}
		seg := doc[ct.start:end]

		vars := make(map[string]any)
		if ct.occ != nil && ct.occ.Record != nil {
			for k, v := range ct.occ.Record {
				vars[k] = v
			}
			vars[ns] = map[string]any(ct.occ.Record)
		}
		if params != nil {
			vars["params"] = params
		}
		if ct.style != nil {
			vars["style"] = ct.style
		}
		sc := value.NewScope(vars).WithVault(vault)

		rendered := c.interp.Render(seg, sc)
		rendered, _ = c.assign.Evaluate(rendered, sc)
		if ct.occ != nil && ct.occ.Record == nil && hasTokensUnder(rendered, ns) {
			ws.Add("COMP-0003", ct.occ.StreamKey, ct.occ.StreamKey)
		}
		sb.WriteString(rendered)
	}
	return sb.String()
}

// hasTokensUnder reports whether s still holds a token rooted at ns.
func hasTokensUnder(s, ns string) bool {
	for _, d := range scanner.Scan(s) {
		t, ok := d.(*scanner.Token)
		if !ok {
			continue
		}
		if root, _, _ := strings.Cut(t.Path, "."); root == ns {
			return true
		}
	}
	return false
}
