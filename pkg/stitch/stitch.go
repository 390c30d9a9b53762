// Package stitch renders marketing-email templates. A render stitches
// fragment includes into the document, resolves its data bindings and
// composes preview markup, collecting warnings instead of failing wherever
// data is missing.
//
//	eng := stitch.New(stitch.Config{Fragments: store, Entities: client})
//	res, err := eng.Render(ctx, stitch.Request{Document: tmpl})
package stitch

import (
	"context"

	"go.uber.org/zap"

	"github.com/sambeau/stitch/pkg/stitch/binding"
	"github.com/sambeau/stitch/pkg/stitch/compose"
	"github.com/sambeau/stitch/pkg/stitch/diag"
	"github.com/sambeau/stitch/pkg/stitch/fragment"
	"github.com/sambeau/stitch/pkg/stitch/value"
)

// Config wires an Engine to its collaborators. Every field is optional.
type Config struct {
	Fragments fragment.Fetcher
	Entities  binding.Fetcher
	Registry  *binding.Registry

	MaxFragmentDepth     int
	MaxFragmentsPerPass  int
	FragmentConcurrency  int
	HydrationConcurrency int
	BatchSize            int
	EnableIntrospection  bool
	MaxBlockDepth        int
	Locale               string
	StyleOverrideField   string

	Logger *zap.Logger
}

// Request is one render call. Zero values fall back to the engine's
// configuration.
type Request struct {
	Document             string                  `json:"document"`
	Stream               []binding.StreamValue   `json:"callerStream,omitempty"`
	Cache                map[string]value.Record `json:"callerCache,omitempty"`
	AllowHydration       *bool                   `json:"allowHydration,omitempty"`
	MaxFragmentDepth     int                     `json:"maxFragmentDepth,omitempty"`
	FragmentConcurrency  int                     `json:"fragmentConcurrency,omitempty"`
	HydrationConcurrency int                     `json:"hydrationConcurrency,omitempty"`
	EnableIntrospection  *bool                   `json:"enableIntrospection,omitempty"`
	Locale               string                  `json:"locale,omitempty"`
	Params               map[string]any          `json:"params,omitempty"`
}

// Result is what a render produced.
type Result struct {
	StitchedDocument  string               `json:"stitchedDocument"`
	RenderedDocument  string               `json:"renderedDocument"`
	FragmentsResolved []string             `json:"fragmentsResolved"`
	Bindings          []binding.Occurrence `json:"bindingOccurrences"`
	References        []string             `json:"references,omitempty"`
	Warnings          diag.Warnings        `json:"warnings"`
	Counters          binding.Counters     `json:"counters"`
}

// Engine runs renders. It is safe for concurrent use.
type Engine struct {
	cfg Config
	log *zap.Logger
}

// New returns an Engine.
func New(cfg Config) *Engine {
	if cfg.Registry == nil {
		cfg.Registry = binding.DefaultRegistry()
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{cfg: cfg, log: log}
}

// Registry returns the model registry the engine resolves against.
func (e *Engine) Registry() *binding.Registry { return e.cfg.Registry }

// Render runs fragments, bindings and composition in that order. The error
// is non-nil only when a batch call to the entity source failed as a whole.
func (e *Engine) Render(ctx context.Context, req Request) (*Result, error) {
	res, br, err := e.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	comp := compose.New(compose.Options{
		Registry:      e.cfg.Registry,
		MaxBlockDepth: e.cfg.MaxBlockDepth,
		Locale:        pickString(req.Locale, e.cfg.Locale),
		OverrideField: e.cfg.StyleOverrideField,
		Logger:        e.log,
	})
	out := comp.Compose(compose.Input{
		Document:    res.StitchedDocument,
		Occurrences: br.Occurrences,
		Params:      req.Params,
	})
	res.RenderedDocument = out.Document
	res.References = out.References
	res.Warnings = append(res.Warnings, out.Warnings...)

	e.log.Info("render complete",
		zap.Int("fragments", len(res.FragmentsResolved)),
		zap.Int("bindings", br.Counters.TotalBindings),
		zap.Int("stream_hits", br.Counters.StreamHits),
		zap.Int("cache_hits", br.Counters.CacheHits),
		zap.Int("hydrated", br.Counters.HydratedCount),
		zap.Int("warnings", len(res.Warnings)))
	return res, nil
}

// Scan stitches fragments and classifies bindings against the caller's
// stream and cache, without hydrating or composing. RenderedDocument is
// left empty.
func (e *Engine) Scan(ctx context.Context, req Request) (*Result, error) {
	no := false
	req.AllowHydration = &no
	res, _, err := e.resolve(ctx, req)
	return res, err
}

func (e *Engine) resolve(ctx context.Context, req Request) (*Result, *binding.Result, error) {
	frag := fragment.New(e.cfg.Fragments, fragment.Options{
		MaxDepth:    pick(req.MaxFragmentDepth, e.cfg.MaxFragmentDepth),
		MaxPerPass:  e.cfg.MaxFragmentsPerPass,
		Concurrency: pick(req.FragmentConcurrency, e.cfg.FragmentConcurrency),
		Logger:      e.log,
	})
	fr := frag.Resolve(ctx, req.Document)

	introspect := e.cfg.EnableIntrospection
	if req.EnableIntrospection != nil {
		introspect = *req.EnableIntrospection
	}
	bind := binding.New(e.cfg.Entities, binding.Options{
		Registry:    e.cfg.Registry,
		Concurrency: pick(req.HydrationConcurrency, e.cfg.HydrationConcurrency),
		BatchSize:   e.cfg.BatchSize,
		Introspect:  introspect,
		Logger:      e.log,
	})
	allow := true
	if req.AllowHydration != nil {
		allow = *req.AllowHydration
	}
	br, err := bind.Resolve(ctx, fr.Document, binding.Inputs{
		Stream:         req.Stream,
		Cache:          req.Cache,
		AllowHydration: allow,
	})
	if err != nil {
		return nil, nil, err
	}

	res := &Result{
		StitchedDocument:  fr.Document,
		FragmentsResolved: fr.Resolved,
		Bindings:          br.Occurrences,
		Counters:          br.Counters,
	}
	if res.FragmentsResolved == nil {
		res.FragmentsResolved = []string{}
	}
	res.Warnings = append(res.Warnings, fr.Warnings...)
	res.Warnings = append(res.Warnings, br.Warnings...)
	return res, br, nil
}

func pick(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func pickString(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
