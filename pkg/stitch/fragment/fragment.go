// Package fragment expands {{fragment id="…"}} includes by fetching the
// referenced HTML and splicing it into the document, repeating until no new
// includes appear or the depth bound is reached.
package fragment

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sambeau/stitch/pkg/stitch/diag"
	"github.com/sambeau/stitch/pkg/stitch/pool"
	"github.com/sambeau/stitch/pkg/stitch/scanner"
)

// Defaults used when the matching Options field is zero.
const (
	DefaultMaxDepth    = 5
	DefaultMaxPerPass  = 50
	DefaultConcurrency = 8
)

const markerKind = "fragment"

// Content is what a Fetcher returns for one id. A nil Content field means
// the fragment exists but has nothing to insert.
type Content struct {
	ID      string
	Content *string
}

// Fetcher retrieves fragment bodies by id.
type Fetcher interface {
	FetchFragment(ctx context.Context, id string) (Content, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, id string) (Content, error)

// FetchFragment calls f.
func (f FetcherFunc) FetchFragment(ctx context.Context, id string) (Content, error) {
	return f(ctx, id)
}

// Options bounds the resolver.
type Options struct {
	MaxDepth    int // passes, not nesting levels
	MaxPerPass  int // new ids fetched per pass; the rest wait for the next pass
	Concurrency int
	Logger      *zap.Logger
}

// Result is the outcome of Resolve.
type Result struct {
	Document string
	Resolved []string // ids fetched successfully, in first-fetch order
	Passes   int
	Warnings diag.Warnings
}

// Resolver expands fragment includes. It is safe for concurrent use; all
// per-render state lives inside Resolve.
type Resolver struct {
	fetcher Fetcher
	opts    Options
	log     *zap.Logger
}

// New returns a Resolver. A nil fetcher is allowed: Resolve then leaves the
// document untouched and reports a single warning.
func New(fetcher Fetcher, opts Options) *Resolver {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.MaxPerPass <= 0 {
		opts.MaxPerPass = DefaultMaxPerPass
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{fetcher: fetcher, opts: opts, log: log.Named("fragments")}
}

// Resolve expands includes in doc. Each pass scans the current document,
// fetches ids not seen before (in parallel, bounded by Concurrency) and
// substitutes every include whose content is known. Inserted content is
// wrapped in provenance markers; an include that sits inside a marker for its
// own id is a cycle and stays literal.
func (r *Resolver) Resolve(ctx context.Context, doc string) Result {
	res := Result{Document: doc}
	if r.fetcher == nil {
		if len(scanner.FragmentIncludes(doc)) > 0 {
			res.Warnings.Add("FRAG-0001", "")
		}
		return res
	}

	known := make(map[string]string) // id -> content
	failed := make(map[string]bool)
	cycled := make(map[string]bool)

	for res.Passes < r.opts.MaxDepth {
		if ctx.Err() != nil {
			break
		}
		incs := scanner.FragmentIncludes(doc)
		if len(incs) == 0 {
			break
		}
		res.Passes++

		offsets := make([]int, len(incs))
		for i, inc := range incs {
			offsets[i] = inc.Start
		}
		chains := scanner.Enclosing(doc, markerKind, "id", offsets)

		var fresh []string
		queued := make(map[string]bool)
		for i, inc := range incs {
			id := inc.ID
			if contains(chains[i], id) || failed[id] || queued[id] {
				continue
			}
			if _, ok := known[id]; ok {
				continue
			}
			queued[id] = true
			fresh = append(fresh, id)
		}
		deferred := 0
		if len(fresh) > r.opts.MaxPerPass {
			deferred = len(fresh) - r.opts.MaxPerPass
			res.Warnings.Add("FRAG-0006", "", deferred, r.opts.MaxPerPass)
			fresh = fresh[:r.opts.MaxPerPass]
		}

		outcomes := pool.Run(ctx, fresh, r.opts.Concurrency, r.fetch)
		for i, o := range outcomes {
			id := fresh[i]
			switch {
			case o.Err != nil:
				failed[id] = true
				res.Warnings.Add("FRAG-0002", id, o.Err)
				r.log.Warn("fragment fetch failed", zap.String("id", id), zap.Error(o.Err))
			case o.Value == nil:
				failed[id] = true
				res.Warnings.Add("FRAG-0003", id)
			default:
				known[id] = *o.Value
				res.Resolved = append(res.Resolved, id)
			}
		}

		var sb strings.Builder
		pos, substituted := 0, 0
		for i, inc := range incs {
			if contains(chains[i], inc.ID) {
				if !cycled[inc.ID] {
					cycled[inc.ID] = true
					res.Warnings.Add("FRAG-0004", inc.ID, strings.Join(chains[i], " > "))
				}
				continue
			}
			body, ok := known[inc.ID]
			if !ok {
				continue
			}
			sb.WriteString(doc[pos:inc.Start])
			sb.WriteString(scanner.OpenMarker(markerKind, "id", inc.ID))
			sb.WriteString(body)
			sb.WriteString(scanner.CloseMarker(markerKind))
			pos = inc.End
			substituted++
		}
		r.log.Debug("fragment pass",
			zap.Int("pass", res.Passes),
			zap.Int("includes", len(incs)),
			zap.Int("fetched", len(fresh)),
			zap.Int("substituted", substituted),
			zap.Int("deferred", deferred))
		if substituted == 0 {
			// deferred ids are still owed a fetch on a later pass
			if deferred == 0 {
				break
			}
			continue
		}
		sb.WriteString(doc[pos:])
		next := sb.String()
		if next == doc {
			break
		}
		doc = next
	}

	if res.Passes >= r.opts.MaxDepth {
		remaining := 0
		for _, inc := range scanner.FragmentIncludes(doc) {
			if !failed[inc.ID] {
				remaining++
			}
		}
		if remaining > 0 {
			res.Warnings.Add("FRAG-0005", "", r.opts.MaxDepth, remaining)
		}
	}
	res.Document = doc
	return res
}

func (r *Resolver) fetch(ctx context.Context, id string) (*string, error) {
	c, err := r.fetcher.FetchFragment(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.Content, nil
}

func contains(ids []string, id string) bool {
	for _, s := range ids {
		if s == id {
			return true
		}
	}
	return false
}
