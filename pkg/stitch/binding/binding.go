// Package binding resolves {{binding}} directives to entity records, taking
// each value from the caller's stream, the caller's cache or a live fetch,
// in that order.
package binding

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/sambeau/stitch/pkg/stitch/diag"
	"github.com/sambeau/stitch/pkg/stitch/pool"
	"github.com/sambeau/stitch/pkg/stitch/scanner"
	"github.com/sambeau/stitch/pkg/stitch/value"
)

// Defaults used when the matching Options field is zero.
const (
	DefaultConcurrency = 4
	DefaultBatchSize   = 20
)

// Query identifies one entity fetch. Field and Arg name the upstream query
// field and its id argument, conventional or discovered.
type Query struct {
	Model string
	ID    string
	Field string
	Arg   string
}

// CacheKey is the caller-cache key for q.
func (q Query) CacheKey() string { return CacheKey(q.Model, q.ID) }

// Fetcher retrieves one entity. A nil record with a nil error means the
// entity does not exist.
type Fetcher interface {
	FetchEntity(ctx context.Context, q Query) (value.Record, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, q Query) (value.Record, error)

// FetchEntity calls f.
func (f FetcherFunc) FetchEntity(ctx context.Context, q Query) (value.Record, error) {
	return f(ctx, q)
}

// BatchFetcher is implemented by sources that can serve many entities in one
// round trip. The returned slice is positional; a nil entry is a miss. An
// error fails the whole batch.
type BatchFetcher interface {
	Fetcher
	FetchEntities(ctx context.Context, qs []Query) ([]value.Record, error)
}

// Source says where an occurrence's value came from.
type Source string

const (
	SourceStream  Source = "stream"
	SourceCache   Source = "cache"
	SourceHydrate Source = "hydrate"
	SourceMiss    Source = "miss"
)

// Status is the final state of an occurrence.
type Status string

const (
	StatusResolved   Status = "resolved"
	StatusUnresolved Status = "unresolved"
)

// Reasons recorded on unresolved occurrences.
const (
	ReasonInsufficient      = "insufficient"
	ReasonMissingID         = "missing id"
	ReasonHydrationDisabled = "hydration disabled"
	ReasonNoSource          = "no entity source"
	ReasonNotFound          = "not found"
	ReasonFetchFailed       = "fetch failed"
)

// StreamValue is a caller-supplied value for one binding position.
type StreamValue struct {
	Index int          `json:"index"`
	Model string       `json:"model"`
	Value value.Record `json:"value"`
}

// Occurrence is one binding directive and its resolution.
type Occurrence struct {
	Index     int               `json:"index"`
	Model     string            `json:"model"`
	ID        string            `json:"id,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
	Start     int               `json:"start"`
	End       int               `json:"end"`
	StreamKey string            `json:"streamKey"`
	CacheKey  string            `json:"cacheKey,omitempty"`
	Source    Source            `json:"source"`
	Status    Status            `json:"status"`
	Reason    string            `json:"reason,omitempty"`
	Value     value.Record      `json:"-"`
}

// Counters summarise a resolution.
type Counters struct {
	StreamHits    int `json:"streamHits"`
	CacheHits     int `json:"cacheHits"`
	HydratedCount int `json:"hydratedCount"`
	TotalBindings int `json:"totalBindings"`
}

// Inputs are the caller-supplied value sources. They are never modified.
type Inputs struct {
	Stream         []StreamValue
	Cache          map[string]value.Record
	AllowHydration bool
}

// Options configures a Resolver.
type Options struct {
	Registry     *Registry
	Concurrency  int
	BatchSize    int
	Introspect   bool
	Introspector Introspector // defaults to the fetcher when it implements Introspector
	Logger       *zap.Logger
}

// Result is the outcome of Resolve. Values is keyed by stream key and holds
// only resolved occurrences.
type Result struct {
	Occurrences []Occurrence
	Values      map[string]value.Record
	Warnings    diag.Warnings
	Counters    Counters
}

// StreamKey is "<index>:<model>".
func StreamKey(index int, model string) string {
	return strconv.Itoa(index) + ":" + model
}

// CacheKey is "<model>:<id>".
func CacheKey(model, id string) string {
	return model + ":" + id
}

// Resolver resolves binding occurrences.
type Resolver struct {
	fetcher Fetcher
	intro   Introspector
	opts    Options
	log     *zap.Logger
}

// New returns a Resolver. fetcher may be nil, in which case nothing is
// hydrated.
func New(fetcher Fetcher, opts Options) *Resolver {
	if opts.Registry == nil {
		opts.Registry = DefaultRegistry()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	intro := opts.Introspector
	if intro == nil {
		intro, _ = fetcher.(Introspector)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{fetcher: fetcher, intro: intro, opts: opts, log: log.Named("bindings")}
}

// Registry returns the model registry in use.
func (r *Resolver) Registry() *Registry { return r.opts.Registry }

// Resolve classifies every binding in doc. The only error is a failed batch
// transport call; everything else is reported through warnings and
// occurrence rows.
func (r *Resolver) Resolve(ctx context.Context, doc string, in Inputs) (*Result, error) {
	stream := make(map[string]value.Record, len(in.Stream))
	for _, sv := range in.Stream {
		key := StreamKey(sv.Index, sv.Model)
		if _, dup := stream[key]; !dup {
			stream[key] = sv.Value
		}
	}

	bindings := scanner.Bindings(doc)
	res := &Result{
		Occurrences: make([]Occurrence, len(bindings)),
		Values:      make(map[string]value.Record),
	}
	res.Counters.TotalBindings = len(bindings)

	var pending []int // occurrence indexes eligible for hydration
	for i, b := range bindings {
		occ := Occurrence{
			Index:     i,
			Model:     b.Model,
			ID:        b.ID,
			Extra:     b.Extra,
			Start:     b.Start,
			End:       b.End,
			StreamKey: StreamKey(i, b.Model),
			Source:    SourceMiss,
			Status:    StatusUnresolved,
		}
		if b.ID != "" {
			occ.CacheKey = CacheKey(b.Model, b.ID)
		}
		if r.classify(&occ, stream, in.Cache, &res.Warnings) {
			pending = append(pending, i)
		}
		switch occ.Source {
		case SourceStream:
			res.Counters.StreamHits++
		case SourceCache:
			res.Counters.CacheHits++
		}
		res.Occurrences[i] = occ
	}

	if len(pending) > 0 {
		switch {
		case !in.AllowHydration:
			for _, i := range pending {
				setReason(&res.Occurrences[i], ReasonHydrationDisabled)
			}
		case r.fetcher == nil:
			res.Warnings.Add("BIND-0007", "", len(pending))
			for _, i := range pending {
				setReason(&res.Occurrences[i], ReasonNoSource)
			}
		default:
			if err := r.hydrate(ctx, res, pending); err != nil {
				return nil, err
			}
		}
	}

	for _, occ := range res.Occurrences {
		if occ.Status == StatusResolved {
			res.Values[occ.StreamKey] = occ.Value
		}
	}
	r.log.Debug("bindings resolved",
		zap.Int("total", res.Counters.TotalBindings),
		zap.Int("stream", res.Counters.StreamHits),
		zap.Int("cache", res.Counters.CacheHits),
		zap.Int("hydrated", res.Counters.HydratedCount))
	return res, nil
}

// classify applies stream then cache to occ and reports whether the
// occurrence may be hydrated.
func (r *Resolver) classify(occ *Occurrence, stream, cache map[string]value.Record, ws *diag.Warnings) bool {
	model, known := r.opts.Registry.Lookup(occ.Model)
	if !known {
		occ.Reason = fmt.Sprintf("unknown model %q", occ.Model)
		ws.Add("BIND-0003", occ.StreamKey, occ.Model)
		return false
	}

	if v, ok := stream[occ.StreamKey]; ok {
		if model.Sufficient(v) {
			occ.accept(SourceStream, v)
			return false
		}
		occ.Reason = ReasonInsufficient
		ws.Add("BIND-0001", occ.StreamKey, occ.Model)
	}

	if occ.ID == "" {
		occ.Reason = ReasonMissingID
		ws.Add("BIND-0008", occ.StreamKey)
		return false
	}

	if v, ok := cache[occ.CacheKey]; ok {
		if model.Sufficient(v) {
			occ.accept(SourceCache, v)
			return false
		}
		occ.Reason = ReasonInsufficient
		ws.Add("BIND-0002", occ.CacheKey, occ.Model)
	}
	return true
}

func (o *Occurrence) accept(src Source, v value.Record) {
	o.Source = src
	o.Status = StatusResolved
	o.Reason = ""
	o.Value = v
}

func setReason(o *Occurrence, reason string) {
	if o.Reason == "" {
		o.Reason = reason
	}
}

// hydrate fetches each distinct (model, id) among pending once and fans the
// record out to every occurrence that asked for it.
func (r *Resolver) hydrate(ctx context.Context, res *Result, pending []int) error {
	var queries []Query
	users := make(map[string][]int) // cache key -> occurrence indexes
	for _, i := range pending {
		occ := res.Occurrences[i]
		if _, seen := users[occ.CacheKey]; !seen {
			queries = append(queries, Query{Model: occ.Model, ID: occ.ID})
		}
		users[occ.CacheKey] = append(users[occ.CacheKey], i)
	}
	r.assignFields(ctx, queries, &res.Warnings)

	records, errs, err := r.fetchAll(ctx, queries)
	if err != nil {
		return err
	}

	for qi, q := range queries {
		key := q.CacheKey()
		switch {
		case errs[qi] != nil:
			res.Warnings.Add("BIND-0004", key, errs[qi])
			r.log.Warn("hydration failed", zap.String("key", key), zap.Error(errs[qi]))
			for _, i := range users[key] {
				setReason(&res.Occurrences[i], ReasonFetchFailed)
			}
		case records[qi] == nil:
			res.Warnings.Add("BIND-0005", key)
			for _, i := range users[key] {
				setReason(&res.Occurrences[i], ReasonNotFound)
			}
		default:
			for _, i := range users[key] {
				res.Occurrences[i].accept(SourceHydrate, records[qi])
				res.Counters.HydratedCount++
			}
		}
	}
	return nil
}

// assignFields fills Field and Arg on every query, introspecting once if
// enabled.
func (r *Resolver) assignFields(ctx context.Context, queries []Query, ws *diag.Warnings) {
	var fields []FieldDescriptor
	if r.opts.Introspect && r.intro != nil {
		fs, err := r.intro.IntrospectFields(ctx)
		if err != nil {
			ws.Add("BIND-0006", "", "<model>ById/_id", err)
			r.log.Warn("introspection failed", zap.Error(err))
		} else {
			fields = fs
		}
	}
	for i := range queries {
		q := &queries[i]
		if fields != nil {
			if f, a, ok := DiscoverField(fields, q.Model); ok {
				q.Field, q.Arg = f, a
				continue
			}
		}
		q.Field, q.Arg = ConventionalField(q.Model)
	}
}

// fetchAll returns positional records and per-query errors. A failed batch
// marks each of its queries failed; the error return is reserved for every
// batch failing.
func (r *Resolver) fetchAll(ctx context.Context, queries []Query) ([]value.Record, []error, error) {
	records := make([]value.Record, len(queries))
	errs := make([]error, len(queries))

	if bf, ok := r.fetcher.(BatchFetcher); ok {
		var chunks [][]Query
		for start := 0; start < len(queries); start += r.opts.BatchSize {
			chunks = append(chunks, queries[start:min(start+r.opts.BatchSize, len(queries))])
		}
		outcomes := pool.Run(ctx, chunks, r.opts.Concurrency, bf.FetchEntities)
		var failed int
		var last error
		for ci, o := range outcomes {
			offset := ci * r.opts.BatchSize
			err := o.Err
			if err == nil && len(o.Value) != len(chunks[ci]) {
				err = fmt.Errorf("got %d records for %d queries", len(o.Value), len(chunks[ci]))
			}
			if err != nil {
				err = fmt.Errorf("hydrate batch %d of %d: %w", ci+1, len(chunks), err)
				for i := range chunks[ci] {
					errs[offset+i] = err
				}
				failed++
				last = err
				continue
			}
			copy(records[offset:], o.Value)
		}
		if failed == len(chunks) && failed > 0 {
			return nil, nil, last
		}
		return records, errs, nil
	}

	outcomes := pool.Run(ctx, queries, r.opts.Concurrency, r.fetcher.FetchEntity)
	for i, o := range outcomes {
		records[i], errs[i] = o.Value, o.Err
	}
	return records, errs, nil
}
