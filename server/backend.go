package server

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sambeau/stitch/config"
	"github.com/sambeau/stitch/pkg/stitch"
	"github.com/sambeau/stitch/pkg/stitch/binding"
	"github.com/sambeau/stitch/pkg/stitch/fragment"
	"github.com/sambeau/stitch/store/cache"
	"github.com/sambeau/stitch/store/fsstore"
	"github.com/sambeau/stitch/store/graphql"
	"github.com/sambeau/stitch/store/sqlstore"
)

// Backend is an engine wired to the fragment and entity sources named in
// the configuration.
type Backend struct {
	Engine *stitch.Engine

	files   *fsstore.Store
	closers []func() error
}

// OpenBackend connects the configured sources and builds the engine.
func OpenBackend(cfg *config.Config, log *zap.Logger) (*Backend, error) {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Backend{}
	fail := func(err error) (*Backend, error) {
		b.Close()
		return nil, err
	}

	var frags fragment.Fetcher
	switch {
	case cfg.Fragments.Dir != "":
		s, err := fsstore.New(cfg.Fragments.Dir, fsstore.Options{
			CacheTTL:   cfg.Fragments.CacheTTL,
			MaxEntries: cfg.Fragments.MaxEntries,
			Watch:      cfg.Fragments.Watch,
			Logger:     log.Named("fragments"),
		})
		if err != nil {
			return fail(err)
		}
		b.files = s
		b.closers = append(b.closers, s.Close)
		frags = s
	case cfg.Fragments.Driver != "":
		s, err := sqlstore.Open(cfg.Fragments.Driver, cfg.Fragments.DSN, sqlstore.Options{Logger: log.Named("fragments")})
		if err != nil {
			return fail(fmt.Errorf("fragments: %w", err))
		}
		b.closers = append(b.closers, s.Close)
		frags = s
	}

	var ents binding.Fetcher
	switch cfg.Entities.Driver {
	case "":
	case "graphql":
		c, err := graphql.New(graphql.Options{
			Endpoint:   cfg.Entities.Endpoint,
			Token:      cfg.Entities.Token.Value(),
			Selections: cfg.Entities.Selections,
			Timeout:    cfg.Entities.Timeout,
			Logger:     log.Named("entities"),
		})
		if err != nil {
			return fail(err)
		}
		ents = c
	default:
		s, err := sqlstore.Open(cfg.Entities.Driver, cfg.Entities.DSN, sqlstore.Options{Logger: log.Named("entities")})
		if err != nil {
			return fail(fmt.Errorf("entities: %w", err))
		}
		b.closers = append(b.closers, s.Close)
		ents = s
	}

	b.Engine = stitch.New(stitch.Config{
		Fragments:            frags,
		Entities:             ents,
		Registry:             Registry(cfg.Models),
		MaxFragmentDepth:     cfg.Fragments.MaxDepth,
		MaxFragmentsPerPass:  cfg.Fragments.MaxPerPass,
		FragmentConcurrency:  cfg.Fragments.Concurrency,
		HydrationConcurrency: cfg.Entities.Concurrency,
		BatchSize:            cfg.Entities.BatchSize,
		EnableIntrospection:  cfg.Entities.Introspection,
		MaxBlockDepth:        cfg.Render.MaxBlockDepth,
		Locale:               cfg.Render.Locale,
		StyleOverrideField:   cfg.Render.StyleOverride,
		Logger:               log,
	})
	return b, nil
}

// Start runs background work such as the fragment file watcher.
func (b *Backend) Start(ctx context.Context) error {
	if b.files == nil {
		return nil
	}
	return b.files.Start(ctx)
}

// FragmentStats reports the fragment file cache, if there is one.
func (b *Backend) FragmentStats() (cache.Stats, bool) {
	if b.files == nil {
		return cache.Stats{}, false
	}
	return b.files.Stats(), true
}

// Close releases every source.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// Registry builds the model registry. With no configured models the
// built-in content and properties models are used. A configured model
// without required fields keeps the built-in rule of the same name, or
// accepts any non-empty record.
func Registry(models []config.ModelConfig) *binding.Registry {
	if len(models) == 0 {
		return binding.DefaultRegistry()
	}
	builtin := binding.DefaultRegistry()
	reg := binding.NewRegistry()
	for _, m := range models {
		model := binding.Model{Name: m.Name, Namespace: m.Namespace, Primary: m.Primary}
		if len(m.Required) > 0 {
			model.Sufficient = binding.Fields(m.Required...)
		} else if b, ok := builtin.Lookup(m.Name); ok {
			model.Sufficient = b.Sufficient
		}
		reg.Register(model)
	}
	return reg
}
