package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/sambeau/stitch/config"
	"github.com/sambeau/stitch/pkg/stitch"
	"github.com/sambeau/stitch/pkg/stitch/binding"
	"github.com/sambeau/stitch/server"
)

// requestOptions are the flags shared by render, scan and proof.
type requestOptions struct {
	stream     string
	cache      string
	params     string
	fragments  string
	locale     string
	noHydrate  bool
	introspect bool
}

func (o *requestOptions) bind(fs *pflag.FlagSet) {
	fs.StringVar(&o.stream, "stream", "", "JSON or YAML file of caller stream values")
	fs.StringVar(&o.cache, "cache", "", "JSON or YAML file of cached records keyed model:id")
	fs.StringVar(&o.params, "params", "", "JSON or YAML file of render parameters")
	fs.StringVar(&o.fragments, "fragments", "", "fragment directory (overrides config)")
	fs.StringVar(&o.locale, "locale", "", "render locale, e.g. fr-FR")
	fs.BoolVar(&o.noHydrate, "no-hydrate", false, "never query the entity source")
	fs.BoolVar(&o.introspect, "introspect", false, "discover entity query fields from the source")
}

// apply folds flag overrides into the config.
func (o *requestOptions) apply(cfg *config.Config) {
	if o.fragments != "" {
		cfg.Fragments.Dir = o.fragments
		cfg.Fragments.Driver = ""
		cfg.Fragments.DSN = ""
	}
	if o.locale != "" {
		cfg.Render.Locale = o.locale
	}
	// A one-shot render has nothing to watch.
	cfg.Fragments.Watch = false
}

// request builds an engine request for doc.
func (o *requestOptions) request(doc string) (stitch.Request, error) {
	req := stitch.Request{Document: doc, Locale: o.locale}
	if o.stream != "" {
		if err := decodeFile(o.stream, &req.Stream); err != nil {
			return req, err
		}
	}
	if o.cache != "" {
		if err := decodeFile(o.cache, &req.Cache); err != nil {
			return req, err
		}
	}
	if o.params != "" {
		if err := decodeFile(o.params, &req.Params); err != nil {
			return req, err
		}
	}
	if o.noHydrate {
		no := false
		req.AllowHydration = &no
	}
	if o.introspect {
		yes := true
		req.EnableIntrospection = &yes
	}
	return req, nil
}

// decodeFile reads YAML (.yaml, .yml) or JSON into v.
func decodeFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, v)
	default:
		err = json.Unmarshal(data, v)
	}
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// readDocument reads a template file, or stdin for "-".
func readDocument(cmd *cobra.Command, path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading template: %w", err)
	}
	return string(data), nil
}

// resolve loads config, opens the backend and runs the engine once.
func (c *cli) resolve(ctx context.Context, cmd *cobra.Command, path string, opts *requestOptions, scan bool) (*stitch.Result, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	opts.apply(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	doc, err := readDocument(cmd, path)
	if err != nil {
		return nil, err
	}
	req, err := opts.request(doc)
	if err != nil {
		return nil, err
	}
	if req.AllowHydration == nil && !cfg.Entities.AllowHydration {
		no := false
		req.AllowHydration = &no
	}

	log, closeLog, err := c.logger(cfg, true)
	if err != nil {
		return nil, err
	}
	defer closeLog()
	defer log.Sync()

	backend, err := server.OpenBackend(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("opening backend: %w", err)
	}
	defer backend.Close()

	if scan {
		return backend.Engine.Scan(ctx, req)
	}
	return backend.Engine.Render(ctx, req)
}

func (c *cli) renderCmd() *cobra.Command {
	var (
		opts     requestOptions
		format   string
		stitched bool
		strict   bool
	)
	cmd := &cobra.Command{
		Use:   "render [flags] FILE",
		Short: "Render a template to HTML",
		Long: `Render expands fragment includes, resolves bindings and composes the
template, writing the rendered document to stdout. Warnings go to stderr.
Use - to read the template from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "html" && format != "json" {
				return fmt.Errorf("unknown format: %s (must be html or json)", format)
			}
			res, err := c.resolve(cmd.Context(), cmd, args[0], &opts, false)
			if err != nil {
				return err
			}
			if format == "json" {
				if err := writeJSON(c.stdout, res); err != nil {
					return err
				}
			} else {
				out := res.RenderedDocument
				if stitched {
					out = res.StitchedDocument
				}
				io.WriteString(c.stdout, out)
				for _, w := range res.Warnings {
					fmt.Fprintf(c.stderr, "warning: %s\n", w)
				}
			}
			if strict && len(res.Warnings) > 0 {
				return fmt.Errorf("%d warning(s)", len(res.Warnings))
			}
			return nil
		},
	}
	opts.bind(cmd.Flags())
	cmd.Flags().StringVar(&format, "format", "html", "output format (html|json)")
	cmd.Flags().BoolVar(&stitched, "stitched", false, "print the stitched document before composition")
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when any warning is raised")
	return cmd
}

func (c *cli) scanCmd() *cobra.Command {
	var (
		opts   requestOptions
		format string
	)
	cmd := &cobra.Command{
		Use:   "scan [flags] FILE",
		Short: "List the bindings a template needs",
		Long: `Scan expands fragments and resolves bindings from the stream and cache
only, then lists each binding occurrence and where its value came from.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.resolve(cmd.Context(), cmd, args[0], &opts, true)
			if err != nil {
				return err
			}
			switch format {
			case "json":
				return writeJSON(c.stdout, res)
			case "table":
				return writeBindings(c.stdout, res)
			default:
				return fmt.Errorf("unknown format: %s (must be table or json)", format)
			}
		},
	}
	opts.bind(cmd.Flags())
	cmd.Flags().StringVar(&format, "format", "table", "output format (table|json)")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeBindings prints one row per binding occurrence.
func writeBindings(w io.Writer, res *stitch.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tMODEL\tID\tSOURCE\tSTATUS\tREASON")
	for _, o := range res.Bindings {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", o.Index, o.Model, dash(o.ID), o.Source, o.Status, dash(o.Reason))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d fragment(s), %d binding(s): %s\n", len(res.FragmentsResolved), res.Counters.TotalBindings, summary(res.Counters))
	return nil
}

func summary(c binding.Counters) string {
	return fmt.Sprintf("%d stream, %d cache, %d hydrated", c.StreamHits, c.CacheHits, c.HydratedCount)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
