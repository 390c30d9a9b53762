package main

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sambeau/stitch/config"
	"github.com/sambeau/stitch/pkg/stitch/value"
	"github.com/sambeau/stitch/store/fsstore"
	"github.com/sambeau/stitch/store/sqlstore"
)

func (c *cli) importCmd() *cobra.Command {
	var (
		fragmentsDir string
		entitiesFile string
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load fragments and entities into the SQL stores",
		Long: `Import copies a fragment directory into the configured fragment database
and loads entity records into the configured entity database, creating
tables as needed. Markdown fragments are stored rendered.

The entities file maps model to id to record:

  content:
    spring-sale:
      headline: Spring sale
  properties:
    brand:
      brands: [acme]
      style: {}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if fragmentsDir == "" && entitiesFile == "" {
				return errors.New("nothing to import (use --fragments and/or --entities)")
			}
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			log, closeLog, err := c.logger(cfg, false)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx := cmd.Context()
			if fragmentsDir != "" {
				n, err := importFragments(ctx, cfg.Fragments, fragmentsDir, log)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.stdout, "imported %d fragment(s)\n", n)
			}
			if entitiesFile != "" {
				n, err := importEntities(ctx, cfg.Entities, entitiesFile, log)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.stdout, "imported %d entity record(s)\n", n)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&fragmentsDir, "fragments", "", "directory of .html, .htm and .md fragments")
	cmd.Flags().StringVar(&entitiesFile, "entities", "", "JSON or YAML file of entity records")
	return cmd
}

func importFragments(ctx context.Context, cfg config.FragmentsConfig, dir string, log *zap.Logger) (int, error) {
	if cfg.Driver == "" {
		return 0, errors.New("fragments: no database configured (set fragments.driver and fragments.dsn)")
	}
	files, err := fsstore.New(dir, fsstore.Options{Logger: log.Named("import")})
	if err != nil {
		return 0, err
	}
	defer files.Close()
	ids, err := files.IDs()
	if err != nil {
		return 0, fmt.Errorf("listing fragments: %w", err)
	}

	db, err := sqlstore.Open(cfg.Driver, cfg.DSN, sqlstore.Options{Logger: log})
	if err != nil {
		return 0, fmt.Errorf("fragments: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return 0, err
	}

	for _, id := range ids {
		frag, err := files.FetchFragment(ctx, id)
		if err != nil {
			return 0, err
		}
		if frag.Content == nil {
			continue
		}
		if err := db.PutFragment(ctx, id, *frag.Content); err != nil {
			return 0, err
		}
		log.Debug("fragment imported", zap.String("id", id))
	}
	return len(ids), nil
}

func importEntities(ctx context.Context, cfg config.EntitiesConfig, path string, log *zap.Logger) (int, error) {
	if cfg.Driver == "" || cfg.Driver == "graphql" {
		return 0, errors.New("entities: no database configured (set entities.driver to sqlite, postgres or mysql)")
	}
	var records map[string]map[string]value.Record
	if err := decodeFile(path, &records); err != nil {
		return 0, err
	}
	models := make([]string, 0, len(records))
	for m := range records {
		models = append(models, m)
	}
	slices.Sort(models)

	db, err := sqlstore.Open(cfg.Driver, cfg.DSN, sqlstore.Options{Logger: log})
	if err != nil {
		return 0, fmt.Errorf("entities: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx, models...); err != nil {
		return 0, err
	}

	n := 0
	for _, m := range models {
		for id, rec := range records[m] {
			if err := db.PutEntity(ctx, m, id, rec); err != nil {
				return n, err
			}
			n++
		}
	}
	log.Info("entities imported", zap.Int("count", n), zap.Strings("models", models))
	return n, nil
}
