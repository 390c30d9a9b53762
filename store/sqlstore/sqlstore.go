// Package sqlstore keeps fragments and entity records in a SQL database.
// Fragments live in a fragments(id, content) table. Each model has its own
// table of (id, data) rows where data is a JSON object.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sambeau/stitch/pkg/stitch/binding"
	"github.com/sambeau/stitch/pkg/stitch/fragment"
	"github.com/sambeau/stitch/pkg/stitch/value"
)

// FragmentsTable holds fragment bodies.
const FragmentsTable = "fragments"

// Options configures a Store.
type Options struct {
	Logger *zap.Logger
}

// Store reads fragments and entities from a database. It implements
// fragment.Fetcher, binding.Fetcher and binding.Introspector.
type Store struct {
	db      *sql.DB
	dialect dialect
	log     *zap.Logger
}

// Open connects to a database. driver is sqlite, postgres or mysql.
func Open(driver, dsn string, opts Options) (*Store, error) {
	d, err := newDialect(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", driver, err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s: %w", driver, err)
	}
	return newStore(db, d, opts), nil
}

// New wraps an open database handle.
func New(db *sql.DB, driver string, opts Options) (*Store, error) {
	d, err := newDialect(driver)
	if err != nil {
		return nil, err
	}
	return newStore(db, d, opts), nil
}

func newStore(db *sql.DB, d dialect, opts Options) *Store {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, dialect: d, log: log}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the fragments table and one table per model.
func (s *Store) Migrate(ctx context.Context, models ...string) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.createTable(FragmentsTable, "content")); err != nil {
		return fmt.Errorf("creating %s table: %w", FragmentsTable, err)
	}
	for _, m := range models {
		if !validIdent(m) || m == FragmentsTable {
			return fmt.Errorf("invalid model name %q", m)
		}
		if _, err := s.db.ExecContext(ctx, s.dialect.createTable(m, "data")); err != nil {
			return fmt.Errorf("creating %s table: %w", m, err)
		}
	}
	return nil
}

// PutFragment inserts or replaces a fragment.
func (s *Store) PutFragment(ctx context.Context, id, content string) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.upsert(FragmentsTable, "content"), id, content); err != nil {
		return fmt.Errorf("storing fragment %s: %w", id, err)
	}
	return nil
}

// PutEntity inserts or replaces an entity record.
func (s *Store) PutEntity(ctx context.Context, model, id string, rec value.Record) error {
	if !validIdent(model) || model == FragmentsTable {
		return fmt.Errorf("invalid model name %q", model)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding %s:%s: %w", model, id, err)
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.upsert(model, "data"), id, string(data)); err != nil {
		return fmt.Errorf("storing %s:%s: %w", model, id, err)
	}
	return nil
}

// FetchFragment implements fragment.Fetcher.
func (s *Store) FetchFragment(ctx context.Context, id string) (fragment.Content, error) {
	var body string
	err := s.db.QueryRowContext(ctx, s.dialect.selectByID(FragmentsTable, "content"), id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return fragment.Content{ID: id}, nil
	}
	if err != nil {
		return fragment.Content{ID: id}, fmt.Errorf("fetching fragment %s: %w", id, err)
	}
	return fragment.Content{ID: id, Content: &body}, nil
}

// FetchEntity implements binding.Fetcher. The table comes from the query
// field and the only supported argument is the row id.
func (s *Store) FetchEntity(ctx context.Context, q binding.Query) (value.Record, error) {
	table := q.Model
	if q.Field != "" {
		table = tableForField(q.Field)
	}
	if !validIdent(table) || table == FragmentsTable {
		return nil, fmt.Errorf("invalid entity table %q", table)
	}
	switch q.Arg {
	case "", "_id", "id":
	default:
		return nil, fmt.Errorf("unsupported argument %q for %s", q.Arg, table)
	}

	var data string
	err := s.db.QueryRowContext(ctx, s.dialect.selectByID(table, "data"), q.ID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching %s:%s: %w", table, q.ID, err)
	}
	var rec value.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("decoding %s:%s: %w", table, q.ID, err)
	}
	s.log.Debug("entity loaded", zap.String("table", table), zap.String("id", q.ID))
	return rec, nil
}

// IntrospectFields implements binding.Introspector with one "<table>ById"
// field per entity table.
func (s *Store) IntrospectFields(ctx context.Context) ([]binding.FieldDescriptor, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.listTables())
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	var fields []binding.FieldDescriptor
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("listing tables: %w", err)
		}
		if name == FragmentsTable || !validIdent(name) {
			continue
		}
		fields = append(fields, binding.FieldDescriptor{Name: name + "ById", Args: []string{"id"}})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	return fields, nil
}
