package sqlstore

import (
	"context"
	"database/sql"
	"path/filepath"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sambeau/stitch/pkg/stitch/binding"
	"github.com/sambeau/stitch/pkg/stitch/value"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite", filepath.Join(t.TempDir(), "stitch.db"), Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background(), "content", "properties"); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestDriversRegistered(t *testing.T) {
	drivers := sql.Drivers()
	for _, name := range []string{"sqlite", "postgres", "mysql"} {
		if !slices.Contains(drivers, name) {
			t.Errorf("driver %q is not registered", name)
		}
	}
}

func TestFragments(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	if err := s.PutFragment(ctx, "header", "<header>v1</header>"); err != nil {
		t.Fatal(err)
	}
	if err := s.PutFragment(ctx, "header", "<header>v2</header>"); err != nil {
		t.Fatal(err)
	}

	c, err := s.FetchFragment(ctx, "header")
	if err != nil {
		t.Fatal(err)
	}
	if c.Content == nil || *c.Content != "<header>v2</header>" {
		t.Errorf("unexpected content %v", c.Content)
	}

	c, err = s.FetchFragment(ctx, "missing")
	if err != nil {
		t.Fatal(err)
	}
	if c.Content != nil {
		t.Errorf("expected nil content, got %q", *c.Content)
	}
}

func TestEntities(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	rec := value.Record{"headline": "Spring", "bodyCopy": []any{"<p>A</p>"}}
	if err := s.PutEntity(ctx, "content", "spring", rec); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		q    binding.Query
		want value.Record
	}{
		{"conventional field", binding.Query{Model: "content", ID: "spring", Field: "contentById", Arg: "_id"}, rec},
		{"model only", binding.Query{Model: "content", ID: "spring"}, rec},
		{"table field", binding.Query{Model: "content", ID: "spring", Field: "content", Arg: "id"}, rec},
		{"missing row", binding.Query{Model: "content", ID: "nope", Field: "contentById"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.FetchEntity(ctx, tt.q)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("record mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEntityErrors(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	for _, q := range []binding.Query{
		{Model: "content", ID: "a", Field: "x; DROP TABLE content"},
		{Model: "fragments", ID: "header"},
		{Model: "content", ID: "a", Field: "contentById", Arg: "locale"},
		{Model: "unknown", ID: "a", Field: "unknownById"},
	} {
		if _, err := s.FetchEntity(ctx, q); err == nil {
			t.Errorf("expected error for %+v", q)
		}
	}
	if err := s.PutEntity(ctx, "bad name", "a", value.Record{}); err == nil {
		t.Error("expected error for invalid model name")
	}
}

func TestIntrospectFields(t *testing.T) {
	s := openTest(t)
	fields, err := s.IntrospectFields(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []binding.FieldDescriptor{
		{Name: "contentById", Args: []string{"id"}},
		{Name: "propertiesById", Args: []string{"id"}},
	}
	if diff := cmp.Diff(want, fields); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestHydratesBindings(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	if err := s.PutEntity(ctx, "content", "a", value.Record{"title": "From SQL"}); err != nil {
		t.Fatal(err)
	}

	r := binding.New(s, binding.Options{Introspect: true})
	res, err := r.Resolve(ctx, `{{binding model="content" id="a"}}{{binding model="content" id="b"}}`, binding.Inputs{AllowHydration: true})
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Occurrences[0]; got.Status != binding.StatusResolved || got.Value["title"] != "From SQL" {
		t.Errorf("unexpected first occurrence %+v", got)
	}
	if got := res.Occurrences[1]; got.Status != binding.StatusUnresolved || got.Reason != binding.ReasonNotFound {
		t.Errorf("unexpected second occurrence %+v", got)
	}
}

func TestDialects(t *testing.T) {
	tests := []struct {
		driver string
		want   string
	}{
		{"sqlite", `INSERT INTO "content" (id, data) VALUES (?, ?) ON CONFLICT (id) DO UPDATE SET data = excluded.data`},
		{"postgres", `INSERT INTO "content" (id, data) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET data = excluded.data`},
		{"mysql", "INSERT INTO `content` (id, data) VALUES (?, ?) ON DUPLICATE KEY UPDATE data = VALUES(data)"},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			d, err := newDialect(tt.driver)
			if err != nil {
				t.Fatal(err)
			}
			if got := d.upsert("content", "data"); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
	if _, err := newDialect("oracle"); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestTableForField(t *testing.T) {
	tests := map[string]string{
		"contentById":    "content",
		"propertiesByID": "properties",
		"content":        "content",
		"ById":           "ById",
	}
	for field, want := range tests {
		if got := tableForField(field); got != want {
			t.Errorf("tableForField(%q) = %q, want %q", field, got, want)
		}
	}
}
