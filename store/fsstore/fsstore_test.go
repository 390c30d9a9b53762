package fsstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sambeau/stitch/pkg/stitch/fragment"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func fetch(t *testing.T, s *Store, id string) fragment.Content {
	t.Helper()
	c, err := s.FetchFragment(context.Background(), id)
	if err != nil {
		t.Fatalf("FetchFragment(%q): %v", id, err)
	}
	return c
}

func TestFetchFragment(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "header.html", `<header>{{fragment id="logo"}}</header>`)
	writeFile(t, dir, "emails/footer.htm", `<footer>bye</footer>`)
	writeFile(t, dir, "both.html", `html wins`)
	writeFile(t, dir, "both.md", `markdown loses`)

	s, err := New(dir, Options{})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		id   string
		want string
	}{
		{"header", `<header>{{fragment id="logo"}}</header>`},
		{"emails/footer", `<footer>bye</footer>`},
		{"both", `html wins`},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			c := fetch(t, s, tt.id)
			if c.Content == nil || *c.Content != tt.want {
				t.Errorf("expected %q, got %v", tt.want, c.Content)
			}
			if c.ID != tt.id {
				t.Errorf("expected id %q, got %q", tt.id, c.ID)
			}
		})
	}

	if c := fetch(t, s, "missing"); c.Content != nil {
		t.Errorf("expected nil content for missing fragment, got %q", *c.Content)
	}
}

func TestMarkdownKeepsDirectives(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "intro.md", "# Hello {{params.name}}\n\n"+
		"{{binding model=\"content\" id=\"spring\"}}\n\n"+
		"Some *copy* with a [link](https://example.com) and {{{bodyCopy}}}.\n")

	s, err := New(dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	c := fetch(t, s, "intro")
	if c.Content == nil {
		t.Fatal("expected content")
	}
	got := *c.Content
	for _, want := range []string{
		`<h1>Hello {{params.name}}</h1>`,
		`{{binding model="content" id="spring"}}`,
		`<em>copy</em>`,
		`<a href="https://example.com">link</a>`,
		`{{{bodyCopy}}}`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in:\n%s", want, got)
		}
	}
}

func TestInvalidIDs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ok.html", "ok")
	s, err := New(filepath.Join(dir), Options{})
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"", "../secret", "a/../../b", "/etc/passwd", "a\x00b"} {
		if _, err := s.FetchFragment(context.Background(), id); !errors.Is(err, ErrInvalidID) {
			t.Errorf("FetchFragment(%q): expected ErrInvalidID, got %v", id, err)
		}
	}
}

func TestNewRequiresDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "file.html", "x")
	if _, err := New(filepath.Join(dir, "nope"), Options{}); err == nil {
		t.Error("expected error for missing dir")
	}
	if _, err := New(filepath.Join(dir, "file.html"), Options{}); err == nil {
		t.Error("expected error for file root")
	}
}

func TestCaching(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.html", "v1")
	s, err := New(dir, Options{CacheTTL: time.Hour})
	if err != nil {
		t.Fatal(err)
	}

	fetch(t, s, "a")
	writeFile(t, dir, "a.html", "v2")
	if c := fetch(t, s, "a"); *c.Content != "v1" {
		t.Errorf("expected cached v1, got %q", *c.Content)
	}
	if st := s.Stats(); st.Hits != 1 || st.Entries != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestWatchInvalidates(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "nested/a.html", "v1")
	s, err := New(dir, Options{CacheTTL: time.Hour, Watch: true})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	fetch(t, s, "nested/a")
	writeFile(t, dir, "nested/a.html", "v2")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c := fetch(t, s, "nested/a"); *c.Content == "v2" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("cached fragment was not invalidated after the file changed")
}

func TestIDFor(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		path string
		id   string
		ok   bool
	}{
		{filepath.Join(s.root, "a.html"), "a", true},
		{filepath.Join(s.root, "x", "b.md"), "x/b", true},
		{filepath.Join(s.root, "notes.txt"), "", false},
		{filepath.Join(filepath.Dir(s.root), "c.html"), "", false},
	}
	for _, tt := range tests {
		id, ok := s.idFor(tt.path)
		if id != tt.id || ok != tt.ok {
			t.Errorf("idFor(%q) = %q, %v; want %q, %v", tt.path, id, ok, tt.id, tt.ok)
		}
	}
}

func TestIDs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "header.html", "h")
	writeFile(t, dir, "header.md", "duplicate id")
	writeFile(t, dir, "emails/footer.htm", "f")
	writeFile(t, dir, "emails/notes.txt", "not a fragment")
	writeFile(t, dir, ".drafts/wip.html", "hidden")
	writeFile(t, dir, ".swap.html", "hidden")

	s, err := New(dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	ids, err := s.IDs()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"emails/footer", "header"}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
}
