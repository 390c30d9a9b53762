package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sambeau/stitch/pkg/stitch"
)

func noenv(string) string { return "" }

// isolate runs the test in an empty directory with an empty home so no
// stray config file is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	return dir
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr, noenv)
	return stdout.String(), stderr.String(), err
}

func TestRunVersion(t *testing.T) {
	stdout, _, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "stitch version") {
		t.Errorf("expected version output, got %q", stdout)
	}

	stdout, _, err = runCLI(t, "--version")
	if err != nil || !strings.Contains(stdout, Version) {
		t.Errorf("expected --version output, got %q (%v)", stdout, err)
	}
}

func TestRunHelp(t *testing.T) {
	stdout, _, err := runCLI(t, "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"render", "scan", "serve", "proof", "import", "--config", "STITCH_CONFIG"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("expected %q in help, got %q", want, stdout)
		}
	}
}

func TestRunInvalidFlag(t *testing.T) {
	if _, _, err := runCLI(t, "render", "--invalid-flag", "x.html"); err == nil {
		t.Error("expected error for invalid flag")
	}
}

func TestRunMissingConfig(t *testing.T) {
	_, _, err := runCLI(t, "render", "--config", "/nonexistent/config.yaml", "x.html")
	if err == nil {
		t.Fatal("expected error for missing config")
	}
	if !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("expected 'config file not found' error, got %q", err.Error())
	}
}

func TestRender(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "fragments", "header.html"), `<header>{{params.brand}}</header>`)
	writeFile(t, filepath.Join(dir, "email.html"), `{{fragment id="header"}}<p>Hi {{params.name}}</p>`)
	writeFile(t, filepath.Join(dir, "params.yaml"), "name: Ada\nbrand: Acme\n")

	stdout, stderr, err := runCLI(t, "render", "--fragments", "fragments", "--params", "params.yaml", "email.html")
	if err != nil {
		t.Fatalf("unexpected error: %v\n%s", err, stderr)
	}
	if want := `<header>Acme</header><p>Hi Ada</p>`; stdout != want {
		t.Errorf("expected %q, got %q", want, stdout)
	}

	stdout, _, err = runCLI(t, "render", "--fragments", "fragments", "--stitched", "email.html")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`<header>{{params.brand}}</header>`, `<p>Hi {{params.name}}</p>`} {
		if !strings.Contains(stdout, want) {
			t.Errorf("expected %q in stitched output %q", want, stdout)
		}
	}
}

func TestRenderJSON(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "email.html"), `{{binding model="content" id="spring"}}<h1>{{headline}}</h1>`)
	writeFile(t, filepath.Join(dir, "cache.json"), `{"content:spring": {"headline": "Spring sale"}}`)

	stdout, _, err := runCLI(t, "render", "--format", "json", "--cache", "cache.json", "email.html")
	if err != nil {
		t.Fatal(err)
	}
	var res stitch.Result
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		t.Fatalf("not json: %v\n%s", err, stdout)
	}
	if res.RenderedDocument != "<h1>Spring sale</h1>" || res.Counters.CacheHits != 1 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestRenderStrict(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "email.html"), `<p>{{fragment id="missing"}}</p>`)

	_, stderr, err := runCLI(t, "render", "--strict", "email.html")
	if err == nil {
		t.Fatal("expected error with --strict and warnings")
	}
	if !strings.Contains(stderr, "warning:") {
		t.Errorf("expected warnings on stderr, got %q", stderr)
	}
	if _, _, err := runCLI(t, "render", "email.html"); err != nil {
		t.Errorf("warnings should not fail without --strict: %v", err)
	}
}

func TestRenderBadFormat(t *testing.T) {
	isolate(t)
	if _, _, err := runCLI(t, "render", "--format", "pdf", "email.html"); err == nil || !strings.Contains(err.Error(), "unknown format") {
		t.Errorf("expected unknown format error, got %v", err)
	}
}

func TestScanTable(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "email.html"),
		`{{binding model="content" id="a"}}{{title}}{{binding model="content" id="b"}}{{title}}`)
	writeFile(t, filepath.Join(dir, "stream.json"), `[{"index": 0, "model": "content", "value": {"title": "A"}}]`)

	stdout, _, err := runCLI(t, "scan", "--stream", "stream.json", "email.html")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"MODEL", "stream", "resolved", "unresolved", "2 binding(s): 1 stream, 0 cache, 0 hydrated"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("expected %q in:\n%s", want, stdout)
		}
	}
}

func TestImportThenRender(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "stitch.yaml"), `
logging:
  level: warn
fragments:
  driver: sqlite
  dsn: fragments.db
entities:
  driver: sqlite
  dsn: entities.db
`)
	writeFile(t, filepath.Join(dir, "src", "hero.html"), `{{binding model="content" id="spring"}}<h1>{{headline}}</h1>`)
	writeFile(t, filepath.Join(dir, "src", "notes", "intro.md"), "Hello *there*")
	writeFile(t, filepath.Join(dir, "entities.yaml"), "content:\n  spring:\n    headline: Spring sale\n")
	writeFile(t, filepath.Join(dir, "email.html"), `{{fragment id="hero"}}{{fragment id="notes/intro"}}`)

	stdout, stderr, err := runCLI(t, "import", "--fragments", "src", "--entities", "entities.yaml")
	if err != nil {
		t.Fatalf("import failed: %v\n%s", err, stderr)
	}
	if !strings.Contains(stdout, "imported 2 fragment(s)") || !strings.Contains(stdout, "imported 1 entity record(s)") {
		t.Errorf("unexpected import output %q", stdout)
	}

	stdout, stderr, err = runCLI(t, "render", "email.html")
	if err != nil {
		t.Fatalf("render failed: %v\n%s", err, stderr)
	}
	if want := "<h1>Spring sale</h1><p>Hello <em>there</em></p>\n"; stdout != want {
		t.Errorf("expected %q, got %q", want, stdout)
	}
}

func TestImportRequiresDatabase(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "src", "a.html"), "a")
	if _, _, err := runCLI(t, "import", "--fragments", "src"); err == nil || !strings.Contains(err.Error(), "no database configured") {
		t.Errorf("expected database error, got %v", err)
	}
	if _, _, err := runCLI(t, "import"); err == nil {
		t.Error("expected error with nothing to import")
	}
}

func TestProofRequiresProvider(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "email.html"), "<p>hi</p>")

	if _, _, err := runCLI(t, "proof", "email.html"); err == nil || !strings.Contains(err.Error(), "--to") {
		t.Errorf("expected --to error, got %v", err)
	}
	if _, _, err := runCLI(t, "proof", "--to", "a@example.com", "email.html"); err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Errorf("expected provider error, got %v", err)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "stitch.yaml"), "server:\n  host: 127.0.0.1\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var stdout, stderr bytes.Buffer
	err := run(ctx, []string{"serve", "--port", "18089", "--quiet"}, &stdout, &stderr, noenv)
	if err != nil {
		t.Errorf("expected clean shutdown, got %v\n%s", err, stderr.String())
	}
}
