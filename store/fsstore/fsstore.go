// Package fsstore serves fragments from a directory of HTML and Markdown
// files. A fragment id names a file relative to the root without its
// extension: "emails/header" is emails/header.html, .htm or .md.
package fsstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"go.uber.org/zap"

	"github.com/sambeau/stitch/pkg/stitch/fragment"
	"github.com/sambeau/stitch/pkg/stitch/scanner"
	"github.com/sambeau/stitch/store/cache"
)

// Extensions are tried in this order.
var Extensions = []string{".html", ".htm", ".md"}

// ErrInvalidID is returned for ids that are empty or leave the root.
var ErrInvalidID = errors.New("invalid fragment id")

// Options configures a Store.
type Options struct {
	CacheTTL   time.Duration // 0 disables caching
	MaxEntries int
	Watch      bool
	Logger     *zap.Logger
}

// Store reads fragments from disk. It implements fragment.Fetcher.
type Store struct {
	root    string
	ttl     time.Duration
	cache   *cache.Cache[string]
	md      goldmark.Markdown
	log     *zap.Logger
	watcher *watcher
}

// New returns a store rooted at dir.
func New(dir string, opts Options) (*Store, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving fragment dir: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("fragment dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("fragment dir: %s is not a directory", root)
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		root: root,
		ttl:  opts.CacheTTL,
		log:  log,
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
	}
	if s.ttl > 0 {
		s.cache = cache.New[string](opts.MaxEntries)
	}
	if opts.Watch && s.cache != nil {
		w, err := newWatcher(s)
		if err != nil {
			return nil, fmt.Errorf("watching fragment dir: %w", err)
		}
		s.watcher = w
	}
	return s, nil
}

// Start begins invalidating cached fragments as files change. It is a
// no-op unless the store was created with Watch.
func (s *Store) Start(ctx context.Context) error {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.start(ctx)
}

// Close stops the watcher.
func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.close()
}

// Stats reports cache statistics.
func (s *Store) Stats() cache.Stats { return s.cache.Stats() }

// FetchFragment implements fragment.Fetcher. A missing file is a nil
// Content, not an error.
func (s *Store) FetchFragment(ctx context.Context, id string) (fragment.Content, error) {
	if err := ctx.Err(); err != nil {
		return fragment.Content{ID: id}, err
	}
	if body, ok := s.cache.Get(id); ok {
		return fragment.Content{ID: id, Content: &body}, nil
	}

	base, err := s.resolve(id)
	if err != nil {
		return fragment.Content{ID: id}, err
	}
	for _, ext := range Extensions {
		data, err := os.ReadFile(base + ext)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return fragment.Content{ID: id}, fmt.Errorf("reading fragment %s: %w", id, err)
		}
		body := string(data)
		if ext == ".md" {
			if body, err = s.markdown(body); err != nil {
				return fragment.Content{ID: id}, fmt.Errorf("rendering fragment %s: %w", id, err)
			}
		}
		s.cache.Set(id, body, s.ttl)
		s.log.Debug("fragment loaded", zap.String("id", id), zap.String("file", base+ext))
		return fragment.Content{ID: id, Content: &body}, nil
	}
	return fragment.Content{ID: id}, nil
}

// resolve maps an id to a path without extension inside the root.
func (s *Store) resolve(id string) (string, error) {
	if id == "" || strings.ContainsRune(id, 0) || filepath.IsAbs(id) || strings.HasPrefix(id, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	for _, part := range strings.Split(filepath.ToSlash(id), "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
	}
	p := filepath.Join(s.root, filepath.FromSlash(id))
	if rel, err := filepath.Rel(s.root, p); err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return p, nil
}

// IDs lists every fragment under the root, sorted. Hidden files and
// directories are skipped.
func (s *Store) IDs() ([]string, error) {
	var ids []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != s.root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if id, ok := s.idFor(path); ok {
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

// idFor maps a file path back to its fragment id.
func (s *Store) idFor(path string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	known := false
	for _, e := range Extensions {
		if ext == e {
			known = true
		}
	}
	if !known {
		return "", false
	}
	rel, err := filepath.Rel(s.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(strings.TrimSuffix(rel, filepath.Ext(rel))), true
}

// markdown renders a Markdown fragment. Directives are lifted out first so
// the renderer cannot escape their quotes.
func (s *Store) markdown(src string) (string, error) {
	var held []string
	var b strings.Builder
	last := 0
	for _, d := range scanner.Scan(src) {
		sp := d.Pos()
		b.WriteString(src[last:sp.Start])
		fmt.Fprintf(&b, "stitchdirective%dx", len(held))
		held = append(held, sp.Source)
		last = sp.End
	}
	b.WriteString(src[last:])

	var out bytes.Buffer
	if err := s.md.Convert([]byte(b.String()), &out); err != nil {
		return "", err
	}
	doc := out.String()
	for i := len(held) - 1; i >= 0; i-- {
		doc = strings.Replace(doc, fmt.Sprintf("stitchdirective%dx", i), held[i], 1)
	}
	return doc, nil
}
