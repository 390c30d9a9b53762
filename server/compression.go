package server

import (
	"compress/gzip"
	"fmt"
	"net/http"

	"github.com/klauspost/compress/gzhttp"

	"github.com/sambeau/stitch/config"
)

// Rendered documents travel inside JSON envelopes; text/html covers a
// stitched document served bare. Nothing else the server writes is worth
// compressing.
var compressedTypes = []string{"application/json", "text/html"}

// gzipLevels maps config levels onto compress/gzip. "default" is absent and
// falls through to gzip.DefaultCompression.
var gzipLevels = map[string]int{
	"fastest": gzip.BestSpeed,
	"best":    gzip.BestCompression,
}

// newCompressor returns middleware that gzips render responses. Only gzip is
// negotiated. A disabled config yields a passthrough.
func newCompressor(cfg config.CompressionConfig) (func(http.Handler) http.Handler, error) {
	if !cfg.Enabled || cfg.Level == "none" {
		return func(h http.Handler) http.Handler { return h }, nil
	}
	level, ok := gzipLevels[cfg.Level]
	if !ok {
		level = gzip.DefaultCompression
	}
	wrap, err := gzhttp.NewWrapper(
		gzhttp.MinSize(cfg.MinSize),
		gzhttp.CompressionLevel(level),
		gzhttp.ContentTypes(compressedTypes),
	)
	if err != nil {
		return nil, fmt.Errorf("compression: %w", err)
	}
	return func(h http.Handler) http.Handler { return wrap(h) }, nil
}
