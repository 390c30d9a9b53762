package compose

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"

	"github.com/sambeau/stitch/pkg/stitch/diag"
	"github.com/sambeau/stitch/pkg/stitch/scanner"
)

// Sanitize makes doc safe to preview. It removes leftover control syntax
// (block tags, statements, stray refs) and every stitch: marker comment.
// Unresolved tokens and fragment includes are kept so gaps stay visible.
func Sanitize(doc string) (string, diag.Warnings) {
	var ws diag.Warnings
	doc = stripControl(doc, &ws)
	return stripMarkers(doc), ws
}

func stripControl(doc string, ws *diag.Warnings) string {
	var sb strings.Builder
	pos := 0
	for _, d := range scanner.Scan(doc) {
		sp := d.Pos()
		switch d.(type) {
		case *scanner.BlockOpen, *scanner.BlockClose, *scanner.Reference:
			ws.Add("COMP-0001", sp.Source, sp.Source)
		case *scanner.Assignment:
			ws.Add("COMP-0002", sp.Source, sp.Source)
		default:
			continue
		}
		sb.WriteString(doc[pos:sp.Start])
		pos = sp.End
	}
	if pos == 0 {
		return doc
	}
	sb.WriteString(doc[pos:])
	return sb.String()
}

var (
	markerOpen  = []byte("<!--" + scanner.MarkerPrefix)
	markerClose = []byte("<!--/" + scanner.MarkerPrefix)
)

// stripMarkers drops marker comments and copies every other token through
// byte for byte.
func stripMarkers(doc string) string {
	if !strings.Contains(doc, string(markerOpen)) && !strings.Contains(doc, string(markerClose)) {
		return doc
	}
	z := html.NewTokenizer(strings.NewReader(doc))
	var buf bytes.Buffer
	buf.Grow(len(doc))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return buf.String()
		}
		raw := z.Raw()
		if tt == html.CommentToken && (bytes.HasPrefix(raw, markerOpen) || bytes.HasPrefix(raw, markerClose)) {
			continue
		}
		buf.Write(raw)
	}
}
