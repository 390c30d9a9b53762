package scanner

import (
	"sort"
	"strings"
)

// Marker comments are written by the pipeline itself to record provenance
// (which fragment a region came from, where a binding sat). They look like
//
//	<!--stitch:fragment id="hero"--> … <!--/stitch:fragment-->
//	<!--stitch:binding index="0" model="content"-->
//
// and are always removed by final sanitization.
const (
	MarkerPrefix      = "stitch:"
	commentOpen       = "<!--"
	commentClose      = "-->"
	markerOpenPrefix  = commentOpen + MarkerPrefix
	markerClosePrefix = commentOpen + "/" + MarkerPrefix
)

// Marker is one parsed marker comment.
type Marker struct {
	Span
	Kind    string
	Closing bool
	Attrs   map[string]string
}

// OpenMarker renders an opening marker. attrs are key/value pairs and are
// written in the order given.
func OpenMarker(kind string, attrs ...string) string {
	var sb strings.Builder
	sb.WriteString(markerOpenPrefix)
	sb.WriteString(kind)
	for i := 0; i+1 < len(attrs); i += 2 {
		sb.WriteByte(' ')
		sb.WriteString(attrs[i])
		sb.WriteString(`="`)
		sb.WriteString(escapeAttr(attrs[i+1]))
		sb.WriteByte('"')
	}
	sb.WriteString(commentClose)
	return sb.String()
}

// CloseMarker renders the closing marker for kind.
func CloseMarker(kind string) string {
	return markerClosePrefix + kind + commentClose
}

// Markers returns every marker comment in doc in document order. Comments
// that are not markers, or markers that cannot be parsed, are skipped.
func Markers(doc string) []Marker {
	var out []Marker
	i := 0
	for {
		j := strings.Index(doc[i:], commentOpen)
		if j < 0 {
			return out
		}
		start := i + j
		k := strings.Index(doc[start+len(commentOpen):], commentClose)
		if k < 0 {
			return out
		}
		end := start + len(commentOpen) + k + len(commentClose)
		body := doc[start+len(commentOpen) : end-len(commentClose)]
		i = end

		closing := strings.HasPrefix(body, "/"+MarkerPrefix)
		if !closing && !strings.HasPrefix(body, MarkerPrefix) {
			continue
		}
		body = strings.TrimPrefix(body, "/")
		body = strings.TrimPrefix(body, MarkerPrefix)
		kind, rest := splitWord(body)
		if kind == "" {
			continue
		}
		attrs, ok := parseAttrs(rest)
		if !ok {
			continue
		}
		out = append(out, Marker{
			Span:    span(doc, start, end),
			Kind:    kind,
			Closing: closing,
			Attrs:   attrs,
		})
	}
}

// Enclosing returns, for each offset, the values of attr on the open markers
// of kind that enclose it, outermost first. offsets need not be sorted.
func Enclosing(doc, kind, attr string, offsets []int) [][]string {
	type item struct{ off, idx int }
	sorted := make([]item, len(offsets))
	for i, off := range offsets {
		sorted[i] = item{off, i}
	}
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].off < sorted[b].off })

	out := make([][]string, len(offsets))
	markers := Markers(doc)
	var stack []string
	m := 0
	for _, it := range sorted {
		for m < len(markers) && markers[m].Start < it.off {
			mk := markers[m]
			m++
			if mk.Kind != kind {
				continue
			}
			if mk.Closing {
				if len(stack) > 0 {
					stack = stack[:len(stack)-1]
				}
				continue
			}
			stack = append(stack, mk.Attrs[attr])
		}
		out[it.idx] = append([]string(nil), stack...)
	}
	return out
}

func escapeAttr(s string) string {
	if !strings.ContainsAny(s, `"\`) {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return r.Replace(s)
}
