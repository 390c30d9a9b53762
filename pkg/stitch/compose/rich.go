package compose

import (
	"bytes"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/sambeau/stitch/pkg/stitch/scanner"
)

// refs numbers reference labels in first-seen order for one render.
type refs struct {
	labels []string
	index  map[string]int
}

func (r *refs) ordinal(label string) int {
	if r.index == nil {
		r.index = make(map[string]int)
	}
	if n, ok := r.index[label]; ok {
		return n
	}
	r.labels = append(r.labels, label)
	n := len(r.labels)
	r.index[label] = n
	return n
}

// list renders the collected references as an ordered list, or "" when
// there are none.
func (r *refs) list() string {
	if len(r.labels) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(`<ol class="references">`)
	for _, l := range r.labels {
		sb.WriteString("<li>")
		sb.WriteString(html.EscapeString(l))
		sb.WriteString("</li>")
	}
	sb.WriteString("</ol>")
	return sb.String()
}

// expandRich replaces every top-level rich block with its body, numbering
// {{ref}} tags and injecting the block's style. {{references}} is rendered
// once every block has been seen.
func expandRich(doc string, r *refs) string {
	dirs := scanner.Scan(doc)
	blocks := scanner.TopLevelBlocks(dirs, scanner.KindRich)

	if len(blocks) > 0 {
		var sb strings.Builder
		pos := 0
		for _, b := range blocks {
			sb.WriteString(doc[pos:b.Open.Start])
			body := b.Body(doc)
			if style := strings.TrimSpace(b.Open.Attrs["style"]); style != "" {
				body = injectStyle(body, style)
			}
			sb.WriteString(numberRefs(body, r))
			pos = b.Close.End
		}
		sb.WriteString(doc[pos:])
		doc = sb.String()
		dirs = scanner.Scan(doc)
	}

	var sb strings.Builder
	pos := 0
	for _, d := range dirs {
		if l, ok := d.(*scanner.ReferenceList); ok {
			sb.WriteString(doc[pos:l.Start])
			sb.WriteString(r.list())
			pos = l.End
		}
	}
	if pos == 0 {
		return doc
	}
	sb.WriteString(doc[pos:])
	return sb.String()
}

func numberRefs(body string, r *refs) string {
	var sb strings.Builder
	pos := 0
	for _, d := range scanner.Scan(body) {
		ref, ok := d.(*scanner.Reference)
		if !ok {
			continue
		}
		sb.WriteString(body[pos:ref.Start])
		sb.WriteString(`<sup class="ref">`)
		sb.WriteString(strconv.Itoa(r.ordinal(ref.Label)))
		sb.WriteString(`</sup>`)
		pos = ref.End
	}
	sb.WriteString(body[pos:])
	return sb.String()
}

// injectStyle adds style to every start tag in body that has no style
// attribute. A body without tags is wrapped in a span.
func injectStyle(body, style string) string {
	attr := ` style="` + html.EscapeString(style) + `"`
	z := html.NewTokenizer(strings.NewReader(body))
	var buf bytes.Buffer
	tags := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			buf.Write(z.Raw())
			continue
		}
		tags++
		// TagAttr lowercases and unescapes in place, so keep a copy.
		raw := append([]byte(nil), z.Raw()...)
		if hasAttr(z, "style") {
			buf.Write(raw)
			continue
		}
		cut := len(raw) - 1
		if tt == html.SelfClosingTagToken && cut > 0 && raw[cut-1] == '/' {
			cut--
			for cut > 0 && raw[cut-1] == ' ' {
				cut--
			}
		}
		buf.Write(raw[:cut])
		buf.WriteString(attr)
		buf.Write(raw[cut:])
	}
	if tags == 0 {
		return "<span" + attr + ">" + body + "</span>"
	}
	return buf.String()
}

func hasAttr(z *html.Tokenizer, name string) bool {
	for {
		key, _, more := z.TagAttr()
		if string(key) == name {
			return true
		}
		if !more {
			return false
		}
	}
}
