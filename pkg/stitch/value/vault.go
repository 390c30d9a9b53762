package value

import (
	"strconv"
	"strings"
)

// Held text is replaced by a private-use delimited ordinal. The delimiters
// cannot start any directive, so later passes see the placeholder as text.
const (
	holdOpen  = "\uE000"
	holdClose = "\uE001"
)

// Vault keeps substituted text away from later passes over the same
// document. Restore swaps every placeholder back in a single pass, so
// restored text is never scanned again. A nil Vault holds nothing.
type Vault struct {
	held []string
}

// Hold returns a placeholder for s.
func (v *Vault) Hold(s string) string {
	if v == nil || s == "" {
		return s
	}
	v.held = append(v.held, s)
	return holdOpen + strconv.Itoa(len(v.held)-1) + holdClose
}

// Len is the number of held strings.
func (v *Vault) Len() int {
	if v == nil {
		return 0
	}
	return len(v.held)
}

// Restore replaces the placeholders in doc with the text they hold.
// Placeholders this vault did not issue are left alone.
func (v *Vault) Restore(doc string) string {
	if v.Len() == 0 || !strings.Contains(doc, holdOpen) {
		return doc
	}
	var sb strings.Builder
	sb.Grow(len(doc))
	for {
		i := strings.Index(doc, holdOpen)
		if i < 0 {
			break
		}
		rest := doc[i+len(holdOpen):]
		j := strings.Index(rest, holdClose)
		if j < 0 {
			break
		}
		sb.WriteString(doc[:i])
		n, err := strconv.Atoi(rest[:j])
		if err != nil || n < 0 || n >= len(v.held) {
			sb.WriteString(doc[i : i+len(holdOpen)+j+len(holdClose)])
		} else {
			sb.WriteString(v.held[n])
		}
		doc = rest[j+len(holdClose):]
	}
	sb.WriteString(doc)
	return sb.String()
}
