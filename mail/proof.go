package mail

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Proofer sends rendered documents to reviewers.
type Proofer struct {
	provider Provider
	from     string
	subject  string
	log      *zap.Logger
}

// NewProofer wraps a provider. subject is used when a proof has none.
func NewProofer(p Provider, from, subject string, log *zap.Logger) *Proofer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Proofer{provider: p, from: from, subject: subject, log: log}
}

// Provider names the underlying provider.
func (p *Proofer) Provider() string {
	if p == nil || p.provider == nil {
		return ""
	}
	return p.provider.Name()
}

// Send delivers document as an HTML email with a plain text alternative
// and returns the provider's message id.
func (p *Proofer) Send(ctx context.Context, to []string, subject, document string) (string, error) {
	if p == nil || p.provider == nil {
		return "", ErrProviderNotConfigured
	}
	if subject == "" {
		subject = p.subject
	}
	msg := &Message{
		From:    p.from,
		To:      to,
		Subject: subject,
		HTML:    document,
		Text:    PlainText(document),
	}
	id, err := p.provider.Send(ctx, msg)
	if err != nil {
		p.log.Warn("proof send failed", zap.String("provider", p.provider.Name()), zap.Strings("to", to), zap.Error(err))
		return "", fmt.Errorf("sending proof: %w", err)
	}
	p.log.Info("proof sent", zap.String("provider", p.provider.Name()), zap.String("id", id), zap.Int("recipients", len(to)))
	return id, nil
}

// PlainText renders the readable text of an HTML email. Head, style and
// script content is dropped, block elements end a line and link targets
// follow their text.
func PlainText(doc string) string {
	z := html.NewTokenizer(strings.NewReader(doc))
	var b strings.Builder
	skip := 0
	var href []string
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return tidy(b.String())
		case html.TextToken:
			if skip > 0 {
				continue
			}
			t := z.Text()
			words := strings.Fields(string(t))
			if len(t) > 0 && isSpace(t[0]) {
				space(&b)
			}
			b.WriteString(strings.Join(words, " "))
			if len(words) > 0 && isSpace(t[len(t)-1]) {
				space(&b)
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			a := atom.Lookup(name)
			switch a {
			case atom.Head, atom.Style, atom.Script, atom.Title:
				if tt == html.StartTagToken {
					skip++
				}
			case atom.Br:
				b.WriteByte('\n')
			case atom.A:
				target := ""
				for hasAttr {
					var k, v []byte
					k, v, hasAttr = z.TagAttr()
					if string(k) == "href" {
						target = string(v)
					}
				}
				href = append(href, target)
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch a := atom.Lookup(name); a {
			case atom.Head, atom.Style, atom.Script, atom.Title:
				if skip > 0 {
					skip--
				}
			case atom.A:
				if n := len(href); n > 0 {
					if t := href[n-1]; t != "" && !strings.HasPrefix(t, "#") && !strings.HasPrefix(t, "mailto:") {
						fmt.Fprintf(&b, " (%s)", t)
					}
					href = href[:n-1]
				}
			case atom.P, atom.Div, atom.Tr, atom.Li, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Table, atom.Ol, atom.Ul:
				b.WriteByte('\n')
			}
		}
	}
}

// space separates words without doubling up or starting a line.
func space(b *strings.Builder) {
	s := b.String()
	if s == "" || isSpace(s[len(s)-1]) {
		return
	}
	b.WriteByte(' ')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t' || c == '\r'
}

// tidy trims each line and collapses blank runs.
func tidy(s string) string {
	var out []string
	blank := true
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
