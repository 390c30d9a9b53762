package scanner

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestScanDirectiveShapes(t *testing.T) {
	doc := `<p>{{fragment id="hero" mode=inline}}</p>` +
		`{{binding model="content" id="/offers/spring" variant='b'}}` +
		`{{#each offers as |offer|}}<li>{{offer.title}}</li>{{/each}}` +
		`{% let y = startDate | date: "%Y" %}` +
		`{{{bodyCopy}}}` +
		`{{#rich style="color:#333"}}{{ref "Terms apply"}}{{/rich}}{{references}}`

	want := []Directive{
		&FragmentInclude{ID: "hero", Extra: map[string]string{"mode": "inline"}},
		&DataBinding{Model: "content", ID: "/offers/spring", Extra: map[string]string{"variant": "b"}},
		&BlockOpen{Kind: "each", Path: "offers", Alias: "offer"},
		&Token{Path: "offer.title"},
		&BlockClose{Kind: "each"},
		&Assignment{Keyword: "let", Name: "y", Expr: `startDate | date: "%Y"`},
		&Token{Path: "bodyCopy", Triple: true},
		&BlockOpen{Kind: "rich", Attrs: map[string]string{"style": "color:#333"}},
		&Reference{Label: "Terms apply"},
		&BlockClose{Kind: "rich"},
		&ReferenceList{},
	}

	got := Scan(doc)
	if diff := cmp.Diff(want, got, cmpopts.IgnoreTypes(Span{})); diff != "" {
		t.Errorf("Scan mismatch (-want +got):\n%s", diff)
	}
}

func TestScanSpansAreExact(t *testing.T) {
	doc := `ab{{name}}cd{{{raw}}}`
	dirs := Scan(doc)
	if len(dirs) != 2 {
		t.Fatalf("expected 2 directives, got %d", len(dirs))
	}
	for _, d := range dirs {
		sp := d.Pos()
		if doc[sp.Start:sp.End] != sp.Source {
			t.Errorf("span %d:%d does not match source %q", sp.Start, sp.End, sp.Source)
		}
	}
	if dirs[0].Pos().Start != 2 || dirs[1].Pos().Start != 12 {
		t.Errorf("unexpected offsets %d, %d", dirs[0].Pos().Start, dirs[1].Pos().Start)
	}
}

func TestScanIgnoresMalformedTags(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"fragment without id", `{{fragment mode="inline"}}`},
		{"binding without model", `{{binding id="x"}}`},
		{"unterminated quote", `{{fragment id="hero}}`},
		{"unknown block", `{{#if cond}}x{{/if}}`},
		{"each without path", `{{#each}}`},
		{"each with bad alias", `{{#each items as alias}}`},
		{"spaces in token", `{{first name}}`},
		{"empty tag", `{{ }}`},
		{"unclosed tag", `{{name`},
		{"statement without equals", `{% let x %}`},
		{"unknown statement", `{% if x %}`},
		{"ref without quotes", `{{ref terms}}`},
		{"plain css braces", `p { color: red; }`},
		{"reserved word token", `{{{fragment}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Scan(tt.doc); len(got) != 0 {
				t.Errorf("expected no directives, got %#v", got)
			}
		})
	}
}

func TestScanRecoversAfterBrokenTag(t *testing.T) {
	dirs := Scan(`{{ broken {{name}} tail`)
	if len(dirs) != 1 {
		t.Fatalf("expected 1 directive, got %d", len(dirs))
	}
	tok, ok := dirs[0].(*Token)
	if !ok || tok.Path != "name" {
		t.Errorf("expected token name, got %#v", dirs[0])
	}
}

func TestScanTripleFallsBackToDouble(t *testing.T) {
	dirs := Scan(`{{{name}}`)
	if len(dirs) != 1 {
		t.Fatalf("expected 1 directive, got %d", len(dirs))
	}
	tok := dirs[0].(*Token)
	if tok.Triple || tok.Path != "name" || tok.Start != 1 {
		t.Errorf("unexpected token %#v", tok)
	}
}

func TestAttributesOrderIndependent(t *testing.T) {
	a := Bindings(`{{binding id="42" model="properties" locale=fr}}`)
	b := Bindings(`{{binding locale=fr model="properties" id="42"}}`)
	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("expected one binding each, got %d and %d", len(a), len(b))
	}
	if a[0].Model != b[0].Model || a[0].ID != b[0].ID || a[0].Extra["locale"] != b[0].Extra["locale"] {
		t.Errorf("attribute order changed result: %#v vs %#v", a[0], b[0])
	}
}

func TestMatchCloseCountsDepth(t *testing.T) {
	doc := `{{#each a}}{{#each b}}x{{/each}}{{#rich}}{{/rich}}{{/each}}{{/each}}`
	dirs := Scan(doc)

	if got := MatchClose(dirs, 0); got != 5 {
		t.Errorf("outer each should close at 5, got %d", got)
	}
	if got := MatchClose(dirs, 1); got != 2 {
		t.Errorf("inner each should close at 2, got %d", got)
	}
	if got := MatchClose(dirs, 3); got != 4 {
		t.Errorf("rich should close at 4, got %d", got)
	}
	if got := MatchClose(dirs, 2); got != -1 {
		t.Errorf("a close tag has no match, got %d", got)
	}
}

func TestTopLevelBlocks(t *testing.T) {
	doc := `{{#each a}}{{#each b}}{{/each}}{{/each}} mid {{#each c}}{{/each}} {{#each open}}`
	dirs := Scan(doc)
	blocks := TopLevelBlocks(dirs, KindEach)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 top-level blocks, got %d", len(blocks))
	}
	if blocks[0].Open.Path != "a" || blocks[1].Open.Path != "c" {
		t.Errorf("unexpected blocks %q %q", blocks[0].Open.Path, blocks[1].Open.Path)
	}
	if body := blocks[0].Body(doc); body != "{{#each b}}{{/each}}" {
		t.Errorf("unexpected body %q", body)
	}
}

func TestIsPath(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"title", true},
		{"offer.items.0.title", true},
		{"this", true},
		{"@index", true},
		{"hero-image", true},
		{"_path", true},
		{"0", false},
		{"a..b", false},
		{"a.", false},
		{"@", false},
		{"a b", false},
		{"a|b", false},
	}
	for _, tt := range tests {
		if got := IsPath(tt.in); got != tt.want {
			t.Errorf("IsPath(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNoDirectivesInPlainHTML(t *testing.T) {
	doc := `<html><head><style>td { padding: 0 }</style></head><body><p>Hello</p></body></html>`
	if got := Scan(doc); len(got) != 0 {
		t.Errorf("expected no directives in plain HTML, got %d", len(got))
	}
}
