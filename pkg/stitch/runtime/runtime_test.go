package runtime

import (
	"strings"
	"testing"

	"github.com/sambeau/stitch/pkg/stitch/assign"
	"github.com/sambeau/stitch/pkg/stitch/value"
)

func render(t *testing.T, doc string, vars map[string]any) string {
	t.Helper()
	in := New(Options{Assign: assign.New(assign.Options{})})
	return in.Render(doc, value.NewScope(vars))
}

func TestEachBodyCopy(t *testing.T) {
	vars := map[string]any{"bodyCopy": []any{"<p>A</p>", "<p>B</p>"}}

	got := render(t, `<div>{{#each bodyCopy}}{{{this}}}{{/each}}</div>`, vars)
	if got != "<div><p>A</p><p>B</p></div>" {
		t.Errorf("unexpected %q", got)
	}

	got = render(t, `<p>{{{bodyCopy}}}</p>`, vars)
	if got != "<p><p>A</p><p>B</p></p>" {
		t.Errorf("unexpected %q", got)
	}
}

func TestRender(t *testing.T) {
	vars := map[string]any{
		"title": "Fish & Chips",
		"offers": []any{
			map[string]any{"name": "Cod", "sizes": []any{"S", "L"}},
			map[string]any{"name": "Haddock", "sizes": []any{"M"}},
		},
		"single": map[string]any{"name": "Only"},
		"none":   nil,
		"hero":   map[string]any{"_path": "/content/dam/hero.png"},
	}
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"escaped token", `<h1>{{title}}</h1>`, `<h1>Fish &amp; Chips</h1>`},
		{"raw token", `<h1>{{{title}}}</h1>`, `<h1>Fish & Chips</h1>`},
		{"undefined token kept", `<p>{{nope}}</p>`, `<p>{{nope}}</p>`},
		{"path object", `<img src="{{hero}}">`, `<img src="/content/dam/hero.png">`},
		{"merged fields", `{{#each offers}}[{{name}}]{{/each}}`, `[Cod][Haddock]`},
		{"alias", `{{#each offers as |o|}}{{o.name}};{{/each}}`, `Cod;Haddock;`},
		{"meta", `{{#each offers}}{{@index}}{{#if}}{{@first}}/{{@last}} {{/each}}`, `0{{#if}}true/false 1{{#if}}false/true `},
		{"outer scope visible", `{{#each offers}}{{name}}-{{title}} {{/each}}`, `Cod-Fish &amp; Chips Haddock-Fish &amp; Chips `},
		{"nested", `{{#each offers as |o|}}{{o.name}}:{{#each o.sizes as |s|}}{{s}}{{/each}} {{/each}}`, `Cod:SL Haddock:M `},
		{"non sequence", `{{#each single}}<{{name}}>{{/each}}`, `<Only>`},
		{"null is empty", `a{{#each none}}x{{/each}}b`, `ab`},
		{"undefined block verbatim", `a{{#each missing}}{{title}}{{/each}}b`, `a{{#each missing}}{{title}}{{/each}}b`},
		{"unmatched open", `{{#each offers}}{{title}}`, `{{#each offers}}Fish &amp; Chips`},
		{"let in loop", `{{#each offers as |o|}}{% let n = o.name %}<b>{{n}}</b>{{/each}}`, `<b>Cod</b><b>Haddock</b>`},
		{"rich block untouched", `{{#rich style="x"}}{{title}}{{/rich}}`, `{{#rich style="x"}}Fish &amp; Chips{{/rich}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := render(t, tt.in, vars); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestMaxDepthLeavesInnerBlocksVerbatim(t *testing.T) {
	vars := map[string]any{"xs": []any{"a"}}
	doc := strings.Repeat("{{#each xs}}", 3) + "{{this}}" + strings.Repeat("{{/each}}", 3)

	in := New(Options{MaxDepth: 2})
	got := in.Render(doc, value.NewScope(vars))
	want := "{{#each xs}}{{this}}{{/each}}"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	if got := New(Options{}).Render(doc, value.NewScope(vars)); got != "a" {
		t.Errorf("default depth should expand all three levels, got %q", got)
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	vars := map[string]any{"offers": []any{
		map[string]any{"a": 1.0, "b": 2.0, "c": 3.0},
	}}
	doc := `{{#each offers}}{{{this}}}|{{a}}{{b}}{{c}}{{/each}}`
	first := render(t, doc, vars)
	for i := 0; i < 20; i++ {
		if got := render(t, doc, vars); got != first {
			t.Fatalf("run %d differs: %q vs %q", i, got, first)
		}
	}
}
