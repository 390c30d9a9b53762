package compose

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/net/html"

	"github.com/sambeau/stitch/pkg/stitch/binding"
	"github.com/sambeau/stitch/pkg/stitch/value"
)

// occurrences builds resolved rows in binding order; a nil record is an
// unresolved occurrence.
func occurrences(records ...value.Record) []binding.Occurrence {
	out := make([]binding.Occurrence, len(records))
	for i, r := range records {
		out[i] = binding.Occurrence{Index: i, Status: binding.StatusUnresolved, Source: binding.SourceMiss}
		if r != nil {
			out[i].Status = binding.StatusResolved
			out[i].Source = binding.SourceStream
			out[i].Value = r
		}
	}
	return out
}

func compose(doc string, occs []binding.Occurrence, params map[string]any) Output {
	return New(Options{}).Compose(Input{Document: doc, Occurrences: occs, Params: params})
}

func TestContextFollowsPrecedingBinding(t *testing.T) {
	doc := `<h1>{{title}}</h1>` +
		`{{binding model="content" id="a"}}<h1>{{title}}</h1>` +
		`{{binding model="content" id="b"}}<h1>{{content.title}}</h1>`
	out := compose(doc, occurrences(value.Record{"title": "A"}, value.Record{"title": "B"}), nil)

	want := `<h1>{{title}}</h1><h1>A</h1><h1>B</h1>`
	if out.Document != want {
		t.Errorf("expected %q, got %q", want, out.Document)
	}
}

func TestUnresolvedBindingDoesNotInheritContext(t *testing.T) {
	doc := `{{binding model="content" id="a"}}<h1>{{title}}</h1>` +
		`{{binding model="content" id="b"}}<h1>{{content.title}}</h1>`
	out := compose(doc, occurrences(value.Record{"title": "A"}, nil), nil)

	want := `<h1>A</h1><h1>{{content.title}}</h1>`
	if out.Document != want {
		t.Errorf("expected %q, got %q", want, out.Document)
	}
	if diff := cmp.Diff([]string{"COMP-0003"}, out.Warnings.Codes()); diff != "" {
		t.Errorf("warnings mismatch (-want +got):\n%s", diff)
	}
}

func TestStyleDerivation(t *testing.T) {
	props := value.Record{
		"style": map[string]any{"color": "#000", "font": "Arial"},
		"brands": []any{
			map[string]any{"name": "other", "style": map[string]any{"color": "#00f"}},
			map[string]any{"name": "acme", "style": map[string]any{"color": "#c00"}},
		},
	}
	content := value.Record{
		"headline":      "Hi",
		"brand":         "acme",
		"styleOverride": map[string]any{"font": "Georgia"},
	}
	plain := value.Record{"headline": "Plain"}
	doc := `<i>{{style.font}}</i>` +
		`{{binding model="properties" id="p"}}` +
		`{{binding model="content" id="c"}}<p style="color:{{style.color}};font:{{style.font}}">{{headline}}</p>` +
		`{{binding model="content" id="d"}}<p style="color:{{style.color}};font:{{style.font}}">{{headline}}</p>`

	out := compose(doc, occurrences(props, content, plain), nil)

	want := `<i>Arial</i>` +
		`<p style="color:#c00;font:Georgia">Hi</p>` +
		`<p style="color:#000;font:Arial">Plain</p>`
	if out.Document != want {
		t.Errorf("expected:\n%s\ngot:\n%s", want, out.Document)
	}
}

func TestPropertiesNamespaceWalk(t *testing.T) {
	doc := `{{binding model="properties" id="p"}}<footer>{{properties.legal}}</footer>`
	props := value.Record{
		"legal":  "© Acme",
		"style":  map[string]any{},
		"brands": []any{"acme"},
	}
	out := compose(doc, occurrences(props), nil)
	if out.Document != `<footer>© Acme</footer>` {
		t.Errorf("unexpected %q", out.Document)
	}
}

func TestParamsAndStatements(t *testing.T) {
	doc := `{{binding model="content" id="c"}}{% let y = startDate | date: "%Y" %}` +
		`<p>{{params.firstName}}, offer ends {{y}}</p>`
	out := compose(doc, occurrences(value.Record{"startDate": "2024-03-05"}), map[string]any{"firstName": "Ada"})

	if out.Document != `<p>Ada, offer ends 2024</p>` {
		t.Errorf("unexpected %q", out.Document)
	}
	if len(out.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", out.Warnings)
	}
}

func TestEachAcrossBindingBoundaryIsStripped(t *testing.T) {
	doc := `{{binding model="content" id="a"}}{{#each items}}<li>{{this}}</li>` +
		`{{binding model="content" id="b"}}{{/each}}`
	out := compose(doc, occurrences(value.Record{"items": []any{"x"}}, value.Record{"items": []any{"y"}}), nil)

	if out.Document != `<li>{{this}}</li>` {
		t.Errorf("unexpected %q", out.Document)
	}
	if diff := cmp.Diff([]string{"COMP-0001", "COMP-0001"}, out.Warnings.Codes()); diff != "" {
		t.Errorf("warnings mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTripWithoutDirectives(t *testing.T) {
	doc := "<!doctype html>\n<html><head><style>p{color:red}</style><!-- note --></head>" +
		"<body><p class=\"x\">Hello &amp; welcome</p><script>if (a < b) {}</script></body></html>"
	out := compose(doc, nil, nil)
	if out.Document != doc {
		t.Errorf("document changed:\n%s\n%s", doc, out.Document)
	}
	if len(out.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", out.Warnings)
	}
}

func TestComposeIsDeterministic(t *testing.T) {
	doc := `{{binding model="content" id="a"}}{{#each offers as |o|}}{{{o}}}|{{/each}}` +
		`{{#rich style="color:red"}}<p>{{ref "b"}}{{ref "a"}}</p>{{/rich}}{{references}}`
	occs := occurrences(value.Record{"offers": []any{
		map[string]any{"z": 1.0, "a": 2.0, "m": []any{"x", "y"}},
		map[string]any{"k": "v"},
	}})
	first := compose(doc, occs, nil).Document
	for i := 0; i < 20; i++ {
		if got := compose(doc, occs, nil).Document; got != first {
			t.Fatalf("run %d differs:\n%s\n%s", i, first, got)
		}
	}
}

func TestSubstitutedValuesAreNotReparsed(t *testing.T) {
	props := value.Record{"discount": "50%", "style": map[string]any{}, "brands": []any{"acme"}}
	doc := `{{binding model="content" id="c"}}{{binding model="properties" id="p"}}<h1>{{headline}}</h1>`

	tests := []struct {
		name     string
		headline string
	}{
		{"token", "Type {{discount}} literally"},
		{"block and statement", "A {{#each x}} B {% let z = 1 %}"},
		{"marker", `<!--stitch:binding index="1" model="properties"-->{{discount}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := compose(doc, occurrences(value.Record{"headline": tt.headline}, props), nil)
			want := "<h1>" + html.EscapeString(tt.headline) + "</h1>"
			if out.Document != want {
				t.Errorf("expected %q, got %q", want, out.Document)
			}
			if len(out.Warnings) != 0 {
				t.Errorf("expected no warnings, got %v", out.Warnings.Codes())
			}
		})
	}
}

func TestLoopItemsAreNotReparsed(t *testing.T) {
	doc := `{{binding model="content" id="c"}}<ul>{{#each items}}<li>{{{this}}}</li>{{/each}}</ul>`
	rec := value.Record{"items": []any{"{% let y = 2 %}{{y}}", "{{#each items}}"}}
	out := compose(doc, occurrences(rec), nil)

	want := `<ul><li>{% let y = 2 %}{{y}}</li><li>{{#each items}}</li></ul>`
	if out.Document != want {
		t.Errorf("expected %q, got %q", want, out.Document)
	}
	if len(out.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", out.Warnings.Codes())
	}
}

