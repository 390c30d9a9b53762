package binding

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sambeau/stitch/pkg/stitch/value"
)

func TestDefaultRules(t *testing.T) {
	tests := []struct {
		name  string
		model string
		rec   value.Record
		want  bool
	}{
		{"content stub", "content", value.Record{"_id": "1", "_path": "/p", "_model": "content"}, false},
		{"content with field", "content", value.Record{"_id": "1", "headline": "Hi"}, true},
		{"empty content", "content", nil, false},
		{"properties complete", "properties", value.Record{
			"style":  map[string]any{"color": "#000"},
			"brands": []any{map[string]any{"name": "acme"}},
		}, true},
		{"properties no style", "properties", value.Record{"brands": []any{"a"}}, false},
		{"properties style not object", "properties", value.Record{"style": "bold", "brands": []any{"a"}}, false},
		{"properties empty brands", "properties", value.Record{"style": map[string]any{}, "brands": []any{}}, false},
	}
	reg := DefaultRegistry()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := reg.Lookup(tt.model)
			if !ok {
				t.Fatalf("model %q missing", tt.model)
			}
			if got := m.Sufficient(tt.rec); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRequireFields(t *testing.T) {
	reg := DefaultRegistry()
	reg.RequireFields("content", "headline", "cta.url")
	reg.RequireFields("offer", "code")

	content, _ := reg.Lookup("content")
	if content.Sufficient(value.Record{"headline": "Hi"}) {
		t.Error("missing cta.url should be insufficient")
	}
	if !content.Sufficient(value.Record{"headline": "Hi", "cta": map[string]any{"url": "/go"}}) {
		t.Error("complete record should be sufficient")
	}

	offer, ok := reg.Lookup("offer")
	if !ok || offer.Namespace != "offer" {
		t.Fatalf("expected offer registered under its own namespace, got %+v", offer)
	}
	if offer.Sufficient(value.Record{"code": ""}) {
		t.Error("empty required field should be insufficient")
	}
	if diff := cmp.Diff([]string{"content", "properties", "offer"}, reg.Namespaces()); diff != "" {
		t.Errorf("namespaces mismatch (-want +got):\n%s", diff)
	}
}

func TestPrimary(t *testing.T) {
	m, ok := DefaultRegistry().Primary()
	if !ok || m.Name != "content" {
		t.Errorf("expected content to be primary, got %+v", m)
	}
	if _, ok := NewRegistry(Model{Name: "x"}).Primary(); ok {
		t.Error("registry without primary model should report none")
	}
}

func TestDiscoverField(t *testing.T) {
	tests := []struct {
		name      string
		fields    []FieldDescriptor
		model     string
		wantField string
		wantArg   string
		wantOK    bool
	}{
		{"exact", []FieldDescriptor{{Name: "contentById", Args: []string{"_id"}}}, "content", "contentById", "_id", true},
		{"case drift", []FieldDescriptor{{Name: "ContentBYID", Args: []string{"id"}}}, "content", "ContentBYID", "id", true},
		{"prefix and suffix", []FieldDescriptor{{Name: "propertiesModelById", Args: []string{"path", "variation"}}}, "properties", "propertiesModelById", "path", true},
		{"plural", []FieldDescriptor{{Name: "contents", Args: []string{"filter"}}}, "content", "contents", "filter", true},
		{"no args", []FieldDescriptor{{Name: "content"}}, "content", "content", "_id", true},
		{"no match", []FieldDescriptor{{Name: "assetList"}}, "content", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, a, ok := DiscoverField(tt.fields, tt.model)
			if f != tt.wantField || a != tt.wantArg || ok != tt.wantOK {
				t.Errorf("got (%q, %q, %v), want (%q, %q, %v)", f, a, ok, tt.wantField, tt.wantArg, tt.wantOK)
			}
		})
	}
}
