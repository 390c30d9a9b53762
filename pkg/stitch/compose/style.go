package compose

import (
	"github.com/sambeau/stitch/pkg/stitch/value"
)

// styles derives one style context per primary-model occurrence. A primary
// record's style is its properties record's style, overlaid with the entry
// of that record's brands list matching the primary record's brand, overlaid
// with the primary record's own override object.
//
// The properties record is the nearest preceding resolved one, falling back
// to the first resolved one in the document. base is the style in force
// before the first primary occurrence; byIndex is keyed by occurrence index.
func (c *Composer) styles(occs []placed) (base map[string]any, byIndex map[int]map[string]any) {
	primary, ok := c.registry.Primary()

	var first value.Record
	for _, o := range occs {
		if o.Model == c.styleModel && o.Record != nil {
			first = o.Record
			break
		}
	}
	base = styleOf(first)
	byIndex = make(map[int]map[string]any)
	if !ok {
		return base, byIndex
	}

	p := first
	for _, o := range occs {
		if o.Model == c.styleModel && o.Record != nil {
			p = o.Record
			continue
		}
		if o.Model != primary.Name {
			continue
		}
		st := styleOf(p)
		if o.Record != nil {
			if brand := value.String(o.Record["brand"]); brand != "" {
				st = overlay(st, brandStyle(p, brand))
			}
			if ov, ok := value.AsMap(o.Record[c.overrideField]); ok {
				st = overlay(st, ov)
			}
		}
		byIndex[o.Index] = st
	}
	return base, byIndex
}

func styleOf(rec value.Record) map[string]any {
	if rec == nil {
		return nil
	}
	m, _ := value.AsMap(rec["style"])
	return m
}

func brandStyle(props value.Record, brand string) map[string]any {
	brands, ok := props.Get("brands")
	if !ok {
		return nil
	}
	for _, b := range value.ToSlice(brands) {
		m, ok := value.AsMap(b)
		if !ok {
			continue
		}
		if value.String(m["name"]) == brand || value.String(m["id"]) == brand {
			st, _ := value.AsMap(m["style"])
			return st
		}
	}
	return nil
}

// overlay returns a new map with top's keys laid over base's.
func overlay(base, top map[string]any) map[string]any {
	if len(top) == 0 {
		return base
	}
	out := make(map[string]any, len(base)+len(top))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range top {
		out[k] = v
	}
	return out
}

// placed is a binding occurrence as the composer sees it. Record is nil
// unless the occurrence resolved.
type placed struct {
	Index     int
	Model     string
	StreamKey string
	Record    value.Record
}
