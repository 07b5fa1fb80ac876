package policy

import (
	"sort"

	"github.com/samber/lo"
)

// Values maps a field name to its replacement value.
type Values map[string]any

// Kind tells static plans from generated ones.
type Kind int

const (
	KindStatic Kind = iota
	KindGenerated
)

func (k Kind) String() string {
	if k == KindGenerated {
		return "generated"
	}
	return "static"
}

// Plan describes which fields of a collection are replaced and with what.
// A static plan yields the same values on every evaluation; a generated plan
// calls its function each time, so every document gets its own identity.
type Plan struct {
	kind     Kind
	fields   []string
	static   Values
	generate func() Values
}

// Static returns a plan that writes the same values to every matched document.
func Static(values Values) Plan {
	fields := lo.Keys(values)
	sort.Strings(fields)
	return Plan{kind: KindStatic, fields: fields, static: values}
}

// Generated returns a plan that computes fresh values per evaluation. Fields
// the function leaves out are filled from Defaults, or the empty string.
func Generated(fields []string, fn func() Values) Plan {
	sorted := lo.Uniq(fields)
	sort.Strings(sorted)
	return Plan{kind: KindGenerated, fields: sorted, generate: fn}
}

// Kind reports whether the plan is static or generated.
func (p Plan) Kind() Kind { return p.kind }

// PerDocument reports whether the plan must be evaluated once per document.
func (p Plan) PerDocument() bool { return p.kind == KindGenerated }

// Fields returns the sorted target field names.
func (p Plan) Fields() []string {
	out := make([]string, len(p.fields))
	copy(out, p.fields)
	return out
}

// Evaluate computes the replacement values. The result always holds exactly
// the plan's fields.
func (p Plan) Evaluate() Values {
	var produced Values
	if p.kind == KindGenerated && p.generate != nil {
		produced = p.generate()
	} else {
		produced = p.static
	}

	out := make(Values, len(p.fields))
	for _, f := range p.fields {
		if v, ok := produced[f]; ok {
			out[f] = v
			continue
		}
		out[f] = DefaultValue(f)
	}
	return out
}

// Defaults are the replacement values used instead of the empty string.
var Defaults = Values{
	"province":         "BC",
	"businessProvince": "BC",
}

// DefaultValue returns the default replacement for a field.
func DefaultValue(field string) any {
	if v, ok := Defaults[field]; ok {
		return v
	}
	return ""
}

// Blank returns a static plan that resets each field to its default.
func Blank(fields ...string) Plan {
	values := make(Values, len(fields))
	for _, f := range fields {
		values[f] = DefaultValue(f)
	}
	return Static(values)
}
