package metadata

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// FilterParam is the URL query parameter carrying active filters.
const FilterParam = "filters"

// Filters is the active filter state: trait -> selected values. A token matches when, for
// every trait present, its value for that trait is one of the selected values.
type Filters map[string]map[string]struct{}

// Toggle selects value under trait, or unselects it if it was selected. Traits left with
// no selection are removed.
func (f Filters) Toggle(trait, value string) {
	values, ok := f[trait]
	if !ok {
		f[trait] = map[string]struct{}{value: {}}
		return
	}
	if _, selected := values[value]; selected {
		delete(values, value)
		if len(values) == 0 {
			delete(f, trait)
		}
		return
	}
	values[value] = struct{}{}
}

// Clear removes one trait, or every trait when trait is "".
func (f Filters) Clear(trait string) {
	if trait != "" {
		delete(f, trait)
		return
	}
	for k := range f {
		delete(f, k)
	}
}

func (f Filters) Selected(trait, value string) bool {
	_, ok := f[trait][value]
	return ok
}

// Active reports whether any value is selected.
func (f Filters) Active() bool {
	for _, values := range f {
		if len(values) > 0 {
			return true
		}
	}
	return false
}

// Matches applies the filters to one token's attributes.
func (f Filters) Matches(attrs []Attribute) bool {
	for trait, selected := range f {
		if len(selected) == 0 {
			continue
		}
		hit := false
		for _, a := range attrs {
			if a.TraitType != trait {
				continue
			}
			if _, ok := selected[a.Value]; ok {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

// Apply resolves the filters against an index and returns the matching token ids. It
// returns nil when no filter is active, meaning every token matches.
func (f Filters) Apply(idx Index) map[string]struct{} {
	if !f.Active() {
		return nil
	}

	traits := make([]string, 0, len(f))
	for trait, values := range f {
		if len(values) > 0 {
			traits = append(traits, trait)
		}
	}
	sort.Strings(traits)

	var result map[string]struct{}
	for _, trait := range traits {
		union := map[string]struct{}{}
		for value := range f[trait] {
			for id := range idx[trait][value] {
				union[id] = struct{}{}
			}
		}
		if result == nil {
			result = union
			continue
		}
		for id := range result {
			if _, ok := union[id]; !ok {
				delete(result, id)
			}
		}
	}
	return result
}

// Filter keeps the tokens matching f, preserving order.
func (f Filters) Filter(tokens []Token) []Token {
	if !f.Active() {
		return tokens
	}
	out := make([]Token, 0, len(tokens))
	for _, tok := range tokens {
		attrs, err := Attributes(tok.Metadata)
		if err != nil {
			continue
		}
		if f.Matches(attrs) {
			out = append(out, tok)
		}
	}
	return out
}

// Clone returns a deep copy.
func (f Filters) Clone() Filters {
	out := make(Filters, len(f))
	for trait, values := range f {
		cp := make(map[string]struct{}, len(values))
		for v := range values {
			cp[v] = struct{}{}
		}
		out[trait] = cp
	}
	return out
}

// SerializeFilters encodes f as "trait:v1|v2;trait2:v3" with every trait and value query
// escaped, traits and values sorted. Empty selections are dropped.
func SerializeFilters(f Filters) string {
	traits := make([]string, 0, len(f))
	for trait, values := range f {
		if len(values) > 0 {
			traits = append(traits, trait)
		}
	}
	sort.Strings(traits)

	parts := make([]string, 0, len(traits))
	for _, trait := range traits {
		values := make([]string, 0, len(f[trait]))
		for v := range f[trait] {
			values = append(values, url.QueryEscape(v))
		}
		sort.Strings(values)
		parts = append(parts, url.QueryEscape(trait)+":"+strings.Join(values, "|"))
	}
	return strings.Join(parts, ";")
}

// ParseFilters decodes the output of SerializeFilters.
func ParseFilters(s string) (Filters, error) {
	f := Filters{}
	if s == "" {
		return f, nil
	}
	for _, part := range strings.Split(s, ";") {
		trait, rawValues, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("invalid filter segment %q", part)
		}
		name, err := url.QueryUnescape(trait)
		if err != nil {
			return nil, fmt.Errorf("invalid trait %q: %w", trait, err)
		}
		values := map[string]struct{}{}
		for _, raw := range strings.Split(rawValues, "|") {
			v, err := url.QueryUnescape(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid value %q: %w", raw, err)
			}
			values[v] = struct{}{}
		}
		f[name] = values
	}
	return f, nil
}

// FiltersFromQuery reads FilterParam from URL query values.
func FiltersFromQuery(q url.Values) (Filters, error) {
	return ParseFilters(q.Get(FilterParam))
}

// EncodeQuery writes f into q under FilterParam, removing the parameter when f is empty.
func (f Filters) EncodeQuery(q url.Values) {
	s := SerializeFilters(f)
	if s == "" {
		q.Del(FilterParam)
		return
	}
	q.Set(FilterParam, s)
}
