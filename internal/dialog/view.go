package dialog

import (
	"reflect"
)

// screenFieldKey names the repeated group whose elements are matched by name
// instead of by position.
const screenFieldKey = "screenField"

// PrepareResponseView merges a freshly received view tree into the previous
// one. Subtrees whose leaves are unchanged are returned as the previous value
// itself, so callers can tell untouched branches apart without walking them.
// When nothing changed the result is prev and changed is false.
//
// Leaves compare with eq, which treats nil and "" as the same value.
func PrepareResponseView(prev, next any) (result any, changed bool) {
	switch n := next.(type) {
	case map[string]any:
		p, ok := prev.(map[string]any)
		if !ok {
			return next, true
		}
		out := make(map[string]any, len(n))
		for k, v := range n {
			var r any
			var c bool
			if k == screenFieldKey {
				r, c = prepareNamed(p[k], v)
			} else {
				r, c = PrepareResponseView(p[k], v)
			}
			out[k] = r
			changed = changed || c
		}
		for k := range p {
			if _, ok := n[k]; !ok {
				changed = true
			}
		}
		if !changed {
			return prev, false
		}
		return out, true

	case []any:
		p, ok := prev.([]any)
		if !ok {
			return next, true
		}
		out := make([]any, len(n))
		changed = len(p) != len(n)
		for i, v := range n {
			var pv any
			if i < len(p) {
				pv = p[i]
			}
			r, c := PrepareResponseView(pv, v)
			out[i] = r
			changed = changed || c
		}
		if !changed {
			return prev, false
		}
		return out, true

	default:
		if eq(prev, next) {
			return prev, false
		}
		return next, true
	}
}

// prepareNamed diffs a screenField array, pairing elements by their name.
func prepareNamed(prev, next any) (any, bool) {
	n, ok := next.([]any)
	if !ok {
		return PrepareResponseView(prev, next)
	}
	p, ok := prev.([]any)
	if !ok {
		return next, true
	}

	byName := make(map[string]any, len(p))
	for _, e := range p {
		if name, ok := elementName(e); ok {
			byName[name] = e
		}
	}

	out := make([]any, len(n))
	changed := len(p) != len(n)
	for i, e := range n {
		name, named := elementName(e)
		var pe any
		switch {
		case named:
			pe = byName[name]
		case i < len(p):
			pe = p[i]
		}
		if !changed && i < len(p) {
			prevName, _ := elementName(p[i])
			changed = prevName != name
		}
		r, c := PrepareResponseView(pe, e)
		out[i] = r
		changed = changed || c
	}
	if !changed {
		return prev, false
	}
	return out, true
}

func elementName(e any) (string, bool) {
	m, ok := e.(map[string]any)
	if !ok {
		return "", false
	}
	name, ok := m["name"].(string)
	return name, ok
}

// eq compares two leaf values. nil and the empty string are equal.
func eq(a, b any) bool {
	if nullish(a) && nullish(b) {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

func nullish(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// PrepareRequestView trims a view tree before it is sent: nil and empty
// values are dropped and the transient focused flag is removed from
// screenField entries. Array positions are kept.
func PrepareRequestView(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			if k == screenFieldKey {
				x = stripFocused(x)
			}
			r := PrepareRequestView(x)
			if empty(r) {
				continue
			}
			out[k] = r
		}
		if len(out) == 0 {
			return nil
		}
		return out

	case []any:
		if len(t) == 0 {
			return nil
		}
		out := make([]any, len(t))
		for i, x := range t {
			if r := PrepareRequestView(x); !empty(r) {
				out[i] = r
			}
		}
		return out

	case string:
		if t == "" {
			return nil
		}
		return t
	}
	return v
}

func stripFocused(v any) any {
	rows, ok := v.([]any)
	if !ok {
		return v
	}
	out := make([]any, len(rows))
	for i, row := range rows {
		m, ok := row.(map[string]any)
		if !ok {
			out[i] = row
			continue
		}
		c := make(map[string]any, len(m))
		for k, x := range m {
			if k != "focused" {
				c[k] = x
			}
		}
		out[i] = c
	}
	return out
}

func empty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	return false
}
