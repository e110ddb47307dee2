// internal/pattern/binding.go
package pattern

import (
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// Binding maps wildcard names to the concrete values matched for one
// instantiation of a rule.
type Binding map[string]string

// Names returns the bound wildcard names in sorted order.
func (b Binding) Names() []string {
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Key returns the canonical `name=value,...` form of the binding, sorted by
// name. Values that contain a separator, a quote, or a non-printable rune are
// written Go-quoted, so two bindings share a key only if they are equal.
func (b Binding) Key() string {
	if len(b) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, name := range b.Names() {
		if i > 0 {
			sb.WriteRune(',')
		}
		sb.WriteString(name)
		sb.WriteRune('=')
		sb.WriteString(keyValue(b[name]))
	}
	return sb.String()
}

func keyValue(v string) string {
	plain := v != "" && !strings.ContainsAny(v, ",=[]\"") &&
		strings.IndexFunc(v, func(r rune) bool { return !unicode.IsPrint(r) }) < 0
	if plain {
		return v
	}
	return strconv.Quote(v)
}

// Restrict returns a copy of the binding holding only the given names.
func (b Binding) Restrict(names []string) Binding {
	out := make(Binding, len(names))
	for _, name := range names {
		if v, ok := b[name]; ok {
			out[name] = v
		}
	}
	return out
}

// Equal reports whether both bindings hold the same names and values.
func (b Binding) Equal(other Binding) bool {
	if len(b) != len(other) {
		return false
	}
	for k, v := range b {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}
