// internal/pattern/pattern.go
package pattern

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrMissingWildcard is returned by Instantiate when the binding does not
// supply a value for every wildcard in the pattern.
var ErrMissingWildcard = errors.New("missing wildcard value")

// nameRegex restricts wildcard names to identifiers.
var nameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// segment is either a literal run of text or a wildcard slot.
type segment struct {
	literal    string
	name       string
	constraint string
}

func (s segment) isWildcard() bool { return s.name != "" }

// Pattern is a parsed path template. It is immutable and safe for concurrent use.
type Pattern struct {
	raw      string
	segments []segment
	names    []string
	re       *regexp.Regexp
	groups   []string // wildcard name for each capture group, in order
}

// Parse compiles a raw pattern string.
func Parse(raw string) (*Pattern, error) {
	if raw == "" {
		return nil, fmt.Errorf("pattern cannot be empty")
	}

	p := &Pattern{raw: raw}
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			p.segments = append(p.segments, segment{literal: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch c {
		case '{':
			if i+1 < len(raw) && raw[i+1] == '{' {
				lit.WriteByte('{')
				i++
				continue
			}
			end := ClosingBrace(raw, i)
			if end < 0 {
				return nil, fmt.Errorf("pattern %q: unclosed '{' at offset %d", raw, i)
			}
			body := raw[i+1 : end]
			name, constraint, _ := strings.Cut(body, ",")
			name = strings.TrimSpace(name)
			if !nameRegex.MatchString(name) {
				return nil, fmt.Errorf("pattern %q: invalid wildcard name %q", raw, name)
			}
			if constraint != "" {
				if _, err := regexp.Compile(constraint); err != nil {
					return nil, fmt.Errorf("pattern %q: invalid constraint for wildcard %q: %w", raw, name, err)
				}
			}
			flush()
			p.segments = append(p.segments, segment{name: name, constraint: constraint})
			i = end
		case '}':
			if i+1 < len(raw) && raw[i+1] == '}' {
				lit.WriteByte('}')
				i++
				continue
			}
			return nil, fmt.Errorf("pattern %q: unmatched '}' at offset %d", raw, i)
		default:
			lit.WriteByte(c)
		}
	}
	flush()

	p.compile()
	return p, nil
}

// ClosingBrace returns the index of the '}' closing the '{' at s[open], or -1.
// Nested braces, such as the quantifier in `{n,\d{2}}`, are balanced and
// backslash-escaped characters are skipped.
func ClosingBrace(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// MustParse is like Parse but panics on error. It is intended for tests and
// package-level fixtures.
func MustParse(raw string) *Pattern {
	p, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Pattern) compile() {
	seen := make(map[string]bool)
	var sb strings.Builder
	sb.WriteRune('^')
	for _, seg := range p.segments {
		if !seg.isWildcard() {
			sb.WriteString(regexp.QuoteMeta(seg.literal))
			continue
		}
		if !seen[seg.name] {
			seen[seg.name] = true
			p.names = append(p.names, seg.name)
		}
		expr := ".+"
		if seg.constraint != "" {
			expr = seg.constraint
		}
		// Named groups keep group indices stable even when a constraint
		// carries capture groups of its own.
		fmt.Fprintf(&sb, "(?P<w%d>(?:%s))", len(p.groups), expr)
		p.groups = append(p.groups, seg.name)
	}
	sb.WriteRune('$')
	p.re = regexp.MustCompile(sb.String())
}

// String returns the raw pattern text.
func (p *Pattern) String() string { return p.raw }

// Wildcards returns the distinct wildcard names in order of first appearance.
func (p *Pattern) Wildcards() []string {
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

// HasWildcards reports whether the pattern contains at least one slot.
func (p *Pattern) HasWildcards() bool { return len(p.names) > 0 }

// Match matches a concrete path against the pattern, returning the bound
// wildcard values on success.
func (p *Pattern) Match(path string) (Binding, bool) {
	if !p.HasWildcards() {
		if path == p.Literal() {
			return Binding{}, true
		}
		return nil, false
	}

	m := p.re.FindStringSubmatch(path)
	if m == nil {
		return nil, false
	}
	b := make(Binding, len(p.names))
	for i, name := range p.groups {
		val := m[p.re.SubexpIndex(fmt.Sprintf("w%d", i))]
		if prev, ok := b[name]; ok && prev != val {
			return nil, false
		}
		b[name] = val
	}
	return b, true
}

// Literal returns the pattern text with escapes resolved. It is only
// meaningful for patterns without wildcards.
func (p *Pattern) Literal() string {
	var sb strings.Builder
	for _, seg := range p.segments {
		sb.WriteString(seg.literal)
	}
	return sb.String()
}

// Instantiate substitutes the binding into the pattern. Every wildcard must
// be bound; extra names in the binding are ignored.
func (p *Pattern) Instantiate(b Binding) (string, error) {
	var sb strings.Builder
	for _, seg := range p.segments {
		if !seg.isWildcard() {
			sb.WriteString(seg.literal)
			continue
		}
		val, ok := b[seg.name]
		if !ok {
			return "", fmt.Errorf("pattern %q: %w %q", p.raw, ErrMissingWildcard, seg.name)
		}
		sb.WriteString(val)
	}
	return sb.String(), nil
}
