package registry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/vk/burstmake/internal/pattern"
)

// ErrUnknownPlaceholder is returned when an action references a value that
// the job does not provide.
var ErrUnknownPlaceholder = errors.New("unknown placeholder")

// ActionContext carries the concrete values a job exposes to its action.
type ActionContext struct {
	Rule      string
	Inputs    []string
	Outputs   []string
	Wildcards pattern.Binding
	Threads   int
	Resources map[string]int
}

// Action renders the shell command for a concrete job.
type Action interface {
	Render(ActionContext) (string, error)
	String() string
}

// FormatAction is a shell command template using brace placeholders:
//
//	{input} {input[0]} {output} {output[1]} {wildcards.sample}
//	{threads} {rule} {resources.mem_mb}
//
// `{{` and `}}` produce literal braces.
type FormatAction string

// Render implements Action.
func (a FormatAction) Render(ac ActionContext) (string, error) {
	return Expand(string(a), ac)
}

func (a FormatAction) String() string { return string(a) }

// Expand substitutes every placeholder in tmpl with the values from ac.
func Expand(tmpl string, ac ActionContext) (string, error) {
	return ExpandFunc(tmpl, func(key string) (string, error) {
		return lookupAction(key, ac)
	})
}

// ExpandFunc substitutes every `{key}` in tmpl with the value returned by
// lookup. `{{` and `}}` produce literal braces.
func ExpandFunc(tmpl string, lookup func(key string) (string, error)) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch {
		case c == '{' && i+1 < len(tmpl) && tmpl[i+1] == '{':
			sb.WriteByte('{')
			i++
		case c == '}' && i+1 < len(tmpl) && tmpl[i+1] == '}':
			sb.WriteByte('}')
			i++
		case c == '{':
			end := pattern.ClosingBrace(tmpl, i)
			if end < 0 {
				return "", fmt.Errorf("unclosed '{' at offset %d in %q", i, tmpl)
			}
			key := strings.TrimSpace(tmpl[i+1 : end])
			val, err := lookup(key)
			if err != nil {
				return "", err
			}
			sb.WriteString(val)
			i = end
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String(), nil
}

func lookupAction(key string, ac ActionContext) (string, error) {
	switch key {
	case "input":
		return strings.Join(ac.Inputs, " "), nil
	case "output":
		return strings.Join(ac.Outputs, " "), nil
	case "threads":
		return strconv.Itoa(ac.Threads), nil
	case "rule":
		return ac.Rule, nil
	}

	if name, ok := strings.CutPrefix(key, "wildcards."); ok {
		if v, ok := ac.Wildcards[name]; ok {
			return v, nil
		}
		return "", fmt.Errorf("%w: %q", ErrUnknownPlaceholder, key)
	}
	if name, ok := strings.CutPrefix(key, "resources."); ok {
		if v, ok := ac.Resources[name]; ok {
			return strconv.Itoa(v), nil
		}
		return "", fmt.Errorf("%w: %q", ErrUnknownPlaceholder, key)
	}
	if list, idx, ok := indexed(key, ac); ok {
		if idx < 0 || idx >= len(list) {
			return "", fmt.Errorf("%w: %q is out of range", ErrUnknownPlaceholder, key)
		}
		return list[idx], nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPlaceholder, key)
}

// indexed resolves `input[N]` and `output[N]`.
func indexed(key string, ac ActionContext) ([]string, int, bool) {
	open := strings.IndexByte(key, '[')
	if open < 0 || !strings.HasSuffix(key, "]") {
		return nil, 0, false
	}
	n, err := strconv.Atoi(key[open+1 : len(key)-1])
	if err != nil {
		return nil, 0, false
	}
	switch key[:open] {
	case "input":
		return ac.Inputs, n, true
	case "output":
		return ac.Outputs, n, true
	}
	return nil, 0, false
}
