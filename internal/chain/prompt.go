package chain

import (
	"fmt"
	"sort"
	"strings"
)

// Values binds template variable names to their values for one call.
// Strings render verbatim, []string as a comma separated list and []Chunk as
// the chunk contents separated by a blank line.
type Values map[string]any

// Merge returns a copy of v with extra layered on top.
func (v Values) Merge(extra Values) Values {
	out := make(Values, len(v)+len(extra))
	for k, val := range v {
		out[k] = val
	}
	for k, val := range extra {
		out[k] = val
	}
	return out
}

type segment struct {
	text     string
	variable bool
}

// PromptTemplate is a prompt with {name} placeholders. Literal braces are
// written as {{ and }}. Build it with NewPromptTemplate; the zero value
// formats to an empty string.
type PromptTemplate struct {
	template string
	vars     []string // sorted
	segments []segment
}

// NewPromptTemplate parses template and checks that the variables it
// references are exactly inputVariables.
func NewPromptTemplate(template string, inputVariables ...string) (*PromptTemplate, error) {
	segs, referenced, err := parseTemplate(template)
	if err != nil {
		return nil, err
	}

	declared := make(map[string]struct{}, len(inputVariables))
	for _, v := range inputVariables {
		declared[v] = struct{}{}
	}
	var undeclared, unused []string
	for v := range referenced {
		if _, ok := declared[v]; !ok {
			undeclared = append(undeclared, v)
		}
	}
	for v := range declared {
		if _, ok := referenced[v]; !ok {
			unused = append(unused, v)
		}
	}
	if len(undeclared) > 0 || len(unused) > 0 {
		sort.Strings(undeclared)
		sort.Strings(unused)
		return nil, &TemplateFormatError{Undeclared: undeclared, Unused: unused}
	}

	vars := make([]string, 0, len(declared))
	for v := range declared {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return &PromptTemplate{template: template, vars: vars, segments: segs}, nil
}

// MustPromptTemplate is NewPromptTemplate for templates fixed at compile time.
func MustPromptTemplate(template string, inputVariables ...string) *PromptTemplate {
	p, err := NewPromptTemplate(template, inputVariables...)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *PromptTemplate) Template() string { return p.template }

// InputVariables returns the declared variables in sorted order.
func (p *PromptTemplate) InputVariables() []string {
	return append([]string(nil), p.vars...)
}

// Requires reports whether name is one of the template's input variables.
func (p *PromptTemplate) Requires(name string) bool {
	i := sort.SearchStrings(p.vars, name)
	return i < len(p.vars) && p.vars[i] == name
}

// Format renders the template. Every input variable must be present in values;
// extra values are ignored.
func (p *PromptTemplate) Format(values Values) (string, error) {
	var missing []string
	for _, v := range p.vars {
		if _, ok := values[v]; !ok {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		return "", &TemplateFormatError{Missing: missing}
	}

	var b strings.Builder
	b.Grow(len(p.template))
	for _, s := range p.segments {
		if !s.variable {
			b.WriteString(s.text)
			continue
		}
		b.WriteString(render(values[s.text]))
	}
	return b.String(), nil
}

func render(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []string:
		return strings.Join(t, ", ")
	case []Chunk:
		parts := make([]string, len(t))
		for i, c := range t {
			parts[i] = c.Content
		}
		return strings.Join(parts, "\n\n")
	case Chunk:
		return t.Content
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func parseTemplate(template string) ([]segment, map[string]struct{}, error) {
	var (
		segs []segment
		lit  strings.Builder
	)
	referenced := map[string]struct{}{}
	flush := func() {
		if lit.Len() > 0 {
			segs = append(segs, segment{text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(template); i++ {
		c := template[i]
		switch {
		case c == '{' && i+1 < len(template) && template[i+1] == '{':
			lit.WriteByte('{')
			i++
		case c == '}' && i+1 < len(template) && template[i+1] == '}':
			lit.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(template[i+1:], '}')
			if end < 0 {
				return nil, nil, &TemplateFormatError{Reason: fmt.Sprintf("unclosed '{' at offset %d", i)}
			}
			name := template[i+1 : i+1+end]
			if !isIdentifier(name) {
				return nil, nil, &TemplateFormatError{Reason: fmt.Sprintf("invalid variable name %q at offset %d", name, i)}
			}
			flush()
			segs = append(segs, segment{text: name, variable: true})
			referenced[name] = struct{}{}
			i += end + 1
		case c == '}':
			return nil, nil, &TemplateFormatError{Reason: fmt.Sprintf("single '}' at offset %d", i)}
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return segs, referenced, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
