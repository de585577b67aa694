// Package display compiles "{field}" templates used to name directories
// after record fields and to parse those names back into field values.
package display

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/agentic-research/ppd/internal/glob"
)

// ErrMissingField is returned by Format when the record lacks a template field.
var ErrMissingField = errors.New("missing template field")

var placeholder = regexp.MustCompile(`\{([^{}]+)\}`)

// Pattern is a compiled display template.
type Pattern struct {
	tmpl   string
	parts  []part
	fields []string
	re     *regexp.Regexp
	groups map[string]string // regexp group name -> field
}

type part struct {
	literal string
	field   string
}

// Compile parses tmpl. Every "{name}" becomes a placeholder; all other text
// is literal. A field may appear more than once.
func Compile(tmpl string) (*Pattern, error) {
	p := &Pattern{tmpl: tmpl, groups: map[string]string{}}

	var expr strings.Builder
	expr.WriteString("^")
	seen := map[string]bool{}
	last := 0
	for _, loc := range placeholder.FindAllStringSubmatchIndex(tmpl, -1) {
		if lit := tmpl[last:loc[0]]; lit != "" {
			p.parts = append(p.parts, part{literal: lit})
			expr.WriteString(regexp.QuoteMeta(lit))
		}
		field := tmpl[loc[2]:loc[3]]
		p.parts = append(p.parts, part{field: field})
		if !seen[field] {
			seen[field] = true
			p.fields = append(p.fields, field)
		}
		// No backreferences in RE2: a repeated field gets its own group
		// and Parse checks that the captures agree.
		group := fmt.Sprintf("g%d", len(p.groups))
		p.groups[group] = field
		expr.WriteString("(?P<" + group + ">.*?)")
		last = loc[1]
	}
	if lit := tmpl[last:]; lit != "" {
		p.parts = append(p.parts, part{literal: lit})
		expr.WriteString(regexp.QuoteMeta(lit))
	}
	expr.WriteString("$")

	re, err := regexp.Compile(expr.String())
	if err != nil {
		return nil, fmt.Errorf("compile display %q: %w", tmpl, err)
	}
	p.re = re
	return p, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(tmpl string) *Pattern {
	p, err := Compile(tmpl)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the source template.
func (p *Pattern) String() string { return p.tmpl }

// Fields returns the distinct placeholder names in order of first use.
func (p *Pattern) Fields() []string {
	return append([]string(nil), p.fields...)
}

// Query returns a glob pattern requiring every template field to be present.
func (p *Pattern) Query() glob.Pattern {
	q := make(glob.Pattern, len(p.fields))
	for _, f := range p.fields {
		q[f] = glob.Wildcard
	}
	return q
}

// Format renders the template with values taken from fields.
func (p *Pattern) Format(fields map[string]any) (string, error) {
	var b strings.Builder
	for _, pt := range p.parts {
		if pt.field == "" {
			b.WriteString(pt.literal)
			continue
		}
		v, ok := fields[pt.field]
		if !ok {
			return "", fmt.Errorf("%w: %q in %q", ErrMissingField, pt.field, p.tmpl)
		}
		b.WriteString(glob.Stringify(v))
	}
	return b.String(), nil
}

// Parse matches name against the template and returns the captured values.
func (p *Pattern) Parse(name string) (map[string]string, bool) {
	m := p.re.FindStringSubmatch(name)
	if m == nil {
		return nil, false
	}
	out := make(map[string]string, len(p.fields))
	for i, group := range p.re.SubexpNames() {
		field, ok := p.groups[group]
		if !ok {
			continue
		}
		if prev, dup := out[field]; dup && prev != m[i] {
			return nil, false
		}
		out[field] = m[i]
	}
	return out, true
}
