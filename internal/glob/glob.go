// Package glob compiles field -> shell-glob mappings into record predicates.
//
// Values are compared by their string form (fmt.Sprint), so a pattern of
// "8*" matches the integer 80 as well as the string "80". A pattern of "*"
// still requires the field to be present.
//
// Patterns follow fnmatch: only '*', '?' and bracket classes are special.
// Braces, commas and backslashes match themselves.
package glob

import (
	"fmt"
	"sort"
	"strings"

	gobwas "github.com/gobwas/glob"
)

// Wildcard matches any value of a present field.
const Wildcard = "*"

// Pattern maps field names to glob patterns.
type Pattern map[string]string

// Clone returns a copy of p that can be modified independently.
func (p Pattern) Clone() Pattern {
	out := make(Pattern, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	return out
}

// With returns a copy of p with field set to pattern.
func (p Pattern) With(field, pattern string) Pattern {
	out := p.Clone()
	out[field] = pattern
	return out
}

// Filter is a compiled Pattern.
type Filter struct {
	fields []fieldMatcher
}

type fieldMatcher struct {
	name string
	any  bool
	g    gobwas.Glob
}

// Compile turns p into a Filter. An empty or nil pattern matches every record.
func Compile(p Pattern) (*Filter, error) {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)

	f := &Filter{fields: make([]fieldMatcher, 0, len(names))}
	for _, name := range names {
		expr := p[name]
		if expr == Wildcard {
			f.fields = append(f.fields, fieldMatcher{name: name, any: true})
			continue
		}
		src, err := translate(expr)
		if err != nil {
			return nil, fmt.Errorf("compile glob %q for field %q: %w", expr, name, err)
		}
		// No separators: '*' and '?' cross '/' like fnmatch.
		g, err := gobwas.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("compile glob %q for field %q: %w", expr, name, err)
		}
		f.fields = append(f.fields, fieldMatcher{name: name, g: g})
	}
	return f, nil
}

// MustCompile is like Compile but panics on a malformed pattern.
func MustCompile(p Pattern) *Filter {
	f, err := Compile(p)
	if err != nil {
		panic(err)
	}
	return f
}

// Match reports whether fields satisfies every field pattern.
func (f *Filter) Match(fields map[string]any) bool {
	if f == nil {
		return true
	}
	for _, m := range f.fields {
		v, ok := fields[m.name]
		if !ok {
			return false
		}
		if m.any {
			continue
		}
		if !m.g.Match(Stringify(v)) {
			return false
		}
	}
	return true
}

// Match compiles p and applies it to fields. Malformed patterns match nothing.
func Match(p Pattern, fields map[string]any) bool {
	f, err := Compile(p)
	if err != nil {
		return false
	}
	return f.Match(fields)
}

var quoter = strings.NewReplacer("*", "[*]", "?", "[?]", "[", "[[]")

// Quote escapes glob metacharacters so s matches only itself.
func Quote(s string) string {
	return quoter.Replace(s)
}

// translate rewrites an fnmatch pattern in gobwas syntax.
func translate(pat string) (string, error) {
	rs := []rune(pat)
	var b strings.Builder
	for i := 0; i < len(rs); i++ {
		switch c := rs[i]; c {
		case '*', '?':
			b.WriteRune(c)
		case '[':
			end := classEnd(rs, i)
			if end < 0 {
				// An unterminated bracket is literal.
				b.WriteString(`\[`)
				continue
			}
			if err := writeClass(&b, rs[i+1:end]); err != nil {
				return "", err
			}
			i = end
		default:
			if strings.ContainsRune(`{},\]`, c) {
				b.WriteByte('\\')
			}
			b.WriteRune(c)
		}
	}
	return b.String(), nil
}

// classEnd returns the index of the ']' closing the class opened at rs[i],
// or -1. A ']' right after the opening (or after '!') is a member.
func classEnd(rs []rune, i int) int {
	j := i + 1
	if j < len(rs) && rs[j] == '!' {
		j++
	}
	if j < len(rs) && rs[j] == ']' {
		j++
	}
	for j < len(rs) && rs[j] != ']' {
		j++
	}
	if j >= len(rs) {
		return -1
	}
	return j
}

// writeClass emits the class body. gobwas classes hold either one range or
// a list of characters, so a class mixing both becomes an alternation of
// classes. Negated mixed classes have no such rewrite.
func writeClass(b *strings.Builder, body []rune) error {
	negate := len(body) > 0 && body[0] == '!'
	if negate {
		body = body[1:]
	}

	var (
		ranges  []string
		singles []rune
		hasDash bool
	)
	single := func(r rune) {
		if r == '-' {
			hasDash = true
			return
		}
		for _, s := range singles {
			if s == r {
				return
			}
		}
		singles = append(singles, r)
	}
	for k := 0; k < len(body); k++ {
		if k+2 < len(body) && body[k+1] == '-' {
			lo, hi := body[k], body[k+2]
			k += 2
			if !negate && lo == '!' {
				// A leading '!' would read as negation.
				single('!')
				lo++
			}
			switch {
			case lo > hi:
			case lo == hi:
				single(lo)
			default:
				ranges = append(ranges, string(lo)+"-"+string(hi))
			}
			continue
		}
		single(body[k])
	}

	items := ranges
	if len(singles) > 0 || hasDash {
		var t strings.Builder
		// '-' goes first so it cannot open a range.
		if hasDash {
			t.WriteByte('-')
		}
		for _, r := range singles {
			if r == '\\' || r == ']' || r == '!' {
				t.WriteByte('\\')
			}
			t.WriteRune(r)
		}
		items = append(items, t.String())
	}

	switch {
	case len(items) == 0 && negate:
		b.WriteByte('?')
	case len(items) == 0:
		return fmt.Errorf("empty character class")
	case len(items) == 1:
		b.WriteByte('[')
		if negate {
			b.WriteByte('!')
		}
		b.WriteString(items[0])
		b.WriteByte(']')
	case negate:
		return fmt.Errorf("negated class [!%s] mixes ranges and characters", string(body))
	default:
		b.WriteByte('{')
		for i, it := range items {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString("[" + it + "]")
		}
		b.WriteByte('}')
	}
	return nil
}

// Stringify renders a field value the way filters and templates see it.
func Stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
