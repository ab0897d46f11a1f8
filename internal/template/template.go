// Package template implements the placeholder patterns used by secret
// mappings. A pattern is literal text interleaved with named placeholders
// like 'foo_{bar}'. Patterns can be matched against candidate strings to
// capture placeholder values, and rendered by substituting captured values
// back in.
package template

import (
	"strings"

	verrors "github.com/systmms/vault-inject/internal/errors"
)

// piece is one segment of a parsed pattern. Exactly one of lit or name is
// set; name holds a placeholder identifier.
type piece struct {
	lit  string
	name string
}

// Template is a parsed pattern. Immutable once parsed.
type Template struct {
	raw    string
	pieces []piece
}

// Bindings maps placeholder names to their captured values.
type Bindings map[string]string

// Parse parses a pattern string like 'foo_{bar}'. Placeholder names start
// with a letter and continue with letters, digits, '_' or '-'; whitespace
// directly inside the braces is ignored, so '{ bar }' equals '{bar}'.
// Braces that do not form a valid placeholder are kept as literal text.
// Using the same placeholder name twice is an error.
func Parse(s string) (*Template, error) {
	t := &Template{raw: s}
	seen := map[string]bool{}

	var lit strings.Builder
	i := 0
	for i < len(s) {
		open := strings.IndexByte(s[i:], '{')
		if open < 0 {
			lit.WriteString(s[i:])
			break
		}
		open += i
		closing := strings.IndexByte(s[open:], '}')
		if closing < 0 {
			lit.WriteString(s[i:])
			break
		}
		closing += open

		name := strings.TrimSpace(s[open+1 : closing])
		if !validName(name) {
			// Not a placeholder. Keep the brace as literal text and rescan
			// from the next character, since a valid placeholder may open
			// inside this run.
			lit.WriteString(s[i : open+1])
			i = open + 1
			continue
		}
		if seen[name] {
			return nil, verrors.TemplateError{
				Pattern:     s,
				Placeholder: name,
				Message:     "is used more than once",
			}
		}
		seen[name] = true

		lit.WriteString(s[i:open])
		if lit.Len() > 0 {
			t.pieces = append(t.pieces, piece{lit: lit.String()})
			lit.Reset()
		}
		t.pieces = append(t.pieces, piece{name: name})
		i = closing + 1
	}
	if lit.Len() > 0 {
		t.pieces = append(t.pieces, piece{lit: lit.String()})
	}

	return t, nil
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '_' || c == '-'):
		default:
			return false
		}
	}
	return true
}

// String returns the original pattern text.
func (t *Template) String() string {
	return t.raw
}

// HasPlaceholders reports whether the pattern contains any placeholders.
func (t *Template) HasPlaceholders() bool {
	for _, p := range t.pieces {
		if p.name != "" {
			return true
		}
	}
	return false
}

// Names returns the placeholder names in order of appearance.
func (t *Template) Names() []string {
	var names []string
	for _, p := range t.pieces {
		if p.name != "" {
			names = append(names, p.name)
		}
	}
	return names
}

// frame records one placeholder capture during matching so it can be grown
// on backtrack.
type frame struct {
	piece int // index into t.pieces
	start int // capture start in the candidate
	n     int // current capture length
}

// Match attempts to match the whole candidate against the pattern. Literal
// runs must match verbatim; each placeholder captures the shortest non-empty
// substring that still lets the rest of the pattern match, growing by one
// character on backtrack. Each capture boundary ranges over the candidate,
// so a pattern with k placeholders is O(n^k) in the worst case; fine for
// the short keys this is used on.
//
// A pattern without placeholders matches only the identical string.
func (t *Template) Match(candidate string) (Bindings, bool) {
	var stack []frame
	i, pos := 0, 0

	for {
		if i == len(t.pieces) {
			if pos == len(candidate) {
				b := Bindings{}
				for _, f := range stack {
					b[t.pieces[f.piece].name] = candidate[f.start : f.start+f.n]
				}
				return b, true
			}
		} else {
			p := t.pieces[i]
			if p.name == "" {
				if strings.HasPrefix(candidate[pos:], p.lit) {
					pos += len(p.lit)
					i++
					continue
				}
			} else if pos < len(candidate) {
				stack = append(stack, frame{piece: i, start: pos, n: 1})
				pos++
				i++
				continue
			}
		}

		// Backtrack: grow the most recent capture, dropping frames whose
		// capture cannot grow any further.
		for {
			if len(stack) == 0 {
				return nil, false
			}
			f := &stack[len(stack)-1]
			if f.start+f.n < len(candidate) {
				f.n++
				pos = f.start + f.n
				i = f.piece + 1
				break
			}
			stack = stack[:len(stack)-1]
		}
	}
}

// Render substitutes bindings into the pattern. Every placeholder must have
// a binding.
func (t *Template) Render(b Bindings) (string, error) {
	var out strings.Builder
	for _, p := range t.pieces {
		if p.name == "" {
			out.WriteString(p.lit)
			continue
		}
		v, ok := b[p.name]
		if !ok {
			return "", verrors.TemplateError{
				Pattern:     t.raw,
				Placeholder: p.name,
				Message:     "has no binding",
			}
		}
		out.WriteString(v)
	}
	return out.String(), nil
}

// CanRenderFrom reports whether every placeholder of t also appears in
// other, i.e. a successful match of other always renders t completely.
func (t *Template) CanRenderFrom(other *Template) bool {
	has := map[string]bool{}
	for _, p := range other.pieces {
		if p.name != "" {
			has[p.name] = true
		}
	}
	for _, p := range t.pieces {
		if p.name != "" && !has[p.name] {
			return false
		}
	}
	return true
}
