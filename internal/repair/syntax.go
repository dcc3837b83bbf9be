// Package repair turns raw model output into a runnable Python script:
// prose stripping, config-block injection, structural repair of common
// generation defects, and a lightweight syntax check.
//
// The syntax check is deliberately shallow. It verifies the properties
// the pipeline actually depends on (balanced brackets, terminated
// strings, indented bodies after block openers, handlers after try)
// without modeling the full grammar; the interpreter remains the final
// arbiter at execution time.
package repair

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// line is a physical script line annotated with the scanner state at
// its start, so structural passes can skip continuations and strings.
type line struct {
	num    int    // 1-based
	raw    string // original text
	code   string // text with strings blanked and comments removed
	indent int    // leading spaces (tabs count as 8)
	blank  bool   // no code content
	opener bool   // code ends with ":" at bracket depth zero
	cont   bool   // starts inside a bracket or triple-quoted string
}

// scanner tracks cross-line lexical state.
type scanner struct {
	depth   int  // aggregate (), [], {} nesting
	inStr   bool // inside a triple-quoted string
	strMark byte // quote character of the open triple
}

// scan consumes one physical line, returning its code-only content with
// string literals blanked out and comments stripped.
func (s *scanner) scan(raw string) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(raw) {
		if s.inStr {
			j := strings.Index(raw[i:], strings.Repeat(string(s.strMark), 3))
			if j < 0 {
				return out.String(), nil
			}
			i += j + 3
			s.inStr = false
			continue
		}
		c := raw[i]
		switch c {
		case '#':
			return out.String(), nil
		case '\'', '"':
			if i+2 < len(raw) && raw[i+1] == c && raw[i+2] == c {
				s.inStr = true
				s.strMark = c
				i += 3
				// Same-line close.
				if j := strings.Index(raw[i:], strings.Repeat(string(c), 3)); j >= 0 {
					i += j + 3
					s.inStr = false
				}
				continue
			}
			// Single-quoted literal; must close on this line.
			j := i + 1
			for j < len(raw) {
				if raw[j] == '\\' {
					j += 2
					continue
				}
				if raw[j] == c {
					break
				}
				j++
			}
			if j >= len(raw) {
				return out.String(), errors.Errorf("unterminated string literal: %s", strings.TrimSpace(raw))
			}
			i = j + 1
		case '(', '[', '{':
			s.depth++
			out.WriteByte(c)
			i++
		case ')', ']', '}':
			s.depth--
			if s.depth < 0 {
				return out.String(), errors.Errorf("unbalanced closing bracket: %s", strings.TrimSpace(raw))
			}
			out.WriteByte(c)
			i++
		default:
			out.WriteByte(c)
			i++
		}
	}
	return out.String(), nil
}

func indentOf(raw string) int {
	n := 0
	for _, r := range raw {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 8
		default:
			return n
		}
	}
	return n
}

// parseLines runs the scanner over the whole script.
func parseLines(script string) ([]line, error) {
	var (
		s     scanner
		lines []line
	)
	for i, raw := range strings.Split(script, "\n") {
		ln := line{
			num:    i + 1,
			raw:    raw,
			indent: indentOf(raw),
			cont:   s.depth > 0 || s.inStr,
		}
		code, err := s.scan(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", ln.num)
		}
		trimmed := strings.TrimSpace(code)
		ln.code = trimmed
		ln.blank = trimmed == ""
		ln.opener = !ln.cont && s.depth == 0 && strings.HasSuffix(trimmed, ":")
		lines = append(lines, ln)
	}
	if s.inStr {
		return nil, errors.New("unterminated triple-quoted string")
	}
	if s.depth != 0 {
		return nil, fmt.Errorf("unbalanced brackets: %d left open", s.depth)
	}
	return lines, nil
}

// nextSignificant returns the index of the first non-blank,
// non-continuation line after i, or -1.
func nextSignificant(lines []line, i int) int {
	for j := i + 1; j < len(lines); j++ {
		if !lines[j].blank && !lines[j].cont {
			return j
		}
	}
	return -1
}

// CheckSyntax validates the structural properties repair can fix. A nil
// return means the script is plausibly runnable, not proven correct.
func CheckSyntax(script string) error {
	lines, err := parseLines(script)
	if err != nil {
		return err
	}
	for i, ln := range lines {
		if ln.blank || ln.cont {
			continue
		}
		if ln.opener {
			j := nextSignificant(lines, i)
			if j < 0 || lines[j].indent <= ln.indent {
				return errors.Errorf("line %d: expected an indented block after %q", ln.num, ln.code)
			}
		}
		if ln.code == "try:" {
			if !tryHasHandler(lines, i) {
				return errors.Errorf("line %d: try block has no except or finally clause", ln.num)
			}
		}
	}
	return nil
}

// tryHasHandler scans forward from the try at index i for an except,
// finally, or else at the same indent before the block closes.
func tryHasHandler(lines []line, i int) bool {
	indent := lines[i].indent
	for j := i + 1; j < len(lines); j++ {
		ln := lines[j]
		if ln.blank || ln.cont {
			continue
		}
		if ln.indent > indent {
			continue
		}
		if ln.indent < indent {
			return false
		}
		return strings.HasPrefix(ln.code, "except") ||
			strings.HasPrefix(ln.code, "finally") ||
			strings.HasPrefix(ln.code, "else")
	}
	return false
}
