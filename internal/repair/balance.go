package repair

import "strings"

var closerFor = map[byte]byte{'(': ')', '[': ']', '{': '}'}

// RepairTokens fixes the lexical defects of truncated or sloppy model
// output: unterminated triple-quoted strings, single- and double-quoted
// literals left open at end of line, and brackets never closed. Missing
// closers are appended to the last non-blank line, which suits the
// common case of a script cut off mid-expression. The result is parse-
// able, not necessarily correct; the structural passes take over from
// here.
func RepairTokens(script string) string {
	script = closeTripleQuotes(script)

	var (
		stack      []byte
		inTriple   bool
		tripleMark byte
	)
	lines := strings.Split(script, "\n")
	for idx, raw := range lines {
		i := 0
	scanLine:
		for i < len(raw) {
			if inTriple {
				j := strings.Index(raw[i:], strings.Repeat(string(tripleMark), 3))
				if j < 0 {
					break scanLine
				}
				i += j + 3
				inTriple = false
				continue
			}
			c := raw[i]
			switch c {
			case '#':
				break scanLine
			case '\'', '"':
				if i+2 < len(raw) && raw[i+1] == c && raw[i+2] == c {
					inTriple, tripleMark = true, c
					i += 3
					continue
				}
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
					raw += string(c)
					lines[idx] = raw
					break scanLine
				}
				i = j + 1
			case '(', '[', '{':
				stack = append(stack, c)
				i++
			case ')', ']', '}':
				// An unmatched closer is left for the syntax check.
				if n := len(stack); n > 0 && closerFor[stack[n-1]] == c {
					stack = stack[:n-1]
				}
				i++
			default:
				i++
			}
		}
	}

	if len(stack) > 0 {
		var closers strings.Builder
		for k := len(stack) - 1; k >= 0; k-- {
			closers.WriteByte(closerFor[stack[k]])
		}
		for k := len(lines) - 1; k >= 0; k-- {
			if strings.TrimSpace(lines[k]) != "" {
				lines[k] += closers.String()
				break
			}
		}
	}
	return strings.Join(lines, "\n")
}
