package repair

import "strings"

const indentStep = 4

// RepairStructure fixes the two structural defects generated scripts
// most often carry: block openers with no body, and try blocks with no
// handler. The input must be lexically parseable; when it is not, the
// script is returned unchanged.
func RepairStructure(script string) string {
	lines, err := parseLines(script)
	if err != nil {
		return script
	}

	// Insertions are keyed by the line index they follow, emitted in
	// the order they were scheduled.
	inserts := make(map[int][]string)

	for i, ln := range lines {
		if ln.blank || ln.cont {
			continue
		}

		if ln.opener {
			j := nextSignificant(lines, i)
			if j < 0 || lines[j].indent <= ln.indent {
				inserts[i] = append(inserts[i], pad(ln.indent+indentStep)+"pass")
			}
		}

		if ln.code == "try:" && !tryHasHandler(lines, i) {
			after := tryBodyEnd(lines, i) - 1
			inserts[after] = append(inserts[after],
				pad(ln.indent)+"except Exception as e:",
				pad(ln.indent+indentStep)+`print(f"Error: {e}")`,
				pad(ln.indent+indentStep)+"pass",
			)
		}
	}
	if len(inserts) == 0 {
		return script
	}

	out := make([]string, 0, len(lines)+4)
	for i, ln := range lines {
		out = append(out, ln.raw)
		out = append(out, inserts[i]...)
	}
	return strings.Join(out, "\n")
}

// tryBodyEnd returns the index of the first line after i whose indent
// is <= the try's indent, or len(lines) when the body runs to EOF.
func tryBodyEnd(lines []line, i int) int {
	indent := lines[i].indent
	for j := i + 1; j < len(lines); j++ {
		ln := lines[j]
		if ln.blank || ln.cont {
			continue
		}
		if ln.indent <= indent {
			return j
		}
	}
	return len(lines)
}

func pad(n int) string {
	if n < 0 {
		n = 0
	}
	return strings.Repeat(" ", n)
}
