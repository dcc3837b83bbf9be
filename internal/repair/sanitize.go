package repair

import (
	"regexp"
	"strings"
)

var (
	fencedBlock = regexp.MustCompile("(?s)```(?:python|py)?\\s*\n(.*?)```")

	// Conversational openers the model wraps around the code. A line
	// matching one of these is dropped only when it carries no code.
	prosePhrases = []string{
		"certainly",
		"sure,",
		"sure!",
		"here is",
		"here's",
		"below is",
		"this script",
		"the following",
		"i have",
		"i've",
		"note that",
		"let me know",
		"hope this helps",
	}

	codeTokens = []string{
		"import ", "from ", "def ", "class ", "if ", "for ", "while ",
		"return", "print(", "=", "(", "try:", "with ",
	}

	markdownHeading = regexp.MustCompile(`^#{2,}\s`)
)

// CleanResponse extracts runnable Python from a raw model response:
// fenced code blocks win outright; otherwise surrounding prose and
// markdown headings are stripped line by line.
func CleanResponse(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}

	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		text = m[1]
	} else {
		// Stray fence markers without a full block.
		text = strings.ReplaceAll(text, "```python", "")
		text = strings.ReplaceAll(text, "```", "")
	}

	var out []string
	for _, ln := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(ln)
		if markdownHeading.MatchString(trimmed) {
			continue
		}
		if isProse(trimmed) {
			continue
		}
		out = append(out, ln)
	}

	cleaned := strings.TrimSpace(strings.Join(out, "\n"))
	cleaned = closeTripleQuotes(cleaned)
	return cleaned
}

// isProse reports whether a line is conversational filler rather than
// code. Lines containing any code token are never prose.
func isProse(trimmed string) bool {
	if trimmed == "" {
		return false
	}
	lower := strings.ToLower(trimmed)
	for _, tok := range codeTokens {
		if strings.Contains(lower, tok) {
			return false
		}
	}
	for _, phrase := range prosePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// closeTripleQuotes appends a closing triple quote when the response was
// cut off inside a docstring.
func closeTripleQuotes(script string) string {
	for _, mark := range []string{`"""`, "'''"} {
		if strings.Count(script, mark)%2 == 1 {
			script += "\n" + mark
		}
	}
	return script
}
