package repair

import (
	"regexp"
	"strings"
)

// configBlock is the canonical credentials section injected into every
// generated script. Values come from the environment the runner sets
// up, never from the model output.
const configBlock = `SNOWFLAKE_CONFIG = {
    "account": os.environ.get("SNOWFLAKE_ACCOUNT", ""),
    "user": os.environ.get("SNOWFLAKE_USER", ""),
    "password": os.environ.get("SNOWFLAKE_PASSWORD", ""),
    "warehouse": os.environ.get("SNOWFLAKE_WAREHOUSE", ""),
    "database": os.environ.get("SNOWFLAKE_DATABASE", ""),
    "schema": os.environ.get("SNOWFLAKE_SCHEMA", "PUBLIC"),
}

AWS_CONFIG = {
    "aws_access_key_id": os.environ.get("AWS_ACCESS_KEY_ID", ""),
    "aws_secret_access_key": os.environ.get("AWS_SECRET_ACCESS_KEY", ""),
    "region_name": os.environ.get("AWS_DEFAULT_REGION", "us-east-1"),
}

CONFIG_VALID = bool(SNOWFLAKE_CONFIG["account"] and SNOWFLAKE_CONFIG["user"])`

var (
	configAssign = regexp.MustCompile(`^\s*(SNOWFLAKE_CONFIG|AWS_CONFIG)\s*=`)
	validAssign  = regexp.MustCompile(`^\s*CONFIG_VALID\s*=`)
	validateDef  = regexp.MustCompile(`^(\s*)def\s+validate_config\s*\(`)
	importLine   = regexp.MustCompile(`^(import\s+\w|from\s+\w)`)
	hasOsImport  = regexp.MustCompile(`(?m)^import os\b`)
)

// RemoveConflictingConfig strips any credentials the model wrote itself:
// SNOWFLAKE_CONFIG/AWS_CONFIG dict assignments (tracked by brace
// balance), CONFIG_VALID assignments, and validate_config definitions
// (tracked by indentation).
func RemoveConflictingConfig(script string) string {
	lines := strings.Split(script, "\n")
	var out []string

	for i := 0; i < len(lines); i++ {
		ln := lines[i]

		if configAssign.MatchString(ln) {
			i = skipBalanced(lines, i)
			continue
		}
		if validAssign.MatchString(ln) {
			i = skipBalanced(lines, i)
			continue
		}
		if m := validateDef.FindStringSubmatch(ln); m != nil {
			i = skipBlock(lines, i, len(m[1]))
			continue
		}
		out = append(out, ln)
	}
	return strings.Join(out, "\n")
}

// skipBalanced returns the index of the last line of a statement that
// starts at i, following bracket nesting across lines.
func skipBalanced(lines []string, i int) int {
	depth := bracketDelta(lines[i])
	for depth > 0 && i+1 < len(lines) {
		i++
		depth += bracketDelta(lines[i])
	}
	return i
}

func bracketDelta(ln string) int {
	var s scanner
	_, _ = s.scan(ln)
	return s.depth
}

// docstringMark reports the quote marker when a line opens a string
// literal, as module docstrings do.
func docstringMark(trimmed string) string {
	for _, mark := range []string{`"""`, "'''"} {
		if strings.HasPrefix(trimmed, mark) {
			return mark
		}
	}
	return ""
}

// skipBlock returns the index of the last line belonging to a def that
// starts at i with the given indent.
func skipBlock(lines []string, i, indent int) int {
	last := i
	for j := i + 1; j < len(lines); j++ {
		trimmed := strings.TrimSpace(lines[j])
		if trimmed == "" {
			continue
		}
		if indentOf(lines[j]) <= indent {
			return last
		}
		last = j
	}
	return last
}

// InjectConfig places the canonical config block after the import
// section. Any conflicting blocks are removed first, so the operation
// is idempotent: injecting twice yields the same script.
func InjectConfig(script string) string {
	script = RemoveConflictingConfig(script)
	lines := strings.Split(script, "\n")

	// Insert after the last import in the leading run of imports,
	// comments, blank lines, and an optional module docstring.
	insertAt := 0
	inDoc := false
	docMark := ""
	for i, ln := range lines {
		trimmed := strings.TrimSpace(ln)
		if inDoc {
			if strings.Contains(trimmed, docMark) {
				inDoc = false
			}
			continue
		}
		if importLine.MatchString(trimmed) {
			insertAt = i + 1
			continue
		}
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if mark := docstringMark(trimmed); mark != "" {
			if !strings.Contains(trimmed[3:], mark) {
				inDoc = true
				docMark = mark
			}
			continue
		}
		break
	}

	block := configBlock
	if !hasOsImport.MatchString(script) {
		block = "import os\n\n" + block
	}

	var out []string
	out = append(out, lines[:insertAt]...)
	out = append(out, "", block, "")
	out = append(out, lines[insertAt:]...)
	return strings.Join(out, "\n")
}
