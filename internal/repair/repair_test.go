package repair

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckSyntaxAcceptsValidScript(t *testing.T) {
	script := `import os

def main():
    rows = [1, 2, 3]
    try:
        for r in rows:
            print(r)
    except Exception as e:
        print(f"failed: {e}")

if __name__ == "__main__":
    main()
`
	assert.NoError(t, CheckSyntax(script))
}

func TestCheckSyntaxUnbalancedBrackets(t *testing.T) {
	err := CheckSyntax("x = [1, 2, 3\nprint(x)\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unbalanced")
}

func TestCheckSyntaxUnterminatedTripleQuote(t *testing.T) {
	err := CheckSyntax("def f():\n    \"\"\"docstring never closes\n    return 1\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "triple-quoted")
}

func TestCheckSyntaxEmptyBlock(t *testing.T) {
	err := CheckSyntax("def f():\nprint(1)\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "indented block")
}

func TestCheckSyntaxTryWithoutHandler(t *testing.T) {
	err := CheckSyntax("try:\n    do_work()\nprint(1)\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "except")
}

func TestCheckSyntaxIgnoresColonsInsideStrings(t *testing.T) {
	assert.NoError(t, CheckSyntax("msg = \"hello: world\"\nprint(msg)\n"))
}

func TestRepairStructureAddsPass(t *testing.T) {
	fixed := RepairStructure("def f():\nprint(1)\n")

	assert.Contains(t, fixed, "    pass")
	assert.NoError(t, CheckSyntax(fixed))
}

func TestRepairStructureSynthesizesHandler(t *testing.T) {
	script := `def load():
    try:
        connect()
        insert()
    print("done")
`
	fixed := RepairStructure(script)

	assert.Equal(t, 1, strings.Count(fixed, "except Exception as e:"))
	// Handler must sit at the try's own indent.
	assert.Contains(t, fixed, "\n    except Exception as e:")
	assert.NoError(t, CheckSyntax(fixed))
}

func TestRepairStructureHandlerAtEOF(t *testing.T) {
	fixed := RepairStructure("try:\n    risky()\n")

	assert.Contains(t, fixed, "except Exception as e:")
	assert.NoError(t, CheckSyntax(fixed))
}

func TestRepairStructureLeavesValidScriptAlone(t *testing.T) {
	script := "try:\n    risky()\nexcept Exception:\n    pass\n"
	assert.Equal(t, script, RepairStructure(script))
}

func TestRepairTokensClosesTruncatedCall(t *testing.T) {
	script := `import snowflake.connector

def main():
    conn = snowflake.connector.connect(
        account=SNOWFLAKE_CONFIG["account"],`

	fixed := RepairTokens(script)
	assert.NoError(t, CheckSyntax(fixed))
	assert.True(t, strings.HasSuffix(fixed, `account=SNOWFLAKE_CONFIG["account"],)`))
}

func TestRepairTokensClosesNestedBrackets(t *testing.T) {
	fixed := RepairTokens(`config = {"buckets": ["raw", "staged"`)
	assert.Equal(t, `config = {"buckets": ["raw", "staged"]}`, fixed)
	assert.NoError(t, CheckSyntax(fixed))
}

func TestRepairTokensClosesQuoteAtEndOfLine(t *testing.T) {
	fixed := RepairTokens(`print('loading rows`)
	assert.Equal(t, `print('loading rows')`, fixed)
	assert.NoError(t, CheckSyntax(fixed))
}

func TestRepairTokensLeavesBalancedScriptAlone(t *testing.T) {
	script := "rows = [1, 2]\nprint('done: {}'.format(len(rows)))\n"
	assert.Equal(t, script, RepairTokens(script))
}

func TestRepairTokensIgnoresBracketsInStrings(t *testing.T) {
	script := "msg = 'open [ and ( stay text'\nprint(msg)\n"
	assert.Equal(t, script, RepairTokens(script))
}

func TestCleanResponseExtractsFencedBlock(t *testing.T) {
	raw := "Certainly! Here is the script you asked for:\n\n" +
		"```python\nimport os\nprint(os.getcwd())\n```\n\n" +
		"Let me know if you need anything else."
	cleaned := CleanResponse(raw)

	assert.Equal(t, "import os\nprint(os.getcwd())", cleaned)
}

func TestCleanResponseStripsProseWithoutFences(t *testing.T) {
	raw := "Sure! Below is a complete solution.\nimport csv\nrows = []\nHope this helps."
	cleaned := CleanResponse(raw)

	assert.NotContains(t, cleaned, "Below is")
	assert.NotContains(t, cleaned, "Hope this helps")
	assert.Contains(t, cleaned, "import csv")
}

func TestCleanResponseKeepsProseLookingCode(t *testing.T) {
	// A print statement mentioning a prose phrase is still code.
	raw := "print(\"here is the result\")\n"
	assert.Contains(t, CleanResponse(raw), "here is the result")
}

func TestCleanResponseClosesTripleQuote(t *testing.T) {
	cleaned := CleanResponse("def f():\n    \"\"\"cut off mid-docstring\n    return 1")
	assert.Equal(t, 0, strings.Count(cleaned, `"""`)%2)
}

func TestCleanResponseStripsMarkdownHeadings(t *testing.T) {
	raw := "## Explanation\nimport sys\n### Usage\nprint(sys.argv)\n"
	cleaned := CleanResponse(raw)

	assert.NotContains(t, cleaned, "Explanation")
	assert.NotContains(t, cleaned, "Usage")
	assert.Contains(t, cleaned, "import sys")
}

func TestInjectConfigPlacesBlockAfterImports(t *testing.T) {
	script := "import csv\nimport sys\n\nprint(\"start\")\n"
	injected := InjectConfig(script)

	assert.Equal(t, 1, strings.Count(injected, "SNOWFLAKE_CONFIG = {"))
	assert.Equal(t, 1, strings.Count(injected, "AWS_CONFIG = {"))
	assert.Equal(t, 1, strings.Count(injected, "CONFIG_VALID ="))
	assert.Less(t, strings.Index(injected, "import sys"), strings.Index(injected, "SNOWFLAKE_CONFIG"))
	assert.Less(t, strings.Index(injected, "SNOWFLAKE_CONFIG"), strings.Index(injected, "print("))
	assert.Contains(t, injected, "import os")
	assert.NoError(t, CheckSyntax(injected))
}

func TestInjectConfigReplacesModelConfig(t *testing.T) {
	script := `import os

SNOWFLAKE_CONFIG = {
    "account": "your_account",
    "user": "your_user",
}

def validate_config():
    return True

CONFIG_VALID = validate_config()

print("loading")
`
	injected := InjectConfig(script)

	assert.NotContains(t, injected, "your_account")
	assert.NotContains(t, injected, "def validate_config")
	assert.Equal(t, 1, strings.Count(injected, "SNOWFLAKE_CONFIG = {"))
	assert.Contains(t, injected, `os.environ.get("SNOWFLAKE_ACCOUNT", "")`)
}

func TestInjectConfigIdempotent(t *testing.T) {
	once := InjectConfig("import csv\nprint(1)\n")
	twice := InjectConfig(once)

	assert.Equal(t, 1, strings.Count(twice, "SNOWFLAKE_CONFIG = {"))
	assert.Equal(t, 1, strings.Count(twice, "CONFIG_VALID ="))
	assert.Equal(t, 1, strings.Count(twice, "import os"))
}
