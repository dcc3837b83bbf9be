package synth

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyload/skyload-api/internal/config"
	"github.com/skyload/skyload-api/internal/models"
	"github.com/skyload/skyload-api/internal/repair"
)

type fakeGenerator struct {
	response  string
	err       error
	lastMax   int
	lastInput string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt, _ string, maxTokens int) (string, error) {
	f.lastMax = maxTokens
	f.lastInput = prompt
	return f.response, f.err
}

func testLLMConfig() config.LLMConfig {
	return config.LLMConfig{MaxTokens: 3000, EnhancedMaxTokens: 4000}
}

func testFile() models.FileDescriptor {
	return models.FileDescriptor{
		StorageLocator: "s3://uploads/incoming/sales data.csv",
		OriginalName:   "sales data.csv",
	}
}

func TestTableNameFor(t *testing.T) {
	assert.Equal(t, "ETL_SALES_DATA", TableNameFor("sales data.csv"))
	assert.Equal(t, "ETL_2024_ORDERS", TableNameFor("2024-orders.CSV"))
	assert.Equal(t, "ETL_DATA", TableNameFor("...csv"))
}

func TestTemplateScriptIsRunnable(t *testing.T) {
	script := repair.InjectConfig(TemplateScript(testFile()))

	assert.Contains(t, script, `TABLE_NAME = "ETL_SALES_DATA"`)
	assert.Contains(t, script, `SOURCE_BUCKET = "uploads"`)
	assert.Contains(t, script, `SOURCE_KEY = "incoming/sales data.csv"`)
	assert.NoError(t, repair.CheckSyntax(script))
}

func TestTemplateScriptLocalFile(t *testing.T) {
	file := models.FileDescriptor{
		StorageLocator: "/tmp/uploads/orders.csv",
		OriginalName:   "orders.csv",
	}
	script := TemplateScript(file)

	assert.Contains(t, script, `LOCAL_PATH = "/tmp/uploads/orders.csv"`)
	assert.Contains(t, script, `SOURCE_BUCKET = ""`)
}

func TestGenerateUsesModelOutput(t *testing.T) {
	gen := &fakeGenerator{response: "```python\nimport csv\n\nprint(\"loading\")\n```"}
	s := New(gen, testLLMConfig(), zerolog.Nop())

	res := s.Generate(context.Background(), testFile(), "", nil)

	assert.Equal(t, SourceLLM, res.Source)
	assert.Contains(t, res.Script, `print("loading")`)
	assert.Contains(t, res.Script, "SNOWFLAKE_CONFIG = {")
	assert.Equal(t, 3000, gen.lastMax)
}

func TestGenerateFallsBackOnError(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("service unavailable")}
	s := New(gen, testLLMConfig(), zerolog.Nop())

	res := s.Generate(context.Background(), testFile(), "", nil)

	assert.Equal(t, SourceTemplate, res.Source)
	assert.Contains(t, res.Script, "ETL_SALES_DATA")
	assert.NoError(t, repair.CheckSyntax(res.Script))
}

func TestGenerateFallsBackOnUnrepairableScript(t *testing.T) {
	// A stray closer cannot be balanced by appending counterparts.
	gen := &fakeGenerator{response: "import csv\nx = (1))\n"}
	s := New(gen, testLLMConfig(), zerolog.Nop())

	res := s.Generate(context.Background(), testFile(), "", nil)

	assert.Equal(t, SourceTemplate, res.Source)
}

func TestGenerateRepairsTruncatedOutput(t *testing.T) {
	gen := &fakeGenerator{response: "import csv\nrows = [1, 2,\n"}
	s := New(gen, testLLMConfig(), zerolog.Nop())

	res := s.Generate(context.Background(), testFile(), "", nil)

	assert.Equal(t, SourceLLM, res.Source)
	assert.Contains(t, res.Script, "rows = [1, 2,]")
}

func TestGenerateClosesDanglingQuote(t *testing.T) {
	gen := &fakeGenerator{response: "import csv\nprint('loading\nrows = [1]\n"}
	s := New(gen, testLLMConfig(), zerolog.Nop())

	res := s.Generate(context.Background(), testFile(), "", nil)

	assert.Equal(t, SourceLLM, res.Source)
	assert.Contains(t, res.Script, "print('loading'")
}

func TestGenerateRepairsFixableScript(t *testing.T) {
	gen := &fakeGenerator{response: "import csv\ntry:\n    print(1)\n"}
	s := New(gen, testLLMConfig(), zerolog.Nop())

	res := s.Generate(context.Background(), testFile(), "", nil)

	assert.Equal(t, SourceLLM, res.Source)
	assert.Contains(t, res.Script, "except Exception as e:")
}

func TestGenerateWithoutGeneratorUsesTemplate(t *testing.T) {
	s := New(nil, testLLMConfig(), zerolog.Nop())

	res := s.Generate(context.Background(), testFile(), "", nil)

	assert.Equal(t, SourceTemplate, res.Source)
}

func TestEnhancedPromptCarriesProfile(t *testing.T) {
	gen := &fakeGenerator{response: "```python\nimport csv\nprint(1)\n```"}
	s := New(gen, testLLMConfig(), zerolog.Nop())

	prof := &models.ProfilingResult{
		Success: true,
		Dataset: models.DatasetInfo{RowCount: 120, ColumnCount: 4},
		PrimaryKeys: []models.Candidate{
			{Column: "order_id", Confidence: models.ConfidenceHigh},
		},
		TemporalColumns: []models.Candidate{
			{Column: "created_at", Confidence: models.ConfidenceHigh},
		},
		CompletenessScore: 97.5,
		RecommendedSchema: []models.SchemaColumn{
			{Name: "order_id", DestinationType: "NUMBER(38,0)"},
		},
	}
	s.Generate(context.Background(), testFile(), "dedupe on order_id", prof)

	assert.Equal(t, 4000, gen.lastMax)
	assert.Contains(t, gen.lastInput, "120 rows x 4 columns")
	assert.Contains(t, gen.lastInput, "order_id")
	assert.Contains(t, gen.lastInput, "created_at")
	assert.Contains(t, gen.lastInput, "dedupe on order_id")
}

func TestFailedProfileUsesBasicBudget(t *testing.T) {
	gen := &fakeGenerator{response: "```python\nimport csv\nprint(1)\n```"}
	s := New(gen, testLLMConfig(), zerolog.Nop())

	s.Generate(context.Background(), testFile(), "", &models.ProfilingResult{Success: false})

	assert.Equal(t, 3000, gen.lastMax)
	assert.NotContains(t, gen.lastInput, "Dataset profile")
}

func TestTemplatePrintsReconcilableCounts(t *testing.T) {
	script := TemplateScript(testFile())

	for _, marker := range []string{
		"Successfully inserted",
		"Successful rows:",
		"Failed rows:",
		"Successfully loaded",
		"rows remaining",
	} {
		assert.Contains(t, script, marker)
	}

	// No leftover Go-level escaping.
	require.NotContains(t, script, "%!")
}

func TestTemplateAccumulatesErrorTypeHistogram(t *testing.T) {
	script := TemplateScript(testFile())

	assert.Contains(t, script, "error_types[etype] = error_types.get(etype, 0) + 1")
	assert.Contains(t, script, "type(e).__name__")
	assert.Contains(t, script, `print("Error types: %s" % error_types)`)
	// Verbose logging stops after the first five failures and the tenth.
	assert.Contains(t, script, "if failed <= 5 or failed == 10:")
	assert.Contains(t, script, "Further row failures suppressed")
	assert.NotContains(t, script, "% 10 == 0")
}
