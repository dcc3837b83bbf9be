package workflow

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyload/skyload-api/internal/config"
	"github.com/skyload/skyload-api/internal/models"
	"github.com/skyload/skyload-api/internal/profiler"
	"github.com/skyload/skyload-api/internal/repair"
	"github.com/skyload/skyload-api/internal/sandbox"
	"github.com/skyload/skyload-api/internal/synth"
	"github.com/skyload/skyload-api/internal/warehouse"
)

func TestValidateCountsVerdicts(t *testing.T) {
	cases := []struct {
		name           string
		src, dst, proc int
		want           string
	}{
		{"perfect match", 100, 100, 100, "success"},
		{"empty destination", 100, 0, 80, "failed"},
		{"processed matches destination", 100, 96, 96, "success"},
		{"moderate variance warns", 100, 90, 0, "warning"},
		{"large variance fails", 100, 70, 0, "failed"},
		{"unknown source warns", 0, 5, 5, "warning"},
		{"small variance accepted", 100, 97, 0, "success"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := ValidateCounts(tc.src, tc.dst, tc.proc, 0.05, 0.15)
			assert.Equal(t, tc.want, v.Status, v.Message)
			assert.Equal(t, tc.src, v.SourceCount)
			assert.Equal(t, tc.dst, v.DestinationCount)
			assert.Equal(t, tc.proc, v.ProcessedCount)
			assert.NotEmpty(t, v.Message)
		})
	}
}

func TestScanOutputTakesLastMatch(t *testing.T) {
	output := strings.Join([]string{
		"Created table ETL_ORDERS",
		"90 rows remaining",
		"Successfully inserted 50 rows",
		"10 rows remaining",
		"Successfully inserted 95 rows",
		"Successful rows: 95",
		"Failed rows: 5",
		"Successfully loaded 95 rows into ETL_ORDERS",
	}, "\n")

	c := scanOutput(output)

	assert.True(t, c.hasLoaded)
	assert.Equal(t, 95, c.loaded)
	assert.Equal(t, 95, c.inserted)
	assert.Equal(t, 95, c.successful)
	assert.Equal(t, 5, c.failed)
	assert.Equal(t, 10, c.remaining)
	assert.Equal(t, 95, c.processedCount())
}

func TestProcessedCountPrecedence(t *testing.T) {
	// Without the post-load count, the insert total wins.
	c := scanOutput("Successfully inserted 80 rows\nSuccessful rows: 78\n")
	assert.Equal(t, 80, c.processedCount())

	c = scanOutput("Successful rows: 78\n")
	assert.Equal(t, 78, c.processedCount())

	c = scanOutput("nothing to see here")
	assert.Equal(t, 0, c.processedCount())
}

func TestClassifyDestinationError(t *testing.T) {
	cases := []struct {
		output string
		want   string
	}{
		{"String 'x...' is too long and would be truncated", "Column size limit exceeded"},
		{"Binding data in type (list) is not supported", "Type binding error"},
		{"could not connect to your_account.snowflakecomputing.com", "Warehouse configuration incomplete"},
		{"HTTP 404 Not Found", "Warehouse configuration incomplete"},
		{"all good", ""},
		{"", ""},
	}
	for _, tc := range cases {
		got := classifyDestinationError(tc.output)
		if tc.want == "" {
			assert.Empty(t, got)
		} else {
			assert.Contains(t, got, tc.want)
		}
	}
}

func TestNewWorkflowIDFormat(t *testing.T) {
	id1 := newWorkflowID(time.Date(2026, 8, 26, 14, 30, 5, 0, time.UTC))
	id2 := newWorkflowID(time.Date(2026, 8, 26, 14, 30, 5, 0, time.UTC))

	assert.Regexp(t, regexp.MustCompile(`^etl_20260826_143005_\d+$`), id1)
	assert.NotEqual(t, id1, id2)
}

// fakeWarehouse satisfies warehouse.Client for orchestration tests.
type fakeWarehouse struct {
	countByTable map[string]int
	recent       []warehouse.TableInfo
	created      []string
	inserted     int
}

func (f *fakeWarehouse) RecentTables(context.Context, time.Duration) ([]warehouse.TableInfo, error) {
	return f.recent, nil
}

func (f *fakeWarehouse) CountRows(_ context.Context, table string) (int, error) {
	return f.countByTable[table], nil
}

func (f *fakeWarehouse) CreateTable(_ context.Context, table string, _ []models.SchemaColumn) error {
	f.created = append(f.created, table)
	return nil
}

func (f *fakeWarehouse) InsertRows(_ context.Context, _ string, _ []string, rows [][]string) (int, error) {
	f.inserted += len(rows)
	return len(rows), nil
}

func (f *fakeWarehouse) Close() error { return nil }

type memRunStore struct {
	created int
	updated int
	last    models.WorkflowRecord
}

func (m *memRunStore) Create(_ context.Context, rec *models.WorkflowRecord) error {
	m.created++
	m.last = *rec
	return nil
}

func (m *memRunStore) Update(_ context.Context, rec *models.WorkflowRecord) error {
	m.updated++
	m.last = *rec
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Workflow: config.WorkflowConfig{
			ScriptsDir: filepath.Join(t.TempDir(), "scripts"),
			// The generated loader is Python; running it through sh
			// fails fast, exercising the failure-tolerant path without
			// needing a warehouse.
			Interpreter:      "sh",
			ExecutionTimeout: 10 * time.Second,
			VarianceAccept:   0.05,
			VarianceWarn:     0.15,
			CatalogWindow:    10 * time.Minute,
			MaxSampleBytes:   1 << 20,
		},
		LLM: config.LLMConfig{MaxTokens: 3000, EnhancedMaxTokens: 4000},
	}
}

func writeSourceCSV(t *testing.T, rows string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orders.csv")
	require.NoError(t, os.WriteFile(path, []byte(rows), 0o644))
	return path
}

func newTestOrchestrator(cfg *config.Config, wh *fakeWarehouse, runs RunStore) *Orchestrator {
	logger := zerolog.Nop()
	var client warehouse.Client
	if wh != nil {
		client = wh
	}
	return New(cfg, nil, client,
		profiler.New(nil, logger),
		synth.New(nil, cfg.LLM, logger),
		sandbox.New(logger),
		runs, logger)
}

func TestRunEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	src := writeSourceCSV(t, "id,name\n1,a\n2,b\n3,c\n")
	wh := &fakeWarehouse{countByTable: map[string]int{"ETL_ORDERS": 3}}
	runs := &memRunStore{}

	o := newTestOrchestrator(cfg, wh, runs)
	rec := o.NewRun(models.FileDescriptor{StorageLocator: src, OriginalName: "orders.csv"}, "")

	o.Run(context.Background(), rec)

	assert.Equal(t, models.StatusCompleted, rec.Status)
	assert.Equal(t, synth.SourceTemplate, rec.ScriptSource)
	assert.Equal(t, 3, rec.SourceRecordCount)
	assert.Equal(t, 3, rec.DestinationActualCount)
	require.NotNil(t, rec.RecordValidation)
	assert.Equal(t, "success", rec.RecordValidation.Status)

	// Script and run log land next to each other.
	assert.FileExists(t, rec.ScriptPath)
	assert.FileExists(t, filepath.Join(cfg.Workflow.ScriptsDir, rec.WorkflowID+"_workflow_log.json"))

	assert.Equal(t, 1, runs.created)
	assert.GreaterOrEqual(t, runs.updated, 5)
	assert.Equal(t, models.StatusCompleted, runs.last.Status)
}

func TestRunDirectLoadFallback(t *testing.T) {
	cfg := testConfig(t)
	src := writeSourceCSV(t, "id,name\n1,a\n2,b\n3,c\n")
	// Destination empty: the script never loaded anything.
	wh := &fakeWarehouse{countByTable: map[string]int{}}

	o := newTestOrchestrator(cfg, wh, nil)
	rec := o.NewRun(models.FileDescriptor{StorageLocator: src, OriginalName: "orders.csv"}, "")

	o.Run(context.Background(), rec)

	assert.True(t, rec.DestinationTableCreated)
	assert.Equal(t, []string{"ETL_ORDERS"}, wh.created)
	assert.Equal(t, 3, rec.DestinationRowsInserted)
	assert.Equal(t, 3, rec.DestinationActualCount)
	require.NotNil(t, rec.RecordValidation)
	assert.Equal(t, "success", rec.RecordValidation.Status)
}

func TestRunWithoutWarehouseStillFinishes(t *testing.T) {
	cfg := testConfig(t)
	src := writeSourceCSV(t, "id,name\n1,a\n2,b\n")

	o := newTestOrchestrator(cfg, nil, nil)
	rec := o.NewRun(models.FileDescriptor{StorageLocator: src, OriginalName: "orders.csv"}, "")

	o.Run(context.Background(), rec)

	assert.Equal(t, models.StatusCompleted, rec.Status)
	require.NotNil(t, rec.RecordValidation)
	// Destination unverifiable, so the verdict cannot be success.
	assert.Equal(t, "failed", rec.RecordValidation.Status)
}

func TestRunMissingSourceFile(t *testing.T) {
	cfg := testConfig(t)

	o := newTestOrchestrator(cfg, nil, nil)
	rec := o.NewRun(models.FileDescriptor{
		StorageLocator: filepath.Join(t.TempDir(), "missing.csv"),
		OriginalName:   "missing.csv",
	}, "")

	o.Run(context.Background(), rec)

	assert.Equal(t, models.StatusCompleted, rec.Status)
	require.NotNil(t, rec.Profiling)
	assert.False(t, rec.Profiling.Success)
	require.NotNil(t, rec.RecordValidation)
	assert.Equal(t, "warning", rec.RecordValidation.Status)
}

func TestValidateStageRecordsIngestionEvidence(t *testing.T) {
	cfg := testConfig(t)
	o := newTestOrchestrator(cfg, nil, nil)
	rec := o.NewRun(models.FileDescriptor{
		StorageLocator: filepath.Join(t.TempDir(), "missing.csv"),
		OriginalName:   "orders.csv",
	}, "")
	// The script reached Snowflake and inserted rows before failing on
	// placeholder credentials during verification.
	rec.ExecutionOutput = strings.Join([]string{
		"Connecting to your_account.snowflakecomputing.com",
		"Successful rows: 3",
		"Failed rows: 0",
		"250001 (08001): 404 Not Found",
	}, "\n")

	o.validateStage(context.Background(), rec)

	assert.True(t, rec.DestinationTableCreated)
	assert.Equal(t, 3, rec.DestinationRowsInserted)
	assert.Equal(t, 3, rec.ProcessedRecordCount)
	assert.Contains(t, rec.DestinationError, "configuration incomplete")
}

func TestValidateStageWithoutEvidenceLeavesIngestionUnset(t *testing.T) {
	cfg := testConfig(t)
	o := newTestOrchestrator(cfg, nil, nil)
	rec := o.NewRun(models.FileDescriptor{
		StorageLocator: filepath.Join(t.TempDir(), "missing.csv"),
		OriginalName:   "orders.csv",
	}, "")
	rec.ExecutionOutput = "Traceback (most recent call last):\nModuleNotFoundError: No module named 'boto3'"

	o.validateStage(context.Background(), rec)

	assert.False(t, rec.DestinationTableCreated)
	assert.Zero(t, rec.DestinationRowsInserted)
}

func TestProfileStageSkipsNonCSV(t *testing.T) {
	cfg := testConfig(t)
	o := newTestOrchestrator(cfg, nil, nil)
	rec := o.NewRun(models.FileDescriptor{
		StorageLocator: "/data/events.json",
		OriginalName:   "events.json",
		ContentType:    "application/json",
	}, "")

	o.profileStage(context.Background(), rec)

	assert.Nil(t, rec.Profiling)
	assert.Equal(t, models.StatusProfiled, rec.Status)
}

func TestProfileStageKeepsSuppliedProfile(t *testing.T) {
	cfg := testConfig(t)
	src := writeSourceCSV(t, "id,name\n1,a\n")
	o := newTestOrchestrator(cfg, nil, nil)
	rec := o.NewRun(models.FileDescriptor{StorageLocator: src, OriginalName: "orders.csv"}, "")
	supplied := &models.ProfilingResult{Success: true}
	rec.Profiling = supplied

	o.profileStage(context.Background(), rec)

	assert.Same(t, supplied, rec.Profiling)
	assert.Equal(t, models.StatusProfiled, rec.Status)
}

func TestSaveStageRepairsBrokenScript(t *testing.T) {
	cfg := testConfig(t)
	o := newTestOrchestrator(cfg, nil, nil)
	rec := o.NewRun(models.FileDescriptor{OriginalName: "orders.csv"}, "")
	rec.GeneratedScript = "try:\n    x = 1\nprint(x)\n"

	require.True(t, o.saveStage(rec))

	data, err := os.ReadFile(rec.ScriptPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "WARNING")
	assert.Contains(t, string(data), "except Exception as e:")
	assert.NoError(t, repair.CheckSyntax(string(data)))
}

func TestSaveStageFlagsUnrepairableScript(t *testing.T) {
	cfg := testConfig(t)
	o := newTestOrchestrator(cfg, nil, nil)
	rec := o.NewRun(models.FileDescriptor{OriginalName: "orders.csv"}, "")
	rec.GeneratedScript = "x = (1))\n"

	require.True(t, o.saveStage(rec))

	data, err := os.ReadFile(rec.ScriptPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# WARNING")
}

func TestRunLogExcludesScriptAndProfiling(t *testing.T) {
	dir := t.TempDir()
	rec := &models.WorkflowRecord{
		WorkflowID:      "etl_20260826_120000_1",
		Status:          models.StatusCompleted,
		GeneratedScript: "print('secret script body')",
		Profiling:       &models.ProfilingResult{Success: true},
	}

	require.NoError(t, WriteRunLog(dir, rec))

	data, err := os.ReadFile(filepath.Join(dir, "etl_20260826_120000_1_workflow_log.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret script body")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.NotContains(t, decoded, "profiling")
	assert.Equal(t, "etl_20260826_120000_1", decoded["workflow_id"])
}

func TestSummaryCarriesVerificationQueries(t *testing.T) {
	rec := &models.WorkflowRecord{
		WorkflowID:        "etl_20260826_120000_2",
		Status:            models.StatusCompleted,
		File:              models.FileDescriptor{OriginalName: "orders.csv"},
		SourceRecordCount: 3,
		Profiling: &models.ProfilingResult{
			Success:           true,
			RecommendedSchema: []models.SchemaColumn{{Name: "id"}},
		},
		RecordValidation: &models.RecordValidation{
			Status: "success", Message: "ok",
			SourceCount: 3, DestinationCount: 3, ProcessedCount: 3,
		},
	}

	s := Summary(rec)

	assert.Contains(t, s, "SELECT COUNT(*) FROM ETL_ORDERS;")
	assert.Contains(t, s, "SELECT * FROM ETL_ORDERS LIMIT 10;")
	assert.Contains(t, s, "SHOW TABLES LIKE 'ETL_ORDERS';")
	assert.Contains(t, s, "information_schema.tables")
	assert.Contains(t, s, "DESCRIBE TABLE ETL_ORDERS;")
	assert.Contains(t, s, "COUNT(DISTINCT HASH(*)) AS duplicate_rows FROM ETL_ORDERS;")
	assert.Contains(t, s, `SELECT COUNT(*) AS missing_id FROM ETL_ORDERS WHERE "ID" IS NULL;`)
	assert.Contains(t, s, "SELECT 3 AS source_count, COUNT(*) AS destination_count")
	assert.Contains(t, s, "Verdict: success")
}
