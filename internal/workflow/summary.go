package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/skyload/skyload-api/internal/models"
	"github.com/skyload/skyload-api/internal/synth"
)

// Summary renders the human-readable run report, including the SQL a
// reviewer can paste into the warehouse to verify the load.
func Summary(rec *models.WorkflowRecord) string {
	var sb strings.Builder
	table := synth.TableNameFor(rec.File.OriginalName)

	fmt.Fprintf(&sb, "Workflow %s finished\n", rec.WorkflowID)
	fmt.Fprintf(&sb, "  File: %s\n", rec.File.OriginalName)
	fmt.Fprintf(&sb, "  Status: %s\n", rec.Status)
	fmt.Fprintf(&sb, "  Script source: %s\n", rec.ScriptSource)
	if rec.ScriptPath != "" {
		fmt.Fprintf(&sb, "  Script: %s\n", rec.ScriptPath)
	}
	fmt.Fprintf(&sb, "  Execution success: %t\n", rec.ExecutionSuccess)
	if rec.ExecutionError != "" {
		fmt.Fprintf(&sb, "  Execution error: %s\n", rec.ExecutionError)
	}
	if rec.DestinationError != "" {
		fmt.Fprintf(&sb, "  Destination error: %s\n", rec.DestinationError)
	}
	if v := rec.RecordValidation; v != nil {
		fmt.Fprintf(&sb, "  Counts: source=%d destination=%d processed=%d\n",
			v.SourceCount, v.DestinationCount, v.ProcessedCount)
		fmt.Fprintf(&sb, "  Verdict: %s (%s)\n", v.Status, v.Message)
	}

	sb.WriteString("  Verification queries:\n")
	fmt.Fprintf(&sb, "    SELECT COUNT(*) FROM %s;\n", table)
	fmt.Fprintf(&sb, "    SELECT * FROM %s LIMIT 10;\n", table)
	fmt.Fprintf(&sb, "    SHOW TABLES LIKE '%s';\n", table)
	sb.WriteString("    SELECT table_name, row_count, created FROM information_schema.tables\n")
	sb.WriteString("      WHERE created >= DATEADD(minute, -10, CURRENT_TIMESTAMP()) ORDER BY created DESC;\n")
	fmt.Fprintf(&sb, "    DESCRIBE TABLE %s;\n", table)
	fmt.Fprintf(&sb, "    SELECT COUNT(*) - COUNT(DISTINCT HASH(*)) AS duplicate_rows FROM %s;\n", table)
	if p := rec.Profiling; p != nil && len(p.RecommendedSchema) > 0 {
		col := strings.ToUpper(p.RecommendedSchema[0].Name)
		fmt.Fprintf(&sb, "    SELECT COUNT(*) AS missing_%s FROM %s WHERE \"%s\" IS NULL;\n",
			strings.ToLower(col), table, col)
	}
	fmt.Fprintf(&sb, "    SELECT %d AS source_count, COUNT(*) AS destination_count, COUNT(*) - %d AS difference FROM %s;\n",
		rec.SourceRecordCount, rec.SourceRecordCount, table)

	return sb.String()
}

// WriteRunLog persists the run record as pretty-printed JSON alongside
// the script. Profiling output and the script body are excluded via
// their JSON tags.
func WriteRunLog(dir string, rec *models.WorkflowRecord) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create run log directory")
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal run log")
	}

	path := filepath.Join(dir, rec.WorkflowID+"_workflow_log.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "write run log")
	}
	return nil
}
