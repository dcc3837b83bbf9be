package workflow

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/skyload/skyload-api/internal/models"
	"github.com/skyload/skyload-api/internal/synth"
)

// Progress markers printed by the load scripts. When a marker repeats,
// the last occurrence is authoritative: scripts report running totals.
var (
	loadedPattern     = regexp.MustCompile(`Successfully loaded (\d+) rows`)
	insertedPattern   = regexp.MustCompile(`Successfully inserted (\d+) rows`)
	successfulPattern = regexp.MustCompile(`Successful rows: (\d+)`)
	failedPattern     = regexp.MustCompile(`Failed rows: (\d+)`)
	remainingPattern  = regexp.MustCompile(`(\d+) rows remaining`)
)

// outputCounts is what the execution log claims happened.
type outputCounts struct {
	loaded        int // post-load SELECT COUNT(*) reported by the script
	inserted      int
	successful    int
	failed        int
	remaining     int // unfinished work the script reported before stopping
	hasLoaded     bool
	hasInserted   bool
	hasSuccessful bool
}

// ingestionObserved reports whether the log carries any load evidence,
// however the run ended. A script that printed a success marker reached
// the destination and created its table, even if it failed later.
func (c outputCounts) ingestionObserved() bool {
	return c.hasLoaded || c.hasInserted || c.hasSuccessful
}

func lastMatch(re *regexp.Regexp, output string) (int, bool) {
	ms := re.FindAllStringSubmatch(output, -1)
	if len(ms) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(ms[len(ms)-1][1])
	if err != nil {
		return 0, false
	}
	return n, true
}

func scanOutput(output string) outputCounts {
	var c outputCounts
	if n, ok := lastMatch(loadedPattern, output); ok {
		c.loaded, c.hasLoaded = n, true
	}
	if n, ok := lastMatch(insertedPattern, output); ok {
		c.inserted, c.hasInserted = n, true
	}
	if n, ok := lastMatch(successfulPattern, output); ok {
		c.successful, c.hasSuccessful = n, true
	}
	if n, ok := lastMatch(failedPattern, output); ok {
		c.failed = n
	}
	if n, ok := lastMatch(remainingPattern, output); ok {
		c.remaining = n
	}
	return c
}

// processedCount picks the most trustworthy claim from the log: the
// post-load count, then the insert total, then the success counter.
func (c outputCounts) processedCount() int {
	switch {
	case c.hasLoaded:
		return c.loaded
	case c.inserted > 0:
		return c.inserted
	default:
		return c.successful
	}
}

// validateStage reconciles what the source holds, what the script says
// it did, and what the destination actually contains.
func (o *Orchestrator) validateStage(ctx context.Context, rec *models.WorkflowRecord) {
	log := o.logger.With().Str("workflow_id", rec.WorkflowID).Logger()

	rec.SourceRecordCount = o.countSourceRecords(ctx, rec.File)

	counts := scanOutput(rec.ExecutionOutput)
	rec.ProcessedRecordCount = counts.processedCount()
	if counts.ingestionObserved() {
		rec.DestinationTableCreated = true
		rec.DestinationRowsInserted = rec.ProcessedRecordCount
	}
	if counts.remaining > 0 && !rec.ExecutionSuccess {
		log.Warn().Int("rows_remaining", counts.remaining).Msg("Script stopped with work outstanding")
	}

	if msg := classifyDestinationError(rec.ExecutionOutput); msg != "" {
		rec.DestinationError = msg
	}

	rec.DestinationActualCount = o.destinationCount(ctx, rec)

	if rec.DestinationActualCount == 0 && o.wh != nil {
		o.directLoadFallback(ctx, rec)
	}

	v := ValidateCounts(rec.SourceRecordCount, rec.DestinationActualCount,
		rec.ProcessedRecordCount, o.cfg.Workflow.VarianceAccept, o.cfg.Workflow.VarianceWarn)
	rec.RecordValidation = &v

	log.Info().
		Int("source", v.SourceCount).
		Int("destination", v.DestinationCount).
		Int("processed", v.ProcessedCount).
		Str("verdict", v.Status).
		Msg("Record count reconciliation")

	if v.Status == "failed" {
		rec.AdvanceStatus(models.StatusValidationFailed)
	} else {
		rec.AdvanceStatus(models.StatusValidated)
	}
}

// countSourceRecords counts data rows in the source file, excluding the
// header. Quoted embedded newlines are handled by the CSV reader; a
// read failure yields zero, which the verdict treats as unknown.
func (o *Orchestrator) countSourceRecords(ctx context.Context, file models.FileDescriptor) int {
	data, err := o.readSource(ctx, file, 0)
	if err != nil {
		o.logger.Warn().Err(err).Msg("Could not count source records")
		return 0
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	count := 0
	for {
		_, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		count++
	}
	if count > 0 {
		count-- // header
	}
	return count
}

// destinationCount queries the warehouse for the loaded row count. The
// expected table is tried first; when it is absent the recently created
// tables are consulted, since a generated script may have chosen its
// own name.
func (o *Orchestrator) destinationCount(ctx context.Context, rec *models.WorkflowRecord) int {
	if o.wh == nil {
		return 0
	}
	log := o.logger.With().Str("workflow_id", rec.WorkflowID).Logger()

	expected := synth.TableNameFor(rec.File.OriginalName)
	if n, err := o.wh.CountRows(ctx, expected); err == nil && n > 0 {
		return n
	}

	tables, err := o.wh.RecentTables(ctx, o.cfg.Workflow.CatalogWindow)
	if err != nil {
		log.Warn().Err(err).Msg("Catalog query failed")
		return 0
	}
	best := 0
	for _, t := range tables {
		if !strings.HasPrefix(t.Name, "ETL_") {
			continue
		}
		if int(t.RowCount) > best {
			best = int(t.RowCount)
			log.Info().Str("table", t.Name).Int64("rows", t.RowCount).Msg("Found recently created table")
		}
	}
	return best
}

// directLoadFallback creates the destination table from the recommended
// schema and loads the profiled sample directly, so a failed script
// still leaves verifiable data behind.
func (o *Orchestrator) directLoadFallback(ctx context.Context, rec *models.WorkflowRecord) {
	prof := rec.Profiling
	if prof == nil || !prof.Success || len(prof.RecommendedSchema) == 0 || len(prof.SampleRows) == 0 {
		return
	}
	log := o.logger.With().Str("workflow_id", rec.WorkflowID).Logger()

	table := synth.TableNameFor(rec.File.OriginalName)
	if err := o.wh.CreateTable(ctx, table, prof.RecommendedSchema); err != nil {
		log.Warn().Err(err).Str("table", table).Msg("Direct-load table creation failed")
		return
	}
	rec.DestinationTableCreated = true

	columns := make([]string, len(prof.RecommendedSchema))
	for i, c := range prof.RecommendedSchema {
		columns[i] = c.Name
	}
	n, err := o.wh.InsertRows(ctx, table, columns, prof.SampleRows)
	if err != nil {
		log.Warn().Err(err).Str("table", table).Msg("Direct load failed")
	}
	rec.DestinationRowsInserted = n
	if n > 0 {
		rec.DestinationActualCount = n
		log.Info().Str("table", table).Int("rows", n).Msg("Direct load completed")
	}
}

// classifyDestinationError maps known warehouse failure signatures in
// the execution log to actionable messages.
func classifyDestinationError(output string) string {
	switch {
	case output == "":
		return ""
	case strings.Contains(output, "is too long"):
		return "Column size limit exceeded: a value did not fit its VARCHAR column; increase the column sizes"
	case strings.Contains(output, "Binding data in type"):
		return "Type binding error: a value could not be bound to its column type; check the column type mapping"
	case strings.Contains(output, "your_account"), strings.Contains(output, "404 Not Found"):
		return "Warehouse configuration incomplete: placeholder account settings were used; set real credentials"
	default:
		return ""
	}
}

// ValidateCounts renders the three-way reconciliation verdict. An
// unknown source count can at best warn; an empty destination always
// fails; beyond the exact and processed-count matches, the verdict
// follows the variance between source and destination.
func ValidateCounts(source, destination, processed int, accept, warn float64) models.RecordValidation {
	v := models.RecordValidation{
		SourceCount:      source,
		DestinationCount: destination,
		ProcessedCount:   processed,
	}

	switch {
	case source == 0:
		v.Status = "warning"
		v.Message = "Source record count unknown; cannot verify the load"
	case destination == 0:
		v.Status = "failed"
		v.Message = fmt.Sprintf("No records found in destination; source has %d", source)
	case source == destination:
		v.Status = "success"
		v.Message = fmt.Sprintf("Perfect match: %d records in source and destination", source)
	case processed == destination && processed > 0:
		v.Status = "success"
		v.Message = fmt.Sprintf("Destination matches processed count (%d); source had %d", processed, source)
	default:
		variance := float64(abs(source-destination)) / float64(source)
		pct := variance * 100
		switch {
		case variance <= accept:
			v.Status = "success"
			v.Message = fmt.Sprintf("Counts within tolerance: %.1f%% variance (%d vs %d)", pct, source, destination)
		case variance <= warn:
			v.Status = "warning"
			v.Message = fmt.Sprintf("Count variance %.1f%% (%d vs %d); review the load", pct, source, destination)
		default:
			v.Status = "failed"
			v.Message = fmt.Sprintf("Count variance %.1f%% (%d vs %d) exceeds the acceptable range", pct, source, destination)
		}
	}
	return v
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
