// Package profiler implements dataset profiling for uploaded tabular
// files: primary-key and temporal-column candidate detection, per-column
// quality statistics, and a recommended destination schema.
//
// All inference is best-effort: an internal failure produces a result
// with Success=false, never an error the pipeline has to handle.
package profiler

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/skyload/skyload-api/internal/llm"
	"github.com/skyload/skyload-api/internal/models"
)

// Classification thresholds. These are fixed policy constants carried
// over from the profiling heuristics, not tuned here.
const (
	pkMediumDistinctRatio = 0.95
	pkMediumNullRatio     = 0.05
	dateHighParseRatio    = 0.80
	dateMediumParseRatio  = 0.50

	nullWarningPercent = 5.0
	nullPoorPercent    = 20.0

	varcharShort = 50
	varcharLong  = 255

	sampleRowLimit  = 5
	narrativeTokens = 500
)

// temporalNameHints flags columns whose name suggests a date or time
// even when the values do not parse as one.
var temporalNameHints = []string{"date", "time", "created", "updated", "modified", "_dt", "_ts"}

type Profiler struct {
	gen    llm.Generator
	logger zerolog.Logger
}

// New builds a Profiler. gen may be nil; the narrative insight is then
// skipped entirely.
func New(gen llm.Generator, logger zerolog.Logger) *Profiler {
	return &Profiler{
		gen:    gen,
		logger: logger.With().Str("component", "profiler").Logger(),
	}
}

// column holds the per-column statistics shared by every heuristic.
type column struct {
	name     string
	values   []string // raw cell values, row order
	nonNull  int
	distinct int
	maxLen   int
	typ      string
	dateHits int // values that parse as a date
}

// Profile analyzes a raw CSV payload. The caller is responsible for
// bounding the payload size; Profile itself never fails the run.
func (p *Profiler) Profile(ctx context.Context, raw []byte) *models.ProfilingResult {
	headers, rows, err := readCSV(raw)
	if err != nil {
		p.logger.Error().Err(err).Msg("Profiling failed")
		return &models.ProfilingResult{Success: false, Error: err.Error()}
	}
	if len(headers) == 0 {
		return &models.ProfilingResult{Success: false, Error: "dataset has no columns"}
	}

	cols := buildColumns(headers, rows)

	result := &models.ProfilingResult{
		Success: true,
		Dataset: models.DatasetInfo{
			RowCount:    len(rows),
			ColumnCount: len(headers),
			ColumnNames: headers,
			ColumnTypes: make(map[string]string, len(headers)),
		},
	}
	for _, c := range cols {
		result.Dataset.ColumnTypes[c.name] = c.typ
	}

	result.PrimaryKeys = detectPrimaryKeys(cols, len(rows))
	result.TemporalColumns = detectTemporalColumns(cols, len(rows))
	result.Quality = buildQualityReport(cols, len(rows))
	result.RecommendedSchema = recommendSchema(cols, len(rows))
	result.CompletenessScore = completeness(cols, len(rows))
	result.SampleRows = sampleRows(rows)

	if p.gen != nil {
		result.Narrative = p.narrative(ctx, result)
	}

	return result
}

// readCSV parses the sample, tolerating a truncated final line.
func readCSV(raw []byte) ([]string, [][]string, error) {
	if i := bytes.LastIndexByte(raw, '\n'); i > 0 && i < len(raw)-1 {
		// The sample may end mid-record; cut at the last full line.
		raw = raw[:i+1]
	}

	r := csv.NewReader(bytes.NewReader(raw))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	headers, err := r.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Skip malformed rows rather than failing the sample.
			continue
		}
		if len(rec) != len(headers) {
			continue
		}
		rows = append(rows, rec)
	}
	return headers, rows, nil
}

func buildColumns(headers []string, rows [][]string) []*column {
	cols := make([]*column, len(headers))
	for i, h := range headers {
		cols[i] = &column{name: h, values: make([]string, 0, len(rows))}
	}
	for _, row := range rows {
		for i, cell := range row {
			cols[i].values = append(cols[i].values, cell)
		}
	}
	for _, c := range cols {
		seen := make(map[string]struct{}, len(c.values))
		for _, v := range c.values {
			if isNull(v) {
				continue
			}
			c.nonNull++
			if len(v) > c.maxLen {
				c.maxLen = len(v)
			}
			if _, ok := seen[v]; !ok {
				seen[v] = struct{}{}
				c.distinct++
			}
			if _, ok := parseDate(v); ok {
				c.dateHits++
			}
		}
		c.typ = inferType(c)
	}
	return cols
}

func isNull(v string) bool {
	s := strings.TrimSpace(v)
	return s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "n/a")
}

// inferType classifies a column by attempting progressively looser
// parses over all non-null values.
func inferType(c *column) string {
	if c.nonNull == 0 {
		return models.TypeString
	}
	allInt, allFloat, allBool := true, true, true
	for _, v := range c.values {
		if isNull(v) {
			continue
		}
		s := strings.TrimSpace(v)
		if allInt {
			if _, err := strconv.ParseInt(s, 10, 64); err != nil {
				allInt = false
			}
		}
		if allFloat {
			if _, err := strconv.ParseFloat(s, 64); err != nil {
				allFloat = false
			}
		}
		if allBool {
			switch strings.ToLower(s) {
			case "true", "false":
			default:
				allBool = false
			}
		}
	}
	switch {
	case allBool:
		return models.TypeBoolean
	case allInt:
		return models.TypeInteger
	case allFloat:
		return models.TypeFloat
	case c.dateHits == c.nonNull:
		return models.TypeDatetime
	default:
		return models.TypeString
	}
}

// detectPrimaryKeys flags columns whose uniqueness qualifies them as key
// candidates. Column order is preserved; there is no ranking beyond the
// confidence tier.
func detectPrimaryKeys(cols []*column, rowCount int) []models.Candidate {
	var out []models.Candidate
	if rowCount == 0 {
		return out
	}
	for _, c := range cols {
		nulls := rowCount - c.nonNull
		switch {
		case c.distinct == rowCount && nulls == 0:
			out = append(out, models.Candidate{
				Column:     c.name,
				Confidence: models.ConfidenceHigh,
				Reason:     "every value is distinct and no nulls",
			})
		case float64(c.distinct) >= pkMediumDistinctRatio*float64(rowCount) &&
			float64(nulls) <= pkMediumNullRatio*float64(rowCount):
			out = append(out, models.Candidate{
				Column:     c.name,
				Confidence: models.ConfidenceMedium,
				Reason: fmt.Sprintf("%d of %d values distinct, %d nulls",
					c.distinct, rowCount, nulls),
			})
		}
	}
	return out
}

// detectTemporalColumns applies the value-based heuristic first, then the
// name-based one. Candidates are deduplicated by column name: the first
// heuristic to fire wins and its reason is kept.
func detectTemporalColumns(cols []*column, rowCount int) []models.Candidate {
	var out []models.Candidate
	flagged := make(map[string]struct{})
	add := func(c models.Candidate) {
		if _, ok := flagged[c.Column]; ok {
			return
		}
		flagged[c.Column] = struct{}{}
		out = append(out, c)
	}

	for _, c := range cols {
		switch c.typ {
		case models.TypeDatetime:
			if c.distinct > 1 {
				add(models.Candidate{
					Column:     c.name,
					Confidence: models.ConfidenceHigh,
					Reason:     "typed as datetime with multiple distinct values",
				})
			}
			continue
		case models.TypeInteger, models.TypeFloat:
			// Numeric columns never qualify on values alone.
			continue
		}
		if c.nonNull == 0 {
			continue
		}
		ratio := float64(c.dateHits) / float64(c.nonNull)
		switch {
		case ratio >= dateHighParseRatio && c.distinct > 1:
			add(models.Candidate{
				Column:     c.name,
				Confidence: models.ConfidenceHigh,
				Reason:     fmt.Sprintf("%.0f%% of values parse as dates", ratio*100),
			})
		case ratio >= dateMediumParseRatio:
			add(models.Candidate{
				Column:     c.name,
				Confidence: models.ConfidenceMedium,
				Reason:     fmt.Sprintf("%.0f%% of values parse as dates", ratio*100),
			})
		}
	}

	// Name hints can fire even when the values never parsed.
	for _, c := range cols {
		lower := strings.ToLower(c.name)
		for _, hint := range temporalNameHints {
			if strings.Contains(lower, hint) {
				add(models.Candidate{
					Column:     c.name,
					Confidence: models.ConfidenceMedium,
					Reason:     fmt.Sprintf("column name contains %q", hint),
				})
				break
			}
		}
	}
	return out
}

func buildQualityReport(cols []*column, rowCount int) []models.ColumnQuality {
	out := make([]models.ColumnQuality, 0, len(cols))
	for _, c := range cols {
		q := models.ColumnQuality{
			Column:      c.name,
			CurrentType: c.typ,
		}
		if rowCount > 0 {
			q.NullPercent = float64(rowCount-c.nonNull) / float64(rowCount) * 100
			q.UniquePercent = float64(c.distinct) / float64(rowCount) * 100
		}
		switch {
		case q.NullPercent < nullWarningPercent:
			q.NullStatus = "good"
		case q.NullPercent < nullPoorPercent:
			q.NullStatus = "warning"
		default:
			q.NullStatus = "poor"
		}
		q.SuggestedType = suggestStorageType(c)
		out = append(out, q)
	}
	return out
}

// suggestStorageType picks a storage type by attempting a numeric parse,
// then a date parse, then sizing a string type against fixed breakpoints.
func suggestStorageType(c *column) string {
	switch c.typ {
	case models.TypeInteger, models.TypeFloat:
		return "NUMBER"
	case models.TypeDatetime:
		return "TIMESTAMP"
	}
	switch {
	case c.maxLen <= varcharShort:
		return fmt.Sprintf("VARCHAR(%d)", varcharShort)
	case c.maxLen <= varcharLong:
		return fmt.Sprintf("VARCHAR(%d)", varcharLong)
	default:
		return "TEXT"
	}
}

func recommendSchema(cols []*column, rowCount int) []models.SchemaColumn {
	out := make([]models.SchemaColumn, 0, len(cols))
	for _, c := range cols {
		sc := models.SchemaColumn{
			Name:     normalizeColumnName(c.name),
			Nullable: c.nonNull < rowCount,
			Unique:   rowCount > 0 && c.distinct == rowCount && c.nonNull == rowCount,
		}
		switch c.typ {
		case models.TypeInteger:
			sc.DestinationType = "NUMBER(38,0)"
		case models.TypeFloat:
			sc.DestinationType = "NUMBER(38,4)"
		case models.TypeBoolean:
			sc.DestinationType = "BOOLEAN"
		case models.TypeDatetime:
			sc.DestinationType = "TIMESTAMP_NTZ"
		default:
			if c.maxLen > varcharLong {
				sc.DestinationType = "TEXT"
			} else {
				width := c.maxLen
				if width < 1 {
					width = 1
				}
				sc.DestinationType = fmt.Sprintf("VARCHAR(%d)", width)
			}
		}
		out = append(out, sc)
	}
	return out
}

// normalizeColumnName lowercases and maps spaces/hyphens to underscores.
func normalizeColumnName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}

// completeness is the overall fraction of non-null cells, as a percentage.
func completeness(cols []*column, rowCount int) float64 {
	if rowCount == 0 || len(cols) == 0 {
		return 0
	}
	total := rowCount * len(cols)
	nonNull := 0
	for _, c := range cols {
		nonNull += c.nonNull
	}
	return float64(nonNull) / float64(total) * 100
}

func sampleRows(rows [][]string) [][]string {
	if len(rows) <= sampleRowLimit {
		return rows
	}
	return rows[:sampleRowLimit]
}

// narrative asks the text-generation service for a short analysis of the
// detected candidates. Failures degrade to an error string; profiling
// itself is already complete at this point.
func (p *Profiler) narrative(ctx context.Context, res *models.ProfilingResult) string {
	var keys, dates []string
	for _, c := range res.PrimaryKeys {
		keys = append(keys, c.Column)
	}
	for _, c := range res.TemporalColumns {
		dates = append(dates, c.Column)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "The analysis of a dataset with %d rows and %d columns found:\n",
		res.Dataset.RowCount, res.Dataset.ColumnCount)
	fmt.Fprintf(&sb, "- Primary/business key candidates: %s\n", strings.Join(keys, ", "))
	fmt.Fprintf(&sb, "- Date/time column candidates: %s\n", strings.Join(dates, ", "))
	fmt.Fprintf(&sb, "- Overall completeness: %.1f%%\n", res.CompletenessScore)
	if len(res.SampleRows) > 0 {
		sb.WriteString("Sample rows:\n")
		for _, row := range res.SampleRows {
			fmt.Fprintf(&sb, "  %s\n", strings.Join(row, " | "))
		}
	}
	sb.WriteString("\nExplain why these columns were chosen and what they imply for ")
	sb.WriteString("loading this dataset into a warehouse with history tracking.")

	text, err := p.gen.Generate(ctx, sb.String(),
		"You are a data engineering expert explaining dataset profiling results.", narrativeTokens)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Narrative generation failed")
		return fmt.Sprintf("Error generating narrative: %v", err)
	}
	return text
}
