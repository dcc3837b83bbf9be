// Package synth produces the Python load script for a workflow, either
// from the text-generation service or from a deterministic template
// when generation fails or yields an unrunnable script.
package synth

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/skyload/skyload-api/internal/config"
	"github.com/skyload/skyload-api/internal/llm"
	"github.com/skyload/skyload-api/internal/models"
	"github.com/skyload/skyload-api/internal/repair"
)

// Script sources, recorded on the workflow for traceability.
const (
	SourceLLM      = "llm"
	SourceTemplate = "template"
)

const (
	narrativeExcerptLen = 500
	schemaPreviewCols   = 5
)

type Result struct {
	Script string
	Source string
	// Raw is the unprocessed model response, kept for debugging when it
	// differs from the final script. Empty on the template path.
	Raw string
}

type Synthesizer struct {
	gen    llm.Generator
	cfg    config.LLMConfig
	logger zerolog.Logger
}

func New(gen llm.Generator, cfg config.LLMConfig, logger zerolog.Logger) *Synthesizer {
	return &Synthesizer{
		gen:    gen,
		cfg:    cfg,
		logger: logger.With().Str("component", "synth").Logger(),
	}
}

// Generate returns a runnable script for the given source file. The
// generated path is tried first; anything that cannot be repaired into
// a script passing the syntax check falls back to the template, so the
// caller always receives something executable.
func (s *Synthesizer) Generate(ctx context.Context, file models.FileDescriptor, requirements string, prof *models.ProfilingResult) Result {
	if s.gen != nil {
		if script, raw, ok := s.tryGenerated(ctx, file, requirements, prof); ok {
			return Result{Script: script, Source: SourceLLM, Raw: raw}
		}
	}

	s.logger.Info().Str("file", file.OriginalName).Msg("Using template script")
	script := repair.InjectConfig(TemplateScript(file))
	return Result{Script: script, Source: SourceTemplate}
}

func (s *Synthesizer) tryGenerated(ctx context.Context, file models.FileDescriptor, requirements string, prof *models.ProfilingResult) (script, raw string, ok bool) {
	prompt, maxTokens := s.buildPrompt(file, requirements, prof)

	raw, err := s.gen.Generate(ctx, prompt, systemPrompt, maxTokens)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Script generation failed, falling back to template")
		return "", "", false
	}

	script = repair.CleanResponse(raw)
	if script == "" {
		s.logger.Warn().Msg("Generated response contained no code")
		return "", "", false
	}
	script = repair.RepairTokens(script)
	script = repair.InjectConfig(script)

	if err := repair.CheckSyntax(script); err != nil {
		s.logger.Warn().Err(err).Msg("Generated script failed syntax check, attempting repair")
		script = repair.RepairStructure(script)
		if err := repair.CheckSyntax(script); err != nil {
			s.logger.Warn().Err(err).Msg("Repair did not produce a runnable script")
			return "", "", false
		}
	}
	return script, raw, true
}

const systemPrompt = "You are an expert data engineer. Respond with a single " +
	"complete Python script and nothing else: no explanations, no markdown."

// buildPrompt assembles the generation prompt. When profiling succeeded
// the prompt carries its highlights and gets a larger token budget to
// leave room for the extra context.
func (s *Synthesizer) buildPrompt(file models.FileDescriptor, requirements string, prof *models.ProfilingResult) (string, int) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Write a Python ETL script that loads the file %q into a Snowflake table.\n\n", file.OriginalName)
	sb.WriteString("Requirements:\n")
	fmt.Fprintf(&sb, "- Read the source CSV from S3 at %s, or from a local path if the file exists locally.\n", file.StorageLocator)
	sb.WriteString("- Use boto3 for S3 access and snowflake-connector-python for loading.\n")
	sb.WriteString("- Take all credentials from SNOWFLAKE_CONFIG and AWS_CONFIG dictionaries that are already defined; never hardcode credentials.\n")
	sb.WriteString("- Create the destination table if it does not exist, sized generously for the data.\n")
	sb.WriteString("- Insert row by row, committing every 100 rows, and keep going past individual row failures.\n")
	sb.WriteString("- Print progress including lines of the form 'Successfully inserted N rows', 'Successful rows: N' and 'Failed rows: N'.\n")
	sb.WriteString("- After loading, SELECT COUNT(*) and print 'Successfully loaded N rows'.\n")

	if requirements != "" {
		fmt.Fprintf(&sb, "\nUser requirements:\n%s\n", requirements)
	}

	if prof == nil || !prof.Success {
		return sb.String(), s.cfg.MaxTokens
	}

	sb.WriteString("\nDataset profile:\n")
	fmt.Fprintf(&sb, "- Shape: %d rows x %d columns.\n", prof.Dataset.RowCount, prof.Dataset.ColumnCount)
	if cols := candidateColumns(prof.PrimaryKeys); cols != "" {
		fmt.Fprintf(&sb, "- Primary key candidates: %s.\n", cols)
	}
	if cols := candidateColumns(prof.TemporalColumns); cols != "" {
		fmt.Fprintf(&sb, "- Date/time columns: %s.\n", cols)
	}
	fmt.Fprintf(&sb, "- Data completeness: %.1f%%.\n", prof.CompletenessScore)
	if poor := prof.PoorQualityColumns(); len(poor) > 0 {
		fmt.Fprintf(&sb, "- Columns with heavy null rates, handle defensively: %s.\n", strings.Join(poor, ", "))
	}
	if len(prof.RecommendedSchema) > 0 {
		sb.WriteString("- Suggested column types:\n")
		for i, c := range prof.RecommendedSchema {
			if i == schemaPreviewCols {
				fmt.Fprintf(&sb, "  ... and %d more columns.\n", len(prof.RecommendedSchema)-schemaPreviewCols)
				break
			}
			fmt.Fprintf(&sb, "  %s %s\n", c.Name, c.DestinationType)
		}
	}
	if prof.Narrative != "" {
		excerpt := prof.Narrative
		if len(excerpt) > narrativeExcerptLen {
			excerpt = excerpt[:narrativeExcerptLen] + "..."
		}
		fmt.Fprintf(&sb, "\nAnalyst notes:\n%s\n", excerpt)
	}

	return sb.String(), s.cfg.EnhancedMaxTokens
}

func candidateColumns(cs []models.Candidate) string {
	if len(cs) == 0 {
		return ""
	}
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = c.Column
	}
	return strings.Join(names, ", ")
}
