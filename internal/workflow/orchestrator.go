// Package workflow drives an ETL run through its stages: profiling the
// source, generating and saving the load script, executing it, and
// reconciling record counts. Stage failures are recorded on the run
// record rather than aborting it; the workflow always reaches
// finalization with a verdict.
package workflow

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/skyload/skyload-api/internal/config"
	"github.com/skyload/skyload-api/internal/models"
	"github.com/skyload/skyload-api/internal/objectstore"
	"github.com/skyload/skyload-api/internal/profiler"
	"github.com/skyload/skyload-api/internal/repair"
	"github.com/skyload/skyload-api/internal/sandbox"
	"github.com/skyload/skyload-api/internal/synth"
	"github.com/skyload/skyload-api/internal/warehouse"
)

// RunStore persists run records. Implemented by the workflow repository;
// a nil store disables persistence without affecting the run itself.
type RunStore interface {
	Create(ctx context.Context, rec *models.WorkflowRecord) error
	Update(ctx context.Context, rec *models.WorkflowRecord) error
}

type Orchestrator struct {
	cfg    *config.Config
	store  objectstore.Store
	wh     warehouse.Client
	prof   *profiler.Profiler
	synth  *synth.Synthesizer
	runner *sandbox.Runner
	runs   RunStore
	logger zerolog.Logger
}

// New wires an orchestrator. store, wh and runs may be nil; the
// corresponding stages then degrade (local files only, log-derived
// reconciliation, no persistence).
func New(cfg *config.Config, store objectstore.Store, wh warehouse.Client,
	prof *profiler.Profiler, s *synth.Synthesizer, runner *sandbox.Runner,
	runs RunStore, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		store:  store,
		wh:     wh,
		prof:   prof,
		synth:  s,
		runner: runner,
		runs:   runs,
		logger: logger.With().Str("component", "workflow").Logger(),
	}
}

// runCounter disambiguates workflows started within the same second.
var runCounter uint64

func newWorkflowID(now time.Time) string {
	return fmt.Sprintf("etl_%s_%d", now.Format("20060102_150405"), atomic.AddUint64(&runCounter, 1))
}

// NewRun builds an initialized record for the given source file.
func (o *Orchestrator) NewRun(file models.FileDescriptor, requirements string) *models.WorkflowRecord {
	now := time.Now().UTC()
	return &models.WorkflowRecord{
		WorkflowID:       newWorkflowID(now),
		Timestamp:        now,
		Status:           models.StatusInitialized,
		File:             file,
		UserRequirements: requirements,
	}
}

// Run executes every stage in order. Execution is attempted only when a
// script was saved; validation and finalization always run so the
// record carries a verdict whatever happened upstream.
func (o *Orchestrator) Run(ctx context.Context, rec *models.WorkflowRecord) {
	log := o.logger.With().Str("workflow_id", rec.WorkflowID).Logger()
	log.Info().Str("file", rec.File.OriginalName).Msg("Workflow started")

	if o.runs != nil {
		if err := o.runs.Create(ctx, rec); err != nil {
			log.Error().Err(err).Msg("Failed to persist workflow record")
		}
	}

	o.profileStage(ctx, rec)
	o.persist(ctx, rec)

	o.generateStage(ctx, rec)
	o.persist(ctx, rec)

	saved := o.saveStage(rec)
	o.persist(ctx, rec)

	if saved {
		o.executeStage(ctx, rec)
		o.persist(ctx, rec)
	}

	o.validateStage(ctx, rec)
	o.persist(ctx, rec)

	o.finalizeStage(rec)
	o.persist(ctx, rec)

	log.Info().Str("status", rec.Status).Msg("Workflow finished")
}

func (o *Orchestrator) persist(ctx context.Context, rec *models.WorkflowRecord) {
	if o.runs == nil {
		return
	}
	if err := o.runs.Update(ctx, rec); err != nil {
		o.logger.Error().Err(err).Str("workflow_id", rec.WorkflowID).Msg("Failed to update workflow record")
	}
}

// isCSVSource reports whether the profiler can make sense of the file.
func isCSVSource(file models.FileDescriptor) bool {
	if strings.EqualFold(filepath.Ext(file.OriginalName), ".csv") {
		return true
	}
	return strings.Contains(strings.ToLower(file.ContentType), "csv")
}

// profileStage analyzes a bounded sample of the source file. Profiling
// is best-effort: the stage always advances, carrying any error inside
// the profiling result. A non-CSV source, or a record that already
// carries a profile, passes through untouched.
func (o *Orchestrator) profileStage(ctx context.Context, rec *models.WorkflowRecord) {
	if rec.Profiling != nil || !isCSVSource(rec.File) {
		o.logger.Debug().Str("workflow_id", rec.WorkflowID).Str("file", rec.File.OriginalName).
			Msg("Skipping profiling")
		rec.AdvanceStatus(models.StatusProfiled)
		return
	}

	sample, err := o.readSource(ctx, rec.File, o.cfg.Workflow.MaxSampleBytes)
	if err != nil {
		rec.Profiling = &models.ProfilingResult{Success: false, Error: err.Error()}
		o.logger.Warn().Err(err).Str("workflow_id", rec.WorkflowID).Msg("Could not read source for profiling")
	} else {
		rec.Profiling = o.prof.Profile(ctx, sample)
	}
	rec.AdvanceStatus(models.StatusProfiled)
}

func (o *Orchestrator) generateStage(ctx context.Context, rec *models.WorkflowRecord) {
	res := o.synth.Generate(ctx, rec.File, rec.UserRequirements, rec.Profiling)
	rec.GeneratedScript = res.Script
	rec.ScriptSource = res.Source
	rec.AdvanceStatus(models.StatusScriptGenerated)

	if res.Raw != "" && res.Raw != res.Script {
		o.writeDebugCopy(rec.WorkflowID, res.Raw)
	}
}

// saveStage writes the script to disk executable. A filesystem failure
// here is the one thing that stops the run short of execution.
func (o *Orchestrator) saveStage(rec *models.WorkflowRecord) bool {
	if err := os.MkdirAll(o.cfg.Workflow.ScriptsDir, 0o755); err != nil {
		rec.ExecutionError = errors.Wrap(err, "create scripts directory").Error()
		return false
	}

	script := rec.GeneratedScript
	if err := repair.CheckSyntax(script); err != nil {
		repaired := repair.RepairStructure(repair.RepairTokens(script))
		if repair.CheckSyntax(repaired) == nil {
			o.logger.Info().Str("workflow_id", rec.WorkflowID).Msg("Repaired script before saving")
			script = repaired
			rec.GeneratedScript = repaired
		} else {
			// Saved anyway for inspection, clearly flagged.
			script = "# WARNING: this script failed validation and may not run:\n# " +
				err.Error() + "\n\n" + script
		}
	}

	path := filepath.Join(o.cfg.Workflow.ScriptsDir, rec.WorkflowID+"_etl_script.py")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		rec.ExecutionError = errors.Wrap(err, "save script").Error()
		return false
	}

	rec.ScriptPath = path
	rec.AdvanceStatus(models.StatusScriptSaved)
	o.logger.Info().Str("workflow_id", rec.WorkflowID).Str("path", path).Msg("Script saved")
	return true
}

func (o *Orchestrator) writeDebugCopy(workflowID, raw string) {
	if err := os.MkdirAll(o.cfg.Workflow.ScriptsDir, 0o755); err != nil {
		return
	}
	path := filepath.Join(o.cfg.Workflow.ScriptsDir, workflowID+"_debug_original.py")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		o.logger.Warn().Err(err).Msg("Could not write debug copy")
	}
}

func (o *Orchestrator) executeStage(ctx context.Context, rec *models.WorkflowRecord) {
	res, err := o.runner.Run(ctx, o.cfg.Workflow.Interpreter, rec.ScriptPath,
		o.cfg.ScriptEnv(), o.cfg.Workflow.ExecutionTimeout)
	if err != nil {
		rec.ExecutionError = err.Error()
		rec.AdvanceStatus(models.StatusExecutionFailed)
		return
	}

	rec.ExecutionOutput = res.Output
	switch {
	case res.TimedOut:
		rec.ExecutionError = fmt.Sprintf("execution exceeded %s", o.cfg.Workflow.ExecutionTimeout)
		rec.AdvanceStatus(models.StatusExecutionTimeout)
	case res.ExitCode != 0:
		rec.ExecutionError = fmt.Sprintf("script exited with code %d", res.ExitCode)
		rec.AdvanceStatus(models.StatusExecutionFailed)
	default:
		rec.ExecutionSuccess = true
		rec.AdvanceStatus(models.StatusExecuted)
	}
}

// finalizeStage writes the run log and completes the record. The run
// log deliberately excludes profiling output and the script body; both
// are reproducible and would dwarf the rest of the log.
func (o *Orchestrator) finalizeStage(rec *models.WorkflowRecord) {
	if err := WriteRunLog(o.cfg.Workflow.ScriptsDir, rec); err != nil {
		o.logger.Warn().Err(err).Str("workflow_id", rec.WorkflowID).Msg("Could not write run log")
	}

	o.logger.Info().Str("workflow_id", rec.WorkflowID).Msg(Summary(rec))
	rec.AdvanceStatus(models.StatusCompleted)
}

// readSource fetches up to limit bytes of the source file, from object
// storage for s3 locators and from disk otherwise.
func (o *Orchestrator) readSource(ctx context.Context, file models.FileDescriptor, limit int) ([]byte, error) {
	if bucket, key, ok := objectstore.ParseLocator(file.StorageLocator); ok {
		if o.store == nil {
			return nil, errors.New("object storage not configured")
		}
		data, err := o.store.Get(ctx, bucket, key)
		if err != nil {
			return nil, errors.Wrap(err, "fetch source object")
		}
		if limit > 0 && len(data) > limit {
			data = data[:limit]
		}
		return data, nil
	}

	f, err := os.Open(file.StorageLocator)
	if err != nil {
		return nil, errors.Wrap(err, "open source file")
	}
	defer f.Close()

	if limit <= 0 {
		limit = 10 << 20
	}
	data, err := io.ReadAll(io.LimitReader(f, int64(limit)))
	if err != nil {
		return nil, errors.Wrap(err, "read source file")
	}
	return data, nil
}
