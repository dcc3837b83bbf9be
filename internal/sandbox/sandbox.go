// Package sandbox runs generated scripts in a child process with a hard
// deadline, returning their combined output for reconciliation.
package sandbox

import (
	"context"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Result captures everything the pipeline needs from a script run. A
// non-zero exit or a timeout is data, not an error: only failing to
// launch the process at all is reported as an error.
type Result struct {
	Output   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

type Runner struct {
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Runner {
	return &Runner{logger: logger.With().Str("component", "sandbox").Logger()}
}

// Run executes scriptPath with the given interpreter. extraEnv entries
// are layered over the parent environment; stdout and stderr are
// captured interleaved.
func (r *Runner) Run(ctx context.Context, interpreter, scriptPath string, extraEnv map[string]string, timeout time.Duration) (*Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, interpreter, scriptPath)
	cmd.Env = mergedEnv(extraEnv)

	r.logger.Info().
		Str("interpreter", interpreter).
		Str("script", scriptPath).
		Dur("timeout", timeout).
		Msg("Executing script")

	start := time.Now()
	output, err := cmd.CombinedOutput()
	res := &Result{
		Output:   string(output),
		Duration: time.Since(start),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitCode = -1
		r.logger.Warn().Dur("elapsed", res.Duration).Msg("Script execution timed out")
		return res, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			r.logger.Warn().Int("exit_code", res.ExitCode).Msg("Script exited with failure")
			return res, nil
		}
		return nil, errors.Wrapf(err, "launch %s", interpreter)
	}

	r.logger.Info().Dur("elapsed", res.Duration).Msg("Script completed")
	return res, nil
}

// mergedEnv overlays extra on the parent environment, last value wins.
func mergedEnv(extra map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}
