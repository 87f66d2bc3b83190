package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/datawire/dlib/dexec"

	"plumerun/internal/manifest"
)

// Runner executes manifest steps as shell commands.
//
// Every step runs through the platform shell so manifests can use pipes,
// redirects and variable references the way CI scripts always have.
type Runner struct {
	// Dir is the working directory for steps that do not ask for a fresh one.
	Dir string

	// Env is the full environment for child processes (base process env plus
	// resolved manifest variables).
	Env []string

	// DefaultTimeout bounds steps whose manifest entry has no timeout.
	DefaultTimeout time.Duration

	// Stdout and Stderr receive live step output in addition to capture.
	// Nil writers discard.
	Stdout io.Writer
	Stderr io.Writer

	// Quiet disables dexec's per-command logging. Step output still flows to
	// Stdout/Stderr and the capture buffer.
	Quiet bool

	// sleep is a test seam for retry backoff.
	sleep func(ctx context.Context, d time.Duration) error
}

const shellPath = "/bin/sh"

// WithEnv returns a copy of the runner whose child processes see the extra
// variables on top of the base environment. The receiver is not modified.
func (r *Runner) WithEnv(extra ...string) *Runner {
	clone := *r
	clone.Env = append(append([]string{}, r.Env...), extra...)
	return &clone
}

// Outcome describes one completed step execution.
type Outcome struct {
	// Attempts is how many times the command ran (>1 only for retried steps).
	Attempts int

	// Duration covers all attempts including backoff.
	Duration time.Duration

	// Output is the captured combined stdout+stderr of the last attempt.
	Output string

	// WorkDir is the directory the step ran from.
	WorkDir string
}

const (
	maxAttempts    = 3
	initialBackoff = 1 * time.Second
)

// Run executes a single step. For steps marked Retry, transient failures are
// retried up to 3 attempts with doubling backoff; the step only fails once
// the attempt budget is spent. Steps with FreshDir run from a newly created,
// otherwise-empty directory so no artifacts from the checkout leak into them.
func (r *Runner) Run(ctx context.Context, step manifest.Step) (Outcome, error) {
	if ctx == nil {
		return Outcome{}, fmt.Errorf("executor: ctx is nil")
	}
	if step.Run == "" {
		return Outcome{}, fmt.Errorf("executor: step %q has no command", step.DisplayName())
	}

	workDir := r.Dir
	if step.FreshDir {
		tmp, err := os.MkdirTemp("", "plumerun-work-")
		if err != nil {
			return Outcome{}, fmt.Errorf("create fresh working directory: %w", err)
		}
		defer os.RemoveAll(tmp)
		workDir = tmp
	}

	timeout := step.Timeout.Std()
	if timeout == 0 {
		timeout = r.DefaultTimeout
	}

	attempts := 1
	if step.Retry != nil && *step.Retry {
		attempts = maxAttempts
	}

	start := time.Now()
	var out Outcome
	var lastErr error
	backoff := initialBackoff

	for attempt := 1; attempt <= attempts; attempt++ {
		output, err := r.runOnce(ctx, step.Run, workDir, timeout)
		out = Outcome{
			Attempts: attempt,
			Duration: time.Since(start),
			Output:   output,
			WorkDir:  workDir,
		}
		if err == nil {
			return out, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		if attempt < attempts {
			if err := r.doSleep(ctx, backoff); err != nil {
				break
			}
			backoff *= 2
		}
	}

	return out, fmt.Errorf("step %q failed after %d attempt(s): %w", step.DisplayName(), out.Attempts, lastErr)
}

func (r *Runner) runOnce(ctx context.Context, command, dir string, timeout time.Duration) (string, error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var capture bytes.Buffer
	cmd := dexec.CommandContext(runCtx, shellPath, "-c", command)
	cmd.Dir = dir
	cmd.Env = r.Env
	cmd.Stdout = mergeWriters(&capture, r.Stdout)
	cmd.Stderr = mergeWriters(&capture, r.Stderr)
	cmd.DisableLogging = r.Quiet

	err := cmd.Run()
	if err != nil && runCtx.Err() == context.DeadlineExceeded {
		err = fmt.Errorf("timed out after %s: %w", timeout, err)
	}
	return capture.String(), err
}

func (r *Runner) doSleep(ctx context.Context, d time.Duration) error {
	if r.sleep != nil {
		return r.sleep(ctx, d)
	}
	return ctxSleep(ctx, d)
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func mergeWriters(capture io.Writer, live io.Writer) io.Writer {
	if live == nil {
		return capture
	}
	return io.MultiWriter(capture, live)
}
