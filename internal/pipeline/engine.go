package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"plumerun/internal/build"
	"plumerun/internal/config"
	"plumerun/internal/coverage"
	"plumerun/internal/deploy"
	"plumerun/internal/executor"
	"plumerun/internal/gitstatus"
	"plumerun/internal/manifest"
	"plumerun/internal/output"
	"plumerun/internal/secret"
	"plumerun/internal/upload"
)

func exitCodeForRun(fatal, partial, failed bool) int {
	// Exit code contract:
	// 0 = pipeline succeeded
	// 1 = a step failed (or deploy failed)
	// 2 = partial (post-success reporting or a matrix job errored before steps)
	// 3 = fatal error (run did not start)
	if fatal {
		return 3
	}
	if failed {
		return 1
	}
	if partial {
		return 2
	}
	return 0
}

func setupOutputManager(cfg *config.Config) (*output.Manager, error) {
	outMgr := output.NewManager()

	// Console Sink
	if !cfg.Output.NoConsole {
		if err := outMgr.AddSink(output.NewConsoleSink(nil, cfg.Output.ConsoleFormat, cfg.Output.ConsoleFilterStatus)); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	// Emit Sinks (additional structured streams)
	for _, emit := range cfg.Output.Emit {
		es, err := output.NewEmitSink(os.Stdout, emit)
		if err != nil {
			outMgr.Close()
			return nil, err
		}
		if err := outMgr.AddSink(es); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	// File Sink
	if cfg.Output.Out != "" {
		fs, err := output.NewFileSink(cfg.Output.Out, cfg.Output.OutFormat)
		if err != nil {
			outMgr.Close()
			return nil, err
		}
		if err := outMgr.AddSink(fs); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	// Report Sink
	if cfg.Output.Report != "" {
		rs, err := output.NewReportSink(cfg.Output.Report)
		if err != nil {
			outMgr.Close()
			return nil, err
		}
		if err := outMgr.AddSink(rs); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	return outMgr, nil
}

// Engine drives a full pipeline run: env resolution, matrix jobs with their
// services and phases, then the post-success tail (coverage, deploy, commit
// status).
type Engine struct {
	Config *config.Config
	Build  build.Context
	Log    zerolog.Logger

	// Dir is the checkout the pipeline runs against.
	Dir string

	// Keybox opens "secure:" manifest values. Nil when no key is configured.
	Keybox *secret.Keybox

	// Status posts commit statuses when reporting is enabled. Nil disables
	// posting entirely.
	Status func(ctx context.Context, state gitstatus.State, description string) error

	// DryRun prints the expanded plan instead of executing it.
	DryRun bool

	// Only and Skip filter phases by name.
	Only []string
	Skip []string

	// Stdout and Stderr default to the process streams.
	Stdout io.Writer
	Stderr io.Writer

	// uploadFn is a test seam for the coverage upload.
	uploadFn func(ctx context.Context, cov *manifest.CoverageSpec, path string, bc build.Context) error
}

func (e *Engine) outWriter() io.Writer {
	if e.Stdout != nil {
		return e.Stdout
	}
	return os.Stdout
}

func (e *Engine) errWriter() io.Writer {
	if e.Stderr != nil {
		return e.Stderr
	}
	return os.Stderr
}

// Run executes the manifest and returns the process exit code.
func (e *Engine) Run(ctx context.Context, m *manifest.Manifest) int {
	if ctx == nil || e == nil || e.Config == nil {
		fmt.Fprintln(os.Stderr, "Error: engine is not initialized")
		return exitCodeForRun(true, false, false)
	}
	cfg := e.Config

	globalVars, err := e.resolveGlobalEnv(m)
	if err != nil {
		fmt.Fprintf(e.errWriter(), "Error resolving environment: %v\n", err)
		return exitCodeForRun(true, false, false)
	}

	plan, err := NewPlan(m)
	if err != nil {
		fmt.Fprintf(e.errWriter(), "Error planning run: %v\n", err)
		return exitCodeForRun(true, false, false)
	}
	if err := ApplyPhaseFilter(plan, e.Only, e.Skip); err != nil {
		fmt.Fprintf(e.errWriter(), "Error: %v\n", err)
		return exitCodeForRun(true, false, false)
	}

	if e.DryRun {
		e.printPlan(plan)
		return 0
	}

	outMgr, err := setupOutputManager(cfg)
	if err != nil {
		fmt.Fprintf(e.errWriter(), "Error creating output sinks: %v\n", err)
		return exitCodeForRun(true, false, false)
	}
	defer outMgr.Close()

	runCtx, cancel := context.WithTimeout(ctx, cfg.Runtime.Timeout)
	defer cancel()

	var partial bool
	if e.Status != nil {
		if err := e.Status(runCtx, gitstatus.StatePending, "pipeline started"); err != nil {
			e.Log.Warn().Err(err).Msg("could not post pending status")
			partial = true
		}
	}

	_ = outMgr.Write(output.Event{Type: "run.started", Jobs: len(plan.Jobs)})

	sched, err := NewScheduler(cfg.Runtime.Concurrency, func(jobCtx context.Context, job JobPlan) JobResult {
		return e.runJob(jobCtx, m, job, globalVars, outMgr)
	})
	if err != nil {
		fmt.Fprintf(e.errWriter(), "Error: %v\n", err)
		code := exitCodeForRun(true, false, false)
		_ = outMgr.Write(output.Event{Type: "run.finished", ExitCode: code})
		return code
	}

	resCh, errCh := sched.Execute(runCtx, plan.Jobs)

	var failed bool
	for res := range resCh {
		if res.Failed {
			failed = true
		}
		if res.Errored {
			partial = true
		}
	}

	var schedErr error
	// Drain scheduler errors; we only need to know whether any fatal error
	// occurred (keep one non-nil error).
	for err := range errCh {
		if err != nil {
			schedErr = err
		}
	}
	fatal := schedErr != nil
	if fatal {
		e.Log.Error().Err(schedErr).Msg("run aborted")
	}

	if !fatal && !failed {
		if e.runCoverage(runCtx, m, outMgr) {
			partial = true
		}
		deployFailed, deployPartial := e.runDeploy(runCtx, m, globalVars, outMgr)
		failed = failed || deployFailed
		partial = partial || deployPartial
	}

	if e.Status != nil {
		state, desc := gitstatus.StateSuccess, "pipeline succeeded"
		switch {
		case fatal:
			state, desc = gitstatus.StateError, "pipeline aborted"
		case failed:
			state, desc = gitstatus.StateFailure, "pipeline failed"
		}
		if err := e.Status(runCtx, state, desc); err != nil {
			e.Log.Warn().Err(err).Msg("could not post final status")
			partial = true
		}
	}

	code := exitCodeForRun(fatal, partial, failed)
	_ = outMgr.Write(output.Event{Type: "run.finished", ExitCode: code})
	return code
}

// resolveGlobalEnv parses global env lines, opening secure entries with the
// keybox. Values may reference earlier variables or the process environment.
func (e *Engine) resolveGlobalEnv(m *manifest.Manifest) ([]manifest.Var, error) {
	if m == nil {
		return nil, fmt.Errorf("manifest is nil")
	}
	var vars []manifest.Var
	for i, line := range m.Env.Global {
		raw := line.Raw
		if line.Secure != "" {
			if e.Keybox == nil {
				return nil, fmt.Errorf("env entry %d is encrypted but no secret key is configured", i+1)
			}
			plain, err := e.Keybox.Open(line.Secure)
			if err != nil {
				return nil, fmt.Errorf("env entry %d: %w", i+1, err)
			}
			raw = plain
		}
		v, err := manifest.ParseAssignment(raw)
		if err != nil {
			return nil, err
		}
		v.Value = manifest.Expand(v.Value, vars)
		vars = append(vars, v)
	}
	return vars, nil
}

func (e *Engine) printPlan(p *Plan) {
	w := e.outWriter()
	for _, job := range p.Jobs {
		fmt.Fprintf(w, "job %s\n", job.Name)
		for _, phase := range job.Phases {
			if len(phase.Steps) == 0 {
				continue
			}
			marker := ""
			if phase.Skipped {
				marker = " (skipped)"
			}
			fmt.Fprintf(w, "  %s%s\n", phase.Name, marker)
			for _, step := range phase.Steps {
				fmt.Fprintf(w, "    %s\n", step.Run)
			}
		}
	}
}

func (e *Engine) runJob(ctx context.Context, m *manifest.Manifest, job JobPlan, globalVars []manifest.Var, outMgr *output.Manager) JobResult {
	res := JobResult{Job: job.Name}
	_ = outMgr.Write(output.Event{Type: "job.started", Job: job.Name})
	defer func() {
		_ = outMgr.Write(output.Event{Type: "job.finished", Job: job.Name, Failed: res.Failed})
	}()

	vars := append(append([]manifest.Var{}, globalVars...), job.Vars...)
	env := os.Environ()
	for _, v := range vars {
		env = append(env, v.Key+"="+v.Value)
	}

	quiet := !e.Config.Runtime.Verbose

	services, exported, err := executor.StartServices(ctx, m.Services, env, quiet)
	if err != nil {
		// Steps never ran, so this is a partial run rather than a step failure.
		_ = outMgr.Write(output.StepResult{
			Job:     job.Name,
			Phase:   "services",
			Step:    "start",
			Status:  output.StatusError,
			Message: err.Error(),
		})
		res.Errored = true
		return res
	}
	defer services.Stop()
	for _, v := range exported {
		env = append(env, v.Key+"="+v.Value)
	}

	runner := &executor.Runner{
		Dir:            e.Dir,
		Env:            env,
		DefaultTimeout: e.Config.Runtime.StepTimeout,
		Quiet:          quiet,
	}
	if e.Config.Runtime.Verbose {
		runner.Stdout = e.errWriter()
		runner.Stderr = e.errWriter()
	}

	for _, phase := range job.Phases {
		afterSuccess := phase.Name == PhaseAfterSuccess
		if len(phase.Steps) > 0 && !phase.Skipped && !res.Failed {
			_ = outMgr.Write(output.Event{Type: "phase.started", Job: job.Name, Phase: phase.Name})
		}
		for _, step := range phase.Steps {
			switch {
			case phase.Skipped:
				_ = outMgr.Write(skippedResult(job.Name, phase.Name, step, "phase skipped by filter"))
				continue
			case res.Failed:
				_ = outMgr.Write(skippedResult(job.Name, phase.Name, step, "earlier step failed"))
				continue
			}

			outcome, err := runner.Run(ctx, step)
			sr := output.StepResult{
				Job:      job.Name,
				Phase:    phase.Name,
				Step:     step.DisplayName(),
				Attempts: outcome.Attempts,
				Duration: outcome.Duration.Seconds(),
			}
			if err == nil {
				sr.Status = output.StatusOK
				if outcome.Attempts > 1 {
					sr.Message = "succeeded after retry"
				}
			} else {
				sr.Message = failureMessage(err, outcome.Output)
				if afterSuccess {
					// after_success never flips a success into a failure.
					sr.Status = output.StatusError
					res.Errored = true
				} else {
					sr.Status = output.StatusFailed
					res.Failed = true
				}
			}
			_ = outMgr.Write(sr)
		}
	}

	return res
}

func skippedResult(job, phase string, step manifest.Step, reason string) output.StepResult {
	return output.StepResult{
		Job:     job,
		Phase:   phase,
		Step:    step.DisplayName(),
		Status:  output.StatusSkipped,
		Message: reason,
	}
}

// failureMessage compacts a step failure into one report line: the error plus
// the tail of the captured output.
func failureMessage(err error, capturedOutput string) string {
	msg := err.Error()
	tail := outputTail(capturedOutput, 3)
	if tail != "" {
		msg = msg + ": " + tail
	}
	return msg
}

func outputTail(s string, lines int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	all := strings.Split(s, "\n")
	if len(all) > lines {
		all = all[len(all)-lines:]
	}
	for i := range all {
		all[i] = strings.TrimSpace(all[i])
	}
	return strings.Join(all, " | ")
}

// runCoverage renders the terminal coverage report and uploads the profile.
// Both are post-success conveniences: problems make the run partial, never
// failed.
func (e *Engine) runCoverage(ctx context.Context, m *manifest.Manifest, outMgr *output.Manager) (partial bool) {
	cov := m.Coverage
	if cov == nil || cov.File == "" {
		return false
	}

	path := cov.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.Dir, path)
	}

	profile, err := coverage.ParseFile(path)
	if err != nil {
		_ = outMgr.Write(output.StepResult{
			Job:     "post",
			Phase:   "coverage",
			Step:    "report",
			Status:  output.StatusError,
			Message: err.Error(),
		})
		return true
	}

	if !e.Config.Output.NoConsole {
		if err := coverage.WriteReport(e.outWriter(), profile, cov.ShowMissing); err != nil {
			e.Log.Warn().Err(err).Msg("could not render coverage report")
		}
	}
	_ = outMgr.Write(output.StepResult{
		Job:     "post",
		Phase:   "coverage",
		Step:    "report",
		Status:  output.StatusOK,
		Message: fmt.Sprintf("total coverage %.1f%%", profile.Percent()),
	})

	if cov.Service == "" {
		return false
	}
	if err := e.doUpload(ctx, cov, path); err != nil {
		e.Log.Warn().Err(err).Msg("coverage upload failed")
		_ = outMgr.Write(output.StepResult{
			Job:     "post",
			Phase:   "coverage",
			Step:    "upload",
			Status:  output.StatusError,
			Message: err.Error(),
		})
		return true
	}
	_ = outMgr.Write(output.StepResult{
		Job:    "post",
		Phase:  "coverage",
		Step:   "upload",
		Status: output.StatusOK,
	})
	return false
}

func (e *Engine) doUpload(ctx context.Context, cov *manifest.CoverageSpec, path string) error {
	if e.uploadFn != nil {
		return e.uploadFn(ctx, cov, path, e.Build)
	}
	u := &upload.Uploader{
		Endpoint: cov.Service,
		Token:    os.Getenv(cov.TokenEnv),
	}
	return u.Send(ctx, path, e.Build)
}

// runDeploy publishes when the manifest asks for it and the condition admits
// the build. A refused condition is a SKIPPED result; an actual publication
// failure fails the run.
func (e *Engine) runDeploy(ctx context.Context, m *manifest.Manifest, globalVars []manifest.Var, outMgr *output.Manager) (failed, partial bool) {
	d := m.Deploy
	if d == nil {
		return false, false
	}

	stepName := d.Provider
	if stepName == "" {
		stepName = "deploy"
	}

	if ok, reason := deploy.Admits(d.On, e.Build); !ok {
		_ = outMgr.Write(output.StepResult{
			Job:     "post",
			Phase:   "deploy",
			Step:    stepName,
			Status:  output.StatusSkipped,
			Message: reason,
		})
		return false, false
	}

	fail := func(err error) (bool, bool) {
		_ = outMgr.Write(output.StepResult{
			Job:     "post",
			Phase:   "deploy",
			Step:    stepName,
			Status:  output.StatusFailed,
			Message: err.Error(),
		})
		return true, false
	}

	provider, err := deploy.Resolve(d.Provider)
	if err != nil {
		return fail(err)
	}

	password := d.Password.Plain
	if d.Password.IsSealed() {
		if e.Keybox == nil {
			return fail(fmt.Errorf("deploy password is encrypted but no secret key is configured"))
		}
		plain, err := e.Keybox.Open(d.Password.Sealed)
		if err != nil {
			return fail(fmt.Errorf("deploy password: %w", err))
		}
		password = plain
	}

	env := os.Environ()
	for _, v := range globalVars {
		env = append(env, v.Key+"="+v.Value)
	}
	runner := &executor.Runner{
		Dir:            e.Dir,
		Env:            env,
		DefaultTimeout: e.Config.Runtime.StepTimeout,
		Quiet:          !e.Config.Runtime.Verbose,
	}

	if err := provider.Publish(ctx, deploy.Request{
		Runner:   runner,
		Spec:     *d,
		Password: password,
		Build:    e.Build,
	}); err != nil {
		return fail(err)
	}

	_ = outMgr.Write(output.StepResult{
		Job:    "post",
		Phase:  "deploy",
		Step:   stepName,
		Status: output.StatusOK,
	})
	return false, false
}
