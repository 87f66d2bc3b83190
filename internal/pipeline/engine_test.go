package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"plumerun/internal/build"
	"plumerun/internal/config"
	"plumerun/internal/gitstatus"
	"plumerun/internal/manifest"
	"plumerun/internal/secret"
)

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	cfg := config.New()
	cfg.Output.NoConsole = true
	eventsPath := filepath.Join(t.TempDir(), "events.ndjson")
	cfg.Output.Out = eventsPath

	return &Engine{
		Config: cfg,
		Log:    zerolog.Nop(),
		Dir:    t.TempDir(),
		Stdout: &bytes.Buffer{},
		Stderr: &bytes.Buffer{},
	}, eventsPath
}

func readEvents(t *testing.T, path string) []map[string]any {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	var events []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if line == "" {
			continue
		}
		var ev map[string]any
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("event line %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

func stepStatus(events []map[string]any, phase, step string) (string, bool) {
	for _, ev := range events {
		if ev["type"] == "step.result" && ev["phase"] == phase && ev["step"] == step {
			status, _ := ev["status"].(string)
			return status, true
		}
	}
	return "", false
}

func TestEngine_CleanRunExitsZero(t *testing.T) {
	e, eventsPath := newTestEngine(t)
	m := &manifest.Manifest{
		Install: manifest.StepList{{Run: "true"}},
		Script:  manifest.StepList{{Name: "tests", Run: "true"}},
	}

	if code := e.Run(context.Background(), m); code != 0 {
		t.Fatalf("Run() = %d, want 0", code)
	}

	events := readEvents(t, eventsPath)
	if status, ok := stepStatus(events, PhaseScript, "tests"); !ok || status != "OK" {
		t.Errorf("script step status = %q (found %v), want OK", status, ok)
	}

	last := events[len(events)-1]
	if last["type"] != "run.finished" {
		t.Errorf("last event = %v, want run.finished", last["type"])
	}
	if _, hasCode := last["exit_code"]; hasCode {
		t.Errorf("clean run carries exit_code: %v", last)
	}
}

func TestEngine_StepFailureExitsOneAndSkipsRest(t *testing.T) {
	e, eventsPath := newTestEngine(t)
	m := &manifest.Manifest{
		Install:      manifest.StepList{{Name: "boom", Run: "exit 7"}},
		Script:       manifest.StepList{{Name: "tests", Run: "true"}},
		AfterSuccess: manifest.StepList{{Name: "report", Run: "true"}},
	}

	if code := e.Run(context.Background(), m); code != 1 {
		t.Fatalf("Run() = %d, want 1", code)
	}

	events := readEvents(t, eventsPath)
	if status, _ := stepStatus(events, PhaseInstall, "boom"); status != "FAILED" {
		t.Errorf("install step status = %q, want FAILED", status)
	}
	if status, _ := stepStatus(events, PhaseScript, "tests"); status != "SKIPPED" {
		t.Errorf("script step status = %q, want SKIPPED", status)
	}
	if status, _ := stepStatus(events, PhaseAfterSuccess, "report"); status != "SKIPPED" {
		t.Errorf("after_success step status = %q, want SKIPPED", status)
	}
}

func TestEngine_AfterSuccessFailureIsPartial(t *testing.T) {
	e, eventsPath := newTestEngine(t)
	m := &manifest.Manifest{
		Script:       manifest.StepList{{Name: "tests", Run: "true"}},
		AfterSuccess: manifest.StepList{{Name: "notify", Run: "false"}},
	}

	if code := e.Run(context.Background(), m); code != 2 {
		t.Fatalf("Run() = %d, want 2", code)
	}

	events := readEvents(t, eventsPath)
	if status, _ := stepStatus(events, PhaseAfterSuccess, "notify"); status != "ERROR" {
		t.Errorf("after_success step status = %q, want ERROR", status)
	}
}

func TestEngine_MatrixRunsOneJobPerRow(t *testing.T) {
	e, eventsPath := newTestEngine(t)
	dir := e.Dir
	m := &manifest.Manifest{
		Env: manifest.EnvSpec{Matrix: []string{"TOXENV=py36", "TOXENV=py37"}},
		Script: manifest.StepList{
			{Name: "record", Run: fmt.Sprintf("echo ran > %s/$TOXENV.txt", dir)},
		},
	}

	if code := e.Run(context.Background(), m); code != 0 {
		t.Fatalf("Run() = %d, want 0", code)
	}

	for _, name := range []string{"py36.txt", "py37.txt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("matrix job did not run: %v", err)
		}
	}

	jobs := make(map[string]bool)
	for _, ev := range readEvents(t, eventsPath) {
		if ev["type"] == "job.started" {
			jobs[ev["job"].(string)] = true
		}
	}
	if len(jobs) != 2 {
		t.Errorf("started %d jobs, want 2: %v", len(jobs), jobs)
	}
}

func TestEngine_GlobalEnvReachesSteps(t *testing.T) {
	e, _ := newTestEngine(t)
	m := &manifest.Manifest{
		Env: manifest.EnvSpec{Global: []manifest.EnvLine{
			{Raw: `PIP_DEPS="pytest pytest-cov"`},
		}},
		Script: manifest.StepList{
			{Name: "check", Run: `test "$PIP_DEPS" = "pytest pytest-cov"`},
		},
	}

	if code := e.Run(context.Background(), m); code != 0 {
		t.Fatalf("Run() = %d, want 0", code)
	}
}

func TestEngine_SecureEnvOpensWithKeybox(t *testing.T) {
	key, err := secret.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	kb, err := secret.NewKeybox(key)
	if err != nil {
		t.Fatalf("NewKeybox() error = %v", err)
	}
	sealed, err := kb.Seal("API_TOKEN=hunter2")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	e, _ := newTestEngine(t)
	e.Keybox = kb
	m := &manifest.Manifest{
		Env: manifest.EnvSpec{Global: []manifest.EnvLine{{Secure: sealed}}},
		Script: manifest.StepList{
			{Name: "check", Run: `test "$API_TOKEN" = hunter2`},
		},
	}

	if code := e.Run(context.Background(), m); code != 0 {
		t.Fatalf("Run() = %d, want 0", code)
	}
}

func TestEngine_SecureEnvWithoutKeyIsFatal(t *testing.T) {
	e, _ := newTestEngine(t)
	m := &manifest.Manifest{
		Env:    manifest.EnvSpec{Global: []manifest.EnvLine{{Secure: "AAAA"}}},
		Script: manifest.StepList{{Run: "true"}},
	}

	if code := e.Run(context.Background(), m); code != 3 {
		t.Fatalf("Run() = %d, want 3", code)
	}
}

func TestEngine_BadMatrixRowIsFatal(t *testing.T) {
	e, _ := newTestEngine(t)
	m := &manifest.Manifest{
		Env:    manifest.EnvSpec{Matrix: []string{"not an assignment"}},
		Script: manifest.StepList{{Run: "true"}},
	}

	if code := e.Run(context.Background(), m); code != 3 {
		t.Fatalf("Run() = %d, want 3", code)
	}
}

func TestEngine_DryRunPrintsPlan(t *testing.T) {
	e, eventsPath := newTestEngine(t)
	var out bytes.Buffer
	e.Stdout = &out
	e.DryRun = true

	m := &manifest.Manifest{
		Install: manifest.StepList{{Run: "pip install -e ."}},
		Script:  manifest.StepList{{Run: "py.test --pyargs widget"}},
	}

	if code := e.Run(context.Background(), m); code != 0 {
		t.Fatalf("Run() = %d, want 0", code)
	}
	for _, want := range []string{"job default", "pip install -e .", "py.test --pyargs widget"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("dry-run output missing %q:\n%s", want, out.String())
		}
	}
	if _, err := os.Stat(eventsPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("dry run wrote output file (err=%v)", err)
	}
}

func TestEngine_PhaseFilterSkips(t *testing.T) {
	e, eventsPath := newTestEngine(t)
	e.Skip = []string{"install"}
	marker := filepath.Join(e.Dir, "installed")
	m := &manifest.Manifest{
		Install: manifest.StepList{{Name: "install", Run: "touch " + marker}},
		Script:  manifest.StepList{{Name: "tests", Run: "true"}},
	}

	if code := e.Run(context.Background(), m); code != 0 {
		t.Fatalf("Run() = %d, want 0", code)
	}
	if _, err := os.Stat(marker); !errors.Is(err, os.ErrNotExist) {
		t.Error("skipped install phase still ran")
	}

	events := readEvents(t, eventsPath)
	if status, _ := stepStatus(events, PhaseInstall, "install"); status != "SKIPPED" {
		t.Errorf("install step status = %q, want SKIPPED", status)
	}
}

func TestEngine_CoverageReport(t *testing.T) {
	e, eventsPath := newTestEngine(t)
	profile := filepath.Join(e.Dir, "coverage.out")
	content := "mode: set\nexample.com/pkg/file.go:1.1,5.2 3 1\nexample.com/pkg/file.go:7.1,9.2 2 0\n"
	if err := os.WriteFile(profile, []byte(content), 0o644); err != nil {
		t.Fatalf("write profile: %v", err)
	}

	m := &manifest.Manifest{
		Script:   manifest.StepList{{Run: "true"}},
		Coverage: &manifest.CoverageSpec{File: "coverage.out", ShowMissing: true},
	}

	if code := e.Run(context.Background(), m); code != 0 {
		t.Fatalf("Run() = %d, want 0", code)
	}

	events := readEvents(t, eventsPath)
	status, ok := stepStatus(events, "coverage", "report")
	if !ok || status != "OK" {
		t.Errorf("coverage report status = %q (found %v), want OK", status, ok)
	}
}

func TestEngine_MissingCoverageProfileIsPartial(t *testing.T) {
	e, _ := newTestEngine(t)
	m := &manifest.Manifest{
		Script:   manifest.StepList{{Run: "true"}},
		Coverage: &manifest.CoverageSpec{File: "nope.out"},
	}

	if code := e.Run(context.Background(), m); code != 2 {
		t.Fatalf("Run() = %d, want 2", code)
	}
}

func TestEngine_CoverageUploadUsesSeam(t *testing.T) {
	e, _ := newTestEngine(t)
	profile := filepath.Join(e.Dir, "coverage.out")
	if err := os.WriteFile(profile, []byte("mode: set\nexample.com/pkg/f.go:1.1,2.2 1 1\n"), 0o644); err != nil {
		t.Fatalf("write profile: %v", err)
	}

	var uploaded string
	e.uploadFn = func(_ context.Context, _ *manifest.CoverageSpec, path string, _ build.Context) error {
		uploaded = path
		return nil
	}

	m := &manifest.Manifest{
		Script:   manifest.StepList{{Run: "true"}},
		Coverage: &manifest.CoverageSpec{File: "coverage.out", Service: "https://cov.example.com/upload"},
	}

	if code := e.Run(context.Background(), m); code != 0 {
		t.Fatalf("Run() = %d, want 0", code)
	}
	if uploaded != profile {
		t.Errorf("uploaded %q, want %q", uploaded, profile)
	}
}

func TestEngine_UploadFailureIsPartial(t *testing.T) {
	e, _ := newTestEngine(t)
	profile := filepath.Join(e.Dir, "coverage.out")
	if err := os.WriteFile(profile, []byte("mode: set\nexample.com/pkg/f.go:1.1,2.2 1 1\n"), 0o644); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	e.uploadFn = func(context.Context, *manifest.CoverageSpec, string, build.Context) error {
		return errors.New("service unavailable")
	}

	m := &manifest.Manifest{
		Script:   manifest.StepList{{Run: "true"}},
		Coverage: &manifest.CoverageSpec{File: "coverage.out", Service: "https://cov.example.com/upload"},
	}

	if code := e.Run(context.Background(), m); code != 2 {
		t.Fatalf("Run() = %d, want 2", code)
	}
}

func TestEngine_DeploySkippedWhenConditionRefuses(t *testing.T) {
	e, eventsPath := newTestEngine(t)
	e.Build = build.Context{RepoSlug: "octo/widget", Branch: "main", Event: build.EventPush}

	m := &manifest.Manifest{
		Script: manifest.StepList{{Run: "true"}},
		Deploy: &manifest.DeploySpec{
			Provider: "script",
			Options:  map[string]string{"script": "touch " + filepath.Join(e.Dir, "deployed")},
			On:       manifest.Condition{Tags: true, Repo: "octo/widget"},
		},
	}

	if code := e.Run(context.Background(), m); code != 0 {
		t.Fatalf("Run() = %d, want 0", code)
	}
	if _, err := os.Stat(filepath.Join(e.Dir, "deployed")); !errors.Is(err, os.ErrNotExist) {
		t.Error("deploy ran on a non-tag build")
	}

	events := readEvents(t, eventsPath)
	if status, _ := stepStatus(events, "deploy", "script"); status != "SKIPPED" {
		t.Errorf("deploy status = %q, want SKIPPED", status)
	}
}

func TestEngine_DeployRunsOnAdmittedTagPush(t *testing.T) {
	e, eventsPath := newTestEngine(t)
	e.Build = build.Context{RepoSlug: "octo/widget", Tag: "v1.2.0", Event: build.EventPush}
	marker := filepath.Join(e.Dir, "deployed")

	m := &manifest.Manifest{
		Script: manifest.StepList{{Run: "true"}},
		Deploy: &manifest.DeploySpec{
			Provider: "script",
			Options:  map[string]string{"script": "touch " + marker},
			On:       manifest.Condition{Tags: true, Repo: "octo/widget"},
		},
	}

	if code := e.Run(context.Background(), m); code != 0 {
		t.Fatalf("Run() = %d, want 0", code)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Errorf("deploy did not run: %v", err)
	}

	events := readEvents(t, eventsPath)
	if status, _ := stepStatus(events, "deploy", "script"); status != "OK" {
		t.Errorf("deploy status = %q, want OK", status)
	}
}

func TestEngine_DeployFailureFailsRun(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Build = build.Context{RepoSlug: "octo/widget", Tag: "v1.2.0", Event: build.EventPush}

	m := &manifest.Manifest{
		Script: manifest.StepList{{Run: "true"}},
		Deploy: &manifest.DeploySpec{
			Provider: "script",
			Options:  map[string]string{"script": "false"},
			On:       manifest.Condition{Tags: true, Repo: "octo/widget"},
		},
	}

	if code := e.Run(context.Background(), m); code != 1 {
		t.Fatalf("Run() = %d, want 1", code)
	}
}

func TestEngine_DeployNeverRunsAfterStepFailure(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Build = build.Context{RepoSlug: "octo/widget", Tag: "v1.2.0", Event: build.EventPush}
	marker := filepath.Join(e.Dir, "deployed")

	m := &manifest.Manifest{
		Script: manifest.StepList{{Run: "false"}},
		Deploy: &manifest.DeploySpec{
			Provider: "script",
			Options:  map[string]string{"script": "touch " + marker},
			On:       manifest.Condition{Tags: true, Repo: "octo/widget"},
		},
	}

	if code := e.Run(context.Background(), m); code != 1 {
		t.Fatalf("Run() = %d, want 1", code)
	}
	if _, err := os.Stat(marker); !errors.Is(err, os.ErrNotExist) {
		t.Error("deploy ran after a failed script phase")
	}
}

func TestEngine_StatusPostsPendingThenFinal(t *testing.T) {
	e, _ := newTestEngine(t)

	var states []gitstatus.State
	e.Status = func(_ context.Context, state gitstatus.State, _ string) error {
		states = append(states, state)
		return nil
	}

	m := &manifest.Manifest{Script: manifest.StepList{{Run: "true"}}}
	if code := e.Run(context.Background(), m); code != 0 {
		t.Fatalf("Run() = %d, want 0", code)
	}

	if len(states) != 2 || states[0] != gitstatus.StatePending || states[1] != gitstatus.StateSuccess {
		t.Errorf("states = %v, want [pending success]", states)
	}
}

func TestEngine_StatusFailureIsPartial(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Status = func(context.Context, gitstatus.State, string) error {
		return errors.New("api unavailable")
	}

	m := &manifest.Manifest{Script: manifest.StepList{{Run: "true"}}}
	if code := e.Run(context.Background(), m); code != 2 {
		t.Fatalf("Run() = %d, want 2", code)
	}
}

func TestEngine_StatusReportsFailure(t *testing.T) {
	e, _ := newTestEngine(t)

	var final gitstatus.State
	e.Status = func(_ context.Context, state gitstatus.State, _ string) error {
		final = state
		return nil
	}

	m := &manifest.Manifest{Script: manifest.StepList{{Run: "false"}}}
	if code := e.Run(context.Background(), m); code != 1 {
		t.Fatalf("Run() = %d, want 1", code)
	}
	if final != gitstatus.StateFailure {
		t.Errorf("final state = %s, want failure", final)
	}
}

func TestExitCodeForRun(t *testing.T) {
	tests := []struct {
		fatal, partial, failed bool
		want                   int
	}{
		{want: 0},
		{failed: true, want: 1},
		{partial: true, want: 2},
		{failed: true, partial: true, want: 1},
		{fatal: true, want: 3},
		{fatal: true, failed: true, partial: true, want: 3},
	}
	for _, tt := range tests {
		if got := exitCodeForRun(tt.fatal, tt.partial, tt.failed); got != tt.want {
			t.Errorf("exitCodeForRun(%v, %v, %v) = %d, want %d", tt.fatal, tt.partial, tt.failed, got, tt.want)
		}
	}
}
