package checks

import (
	"strings"
	"testing"

	"plumerun/internal/lint"
	"plumerun/internal/manifest"
	"plumerun/internal/secret"
)

func boolPtr(b bool) *bool { return &b }

func TestScriptNonEmptyCheck(t *testing.T) {
	check := &ScriptNonEmptyCheck{}

	res, err := check.Evaluate(lint.Input{Manifest: &manifest.Manifest{}})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if res.Status != lint.StatusFail {
		t.Errorf("empty script: Status = %s, want FAIL", res.Status)
	}

	res, err = check.Evaluate(lint.Input{Manifest: &manifest.Manifest{
		Script: manifest.StepList{{Run: "py.test --pyargs widget"}},
	}})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if res.Status != lint.StatusPass {
		t.Errorf("non-empty script: Status = %s, want PASS", res.Status)
	}
}

func TestDeployConditionCheck(t *testing.T) {
	check := &DeployConditionCheck{}

	tests := []struct {
		name   string
		deploy *manifest.DeploySpec
		want   lint.Status
	}{
		{
			name:   "no deploy block",
			deploy: nil,
			want:   lint.StatusPass,
		},
		{
			name: "unknown provider",
			deploy: &manifest.DeploySpec{
				Provider: "warehouse9000",
				On:       manifest.Condition{Tags: true, Repo: "octo/widget"},
			},
			want: lint.StatusFail,
		},
		{
			name: "no condition at all",
			deploy: &manifest.DeploySpec{
				Provider: "pypi",
				On:       manifest.Condition{Repo: "octo/widget"},
			},
			want: lint.StatusFail,
		},
		{
			name: "tags without repo pin",
			deploy: &manifest.DeploySpec{
				Provider: "pypi",
				On:       manifest.Condition{Tags: true},
			},
			want: lint.StatusFail,
		},
		{
			name: "tags on pinned repo",
			deploy: &manifest.DeploySpec{
				Provider: "pypi",
				On:       manifest.Condition{Tags: true, Repo: "octo/widget"},
			},
			want: lint.StatusPass,
		},
		{
			name: "branch gate on pinned repo",
			deploy: &manifest.DeploySpec{
				Provider: "script",
				On:       manifest.Condition{Branch: "main", Repo: "octo/widget"},
			},
			want: lint.StatusPass,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := check.Evaluate(lint.Input{Manifest: &manifest.Manifest{Deploy: tt.deploy}})
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if res.Status != tt.want {
				t.Errorf("Status = %s, want %s (message %q)", res.Status, tt.want, res.Message)
			}
		})
	}
}

func TestSecureValuesCheck(t *testing.T) {
	check := &SecureValuesCheck{}

	key, err := secret.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	kb, err := secret.NewKeybox(key)
	if err != nil {
		t.Fatalf("NewKeybox() error = %v", err)
	}

	sealedAssign, err := kb.Seal("PYPI_TOKEN=hunter2")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	sealedGarbage, err := kb.Seal("not an assignment")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	otherKey, _ := secret.GenerateKey()
	otherBox, _ := secret.NewKeybox(otherKey)
	sealedWrongKey, err := otherBox.Seal("X=y")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	tests := []struct {
		name   string
		m      *manifest.Manifest
		keybox *secret.Keybox
		want   lint.Status
	}{
		{
			name:   "no secure values",
			m:      &manifest.Manifest{},
			keybox: nil,
			want:   lint.StatusPass,
		},
		{
			name: "secure env without a key",
			m: &manifest.Manifest{
				Env: manifest.EnvSpec{Global: []manifest.EnvLine{{Secure: sealedAssign}}},
			},
			keybox: nil,
			want:   lint.StatusFail,
		},
		{
			name: "secure env opens cleanly",
			m: &manifest.Manifest{
				Env: manifest.EnvSpec{Global: []manifest.EnvLine{{Secure: sealedAssign}}},
			},
			keybox: kb,
			want:   lint.StatusPass,
		},
		{
			name: "secure env decrypts to junk",
			m: &manifest.Manifest{
				Env: manifest.EnvSpec{Global: []manifest.EnvLine{{Secure: sealedGarbage}}},
			},
			keybox: kb,
			want:   lint.StatusFail,
		},
		{
			name: "secure env sealed under another key",
			m: &manifest.Manifest{
				Env: manifest.EnvSpec{Global: []manifest.EnvLine{{Secure: sealedWrongKey}}},
			},
			keybox: kb,
			want:   lint.StatusFail,
		},
		{
			name: "deploy password opens cleanly",
			m: &manifest.Manifest{
				Deploy: &manifest.DeploySpec{
					Provider: "pypi",
					Password: manifest.Secure{Sealed: sealedAssign},
				},
			},
			keybox: kb,
			want:   lint.StatusPass,
		},
		{
			name: "deploy password sealed under another key",
			m: &manifest.Manifest{
				Deploy: &manifest.DeploySpec{
					Provider: "pypi",
					Password: manifest.Secure{Sealed: sealedWrongKey},
				},
			},
			keybox: kb,
			want:   lint.StatusFail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := check.Evaluate(lint.Input{Manifest: tt.m, Keybox: tt.keybox})
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if res.Status != tt.want {
				t.Errorf("Status = %s, want %s (message %q)", res.Status, tt.want, res.Message)
			}
		})
	}
}

func TestServiceSettleCheck(t *testing.T) {
	check := &ServiceSettleCheck{}

	tests := []struct {
		name     string
		services []manifest.Service
		want     lint.Status
	}{
		{
			name: "default settle",
			services: []manifest.Service{
				{Name: "xvfb", Command: "Xvfb :99", Settle: manifest.Duration(3e9)},
			},
			want: lint.StatusPass,
		},
		{
			name: "zero settle",
			services: []manifest.Service{
				{Name: "xvfb", Command: "Xvfb :99"},
			},
			want: lint.StatusFail,
		},
		{
			name: "absurd settle",
			services: []manifest.Service{
				{Name: "db", Command: "postgres", Settle: manifest.Duration(600e9)},
			},
			want: lint.StatusFail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := check.Evaluate(lint.Input{Manifest: &manifest.Manifest{Services: tt.services}})
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if res.Status != tt.want {
				t.Errorf("Status = %s, want %s", res.Status, tt.want)
			}
		})
	}
}

func TestInstallRetryCheck(t *testing.T) {
	check := &InstallRetryCheck{}

	res, err := check.Evaluate(lint.Input{Manifest: &manifest.Manifest{
		Install: manifest.StepList{
			{Run: "pip install -U pip", Retry: boolPtr(true)},
			{Run: "pip install -e .", Retry: boolPtr(false)},
		},
	}})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if res.Status != lint.StatusFail {
		t.Errorf("Status = %s, want FAIL", res.Status)
	}
	if !strings.Contains(res.Message, "step 2") {
		t.Errorf("message %q does not name the offending step", res.Message)
	}

	res, err = check.Evaluate(lint.Input{Manifest: &manifest.Manifest{
		Install: manifest.StepList{{Run: "pip install -e .", Retry: boolPtr(true)}},
	}})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if res.Status != lint.StatusPass {
		t.Errorf("Status = %s, want PASS", res.Status)
	}
}

func TestCoverageUploadCheck(t *testing.T) {
	check := &CoverageUploadCheck{}

	tests := []struct {
		name string
		cov  *manifest.CoverageSpec
		want lint.Status
	}{
		{name: "no coverage block", cov: nil, want: lint.StatusPass},
		{
			name: "report only",
			cov:  &manifest.CoverageSpec{File: "coverage.out"},
			want: lint.StatusPass,
		},
		{
			name: "upload without token env",
			cov:  &manifest.CoverageSpec{File: "coverage.out", Service: "https://codecov.example.com/upload"},
			want: lint.StatusFail,
		},
		{
			name: "upload with token env",
			cov: &manifest.CoverageSpec{
				File:     "coverage.out",
				Service:  "https://codecov.example.com/upload",
				TokenEnv: "CODECOV_TOKEN",
			},
			want: lint.StatusPass,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := check.Evaluate(lint.Input{Manifest: &manifest.Manifest{Coverage: tt.cov}})
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if res.Status != tt.want {
				t.Errorf("Status = %s, want %s", res.Status, tt.want)
			}
		})
	}
}

func TestEnvDuplicatesCheck(t *testing.T) {
	check := &EnvDuplicatesCheck{}

	res, err := check.Evaluate(lint.Input{Manifest: &manifest.Manifest{
		Env: manifest.EnvSpec{Global: []manifest.EnvLine{
			{Raw: "PIP_DEPS=pytest"},
			{Raw: "DISPLAY=:99"},
			{Raw: "PIP_DEPS=coverage"},
		}},
	}})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if res.Status != lint.StatusFail {
		t.Errorf("Status = %s, want FAIL", res.Status)
	}
	if !strings.Contains(res.Message, "PIP_DEPS") {
		t.Errorf("message %q does not name the duplicated variable", res.Message)
	}

	res, err = check.Evaluate(lint.Input{Manifest: &manifest.Manifest{
		Env: manifest.EnvSpec{Global: []manifest.EnvLine{
			{Raw: "PIP_DEPS=pytest"},
			{Raw: "DISPLAY=:99"},
		}},
	}})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if res.Status != lint.StatusPass {
		t.Errorf("Status = %s, want PASS", res.Status)
	}
}

func TestAllChecksRegistered(t *testing.T) {
	wantIDs := []string{
		"coverage-upload",
		"deploy-condition",
		"env-duplicates",
		"install-retry",
		"script-nonempty",
		"secure-values",
		"service-settle",
	}

	registered := make(map[string]bool)
	for _, c := range lint.List() {
		registered[c.ID()] = true
		if c.Title() == "" || c.Description() == "" {
			t.Errorf("check %s is missing a title or description", c.ID())
		}
	}
	for _, id := range wantIDs {
		if !registered[id] {
			t.Errorf("check %s is not registered", id)
		}
	}
}

func TestRunHonorsIgnoreList(t *testing.T) {
	// An empty manifest fails script-nonempty; suppressing it makes the run
	// clean again.
	in := lint.Input{Manifest: &manifest.Manifest{}}

	var failed []string
	for _, res := range lint.Run(in, nil) {
		if res.Status == lint.StatusFail {
			failed = append(failed, res.CheckID)
		}
	}
	if len(failed) != 1 || failed[0] != "script-nonempty" {
		t.Fatalf("failed checks = %v, want [script-nonempty]", failed)
	}

	for _, res := range lint.Run(in, []string{"script-nonempty"}) {
		if res.CheckID == "script-nonempty" {
			t.Errorf("ignored check still appears in results")
		}
		if res.Status == lint.StatusFail {
			t.Errorf("check %s = FAIL after suppression", res.CheckID)
		}
	}
}
