package deploy

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"plumerun/internal/executor"
	"plumerun/internal/manifest"
)

func TestRegistry_BuiltinsResolvable(t *testing.T) {
	for _, id := range []string{"pypi", "script"} {
		p, err := Resolve(id)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", id, err)
		}
		if p.ID() != id {
			t.Errorf("Resolve(%q).ID(): got %q", id, p.ID())
		}
	}

	if _, err := Resolve("rubygems"); err == nil {
		t.Error("Resolve of unknown provider: expected error")
	}

	providers := List()
	for i := 1; i < len(providers); i++ {
		if providers[i-1].ID() >= providers[i].ID() {
			t.Errorf("List not sorted: %q before %q", providers[i-1].ID(), providers[i].ID())
		}
	}
}

func testRunner(t *testing.T) *executor.Runner {
	t.Helper()
	return &executor.Runner{
		Dir:            t.TempDir(),
		Env:            os.Environ(),
		DefaultTimeout: 30 * time.Second,
		Quiet:          true,
	}
}

func TestScriptProvider_ExportsCredentialEnv(t *testing.T) {
	p, err := Resolve("script")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	dir := t.TempDir()
	req := Request{
		Runner: testRunner(t),
		Spec: manifest.DeploySpec{
			Provider: "script",
			Username: "maintainer",
			Options:  map[string]string{"script": "echo $DEPLOY_USERNAME:$DEPLOY_PASSWORD > " + dir + "/creds"},
		},
		Password: "hunter2",
	}
	if err := p.Publish(context.Background(), req); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	raw, err := os.ReadFile(dir + "/creds")
	if err != nil {
		t.Fatalf("read creds: %v", err)
	}
	if got := strings.TrimSpace(string(raw)); got != "maintainer:hunter2" {
		t.Errorf("credential env: got %q", got)
	}
}

func TestScriptProvider_RequiresScriptOption(t *testing.T) {
	p, _ := Resolve("script")
	err := p.Publish(context.Background(), Request{Runner: testRunner(t), Spec: manifest.DeploySpec{Provider: "script"}})
	if err == nil {
		t.Fatal("Publish without script option: expected error")
	}
}

func TestPyPIProvider_RequiresCredentials(t *testing.T) {
	p, err := Resolve("pypi")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	err = p.Publish(context.Background(), Request{Runner: testRunner(t), Spec: manifest.DeploySpec{Provider: "pypi"}})
	if err == nil || !strings.Contains(err.Error(), "username") {
		t.Fatalf("Publish without username: got %v", err)
	}

	err = p.Publish(context.Background(), Request{
		Runner: testRunner(t),
		Spec:   manifest.DeploySpec{Provider: "pypi", Username: "maintainer"},
	})
	if err == nil || !strings.Contains(err.Error(), "password") {
		t.Fatalf("Publish without password: got %v", err)
	}
}
