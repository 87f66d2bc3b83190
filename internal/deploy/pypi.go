package deploy

import (
	"context"
	"fmt"
	"strings"

	"plumerun/internal/manifest"
)

// PyPIProvider publishes Python distributions with twine. The credential
// travels via TWINE_PASSWORD in the child environment only.
type PyPIProvider struct{}

func (p *PyPIProvider) ID() string { return "pypi" }

func (p *PyPIProvider) Description() string {
	return "Upload Python distributions to a package index using twine. Options: dist (glob, default dist/*), repository_url."
}

func (p *PyPIProvider) Publish(ctx context.Context, req Request) error {
	if req.Runner == nil {
		return fmt.Errorf("pypi: runner is nil")
	}
	if req.Spec.Username == "" {
		return fmt.Errorf("pypi: username is required")
	}
	if req.Password == "" {
		return fmt.Errorf("pypi: password is required")
	}

	dist := req.Option("dist", "dist/*")
	args := []string{"twine", "upload", "--non-interactive"}
	if repoURL := req.Option("repository_url", ""); repoURL != "" {
		args = append(args, "--repository-url", repoURL)
	}
	args = append(args, dist)

	runner := req.Runner.WithEnv(
		"TWINE_USERNAME="+req.Spec.Username,
		"TWINE_PASSWORD="+req.Password,
	)
	step := manifest.Step{Name: "twine upload", Run: strings.Join(args, " ")}
	if _, err := runner.Run(ctx, step); err != nil {
		return fmt.Errorf("pypi publish: %w", err)
	}
	return nil
}

func init() {
	Register(&PyPIProvider{})
}
