package deploy

import (
	"context"
	"fmt"

	"plumerun/internal/manifest"
)

// ScriptProvider runs a user-supplied publication command. The resolved
// credential is exported as DEPLOY_PASSWORD (and DEPLOY_USERNAME) so the
// script can authenticate without embedding secrets in the manifest.
type ScriptProvider struct{}

func (p *ScriptProvider) ID() string { return "script" }

func (p *ScriptProvider) Description() string {
	return "Run an arbitrary publication command. Options: script (required)."
}

func (p *ScriptProvider) Publish(ctx context.Context, req Request) error {
	if req.Runner == nil {
		return fmt.Errorf("script: runner is nil")
	}
	command := req.Option("script", "")
	if command == "" {
		return fmt.Errorf("script: the script option is required")
	}

	runner := req.Runner
	var extra []string
	if req.Spec.Username != "" {
		extra = append(extra, "DEPLOY_USERNAME="+req.Spec.Username)
	}
	if req.Password != "" {
		extra = append(extra, "DEPLOY_PASSWORD="+req.Password)
	}
	if len(extra) > 0 {
		runner = runner.WithEnv(extra...)
	}

	if _, err := runner.Run(ctx, manifest.Step{Name: "deploy script", Run: command}); err != nil {
		return fmt.Errorf("script publish: %w", err)
	}
	return nil
}

func init() {
	Register(&ScriptProvider{})
}
