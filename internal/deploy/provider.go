package deploy

import (
	"context"

	"plumerun/internal/build"
	"plumerun/internal/executor"
	"plumerun/internal/manifest"
)

// Provider publishes build artifacts to a package index or similar target.
type Provider interface {
	ID() string
	Description() string

	// Publish performs the actual publication. It runs only after the
	// engine has checked the deploy condition against the build context.
	Publish(ctx context.Context, req Request) error
}

// Request carries everything a provider needs for one publication.
type Request struct {
	// Runner executes provider commands with the pipeline's environment.
	Runner *executor.Runner

	// Spec is the manifest deploy block.
	Spec manifest.DeploySpec

	// Password is the resolved credential (secure values already opened).
	// Providers must pass it to tools via environment, never argv, so it
	// does not leak through process listings or logs.
	Password string

	// Build is the triggering build context.
	Build build.Context
}

// Option returns a provider option by key with a fallback default.
func (r Request) Option(key, def string) string {
	if v, ok := r.Spec.Options[key]; ok && v != "" {
		return v
	}
	return def
}
