package checks

import (
	"fmt"

	"plumerun/internal/deploy"
	"plumerun/internal/lint"
)

type DeployConditionCheck struct{}

func (c *DeployConditionCheck) ID() string {
	return "deploy-condition"
}

func (c *DeployConditionCheck) Title() string {
	return "Deploy Is Gated"
}

func (c *DeployConditionCheck) Description() string {
	return "Verifies that a deploy block names a known provider, is gated on tags or a branch, and pins the upstream repository so forks and mirrors never publish."
}

func (c *DeployConditionCheck) Evaluate(in lint.Input) (lint.Result, error) {
	d := in.Manifest.Deploy
	if d == nil {
		return lint.Pass(c.ID(), "no deploy block"), nil
	}

	if _, err := deploy.Resolve(d.Provider); err != nil {
		return lint.Fail(c.ID(), fmt.Sprintf("unknown deploy provider %q", d.Provider)), nil
	}

	if !d.On.Tags && d.On.Branch == "" {
		return lint.Fail(c.ID(), "deploy has no condition; every build would publish"), nil
	}
	if d.On.Repo == "" {
		return lint.Fail(c.ID(), "deploy does not pin a repository; set on.repo to the upstream OWNER/REPO"), nil
	}
	return lint.Pass(c.ID(), ""), nil
}

func init() {
	lint.Register(&DeployConditionCheck{})
}
