package checks

import (
	"plumerun/internal/lint"
)

type CoverageUploadCheck struct{}

func (c *CoverageUploadCheck) ID() string {
	return "coverage-upload"
}

func (c *CoverageUploadCheck) Title() string {
	return "Coverage Upload Is Authenticated"
}

func (c *CoverageUploadCheck) Description() string {
	return "Verifies that a coverage upload service has a token_env configured, so uploads are attributed instead of rejected."
}

func (c *CoverageUploadCheck) Evaluate(in lint.Input) (lint.Result, error) {
	cov := in.Manifest.Coverage
	if cov == nil || cov.Service == "" {
		return lint.Pass(c.ID(), "no coverage upload configured"), nil
	}
	if cov.TokenEnv == "" {
		return lint.Fail(c.ID(), "coverage service is set but token_env is not; uploads will be anonymous"), nil
	}
	return lint.Pass(c.ID(), ""), nil
}

func init() {
	lint.Register(&CoverageUploadCheck{})
}
