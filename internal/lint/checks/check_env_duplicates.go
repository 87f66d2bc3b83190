package checks

import (
	"fmt"

	"plumerun/internal/lint"
	"plumerun/internal/manifest"
)

type EnvDuplicatesCheck struct{}

func (c *EnvDuplicatesCheck) ID() string {
	return "env-duplicates"
}

func (c *EnvDuplicatesCheck) Title() string {
	return "Global Env Has No Duplicate Keys"
}

func (c *EnvDuplicatesCheck) Description() string {
	return "Verifies that global env entries do not assign the same variable twice; the later assignment silently wins, which is almost always a mistake."
}

func (c *EnvDuplicatesCheck) Evaluate(in lint.Input) (lint.Result, error) {
	seen := make(map[string]bool)
	for _, line := range in.Manifest.Env.Global {
		if line.Secure != "" {
			continue // opened by the secure-values check
		}
		v, err := manifest.ParseAssignment(line.Raw)
		if err != nil {
			// Structural validity is the parser's job; don't double-report.
			continue
		}
		if seen[v.Key] {
			return lint.Fail(c.ID(), fmt.Sprintf("env variable %s is assigned more than once", v.Key)), nil
		}
		seen[v.Key] = true
	}
	return lint.Pass(c.ID(), ""), nil
}

func init() {
	lint.Register(&EnvDuplicatesCheck{})
}
