package checks

import (
	"fmt"

	"plumerun/internal/lint"
)

type InstallRetryCheck struct{}

func (c *InstallRetryCheck) ID() string {
	return "install-retry"
}

func (c *InstallRetryCheck) Title() string {
	return "Install Steps Keep Retry"
}

func (c *InstallRetryCheck) Description() string {
	return "Verifies that install steps keep the retry default. Dependency installation is the network-sensitive class; disabling retry there makes runs fail on transient mirror hiccups."
}

func (c *InstallRetryCheck) Evaluate(in lint.Input) (lint.Result, error) {
	for i, s := range in.Manifest.Install {
		if s.Retry != nil && !*s.Retry {
			return lint.Fail(c.ID(), fmt.Sprintf("install step %d (%s) disables retry", i+1, s.DisplayName())), nil
		}
	}
	return lint.Pass(c.ID(), ""), nil
}

func init() {
	lint.Register(&InstallRetryCheck{})
}
