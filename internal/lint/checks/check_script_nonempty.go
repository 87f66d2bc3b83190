package checks

import (
	"plumerun/internal/lint"
)

type ScriptNonEmptyCheck struct{}

func (c *ScriptNonEmptyCheck) ID() string {
	return "script-nonempty"
}

func (c *ScriptNonEmptyCheck) Title() string {
	return "Script Phase Has Steps"
}

func (c *ScriptNonEmptyCheck) Description() string {
	return "Verifies that the manifest declares at least one script step. A pipeline with no script phase cannot fail, which usually means it tests nothing."
}

func (c *ScriptNonEmptyCheck) Evaluate(in lint.Input) (lint.Result, error) {
	if len(in.Manifest.Script) == 0 {
		return lint.Fail(c.ID(), "script phase is empty; the pipeline runs nothing"), nil
	}
	return lint.Pass(c.ID(), ""), nil
}

func init() {
	lint.Register(&ScriptNonEmptyCheck{})
}
