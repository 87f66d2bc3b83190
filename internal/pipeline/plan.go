package pipeline

import (
	"fmt"
	"strings"

	"plumerun/internal/manifest"
)

// Phase names, in execution order. after_success runs only when all earlier
// phases of the job succeeded, and its failures never flip a success into a
// failure.
const (
	PhaseInstall      = "install"
	PhaseBeforeScript = "before_script"
	PhaseScript       = "script"
	PhaseAfterSuccess = "after_success"
)

// PhaseNames lists the phases a filter may name.
var PhaseNames = []string{PhaseInstall, PhaseBeforeScript, PhaseScript, PhaseAfterSuccess}

// PhasePlan is one ordered phase of a job.
type PhasePlan struct {
	Name  string
	Steps []manifest.Step

	// Skipped phases are reported but not executed (--only / --skip).
	Skipped bool
}

// JobPlan is one job of the run: the full phase sequence under one env matrix
// row. An empty matrix yields exactly one job.
type JobPlan struct {
	Name string

	// Vars are the matrix row variables, layered over the global env.
	Vars []manifest.Var

	Phases []PhasePlan
}

// Plan is the expanded execution plan for a manifest.
type Plan struct {
	Jobs []JobPlan
}

// NewPlan expands a normalized manifest into jobs. Matrix rows are parsed
// here so a malformed row fails the run before any step executes.
func NewPlan(m *manifest.Manifest) (*Plan, error) {
	if m == nil {
		return nil, fmt.Errorf("pipeline: manifest is nil")
	}

	phases := func() []PhasePlan {
		return []PhasePlan{
			{Name: PhaseInstall, Steps: m.Install},
			{Name: PhaseBeforeScript, Steps: m.BeforeScript},
			{Name: PhaseScript, Steps: m.Script},
			{Name: PhaseAfterSuccess, Steps: m.AfterSuccess},
		}
	}

	p := &Plan{}
	if len(m.Env.Matrix) == 0 {
		p.Jobs = []JobPlan{{Name: "default", Phases: phases()}}
		return p, nil
	}

	for i, row := range m.Env.Matrix {
		vars, err := manifest.ParseRow(row)
		if err != nil {
			return nil, fmt.Errorf("env matrix row %d: %w", i+1, err)
		}
		p.Jobs = append(p.Jobs, JobPlan{
			Name:   jobName(row, i),
			Vars:   vars,
			Phases: phases(),
		})
	}
	return p, nil
}

// jobName labels a matrix job after its row, compacted for console output.
func jobName(row string, index int) string {
	name := strings.Join(strings.Fields(strings.TrimSpace(row)), " ")
	if name == "" {
		return fmt.Sprintf("job%d", index+1)
	}
	return name
}
