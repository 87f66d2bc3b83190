package pipeline

import (
	"fmt"
	"strings"
)

// ApplyPhaseFilter marks phases as skipped per --only/--skip. An only list
// keeps just the named phases; the skip list then removes more. Naming an
// unknown phase is an error so typos do not silently run everything.
func ApplyPhaseFilter(p *Plan, only, skip []string) error {
	if p == nil {
		return fmt.Errorf("pipeline: plan is nil")
	}

	known := make(map[string]bool, len(PhaseNames))
	for _, name := range PhaseNames {
		known[name] = true
	}

	normalize := func(kind string, names []string) (map[string]bool, error) {
		set := make(map[string]bool, len(names))
		for _, name := range names {
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" {
				continue
			}
			if !known[name] {
				return nil, fmt.Errorf("unknown phase %q in --%s (phases: %s)", name, kind, strings.Join(PhaseNames, ", "))
			}
			set[name] = true
		}
		return set, nil
	}

	onlySet, err := normalize("only", only)
	if err != nil {
		return err
	}
	skipSet, err := normalize("skip", skip)
	if err != nil {
		return err
	}

	for j := range p.Jobs {
		for i := range p.Jobs[j].Phases {
			name := p.Jobs[j].Phases[i].Name
			if len(onlySet) > 0 && !onlySet[name] {
				p.Jobs[j].Phases[i].Skipped = true
			}
			if skipSet[name] {
				p.Jobs[j].Phases[i].Skipped = true
			}
		}
	}
	return nil
}
