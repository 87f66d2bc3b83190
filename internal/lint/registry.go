package lint

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registry = make(map[string]Check)
	mu       sync.RWMutex
)

func Register(c Check) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[c.ID()]; exists {
		panic(fmt.Sprintf("lint check %s already registered", c.ID()))
	}
	registry[c.ID()] = c
}

func List() []Check {
	mu.RLock()
	defer mu.RUnlock()
	var checks []Check
	for _, c := range registry {
		checks = append(checks, c)
	}
	sort.Slice(checks, func(i, j int) bool {
		return checks[i].ID() < checks[j].ID()
	})
	return checks
}

// Run evaluates every registered check except the ignored IDs, in ID order.
// Suppressed checks simply do not appear in the output; a clean run is one
// with zero FAIL/ERROR results outside the ignore list.
func Run(in Input, ignore []string) []Result {
	ignored := make(map[string]bool, len(ignore))
	for _, id := range ignore {
		ignored[id] = true
	}

	var results []Result
	for _, c := range List() {
		if ignored[c.ID()] {
			continue
		}
		res, err := c.Evaluate(in)
		if err != nil {
			res = Error(c.ID(), fmt.Sprintf("check failed to run: %v", err))
		}
		if res.CheckID == "" {
			res.CheckID = c.ID()
		}
		results = append(results, res)
	}
	return results
}
