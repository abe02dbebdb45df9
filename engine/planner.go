package engine

import (
	"fmt"
	"sort"
)

// Plan derives a layered execution order from the dependency declarations.
// Each inner slice is a stage whose nodes have no dependency on one another
// and may run concurrently; stages execute in order, and a node never
// appears before all of its effective dependencies.
//
// Disabled nodes are spliced out: a node depending on a disabled node
// inherits the disabled node's own dependencies, transitively, so the rest
// of the pipeline keeps its relative order. Nodes listed in exclude are
// removed the same way; the engine uses this for revision nodes, which run
// only inside gate rejection loops.
//
// Stage membership is sorted by node ID so the plan is deterministic for a
// given configuration.
func Plan(configs map[string]NodeConfig, exclude map[string]bool) ([][]string, error) {
	for id, cfg := range configs {
		for _, dep := range cfg.DependsOn {
			if _, ok := configs[dep]; !ok {
				return nil, fmt.Errorf("node %q depends on %q: %w", id, dep, ErrUnknownDependency)
			}
		}
	}

	active := func(id string) bool {
		cfg := configs[id]
		return cfg.Enabled && !exclude[id]
	}

	// Resolve each active node's effective dependencies, expanding
	// through inactive nodes. A cycle through the expansion is a cycle in
	// the declarations.
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(configs))
	memo := make(map[string][]string, len(configs))

	var expand func(id string) ([]string, error)
	expand = func(id string) ([]string, error) {
		if state[id] == done {
			return memo[id], nil
		}
		if state[id] == visiting {
			return nil, fmt.Errorf("node %q: %w", id, ErrCyclicGraph)
		}
		state[id] = visiting

		seen := make(map[string]bool)
		var deps []string
		for _, dep := range configs[id].DependsOn {
			if active(dep) {
				if !seen[dep] {
					seen[dep] = true
					deps = append(deps, dep)
				}
				continue
			}
			inherited, err := expand(dep)
			if err != nil {
				return nil, err
			}
			for _, d := range inherited {
				if !seen[d] {
					seen[d] = true
					deps = append(deps, d)
				}
			}
		}
		state[id] = done
		memo[id] = deps
		return deps, nil
	}

	effective := make(map[string][]string)
	for id := range configs {
		if !active(id) {
			continue
		}
		deps, err := expand(id)
		if err != nil {
			return nil, err
		}
		effective[id] = deps
	}

	// Layered topological sort: peel off the nodes whose remaining
	// dependencies are all scheduled.
	scheduled := make(map[string]bool, len(effective))
	var stages [][]string
	for len(scheduled) < len(effective) {
		var stage []string
		for id, deps := range effective {
			if scheduled[id] {
				continue
			}
			ready := true
			for _, dep := range deps {
				if !scheduled[dep] {
					ready = false
					break
				}
			}
			if ready {
				stage = append(stage, id)
			}
		}
		if len(stage) == 0 {
			var stuck []string
			for id := range effective {
				if !scheduled[id] {
					stuck = append(stuck, id)
				}
			}
			sort.Strings(stuck)
			return nil, fmt.Errorf("unschedulable nodes %v: %w", stuck, ErrCyclicGraph)
		}
		sort.Strings(stage)
		for _, id := range stage {
			scheduled[id] = true
		}
		stages = append(stages, stage)
	}
	return stages, nil
}
