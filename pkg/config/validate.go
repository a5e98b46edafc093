package config

import (
	"sort"
	"strings"

	"veracity/pkg/faults"
)

// validate enforces the structural invariants of a loaded configuration:
// required fields, the tool subset relation, sub-agent reference integrity,
// and acyclicity of the delegation graph.
func validate(cfg *Config) error {
	configuredTools := make(map[string]bool)
	for name, tool := range cfg.Tools {
		if tool.BaseURL == "" {
			return faults.Newf(faults.ErrorTypeConfig, "tool provider %s: base_url is required", name)
		}
		for _, t := range tool.Tools {
			configuredTools[t] = true
		}
	}

	for name, agent := range cfg.Agents {
		if agent.Role == "" {
			return faults.Newf(faults.ErrorTypeConfig, "agent %s: role is required", name)
		}
		if agent.Model == "" {
			return faults.Newf(faults.ErrorTypeConfig, "agent %s: model is required", name)
		}

		// Declared tools must be a subset of the configured tool names.
		for _, t := range agent.Tools {
			if !configuredTools[t] {
				return faults.Newf(faults.ErrorTypeConfig,
					"agent %s declares tool %q not exposed by any configured provider", name, t)
			}
		}

		// Sub-agent references must exist.
		for _, sub := range agent.SubAgents {
			if _, ok := cfg.Agents[sub]; !ok {
				return faults.Newf(faults.ErrorTypeConfig,
					"agent %s references unknown sub-agent %q", name, sub)
			}
		}
	}

	if cycle := findDelegationCycle(cfg.Agents); cycle != nil {
		return faults.Newf(faults.ErrorTypeConfig,
			"delegation cycle detected: %s", strings.Join(cycle, " -> "))
	}

	return nil
}

// findDelegationCycle runs a three-color DFS over the sub-agent graph and
// returns the first cycle found, or nil. Agents are visited in sorted order
// so the reported cycle is deterministic.
func findDelegationCycle(agents map[string]AgentSpec) []string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS path
		black = 2 // fully explored
	)

	color := make(map[string]int, len(agents))
	var path []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		color[name] = gray
		path = append(path, name)

		for _, sub := range agents[name].SubAgents {
			switch color[sub] {
			case gray:
				// Found a back edge; slice the path from the first occurrence.
				for i, n := range path {
					if n == sub {
						cycle = append(append([]string{}, path[i:]...), sub)
						return true
					}
				}
			case white:
				if visit(sub) {
					return true
				}
			}
		}

		path = path[:len(path)-1]
		color[name] = black
		return false
	}

	names := make([]string, 0, len(agents))
	for name := range agents {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if color[name] == white && visit(name) {
			return cycle
		}
	}
	return nil
}
