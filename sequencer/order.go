package sequencer

import (
	"sort"

	"github.com/averill/convoy/spec"
)

// StartOrder computes the dependency-respecting start order for a stack
// as a sequence of batches. Every service appears after all of its
// dependencies; services within a batch have no ordering constraints
// between them and may start concurrently.
//
// Returns a ConfigError if the dependency graph contains a cycle.
//
// The running sequencer does not consume this plan — ordering emerges
// from event-log gating — but the computed order matches the order in
// which start calls become possible, and the plan command renders it.
func StartOrder(stack *spec.Stack) ([][]string, error) {
	// indegree counts unsatisfied dependencies per service.
	indegree := make(map[string]int, len(stack.Services))
	dependents := make(map[string][]string, len(stack.Services))

	for name, svc := range stack.Services {
		if _, ok := indegree[name]; !ok {
			indegree[name] = 0
		}
		for target := range svc.DependsOn {
			if _, ok := stack.Services[target]; !ok {
				continue // dangling ref, reported by ValidateStack
			}
			indegree[name]++
			dependents[target] = append(dependents[target], name)
		}
	}

	var batches [][]string
	placed := 0

	// Repeatedly select all services whose dependencies are satisfied.
	for placed < len(stack.Services) {
		var batch []string
		for name, deg := range indegree {
			if deg == 0 {
				batch = append(batch, name)
			}
		}
		if len(batch) == 0 {
			// Remaining services all wait on each other.
			return nil, &ConfigError{Problems: []string{detectCycle(stack.Services)}}
		}
		sort.Strings(batch)

		for _, name := range batch {
			delete(indegree, name)
			for _, dependent := range dependents[name] {
				if _, ok := indegree[dependent]; ok {
					indegree[dependent]--
				}
			}
		}

		batches = append(batches, batch)
		placed += len(batch)
	}

	return batches, nil
}

// reverseDependencies returns, for each service, the names of services
// that depend on it. Used during teardown: a service is stopped only
// after all of its dependents have stopped.
func reverseDependencies(services map[string]spec.Service) map[string][]string {
	out := make(map[string][]string, len(services))
	for name, svc := range services {
		for target := range svc.DependsOn {
			if _, ok := services[target]; !ok {
				continue
			}
			out[target] = append(out[target], name)
		}
	}
	for _, deps := range out {
		sort.Strings(deps)
	}
	return out
}
