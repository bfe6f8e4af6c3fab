package sequencer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/averill/convoy/spec"
)

// ValidateStack checks a stack spec for structural errors. Returns all
// errors found (not just the first) so the user can fix them in one pass.
// An empty result means the stack is safe to sequence.
func ValidateStack(stack *spec.Stack) []string {
	spec.ResolveDefaults(stack)

	var errs []string

	if stack.Name == "" {
		errs = append(errs, "stack name is required")
	}

	if len(stack.Services) == 0 {
		errs = append(errs, "stack must have at least one service")
	}

	// Sort service names for deterministic error ordering.
	for _, name := range sortedServiceNames(stack.Services) {
		svc := stack.Services[name]
		errs = append(errs, validateService(name, svc, stack.Services)...)
	}

	if cycle := detectCycle(stack.Services); cycle != "" {
		errs = append(errs, cycle)
	}

	return errs
}

// Validate wraps ValidateStack's results in a ConfigError, or returns nil
// if the stack is valid.
func Validate(stack *spec.Stack) error {
	if problems := ValidateStack(stack); len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}
	return nil
}

func validateService(name string, svc spec.Service, all map[string]spec.Service) []string {
	var errs []string

	if svc.Image == "" && len(svc.Command) == 0 {
		errs = append(errs, fmt.Sprintf("service %q: image or command is required", name))
	}

	if !svc.Restart.Valid() {
		errs = append(errs, fmt.Sprintf(
			"service %q: unknown restart policy %q (must be one of: never, on-failure, always, unless-stopped)",
			name, svc.Restart,
		))
	}

	if hc := svc.HealthCheck; hc != nil {
		if !hc.Type.Valid() {
			errs = append(errs, fmt.Sprintf(
				"service %q: unknown health check type %q (must be one of: cmd, tcp, http, grpc)",
				name, hc.Type,
			))
		}
		if hc.Type == spec.HealthCmd && len(hc.Test) == 0 {
			errs = append(errs, fmt.Sprintf("service %q: cmd health check requires a test command", name))
		}
		if hc.Type != spec.HealthCmd && hc.Type.Valid() && hc.Port == 0 {
			errs = append(errs, fmt.Sprintf(
				"service %q: %s health check requires a port (none declared and no ports to default from)",
				name, hc.Type,
			))
		}
		if hc.Retries < 0 {
			errs = append(errs, fmt.Sprintf("service %q: health check retries must be positive", name))
		}
	}

	// Sort dependency names for deterministic output.
	depNames := make([]string, 0, len(svc.DependsOn))
	for n := range svc.DependsOn {
		depNames = append(depNames, n)
	}
	sort.Strings(depNames)

	for _, target := range depNames {
		dep := svc.DependsOn[target]

		if target == name {
			errs = append(errs, fmt.Sprintf("service %q: cannot depend on itself", name))
			continue
		}

		if !dep.Condition.Valid() {
			errs = append(errs, fmt.Sprintf(
				"service %q: dependency %q: invalid condition %q (must be started or healthy)",
				name, target, dep.Condition,
			))
		}

		if _, ok := all[target]; !ok {
			msg := fmt.Sprintf("service %q: depends on unknown service %q", name, target)
			if suggestion := closestMatch(target, all); suggestion != "" {
				msg += fmt.Sprintf(" (did you mean %q?)", suggestion)
			}
			errs = append(errs, msg)
		}
	}

	return errs
}

// detectCycle walks the dependency graph using DFS and returns a
// descriptive error if a cycle is found. Returns "" if the graph is
// acyclic.
func detectCycle(services map[string]spec.Service) string {
	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)

	state := make(map[string]int, len(services))
	parent := make(map[string]string, len(services))

	names := sortedServiceNames(services)

	var dfs func(name string) string
	dfs = func(name string) string {
		state[name] = visiting

		svc := services[name]

		// Sort dependency names for deterministic cycle path output.
		depOrder := make([]string, 0, len(svc.DependsOn))
		for n := range svc.DependsOn {
			depOrder = append(depOrder, n)
		}
		sort.Strings(depOrder)

		for _, target := range depOrder {
			if _, ok := services[target]; !ok {
				continue // broken ref, caught by validateService
			}

			switch state[target] {
			case visiting:
				// Found a cycle. Build the path.
				path := []string{target, name}
				for cur := name; cur != target; {
					cur = parent[cur]
					path = append(path, cur)
				}
				// Reverse to get forward order.
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return fmt.Sprintf("dependency cycle: %s", strings.Join(path, " -> "))
			case unvisited:
				parent[target] = name
				if msg := dfs(target); msg != "" {
					return msg
				}
			}
		}

		state[name] = visited
		return ""
	}

	for _, name := range names {
		if state[name] == unvisited {
			if msg := dfs(name); msg != "" {
				return msg
			}
		}
	}
	return ""
}

// closestMatch returns the service name closest to target using simple
// edit distance, or "" if no name is close enough.
func closestMatch(target string, services map[string]spec.Service) string {
	best := ""
	bestDist := len(target)/2 + 1 // threshold: must be within half the length

	for name := range services {
		d := editDistance(target, name)
		if d < bestDist {
			bestDist = d
			best = name
		}
	}
	return best
}

func editDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(curr[j-1]+1, min(prev[j]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}

func sortedServiceNames(services map[string]spec.Service) []string {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
