package stacktest_test

import (
	"testing"

	"github.com/averill/convoy/spec"
	"github.com/averill/convoy/stacktest"
)

func TestUp(t *testing.T) {
	stack := spec.Stack{
		Name: "sleepers",
		Services: map[string]spec.Service{
			"a": {Command: []string{"sleep", "60"}},
			"b": {
				Command:   []string{"sleep", "60"},
				DependsOn: map[string]spec.DependsOn{"a": {}},
			},
		},
	}

	env := stacktest.Up(t, &stack)

	statuses := env.Status()
	for _, name := range []string{"a", "b"} {
		if statuses[name] != spec.StatusHealthy {
			t.Errorf("%s status: got %q, want healthy", name, statuses[name])
		}
	}

	env.Stop(t, "b")
	if got := env.Status()["b"]; got != spec.StatusStopped {
		t.Errorf("b status after stop: got %q, want stopped", got)
	}
}
