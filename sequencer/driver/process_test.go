package driver

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestProcess_CleanExit(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var stdout bytes.Buffer
	h, err := Process{}.Start(ctx, StartSpec{
		Name:    "echo",
		Command: []string{"sh", "-c", "echo hello"},
		Stdout:  &stdout,
		Stderr:  &bytes.Buffer{},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer Process{}.Stop(context.Background(), h)

	code, err := Process{}.Wait(ctx, h)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if code != 0 {
		t.Errorf("exit code: got %d, want 0", code)
	}
	if !strings.Contains(stdout.String(), "hello") {
		t.Errorf("stdout: got %q, want hello", stdout.String())
	}
}

func TestProcess_NonZeroExit(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := Process{}.Start(ctx, StartSpec{
		Name:    "fail",
		Command: []string{"sh", "-c", "exit 3"},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer Process{}.Stop(context.Background(), h)

	code, err := Process{}.Wait(ctx, h)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if code != 3 {
		t.Errorf("exit code: got %d, want 3", code)
	}
}

func TestProcess_StopTerminates(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := Process{}.Start(ctx, StartSpec{
		Name:    "sleeper",
		Command: []string{"sleep", "60"},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := (Process{}).Stop(context.Background(), h); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// A cancelled process counts as a clean exit.
	code, err := Process{}.Wait(ctx, h)
	if err != nil {
		t.Fatalf("wait after stop: %v", err)
	}
	if code != 0 {
		t.Errorf("exit code after stop: got %d, want 0", code)
	}
}

func TestProcess_MissingExecutable(t *testing.T) {
	_, err := Process{}.Start(context.Background(), StartSpec{
		Name:    "ghost",
		Command: []string{"definitely-not-a-real-binary-4729"},
	})
	if err == nil {
		t.Fatal("expected error for missing executable, got nil")
	}
}

func TestProcess_Exec(t *testing.T) {
	ctx := context.Background()

	if err := (Process{}).Exec(ctx, nil, []string{"true"}, time.Second); err != nil {
		t.Errorf("exec true: %v", err)
	}
	if err := (Process{}).Exec(ctx, nil, []string{"false"}, time.Second); err == nil {
		t.Error("exec false: expected error, got nil")
	}
	if err := (Process{}).Exec(ctx, nil, nil, time.Second); err == nil {
		t.Error("empty argv: expected error, got nil")
	}
}
