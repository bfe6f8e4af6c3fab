package spec

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DecodeStack parses a YAML stack document. The document is validated
// against the embedded JSON schema first so that misspelled fields and
// malformed values are reported with schema context instead of surfacing
// as zero values later. Defaults are resolved before returning.
func DecodeStack(data []byte) (Stack, error) {
	if _, err := validateSchema(data); err != nil {
		return Stack{}, fmt.Errorf("invalid stack document: %w", err)
	}

	var stack Stack
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&stack); err != nil {
		return Stack{}, err
	}

	ResolveDefaults(&stack)
	return stack, nil
}

// LoadFile reads and decodes the stack file at path. env_file references
// are resolved relative to the stack file's directory and merged into
// each service's Env map, with explicit Env entries taking precedence.
// The returned stack is self-contained: callers never consult the env
// files again.
func LoadFile(path string) (Stack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Stack{}, err
	}

	stack, err := DecodeStack(data)
	if err != nil {
		return Stack{}, fmt.Errorf("%s: %w", path, err)
	}

	baseDir := filepath.Dir(path)
	for name, svc := range stack.Services {
		if svc.EnvFile == "" {
			continue
		}
		fileEnv, err := LoadEnvFile(filepath.Join(baseDir, svc.EnvFile))
		if err != nil {
			return Stack{}, fmt.Errorf("service %q: env_file: %w", name, err)
		}
		merged := make(map[string]string, len(fileEnv)+len(svc.Env))
		for k, v := range fileEnv {
			merged[k] = v
		}
		for k, v := range svc.Env {
			merged[k] = v
		}
		svc.Env = merged
		stack.Services[name] = svc
	}

	return stack, nil
}

// ResolveDefaults fills in default values on the stack spec: restart
// policy, dependency conditions, and health check parameters.
func ResolveDefaults(stack *Stack) {
	for name, svc := range stack.Services {
		if svc.Restart == "" {
			svc.Restart = RestartNever
		}

		for target, dep := range svc.DependsOn {
			if dep.Condition == "" {
				dep.Condition = ConditionStarted
				svc.DependsOn[target] = dep
			}
		}

		if hc := svc.HealthCheck; hc != nil {
			if hc.Type == "" {
				if len(hc.Test) > 0 {
					hc.Type = HealthCmd
				} else {
					hc.Type = HealthTCP
				}
			}
			if hc.Interval.Duration == 0 {
				hc.Interval.Duration = DefaultHealthInterval
			}
			if hc.Timeout.Duration == 0 {
				hc.Timeout.Duration = DefaultHealthTimeout
			}
			if hc.Retries == 0 {
				hc.Retries = DefaultHealthRetries
			}
			if hc.Port == 0 && len(svc.Ports) > 0 {
				hc.Port = svc.Ports[0].Host
			}
		}

		stack.Services[name] = svc
	}
}
