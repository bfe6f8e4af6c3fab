package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/averill/convoy/sequencer"
	"github.com/averill/convoy/spec"
)

func runPlan(args []string) int {
	fs := flag.NewFlagSet("plan", flag.ExitOnError)
	file := fs.String("f", "convoy.yaml", "stack file")
	fs.Parse(args)

	stack, err := spec.LoadFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "convoy plan: %v\n", err)
		return exitConfig
	}

	batches, err := sequencer.StartOrder(&stack)
	if err != nil {
		fmt.Fprintf(os.Stderr, "convoy plan: %v\n", err)
		return exitConfig
	}

	for i, batch := range batches {
		labels := make([]string, 0, len(batch))
		for _, name := range batch {
			label := name
			for _, dep := range stack.Services[name].DependsOn {
				if dep.Condition == spec.ConditionHealthy {
					label = name + " (gated on health)"
					break
				}
			}
			labels = append(labels, label)
		}
		fmt.Printf("%d. %s\n", i+1, strings.Join(labels, ", "))
	}
	return exitOK
}
