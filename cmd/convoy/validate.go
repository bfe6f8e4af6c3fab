package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/averill/convoy/sequencer"
	"github.com/averill/convoy/spec"
)

func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	file := fs.String("f", "convoy.yaml", "stack file")
	fs.Parse(args)

	stack, err := spec.LoadFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "convoy validate: %v\n", err)
		return exitConfig
	}

	if problems := sequencer.ValidateStack(&stack); len(problems) > 0 {
		for _, p := range problems {
			fmt.Fprintf(os.Stderr, "  %s\n", p)
		}
		fmt.Fprintf(os.Stderr, "%d problem(s) found in %s\n", len(problems), *file)
		return exitConfig
	}

	fmt.Printf("%s: %d service(s), no problems\n", *file, len(stack.Services))
	return exitOK
}
