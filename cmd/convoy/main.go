package main

import (
	"fmt"
	"os"
)

// Exit codes: 0 on success or clean shutdown, 1 on an unrecoverable
// service failure, 2 on a configuration error (reported before any
// service is started).
const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitConfig)
	}

	switch os.Args[1] {
	case "up":
		os.Exit(runUp(os.Args[2:]))
	case "validate":
		os.Exit(runValidate(os.Args[2:]))
	case "plan":
		os.Exit(runPlan(os.Args[2:]))
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "convoy: unknown command %q\n", os.Args[1])
		printUsage()
		os.Exit(exitConfig)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: convoy <command> [flags]

Commands:
  up        Start a stack and keep it running until interrupted
  validate  Check a stack file for structural errors
  plan      Print the dependency-ordered start batches

Run 'convoy <command> --help' for command-specific flags.
`)
}
