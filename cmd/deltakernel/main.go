// Command deltakernel is a minimal CLI over the Table Operations, CDC, and
// Optimization Kernel packages (§6 "CLI surface (minimal, external to the
// core)"). It is a thin wrapper: every subcommand opens a table, calls the
// matching library function, and prints the result as JSON.
package main

import (
	"fmt"
	"os"

	"github.com/deltakernel/deltakernel/errs"
)

func main() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "deltakernel:", err)
	}
	os.Exit(errs.ExitCode(err))
}
