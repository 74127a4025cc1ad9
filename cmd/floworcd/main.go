// Command floworcd runs the flow orchestration service: the phase state
// machine, master-child reconciliation, and health monitor behind the
// REST control surface.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
