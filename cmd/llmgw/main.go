// Command llmgw sends completions through the gateway and inspects its
// catalog and usage.
package main

import (
	"fmt"
	"os"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "[llmgw] %v\n", err)
		os.Exit(1)
	}
}
