// Command ward runs commands under distributed locks.
//
//	ward exec admission:create:42 -- ./import.sh
//	ward sweep scheduler:sweep:expired --every 1m -- ./cleanup.sh
//
// Every flag can also be set through a WARD_ prefixed environment variable
// (WARD_BACKEND, WARD_REDIS_ADDR, ...), read from .env and .env.local too.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintln(os.Stderr, "ward:", err)
		os.Exit(1)
	}
}
