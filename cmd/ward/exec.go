package main

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mirkobrombin/go-ward/v1/lock"
)

// exitTempFail is EX_TEMPFAIL from sysexits.h.
const exitTempFail = 75

var execCmd = &cobra.Command{
	Use:   "exec <key> -- <command> [args...]",
	Short: "Run a command while holding a lock",
	Long: `Acquire <key>, run the command and release the key when it exits.

While the key is held elsewhere ward backs off and retries up to --retries
times. A command exiting with --conflict-code is treated as an
optimistic-concurrency conflict and run again under a fresh acquisition.
Any other non-zero exit is returned as is.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runExec,
}

func init() {
	execCmd.Flags().Int("retries", 3, "attempts before giving up")
	execCmd.Flags().Int("conflict-code", exitTempFail, "exit code that means conflict, 0 disables")
}

func runExec(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopTelemetry, err := startTelemetry(ctx)
	if err != nil {
		return err
	}
	defer stopTelemetry()

	w, closeWard, err := openWard(ctx)
	if err != nil {
		return err
	}
	defer closeWard()

	key := args[0]
	command := commandRunner(args[1:], key, viper.GetInt("conflict-code"))
	return w.Run(ctx, key, viper.GetDuration("ttl"), viper.GetInt("retries"), command)
}

// commandRunner returns work that runs argv with WARD_LOCK_KEY exported and
// maps conflictCode to lock.ErrConflict.
func commandRunner(argv []string, key string, conflictCode int) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		c := exec.CommandContext(ctx, argv[0], argv[1:]...)
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		c.Env = append(os.Environ(), "WARD_LOCK_KEY="+key)

		err := c.Run()
		var exitErr *exec.ExitError
		if conflictCode != 0 && errors.As(err, &exitErr) && exitErr.ExitCode() == conflictCode {
			return lock.Conflict(err)
		}
		return err
	}
}
