package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mirkobrombin/go-ward/v1/sweep"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep <key> -- <command> [args...]",
	Short: "Run a command periodically on one instance at a time",
	Long: `Every --every, try to acquire <key> and run the command if it was free.

Start the same sweep on every instance: the one that gets the key runs the
command, the others skip that tick. Runs until interrupted.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().Duration("every", time.Minute, "sweep period")
	sweepCmd.Flags().Bool("immediate", false, "run a first tick right away")
}

func runSweep(cmd *cobra.Command, args []string) error {
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
	job := commandRunner(args[1:], key, 0)
	opts := []sweep.Option{sweep.WithLogger(slog.Default())}
	if ttl := viper.GetDuration("ttl"); ttl > 0 {
		opts = append(opts, sweep.WithTTL(ttl))
	}
	if viper.GetBool("immediate") {
		opts = append(opts, sweep.WithImmediate())
	}

	r, err := sweep.New(w.Manager, key, viper.GetDuration("every"), sweep.Job(job), opts...)
	if err != nil {
		return err
	}
	if err := r.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	r.Stop()

	stats := r.Stats()
	slog.Info("ward: sweep stopped", "key", key, "ran", stats.Ran, "skipped", stats.Skipped, "failed", stats.Failed)
	return nil
}
