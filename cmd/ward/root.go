package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "ward",
	Short: "run commands under lease-based distributed locks",
	Long: fmt.Sprintf(`ward (v%s)

Runs commands while holding a lease-based lock on a shared store
(Redis, etcd or process memory), renewing the lease in the background
and retrying on contention.`, version),
	SilenceUsage:      true,
	SilenceErrors:     true,
	Version:           version,
	PersistentPreRunE: bindFlags,
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("backend", "memory", "lease store: memory, redis, redislock or etcd")
	flags.String("redis-addr", "localhost:6379", "redis address")
	flags.String("redis-password", "", "redis password")
	flags.Int("redis-db", 0, "redis database")
	flags.String("key-prefix", "", "prefix prepended to every stored key")
	flags.String("etcd-endpoints", "localhost:2379", "comma separated etcd endpoints")
	flags.String("bus", "auto", "release notifications: auto, none, memory, redis, nats or kafka")
	flags.String("nats-url", "nats://localhost:4222", "nats server url")
	flags.String("kafka-brokers", "localhost:9092", "comma separated kafka brokers")
	flags.String("kafka-topic", "", "kafka topic for notifications")
	flags.Duration("ttl", 0, "lease ttl (default 30s)")
	flags.Int("max-retries", 0, "upper bound for --retries (default 50)")
	flags.String("metrics-addr", "", "serve prometheus metrics on this address, e.g. :2112")
	flags.Bool("trace", false, "print opentelemetry spans to stderr")
	flags.String("log-level", "info", "log level: debug, info, warn or error")

	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(sweepCmd)
}

// initConfig loads env files and wires viper to WARD_ environment variables.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("ward")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func bindFlags(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	slog.SetDefault(newLogger(viper.GetString("log-level")))
	return nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
