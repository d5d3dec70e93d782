package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/mirkobrombin/go-ward/v1/metrics"
)

// startTelemetry starts the metrics endpoint and the span exporter when
// configured. The returned func shuts both down.
func startTelemetry(ctx context.Context) (func(), error) {
	var shutdowns []func(context.Context) error

	if addr := viper.GetString("metrics-addr"); addr != "" {
		reg := metrics.NewRegistry()
		metrics.RegisterLockMetrics(reg)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("ward: metrics server failed", "addr", addr, "error", err)
			}
		}()
		slog.Info("ward: serving metrics", "addr", addr)
		shutdowns = append(shutdowns, srv.Shutdown)
	}

	if viper.GetBool("trace") {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithWriter(os.Stderr))
		if err != nil {
			return nil, err
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		otel.SetTracerProvider(tp)
		shutdowns = append(shutdowns, tp.Shutdown)
	}

	return func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		for _, fn := range shutdowns {
			if err := fn(sctx); err != nil {
				slog.Warn("ward: telemetry shutdown failed", "error", err)
			}
		}
	}, nil
}
