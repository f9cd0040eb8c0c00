// cmd/chaos/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"

	"libralend/internal/chaos"
	"libralend/internal/config"
	"libralend/internal/logger"
	"libralend/internal/telemetry"
)

func main() {
	os.Exit(run())
}

// run returns the process exit status: 1 when any hypothesis failed.
func run() int {
	fs := flag.NewFlagSet("chaos", flag.ExitOnError)
	items := fs.Int("items", 8, "items in the catalog")
	copies := fs.Int("copies", 3, "copies per item")
	members := fs.Int("members", 24, "members in good standing")
	ops := fs.Int("ops", chaos.DefaultLoad.Ops, "operations per load phase")
	workers := fs.Int("workers", chaos.DefaultLoad.Workers, "concurrent workers")
	seed := fs.Uint64("seed", uint64(time.Now().UnixNano()), "fault injection seed")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}
	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: "chaos",
	}, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, "chaos", cfg.OTelEndpoint)
	if err != nil {
		log.Error("setup telemetry", "error", err)
		return 1
	}
	defer flushTelemetry(context.WithoutCancel(ctx), shutdown, log)

	target, err := chaos.NewMemoryTarget(*items, *copies, *members, *seed, log)
	if err != nil {
		log.Error("build target", "error", err)
		return 1
	}

	log.Info("starting game day", "seed", *seed, "ops", *ops, "workers", *workers)
	load := chaos.LoadProfile{Ops: *ops, Workers: *workers}
	results := chaos.NewEngine(log).RunAll(ctx, chaos.Experiments(target, load))

	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		log.Error("write results", "error", err)
	}

	for _, r := range results {
		if !r.HypothesisHeld {
			return 1
		}
	}
	return 0
}

// flushTelemetry runs the tracer shutdown and logs a failure instead of
// dropping it.
func flushTelemetry(ctx context.Context, shutdown func(context.Context) error, log *slog.Logger) {
	if err := shutdown(ctx); err != nil {
		log.Warn("telemetry shutdown failed", "error", err)
	}
}
