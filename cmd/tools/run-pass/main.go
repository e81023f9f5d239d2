// cmd/tools/run-pass/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notification-engine/internal/app"
	"notification-engine/internal/common/config"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/trigger"
)

// run-pass runs exactly one processing pass and prints the counts as JSON.
// It exits 1 when the pass hit store errors, so cron can alert on it.
func main() {
	configPath := flag.String("config", "", "Path to config file (defaults to configs/config.yaml lookup)")
	batchSize := flag.Int("batch-size", 0, "Maximum jobs to claim (0 uses processor.batch_size)")
	timeout := flag.Duration("timeout", 5*time.Minute, "Upper bound for the whole pass")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(2)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	engine, err := app.Build(ctx, cfg, log, app.Options{ConnectAttempts: 3, RetryDelay: time.Second})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initialising engine: %v\n", err)
		os.Exit(2)
	}
	defer engine.Close()

	inv, passErr := engine.Invoker.Invoke(ctx, trigger.SourceCLI, *batchSize)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(inv); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing result: %v\n", err)
	}

	if passErr != nil {
		fmt.Fprintf(os.Stderr, "Pass finished with errors: %v\n", passErr)
		engine.Close()
		zapLog.Sync()
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFromFile(path)
}
