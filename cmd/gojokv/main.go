// Command gojokv opens a store and serves an interactive shell on it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/sushant-115/gojokv/core/db"
	internaltelemetry "github.com/sushant-115/gojokv/internal/telemetry"
	"github.com/sushant-115/gojokv/pkg/config"
	"github.com/sushant-115/gojokv/pkg/logger"
	"github.com/sushant-115/gojokv/pkg/telemetry"
	"go.uber.org/zap"
)

var (
	configPath = flag.String("config", "", "Path to a YAML config file")
	dataDir    = flag.String("data_dir", "", "Data directory (overrides the config file)")
	logLevel   = flag.String("log_level", "", "Log level (overrides the config file)")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gojokv: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	if *dataDir != "" {
		cfg.Storage.DataDir = *dataDir
	}
	if *logLevel != "" {
		cfg.Logger.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	zlogger, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer zlogger.Sync()

	tel, shutdownTelemetry, err := telemetry.New(cfg.Telemetry, zlogger)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			zlogger.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()
	metrics, err := internaltelemetry.NewStoreMetrics(tel.Meter)
	if err != nil {
		return fmt.Errorf("failed to create store metrics: %w", err)
	}

	store, err := db.Open(storeConfig(cfg), zlogger, db.WithMetrics(metrics), db.WithTracer(tel.Tracer))
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serveShell(ctx, NewShell(store), filepath.Join(cfg.Storage.DataDir, ".gojokv_history"))
}

func storeConfig(cfg config.Config) db.Config {
	return db.Config{
		Dir:                cfg.Storage.DataDir,
		WALFile:            cfg.Storage.WALFile,
		CheckpointFile:     cfg.Storage.CheckpointFile,
		Backend:            cfg.Storage.Backend,
		Shards:             cfg.Storage.Shards,
		SyncEvery:          cfg.WAL.SyncEvery,
		CheckpointInterval: cfg.Checkpoint.Interval,
		PollInterval:       cfg.Checkpoint.PollInterval,
		SlowBarrierWarning: cfg.Checkpoint.SlowBarrierWarning,
		BatchSize:          cfg.Checkpoint.BatchSize,
		BytesPerSecond:     cfg.Checkpoint.BytesPerSecond,
	}
}

func serveShell(ctx context.Context, shell *Shell, historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "gojokv> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("put"), readline.PcItem("get"), readline.PcItem("delete"),
			readline.PcItem("begin"), readline.PcItem("commit"), readline.PcItem("abort"),
			readline.PcItem("checkpoint"), readline.PcItem("backup"), readline.PcItem("stats"), readline.PcItem("size"),
			readline.PcItem("help"), readline.PcItem("exit"),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to start shell: %w", err)
	}
	defer rl.Close()
	defer shell.Close()

	go func() {
		<-ctx.Done()
		rl.Close()
	}()

	fmt.Fprintln(rl.Stdout(), "gojokv shell. Type 'help' for commands, 'exit' or 'quit' to leave.")
	for {
		if shell.InTxn() {
			rl.SetPrompt("gojokv(txn)> ")
		} else {
			rl.SetPrompt("gojokv> ")
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		req, err := parseRequest(line)
		if err != nil {
			fmt.Fprintln(rl.Stdout(), Response{Status: "ERROR", Message: fmt.Sprintf("Invalid request: %v", err)})
			continue
		}
		resp, err := shell.handleRequest(ctx, req)
		fmt.Fprintln(rl.Stdout(), resp)
		if errors.Is(err, errExit) {
			return nil
		}
	}
}
