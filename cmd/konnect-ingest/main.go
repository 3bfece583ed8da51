// konnect-ingest replays a directory of recorded WhatsApp webhook batch files into the
// message store. Store settings default to the server's KONNECT_* environment; flags override.
//
// Messages ingested here are not pushed to live clients: the live channel belongs to the
// server process.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"konnect/cmd/internal/app"
	"konnect/cmd/internal/chat"
	"konnect/cmd/internal/ingest"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// errVolatileStore rejects a run whose results would vanish with the process.
var errVolatileStore = errors.New("the memory store does not outlive this process; pick a persistent --driver (postgres, sqlite, mysql, redis)")

func run() error {
	dir, cfg, err := parseArgs(os.Args[1:], app.LoadConfig())
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	log := app.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := app.OpenStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error("store.close.fail", "err", err)
		}
	}()

	_, err = ingest.Dir(ctx, dir, chat.NewNormalizer(st, nil, log), log)
	return err
}

// parseArgs applies flags over cfg and returns the batch directory.
func parseArgs(args []string, cfg app.Config) (string, app.Config, error) {
	var dir string
	flagSet := pflag.NewFlagSet("konnect-ingest", pflag.ContinueOnError)
	flagSet.StringVar(&dir, "dir", "", "directory of webhook batch *.json files (required)")
	flagSet.StringVar(&cfg.StoreDriver, "driver", cfg.StoreDriver, "store driver: postgres, sqlite, mysql, redis")
	flagSet.StringVar(&cfg.StoreDSN, "dsn", cfg.StoreDSN, "store connection string")
	flagSet.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	flagSet.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: json or pretty")

	if err := flagSet.Parse(args); err != nil {
		return "", cfg, err
	}
	if dir == "" {
		flagSet.Usage()
		return "", cfg, errors.New("--dir is required")
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return "", cfg, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if cfg.StoreDriver == "" || cfg.StoreDriver == app.DriverMemory {
		return "", cfg, errVolatileStore
	}
	return dir, cfg, nil
}
