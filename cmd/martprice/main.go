package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/aluiziolira/martprice/config"
)

var version = "dev"

func main() {
	if os.Getenv("MARTPRICE_ENV") != "production" {
		_ = godotenv.Load()
	}

	defaults := config.DefaultConfig()
	app := &cli.App{
		Name:    "martprice",
		Usage:   "Korean grocery price comparison for German supermarkets",
		Version: version,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable verbose logging",
				EnvVars: []string{"MARTPRICE_VERBOSE"},
			},
			&cli.StringFlag{
				Name:    "store-driver",
				Value:   defaults.StoreDriver,
				Usage:   "Document store driver (sqlite, postgres)",
				EnvVars: []string{"MARTPRICE_STORE_DRIVER"},
			},
			&cli.StringFlag{
				Name:    "store-dsn",
				Value:   defaults.StoreDSN,
				Usage:   "SQLite file path or Postgres connection URL",
				EnvVars: []string{"MARTPRICE_STORE_DSN", "DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "Prometheus metrics listen address for ingest runs (e.g. :9090)",
				EnvVars: []string{"MARTPRICE_METRICS_ADDR"},
			},
		},
		Before: func(c *cli.Context) error {
			logger, level := newLogger(c.Bool("verbose"))
			slog.SetDefault(logger)
			slog.SetLogLoggerLevel(level.Level())
			return nil
		},
		Commands: []*cli.Command{
			ingestCommand(defaults),
			serveCommand(defaults),
			catalogCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// baseConfig reads the flags shared by every command.
func baseConfig(c *cli.Context) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Verbose = c.Bool("verbose")
	cfg.StoreDriver = c.String("store-driver")
	cfg.StoreDSN = c.String("store-dsn")
	cfg.MetricsAddr = c.String("metrics-addr")
	return cfg
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
