package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/ledren/cadent/internal/logging"
	"github.com/ledren/cadent/internal/store"
	"github.com/ledren/cadent/internal/validation"
	"github.com/ledren/cadent/pkg/mcp"
)

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "serve":
		os.Exit(runServe(args))
	case "validate":
		os.Exit(runValidate(args))
	case "version":
		fmt.Printf("cadent %s\n", Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: cadent <command> [flags]

Commands:
  serve      Run the workflow host on stdio (default)
  validate   Validate a workflow template file
  version    Print the version
`)
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	dataDir := fs.String("data-dir", "", "run record directory (default: ~/.cadent)")
	backend := fs.String("backend", "", "persistence backend: file or libsql")
	dbPath := fs.String("db-path", "", "libsql database path (default: ~/.cadent/cadent.db)")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg := loadConfig()
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	// stdout carries the MCP transport; all logging goes to stderr.
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runStore, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer cleanup()

	validator, err := validation.NewTemplateValidator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	srv := mcp.NewCadentServer(mcp.CadentServerDeps{
		Store:     runStore,
		Validator: validator,
		Logger:    logger,
	})

	logger.Info("cadent host starting", "backend", cfg.Backend, "version", Version)
	if err := srv.Serve(ctx); err != nil {
		logger.Error("server stopped", "error", err)
		return 1
	}
	return 0
}

// openStore builds the configured RunStore. For the libsql backend it also
// runs migrations and schedules a periodic vacuum.
func openStore(ctx context.Context, cfg Config, logger *slog.Logger) (store.RunStore, func(), error) {
	switch cfg.Backend {
	case "file", "":
		fs, err := store.NewFileStore(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() { _ = fs.Close() }, nil
	case "libsql":
		lib, err := store.NewLibSQLStore("file:" + cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		if err := lib.Migrate(ctx); err != nil {
			_ = lib.Close()
			return nil, nil, err
		}
		c := cron.New()
		if _, err := c.AddFunc(cfg.VacuumSchedule, func() {
			if err := lib.Vacuum(context.Background()); err != nil {
				logger.Warn("scheduled vacuum failed", "error", err)
			}
		}); err != nil {
			logger.Warn("invalid vacuum schedule, vacuum disabled", "schedule", cfg.VacuumSchedule, "error", err)
		} else {
			c.Start()
		}
		cleanup := func() {
			c.Stop()
			_ = lib.Close()
		}
		return lib, cleanup, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q (want file or libsql)", cfg.Backend)
	}
}

func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: cadent validate <template-file>")
		return 1
	}
	path := fs.Arg(0)

	tv, err := validation.NewTemplateValidator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	tpl, result, err := tv.CheckFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w.Message)
	}
	if !result.Valid() {
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "error: %s\n", e.Message)
		}
		fmt.Fprintf(os.Stderr, "%s: invalid (%d errors)\n", path, len(result.Errors))
		return 1
	}

	fmt.Printf("%s: valid (%d steps, %d agents)\n", path, len(tpl.Steps), len(tpl.Agents))
	return 0
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	base := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(base))
}
