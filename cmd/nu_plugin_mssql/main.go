package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ha1tch/nusql/config"
	"github.com/ha1tch/nusql/history"
	"github.com/ha1tch/nusql/mssql"
	"github.com/ha1tch/nusql/pkg/log"
	"github.com/ha1tch/nusql/pkg/version"
	"github.com/ha1tch/nusql/plugin"
	"github.com/ha1tch/nusql/session"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("nu_plugin_mssql", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		// Profiles
		configFile   = fs.String("c", "", "Profile file path (default: ~/.nusql/config.yaml)")
		configFileL  = fs.String("config", "", "Profile file path (default: ~/.nusql/config.yaml)")
		watchConfig  = fs.Bool("w", false, "Watch the profile file and hot-reload")
		watchConfigL = fs.Bool("watch", false, "Watch the profile file and hot-reload")

		// Session cache
		maxSessions    = fs.Int("max-sessions", 16, "Maximum cached sessions")
		idleTimeout    = fs.Duration("idle-timeout", 10*time.Minute, "Idle session eviction threshold")
		connectTimeout = fs.Duration("connect-timeout", 15*time.Second, "Connection establishment timeout")
		sweepInterval  = fs.Duration("sweep-interval", time.Minute, "Idle eviction sweep period (0 = disabled)")

		// Queries
		queryTimeout = fs.Duration("query-timeout", 0, "Per-query timeout (0 = unbounded)")
		rowBuffer    = fs.Int("row-buffer", plugin.DefaultRowBuffer, "Records buffered between fetch and host")

		// History
		historyPath = fs.String("history-path", "", "History database path (default: ~/.nusql/history.db)")
		noHistory   = fs.Bool("no-history", false, "Disable query history")

		// Logging
		logLevel  = fs.String("log-level", "info", "Log level (debug, info, warn, error, off)")
		logFormat = fs.String("log-format", "text", "Log format (text, json)")

		// Help and version
		showHelp     = fs.Bool("h", false, "Show help")
		showHelpL    = fs.Bool("help", false, "Show help")
		showVersion  = fs.Bool("v", false, "Show version")
		showVersionL = fs.Bool("version", false, "Show version")
	)

	fs.Usage = func() {
		printUsage(stderr)
	}

	if err := fs.Parse(args); err != nil {
		return 2
	}

	// Coalesce short and long flags
	if *configFileL != "" {
		*configFile = *configFileL
	}
	if *watchConfigL {
		*watchConfig = true
	}
	if *showHelpL {
		*showHelp = true
	}
	if *showVersionL {
		*showVersion = true
	}

	if *showHelp {
		printUsage(stdout)
		return 0
	}

	if *showVersion {
		fmt.Fprintln(stdout, version.Full())
		return 0
	}

	// Logging goes to stderr: stdout belongs to the host protocol.
	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}
	format, err := log.ParseFormat(*logFormat)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}
	logCfg := log.DefaultConfig()
	logCfg.DefaultLevel = level
	logCfg.Format = format
	logCfg.Output = stderr
	logger := log.New(logCfg)

	// Profiles
	path := *configFile
	if path == "" {
		if path, err = config.DefaultPath(); err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(stderr, "error loading profiles: %v\n", err)
		return 1
	}
	logger.System().Info("profiles loaded", "path", path, "profiles", len(cfg.Profiles))

	// Session cache
	sessCfg := session.DefaultConfig()
	sessCfg.MaxSessions = *maxSessions
	sessCfg.IdleTimeout = *idleTimeout
	sessCfg.ConnectTimeout = *connectTimeout
	sessCfg.SweepInterval = *sweepInterval
	sessCfg.Logger = logger
	manager := session.NewManager(sessCfg)
	defer manager.Close()

	// History
	var hist *history.Store
	if !*noHistory {
		histCfg := history.DefaultConfig()
		if *historyPath != "" {
			histCfg.Path = *historyPath
		}
		hist, err = history.New(histCfg)
		if err != nil {
			logger.System().Warn("history disabled", "error", err.Error())
			hist = nil
		} else {
			defer hist.Close()
		}
	}

	// Protocol handler
	opts := []plugin.HandlerOption{
		plugin.WithRowBuffer(*rowBuffer),
		plugin.WithQueryTimeout(*queryTimeout),
	}
	if hist != nil {
		opts = append(opts, plugin.WithHistory(hist))
	}
	handler := plugin.NewHandler(cfg, manager, mssql.NewExecutor(logger), logger, opts...)

	// Profile hot-reload
	if *watchConfig {
		watcher, werr := config.NewWatcher(path, logger,
			config.WithOnReload(handler.SetConfig))
		if werr != nil {
			fmt.Fprintf(stderr, "error creating config watcher: %v\n", werr)
			return 1
		}
		if werr := watcher.Start(); werr != nil {
			fmt.Fprintf(stderr, "error starting config watcher: %v\n", werr)
			return 1
		}
		defer watcher.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Shut down cleanly on signal; EOF on stdin ends Serve by itself.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.System().Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	logger.System().Info("plugin serving", "version", version.Version)
	if err := handler.Serve(ctx, stdin, stdout); err != nil && err != context.Canceled {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	logger.System().Info("plugin stopped")
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `nu_plugin_mssql - Microsoft SQL Server bridge for structured shells

Speaks a JSON-lines protocol on stdio: one request per line in, streamed
record lines out. All diagnostics go to stderr.

Usage:
  nu_plugin_mssql [options]

Profile Options:
  -c, --config <file>      Profile file path (default: ~/.nusql/config.yaml)
  -w, --watch              Watch the profile file and hot-reload

Session Options:
  --max-sessions <n>       Maximum cached sessions (default: 16)
  --idle-timeout <dur>     Idle session eviction threshold (default: 10m)
  --connect-timeout <dur>  Connection establishment timeout (default: 15s)
  --sweep-interval <dur>   Idle eviction sweep period, 0 disables (default: 1m)

Query Options:
  --query-timeout <dur>    Per-query timeout, 0 = unbounded (default: 0)
  --row-buffer <n>         Records buffered between fetch and host (default: 10)

History Options:
  --history-path <path>    History database path (default: ~/.nusql/history.db)
  --no-history             Disable query history

Logging:
  --log-level <level>      Log level: debug, info, warn, error, off (default: info)
  --log-format <format>    Log format: text, json (default: text)

General:
  -h, --help               Show help
  -v, --version            Show version
`)
}
