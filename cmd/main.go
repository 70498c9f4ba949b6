// Package main is the entry point for the next-edit prediction daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/compresr/nextedit/internal/backend"
	"github.com/compresr/nextedit/internal/budget"
	"github.com/compresr/nextedit/internal/config"
	"github.com/compresr/nextedit/internal/coordinator"
	"github.com/compresr/nextedit/internal/monitor"
	"github.com/compresr/nextedit/internal/monitoring"
	"github.com/compresr/nextedit/internal/store"
	"github.com/compresr/nextedit/internal/workspace"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// loadEnvFiles loads .env from standard locations.
func loadEnvFiles() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		_ = godotenv.Load()
		return
	}

	configEnv := filepath.Join(homeDir, ".config", "nextedit", ".env")
	if _, err := os.Stat(configEnv); err == nil {
		_ = godotenv.Load(configEnv)
	}

	// Local .env can override
	_ = godotenv.Load()
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve", "start":
			runServer(os.Args[2:])
			return
		case "version", "-v", "--version":
			fmt.Printf("nextedit %s\n", Version)
			return
		case "help", "-h", "--help":
			printHelp()
			return
		}
	}

	runServer(os.Args[1:])
}

// resolveConfig resolves config bytes: user flag first, then standard
// filesystem locations.
func resolveConfig(userConfig string) ([]byte, string, error) {
	if userConfig != "" {
		data, err := os.ReadFile(userConfig)
		if err != nil {
			return nil, "", fmt.Errorf("config file not found: %s", userConfig)
		}
		return data, userConfig, nil
	}

	homeDir, _ := os.UserHomeDir()

	searchPaths := []string{}
	if homeDir != "" {
		searchPaths = append(searchPaths,
			filepath.Join(homeDir, ".config", "nextedit", "config.yaml"),
		)
	}
	searchPaths = append(searchPaths, "configs/config.yaml")

	for _, path := range searchPaths {
		if data, err := os.ReadFile(path); err == nil {
			return data, path, nil
		}
	}

	return nil, "", fmt.Errorf("no config file found. Specify --config path")
}

// runServer starts the prediction daemon.
func runServer(args []string) {
	loadEnvFiles()

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args) // ExitOnError handles errors

	configData, configSource, err := resolveConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, err := config.LoadFromBytes(configData)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg.Monitoring, *debug)

	log.Info().
		Str("version", Version).
		Str("config", configSource).
		Str("listen_addr", cfg.Server.ListenAddr).
		Str("backend_url", cfg.Backend.URL).
		Msg("nextedit daemon starting")

	// Interaction persistence, replayed into the monitor at startup so
	// debounce and aggressiveness survive restarts.
	st, err := openStore(cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open interaction store")
	}
	defer st.Close()

	mon := monitor.New(cfg.Policy)
	if err := store.Warm(st, mon, cfg.Store.WarmRows); err != nil {
		log.Warn().Err(err).Msg("failed to warm monitor from store")
	}

	tracker, err := monitoring.NewTracker(cfg.Monitoring.Telemetry)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}

	counter := tokenCounter()

	be := backend.NewWSClient(cfg.Backend)
	coord := coordinator.New(cfg.Coordinator, be, counter, mon, tracker)
	defer coord.Close()

	ws := workspace.NewMemory(64)

	srv := newServer(cfg, ws, coord, st)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}

	log.Info().Msg("nextedit daemon stopped")
}

// tokenCounter prefers exact BPE counting, falling back to the byte
// heuristic when the encoding cannot be loaded (e.g. offline first run).
func tokenCounter() budget.TokenCounter {
	counter, err := budget.TiktokenCounter()
	if err != nil {
		log.Warn().Err(err).Msg("tiktoken unavailable, using heuristic token counter")
		return budget.HeuristicCounter(4)
	}
	return counter
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Type {
	case "sqlite":
		return store.NewSQLiteStore(cfg.Path)
	default:
		return store.NewMemoryStore(), nil
	}
}

// setupLogging configures zerolog from the monitoring section. Console
// format only applies when the output is a terminal.
func setupLogging(mc config.MonitoringConfig, debug bool) {
	var out *os.File
	switch mc.LogOutput {
	case "stdout":
		out = os.Stdout
	case "stderr", "":
		out = os.Stderr
	default:
		f, err := os.OpenFile(mc.LogOutput, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot open log file %s: %v\n", mc.LogOutput, err)
			out = os.Stderr
		} else {
			out = f
		}
	}

	if mc.LogFormat == "console" && term.IsTerminal(int(out.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		})
	} else {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	}

	level := mc.LogLevel
	if debug {
		level = "debug"
	}
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func printHelp() {
	fmt.Println("nextedit - next edit prediction daemon")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  nextedit [command] [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  (none), serve    Start the prediction daemon (default)")
	fmt.Println("  version          Print version information")
	fmt.Println("  help             Show this help message")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -config FILE     Config file (default: ~/.config/nextedit/config.yaml)")
	fmt.Println("  -debug           Enable debug logging")
}
