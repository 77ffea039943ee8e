package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agen-co/agenshield/internal/adapter/inbound/proxy"
	"github.com/agen-co/agenshield/internal/adapter/inbound/rpc"
	"github.com/agen-co/agenshield/internal/adapter/outbound/memory"
	"github.com/agen-co/agenshield/internal/adapter/outbound/sqlite"
	"github.com/agen-co/agenshield/internal/config"
	"github.com/agen-co/agenshield/internal/domain/event"
	"github.com/agen-co/agenshield/internal/domain/graph"
	"github.com/agen-co/agenshield/internal/domain/policy"
	"github.com/agen-co/agenshield/internal/domain/sandbox"
	"github.com/agen-co/agenshield/internal/service"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	Long: `Start the AgenShield policy daemon.

The daemon serves JSON-RPC on server.rpc_addr (default 127.0.0.1:47850)
and spawns per-exec egress proxies on loopback as commands are approved.

Examples:
  # Start with config file settings
  agenshield start

  # Start with a specific config file
  agenshield --config /path/to/config.yaml start

  # Start in development mode (default allow, debug logging)
  agenshield start --dev`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging, default allow)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load configuration (without validation, so CLI flags can override first)
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// Create signal context for graceful shutdown.
	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop() // Restore default: next Ctrl+C = immediate exit.
	}()

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	// Write PID file so "agenshield stop" can find us.
	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("agenshield stopped")
	return nil
}

// run wires all components together and blocks until shutdown.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.DevMode {
		logger.Warn("development mode enabled: default action is allow, do not use in production")
	}

	// Storage: sqlite when a path is configured, in-memory otherwise.
	var (
		policyStore  policy.Store
		profileStore policy.ProfileStore
		graphStore   graph.Store
		secretStore  graph.SecretStore
	)
	if cfg.Storage.Path != "" {
		if err := os.MkdirAll(cfg.StoragePathDir(), 0o755); err != nil {
			return fmt.Errorf("create storage directory: %w", err)
		}
		db, err := sqlite.Open(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer func() { _ = db.Close() }()
		logger.Info("storage opened", "path", cfg.Storage.Path)

		policyStore = db
		profileStore = db
		graphStore = db
		secretStore = db
	} else {
		logger.Info("no storage path configured, using in-memory stores")
		policyStore = memory.NewPolicyStore()
		profileStore = memory.NewProfileStore()
		graphStore = memory.NewGraphStore()
		secretStore = memory.NewSecretStore()
	}

	seeded, err := seedPolicies(ctx, cfg, policyStore, logger)
	if err != nil {
		return fmt.Errorf("seed policies: %w", err)
	}
	if seeded > 0 {
		logger.Info("seeded policies", "count", seeded)
	}

	bus := event.NewBus()
	defer bus.Close()

	evaluator := graph.NewEvaluator(graphStore, secretStore, logger)

	builder := sandbox.NewBuilder(sandbox.Config{
		AgentHome:      cfg.AgentHome,
		ShieldBinDir:   cfg.ShieldBinDir,
		UserHome:       userHome(),
		BrokerHTTPPort: cfg.Broker.HTTPPort,
	}, nil, logger)

	pool := proxy.NewPool(cfg.ProxyPool.MaxConcurrent, cfg.ProxyPool.IdleTimeoutDuration(), bus, logger)
	defer pool.Shutdown()

	defaultAction := func() policy.Action { return policy.Action(cfg.DefaultAction) }
	decisions := service.NewDecisionService(
		policyStore, graphStore, evaluator, builder, pool, bus, defaultAction, logger,
	)
	tokens := service.NewTokenCache(profileStore)

	server := rpc.NewServer(decisions, tokens, bus,
		rpc.WithAddr(cfg.Server.RPCAddr),
		rpc.WithLogger(logger),
		rpc.WithPoolSizeFunc(pool.Size),
	)

	logger.Info("agenshield daemon ready",
		"rpc_addr", cfg.Server.RPCAddr,
		"default_action", cfg.DefaultAction,
		"proxy_pool_max", cfg.ProxyPool.MaxConcurrent,
	)

	return server.Start(ctx)
}

// seedPolicies loads the config and policy-file seed policies into an
// empty store. A store that already holds policies wins: seeding is
// skipped so operator edits survive restarts.
func seedPolicies(ctx context.Context, cfg *config.Config, store policy.Store, logger *slog.Logger) (int, error) {
	existing, err := store.GetEnabled(ctx, "")
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		logger.Debug("policy store already populated, skipping seed", "policies", len(existing))
		return 0, nil
	}

	seeds := make([]policy.Policy, 0, len(cfg.Policies))
	for _, pc := range cfg.Policies {
		seeds = append(seeds, pc.ToPolicy())
	}
	if cfg.PolicyFile != "" {
		filePolicies, err := config.LoadPolicyFile(cfg.PolicyFile)
		if err != nil {
			return 0, err
		}
		seeds = append(seeds, filePolicies...)
	}

	for i := range seeds {
		if err := store.Save(ctx, &seeds[i]); err != nil {
			return 0, fmt.Errorf("save seed policy %q: %w", seeds[i].ID, err)
		}
	}
	return len(seeds), nil
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func userHome() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return ""
}

// pidFilePath returns the standard location for the daemon PID file.
func pidFilePath() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".agenshield", "daemon.pid")
	}
	return filepath.Join(os.TempDir(), "agenshield-daemon.pid")
}

// writePIDFile writes the current process PID to the given path, creating
// parent directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

// readPIDFile reads a PID from the given file path. Returns 0 if unreadable.
func readPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
