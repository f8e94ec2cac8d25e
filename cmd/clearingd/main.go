package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"optionclear/config"
	"optionclear/core"
	"optionclear/core/eventstore"
	"optionclear/observability"
	"optionclear/observability/logging"
	telemetry "optionclear/observability/otel"
	"optionclear/rpc"
	"optionclear/storage"
)

const (
	envName         = "CLEARING_ENV"
	shutdownTimeout = 10 * time.Second
)

func main() {
	configFile := flag.String("config", "./clearing.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a YAML genesis file (overrides config GenesisFile)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	env := strings.TrimSpace(os.Getenv(envName))
	if env == "" {
		env = cfg.Environment
	}
	logger, err := logging.SetupWithOptions("clearingd", env, cfg.Logging.Options())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure logging: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, resolveGenesisPath(*genesisFlag, cfg.GenesisFile), logger); err != nil {
		logger.Error("clearingd stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// resolveGenesisPath prefers the command line over the config file.
func resolveGenesisPath(flagValue, configValue string) string {
	if trimmed := strings.TrimSpace(flagValue); trimmed != "" {
		return trimmed
	}
	return strings.TrimSpace(configValue)
}

// eventDSN defaults the journal to a SQLite file inside the data directory.
func eventDSN(cfg *config.Config) string {
	if dsn := strings.TrimSpace(cfg.EventDSN); dsn != "" {
		return dsn
	}
	return filepath.Join(cfg.DataDir, "events.db")
}

func run(cfg *config.Config, genesisPath string, logger *slog.Logger) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("prepare data directory: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	journal, err := eventstore.Open(eventDSN(cfg))
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("open event journal: %w", err)
	}
	defer journal.Close()
	journal.SetLogger(logger)

	host, err := core.NewClearinghouse(db, core.Config{
		Params: cfg.Clearing.Params(),
		Fees:   cfg.Fees,
	},
		core.WithLogger(logger),
		core.WithEventSink(journal),
		core.WithMetrics(observability.Clearing()),
	)
	if err != nil {
		_ = db.Close()
		return err
	}
	defer func() {
		if err := host.Close(); err != nil {
			logger.Error("close state database", slog.Any("error", err))
		}
	}()

	if genesisPath != "" {
		if err := applyGenesis(host, genesisPath, logger); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracing := cfg.Telemetry.Tracing
	if tracing || cfg.Telemetry.Metrics {
		shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName: "clearingd",
			Environment: cfg.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      tracing,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdownTelemetry(flushCtx); err != nil {
				logger.Error("telemetry shutdown failed", slog.Any("error", err))
			}
		}()
	}

	server := rpc.NewServer(host, journal, rpc.ServerConfig{
		AuthToken: cfg.RPCToken,
		JWT: rpc.JWTConfig{
			HMACSecret: cfg.JWTSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  time.Duration(cfg.Auth.ClockSkewSeconds) * time.Second,
		},
		RateLimit: rpc.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		MutatingRateLimit: rpc.RateLimit{
			RequestsPerMinute: cfg.RateLimit.MutatingPerMinute,
			Burst:             cfg.RateLimit.MutatingBurst,
		},
		Tracing: tracing,
		Logger:  logger,
	})
	if cfg.JWTSecret == "" {
		logger.Warn("caller RPC methods disabled", "secretEnv", config.JWTSecretEnv)
	}
	if cfg.RPCToken == "" {
		logger.Warn("operator RPC methods need a caller token", "tokenEnv", config.RPCTokenEnv)
	}

	listener, err := net.Listen("tcp", cfg.RPCAddress)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.RPCAddress, err)
	}
	errCh := make(chan error, 2)
	go func() {
		errCh <- server.Serve(listener)
	}()

	var metricsServer *http.Server
	if addr := strings.TrimSpace(cfg.MetricsAddress); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("metrics server listening", "address", addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful rpc shutdown failed", slog.Any("error", err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful metrics shutdown failed", slog.Any("error", err))
		}
	}
	return serveErr
}

func applyGenesis(host *core.Clearinghouse, path string, logger *slog.Logger) error {
	genesis, err := config.LoadGenesis(path)
	if err != nil {
		return err
	}
	allocs := genesis.Allocations()
	credits := make([]core.Allocation, 0, len(allocs))
	for _, alloc := range allocs {
		credits = append(credits, core.Allocation{Asset: alloc.Asset, Holder: alloc.Holder, Amount: alloc.Amount})
	}
	applied, err := host.ApplyGenesis(context.Background(), credits)
	if err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	if !applied {
		logger.Info("genesis already applied", "genesis", path)
		return nil
	}
	logger.Info("genesis applied", "assets", len(genesis.Assets), "allocations", len(credits))
	return nil
}
