// Taior Relay Server
// A relay node for the taior overlay: forwards opaque onion envelopes
// between registered peers, serves the bootstrap directory and exposes
// Prometheus metrics with health endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/taior/taior-go/internal/config"
	"github.com/taior/taior-go/internal/logging"
	"github.com/taior/taior-go/internal/metrics"
	"github.com/taior/taior-go/internal/ratelimit"
	"github.com/taior/taior-go/pkg/directory"
	"github.com/taior/taior-go/pkg/relay"
	"github.com/taior/taior-go/pkg/transport"
)

var (
	version   = "0.2.0"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	port := flag.Int("port", 0, "UDP relay port (overrides config)")
	withDirectory := flag.Bool("directory", false, "Also serve the bootstrap directory")
	flag.Parse()

	if *showVersion {
		fmt.Println("Taior Relay Server")
		fmt.Println("Version:", version)
		fmt.Println("Build Time:", buildTime)
		fmt.Println("Git Commit:", gitCommit)
		os.Exit(0)
	}

	// Load configuration
	cfg := config.DefaultConfig()
	if *configPath != "" {
		loadedCfg, err := config.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Failed to load configuration:", err)
			os.Exit(1)
		}
		cfg = loadedCfg
	}
	cfg.ApplyEnvironment()
	if *port != 0 {
		cfg.Relay.Port = *port
	}

	// Initialize logger
	log := logging.NewLogger(logging.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	log.Info().
		Str("version", version).
		Str("build_time", buildTime).
		Str("git_commit", gitCommit).
		Msg("Starting Taior Relay Server")

	m := metrics.NewPrometheusMetrics()
	health := metrics.NewHealthChecker(version)

	// Relay node (circuit-leg processing) and UDP relay fallback server.
	node := relay.NewNode(relay.DefaultNodeConfig(), nil, log, m)
	defer node.Stop()

	relayCfg := transport.DefaultRelayServerConfig()
	relayCfg.ListenAddr = fmt.Sprintf("%s:%d", cfg.Relay.Host, cfg.Relay.Port)
	relayCfg.MaxClients = cfg.Relay.MaxClients
	relayCfg.ClientTTL = cfg.Relay.ClientTTL
	relayCfg.CleanupInterval = cfg.Relay.CleanupInterval
	if cfg.Relay.RateLimit.Enabled {
		relayCfg.RateLimit = ratelimit.Config{
			RequestsPerSecond: cfg.Relay.RateLimit.RequestsPerSecond,
			BurstSize:         cfg.Relay.RateLimit.BurstSize,
			CleanupInterval:   cfg.Relay.RateLimit.CleanupInterval,
			BanDuration:       cfg.Relay.RateLimit.BanDuration,
			MaxViolations:     cfg.Relay.RateLimit.MaxViolations,
		}
	}

	relayServer := transport.NewRelayServer(relayCfg, nil, log, m)
	if err := relayServer.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start relay server")
	}
	health.Register(metrics.RelayLoadProbe(relayServer.ClientCount, relayCfg.MaxClients))

	// Optional bootstrap directory.
	var dirServer *directory.Server
	if *withDirectory {
		dirServer = directory.NewServer(directory.ServerConfig{
			Host:        cfg.Relay.Host,
			Port:        cfg.Relay.Port + 1,
			RegisterTTL: cfg.Directory.RegisterTTL,
		}, log, m)
		if err := dirServer.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start directory server")
		}
	}

	// Metrics and health endpoints.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, m.Handler())
		mux.HandleFunc(cfg.Metrics.HealthPath, health.HealthHandler())
		mux.HandleFunc(cfg.Metrics.ReadyPath, health.ReadinessHandler(func() bool { return true }))

		metricsServer = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Relay.Host, cfg.Metrics.Port),
			Handler: mux,
		}
		go func() {
			log.Info().Int("port", cfg.Metrics.Port).Msg("Metrics server started")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Relay.ShutdownTimeout)
	defer cancel()

	relayServer.Stop()
	if dirServer != nil {
		if err := dirServer.Stop(ctx); err != nil {
			log.Warn().Err(err).Msg("Directory shutdown error")
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Metrics shutdown error")
		}
	}

	log.Info().Msg("Shutdown complete")
}
