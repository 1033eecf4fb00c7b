package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/fedsearch/internal/config"
	"github.com/kailas-cloud/fedsearch/internal/domain/peer"
	logpkg "github.com/kailas-cloud/fedsearch/internal/logger"
	"github.com/kailas-cloud/fedsearch/internal/metrics"
	chiTransport "github.com/kailas-cloud/fedsearch/internal/transport/chi"
	"github.com/kailas-cloud/fedsearch/internal/transport/fhir"
	"github.com/kailas-cloud/fedsearch/internal/usecase/federation"
	healthuc "github.com/kailas-cloud/fedsearch/internal/usecase/health"
	"github.com/kailas-cloud/fedsearch/internal/version"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the federating HTTP proxy",
		RunE:  runServe,
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logpkg.NewLogger(envName, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting fedsearch",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", envName),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("base_path", cfg.HTTP.BasePath),
		zap.String("primary", cfg.Primary.BaseURL),
		zap.Int("peers", len(cfg.Peers)),
		zap.Strings("resource_types", cfg.Federation.ResourceTypes),
	)

	// Register federation metrics explicitly (no init())
	metrics.RegisterFederationMetrics()

	registry, err := cfg.Registry()
	if err != nil {
		return fmt.Errorf("build peer registry: %w", err)
	}
	primary, err := peer.New("primary", cfg.Primary.BaseURL, 0)
	if err != nil {
		return fmt.Errorf("primary: %w", err)
	}

	client := newFHIRClient(cfg, logger)
	federationSvc := newFederation(cfg, registry, client, logger)
	healthSvc := healthuc.New(client, primary.BaseURL(), registry.Peers())

	server, err := chiTransport.NewServer(federationSvc, client, healthSvc, primary, chiTransport.Options{
		BasePath:       cfg.HTTP.BasePath,
		TagSource:      cfg.Federation.TagSource,
		PrimaryTimeout: cfg.Primary.Timeout(),
	}, logger)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	router := chiTransport.NewRouter(server, chiTransport.RouterConfig{
		AllowedOrigins:    cfg.CORS.AllowedOrigins,
		CORSMaxAgeSec:     cfg.CORS.MaxAgeSec,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}, logger)

	for _, p := range registry.Peers() {
		logger.Info("Peer registered", zap.String("peer", p.Name()), zap.String("base_url", p.BaseURL()))
	}

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
	return nil
}

// newFHIRClient builds the outbound client shared by peers, primary and health checks.
func newFHIRClient(cfg config.Config, logger *zap.Logger) *fhir.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = cfg.Client.MaxIdleConnsPerHost

	return fhir.NewClient(fhir.Config{
		HTTPClient:   &http.Client{Transport: transport, Timeout: clientTimeout(cfg)},
		UserAgent:    version.UserAgent(cfg.Client.UserAgent),
		MaxBodyBytes: cfg.Client.MaxBodyBytes,
		Logger:       logger,
	})
}

// clientTimeout backstops every outbound call with the longest configured bound.
func clientTimeout(cfg config.Config) time.Duration {
	return max(cfg.Primary.Timeout(), cfg.Federation.PeerTimeout(), cfg.Federation.Deadline())
}

// newFederation assembles gate, translator and executor into the interception service.
func newFederation(
	cfg config.Config, registry *peer.Registry, searcher federation.PeerSearcher, logger *zap.Logger,
) *federation.Service {
	gate := federation.NewGate(cfg.Federation.ResourceTypes).
		WithInstanceReads(cfg.Federation.InstanceReads)
	translator := federation.NewTranslator(cfg.Federation.SingleValueParams)
	executor := federation.NewExecutor(searcher, cfg.Federation.PeerTimeout(), logger).
		WithDeadline(cfg.Federation.Deadline())

	return federation.New(registry, gate, translator, executor, logger)
}
