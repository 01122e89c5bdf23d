package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"playlink/internal/core/domain"
	"playlink/internal/core/services"
	"playlink/internal/infrastructure/middleware"
	"playlink/internal/infrastructure/monitoring"
	signaling "playlink/internal/infrastructure/signal"
	"playlink/pkg/config"
	"playlink/pkg/logger"
	"playlink/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
)

var configPaths = []string{
	"configs/config.yaml",
	"./configs/config.yaml",
	"config.yaml",
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		address    string
		issueRoom  string
		issueRole  string
	)

	flagSet := pflag.NewFlagSet("playlink-relay", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	flagSet.StringVar(&address, "address", "", "listen address (overrides relay.address)")
	flagSet.StringVar(&issueRoom, "issue-token", "", "print a token for this room and exit (requires relay.jwt_secret)")
	flagSet.StringVar(&issueRole, "issue-role", string(domain.RoleClient), "role granted by --issue-token")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if address != "" {
		cfg.Relay.Address = address
	}

	if issueRoom != "" {
		return issueToken(cfg, issueRoom, issueRole)
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.FromConfig(cfg, "relay"))
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	relayMetrics := monitoring.NewRelayCollector(registry)

	var authService services.AuthService
	var guards []gin.HandlerFunc
	if cfg.Relay.JWTSecret != "" {
		authService = services.NewAuthService(cfg.Relay.JWTSecret, cfg.Relay.TokenTTL)
		guards = append(guards, middleware.AuthMiddleware(authService))
		log.Info("relay token auth enabled")
	}

	wsServer := signaling.NewWebSocketServer(signaling.RelayOptionsFromConfig(cfg), authService, relayMetrics, zapLogger)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.ErrorHandlerMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.NewHTTPRateLimitMiddleware(cfg.Relay.ConnectsPerSecond, cfg.Relay.ConnectBurst),
	)
	wsServer.SetupRoutes(router, guards...)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	srv := &http.Server{
		Addr:              cfg.Relay.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting playlink relay on %s", cfg.Relay.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("relay server failed: %w", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down playlink relay...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Relay.ShutdownTimeout)
	defer shutdownCancel()

	// hijacked websocket connections are not tracked by the http server
	wsServer.Shutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracing", "error", err)
	}

	log.Info("playlink relay stopped")
	return nil
}

func issueToken(cfg *config.Config, room, role string) error {
	if cfg.Relay.JWTSecret == "" {
		return errors.New("relay.jwt_secret (or PLAYLINK_JWT_SECRET) is required to issue tokens")
	}
	parsed, err := domain.ParseRelayRole(role)
	if err != nil {
		return err
	}
	token, err := services.NewAuthService(cfg.Relay.JWTSecret, cfg.Relay.TokenTTL).GenerateToken(room, parsed)
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}
	fmt.Println(token)
	return nil
}

// loadConfig reads path when given, otherwise the first of the default
// locations that loads, falling back to defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	for _, candidate := range configPaths {
		if cfg, err := config.Load(candidate); err == nil {
			return cfg, nil
		}
	}
	return config.DefaultConfig(), nil
}
