package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"playlink/internal/core/domain"
	"playlink/internal/core/ports"
	"playlink/internal/core/services"
	"playlink/internal/infrastructure/monitoring"
	signaling "playlink/internal/infrastructure/signal"
	webrtcinfra "playlink/internal/infrastructure/webrtc"
	"playlink/internal/input"
	"playlink/pkg/config"
	"playlink/pkg/logger"
	"playlink/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
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
		url        string
		token      string
		noInput    bool
	)

	flagSet := pflag.NewFlagSet("playlink-client", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	flagSet.StringVar(&url, "url", "", "signaling relay URL (overrides signaling.url)")
	flagSet.StringVar(&token, "token", "", "bearer token for the relay (overrides signaling.auth_token)")
	flagSet.BoolVar(&noInput, "no-input", false, "do not read input events from stdin")
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
	if url != "" {
		cfg.Signaling.URL = url
	}
	if token != "" {
		cfg.Signaling.AuthToken = token
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format).
		With(zap.String("instance_id", uuid.NewString()))
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	capture, err := input.NewCapture(cfg.Input.Width, cfg.Input.Height, zapLogger)
	if err != nil {
		return err
	}

	tp, err := tracing.Init(tracing.FromConfig(cfg, ""))
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	registry := prometheus.NewRegistry()
	telemetry := monitoring.NewSessionCollector(registry)

	transportOpts := signaling.TransportOptionsFromConfig(cfg)
	transportOpts.AutoReconnect = false
	newTransport := func(handler ports.SignalingEvents) ports.SignalingTransport {
		return signaling.NewTransport(transportOpts, handler, zapLogger, telemetry)
	}
	newPeer := webrtcinfra.NewPeerFactory(webrtcinfra.OptionsFromConfig(cfg), zapLogger, telemetry)

	controller := services.NewSessionController(
		services.ControllerOptions{
			ICEServers:      webrtcinfra.ICEServersFromConfig(cfg.WebRTC.ICEServers),
			ReconnectDelay:  cfg.Signaling.ReconnectDelay,
			MetricsInterval: cfg.Metrics.Interval,
		},
		newTransport,
		newPeer,
		services.NewMetricsService(services.NewQualityService()),
		telemetry,
		zapLogger,
	)

	lastLabel := domain.ConnectivityLabel("")
	controller.OnStatus(func(status domain.Status) {
		if status.Label != lastLabel {
			lastLabel = status.Label
			log.Infow("connectivity", "label", status.Label, "state", status.State.String(), "generation", status.Generation.String())
		}
	})
	controller.OnTrack(func(track ports.MediaTrack) {
		go drainTrack(track, log)
	})

	health := monitoring.NewHealthChecker()
	health.AddSessionCheck(controller.Status)

	var monitorSrv *http.Server
	if cfg.Monitoring.PrometheusEnabled {
		monitorSrv = startMonitoring(cfg.Monitoring.Address, registry, health, controller, log)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() {
		runErr <- controller.Run(ctx)
	}()

	log.Infow("Starting playlink client", "signaling_url", cfg.Signaling.URL)
	if err := controller.Start(); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	if !noInput {
		go forwardInput(ctx, os.Stdin, capture, controller, log)
	}

	<-ctx.Done()
	log.Info("Shutting down playlink client...")

	if err := <-runErr; err != nil {
		log.Errorw("session controller failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if monitorSrv != nil {
		if err := monitorSrv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("Error shutting down monitoring server", "error", err)
		}
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracing", "error", err)
	}

	log.Info("playlink client stopped")
	return nil
}

// drainTrack keeps reading the remote video so the media tap counts frames.
// It returns once the track ends with its peer connection.
func drainTrack(track ports.MediaTrack, log *zap.SugaredLogger) {
	log.Infow("receiving remote track", "track_id", track.ID(), "mime_type", track.MimeType())
	for {
		if _, err := track.ReadRTP(); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debugw("remote track ended", "track_id", track.ID(), "error", err)
			}
			return
		}
	}
}

// forwardInput reads one JSON local event per line and forwards what the
// capture policy lets through.
func forwardInput(ctx context.Context, r io.Reader, capture *input.Capture, controller *services.SessionController, log *zap.SugaredLogger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var local input.LocalEvent
		if err := json.Unmarshal(line, &local); err != nil {
			log.Warnw("dropping unreadable input line", "error", err)
			continue
		}

		ev, decision := capture.Handle(local)
		switch decision {
		case input.Forward:
			controller.SendInput(ev)
		case input.ToggleFullscreen:
			capture.SetFullscreen(!capture.Fullscreen())
			log.Infow("fullscreen toggled", "fullscreen", capture.Fullscreen())
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warnw("stopped reading input", "error", err)
	}
}

func startMonitoring(addr string, registry *prometheus.Registry, health *monitoring.HealthChecker, controller *services.SessionController, log *zap.SugaredLogger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	router.GET("/health", health.HealthHandler)
	router.GET("/ready", health.ReadyHandler)
	router.GET("/status", func(c *gin.Context) {
		s := controller.Status()
		c.JSON(http.StatusOK, gin.H{
			"state":      s.State.String(),
			"label":      s.Label,
			"generation": uint64(s.Generation),
			"fps":        s.Metrics.FPS,
			"latency_ms": s.Metrics.LatencyMs,
			"quality":    s.Metrics.QualityLabel,
			"bitrate":    s.Metrics.BitrateLabel,
		})
	})

	srv := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Infof("Serving metrics on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("monitoring server failed", "error", err)
		}
	}()
	return srv
}

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
