package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"meshcall/internal/infrastructure/distributed"
	"meshcall/internal/infrastructure/middleware"
	"meshcall/internal/infrastructure/monitoring"
	signalrelay "meshcall/internal/infrastructure/signal"
	"meshcall/pkg/config"
	"meshcall/pkg/logger"
	"meshcall/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerEndpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	collector := monitoring.NewCollector()

	var presence *distributed.PresenceBus
	if cfg.Presence.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Presence.Address,
			Password: cfg.Presence.Password,
			DB:       cfg.Presence.DB,
			PoolSize: cfg.Presence.PoolSize,
		})
		defer redisClient.Close()

		presence = distributed.NewPresenceBus(redisClient, cfg.Presence.Channel, zapLogger)
		defer presence.Close()
		log.Infow("presence bus enabled", "channel", cfg.Presence.Channel, "instance_id", presence.InstanceID())
	}

	relayCfg := signalrelay.RelayConfig{
		ReadTimeout:    cfg.Relay.ReadTimeout,
		WriteTimeout:   cfg.Relay.WriteTimeout,
		PingInterval:   cfg.Relay.PingInterval,
		PongTimeout:    cfg.Relay.PongTimeout,
		MaxMessageSize: cfg.RateLimiting.MaxMessageSizeBytes,
	}
	if cfg.RateLimiting.Enabled {
		relayCfg.MessagesPerSecond = cfg.RateLimiting.MessagesPerSecond
		relayCfg.Burst = cfg.RateLimiting.Burst
	}

	var presencePublisher signalrelay.PresencePublisher
	if presence != nil {
		presencePublisher = presence
	}
	relay := signalrelay.NewRelay(relayCfg, collector, presencePublisher, zapLogger)

	routerCfg := signalrelay.RouterConfig{
		AuthEnabled:    cfg.Auth.Enabled,
		MetricsEnabled: cfg.Monitoring.PrometheusEnabled,
		MetricsPath:    cfg.Monitoring.MetricsPath,
		TracingEnabled: cfg.Tracing.Enabled,
	}
	if cfg.Auth.Enabled {
		routerCfg.Tokens = middleware.NewRoomTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	}
	if cfg.RateLimiting.Enabled {
		routerCfg.ConnectionsPerMinute = cfg.RateLimiting.ConnectionsPerMinute
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := signalrelay.NewRouter(relay, routerCfg)

	srv := &http.Server{
		Addr:         cfg.Relay.Address,
		Handler:      router,
		ReadTimeout:  cfg.Relay.ReadTimeout,
		WriteTimeout: cfg.Relay.WriteTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if presence != nil {
		go func() {
			err := presence.Subscribe(ctx, func(event *distributed.PresenceEvent) {
				log.Infow("remote presence event",
					"type", event.Type,
					"room", event.Room,
					"participant_id", event.ParticipantID,
					"instance_id", event.InstanceID,
				)
			})
			if err != nil && ctx.Err() == nil {
				log.Errorw("presence subscription ended", "error", err)
			}
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting relay", "address", cfg.Relay.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("relay failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Relay.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("graceful shutdown failed", "error", err)
		srv.Close()
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Errorw("tracer shutdown failed", "error", err)
	}

	log.Info("relay stopped")
}
