package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"vidrelay.app/relay/common/id"
	"vidrelay.app/relay/common/logger"
	"vidrelay.app/relay/common/otel"
	"vidrelay.app/relay/core/config"
	"vidrelay.app/relay/internal/claim"
	"vidrelay.app/relay/internal/delivery"
	"vidrelay.app/relay/internal/http/handler"
	"vidrelay.app/relay/internal/http/middleware"
	httprouter "vidrelay.app/relay/internal/http/router"
	"vidrelay.app/relay/internal/relay"
	"vidrelay.app/relay/internal/transport/telegram"
)

func main() {
	os.Exit(run())
}

func run() int {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeRelay)
	if err != nil {
		var cfgErr *config.Error
		if errors.As(err, &cfgErr) {
			for _, key := range cfgErr.Missing {
				fmt.Fprintf(os.Stderr, "missing required environment variable: %s\n", key)
			}
			for _, msg := range cfgErr.Invalid {
				fmt.Fprintf(os.Stderr, "invalid environment variable: %s\n", msg)
			}
		} else {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		}
		return 1
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		return 1
	}

	logCloser, err := logger.Setup(cfg)
	if err != nil {
		os.Stderr.WriteString("failed to initialize logger: " + err.Error() + "\n")
		return 1
	}
	defer logCloser.Close()

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.DebugContext(ctx, "otel disabled (no endpoint configured)")
	}

	if err := id.Init(id.MachineNode()); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		return 1
	}

	slog.InfoContext(ctx, "video relay starting",
		"env", cfg.Env,
		"service", cfg.OTel.ServiceName,
		"max_retries", cfg.Delivery.MaxAttempts,
		"retry_delay", cfg.Delivery.BaseDelay)

	var opts []relay.Option
	claimCloser, claimer, err := setupClaimer(ctx, cfg.Claim)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		return 1
	}
	if claimer != nil {
		defer claimCloser.Close()
		opts = append(opts, relay.WithClaimer(claimer))
	}

	tgClient := telegram.New(cfg.Telegram)
	engine := delivery.New(tgClient, delivery.Config{
		MaxAttempts:                cfg.Delivery.MaxAttempts,
		BaseDelay:                  cfg.Delivery.BaseDelay,
		ServerWaitsConsumeAttempts: cfg.Delivery.ServerWaitsConsumeAttempts,
		MaxServerWait:              cfg.Delivery.MaxServerWait,
		RequestTimeout:             cfg.Delivery.RequestTimeout,
		RatePerMinute:              cfg.Delivery.RatePerMinute,
	})
	controller := relay.New(tgClient, engine, relay.Config{
		Source:               cfg.Channels.Source,
		Destination:          cfg.Channels.Destination,
		Concurrency:          cfg.Dispatch.Concurrency,
		QueueSize:            cfg.Dispatch.QueueSize,
		VerifyPostPermission: cfg.Dispatch.VerifyPostPermission,
	}, opts...)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRouter(cfg, controller),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "http server error", "error", err)
		}
	}()

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-runCtx.Done()
		// A second signal falls through to the default handler and kills the process.
		stop()
	}()

	exitCode := 0
	if err := controller.Run(runCtx); err != nil {
		slog.ErrorContext(ctx, "relay exited with error", "error", err)
		exitCode = 1
	}
	stop()

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete", "exit_code", exitCode)
	return exitCode
}

func setupClaimer(ctx context.Context, cfg config.ClaimConfig) (io.Closer, claim.Claimer, error) {
	if !cfg.Enabled() {
		return nil, nil, nil
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("pinging redis: %w", err)
	}

	instance := id.InstanceID()
	slog.InfoContext(ctx, "redis connected, cross-instance claims enabled",
		"instance", instance,
		"ttl", cfg.TTL)

	return client, claim.NewRedisClaimer(client, instance, cfg.TTL), nil
}

func setupRouter(cfg config.Config, controller *relay.Controller) *gin.Engine {
	router := gin.New()

	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Logger(httprouter.ProbePaths...))
	router.Use(middleware.Recovery(func() string {
		return controller.State().String()
	}))

	httprouter.SetupRoutes(router, handler.NewStatusHandler(controller))

	return router
}

const banner = `
██╗   ██╗██╗██████╗ ███████╗ ██████╗     ██████╗ ███████╗██╗      █████╗ ██╗   ██╗
██║   ██║██║██╔══██╗██╔════╝██╔═══██╗    ██╔══██╗██╔════╝██║     ██╔══██╗╚██╗ ██╔╝
██║   ██║██║██║  ██║█████╗  ██║   ██║    ██████╔╝█████╗  ██║     ███████║ ╚████╔╝
╚██╗ ██╔╝██║██║  ██║██╔══╝  ██║   ██║    ██╔══██╗██╔══╝  ██║     ██╔══██║  ╚██╔╝
 ╚████╔╝ ██║██████╔╝███████╗╚██████╔╝    ██║  ██║███████╗███████╗██║  ██║   ██║
  ╚═══╝  ╚═╝╚═════╝ ╚══════╝ ╚═════╝     ╚═╝  ╚═╝╚══════╝╚══════╝╚═╝  ╚═╝   ╚═╝
`
