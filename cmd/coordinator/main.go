package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/telemeet/sfu-coordinator/coordinator/registry"
	"github.com/telemeet/sfu-coordinator/coordinator/signal"
	"github.com/telemeet/sfu-coordinator/coordinator/transport"
	"github.com/telemeet/sfu-coordinator/engine"
	"github.com/telemeet/sfu-coordinator/internal/config"
	"github.com/telemeet/sfu-coordinator/internal/httputil"
	"github.com/telemeet/sfu-coordinator/internal/jwt"
	"github.com/telemeet/sfu-coordinator/internal/log"
	"github.com/telemeet/sfu-coordinator/internal/otel"
	"github.com/telemeet/sfu-coordinator/internal/retry"
	"github.com/telemeet/sfu-coordinator/internal/workflow"
)

type Config struct {
	App       config.App      `mapstructure:"app"`
	WSHttp    httputil.Config `mapstructure:"ws_http"`
	AdminHttp httputil.Config `mapstructure:"admin_http"`
	Engine    engine.Config   `mapstructure:"engine"`
	Otel      otel.Config     `mapstructure:"otel"`

	JWTSecret string `mapstructure:"jwt_secret"`

	// codec config handed to the engine on router creation, opaque here
	MediaCodecs string `mapstructure:"media_codecs"`

	RouterRetryInitial    time.Duration `mapstructure:"router_retry_initial"`
	RouterRetryMax        time.Duration `mapstructure:"router_retry_max"`
	RouterRetryMaxElapsed time.Duration `mapstructure:"router_retry_max_elapsed"`

	ConnectRatePerMin int `mapstructure:"connect_rate_per_min"`
	ConnectBurst      int `mapstructure:"connect_burst"`

	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func loadConfig() (*Config, error) {
	return config.Load(&Config{}, func(v *viper.Viper) {
		v.SetDefault("jwt_secret", "MY-secret-key-change-in-production")
		v.SetDefault("media_codecs", `{"codecs":[{"kind":"audio","mimeType":"audio/opus","clockRate":48000,"channels":2},{"kind":"video","mimeType":"video/VP8","clockRate":90000}]}`)
		v.SetDefault("router_retry_initial", "200ms")
		v.SetDefault("router_retry_max", "2s")
		v.SetDefault("router_retry_max_elapsed", "10s")
		v.SetDefault("connect_rate_per_min", 30)
		v.SetDefault("connect_burst", 10)
		v.SetDefault("allowed_origins", []string{"*"})

		config.Setup(v, "app")
		otel.Setup(v, "otel")
		engine.Setup(v, "engine")
		httputil.Setup(v, "ws_http")
		httputil.Setup(v, "admin_http")

		// override default addrs to ease testing
		v.SetDefault("ws_http.addr", "0.0.0.0:8081")
		v.SetDefault("admin_http.addr", "0.0.0.0:8082")
	})
}

func main() {
	config, err := loadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration", err)
	}

	logger, err := log.NewLogger(config.App.LogConfigFile)
	if err != nil {
		log.Fatal("Failed to create logger", err)
	}
	defer func() { _ = logger.Sync() }()

	if !json.Valid([]byte(config.MediaCodecs)) {
		logger.Fatal("media_codecs is not valid JSON")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry
	otelShutdown, err := otel.Init(ctx, &config.Otel, logger)
	if err != nil {
		logger.Fatal("Failed to initialize OTEL provider", log.Error(err))
	}

	logger.Info("Starting SFU coordinator...")

	engineAPI := engine.New(config.Engine.BaseURL, logger.Module("Engine"))
	if err := engineAPI.Ping(ctx); err != nil {
		logger.Fatal("Media engine unreachable", log.Error(err))
	}

	engineDown := false
	watcher := engine.NewHealthWatcher(
		engineAPI,
		config.Engine.PingInterval,
		config.Engine.MaxPingFailures,
		logger.Module("EngineWatch"),
	)
	watcher.SetOnDown(func(reason string) {
		// active rooms cannot survive the engine; shut down and let the
		// orchestrator restart us against a healthy one
		logger.Error("Media engine declared down, shutting down",
			log.String("reason", reason))
		engineDown = true
		cancel()
	})

	jwtAuth := jwt.NewAuth(config.JWTSecret)

	routerRetry := retry.New(
		logger.Module("RouterRetry"),
		config.RouterRetryInitial,
		config.RouterRetryMax,
		config.RouterRetryMaxElapsed,
	)
	reg := registry.New(
		engineAPI,
		json.RawMessage(config.MediaCodecs),
		routerRetry,
		logger,
	)

	connMgr := signal.NewConnManager(logger)
	connGuard := signal.NewConnGuard(
		rate.Limit(float64(config.ConnectRatePerMin)/60.0),
		config.ConnectBurst,
	)

	hook := signal.NewWSHook(
		connGuard,
		jwtAuth,
		logger.Module("WSHook"),
	)
	wsRPCServer := signal.NewWSServer(
		hook,
		config.AllowedOrigins,
		logger.Module("WSRPC"),
	)
	signalServer := signal.NewServer(
		wsRPCServer,
		reg,
		connMgr,
		logger.Module("Signal"),
	)
	hook.BindServer(signalServer)

	if err := signalServer.Open(ctx); err != nil {
		logger.Fatal("Failed to open signal server", log.Error(err))
	}
	watcher.Start(ctx)

	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/ws", wsRPCServer.HandleWebSocket)
	wsServer := httputil.NewServer(&config.WSHttp, wsMux)

	adminRouter := transport.NewRouter(
		engineAPI,
		reg,
		config.AllowedOrigins,
		logger.Module("Admin"),
	)
	adminServer := httputil.NewServer(&config.AdminHttp, adminRouter.Handler())

	go func() {
		logger.Info("Starting WebSocket server", log.String("addr", config.WSHttp.Addr))
		if err := wsServer.Listen(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start WebSocket server", log.Error(err))
		}
	}()
	go func() {
		logger.Info("Starting admin server", log.String("addr", config.AdminHttp.Addr))
		if err := adminServer.Listen(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start admin server", log.Error(err))
		}
	}()

	// Graceful shutdown
	cleanup := func(ctx context.Context) {
		_ = wsServer.Shutdown(ctx)
		_ = adminServer.Shutdown(ctx)

		watcher.Stop()
		_ = signalServer.Close()

		if err := otelShutdown(ctx); err != nil {
			logger.Error("Failed to shutdown OTEL", log.Error(err))
		}
	}
	workflow.WaitGracefulShutdown(ctx, logger.Module("CleanUp"), cleanup, config.App.ShutdownTimeout)

	if engineDown {
		os.Exit(1)
	}
}
