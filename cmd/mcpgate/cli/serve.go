package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/plebmarket/mcpgate/internal/config"
	"github.com/plebmarket/mcpgate/internal/market"
	"github.com/plebmarket/mcpgate/internal/mcp"
	"github.com/plebmarket/mcpgate/internal/metrics"
	"github.com/plebmarket/mcpgate/internal/nostrauth"
	"github.com/plebmarket/mcpgate/internal/ratelimit"
	"github.com/plebmarket/mcpgate/internal/server"
	"github.com/plebmarket/mcpgate/internal/service"
)

const banner = `
                                   _
  _ __ ___   ___ _ __   __ _  __ _| |_ ___
 | '_ ' _ \ / __| '_ \ / _' |/ _' | __/ _ \
 | | | | | | (__| |_) | (_| | (_| | ||  __/
 |_| |_| |_|\___| .__/ \__, |\__,_|\__\___|
                |_|    |___/
`

func newServeCmd() *cobra.Command {
	var dev bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP gateway",
		Long:  "Start the HTTP server that exposes the MCP endpoint, the key management API and the status page.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(dev)
		},
	}

	cmd.Flags().IntP("port", "p", 8080, "HTTP listen port")
	cmd.Flags().String("host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().String("public-url", "", "Public base URL advertised to agents (default http://host:port)")
	cmd.Flags().String("market-url", "", "Marketplace base URL")
	cmd.Flags().Bool("require-signed-event", false, "Require a signed Nostr auth event for key management")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))
	viper.BindPFlag("server.public_url", cmd.Flags().Lookup("public-url"))
	viper.BindPFlag("market.base_url", cmd.Flags().Lookup("market-url"))
	viper.BindPFlag("auth.require_signed_event", cmd.Flags().Lookup("require-signed-event"))

	return cmd
}

func runServe(dev bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Print(banner)
	fmt.Println()

	logger, logCloser := config.NewLogger(cfg.Log, dev, os.Stderr)
	defer logCloser.Close()

	// 1. Key store
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	logger.Info("key store ready", "driver", st.Driver())
	keys := service.NewKeyService(st, logger)

	// 2. Signed auth events
	var replay *nostrauth.ReplayCache
	if cfg.Auth.ReplayProtection {
		replay = nostrauth.NewReplayCache()
	}
	verifier := nostrauth.NewVerifier(cfg.Auth.EventWindow, replay)
	gate := service.NewEventGate(verifier, cfg.Auth.RequireSignedEvent)

	// 3. Onboarding limiter
	onboard, err := newOnboardLimiter(cfg.RateLimit, logger)
	if err != nil {
		st.Close()
		return err
	}

	// 4. Marketplace client
	var mkt *market.Client
	if cfg.Market.BaseURL != "" {
		mkt, err = market.New(cfg.Market.BaseURL, market.Options{
			Timeout:           cfg.Market.Timeout,
			RequestsPerSecond: cfg.Market.RequestsPerSecond,
			Burst:             cfg.Market.Burst,
		})
		if err != nil {
			st.Close()
			return err
		}
	} else {
		logger.Warn("no marketplace configured, tools will serve cached data only")
	}

	// 5. Metrics and the MCP gateway
	registry := mcp.NewRegistry()
	var observers []metrics.Option
	var prom *metrics.Prometheus
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus(registry.Len)
		observers = append(observers, metrics.WithObserver(prom))
	}
	recorder := metrics.NewRecorder(observers...)

	gateway := mcp.New(mcp.Config{
		Name:         "mcpgate",
		Version:      versionString(),
		Keys:         keys,
		Registry:     registry,
		Market:       mkt,
		Store:        st,
		Metrics:      recorder,
		Logger:       logger,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})

	// 6. HTTP server
	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		PublicURL:       cfg.Server.BaseURL(),
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
		MaxBodySize:     cfg.Server.MaxBodyBytes,
		APIRateLimit:    cfg.RateLimit.APIPerMinute,
		MCPRateLimit:    cfg.RateLimit.MCPPerMinute,
		MetricsPath:     cfg.Metrics.Path,
		Version:         versionString(),
	}
	srv := server.New(srvCfg, server.Deps{
		Store:      st,
		Keys:       keys,
		Gate:       gate,
		Onboard:    onboard,
		Gateway:    gateway,
		Recorder:   recorder,
		Prometheus: prom,
		Market:     mkt,
	}, logger)

	base := cfg.Server.BaseURL()
	fmt.Printf("→ mcpgate %s\n", versionString())
	fmt.Printf("→ Listening on %s\n", cfg.Server.ListenAddr())
	fmt.Printf("→ MCP:        %s/mcp\n", base)
	fmt.Printf("→ OpenAPI:    %s/openapi.json\n", base)
	fmt.Printf("→ Health:     %s/healthz\n", base)
	if cfg.Metrics.Enabled {
		fmt.Printf("→ Metrics:    %s%s\n", base, cfg.Metrics.Path)
	}
	fmt.Println()

	return srv.ListenAndServe()
}

// newOnboardLimiter picks the in-memory or Redis-backed onboarding limiter.
// A Redis that does not answer at startup is reported and replaced by the
// in-memory limiter.
func newOnboardLimiter(cfg config.RateLimitConfig, logger *slog.Logger) (ratelimit.Limiter, error) {
	limit := cfg.OnboardPerHour
	if cfg.Backend != "redis" {
		return ratelimit.NewFixedWindow(limit, ratelimit.DefaultWindow), nil
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("rate_limit.redis_url is required for the redis backend")
	}
	client, err := ratelimit.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, using in-memory onboarding limiter", "error", err)
		client.Close()
		return ratelimit.NewFixedWindow(limit, ratelimit.DefaultWindow), nil
	}
	logger.Info("onboarding limiter using redis")
	return ratelimit.NewRedisWindow(client, "", limit, ratelimit.DefaultWindow), nil
}

// cmdContext returns a background context for CLI initialization.
func cmdContext() context.Context {
	return context.Background()
}
