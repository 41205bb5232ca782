// Command server runs the xtract AI quota and billing API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mihaimyh/xtract/pkg/ai"
	"github.com/mihaimyh/xtract/pkg/ai/openai"
	"github.com/mihaimyh/xtract/pkg/aiquota"
	quotazerolog "github.com/mihaimyh/xtract/pkg/aiquota/logger/zerolog"
	quotaprom "github.com/mihaimyh/xtract/pkg/aiquota/metrics/prometheus"
	"github.com/mihaimyh/xtract/pkg/api"
	"github.com/mihaimyh/xtract/pkg/billing"
	billingprom "github.com/mihaimyh/xtract/pkg/billing/metrics/prometheus"
	"github.com/mihaimyh/xtract/pkg/billing/stripe"
	"github.com/mihaimyh/xtract/pkg/config"
	"github.com/mihaimyh/xtract/storage/memory"
	"github.com/mihaimyh/xtract/storage/postgres"
	"github.com/mihaimyh/xtract/storage/redis"
)

const metricsNamespace = "xtract"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	logger := newLogger(os.Stdout, cfg)
	quotaLogger := quotazerolog.NewLogger(&logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	stores, err := openStores(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer stores.close()

	manager, err := aiquota.NewManager(stores.ledger, &aiquota.Config{
		Metrics: quotaprom.NewMetrics(reg, metricsNamespace),
		Logger:  quotaLogger,
		CircuitBreakerConfig: &aiquota.CircuitBreakerConfig{
			Enabled: cfg.StorageBackend != config.BackendMemory,
		},
	})
	if err != nil {
		return fmt.Errorf("quota manager initialization failed: %w", err)
	}

	var (
		billingService api.BillingService
		webhook        http.Handler = http.HandlerFunc(billingDisabled)
	)
	if cfg.BillingEnabled() {
		provider, err := stripe.NewProvider(stripe.Config{
			Config: billing.Config{
				Store:   stores.billing,
				Prices:  billing.NewPriceTable(cfg.StripePlusPriceID, cfg.StripeProPriceID),
				Metrics: billingprom.NewMetrics(reg, metricsNamespace),
				Logger:  quotaLogger,
			},
			StripeAPIKey:        cfg.StripeSecretKey,
			StripeWebhookSecret: cfg.StripeWebhookSecret,
		})
		if err != nil {
			return fmt.Errorf("stripe provider initialization failed: %w", err)
		}
		billingService = provider
		webhook = provider.WebhookHandler()
	} else {
		logger.Warn().Msg("STRIPE_SECRET_KEY not set, billing routes are disabled")
	}

	handler, err := api.NewHandler(api.Config{
		Manager:   manager,
		Tiers:     stores.billing,
		Generator: newGenerator(cfg, &logger),
		Billing:   billingService,
		AppURL:    cfg.AppURL,
		Logger:    quotaLogger,
	})
	if err != nil {
		return fmt.Errorf("api handler initialization failed: %w", err)
	}

	server := &http.Server{
		Addr: ":" + strconv.Itoa(cfg.Port),
		Handler: api.NewRouter(api.RouterConfig{
			Handler:         handler,
			UserIDHeader:    cfg.UserIDHeader,
			UserEmailHeader: cfg.UserEmailHeader,
			Webhook:         webhook,
			Metrics:         promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			Logger:          &logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.AIRequestTimeout + 15*time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("addr", server.Addr).
			Str("env", cfg.Env).
			Str("storage", cfg.StorageBackend).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown signal received, draining connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newLogger(w io.Writer, cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.IsDevelopment() {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("service", "xtract").Logger()
}

func newGenerator(cfg *config.Config, logger *zerolog.Logger) ai.Generator {
	if cfg.AIProvider == config.AIProviderOpenAI {
		return openai.New(openai.Config{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			Timeout: cfg.AIRequestTimeout,
		}, logger)
	}
	return &ai.MockGenerator{}
}

func billingDisabled(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "billing is not configured", http.StatusServiceUnavailable)
}

// backends groups the ledger and billing backends chosen by configuration.
type backends struct {
	ledger  aiquota.Storage
	billing billing.Store
	closers []func()
}

func (s *backends) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStores(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*backends, error) {
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		pgConfig := postgres.DefaultConfig()
		pgConfig.ConnectionString = cfg.DatabaseURL
		pg, err := postgres.New(ctx, pgConfig)
		if err != nil {
			return nil, fmt.Errorf("postgres initialization failed: %w", err)
		}
		logger.Info().Msg("postgres ready")
		return &backends{ledger: pg, billing: pg, closers: []func(){pg.Close}}, nil

	case config.BackendRedis:
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := goredis.NewClient(opts)
		rs, err := redis.New(client, redis.DefaultConfig())
		if err != nil {
			return nil, err
		}
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		logger.Info().Msg("redis ready")
		return &backends{ledger: rs, billing: rs, closers: []func(){func() { _ = rs.Close() }}}, nil

	default:
		mem := memory.New()
		return &backends{ledger: mem, billing: mem}, nil
	}
}
