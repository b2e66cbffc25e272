// Package main runs the payments service: checkout session creation over
// HTTP plus the Stripe webhook ingester, backed by Firestore.
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

	"cloud.google.com/go/firestore"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"github.com/lumapage/payments/pkg/api"
	prommetrics "github.com/lumapage/payments/pkg/payments/metrics/prometheus"
	stripeprovider "github.com/lumapage/payments/pkg/payments/stripe"
	firestorestorage "github.com/lumapage/payments/storage/firestore"
)

const (
	defaultPort     = "8080"
	shutdownTimeout = 15 * time.Second
)

func main() {
	_ = godotenv.Load()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "payments").Logger()
	if os.Getenv("LOG_PRETTY") == "true" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if err := run(logger); err != nil {
		logger.Fatal().Err(err).Msg("service exited with error")
	}
}

func run(logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	projectID := os.Getenv("FIRESTORE_PROJECT_ID")
	if projectID == "" {
		return errors.New("FIRESTORE_PROJECT_ID is required")
	}

	var clientOpts []option.ClientOption
	if creds := os.Getenv("FIRESTORE_CREDENTIALS_FILE"); creds != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(creds))
	}

	fsClient, err := firestore.NewClient(ctx, projectID, clientOpts...)
	if err != nil {
		return fmt.Errorf("creating firestore client: %w", err)
	}
	defer fsClient.Close()

	store, err := firestorestorage.New(fsClient, firestorestorage.Config{})
	if err != nil {
		return fmt.Errorf("creating firestore store: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := prommetrics.NewMetrics(registry, "lumapage")

	provider, err := stripeprovider.NewProvider(stripeprovider.Config{
		Store:               store,
		Logger:              logger.With().Str("component", "stripe").Logger(),
		Metrics:             metrics,
		APIKey:              os.Getenv("STRIPE_SECRET_KEY"),
		WebhookSecret:       os.Getenv("STRIPE_WEBHOOK_SECRET"),
		BaseURL:             os.Getenv("APP_BASE_URL"),
		SubscriptionPriceID: os.Getenv("STRIPE_SUBSCRIPTION_PRICE_ID"),
		TreatPriceID:        os.Getenv("STRIPE_TREAT_PRICE_ID"),
	})
	if err != nil {
		return fmt.Errorf("creating stripe provider: %w", err)
	}

	apiHandler, err := api.NewHandler(api.Config{
		Checkout: provider,
		Webhook:  provider.WebhookHandler(),
		Logger:   logger.With().Str("component", "api").Logger(),
	})
	if err != nil {
		return fmt.Errorf("creating api handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Mount("/v1", apiHandler.Routes())

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
