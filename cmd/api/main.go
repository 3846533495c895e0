package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"wamsg/internal/config"
	"wamsg/internal/convo"
	"wamsg/internal/dispatch"
	"wamsg/internal/httpserver"
	"wamsg/internal/logging"
	"wamsg/internal/observability"
	"wamsg/internal/providers/meta"
	"wamsg/internal/providers/qrgateway"
	"wamsg/internal/service"
	"wamsg/internal/store/pg"
)

func main() {
	cfg := config.LoadAPI()
	logging.Init("api", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{
		MaxConns:          cfg.DBPoolMaxConns,
		MinConns:          cfg.DBPoolMinConns,
		MaxConnLifetime:   cfg.DBPoolMaxConnLifetime,
		MaxConnIdleTime:   cfg.DBPoolMaxConnIdleTime,
		HealthCheckPeriod: cfg.DBPoolHealthCheckPeriod,
	})
	if err != nil {
		slog.Error("api db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	observability.Register(prometheus.DefaultRegisterer)

	dbStore := pg.New(db)

	official := &meta.Client{
		AccessToken: cfg.MetaAccessToken,
		HTTP:        &http.Client{Timeout: time.Duration(cfg.MetaTimeoutSec) * time.Second},
		BaseURL:     cfg.MetaBaseURL,
		APIVersion:  cfg.MetaAPIVersion,
	}
	gateway, err := qrgateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey, time.Duration(cfg.GatewayTimeoutSec)*time.Second)
	if err != nil {
		slog.Error("api gateway client init failed", "err", err)
		os.Exit(1)
	}

	dispatcher := &dispatch.Adapter{
		Official: official,
		Gateway:  gateway,
		Limiter:  rate.NewLimiter(rate.Limit(cfg.MetaRPSPerPod), cfg.MetaBurst),
		Breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "whatsapp-send",
			MaxRequests: 3,
			Timeout:     20 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 10 },
		}),
		Timeout:     time.Duration(cfg.MetaTimeoutSec) * time.Second,
		MaxAttempts: 3,
	}

	api := &httpserver.API{
		Chat:  service.NewChat(dbStore, dispatcher),
		Convo: convo.New(dbStore),
	}

	s := httpserver.New()
	api.Register(s.Mux)
	s.Mux.HandleFunc("/healthz", httpserver.Healthz()).Methods(http.MethodGet)
	s.Mux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second, func(ctx context.Context) error {
		return db.Ping(ctx)
	})).Methods(http.MethodGet)

	handler := httpserver.Logging(httpserver.Metrics(observability.APIRequests)(s.Mux))
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: handler}
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: promhttp.Handler()}

	go func() {
		slog.Info("api metrics listening", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("api metrics server failed", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("api shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	slog.Info("api listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("api server failed", "err", err)
		os.Exit(1)
	}
}
