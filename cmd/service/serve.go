package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/city-weather-service/internal/cache"
	"github.com/kjstillabower/city-weather-service/internal/client"
	httphandler "github.com/kjstillabower/city-weather-service/internal/http"
	"github.com/kjstillabower/city-weather-service/internal/lifecycle"
	"github.com/kjstillabower/city-weather-service/internal/traffic"
)

const inFlightCheckInterval = 50 * time.Millisecond

func newServeCommand(opts *rootOptions) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			if port != "" {
				a.cfg.ServerPort = port
			}
			return serve(cmd.Context(), a)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "Listen port (overrides server.port)")
	return cmd
}

// newHTTPHandler builds the router for a. The returned state is marked ready by serve.
func newHTTPHandler(a *app) (http.Handler, *lifecycle.State) {
	cfg := a.cfg
	tracker := traffic.NewTracker(nil)
	state := &lifecycle.State{}

	healthConfig := &httphandler.HealthConfig{
		Thresholds: traffic.Thresholds{
			Window:           cfg.HealthWindow,
			DegradedErrorPct: cfg.DegradedErrorPct,
			Capacity:         cfg.RateLimitRPS * int(cfg.HealthWindow/time.Second),
			OverloadPct:      cfg.OverloadThresholdPct,
		},
		CachePing:    a.cachePing(),
		StorePing:    a.storePing,
		BreakerState: a.client.BreakerState,
		Version:      version,
	}
	handler := httphandler.NewHandler(a.svc, healthConfig, tracker, state, a.logger)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	routerCfg := httphandler.RouterConfig{
		Logger:         a.logger,
		RequestTimeout: cfg.RequestTimeout,
		Limiter:        limiter,
		Tracker:        tracker,
	}
	if cfg.AdminToken != "" {
		routerCfg.AdminGate = httphandler.AdminTokenMiddleware(cfg.AdminToken)
	} else {
		a.logger.Info("admin token not set; /admin routes disabled")
	}
	return httphandler.NewRouter(handler, routerCfg), state
}

type credentialChecker interface {
	ValidateAPIKey(ctx context.Context) error
}

// checkCredentials asks the provider once whether it accepts the configured key.
// Startup continues either way: cached and stored observations are still served.
func checkCredentials(ctx context.Context, c credentialChecker, logger *zap.Logger) error {
	err := c.ValidateAPIKey(ctx)
	switch {
	case err == nil:
		logger.Info("weather API key accepted")
	case errors.Is(err, client.ErrInvalidAPIKey):
		logger.Error("weather API key rejected; upstream lookups will fail as unauthorized", zap.Error(err))
	default:
		logger.Warn("weather API key check inconclusive", zap.Error(err))
	}
	return err
}

// serve runs the HTTP server until ctx is canceled, then shuts down gracefully.
func serve(ctx context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger
	router, state := newHTTPHandler(a)
	_ = checkCredentials(ctx, a.client, logger)

	warmCtx, stopWarming := context.WithCancel(context.Background())
	defer stopWarming()
	if len(cfg.WarmLocations) > 0 {
		warmer := cache.NewCacheWarmer(a.svc, logger, cfg.WarmTimeout)
		if err := warmer.Warm(ctx, cfg.WarmLocations); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		if cfg.WarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(warmCtx, cfg.WarmLocations, cfg.WarmInterval); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()
	state.MarkReady()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("graceful shutdown triggered")
	case err := <-serverErr:
		logger.Error("server", zap.Error(err))
		runErr = err
	}

	state.BeginShutdown()
	stopWarming()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	if err := httphandler.WaitForInFlight(shutdownCtx, inFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	logger.Info("server stopped; releasing resources")
	a.close(shutdownCtx)
	return runErr
}
