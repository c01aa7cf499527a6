package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"travel-admin-backend/internal/middleware"
	"travel-admin-backend/internal/routes"
	service "travel-admin-backend/internal/services/reconciliation"
	"travel-admin-backend/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the reconciliation workers",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, db, err := bootstrap()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret must be set to serve the API")
	}

	pool := worker.New(cfg.Reconciliation.Workers, cfg.Reconciliation.QueueSize, log)
	reconService := service.NewReconciliationService(db, pool, service.ConfigFrom(cfg.Reconciliation, cfg.Auth), log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := reconService.RecoverInterrupted(ctx); err != nil {
		return err
	}

	if cfg.App.GinMode != "" {
		gin.SetMode(cfg.App.GinMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(log))
	// CORS config
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.App.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	if err := routes.RegisterRoutes(r, routes.Deps{
		DB:             db,
		Reconciliation: reconService,
		Config:         cfg,
		Log:            log,
	}); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.App.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.App.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Reconciliation.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("reconciliation jobs still running at shutdown; they will be failed on next start")
	}
	return nil
}
