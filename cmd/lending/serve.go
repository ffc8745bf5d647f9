package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lendingScope/internal/api"
)

func serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and accrue interest on a timer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, runServer)
		},
	}
	cmd.Flags().String("listen", ":8080", "HTTP listen address")
	// Each accrual truncates its interest, so short intervals round small pools
	// down to nothing. Operations accrue on their own; the ticker is for idle pools.
	cmd.Flags().Duration("accrue-interval", 0, "background interest accrual interval (0 disables; short intervals lose interest to truncation)")
	return cmd
}

func runServer(ctx context.Context, a *app) error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), a.metrics.GinMiddleware())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(a.metrics.Handler()))
	api.NewHandler(a.engine, a.logger).RegisterRoutes(&r.RouterGroup)

	srv := &http.Server{
		Addr:              a.cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http listen", zap.String("addr", a.cfg.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if a.cfg.AccrueInterval > 0 {
		g.Go(func() error {
			accrueLoop(ctx, a, a.cfg.AccrueInterval)
			return nil
		})
	}

	err := g.Wait()
	a.logger.Info("http stopped")
	return err
}

// accrueLoop keeps pool indexes current between operations. Failures are
// logged and retried on the next tick.
func accrueLoop(ctx context.Context, a *app, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.engine.AccrueAll(ctx); err != nil && ctx.Err() == nil {
				a.logger.Warn("accrue pools", zap.Error(err))
			}
		}
	}
}
