// Command frontend is the dispatcher's front-end process: it owns the
// Manager and exposes the HTTP/JSON inference API over it.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/inferd/dispatcher/pkg/dispatch"
	"github.com/inferd/dispatcher/pkg/httpapi"
)

var rootCmd = &cobra.Command{
	Use:   "frontend <config_path> <model_path>",
	Short: "Run the inference dispatcher front end",
	Args:  cobra.ExactArgs(2),
	RunE:  runFrontend,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runFrontend(cmd *cobra.Command, args []string) error {
	configPath, modelPath := args[0], args[1]

	cfg, err := dispatch.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := dispatch.NewLogger(cfg.Logging)

	registry := prometheus.NewRegistry()
	var metrics *dispatch.DispatchMetrics
	if cfg.Metrics.Enabled {
		metrics = dispatch.NewDispatchMetrics(registry)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	manager, err := dispatch.NewManager(ctx, configPath, modelPath, cfg, metrics, logger)
	if err != nil {
		return fmt.Errorf("start manager: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		manager.Shutdown(shutdownCtx)
	}()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := httpapi.NewAPI(manager, logger)
	api.Register(router)

	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.HTTPServer.Port)
	srv := &http.Server{Addr: addr, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("frontend listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("frontend shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}
