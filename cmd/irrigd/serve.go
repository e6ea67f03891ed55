package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jihwankim/irrig-core/internal/config"
	"github.com/jihwankim/irrig-core/internal/httpapi"
	"github.com/jihwankim/irrig-core/internal/logging"
	"github.com/jihwankim/irrig-core/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Args:  cobra.NoArgs,
	Short: "Start the controller: I/O polling, priority pipeline, and HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("listen-addr", "", "override server.listen_addr from config")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if addr, _ := cmd.Flags().GetString("listen-addr"); addr != "" {
		cfg.Server.ListenAddr = addr
	}

	log := logging.New(logging.Config{
		Level:  logging.Level(cfg.Logging.Level),
		Format: logging.Format(cfg.Logging.Format),
		Output: os.Stdout,
	})

	ctx, err := server.New(cfg, log)
	if err != nil {
		return fmt.Errorf("build server context: %w", err)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx.Start(runCtx)
	log.Info("irrigd started", "version", version, "listen_addr", cfg.Server.ListenAddr)

	httpSrv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: httpapi.NewRouter(ctx),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-runCtx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Error("http server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	ctx.Stop()
	log.Info("irrigd stopped")
	return nil
}

// loadConfig loads the process configuration from the --config path,
// falling back to the built-in defaults when the file is absent.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = "config.yaml"
	}
	return config.Load(path)
}
