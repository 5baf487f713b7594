package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ilpconnector/internal/config"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const shutdownTimeout = 5 * time.Second

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start the connector pipeline, transports, and background tasks",
		RunE:  runStart,
	}
	cmd.Flags().String("env", "", "environment overlay to merge over config/default.yaml")
	_ = viper.BindPFlag("env", cmd.Flags().Lookup("env"))
	return cmd
}

func runStart(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()

	env, _ := cmd.Flags().GetString("env")
	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("ilp-node: load config: %w", err)
	}

	logger := logrus.New()
	if lv, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(lv)
	}

	n, err := buildNode(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.run(ctx)

	r := mux.NewRouter()
	n.registerRoutes(r)

	addr := cfg.Listen.HTTPAddr
	if addr == "" {
		addr = cfg.Listen.BTPAddr
	}
	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		logger.WithField("addr", addr).Info("ilp-node: listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("ilp-node: server stopped")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
