// Command plugview-host opens a plugin editor outside of a plugin host, with the
// reference gain processor, for UI development.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	plugview "github.com/machinefabric/plugview-go"
	"github.com/machinefabric/plugview-go/config"
	"github.com/machinefabric/plugview-go/processor"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	url := flag.String("url", "", "document URL (overrides the config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "plugview-host: %v\n", err)
		os.Exit(2)
	}
	if *url != "" {
		cfg.URL = *url
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "plugview-host: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("editor failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ed, err := plugview.Open(ctx, cfg, processor.NewGain(), plugview.WithLogger(logger))
	if err != nil {
		return err
	}
	defer ed.Close()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case <-ed.Done():
		logger.Info("editor window closed")
	}
	return nil
}
