package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/relaywatch/relaywatch-backend/internal/app"
)

var config struct {
	Nodes       []string `long:"node" env:"WHO_IS_VALIDATOR_NODE_URLS" env-delim:"," description:"relay chain node websocket url (repeatable)" required:"true"`
	MetricsAddr string   `long:"metrics-addr" env:"WHO_IS_VALIDATOR_METRICS_ADDR" description:"metrics and health listen address" default:":9090"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic("can't initialize zap logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync()
	}()
	if _, err := flags.ParseArgs(&config, os.Args); err != nil {
		logger.Fatal("Failed to parse arguments", zap.Error(err))
	}

	a, err := app.New(app.Config{
		Mode:        app.ModeWhoIsValidator,
		NodeURLs:    config.Nodes,
		MetricsAddr: config.MetricsAddr,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to assemble pipeline", zap.Error(err))
	}

	if err := a.Run(ctx); err != nil {
		logger.Fatal("Pipeline stopped", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}
