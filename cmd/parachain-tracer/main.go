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
	Nodes        []string `long:"node" env:"TRACER_NODE_URLS" env-delim:"," description:"relay chain node websocket url (repeatable)" required:"true"`
	StoragePath  string   `long:"storage-path" env:"TRACER_STORAGE_PATH" description:"checkpoint database directory; empty disables persistence"`
	MetricsAddr  string   `long:"metrics-addr" env:"TRACER_METRICS_ADDR" description:"metrics and health listen address" default:":9090"`
	TraceAddr    string   `long:"trace-collector-addr" env:"TRACER_TRACE_COLLECTOR_ADDR" description:"trace collector endpoint; empty disables trace export"`
	TimeoutBlock uint32   `long:"timeout-blocks" env:"TRACER_TIMEOUT_BLOCKS" description:"mark a candidate timed out after this many blocks without progress" default:"32"`
	MaxBlocks    uint32   `long:"max-blocks" env:"TRACER_MAX_BLOCKS" description:"in-memory relay block window" default:"256"`
	StallBlocks  uint32   `long:"stall-blocks" env:"TRACER_STALL_BLOCKS" description:"evict parachains idle for this many blocks; 0 disables" default:"0"`
	ParaIDs      []uint32 `long:"para-id" env:"TRACER_PARA_IDS" env-delim:"," description:"parachain id to track (repeatable); empty tracks all"`
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
		Mode:               app.ModeParachainTracer,
		NodeURLs:           config.Nodes,
		StoragePath:        config.StoragePath,
		MetricsAddr:        config.MetricsAddr,
		TraceCollectorAddr: config.TraceAddr,
		TimeoutBlocks:      config.TimeoutBlock,
		MaxBlocks:          config.MaxBlocks,
		StallBlocks:        config.StallBlocks,
		ParaIDs:            config.ParaIDs,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to assemble pipeline", zap.Error(err))
	}

	if err := a.Run(ctx); err != nil {
		logger.Fatal("Pipeline stopped", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}
