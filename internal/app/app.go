package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relaywatch/relaywatch-backend/internal/clock"
	"github.com/relaywatch/relaywatch-backend/internal/exporter"
	"github.com/relaywatch/relaywatch-backend/internal/metrics"
	"github.com/relaywatch/relaywatch-backend/internal/model"
	"github.com/relaywatch/relaywatch-backend/internal/storage"
	"github.com/relaywatch/relaywatch-backend/internal/subscriber"
	"github.com/relaywatch/relaywatch-backend/internal/tracker"
	"github.com/relaywatch/relaywatch-backend/pkg/priochan"
)

// Lane capacities: control and finalization block producers, bulk update
// traffic blocks too, telemetry sheds its oldest entries instead.
func pipelineLanes() []priochan.Lane {
	lanes := make([]priochan.Lane, model.PriorityLanes)
	lanes[model.PriorityControl] = priochan.Lane{Capacity: 64, Policy: priochan.Block}
	lanes[model.PriorityFinalization] = priochan.Lane{Capacity: 256, Policy: priochan.Block}
	lanes[model.PriorityUpdate] = priochan.Lane{Capacity: 1024, Policy: priochan.Block}
	lanes[model.PriorityTelemetry] = priochan.Lane{Capacity: 1024, Policy: priochan.DropOldest}
	return lanes
}

// App owns the assembled pipeline for one run mode.
type App struct {
	cfg    Config
	logger *zap.Logger

	db          storage.DB
	channel     *priochan.Channel[model.ProgressEvent]
	tracker     *tracker.Tracker
	subscribers []*subscriber.Subscriber
	buffered    *exporter.Buffered
	trace       *exporter.TraceSink
	server      *http.Server
}

// New wires the components the configured mode needs. Storage and
// configuration failures here are the unrecoverable kind.
func New(cfg Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger = logger.With(zap.String("mode", string(cfg.Mode)))

	var db storage.DB
	var err error
	if cfg.StoragePath != "" {
		db, err = storage.NewBadger(cfg.StoragePath)
		if err != nil {
			return nil, err
		}
	} else {
		db = storage.NewMemory()
		logger.Warn("no storage path configured, state will not survive restarts")
	}

	a := &App{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		channel: priochan.New[model.ProgressEvent](pipelineLanes()...),
	}

	sinks := exporter.Multi{exporter.NewPrometheusSink(metrics.NewParachain())}
	var validatorSink *exporter.ValidatorSink
	switch cfg.Mode {
	case ModeWhoIsValidator:
		validatorSink = exporter.NewValidatorSink(logger.Named("validators"))
		sinks = append(sinks, validatorSink)
	case ModeBlockTime, ModeParachainTracer:
		sinks = append(sinks, exporter.NewLogSink(logger.Named("progress")))
	}
	if cfg.TraceCollectorAddr != "" {
		a.trace = exporter.NewTraceSink(cfg.TraceCollectorAddr, nil, logger.Named("trace"))
		sinks = append(sinks, a.trace)
	}
	a.buffered = exporter.NewBuffered(sinks, 4096, metrics.NewExporter(), logger.Named("exporter"))

	a.tracker = tracker.New(tracker.Config{
		TimeoutBlocks: uint64(cfg.TimeoutBlocks),
		MaxBlocks:     uint64(cfg.MaxBlocks),
		StallBlocks:   uint64(cfg.StallBlocks),
		Paras:         cfg.Paras(),
	}, storage.NewCheckpointStore(db, logger.Named("checkpoints")), a.buffered, metrics.NewTracker(), logger.Named("tracker"))

	subMetrics := metrics.NewSubscriber()
	for _, url := range cfg.NodeURLs {
		dialer := subscriber.NewObservedDialer(&subscriber.WSDialer{}, metrics.NewRPCClient(url))
		sub := subscriber.New(subscriber.Config{
			URL:     url,
			Backoff: clock.DefaultBackoff(),
		}, dialer, a.channel, subMetrics, logger.Named("subscriber"))

		switch cfg.Mode {
		case ModeBlockTime:
			sub.OnBlockTime(func(height uint64, seconds float64) {
				a.buffered.Publish(model.MetricEvent{
					Kind:        model.MetricBlockTime,
					RelayHeight: height,
					Seconds:     seconds,
				})
			})
		case ModeWhoIsValidator:
			sub.OnValidators(func(_ model.BlockRef, validators []model.AccountID) {
				validatorSink.SetValidators(validators)
			})
		}
		a.subscribers = append(a.subscribers, sub)
	}

	if cfg.MetricsAddr != "" {
		a.server = newHTTPServer(cfg.MetricsAddr, a.tracker.CandidatesStored)
	}
	return a, nil
}

// Run starts the pipeline and blocks until the context is canceled or an
// unrecoverable startup failure occurs. Node disconnects never end a run.
func (a *App) Run(ctx context.Context) error {
	defer a.db.Close()

	if err := a.tracker.Resume(); err != nil {
		return fmt.Errorf("resume from checkpoints: %w", err)
	}

	// Sinks get their own lifetime so the final drain survives the
	// cancellation that stops the rest of the pipeline.
	a.buffered.Start(context.Background())
	if a.trace != nil {
		a.trace.Start(context.Background())
	}

	serverErr := make(chan error, 1)
	if a.server != nil {
		go func() {
			a.logger.Info("serving metrics", zap.String("addr", a.server.Addr))
			if err := a.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	var subs sync.WaitGroup
	subCtx, cancelSubs := context.WithCancel(ctx)
	defer cancelSubs()
	for _, sub := range a.subscribers {
		subs.Add(1)
		go func(sub *subscriber.Subscriber) {
			defer subs.Done()
			_ = sub.Run(subCtx)
		}(sub)
	}

	trackerDone := make(chan error, 1)
	go func() {
		trackerDone <- a.tracker.Run(context.Background(), a.channel)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-serverErr:
		runErr = fmt.Errorf("metrics server: %w", err)
		cancelSubs()
	}

	// Ordered teardown: stop producing, drain the channel, flush the
	// sinks, then let the final checkpoints hit disk.
	subs.Wait()
	a.channel.Close()
	if err := <-trackerDone; err != nil && runErr == nil {
		runErr = err
	}
	a.buffered.Stop()
	if a.trace != nil {
		a.trace.Stop()
	}
	a.shutdownServer()

	return runErr
}

func (a *App) shutdownServer() {
	if a.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("failed to shut down metrics server", zap.Error(err))
	}
}
