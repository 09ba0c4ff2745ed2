package subscriber

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relaywatch/relaywatch-backend/internal/clock"
	"github.com/relaywatch/relaywatch-backend/internal/codec"
	"github.com/relaywatch/relaywatch-backend/internal/model"
	"github.com/relaywatch/relaywatch-backend/pkg/priochan"
	"github.com/relaywatch/relaywatch-backend/pkg/workerpool"
)

const (
	defaultRPCTimeout     = 10 * time.Second
	defaultResyncWindow   = 32
	defaultStorageWorkers = 4
)

// Config tunes one Subscriber instance.
type Config struct {
	URL        string
	RPCTimeout time.Duration
	Backoff    clock.Backoff
	// ResyncWindow bounds how many missed heights are backfilled after a
	// gap in the head stream. Anything older is given up on.
	ResyncWindow   uint64
	StorageWorkers int
}

func (c *Config) applyDefaults() {
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = defaultRPCTimeout
	}
	if c.ResyncWindow == 0 {
		c.ResyncWindow = defaultResyncWindow
	}
	if c.StorageWorkers <= 0 {
		c.StorageWorkers = defaultStorageWorkers
	}
}

// Subscriber owns one node connection and its retry loop. It is the only
// writer of its SubscriptionState.
type Subscriber struct {
	cfg     Config
	dialer  Dialer
	out     *priochan.Channel[model.ProgressEvent]
	metrics Metrics
	logger  *zap.Logger

	mu         sync.Mutex
	state      model.SubscriptionState
	lastHeadAt time.Time

	// Optional hooks wired per mode.
	onBlockTime  func(height uint64, seconds float64)
	onValidators func(at model.BlockRef, validators []model.AccountID)
}

func New(cfg Config, dialer Dialer, out *priochan.Channel[model.ProgressEvent], metrics Metrics, logger *zap.Logger) *Subscriber {
	cfg.applyDefaults()
	return &Subscriber{
		cfg:     cfg,
		dialer:  dialer,
		out:     out,
		metrics: metrics,
		logger:  logger.With(zap.String("node", cfg.URL)),
		state:   model.SubscriptionState{URL: cfg.URL, Status: model.SubscriptionConnecting},
	}
}

// OnBlockTime registers a hook invoked with the wall-time gap between
// consecutive new heads. Used by the block-time mode.
func (s *Subscriber) OnBlockTime(fn func(height uint64, seconds float64)) {
	s.onBlockTime = fn
}

// OnValidators registers a hook invoked with the session validator set read
// at each finalized head. Used by the who-is-validator mode.
func (s *Subscriber) OnValidators(fn func(at model.BlockRef, validators []model.AccountID)) {
	s.onValidators = fn
}

// Run drives the Connecting/Subscribed/Disconnected loop until the context
// is canceled or the output channel closes. Disconnects are never fatal.
func (s *Subscriber) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		s.setStatus(model.SubscriptionConnecting)

		conn, err := s.dialer.Dial(ctx, s.cfg.URL)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wait := s.cfg.Backoff.Interval(attempt)
			attempt++
			s.logger.Warn("connect failed, backing off",
				zap.Error(err),
				zap.Duration("wait", wait),
				zap.Int("attempt", attempt))
			if err := clock.SleepWithContext(ctx, wait); err != nil {
				return nil
			}
			continue
		}
		attempt = 0
		s.setStatus(model.SubscriptionSubscribed)
		s.logger.Info("subscribed")

		err = s.consume(ctx, conn)
		conn.Close()
		s.lastHeadAt = time.Time{}

		switch {
		case errors.Is(err, priochan.ErrClosed):
			return nil
		case ctx.Err() != nil:
			return nil
		}

		s.setStatus(model.SubscriptionDisconnected)
		s.logger.Warn("connection lost", zap.Error(err))
		if err := s.send(ctx, model.PriorityControl, model.ProgressEvent{
			Kind:    model.EventDisconnected,
			NodeURL: s.cfg.URL,
		}); err != nil {
			return nil
		}

		wait := s.cfg.Backoff.Interval(attempt)
		attempt++
		if err := clock.SleepWithContext(ctx, wait); err != nil {
			return nil
		}
	}
}

// State returns a copy of the subscription state for health reporting.
func (s *Subscriber) State() model.SubscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Subscriber) consume(ctx context.Context, conn Conn) error {
	for {
		ev, err := conn.Next(ctx)
		if err != nil {
			return err
		}
		s.metrics.ObserveHead(s.cfg.URL, ev.Finalized)

		if ev.Finalized {
			err = s.handleFinalized(ctx, conn, ev.Ref)
		} else {
			s.observeBlockTime(ev.Ref.Height)
			err = s.handleHead(ctx, conn, ev.Ref)
		}
		if err != nil {
			return err
		}
	}
}

func (s *Subscriber) handleHead(ctx context.Context, conn Conn, ref model.BlockRef) error {
	ref, err := s.resolveHash(ctx, conn, ref)
	if err != nil {
		return err
	}

	// Backfill heights missed while disconnected, newest-window only.
	if gap := s.missedHeights(ref.Height); len(gap) > 0 {
		s.logger.Info("resyncing missed heights",
			zap.Uint64("from", gap[0]),
			zap.Uint64("to", gap[len(gap)-1]))
		err := workerpool.Process(ctx, s.cfg.StorageWorkers, gap, func(ctx context.Context, height uint64) error {
			hash, err := s.blockHash(ctx, conn, height)
			if err != nil {
				return err
			}
			return s.processBlock(ctx, conn, model.BlockRef{Height: height, Hash: hash})
		})
		if err != nil {
			return err
		}
	}

	if err := s.processBlock(ctx, conn, ref); err != nil {
		return err
	}
	s.mu.Lock()
	if ref.Height > s.state.LastSeenHeight {
		s.state.LastSeenHeight = ref.Height
	}
	s.mu.Unlock()
	return nil
}

func (s *Subscriber) handleFinalized(ctx context.Context, conn Conn, ref model.BlockRef) error {
	ref, err := s.resolveHash(ctx, conn, ref)
	if err != nil {
		return err
	}

	if err := s.send(ctx, model.PriorityFinalization, model.ProgressEvent{
		Kind:  model.EventFinalized,
		Relay: ref,
	}); err != nil {
		return err
	}
	s.mu.Lock()
	if ref.Height > s.state.LastFinalizedHeight {
		s.state.LastFinalizedHeight = ref.Height
	}
	s.mu.Unlock()

	if s.onValidators != nil {
		s.readValidators(ctx, conn, ref)
	}
	return nil
}

// processBlock reads and decodes the candidate records at one block and
// emits them at Update priority. A decode failure skips the block.
func (s *Subscriber) processBlock(ctx context.Context, conn Conn, ref model.BlockRef) error {
	rpcCtx, cancel := context.WithTimeout(ctx, s.cfg.RPCTimeout)
	raw, err := conn.ReadStorage(rpcCtx, KeyCandidateEvents, ref.Hash)
	cancel()
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	records, err := codec.DecodeCandidateEvents(raw, ref)
	if err != nil {
		var derr *codec.DecodeError
		fields := []zap.Field{
			zap.Uint64("height", ref.Height),
			zap.Stringer("hash", ref.Hash),
			zap.Error(err),
		}
		if errors.As(err, &derr) {
			fields = append(fields, zap.Int("offset", derr.Offset))
		}
		s.logger.Warn("skipping block with undecodable candidate records", fields...)
		s.metrics.ObserveDecodeFailure(s.cfg.URL)
		return nil
	}

	for i := range records {
		rec := records[i]
		kind := model.EventStatusChange
		if rec.Status == model.StatusBacked {
			kind = model.EventNewCandidate
		}
		if err := s.send(ctx, model.PriorityUpdate, model.ProgressEvent{
			Kind:      kind,
			Relay:     ref,
			Candidate: &rec,
			NodeURL:   s.cfg.URL,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Subscriber) readValidators(ctx context.Context, conn Conn, ref model.BlockRef) {
	rpcCtx, cancel := context.WithTimeout(ctx, s.cfg.RPCTimeout)
	raw, err := conn.ReadStorage(rpcCtx, KeySessionValidators, ref.Hash)
	cancel()
	if err != nil || len(raw) == 0 {
		if err != nil {
			s.logger.Warn("validator set read failed", zap.Error(err))
		}
		return
	}

	validators, err := codec.DecodeValidatorSet(raw)
	if err != nil {
		s.logger.Warn("skipping undecodable validator set",
			zap.Uint64("height", ref.Height),
			zap.Error(err))
		s.metrics.ObserveDecodeFailure(s.cfg.URL)
		return
	}
	s.onValidators(ref, validators)
}

// missedHeights lists heights between the last seen head and the new one,
// clamped to the resync window.
func (s *Subscriber) missedHeights(newHeight uint64) []uint64 {
	s.mu.Lock()
	lastSeen := s.state.LastSeenHeight
	s.mu.Unlock()
	if lastSeen == 0 || newHeight <= lastSeen+1 {
		return nil
	}
	from := lastSeen + 1
	if newHeight-from > s.cfg.ResyncWindow {
		from = newHeight - s.cfg.ResyncWindow
	}
	heights := make([]uint64, 0, newHeight-from)
	for h := from; h < newHeight; h++ {
		heights = append(heights, h)
	}
	return heights
}

func (s *Subscriber) resolveHash(ctx context.Context, conn Conn, ref model.BlockRef) (model.BlockRef, error) {
	if !ref.Hash.IsZero() {
		return ref, nil
	}
	hash, err := s.blockHash(ctx, conn, ref.Height)
	if err != nil {
		return ref, err
	}
	ref.Hash = hash
	return ref, nil
}

func (s *Subscriber) blockHash(ctx context.Context, conn Conn, height uint64) (model.Hash, error) {
	rpcCtx, cancel := context.WithTimeout(ctx, s.cfg.RPCTimeout)
	defer cancel()
	return conn.BlockHash(rpcCtx, height)
}

func (s *Subscriber) observeBlockTime(height uint64) {
	now := time.Now()
	if s.onBlockTime != nil && !s.lastHeadAt.IsZero() {
		s.onBlockTime(height, now.Sub(s.lastHeadAt).Seconds())
	}
	s.lastHeadAt = now
}

func (s *Subscriber) send(ctx context.Context, lane int, ev model.ProgressEvent) error {
	return s.out.Send(ctx, lane, ev)
}

func (s *Subscriber) setStatus(status model.SubscriptionStatus) {
	s.mu.Lock()
	s.state.Status = status
	s.mu.Unlock()
	s.metrics.SetConnectionStatus(s.cfg.URL, status)
}
