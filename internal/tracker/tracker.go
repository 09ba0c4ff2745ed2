// Package tracker reconciles multi-source, multi-fork candidate events into
// per-parachain lifecycles and derives the externally visible metrics.
package tracker

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/relaywatch/relaywatch-backend/internal/model"
	"github.com/relaywatch/relaywatch-backend/internal/storage"
	"github.com/relaywatch/relaywatch-backend/pkg/priochan"
)

const (
	defaultMaxBlocks = 256
)

// Metrics records tracker-internal observations.
type Metrics interface {
	ObserveEvent(kind model.EventKind)
	ObserveIgnoredTransition()
	SetBufferedEvents(n int)
	ObserveForkPruned(count int)
}

// Sink receives the derived metric events.
type Sink interface {
	Publish(ev model.MetricEvent)
}

// Config tunes the tracker.
type Config struct {
	// TimeoutBlocks marks a candidate TimedOut locally after this many
	// relay blocks without progress past Backed. 0 disables.
	TimeoutBlocks uint64
	// MaxBlocks bounds the in-memory window; state older than this many
	// blocks behind the finalized head is dropped.
	MaxBlocks uint64
	// StallBlocks evicts a parachain timeline with no candidate activity
	// for this many blocks. 0 disables.
	StallBlocks uint64
	// Paras restricts tracking to these parachains. Empty tracks all.
	Paras []model.ParaID
}

// Tracker is the single owner of all timelines. Run is its only mutating
// entry point; everything it touches is confined to that goroutine.
type Tracker struct {
	cfg         Config
	logger      *zap.Logger
	metrics     Metrics
	sink        Sink
	checkpoints *storage.CheckpointStore // nil disables persistence

	arena     *arena
	timelines map[model.ParaID]*timeline
	tracked   map[model.ParaID]bool

	// pending holds events whose relay parent block is not yet known,
	// keyed by the missing parent hash.
	pending      map[model.Hash][]model.ProgressEvent
	pendingCount int

	bestHeight    uint64
	lastFinalized uint64

	openCount atomic.Int64
}

func New(cfg Config, checkpoints *storage.CheckpointStore, sink Sink, metrics Metrics, logger *zap.Logger) *Tracker {
	if cfg.MaxBlocks == 0 {
		cfg.MaxBlocks = defaultMaxBlocks
	}
	t := &Tracker{
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
		sink:        sink,
		checkpoints: checkpoints,
		arena:       newArena(),
		timelines:   make(map[model.ParaID]*timeline),
		pending:     make(map[model.Hash][]model.ProgressEvent),
	}
	if len(cfg.Paras) > 0 {
		t.tracked = make(map[model.ParaID]bool, len(cfg.Paras))
		for _, p := range cfg.Paras {
			t.tracked[p] = true
		}
	}
	return t
}

// Resume restores timelines from persisted checkpoints. Call before Run.
func (t *Tracker) Resume() error {
	if t.checkpoints == nil {
		return nil
	}
	cps, err := t.checkpoints.All()
	if err != nil {
		return err
	}
	for i := range cps {
		cp := &cps[i]
		if t.tracked != nil && !t.tracked[cp.ParaID] {
			continue
		}
		tl := newTimeline(cp.ParaID)
		for j := range cp.Open {
			rec := cp.Open[j]
			tl.put(&rec)
			if rec.RelayParent.Height > tl.lastActivity {
				tl.lastActivity = rec.RelayParent.Height
			}
			t.arena.add(rec.RelayParent)
			t.openCount.Add(1)
		}
		t.timelines[cp.ParaID] = tl
		if cp.LastFinalizedHeight > t.lastFinalized {
			t.lastFinalized = cp.LastFinalizedHeight
		}
		t.logger.Info("resumed parachain from checkpoint",
			zap.Uint32("para_id", uint32(cp.ParaID)),
			zap.Uint64("last_finalized", cp.LastFinalizedHeight),
			zap.Int("open_candidates", len(cp.Open)))
	}
	if t.lastFinalized > t.bestHeight {
		t.bestHeight = t.lastFinalized
	}
	return nil
}

// Run consumes events until the channel closes or the context is canceled.
// A closed channel is drained first, then final checkpoints are written.
func (t *Tracker) Run(ctx context.Context, ch *priochan.Channel[model.ProgressEvent]) error {
	for {
		ev, err := ch.Receive(ctx)
		if err != nil {
			if errors.Is(err, priochan.ErrClosed) {
				t.writeCheckpoints()
				return nil
			}
			return err
		}
		t.apply(ev)
	}
}

// CandidatesStored reports the number of open candidate records. Safe to
// call from other goroutines (health endpoint).
func (t *Tracker) CandidatesStored() int {
	return int(t.openCount.Load())
}

func (t *Tracker) apply(ev model.ProgressEvent) {
	t.metrics.ObserveEvent(ev.Kind)

	switch ev.Kind {
	case model.EventNewCandidate, model.EventStatusChange:
		t.handleCandidate(ev)
	case model.EventFinalized:
		t.handleFinalized(ev.Relay)
	case model.EventReorg:
		t.handleReorg(ev.Pruned)
	case model.EventDisconnected:
		t.logger.Warn("subscriber lost its node", zap.String("node", ev.NodeURL))
	}
}

func (t *Tracker) handleCandidate(ev model.ProgressEvent) {
	if ev.Candidate == nil {
		return
	}
	if t.tracked != nil && !t.tracked[ev.Candidate.ParaID] {
		return
	}

	if !t.parentKnown(ev.Relay) {
		t.pending[ev.Relay.ParentHash] = append(t.pending[ev.Relay.ParentHash], ev)
		t.pendingCount++
		t.metrics.SetBufferedEvents(t.pendingCount)
		return
	}
	t.applyCandidate(ev)
}

// parentKnown decides whether an event can be applied now or must wait for
// its parent block. The first block ever seen and heights at or below the
// current best are always applied: buffering exists for events that ran
// ahead of their fork, not for history.
func (t *Tracker) parentKnown(ref model.BlockRef) bool {
	if t.arena.len() == 0 {
		return true
	}
	if _, ok := t.arena.lookup(ref.Hash); ok {
		return true
	}
	if _, ok := t.arena.lookup(ref.ParentHash); ok {
		return true
	}
	return ref.Height <= t.bestHeight+1
}

func (t *Tracker) applyCandidate(ev model.ProgressEvent) {
	ref := ev.Relay
	t.arena.add(ref)
	if ref.Height > t.bestHeight {
		t.bestHeight = ref.Height
	}

	incoming := ev.Candidate
	tl, ok := t.timelines[incoming.ParaID]
	if !ok {
		tl = newTimeline(incoming.ParaID)
		t.timelines[incoming.ParaID] = tl
	}
	if ref.Height > tl.lastActivity {
		tl.lastActivity = ref.Height
	}

	existing, ok := tl.get(incoming.CandidateHash)
	if !ok {
		rec := *incoming
		rec.RelayParent = ref
		tl.put(&rec)
		t.openCount.Add(1)
		t.emitObserved(&rec, ref.Height)
	} else {
		if !legalTransition(existing.Status, incoming.Status) {
			t.metrics.ObserveIgnoredTransition()
		} else {
			t.applyTransition(existing, incoming, ref.Height)
		}
	}

	// The block is known now; replay anything that was waiting on it.
	t.replayPending(ref.Hash)
}

// emitObserved publishes the metric for a candidate's first observation.
func (t *Tracker) emitObserved(rec *model.CandidateRecord, atHeight uint64) {
	switch rec.Status {
	case model.StatusBacked:
		t.sink.Publish(model.MetricEvent{
			Kind:          model.MetricBacked,
			ParaID:        rec.ParaID,
			CandidateHash: rec.CandidateHash,
			RelayHeight:   atHeight,
			Backers:       rec.Backers,
		})
		if rec.LowBitfieldPropagation() {
			t.sink.Publish(model.MetricEvent{
				Kind:          model.MetricLowBitfields,
				ParaID:        rec.ParaID,
				CandidateHash: rec.CandidateHash,
				RelayHeight:   atHeight,
			})
		}
	case model.StatusIncluded:
		t.emitIncluded(rec, atHeight)
	case model.StatusTimedOut:
		t.emitTimedOut(rec, atHeight)
	case model.StatusDisputed:
		t.emitDisputed(rec, atHeight)
	}
}

func (t *Tracker) applyTransition(rec, incoming *model.CandidateRecord, atHeight uint64) {
	switch incoming.Status {
	case model.StatusIncluded:
		rec.Status = model.StatusIncluded
		rec.IncludedAt = atHeight
		rec.LocalTimeout = false
		if incoming.MaxBits > 0 {
			rec.AvailabilityBits = incoming.AvailabilityBits
			rec.MaxBits = incoming.MaxBits
		}
		t.emitIncluded(rec, atHeight)
	case model.StatusTimedOut:
		rec.Status = model.StatusTimedOut
		rec.LocalTimeout = false
		t.emitTimedOut(rec, atHeight)
	case model.StatusDisputed:
		rec.Status = model.StatusDisputed
		rec.Outcome = incoming.Outcome
		t.emitDisputed(rec, atHeight)
	}
}

func (t *Tracker) emitIncluded(rec *model.CandidateRecord, atHeight uint64) {
	var latency uint64
	if rec.BackedAt > 0 && atHeight >= rec.BackedAt {
		latency = atHeight - rec.BackedAt
	}
	t.sink.Publish(model.MetricEvent{
		Kind:          model.MetricIncluded,
		ParaID:        rec.ParaID,
		CandidateHash: rec.CandidateHash,
		RelayHeight:   atHeight,
		LatencyBlocks: latency,
	})
	if rec.MaxBits > 0 && !rec.DataAvailable() {
		t.sink.Publish(model.MetricEvent{
			Kind:          model.MetricSlowAvailability,
			ParaID:        rec.ParaID,
			CandidateHash: rec.CandidateHash,
			RelayHeight:   atHeight,
		})
	}
}

func (t *Tracker) emitTimedOut(rec *model.CandidateRecord, atHeight uint64) {
	t.sink.Publish(model.MetricEvent{
		Kind:          model.MetricTimedOut,
		ParaID:        rec.ParaID,
		CandidateHash: rec.CandidateHash,
		RelayHeight:   atHeight,
	})
}

func (t *Tracker) emitDisputed(rec *model.CandidateRecord, atHeight uint64) {
	var latency uint64
	if rec.BackedAt > 0 && atHeight >= rec.BackedAt {
		latency = atHeight - rec.BackedAt
	}
	t.sink.Publish(model.MetricEvent{
		Kind:          model.MetricDisputed,
		ParaID:        rec.ParaID,
		CandidateHash: rec.CandidateHash,
		RelayHeight:   atHeight,
		LatencyBlocks: latency,
		Outcome:       rec.Outcome,
	})
}

// replayPending applies buffered children of a newly known block, oldest
// height first.
func (t *Tracker) replayPending(parent model.Hash) {
	events, ok := t.pending[parent]
	if !ok {
		return
	}
	delete(t.pending, parent)
	t.pendingCount -= len(events)
	t.metrics.SetBufferedEvents(t.pendingCount)

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Relay.Height < events[j].Relay.Height
	})
	for _, ev := range events {
		t.applyCandidate(ev)
	}
}

func (t *Tracker) handleFinalized(ref model.BlockRef) {
	// Anything still buffered at or below the finalized height has waited
	// long enough; finality outranks ordering.
	t.flushPendingUpTo(ref.Height)

	t.arena.add(ref)
	if ref.Height > t.bestHeight {
		t.bestHeight = ref.Height
	}
	if ref.Height > t.lastFinalized {
		t.lastFinalized = ref.Height
	}

	// The finalized block may be the parent a buffered child was waiting for.
	t.replayPending(ref.Hash)

	canonical := t.arena.canonicalChain(ref.Hash)

	paras := t.sortedParas()
	for _, para := range paras {
		tl := t.timelines[para]
		included := t.finalizeTimeline(tl, ref, canonical)
		if !included {
			t.sink.Publish(model.MetricEvent{
				Kind:        model.MetricSkippedSlot,
				ParaID:      para,
				RelayHeight: ref.Height,
			})
		}
		t.markLocalTimeouts(tl, ref.Height)
	}

	t.evictStalled(ref.Height)
	t.pruneWindow(ref.Height)
	t.writeCheckpoints()
}

// finalizeTimeline settles every candidate at or below the finalized
// height: canonical Included candidates emit the finality latency and
// close; sibling-fork candidates are pruned without metrics. Returns
// whether any candidate reached finality this round.
func (t *Tracker) finalizeTimeline(tl *timeline, final model.BlockRef, canonical map[uint64]model.Hash) bool {
	type settled struct {
		hash model.Hash
		rec  *model.CandidateRecord
	}
	var contenders []settled
	pruned := 0

	for hash, rec := range tl.candidates {
		if rec.RelayParent.Height > final.Height {
			continue
		}
		if canonHash, known := canonical[rec.RelayParent.Height]; known && canonHash != rec.RelayParent.Hash {
			tl.drop(hash)
			t.openCount.Add(-1)
			pruned++
			continue
		}
		if rec.Status == model.StatusIncluded || rec.Status == model.StatusDisputed {
			contenders = append(contenders, settled{hash: hash, rec: rec})
		}
	}
	if pruned > 0 {
		t.metrics.ObserveForkPruned(pruned)
	}

	// At most one Included candidate per finalized height: order the
	// survivors deterministically and keep the first per height.
	sort.Slice(contenders, func(i, j int) bool {
		if contenders[i].rec.RelayParent.Height != contenders[j].rec.RelayParent.Height {
			return contenders[i].rec.RelayParent.Height < contenders[j].rec.RelayParent.Height
		}
		return bytes.Compare(contenders[i].hash[:], contenders[j].hash[:]) < 0
	})

	anyFinalized := false
	taken := make(map[uint64]bool)
	for _, c := range contenders {
		if c.rec.Status == model.StatusIncluded {
			if taken[c.rec.RelayParent.Height] {
				tl.drop(c.hash)
				t.openCount.Add(-1)
				t.metrics.ObserveForkPruned(1)
				continue
			}
			taken[c.rec.RelayParent.Height] = true
			var latency uint64
			if c.rec.BackedAt > 0 && final.Height >= c.rec.BackedAt {
				latency = final.Height - c.rec.BackedAt
			}
			t.sink.Publish(model.MetricEvent{
				Kind:          model.MetricFinality,
				ParaID:        tl.paraID,
				CandidateHash: c.rec.CandidateHash,
				RelayHeight:   final.Height,
				LatencyBlocks: latency,
			})
			anyFinalized = true
		}
		// Included and Disputed are both terminal once finality passes.
		tl.drop(c.hash)
		t.openCount.Add(-1)
	}
	return anyFinalized
}

func (t *Tracker) markLocalTimeouts(tl *timeline, finalHeight uint64) {
	if t.cfg.TimeoutBlocks == 0 {
		return
	}
	for _, rec := range tl.candidates {
		if rec.Status != model.StatusBacked {
			continue
		}
		if rec.BackedAt > 0 && finalHeight >= rec.BackedAt+t.cfg.TimeoutBlocks {
			rec.Status = model.StatusTimedOut
			rec.LocalTimeout = true
			t.emitTimedOut(rec, finalHeight)
		}
	}
}

func (t *Tracker) evictStalled(finalHeight uint64) {
	if t.cfg.StallBlocks == 0 {
		return
	}
	for para, tl := range t.timelines {
		if tl.lastActivity == 0 || finalHeight <= tl.lastActivity+t.cfg.StallBlocks {
			continue
		}
		t.openCount.Add(-int64(len(tl.candidates)))
		delete(t.timelines, para)
		if t.checkpoints != nil {
			if err := t.checkpoints.Delete(para); err != nil {
				t.logger.Warn("checkpoint delete failed", zap.Error(err))
			}
		}
		t.logger.Info("evicted stalled parachain",
			zap.Uint32("para_id", uint32(para)),
			zap.Uint64("last_activity", tl.lastActivity),
			zap.Uint64("finalized", finalHeight))
	}
}

// pruneWindow drops arena blocks, candidates and buffered events older than
// the in-memory window.
func (t *Tracker) pruneWindow(finalHeight uint64) {
	if finalHeight <= t.cfg.MaxBlocks {
		return
	}
	floor := finalHeight - t.cfg.MaxBlocks

	t.arena.pruneBelow(floor)

	for _, tl := range t.timelines {
		for hash, rec := range tl.candidates {
			if rec.RelayParent.Height < floor {
				tl.drop(hash)
				t.openCount.Add(-1)
			}
		}
	}

	for parent, events := range t.pending {
		kept := events[:0]
		for _, ev := range events {
			if ev.Relay.Height >= floor {
				kept = append(kept, ev)
			}
		}
		t.pendingCount -= len(events) - len(kept)
		if len(kept) == 0 {
			delete(t.pending, parent)
		} else {
			t.pending[parent] = kept
		}
	}
	t.metrics.SetBufferedEvents(t.pendingCount)
}

// flushPendingUpTo force-applies buffered events at or below a finalized
// height in height order.
func (t *Tracker) flushPendingUpTo(height uint64) {
	var due []model.ProgressEvent
	for parent, events := range t.pending {
		kept := events[:0]
		for _, ev := range events {
			if ev.Relay.Height <= height {
				due = append(due, ev)
			} else {
				kept = append(kept, ev)
			}
		}
		t.pendingCount -= len(events) - len(kept)
		if len(kept) == 0 {
			delete(t.pending, parent)
		} else {
			t.pending[parent] = kept
		}
	}
	if len(due) == 0 {
		return
	}
	t.metrics.SetBufferedEvents(t.pendingCount)
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].Relay.Height < due[j].Relay.Height
	})
	for _, ev := range due {
		t.applyCandidate(ev)
	}
}

func (t *Tracker) handleReorg(pruned []model.BlockRef) {
	count := 0
	for _, ref := range pruned {
		t.arena.remove(ref.Hash)
		delete(t.pending, ref.Hash)
		for _, tl := range t.timelines {
			for hash, rec := range tl.candidates {
				if rec.RelayParent.Hash == ref.Hash {
					tl.drop(hash)
					t.openCount.Add(-1)
					count++
				}
			}
		}
	}
	if count > 0 {
		t.metrics.ObserveForkPruned(count)
		t.logger.Info("discarded candidates on reorged blocks",
			zap.Int("candidates", count),
			zap.Int("blocks", len(pruned)))
	}
}

// writeCheckpoints persists one snapshot per timeline. Failures are logged
// and retried on the next finalization boundary.
func (t *Tracker) writeCheckpoints() {
	if t.checkpoints == nil {
		return
	}
	for _, para := range t.sortedParas() {
		tl := t.timelines[para]
		cp := &model.PersistedCheckpoint{
			ParaID:              para,
			LastFinalizedHeight: t.lastFinalized,
			Open:                tl.open(),
		}
		if err := t.checkpoints.Save(cp); err != nil {
			t.logger.Warn("checkpoint write failed, will retry",
				zap.Uint32("para_id", uint32(para)),
				zap.Error(err))
		}
	}
}

func (t *Tracker) sortedParas() []model.ParaID {
	paras := make([]model.ParaID, 0, len(t.timelines))
	for para := range t.timelines {
		paras = append(paras, para)
	}
	sort.Slice(paras, func(i, j int) bool { return paras[i] < paras[j] })
	return paras
}
