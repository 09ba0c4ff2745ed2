package subscriber

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relaywatch/relaywatch-backend/internal/clock"
	"github.com/relaywatch/relaywatch-backend/internal/codec"
	"github.com/relaywatch/relaywatch-backend/internal/model"
	"github.com/relaywatch/relaywatch-backend/pkg/priochan"
)

var errConnDropped = errors.New("connection dropped")

func hashAt(height uint64) model.Hash {
	var h model.Hash
	binary.LittleEndian.PutUint64(h[:8], height)
	h[31] = 0x01
	return h
}

type fakeConn struct {
	events chan HeadEvent
	// dropOnEnd makes Next fail once the script is exhausted instead of
	// blocking until cancellation.
	dropOnEnd bool

	mu      sync.Mutex
	storage map[model.Hash][]byte
	reads   []uint64
}

func newFakeConn(dropOnEnd bool) *fakeConn {
	return &fakeConn{
		events:    make(chan HeadEvent, 16),
		dropOnEnd: dropOnEnd,
		storage:   make(map[model.Hash][]byte),
	}
}

func (f *fakeConn) Next(ctx context.Context) (HeadEvent, error) {
	select {
	case <-ctx.Done():
		return HeadEvent{}, ctx.Err()
	case ev, ok := <-f.events:
		if ok {
			return ev, nil
		}
		if f.dropOnEnd {
			return HeadEvent{}, errConnDropped
		}
		<-ctx.Done()
		return HeadEvent{}, ctx.Err()
	}
}

func (f *fakeConn) BlockHash(ctx context.Context, height uint64) (model.Hash, error) {
	f.mu.Lock()
	f.reads = append(f.reads, height)
	f.mu.Unlock()
	return hashAt(height), nil
}

func (f *fakeConn) ReadStorage(_ context.Context, key []byte, at model.Hash) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.storage[storageKey(key, at)], nil
}

func storageKey(key []byte, at model.Hash) model.Hash {
	var h model.Hash
	copy(h[:], at[:])
	for i, b := range key {
		h[i%32] ^= b
	}
	return h
}

func (f *fakeConn) setStorage(key []byte, at model.Hash, value []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.storage[storageKey(key, at)] = value
}

func (f *fakeConn) Close() error { return nil }

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
	err   error
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	if len(d.conns) == 0 {
		conn := newFakeConn(false)
		d.conns = append(d.conns, conn)
		return conn, nil
	}
	conn := d.conns[0]
	if len(d.conns) > 1 {
		d.conns = d.conns[1:]
	}
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type nopMetrics struct {
	mu             sync.Mutex
	decodeFailures int
}

func (m *nopMetrics) SetConnectionStatus(string, model.SubscriptionStatus) {}
func (m *nopMetrics) ObserveHead(string, bool)                             {}
func (m *nopMetrics) ObserveDecodeFailure(string) {
	m.mu.Lock()
	m.decodeFailures++
	m.mu.Unlock()
}

func newTestChannel() *priochan.Channel[model.ProgressEvent] {
	lanes := make([]priochan.Lane, model.PriorityLanes)
	for i := range lanes {
		lanes[i] = priochan.Lane{Capacity: 64, Policy: priochan.Block}
	}
	return priochan.New[model.ProgressEvent](lanes...)
}

func testConfig() Config {
	return Config{
		URL:     "ws://node-a",
		Backoff: clock.Backoff{Initial: time.Millisecond, Max: time.Millisecond},
	}
}

func receiveEvent(t *testing.T, ch *priochan.Channel[model.ProgressEvent]) model.ProgressEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, err := ch.Receive(ctx)
	require.NoError(t, err)
	return ev
}

func TestSubscriberEmitsCandidateEvents(t *testing.T) {
	t.Parallel()

	conn := newFakeConn(false)
	backed := model.CandidateRecord{
		ParaID:  2000,
		Status:  model.StatusBacked,
		Backers: []model.ValidatorIndex{0, 2},
		MaxBits: 4,
	}
	backed.CandidateHash[0] = 0xc1
	conn.setStorage(KeyCandidateEvents, hashAt(100), codec.EncodeCandidateEvents([]model.CandidateRecord{backed}))
	conn.events <- HeadEvent{Ref: model.BlockRef{Height: 100, ParentHash: hashAt(99)}}

	ch := newTestChannel()
	defer ch.Close()
	sub := New(testConfig(), &fakeDialer{conns: []*fakeConn{conn}}, ch, &nopMetrics{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	ev := receiveEvent(t, ch)
	assert.Equal(t, model.EventNewCandidate, ev.Kind)
	require.NotNil(t, ev.Candidate)
	assert.Equal(t, model.ParaID(2000), ev.Candidate.ParaID)
	assert.Equal(t, model.StatusBacked, ev.Candidate.Status)
	assert.Equal(t, uint64(100), ev.Candidate.BackedAt)
	assert.Equal(t, []model.ValidatorIndex{0, 2}, ev.Candidate.Backers)
	assert.Equal(t, hashAt(100), ev.Relay.Hash, "hash must be resolved via BlockHash")
	assert.Equal(t, "ws://node-a", ev.NodeURL)
}

func TestSubscriberEmitsFinalized(t *testing.T) {
	t.Parallel()

	conn := newFakeConn(false)
	conn.events <- HeadEvent{Ref: model.BlockRef{Height: 90, ParentHash: hashAt(89)}, Finalized: true}

	ch := newTestChannel()
	defer ch.Close()
	sub := New(testConfig(), &fakeDialer{conns: []*fakeConn{conn}}, ch, &nopMetrics{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	ev := receiveEvent(t, ch)
	assert.Equal(t, model.EventFinalized, ev.Kind)
	assert.Equal(t, uint64(90), ev.Relay.Height)
	assert.Equal(t, hashAt(90), ev.Relay.Hash)
	assert.Equal(t, uint64(90), sub.State().LastFinalizedHeight)
}

func TestSubscriberDisconnectEmitsControlAndRedials(t *testing.T) {
	t.Parallel()

	dropping := newFakeConn(true)
	close(dropping.events)
	steady := newFakeConn(false)

	dialer := &fakeDialer{conns: []*fakeConn{dropping, steady}}
	ch := newTestChannel()
	defer ch.Close()
	sub := New(testConfig(), dialer, ch, &nopMetrics{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	ev := receiveEvent(t, ch)
	assert.Equal(t, model.EventDisconnected, ev.Kind)
	assert.Equal(t, "ws://node-a", ev.NodeURL)

	require.Eventually(t, func() bool {
		return dialer.dialCount() >= 2
	}, 2*time.Second, 10*time.Millisecond, "subscriber must redial after a drop")
}

func TestSubscriberSkipsUndecodableBlock(t *testing.T) {
	t.Parallel()

	conn := newFakeConn(false)
	conn.setStorage(KeyCandidateEvents, hashAt(100), []byte{0xff, 0xff})
	conn.events <- HeadEvent{Ref: model.BlockRef{Height: 100, ParentHash: hashAt(99)}}
	conn.events <- HeadEvent{Ref: model.BlockRef{Height: 101, ParentHash: hashAt(100)}, Finalized: true}

	ch := newTestChannel()
	defer ch.Close()
	metrics := &nopMetrics{}
	sub := New(testConfig(), &fakeDialer{conns: []*fakeConn{conn}}, ch, metrics, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	// The garbled block produces nothing; the next event is the finalization.
	ev := receiveEvent(t, ch)
	assert.Equal(t, model.EventFinalized, ev.Kind)
	assert.Equal(t, uint64(101), ev.Relay.Height)

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.Equal(t, 1, metrics.decodeFailures)
}

func TestSubscriberResyncsMissedHeights(t *testing.T) {
	t.Parallel()

	conn := newFakeConn(false)
	for h := uint64(100); h <= 105; h++ {
		rec := model.CandidateRecord{ParaID: 2000, Status: model.StatusBacked, MaxBits: 1}
		rec.CandidateHash[0] = byte(h)
		conn.setStorage(KeyCandidateEvents, hashAt(h), codec.EncodeCandidateEvents([]model.CandidateRecord{rec}))
	}
	conn.events <- HeadEvent{Ref: model.BlockRef{Height: 100, ParentHash: hashAt(99)}}
	conn.events <- HeadEvent{Ref: model.BlockRef{Height: 105, ParentHash: hashAt(104)}}

	ch := newTestChannel()
	defer ch.Close()
	sub := New(testConfig(), &fakeDialer{conns: []*fakeConn{conn}}, ch, &nopMetrics{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	seen := make(map[uint64]bool)
	for i := 0; i < 6; i++ {
		ev := receiveEvent(t, ch)
		require.Equal(t, model.EventNewCandidate, ev.Kind)
		seen[ev.Relay.Height] = true
	}
	for h := uint64(100); h <= 105; h++ {
		assert.True(t, seen[h], "height %d must be backfilled", h)
	}
}

func TestSubscriberBlockTimeHook(t *testing.T) {
	t.Parallel()

	conn := newFakeConn(false)
	conn.events <- HeadEvent{Ref: model.BlockRef{Height: 100, ParentHash: hashAt(99)}}
	conn.events <- HeadEvent{Ref: model.BlockRef{Height: 101, ParentHash: hashAt(100)}}

	ch := newTestChannel()
	defer ch.Close()
	sub := New(testConfig(), &fakeDialer{conns: []*fakeConn{conn}}, ch, &nopMetrics{}, zap.NewNop())

	type sample struct {
		height  uint64
		seconds float64
	}
	samples := make(chan sample, 4)
	sub.OnBlockTime(func(height uint64, seconds float64) {
		samples <- sample{height, seconds}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	select {
	case s := <-samples:
		assert.Equal(t, uint64(101), s.height, "first gap is observed at the second head")
		assert.GreaterOrEqual(t, s.seconds, 0.0)
	case <-time.After(2 * time.Second):
		t.Fatal("no block-time sample observed")
	}
}

func TestSubscriberValidatorHook(t *testing.T) {
	t.Parallel()

	var id model.AccountID
	id[0] = 0xee
	w := codec.NewWriter()
	w.CompactUint(1)
	w.Raw(id[:])

	conn := newFakeConn(false)
	conn.setStorage(KeySessionValidators, hashAt(90), w.Bytes())
	conn.events <- HeadEvent{Ref: model.BlockRef{Height: 90, ParentHash: hashAt(89)}, Finalized: true}

	ch := newTestChannel()
	defer ch.Close()
	sub := New(testConfig(), &fakeDialer{conns: []*fakeConn{conn}}, ch, &nopMetrics{}, zap.NewNop())

	got := make(chan []model.AccountID, 1)
	sub.OnValidators(func(_ model.BlockRef, validators []model.AccountID) {
		got <- validators
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	select {
	case validators := <-got:
		require.Len(t, validators, 1)
		assert.Equal(t, id, validators[0])
	case <-time.After(2 * time.Second):
		t.Fatal("validator hook not invoked")
	}
}
