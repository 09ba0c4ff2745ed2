package exporter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relaywatch/relaywatch-backend/internal/model"
)

type recordingSink struct {
	mu     sync.Mutex
	events []model.MetricEvent
}

func (s *recordingSink) Publish(ev model.MetricEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) snapshot() []model.MetricEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.MetricEvent, len(s.events))
	copy(out, s.events)
	return out
}

type countingMetrics struct {
	mu        sync.Mutex
	published int
	dropped   int
}

func (m *countingMetrics) ObservePublished(model.MetricKind) {
	m.mu.Lock()
	m.published++
	m.mu.Unlock()
}

func (m *countingMetrics) ObserveDropped(n int) {
	m.mu.Lock()
	m.dropped += n
	m.mu.Unlock()
}

func TestBufferedForwardsAndStops(t *testing.T) {
	t.Parallel()

	inner := &recordingSink{}
	b := NewBuffered(inner, 16, &countingMetrics{}, zap.NewNop())
	b.Start(context.Background())

	for i := 0; i < 5; i++ {
		b.Publish(model.MetricEvent{Kind: model.MetricBacked, RelayHeight: uint64(i)})
	}
	b.Stop()

	events := inner.snapshot()
	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, uint64(i), ev.RelayHeight, "order preserved")
	}
}

func TestBufferedDropsOldestWhenFull(t *testing.T) {
	t.Parallel()

	inner := &recordingSink{}
	metrics := &countingMetrics{}
	// Not started: the queue only fills.
	b := NewBuffered(inner, 2, metrics, zap.NewNop())

	for i := 0; i < 5; i++ {
		b.Publish(model.MetricEvent{RelayHeight: uint64(i)})
	}

	b.Start(context.Background())
	b.Stop()

	events := inner.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, uint64(3), events[0].RelayHeight, "oldest entries gave way")
	assert.Equal(t, uint64(4), events[1].RelayHeight)

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.Equal(t, 3, metrics.dropped)
	assert.Equal(t, 5, metrics.published)
}

func TestTraceSinkPostsBatches(t *testing.T) {
	t.Parallel()

	type received struct {
		records []map[string]any
	}
	got := make(chan received, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var records []map[string]any
		require.NoError(t, json.Unmarshal(body, &records))
		got <- received{records: records}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewTraceSink(srv.URL, srv.Client(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink.Start(ctx)

	var hash model.Hash
	hash[0] = 0xab
	sink.Publish(model.MetricEvent{
		Kind:          model.MetricIncluded,
		ParaID:        2000,
		CandidateHash: hash,
		RelayHeight:   100,
		LatencyBlocks: 2,
	})
	sink.Stop()

	select {
	case batch := <-got:
		require.Len(t, batch.records, 1)
		rec := batch.records[0]
		assert.Equal(t, "included", rec["kind"])
		assert.Equal(t, float64(2000), rec["para_id"])
		assert.Equal(t, float64(100), rec["relay_height"])
		assert.Equal(t, hash.Hex(), rec["candidate_hash"])
	case <-time.After(2 * time.Second):
		t.Fatal("trace collector received nothing")
	}
}

func TestValidatorSinkResolvesBackers(t *testing.T) {
	t.Parallel()

	sink := NewValidatorSink(zap.NewNop())

	var a, b model.AccountID
	a[0], b[0] = 0x01, 0x02
	sink.SetValidators([]model.AccountID{a, b})

	acc, ok := sink.Resolve(1)
	require.True(t, ok)
	assert.Equal(t, b, acc)

	_, ok = sink.Resolve(7)
	assert.False(t, ok, "index beyond the set is unknown")
}

func TestMultiFansOut(t *testing.T) {
	t.Parallel()

	first := &recordingSink{}
	second := &recordingSink{}
	multi := Multi{first, second}

	multi.Publish(model.MetricEvent{Kind: model.MetricBacked})

	assert.Len(t, first.snapshot(), 1)
	assert.Len(t, second.snapshot(), 1)
}

type fakeDomainMetrics struct {
	backed, included, finality int
	lastLatency                uint64
}

func (f *fakeDomainMetrics) ObserveBacked(model.ParaID) { f.backed++ }
func (f *fakeDomainMetrics) ObserveIncluded(_ model.ParaID, latency uint64) {
	f.included++
	f.lastLatency = latency
}
func (f *fakeDomainMetrics) ObserveFinality(_ model.ParaID, latency uint64) {
	f.finality++
	f.lastLatency = latency
}
func (f *fakeDomainMetrics) ObserveTimedOut(model.ParaID)                               {}
func (f *fakeDomainMetrics) ObserveDisputed(model.ParaID, model.DisputeOutcome, uint64) {}
func (f *fakeDomainMetrics) ObserveSkippedSlot(model.ParaID)                            {}
func (f *fakeDomainMetrics) ObserveSlowAvailability(model.ParaID)                       {}
func (f *fakeDomainMetrics) ObserveLowBitfields(model.ParaID)                           {}
func (f *fakeDomainMetrics) ObserveBlockTime(float64)                                   {}

func TestPrometheusSinkDispatch(t *testing.T) {
	t.Parallel()

	fake := &fakeDomainMetrics{}
	sink := NewPrometheusSink(fake)

	sink.Publish(model.MetricEvent{Kind: model.MetricBacked, ParaID: 2000})
	sink.Publish(model.MetricEvent{Kind: model.MetricFinality, ParaID: 2000, LatencyBlocks: 4})

	assert.Equal(t, 1, fake.backed)
	assert.Equal(t, 1, fake.finality)
	assert.Equal(t, uint64(4), fake.lastLatency)
}
