package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/relaywatch/relaywatch-backend/internal/model"
	"github.com/relaywatch/relaywatch-backend/pkg/batcher"
)

const (
	traceFlushSize      = 64
	traceFlushInterval  = 2 * time.Second
	traceRequestsPerSec = 10
)

// traceRecord is the JSON shape posted to the trace collector.
type traceRecord struct {
	Kind          string  `json:"kind"`
	ParaID        uint32  `json:"para_id"`
	CandidateHash string  `json:"candidate_hash,omitempty"`
	RelayHeight   uint64  `json:"relay_height"`
	LatencyBlocks uint64  `json:"latency_blocks,omitempty"`
	Outcome       string  `json:"outcome,omitempty"`
	Seconds       float64 `json:"seconds,omitempty"`
	ObservedAt    int64   `json:"observed_at"`
}

// TraceSink batches events and posts them to an HTTP trace collector.
type TraceSink struct {
	batch  *batcher.Batcher[model.MetricEvent]
	logger *zap.Logger
	ctx    context.Context
}

func NewTraceSink(collectorURL string, client *http.Client, logger *zap.Logger) *TraceSink {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	s := &TraceSink{logger: logger}
	s.batch = batcher.New(logger, func(ctx context.Context, events []model.MetricEvent) error {
		return postTraces(ctx, client, collectorURL, events)
	}, traceFlushSize, traceFlushInterval, traceRequestsPerSec)
	return s
}

// Start begins background flushing.
func (s *TraceSink) Start(ctx context.Context) {
	s.ctx = ctx
	s.batch.Start(ctx)
}

// Stop flushes anything buffered and stops.
func (s *TraceSink) Stop() {
	s.batch.Stop()
}

func (s *TraceSink) Publish(ev model.MetricEvent) {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.batch.Add(ctx, ev); err != nil {
		s.logger.Debug("trace event not accepted", zap.Error(err))
	}
}

func postTraces(ctx context.Context, client *http.Client, url string, events []model.MetricEvent) error {
	records := make([]traceRecord, 0, len(events))
	now := time.Now().Unix()
	for _, ev := range events {
		rec := traceRecord{
			Kind:          ev.Kind.String(),
			ParaID:        uint32(ev.ParaID),
			RelayHeight:   ev.RelayHeight,
			LatencyBlocks: ev.LatencyBlocks,
			Seconds:       ev.Seconds,
			ObservedAt:    now,
		}
		if !ev.CandidateHash.IsZero() {
			rec.CandidateHash = ev.CandidateHash.Hex()
		}
		if ev.Kind == model.MetricDisputed {
			rec.Outcome = ev.Outcome.String()
		}
		records = append(records, rec)
	}

	body, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode trace batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build trace request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post trace batch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("trace collector returned %s", resp.Status)
	}
	return nil
}
