package exporter

import (
	"go.uber.org/zap"

	"github.com/relaywatch/relaywatch-backend/internal/model"
)

// LogSink renders events through the process logger. It backs the plain
// CLI modes that have no collector configured.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(ev model.MetricEvent) {
	fields := []zap.Field{
		zap.Uint32("para_id", uint32(ev.ParaID)),
		zap.Uint64("relay_height", ev.RelayHeight),
	}
	if !ev.CandidateHash.IsZero() {
		fields = append(fields, zap.Stringer("candidate", ev.CandidateHash))
	}

	switch ev.Kind {
	case model.MetricBacked:
		fields = append(fields, zap.Int("backers", len(ev.Backers)))
	case model.MetricIncluded, model.MetricFinality:
		fields = append(fields, zap.Uint64("latency_blocks", ev.LatencyBlocks))
	case model.MetricDisputed:
		fields = append(fields,
			zap.String("outcome", ev.Outcome.String()),
			zap.Uint64("latency_blocks", ev.LatencyBlocks))
	case model.MetricBlockTime:
		fields = append(fields, zap.Float64("seconds", ev.Seconds))
	}
	s.logger.Info(ev.Kind.String(), fields...)
}
