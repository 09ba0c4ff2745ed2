// Package app assembles the pipeline for each run mode.
package app

import (
	"errors"
	"fmt"

	"github.com/relaywatch/relaywatch-backend/internal/model"
)

// Mode selects which components get wired together. Decided once at
// startup.
type Mode string

const (
	ModeParachainTracer Mode = "parachain-tracer"
	ModeBlockTime       Mode = "block-time"
	ModeWhoIsValidator  Mode = "who-is-validator"
)

// Config is the validated configuration handed to the pipeline.
type Config struct {
	Mode Mode

	NodeURLs []string
	// StoragePath is the embedded database directory. Empty runs without
	// persistence (state is lost on restart).
	StoragePath string
	// MetricsAddr serves /metrics and /v1/health. Empty disables the server.
	MetricsAddr string
	// TraceCollectorAddr receives batched JSON trace events. Empty disables
	// the trace sink.
	TraceCollectorAddr string

	// TimeoutBlocks marks a candidate TimedOut locally after this many
	// relay blocks without progress.
	TimeoutBlocks uint32
	// MaxBlocks bounds the tracker's in-memory window.
	MaxBlocks uint32
	// StallBlocks evicts parachains idle for this many blocks. 0 disables.
	StallBlocks uint32
	// ParaIDs restricts tracking; empty tracks every parachain observed.
	ParaIDs []uint32
}

// Validate rejects configurations the pipeline cannot start with.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeParachainTracer, ModeBlockTime, ModeWhoIsValidator:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if len(c.NodeURLs) == 0 {
		return errors.New("at least one node url is required")
	}
	for _, url := range c.NodeURLs {
		if url == "" {
			return errors.New("node url must not be empty")
		}
	}
	return nil
}

// Paras converts the configured parachain IDs to the model type.
func (c *Config) Paras() []model.ParaID {
	out := make([]model.ParaID, 0, len(c.ParaIDs))
	for _, id := range c.ParaIDs {
		out = append(out, model.ParaID(id))
	}
	return out
}
