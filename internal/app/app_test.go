package app

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "tracer mode ok",
			cfg:  Config{Mode: ModeParachainTracer, NodeURLs: []string{"ws://localhost:9944"}},
		},
		{
			name: "block time mode ok",
			cfg:  Config{Mode: ModeBlockTime, NodeURLs: []string{"ws://a", "ws://b"}},
		},
		{
			name:    "unknown mode",
			cfg:     Config{Mode: "watch-everything", NodeURLs: []string{"ws://a"}},
			wantErr: true,
		},
		{
			name:    "no nodes",
			cfg:     Config{Mode: ModeParachainTracer},
			wantErr: true,
		},
		{
			name:    "empty node url",
			cfg:     Config{Mode: ModeWhoIsValidator, NodeURLs: []string{""}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	server := newHTTPServer(":0", func() int { return 7 })

	req := httptest.NewRequest("GET", "/v1/health", nil)
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var payload healthPayload
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&payload))
	assert.Equal(t, 7, payload.CandidatesStored)
	assert.NotZero(t, payload.Timestamp)
}

func TestMetricsEndpointServed(t *testing.T) {
	t.Parallel()

	server := newHTTPServer(":0", func() int { return 0 })

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestAppShutsDownCleanly(t *testing.T) {
	t.Parallel()

	// Unreachable node: the subscriber stays in its retry loop until the
	// context ends, which must still produce a clean shutdown.
	a, err := New(Config{
		Mode:     ModeParachainTracer,
		NodeURLs: []string{"ws://127.0.0.1:1"},
	}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not shut down")
	}
}
