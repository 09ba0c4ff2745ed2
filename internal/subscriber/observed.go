package subscriber

import (
	"context"
	"time"

	"github.com/relaywatch/relaywatch-backend/internal/model"
)

// ObservedConn wraps a Conn and records per-call metrics.
type ObservedConn struct {
	conn       Conn
	rpcMetrics RPCMetrics
}

func NewObservedConn(conn Conn, rpcMetrics RPCMetrics) *ObservedConn {
	return &ObservedConn{
		conn:       conn,
		rpcMetrics: rpcMetrics,
	}
}

func (o *ObservedConn) Next(ctx context.Context) (ev HeadEvent, err error) {
	started := time.Now()
	defer func() {
		o.rpcMetrics.Observe("next_head", err, started)
	}()
	return o.conn.Next(ctx)
}

func (o *ObservedConn) BlockHash(ctx context.Context, height uint64) (hash model.Hash, err error) {
	started := time.Now()
	defer func() {
		o.rpcMetrics.Observe("block_hash", err, started)
	}()
	return o.conn.BlockHash(ctx, height)
}

func (o *ObservedConn) ReadStorage(ctx context.Context, key []byte, at model.Hash) (raw []byte, err error) {
	started := time.Now()
	defer func() {
		o.rpcMetrics.Observe("read_storage", err, started)
	}()
	return o.conn.ReadStorage(ctx, key, at)
}

func (o *ObservedConn) Close() error {
	return o.conn.Close()
}

// observedDialer wraps every dialed connection with an ObservedConn.
type observedDialer struct {
	inner      Dialer
	rpcMetrics RPCMetrics
}

// NewObservedDialer instruments all connections produced by a Dialer.
func NewObservedDialer(inner Dialer, rpcMetrics RPCMetrics) Dialer {
	return &observedDialer{inner: inner, rpcMetrics: rpcMetrics}
}

func (d *observedDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, err := d.inner.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	return NewObservedConn(conn, d.rpcMetrics), nil
}
