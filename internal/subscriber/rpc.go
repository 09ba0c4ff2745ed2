package subscriber

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaywatch/relaywatch-backend/internal/model"
	"github.com/relaywatch/relaywatch-backend/pkg/safe"
)

const (
	methodSubscribeNewHeads       = "chain_subscribeNewHeads"
	methodSubscribeFinalizedHeads = "chain_subscribeFinalizedHeads"
	methodNewHead                 = "chain_newHead"
	methodFinalizedHead           = "chain_finalizedHead"
	methodGetBlockHash            = "chain_getBlockHash"
	methodGetStorage              = "state_getStorage"
)

// WSDialer dials substrate-style JSON-RPC nodes over WebSocket.
type WSDialer struct {
	HandshakeTimeout time.Duration
}

// Dial connects to the node and activates both head subscriptions.
func (d *WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	wsd := websocket.Dialer{HandshakeTimeout: timeout}

	ws, _, err := wsd.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	conn := &wsConn{
		ws:      ws,
		pending: make(map[uint64]chan rpcResult),
		heads:   make(chan HeadEvent, 64),
		done:    make(chan struct{}),
	}
	go conn.readLoop()

	var subID string
	if err := conn.call(ctx, methodSubscribeNewHeads, nil, &subID); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe new heads: %w", err)
	}
	if err := conn.call(ctx, methodSubscribeFinalizedHeads, nil, &subID); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe finalized heads: %w", err)
	}
	return conn, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// rpcEnvelope covers both call responses (ID set) and subscription
// notifications (Method set).
type rpcEnvelope struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcResult struct {
	raw json.RawMessage
	err error
}

type headNotification struct {
	Result struct {
		Number     string `json:"number"`
		ParentHash string `json:"parentHash"`
	} `json:"result"`
}

type wsConn struct {
	ws *websocket.Conn

	writeMu sync.Mutex
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan rpcResult

	heads chan HeadEvent

	closeOnce sync.Once
	done      chan struct{}
	readErr   error
}

func (c *wsConn) readLoop() {
	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}

		var env rpcEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			// A frame we cannot parse means we can no longer trust the
			// request/response pairing on this connection.
			c.fail(fmt.Errorf("malformed rpc frame: %w", err))
			return
		}

		switch {
		case env.ID != nil:
			c.mu.Lock()
			ch, ok := c.pending[*env.ID]
			delete(c.pending, *env.ID)
			c.mu.Unlock()
			if !ok {
				continue
			}
			if env.Error != nil {
				ch <- rpcResult{err: env.Error}
				continue
			}
			ch <- rpcResult{raw: env.Result}

		case env.Method == methodNewHead || env.Method == methodFinalizedHead:
			ev, err := parseHead(env.Params, env.Method == methodFinalizedHead)
			if err != nil {
				c.fail(fmt.Errorf("malformed head notification: %w", err))
				return
			}
			select {
			case c.heads <- ev:
			case <-c.done:
				return
			}
		}
	}
}

func parseHead(params json.RawMessage, finalized bool) (HeadEvent, error) {
	var note headNotification
	if err := json.Unmarshal(params, &note); err != nil {
		return HeadEvent{}, err
	}
	height, err := safe.Uint64FromHex(note.Result.Number)
	if err != nil {
		return HeadEvent{}, err
	}
	parent, err := model.HashFromHex(note.Result.ParentHash)
	if err != nil {
		return HeadEvent{}, err
	}
	return HeadEvent{
		Ref:       model.BlockRef{Height: height, ParentHash: parent},
		Finalized: finalized,
	}, nil
}

// fail records the first connection error and wakes everyone waiting.
func (c *wsConn) fail(err error) {
	c.closeOnce.Do(func() {
		c.readErr = err
		close(c.done)
		c.ws.Close()
	})
}

func (c *wsConn) call(ctx context.Context, method string, params []any, out any) error {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan rpcResult, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	if params == nil {
		req.Params = []any{}
	}

	c.writeMu.Lock()
	err := c.ws.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("%s: %w", method, c.readErr)
	case res := <-ch:
		if res.err != nil {
			return fmt.Errorf("%s: %w", method, res.err)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(res.raw, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
		return nil
	}
}

func (c *wsConn) Next(ctx context.Context) (HeadEvent, error) {
	select {
	case <-ctx.Done():
		return HeadEvent{}, ctx.Err()
	case <-c.done:
		return HeadEvent{}, c.readErr
	case ev := <-c.heads:
		return ev, nil
	}
}

func (c *wsConn) BlockHash(ctx context.Context, height uint64) (model.Hash, error) {
	var hexHash string
	if err := c.call(ctx, methodGetBlockHash, []any{height}, &hexHash); err != nil {
		return model.Hash{}, err
	}
	hash, err := model.HashFromHex(hexHash)
	if err != nil {
		return model.Hash{}, fmt.Errorf("block hash at %d: %w", height, err)
	}
	return hash, nil
}

func (c *wsConn) ReadStorage(ctx context.Context, key []byte, at model.Hash) ([]byte, error) {
	params := []any{"0x" + hex.EncodeToString(key), at.Hex()}

	var hexValue *string
	if err := c.call(ctx, methodGetStorage, params, &hexValue); err != nil {
		return nil, err
	}
	if hexValue == nil {
		return nil, nil
	}
	trimmed := *hexValue
	if len(trimmed) >= 2 && trimmed[:2] == "0x" {
		trimmed = trimmed[2:]
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("storage value at %s: %w", at, err)
	}
	return raw, nil
}

func (c *wsConn) Close() error {
	c.fail(fmt.Errorf("connection closed"))
	return nil
}
