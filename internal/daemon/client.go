package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/anythingd/internal/mountinfo"
	"github.com/Aman-CERP/anythingd/internal/registry"
)

// Client talks to a running daemon over its Unix socket.
type Client struct {
	socketPath string
	timeout    time.Duration
	requestID  atomic.Uint64
}

// RPCError is a JSON-RPC error returned by the daemon.
type RPCError struct {
	Method string
	Code   int
	Msg    string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s failed: %s (code: %d)", e.Method, e.Msg, e.Code)
}

// NewClient creates a new daemon client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	return &Client{
		socketPath: cfg.SocketPath,
		timeout:    timeout,
	}
}

// Connect establishes a connection to the daemon.
func (c *Client) Connect() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	return conn, nil
}

// IsRunning checks if the daemon is accepting connections.
func (c *Client) IsRunning() bool {
	conn, err := c.Connect()
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Ping checks if the daemon is responsive.
func (c *Client) Ping(ctx context.Context) error {
	var pong PingResult
	if err := c.call(ctx, MethodPing, nil, &pong); err != nil {
		return err
	}
	if !pong.Pong {
		return fmt.Errorf("ping failed: unexpected response")
	}
	return nil
}

// Status retrieves daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	var status StatusResult
	if err := c.call(ctx, MethodStatus, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Observers lists registered observers. An empty key lists all of them.
func (c *Client) Observers(ctx context.Context, key string) ([]registry.EntryInfo, error) {
	var params any
	if key != "" {
		params = ObserversParams{Key: key}
	}
	var result ObserversResult
	if err := c.call(ctx, MethodObservers, params, &result); err != nil {
		return nil, err
	}
	return result.Observers, nil
}

// Relay asks the daemon to copy the mount table again.
// The result is filled in even when the relay fails.
func (c *Client) Relay(ctx context.Context) (mountinfo.Result, error) {
	var result mountinfo.Result
	err := c.call(ctx, MethodRelay, nil, &result)
	return result, err
}

// call performs one request/response exchange on a fresh connection.
// On an RPC error carrying data, the data is decoded into out as well.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	conn, err := c.Connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	// Set deadline from context or timeout
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID(),
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("failed to receive response: %w", err)
	}

	if resp.Error != nil {
		if resp.Error.Data != nil && out != nil {
			_ = decodeParams(resp.Error.Data, out)
		}
		return &RPCError{Method: method, Code: resp.Error.Code, Msg: resp.Error.Message}
	}
	if out == nil {
		return nil
	}
	if err := decodeParams(resp.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// nextID generates a unique request ID.
func (c *Client) nextID() string {
	id := c.requestID.Add(1)
	return fmt.Sprintf("req-%d", id)
}
