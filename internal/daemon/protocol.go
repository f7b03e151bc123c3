package daemon

import (
	"github.com/Aman-CERP/anythingd/internal/fanout"
	"github.com/Aman-CERP/anythingd/internal/mountinfo"
	"github.com/Aman-CERP/anythingd/internal/registry"
)

// JSON-RPC 2.0 method names.
const (
	MethodPing      = "ping"
	MethodStatus    = "status"
	MethodObservers = "observers"
	MethodRelay     = "relay"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Custom error codes for daemon-specific errors.
const (
	ErrCodeObserverNotFound = -32001
	ErrCodeRelayFailed      = -32002
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      string `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, result any) Response {
	return Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
		},
		ID: id,
	}
}

// ObserversParams are the parameters for the observers method.
type ObserversParams struct {
	// Key restricts the result to one observer (optional).
	Key string `json:"key,omitempty"`
}

// ObserversResult lists registered observers ordered by key.
type ObserversResult struct {
	Observers []registry.EntryInfo `json:"observers"`
}

// StatusResult contains daemon status information.
type StatusResult struct {
	Running   bool   `json:"running"`
	PID       int    `json:"pid"`
	Uptime    string `json:"uptime"`
	Observers int    `json:"observers"`

	Events         fanout.Stats `json:"events"`
	WatcherType    string       `json:"watcher_type,omitempty"`
	WatcherDropped uint64       `json:"watcher_dropped"`
	Roots          []string     `json:"roots,omitempty"`
	PluginDir      string       `json:"plugin_dir,omitempty"`

	// Relay is nil when the relay is disabled.
	Relay *mountinfo.Result `json:"relay,omitempty"`
}

// PingResult is the response to a ping request.
type PingResult struct {
	Pong bool `json:"pong"`
}
