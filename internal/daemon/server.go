package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/Aman-CERP/anythingd/internal/mountinfo"
	"github.com/Aman-CERP/anythingd/internal/registry"
)

// RequestHandler answers the queries the server cannot answer by itself.
type RequestHandler interface {
	Status() StatusResult
	Observers() []registry.EntryInfo
	Relay() (mountinfo.Result, error)
}

// Server listens on a Unix socket and handles RPC requests.
// One request is served per connection.
type Server struct {
	socketPath string
	logger     *slog.Logger
	listener   net.Listener
	handler    RequestHandler
	started    time.Time

	mu       sync.Mutex
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a new server that listens on the given socket path.
func NewServer(socketPath string, logger *slog.Logger) (*Server, error) {
	if socketPath == "" {
		return nil, fmt.Errorf("socket path cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// SetHandler sets the request handler.
func (s *Server) SetHandler(h RequestHandler) {
	s.handler = h
}

// ListenAndServe starts the server and blocks until context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	// A socket left by a crashed daemon would make Listen fail.
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		s.logger.Warn("failed to restrict socket permissions", slog.String("error", err.Error()))
	}

	s.mu.Lock()
	s.listener = listener
	s.started = time.Now()
	s.mu.Unlock()

	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
	}()

	s.logger.Info("server listening", slog.String("socket", s.socketPath))

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept error", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}

	s.wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(30 * time.Second)); err != nil {
		s.logger.Warn("failed to set connection deadline", slog.String("error", err.Error()))
	}

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var req Request
	if err := decoder.Decode(&req); err != nil {
		_ = encoder.Encode(NewErrorResponse("", ErrCodeParseError, "failed to parse request"))
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		_ = encoder.Encode(NewErrorResponse(req.ID, ErrCodeInvalidRequest, "invalid JSON-RPC 2.0 request"))
		return
	}

	resp := s.handleRequest(req)
	if err := encoder.Encode(resp); err != nil {
		s.logger.Debug("failed to write response",
			slog.String("method", req.Method),
			slog.String("error", err.Error()))
	}
}

// handleRequest dispatches a request to the appropriate handler.
func (s *Server) handleRequest(req Request) Response {
	switch req.Method {
	case MethodPing:
		return NewSuccessResponse(req.ID, PingResult{Pong: true})

	case MethodStatus:
		return NewSuccessResponse(req.ID, s.getStatus())

	case MethodObservers:
		return s.handleObservers(req)

	case MethodRelay:
		return s.handleRelay(req)

	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (s *Server) handleObservers(req Request) Response {
	if s.handler == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "no handler configured")
	}

	var params ObserversParams
	if req.Params != nil {
		if err := decodeParams(req.Params, &params); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
	}

	infos := s.handler.Observers()
	if params.Key == "" {
		return NewSuccessResponse(req.ID, ObserversResult{Observers: infos})
	}
	for _, info := range infos {
		if info.Key == params.Key {
			return NewSuccessResponse(req.ID, ObserversResult{Observers: []registry.EntryInfo{info}})
		}
	}
	return NewErrorResponse(req.ID, ErrCodeObserverNotFound, fmt.Sprintf("observer not found: %s", params.Key))
}

func (s *Server) handleRelay(req Request) Response {
	if s.handler == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "no handler configured")
	}
	result, err := s.handler.Relay()
	if err != nil {
		resp := NewErrorResponse(req.ID, ErrCodeRelayFailed, err.Error())
		resp.Error.Data = result
		return resp
	}
	return NewSuccessResponse(req.ID, result)
}

// getStatus merges the handler's view with process facts only the server knows.
func (s *Server) getStatus() StatusResult {
	var status StatusResult
	if s.handler != nil {
		status = s.handler.Status()
	}

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	status.Running = true
	status.PID = os.Getpid()
	status.Uptime = time.Since(started).Round(time.Second).String()
	return status
}

// Close stops the server.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = true
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// decodeParams converts the generic params value into out.
func decodeParams(params any, out any) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode params: %w", err)
	}
	return nil
}
