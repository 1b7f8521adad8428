package wire

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/distsearch/query-core/internal/admission"
	"github.com/distsearch/query-core/pkg/metrics"
)

// Handler processes one decoded request and returns the response to write
// back, or an error; on error the server logs it and closes the connection
// without writing a response.
type Handler func(ctx context.Context, clientID string, req *Request) (int32, []ResponseDoc, error)

// Server accepts connections on the binary query protocol listener,
// admission-controls them per client, and dispatches each request to
// Handler. One connection serves one request/response exchange, matching
// the original server's per-query socket lifecycle.
type Server struct {
	addr         string
	readTimeout  time.Duration
	writeTimeout time.Duration
	handler      Handler
	admission    *admission.Limiter
	admitLimit   int
	metrics      *metrics.Metrics
	logger       *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer creates a Server. admit may be nil to disable admission control;
// admitLimit is the per-client connection budget passed to admission.Allow.
func NewServer(addr string, readTimeout, writeTimeout time.Duration, handler Handler, admit *admission.Limiter, admitLimit int, m *metrics.Metrics) *Server {
	return &Server{
		addr:         addr,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		handler:      handler,
		admission:    admit,
		admitLimit:   admitLimit,
		metrics:      m,
		logger:       slog.Default().With("component", "wire-server"),
	}
}

// Serve binds the listener and runs the accept loop until ctx is cancelled
// or a non-transient Accept error occurs. It blocks until all in-flight
// connections have been handled.
func (s *Server) Serve(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Unlock()
	}()

	s.logger.Info("wire server listening", "addr", s.addr)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.wg.Wait()
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	clientAddr := conn.RemoteAddr().String()
	if s.admission != nil && !s.admission.Allow(clientAddr, s.admitLimit) {
		s.logger.Warn("connection rejected by admission control", "client", clientAddr)
		return
	}

	if s.readTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	}
	req, err := ReadRequest(conn)
	if err != nil {
		s.logger.Error("failed to decode request", "client", clientAddr, "error", err)
		return
	}

	if s.metrics != nil {
		s.metrics.QueryInFlight.Inc()
		defer s.metrics.QueryInFlight.Dec()
	}

	maxWordDivNum, docs, err := s.handler(ctx, clientAddr, req)
	if err != nil {
		s.logger.Error("query handler failed", "client", clientAddr, "error", err)
		return
	}

	if s.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if err := WriteResponse(conn, maxWordDivNum, docs); err != nil {
		s.logger.Error("failed to write response", "client", clientAddr, "error", err)
	}
}
