// Package tcp serves the line-oriented anomaly detection protocol: one request
// of whitespace-separated floats per line, one reply line per request.
package tcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/datasentinel/internal/domain"
	logpkg "github.com/kailas-cloud/datasentinel/internal/logger"
	"github.com/kailas-cloud/datasentinel/internal/metrics"
)

// Reply lines.
const (
	ReplyInvalidSize   = "ERROR: Invalid input size\n"
	ReplyInvalidFormat = "ERROR: Invalid input format\n"
	ReplyInference     = "ERROR: Inference failed\n"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("tcp: server closed")

// Evaluator scores one request vector.
type Evaluator interface {
	Evaluate(input []float32) (domain.DetectionResult, error)
}

// Config holds server limits. Zero timeouts disable deadlines.
type Config struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxLineBytes int
}

// Server accepts connections and runs one session goroutine per client.
type Server struct {
	cfg       Config
	detector  Evaluator
	inputSize int
	logger    *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	sessions sync.WaitGroup
	closing  atomic.Bool
}

// NewServer creates a Server. inputSize is the backend's expected input size;
// requests of any other length are rejected before evaluation.
func NewServer(cfg Config, detector Evaluator, inputSize int, logger *zap.Logger) *Server {
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = 1 << 20
	}
	return &Server{
		cfg:       cfg,
		detector:  detector,
		inputSize: inputSize,
		logger:    logger,
		conns:     make(map[net.Conn]struct{}),
	}
}

// ListenAndServe listens on addr and serves until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(l)
}

// Serve accepts connections on l until Shutdown. It always returns a non-nil error.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		_ = l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()

	s.logger.Info("TCP server listening", zap.String("addr", l.Addr().String()))

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.closing.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Warn("Accept timeout", zap.Error(err))
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		if !s.track(conn) {
			_ = conn.Close()
			return ErrServerClosed
		}
		go s.serveConn(conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() {
		return false
	}
	s.conns[conn] = struct{}{}
	s.sessions.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.sessions.Done()
}

// Shutdown stops accepting, interrupts idle reads and waits for sessions to
// finish their current request. Connections still open when ctx ends are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing.Store(true)
	var lerr error
	if s.listener != nil {
		lerr = s.listener.Close()
	}
	for c := range s.conns {
		_ = c.SetReadDeadline(time.Now())
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.mu.Lock()
		for c := range s.conns {
			_ = c.Close()
		}
		s.mu.Unlock()
		<-done
		return fmt.Errorf("tcp shutdown: %w", ctx.Err())
	}

	if lerr != nil && !errors.Is(lerr, net.ErrClosed) {
		return fmt.Errorf("close listener: %w", lerr)
	}
	return nil
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.untrack(conn)
	defer func() { _ = conn.Close() }()

	sessionID, err := nanoid.New()
	if err != nil {
		sessionID = "unknown"
	}
	ctx := logpkg.WithSession(context.Background(), s.logger, sessionID, conn.RemoteAddr().String())
	log := logpkg.FromContext(ctx)

	metrics.TCPSessionsActive.Inc()
	defer metrics.TCPSessionsActive.Dec()
	log.Info("Client connected")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), s.cfg.MaxLineBytes)
	w := bufio.NewWriter(conn)

	for {
		if s.closing.Load() {
			break
		}
		if s.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		if !scanner.Scan() {
			s.logSessionEnd(log, scanner.Err())
			return
		}

		reply := s.Respond(ctx, scanner.Text())

		if s.cfg.WriteTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		}
		if _, err := w.WriteString(reply); err != nil {
			log.Warn("Write failed", zap.Error(err))
			return
		}
		if err := w.Flush(); err != nil {
			log.Warn("Write failed", zap.Error(err))
			return
		}
	}
	log.Info("Client disconnected", zap.String("reason", "server shutdown"))
}

func (s *Server) logSessionEnd(log *zap.Logger, err error) {
	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		log.Info("Client disconnected")
	case errors.Is(err, bufio.ErrTooLong):
		log.Warn("Client disconnected: request line too long", zap.Int("max_bytes", s.cfg.MaxLineBytes))
	case s.closing.Load():
		log.Info("Client disconnected", zap.String("reason", "server shutdown"))
	default:
		log.Warn("Client disconnected", zap.Error(err))
	}
}

// Respond handles one request line and returns the reply line. Request errors
// are reported in the reply and never end the session.
func (s *Server) Respond(ctx context.Context, line string) string {
	log := logpkg.FromContext(ctx)
	log.Debug("Received request", zap.String("raw", line))

	values, err := ParseLine(line)
	if err != nil {
		log.Warn("Invalid request", zap.Error(err))
		return reply(ReplyInvalidFormat, "invalid_format")
	}

	if len(values) != s.inputSize {
		log.Warn("Invalid input size",
			zap.Int("expected", s.inputSize),
			zap.Int("got", len(values)),
		)
		return reply(ReplyInvalidSize, "invalid_size")
	}

	result, err := s.detector.Evaluate(values)
	if err != nil {
		if errors.Is(err, domain.ErrInputSizeMismatch) {
			log.Warn("Invalid input size", zap.Error(err))
			return reply(ReplyInvalidSize, "invalid_size")
		}
		log.Error("Inference failed", zap.Error(err))
		return reply(ReplyInference, "inference_error")
	}

	line = result.ResponseLine()
	log.Debug("Sending response",
		zap.Float64("mse", result.MSE),
		zap.String("status", result.Status.String()),
	)
	return reply(line, result.Status.String())
}

func reply(line, kind string) string {
	metrics.TCPRepliesTotal.WithLabelValues(kind).Inc()
	return line
}
