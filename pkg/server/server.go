// Package server runs the line-delimited JSON protocol over TCP. Each
// accepted connection is served by its own goroutine that reads a frame,
// hands it to a Handler and writes the reply before reading the next one.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pario-ai/linecompute/pkg/frame"
	"github.com/pario-ai/linecompute/pkg/logging"
	"github.com/pario-ai/linecompute/pkg/metrics"
	"github.com/pario-ai/linecompute/pkg/models"
)

// Handler produces the reply for one decoded message. The returned value is
// encoded as the response frame.
type Handler interface {
	Handle(ctx context.Context, msg models.Message) any
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg models.Message) any

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg models.Message) any { return f(ctx, msg) }

// Options tune a Server.
type Options struct {
	// Role names the process role in logs and metrics.
	Role string
	// IdleTimeout closes connections that send nothing for this long.
	// Zero disables it.
	IdleTimeout time.Duration
	// MaxFrameSize bounds an undelimited frame. Zero selects
	// frame.DefaultMaxFrameSize.
	MaxFrameSize int
}

// Server accepts connections and serves them with a Handler.
type Server struct {
	handler Handler
	log     zerolog.Logger
	metrics *metrics.Metrics
	opts    Options

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	closing bool
	wg      sync.WaitGroup
}

// New creates a Server. m may be nil.
func New(h Handler, log zerolog.Logger, m *metrics.Metrics, opts Options) *Server {
	if opts.Role == "" {
		opts.Role = "server"
	}
	return &Server{
		handler: h,
		log:     log,
		metrics: m,
		opts:    opts,
		conns:   make(map[net.Conn]struct{}),
	}
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve accepts connections on lis until ctx is cancelled or accepting
// fails. On cancellation the listener and every open connection are closed,
// and Serve returns once all connection goroutines have exited.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.log.Info().Str("role", s.opts.Role).Str("addr", lis.Addr().String()).Msg("listening")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.shutdown(lis)
		case <-stop:
		}
	}()

	var delay time.Duration
	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			if retryableAccept(err) {
				delay = backoff(delay)
				s.log.Warn().Err(err).Dur("retry_in", delay).Msg("accept failed")
				time.Sleep(delay)
				continue
			}
			s.shutdown(lis)
			s.wg.Wait()
			return fmt.Errorf("accept: %w", err)
		}
		delay = 0

		if !s.track(conn) {
			conn.Close()
			continue
		}
		s.wg.Add(1)
		go s.serveConn(ctx, conn)
	}
}

// retryableAccept reports whether an accept error leaves the listener usable.
// Running out of descriptors or buffers clears once connections close.
func retryableAccept(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ENOBUFS) ||
		errors.Is(err, syscall.ENOMEM) ||
		errors.Is(err, syscall.ECONNABORTED)
}

func backoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

// track registers conn. It reports false once the server is shutting down.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) shutdown(lis net.Listener) {
	s.mu.Lock()
	s.closing = true
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	lis.Close()
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	id := uuid.NewString()
	log := s.log.With().
		Str("role", s.opts.Role).
		Str("conn_id", id).
		Str("remote", conn.RemoteAddr().String()).
		Logger()
	ctx = logging.WithConnID(log.WithContext(ctx), id)

	s.metrics.ConnOpened(s.opts.Role)
	defer s.metrics.ConnClosed(s.opts.Role)
	log.Info().Msg("connection opened")

	r := frame.NewReader(conn, s.opts.MaxFrameSize)
	for {
		if s.opts.IdleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
		}
		msg, err := r.Read()
		if err != nil {
			s.readFailed(ctx, conn, err)
			return
		}

		resp := s.handler.Handle(ctx, msg)

		if s.opts.IdleTimeout > 0 {
			conn.SetWriteDeadline(time.Now().Add(s.opts.IdleTimeout))
		}
		if err := frame.Write(conn, resp); err != nil {
			log.Warn().Err(err).Msg("write failed, closing connection")
			return
		}
	}
}

// readFailed logs why a connection's read loop ended. A malformed frame gets
// one error response before the connection closes.
func (s *Server) readFailed(ctx context.Context, conn net.Conn, err error) {
	log := zerolog.Ctx(ctx)
	var ne net.Error
	switch {
	case errors.Is(err, io.EOF):
		log.Info().Msg("connection closed")
	case errors.Is(err, frame.ErrMalformedMessage):
		s.metrics.MalformedFrame(s.opts.Role)
		log.Warn().Err(err).Msg("malformed frame, closing connection")
		cause := err
		var me *frame.MalformedError
		if errors.As(err, &me) {
			cause = me.Err
		}
		if werr := frame.Write(conn, models.Failure("Malformed: "+cause.Error())); werr != nil {
			log.Warn().Err(werr).Msg("write failed")
		}
	case errors.Is(err, io.ErrUnexpectedEOF):
		log.Warn().Msg("peer closed mid-frame")
	case ctx.Err() != nil:
		log.Info().Msg("connection closed on shutdown")
	case errors.As(err, &ne) && ne.Timeout():
		log.Info().Dur("idle_timeout", s.opts.IdleTimeout).Msg("idle connection closed")
	default:
		log.Warn().Err(err).Msg("read failed")
	}
}
