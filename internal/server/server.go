// Package server implements the TCP ingestion server: an accept loop
// spawning one handler goroutine per client connection, with graceful
// shutdown draining all in-flight handlers.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/sensornet/ingestd/internal/metric"
	"github.com/sensornet/ingestd/internal/storage"
	"github.com/sensornet/ingestd/internal/wire"
)

const (
	// DefaultIdleTimeout bounds how long a handler waits for the next
	// line before checking the connection again.
	DefaultIdleTimeout = 5 * time.Minute

	// acceptRetryDelay is the pause after a transient accept error.
	acceptRetryDelay = 100 * time.Millisecond
)

// WithIdleTimeout sets the per-line read timeout for connection handlers.
func WithIdleTimeout(d time.Duration) func(*Server) {
	return func(s *Server) {
		s.idleTimeout = d
	}
}

// WithDrainTimeout bounds the shutdown drain. After d the remaining
// connections are force-closed. Zero means wait indefinitely for every
// handler to finish.
func WithDrainTimeout(d time.Duration) func(*Server) {
	return func(s *Server) {
		s.drainTimeout = d
	}
}

// WithMetrics sets the ingest metrics to record against.
func WithMetrics(m *metric.Metrics) func(*Server) {
	return func(s *Server) {
		s.metrics = m
	}
}

// Server accepts client connections and drives one handler per
// connection. Handlers share no mutable state with each other; each
// owns its own connection and store sink.
type Server struct {
	store   storage.Store
	decoder wire.Decoder
	logger  *slog.Logger
	metrics *metric.Metrics

	idleTimeout  time.Duration
	drainTimeout time.Duration

	wg sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// New creates a Server reading records with the given decoder and
// appending them to sinks acquired from store.
func New(store storage.Store, decoder wire.Decoder, logger *slog.Logger, options ...func(*Server)) *Server {
	s := Server{
		store:       store,
		decoder:     decoder,
		logger:      logger,
		idleTimeout: DefaultIdleTimeout,
		conns:       make(map[net.Conn]struct{}),
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

// Serve accepts connections on ln until ctx is cancelled, then stops
// accepting and waits for every spawned handler to finish. Errors on
// individual connections never propagate here; Serve returns only after
// the drain completes.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close() // unblocks Accept
	})
	defer stop()

	s.logger.Info("accepting connections", slog.String("address", ln.Addr().String()))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break // shutdown requested
			}

			s.logger.Warn("accept error", slog.String("error", err.Error()))
			time.Sleep(acceptRetryDelay)
			continue
		}

		if ctx.Err() != nil {
			// Lost the race against the listener close; this client
			// arrived after shutdown began.
			_ = conn.Close()
			break
		}

		sink, err := s.store.NewSink(ctx)
		if err != nil {
			s.logger.Error("acquiring store sink", slog.String("error", err.Error()))
			_ = conn.Close()
			continue
		}

		s.addConn(conn)
		s.metrics.AddConnection()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn, sink)
		}()
	}

	s.logger.Info("shutting down, draining connections")
	s.drain()
	s.logger.Info("shutdown complete")

	return nil
}

// drain waits for all handlers. With a drain timeout configured, the
// connections still open after the deadline are force-closed, which
// surfaces as a fatal read error in each stalled handler.
func (s *Server) drain() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	if s.drainTimeout <= 0 {
		<-done
		return
	}

	select {
	case <-done:
	case <-time.After(s.drainTimeout):
		s.logger.Warn("drain timeout exceeded, closing remaining connections")
		s.closeAllConns()
		<-done
	}
}

func (s *Server) addConn(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) removeConn(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) closeAllConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}
