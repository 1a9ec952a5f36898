package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sensornet/ingestd/internal/storage"
	"github.com/sensornet/ingestd/internal/wire"
)

const (
	readBufferSize = 8192

	// maxLineBytes bounds how much of a single line is buffered. A
	// client streaming bytes with no newline cannot grow memory past
	// this; the oversized line is discarded as malformed.
	maxLineBytes = 64 * 1024
)

// countingReader tracks how many bytes a connection delivered. Read by
// a single handler goroutine only.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// handleConn reads newline-delimited input from one client until the
// client disconnects or a fatal read error occurs. An idle timeout only
// restarts the read; malformed lines and failed appends are logged and
// skipped. Records are appended in arrival order.
func (s *Server) handleConn(conn net.Conn, sink storage.Sink) {
	logger := s.logger.With(slog.String("remote", conn.RemoteAddr().String()))
	logger.Info("client connected")

	start := time.Now()
	cr := countingReader{r: conn}
	reader := bufio.NewReaderSize(&cr, readBufferSize)

	// Shutdown must not abort an open connection mid-stream, so appends
	// run against a background context rather than the accept context.
	ctx := context.Background()

	var stored int64
	var pending []byte
	var discarding bool
	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.idleTimeout))

		// ReadSlice caps a single read at the buffer size, so pending
		// grows in bounded steps and the line-length guard below holds.
		chunk, err := reader.ReadSlice('\n')

		if !discarding {
			pending = append(pending, chunk...)
			if len(pending) > maxLineBytes {
				s.metrics.AddMalformed()
				logger.Warn("discarding oversized line", slog.Int("length", len(pending)))

				pending = pending[:0]
				discarding = true
			}
		}

		if err != nil {
			if errors.Is(err, bufio.ErrBufferFull) {
				continue // mid-line, keep accumulating
			}

			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue // idle client; any partial line stays buffered
			}

			// A final line without a trailing newline still counts, but
			// only on a clean end of stream. A connection cut mid-line
			// must not persist a truncated reading.
			if errors.Is(err, io.EOF) {
				if line := string(bytes.TrimSpace(pending)); line != "" {
					stored += s.processLine(ctx, logger, sink, line)
				}
			} else if !errors.Is(err, net.ErrClosed) {
				logger.Warn("read error", slog.String("error", err.Error()))
			}
			break
		}

		if discarding {
			// The newline ending the oversized line arrived; resume.
			discarding = false
			continue
		}

		line := string(bytes.TrimSpace(pending))
		pending = pending[:0]

		if line == "" {
			continue
		}

		stored += s.processLine(ctx, logger, sink, line)
	}

	if err := sink.Close(); err != nil {
		logger.Error("closing store sink", slog.String("error", err.Error()))
	}
	_ = conn.Close()

	s.removeConn(conn)
	s.metrics.RemoveConnection()

	logger.Info("client disconnected",
		slog.Int64("records", stored),
		slog.String("received", humanize.Bytes(uint64(cr.n))),
		slog.Duration("duration", time.Since(start).Round(time.Millisecond)),
	)
}

// processLine decodes one non-blank line and appends the resulting
// record, if any. Returns 1 when a record was stored, 0 otherwise.
func (s *Server) processLine(ctx context.Context, logger *slog.Logger, sink storage.Sink, line string) int64 {
	out := s.decoder.Decode(line)

	switch out.Kind {
	case wire.KindKeepalive:
		s.metrics.AddKeepalive()
		logger.Debug("keepalive")

	case wire.KindMalformed:
		s.metrics.AddMalformed()
		logger.Warn("discarding malformed line", slog.String("line", out.Raw))

	case wire.KindRecord:
		if err := sink.Append(ctx, out.Record); err != nil {
			s.metrics.AddStoreError()
			logger.Error("storing record", slog.String("error", err.Error()))
			return 0
		}

		s.metrics.AddRecord()
		return 1
	}

	return 0
}
