package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensornet/ingestd/internal/storage"
	"github.com/sensornet/ingestd/internal/wire"
)

// memoryStore records appends in memory, one sink per connection.
// appendErr, when set, decides per record whether the append fails.
type memoryStore struct {
	mu    sync.Mutex
	sinks []*memorySink

	appendErr func(r *wire.Record) error
}

func (m *memoryStore) NewSink(context.Context) (storage.Sink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sink := &memorySink{store: m}
	m.sinks = append(m.sinks, sink)
	return sink, nil
}

func (m *memoryStore) Close() error { return nil }

func (m *memoryStore) timestamps() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([][]string, len(m.sinks))
	for i, sink := range m.sinks {
		sink.mu.Lock()
		for _, r := range sink.records {
			out[i] = append(out[i], r.Timestamp)
		}
		sink.mu.Unlock()
	}
	return out
}

func (m *memoryStore) total() int {
	var n int
	for _, ts := range m.timestamps() {
		n += len(ts)
	}
	return n
}

type memorySink struct {
	store *memoryStore

	mu      sync.Mutex
	records []wire.Record
	closed  bool
}

func (s *memorySink) Append(_ context.Context, r *wire.Record) error {
	if s.store.appendErr != nil {
		if err := s.store.appendErr(r); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *r)
	return nil
}

func (s *memorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startServer runs Serve on an ephemeral listener and returns its
// address, the cancel func stopping the accept loop, and the channel
// Serve's result arrives on.
func startServer(t *testing.T, store storage.Store, options ...func(*Server)) (string, context.CancelFunc, chan error) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	decoder, err := wire.NewDecoder(wire.EncodingDelimited)
	require.NoError(t, err)

	srv := New(store, decoder, discardLogger(), options...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	exited := make(chan struct{})
	go func() {
		done <- srv.Serve(ctx, ln)
		close(exited)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-exited:
		case <-time.After(10 * time.Second):
			t.Error("server did not shut down")
		}
	})

	return ln.Addr().String(), cancel, done
}

func line(session int, seq int) string {
	return fmt.Sprintf("%d,ts-%03d,1.0,2.0,3.0,0,0,0,0,0,0,0,0,0,0\n", session, seq)
}

func waitServe(t *testing.T, done chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServe_PersistsRecordsInOrder(t *testing.T) {
	store := &memoryStore{}
	addr, _, _ := startServer(t, store)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	const n = 25
	for i := 0; i < n; i++ {
		_, err = conn.Write([]byte(line(1, i)))
		require.NoError(t, err)
	}
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return store.total() == n
	}, 5*time.Second, 10*time.Millisecond)

	timestamps := store.timestamps()
	require.Len(t, timestamps, 1)
	for i, ts := range timestamps[0] {
		assert.Equal(t, fmt.Sprintf("ts-%03d", i), ts)
	}
}

func TestServe_MalformedAndKeepaliveKeepConnectionOpen(t *testing.T) {
	store := &memoryStore{}
	addr, _, _ := startServer(t, store)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("7,t,1,2\n")) // too few fields
	require.NoError(t, err)
	_, err = conn.Write([]byte("None,keepalive\n")) // control message
	require.NoError(t, err)
	_, err = conn.Write([]byte("\n")) // blank
	require.NoError(t, err)
	_, err = conn.Write([]byte(line(1, 0)))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return store.total() == 1
	}, 5*time.Second, 10*time.Millisecond)

	// The connection survived all of the above.
	_, err = conn.Write([]byte(line(1, 1)))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return store.total() == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServe_StoreErrorKeepsConnectionOpen(t *testing.T) {
	// The first record fails to store; the connection must survive and
	// the next record must still be appended.
	store := &memoryStore{
		appendErr: func(r *wire.Record) error {
			if r.Timestamp == "ts-000" {
				return errors.New("disk full")
			}
			return nil
		},
	}
	addr, _, _ := startServer(t, store)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(line(1, 0)))
	require.NoError(t, err)
	_, err = conn.Write([]byte(line(1, 1)))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return store.total() == 1
	}, 5*time.Second, 10*time.Millisecond)

	timestamps := store.timestamps()
	require.Len(t, timestamps, 1)
	assert.Equal(t, []string{"ts-001"}, timestamps[0])
}

func TestServe_IdleTimeoutIsNotADisconnect(t *testing.T) {
	store := &memoryStore{}
	addr, _, _ := startServer(t, store, WithIdleTimeout(50*time.Millisecond))

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(line(1, 0)))
	require.NoError(t, err)

	// Sit idle across several read deadlines.
	time.Sleep(300 * time.Millisecond)

	_, err = conn.Write([]byte(line(1, 1)))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return store.total() == 2
	}, 5*time.Second, 10*time.Millisecond)

	timestamps := store.timestamps()
	require.Len(t, timestamps, 1, "idle timeout must not open a second session")
}

func TestServe_FinalLineWithoutNewlineStoredOnDisconnect(t *testing.T) {
	store := &memoryStore{}
	addr, _, _ := startServer(t, store)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	_, err = conn.Write([]byte(strings.TrimSuffix(line(1, 0), "\n")))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return store.total() == 1
	}, 5*time.Second, 10*time.Millisecond)

	timestamps := store.timestamps()
	require.Len(t, timestamps, 1)
	assert.Equal(t, []string{"ts-000"}, timestamps[0])
}

func TestServe_TruncatedLineNotStoredOnForcedClose(t *testing.T) {
	store := &memoryStore{}
	addr, cancel, done := startServer(t, store, WithDrainTimeout(300*time.Millisecond))

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(line(1, 0)))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return store.total() == 1
	}, 5*time.Second, 10*time.Millisecond)

	// A reading cut mid-line: looks decodable so far, but the stream
	// ends with a forced close, not a clean EOF.
	_, err = conn.Write([]byte("1,ts-001,1.0,2.0,3.0,0,0,0,0,0,0,0,0"))
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	cancel()
	waitServe(t, done)

	timestamps := store.timestamps()
	require.Len(t, timestamps, 1)
	assert.Equal(t, []string{"ts-000"}, timestamps[0])
}

func TestServe_OversizedLineDiscarded(t *testing.T) {
	store := &memoryStore{}
	addr, _, _ := startServer(t, store)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	// Well past the line-length cap, then a valid reading on the same
	// connection. Only the valid reading may land.
	_, err = conn.Write([]byte(strings.Repeat("x", 70*1024) + "\n"))
	require.NoError(t, err)
	_, err = conn.Write([]byte(line(1, 0)))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return store.total() == 1
	}, 5*time.Second, 10*time.Millisecond)

	timestamps := store.timestamps()
	require.Len(t, timestamps, 1)
	assert.Equal(t, []string{"ts-000"}, timestamps[0])
}

func TestServe_ConcurrentClients(t *testing.T) {
	store := &memoryStore{}
	addr, _, _ := startServer(t, store)

	const perClient = 30

	var wg sync.WaitGroup
	for client := 0; client < 2; client++ {
		wg.Add(1)
		go func(session int) {
			defer wg.Done()

			conn, err := net.Dial("tcp", addr)
			assert.NoError(t, err)
			defer conn.Close()

			for i := 0; i < perClient; i++ {
				_, err = conn.Write([]byte(line(session, i)))
				assert.NoError(t, err)
			}
		}(client + 1)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return store.total() == 2*perClient
	}, 5*time.Second, 10*time.Millisecond)

	// Each connection's records arrive in its own order.
	for _, timestamps := range store.timestamps() {
		require.Len(t, timestamps, perClient)
		for i, ts := range timestamps {
			assert.Equal(t, fmt.Sprintf("ts-%03d", i), ts)
		}
	}
}

func TestServe_ShutdownStopsAcceptingButDrainsOpenConnections(t *testing.T) {
	store := &memoryStore{}
	addr, cancel, done := startServer(t, store)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	// Make sure the handler is up before shutting down the acceptor.
	_, err = conn.Write([]byte(line(1, 0)))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return store.total() == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()

	// New connections are refused once the listener is down.
	require.Eventually(t, func() bool {
		c, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			_ = c.Close()
			return false
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	// The already-open connection keeps processing during the drain.
	_, err = conn.Write([]byte(line(1, 1)))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return store.total() == 2
	}, 5*time.Second, 10*time.Millisecond)

	select {
	case <-done:
		t.Fatal("Serve returned while a connection was still open")
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, conn.Close())
	waitServe(t, done)
}

func TestServe_DrainTimeoutForceClosesStalledConnections(t *testing.T) {
	store := &memoryStore{}
	addr, cancel, done := startServer(t, store, WithDrainTimeout(300*time.Millisecond))

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(line(1, 0)))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return store.total() == 1
	}, 5*time.Second, 10*time.Millisecond)

	// The client goes silent and never closes; the drain deadline must
	// end the handler anyway.
	cancel()
	waitServe(t, done)
}

func TestServe_SqliteEndToEnd(t *testing.T) {
	store := storage.NewSqliteStore(filepath.Join(t.TempDir(), "readings.sqlite"))
	require.NoError(t, store.Open())
	defer store.Close()

	addr, cancel, done := startServer(t, store)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	_, err = conn.Write([]byte("None,2024-01-01T00:00:00Z,1.0,2.0,3.0,0,0,0,0,0,0,0,0,0,0\n"))
	require.NoError(t, err)
	_, err = conn.Write([]byte(line(9, 1)))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		readings, err := store.Readings(context.Background())
		return err == nil && len(readings) == 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	waitServe(t, done)

	readings, err := store.Readings(context.Background())
	require.NoError(t, err)
	require.Len(t, readings, 2)

	assert.Nil(t, readings[0].SessionID)
	assert.Equal(t, "2024-01-01T00:00:00Z", readings[0].Timestamp)
	assert.Equal(t, 1.0, readings[0].Latitude)
	assert.Equal(t, 2.0, readings[0].Longitude)
	assert.Equal(t, 3.0, readings[0].Altitude)
	assert.Zero(t, readings[0].AccelX)

	require.NotNil(t, readings[1].SessionID)
	assert.Equal(t, int64(9), *readings[1].SessionID)
}
