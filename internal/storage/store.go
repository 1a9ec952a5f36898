package storage

import (
	"context"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sensornet/ingestd/internal/wire"
)

// Store provides access to the sensor reading database. Each connection
// handler acquires its own Sink; the Store itself only manages the
// underlying database and hands out sinks.
type Store interface {
	// NewSink reserves a dedicated database handle for one connection.
	// The returned Sink must be closed when the connection ends.
	NewSink(ctx context.Context) (Sink, error)

	// Close releases all database connections and resources. It is safe
	// to call Close multiple times.
	Close() error
}

// Sink appends sensor readings for a single connection. A Sink is owned
// by exactly one handler and is not safe for concurrent use; appends
// reach the database in call order.
type Sink interface {
	// Append writes one reading as its own unit of work. On failure the
	// reading is lost; there is no retry and no transaction spanning
	// multiple readings.
	Append(ctx context.Context, r *wire.Record) error

	// Close releases the database handle back to the store.
	Close() error
}
