package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/sensornet/ingestd/internal/wire"
)

// SqliteStore handles database operations using an SQLite database.
// Sinks reserve dedicated connections from the write pool, so appends
// issued by concurrent connection handlers serialize inside SQLite
// without any locking in this package.
type SqliteStore struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewSqliteStore creates a store for the database at dbPath. The
// database is opened lazily and the schema initialized on first use.
func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{dbPath: dbPath}
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}

		if err = runSQLCommand(db, initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

// Open forces the write database open and the schema initialized. It
// lets startup fail fast instead of surfacing a bad path on the first
// accepted connection.
func (s *SqliteStore) Open() error {
	_, err := s.getWriteDB()
	return err
}

// NewSink reserves a dedicated connection and prepares the insert
// statement for one connection handler.
func (s *SqliteStore) NewSink(ctx context.Context) (Sink, error) {
	db, err := s.getWriteDB()
	if err != nil {
		return nil, fmt.Errorf("getting write connection: %w", err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("reserving connection: %w", err)
	}

	stmt, err := conn.PrepareContext(ctx, insertReadingSQL)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("preparing statement: %w", err)
	}

	return &sqliteSink{conn: conn, stmt: stmt}, nil
}

// Readings returns every stored reading in insertion order. This is a
// diagnostic read path; the server itself never queries.
func (s *SqliteStore) Readings(ctx context.Context) (readings []StoredReading, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectReadingsSQL)
	if err != nil {
		err = fmt.Errorf("querying readings: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var d readingData
		if err = rows.Scan(
			&d.ID,
			&d.SessionID,
			&d.Timestamp,
			&d.Latitude,
			&d.Longitude,
			&d.Altitude,
			&d.AccelX,
			&d.AccelY,
			&d.AccelZ,
			&d.GyroX,
			&d.GyroY,
			&d.GyroZ,
			&d.DAC1,
			&d.DAC2,
			&d.DAC3,
			&d.DAC4,
		); err != nil {
			err = fmt.Errorf("scanning reading: %w", err)
			return
		}

		r := StoredReading{
			ID:        d.ID,
			Timestamp: d.Timestamp,
			Latitude:  d.Latitude,
			Longitude: d.Longitude,
			Altitude:  d.Altitude,
			AccelX:    d.AccelX,
			AccelY:    d.AccelY,
			AccelZ:    d.AccelZ,
			GyroX:     d.GyroX,
			GyroY:     d.GyroY,
			GyroZ:     d.GyroZ,
			DAC1:      d.DAC1,
			DAC2:      d.DAC2,
			DAC3:      d.DAC3,
			DAC4:      d.DAC4,
		}
		if d.SessionID.Valid {
			r.SessionID = &d.SessionID.Int64
		}
		readings = append(readings, r)
	}
	if err = rows.Err(); err != nil {
		err = fmt.Errorf("iterating readings: %w", err)
	}
	return
}

// Close closes the database connections. Sinks still holding reserved
// connections must be closed first.
func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		switch {
		case writeErr != nil && readErr != nil:
			s.closeErr = errors.Join(writeErr, readErr)
		case writeErr != nil:
			s.closeErr = writeErr
		case readErr != nil:
			s.closeErr = readErr
		}
	})

	return s.closeErr
}

// sqliteSink is the per-connection Sink over a reserved connection.
type sqliteSink struct {
	conn *sql.Conn
	stmt *sql.Stmt
}

func (s *sqliteSink) Append(ctx context.Context, r *wire.Record) error {
	data := toReadingData(r)

	if _, err := s.stmt.ExecContext(
		ctx,
		data.SessionID,
		data.Timestamp,
		data.Latitude,
		data.Longitude,
		data.Altitude,
		data.AccelX,
		data.AccelY,
		data.AccelZ,
		data.GyroX,
		data.GyroY,
		data.GyroZ,
		data.DAC1,
		data.DAC2,
		data.DAC3,
		data.DAC4,
	); err != nil {
		return fmt.Errorf("inserting reading: %w", err)
	}

	return nil
}

func (s *sqliteSink) Close() error {
	var errs []error
	if err := s.stmt.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing statement: %w", err))
	}
	if err := s.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("releasing connection: %w", err))
	}
	return errors.Join(errs...)
}
