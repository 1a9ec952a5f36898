package storage

import (
	"database/sql"

	"github.com/sensornet/ingestd/internal/wire"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func toReadingData(r *wire.Record) *readingData {
	var session sql.NullInt64
	if r.SessionID != nil {
		session.Int64 = *r.SessionID
		session.Valid = true
	}

	return &readingData{
		SessionID: session,
		Timestamp: r.Timestamp,
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		Altitude:  r.Altitude,
		AccelX:    r.AccelX,
		AccelY:    r.AccelY,
		AccelZ:    r.AccelZ,
		GyroX:     r.GyroX,
		GyroY:     r.GyroY,
		GyroZ:     r.GyroZ,
		DAC1:      r.DAC1,
		DAC2:      r.DAC2,
		DAC3:      r.DAC3,
		DAC4:      r.DAC4,
	}
}
