package storage

import (
	"database/sql"
)

// readingData is the database row shape of one sensor reading.
type readingData struct {
	ID        int64
	SessionID sql.NullInt64
	Timestamp string
	Latitude  float64
	Longitude float64
	Altitude  float64
	AccelX    float64
	AccelY    float64
	AccelZ    float64
	GyroX     float64
	GyroY     float64
	GyroZ     float64
	DAC1      float64
	DAC2      float64
	DAC3      float64
	DAC4      float64
}

// StoredReading is one persisted sensor reading as read back from the
// database, in diagnostic queries and tests.
type StoredReading struct {
	ID        int64
	SessionID *int64
	Timestamp string
	Latitude  float64
	Longitude float64
	Altitude  float64
	AccelX    float64
	AccelY    float64
	AccelZ    float64
	GyroX     float64
	GyroY     float64
	GyroZ     float64
	DAC1      float64
	DAC2      float64
	DAC3      float64
	DAC4      float64
}
