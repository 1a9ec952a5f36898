package wire

// Record is a single fully-populated sensor observation. Every scalar
// field is always set; SessionID is nil when the client reported no
// session. Timestamp is opaque to the server and stored verbatim.
type Record struct {
	SessionID *int64
	Timestamp string

	Latitude  float64
	Longitude float64
	Altitude  float64

	AccelX float64
	AccelY float64
	AccelZ float64

	GyroX float64
	GyroY float64
	GyroZ float64

	DAC1 float64
	DAC2 float64
	DAC3 float64
	DAC4 float64
}
