package wire

import (
	"strconv"
	"strings"
)

const (
	// minDelimitedFields is the session id, the timestamp and the
	// thirteen scalar readings. Extra trailing fields are ignored.
	minDelimitedFields = 15

	// noSessionToken marks an absent session id in field 0.
	noSessionToken = "None"
)

// DelimitedDecoder parses the legacy positional format:
//
//	sessionId,timestamp,latitude,longitude,altitude,
//	accel_x,accel_y,accel_z,gyro_x,gyro_y,gyro_z,
//	dac_1,dac_2,dac_3,dac_4
//
// A line with fewer than 15 fields is malformed. An unparseable session
// id maps to "no session" and an unparseable scalar to 0.0; neither
// rejects the line.
type DelimitedDecoder struct{}

// Decode implements Decoder.
func (DelimitedDecoder) Decode(line string) Outcome {
	fields := strings.Split(line, ",")

	// Control messages may arrive shorter than a full reading, so the
	// timestamp field is inspected before the field-count check.
	if len(fields) >= 2 && strings.Contains(strings.TrimSpace(fields[1]), keepaliveMarker) {
		return keepalive()
	}

	if len(fields) < minDelimitedFields {
		return malformed(line)
	}

	var r Record
	if s := strings.TrimSpace(fields[0]); s != noSessionToken {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			r.SessionID = &id
		}
	}
	r.Timestamp = strings.TrimSpace(fields[1])

	scalars := []*float64{
		&r.Latitude, &r.Longitude, &r.Altitude,
		&r.AccelX, &r.AccelY, &r.AccelZ,
		&r.GyroX, &r.GyroY, &r.GyroZ,
		&r.DAC1, &r.DAC2, &r.DAC3, &r.DAC4,
	}
	for i, dst := range scalars {
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[i+2]), 64)
		if err != nil {
			continue // field stays 0.0
		}
		*dst = v
	}

	return record(&r)
}
