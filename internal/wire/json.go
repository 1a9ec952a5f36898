package wire

import (
	"encoding/json"
	"strings"
)

// requiredJSONKeys are the keys every structured reading must carry,
// in Record field order. sessionId and the "type" discriminator are
// the only optional keys.
var requiredJSONKeys = []string{
	"latitude", "longitude", "altitude",
	"accel_x", "accel_y", "accel_z",
	"gyro_x", "gyro_y", "gyro_z",
	"dac_1", "dac_2", "dac_3", "dac_4",
}

// JSONDecoder parses one JSON object per line whose keys match the
// Record field names exactly, case included. Unlike the delimited
// format there is no per-field leniency: a syntax error, a wrong value
// type or a missing required key makes the whole line malformed.
type JSONDecoder struct{}

// Decode implements Decoder.
func (JSONDecoder) Decode(line string) Outcome {
	// Cheap short-circuit: control messages never need a full parse.
	if strings.Contains(line, keepaliveMarker) {
		return keepalive()
	}

	// Struct unmarshaling matches keys case-insensitively, so the key
	// set is checked against the raw object instead.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return malformed(line)
	}

	if raw, ok := fields["type"]; ok {
		var typ string
		if err := json.Unmarshal(raw, &typ); err != nil {
			return malformed(line)
		}
		// Defensive: the substring check above already catches this, but
		// a control message must never fall through to the record path.
		if typ == keepaliveMarker {
			return keepalive()
		}
	}

	var r Record
	if raw, ok := fields["sessionId"]; ok {
		if err := json.Unmarshal(raw, &r.SessionID); err != nil {
			return malformed(line)
		}
	}

	raw, ok := fields["timestamp"]
	if !ok {
		return malformed(line)
	}
	if err := json.Unmarshal(raw, &r.Timestamp); err != nil {
		return malformed(line)
	}

	scalars := []*float64{
		&r.Latitude, &r.Longitude, &r.Altitude,
		&r.AccelX, &r.AccelY, &r.AccelZ,
		&r.GyroX, &r.GyroY, &r.GyroZ,
		&r.DAC1, &r.DAC2, &r.DAC3, &r.DAC4,
	}
	for i, key := range requiredJSONKeys {
		raw, ok := fields[key]
		if !ok {
			return malformed(line)
		}
		if err := json.Unmarshal(raw, scalars[i]); err != nil {
			return malformed(line)
		}
	}

	// Defensive: the marker may survive inside an escaped timestamp that
	// the substring check above did not catch verbatim.
	if strings.Contains(r.Timestamp, keepaliveMarker) {
		return keepalive()
	}

	return record(&r)
}
