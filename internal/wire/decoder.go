package wire

import (
	"fmt"
	"strings"
)

// keepaliveMarker identifies a control message under either encoding.
// Clients embed it either as the discriminator value or inside the
// timestamp field; such lines must never be persisted as readings.
const keepaliveMarker = "keepalive"

// Kind discriminates the possible outcomes of decoding one line.
type Kind int

const (
	// KindRecord means the line decoded into a complete Record.
	KindRecord Kind = iota

	// KindKeepalive means the line is a control message to be discarded.
	KindKeepalive

	// KindMalformed means the line could not be decoded.
	KindMalformed
)

// Outcome is the result of decoding one trimmed, non-empty line.
// Exactly one of the variants applies: Record is non-nil only for
// KindRecord, and Raw carries the offending line for KindMalformed.
type Outcome struct {
	Kind   Kind
	Record *Record
	Raw    string
}

// Decoder turns one line of input into an Outcome. Implementations are
// stateless and safe for concurrent use.
type Decoder interface {
	Decode(line string) Outcome
}

// Encoding selects the wire format a deployment speaks.
type Encoding string

const (
	// EncodingDelimited is the legacy positional comma-separated format.
	EncodingDelimited Encoding = "delimited"

	// EncodingJSON is the one-object-per-line structured format.
	EncodingJSON Encoding = "json"

	// EncodingAuto sniffs the first byte of each line: '{' selects the
	// structured decoder, anything else the delimited one.
	EncodingAuto Encoding = "auto"
)

// NewDecoder returns the decoder for the given encoding.
func NewDecoder(e Encoding) (Decoder, error) {
	switch e {
	case EncodingDelimited:
		return DelimitedDecoder{}, nil
	case EncodingJSON:
		return JSONDecoder{}, nil
	case EncodingAuto:
		return autoDecoder{}, nil
	default:
		return nil, fmt.Errorf("unknown encoding '%s'", e)
	}
}

type autoDecoder struct{}

func (autoDecoder) Decode(line string) Outcome {
	if strings.HasPrefix(line, "{") {
		return JSONDecoder{}.Decode(line)
	}
	return DelimitedDecoder{}.Decode(line)
}

func record(r *Record) Outcome {
	return Outcome{Kind: KindRecord, Record: r}
}

func keepalive() Outcome {
	return Outcome{Kind: KindKeepalive}
}

func malformed(raw string) Outcome {
	return Outcome{Kind: KindMalformed, Raw: raw}
}
