package dbc

import (
	"time"

	"github.com/cockroachdb/errors"
	"go.einride.tech/can/pkg/descriptor"

	"github.com/BIwashi/canreplay/pkg/can"
)

// ErrUnknownMessage marks decode failures caused by a CAN ID that has no
// definition in the loaded DBC file. Callers typically skip and count
// these rather than abort.
var ErrUnknownMessage = errors.New("unknown message id")

// ErrFrameShape marks frames whose length or flags disagree with the
// message definition.
var ErrFrameShape = errors.New("frame shape mismatch")

// DecodedSignal is one signal extracted from a frame, with both the raw
// wire value and, for scaled signals, the physical value.
type DecodedSignal struct {
	Raw         any
	Physical    *float64
	Description string
	Signal      *descriptor.Signal
	Timestamp   time.Time
}

// DecodedMessage is a fully decoded frame: message identity plus its
// signals in descriptor order (stable across frames of the same ID).
type DecodedMessage struct {
	Name      string
	ID        uint32
	Timestamp time.Time
	Signals   []DecodedSignal
}

// Decoder decodes timed CAN frames against a compiled DBC database.
type Decoder struct {
	db *Database
}

func NewDecoder(db *Database) *Decoder {
	return &Decoder{
		db: db,
	}
}

// Decode decodes a frame into its message and signal values.
// Unknown IDs fail with an error matching ErrUnknownMessage; frames whose
// shape disagrees with the definition fail with ErrFrameShape.
func (d *Decoder) Decode(f *can.TimedFrame) (*DecodedMessage, error) {
	message, ok := d.db.Message(f.ID)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownMessage, "0x%X", f.ID)
	}
	if f.Length != message.Length || f.IsExtended != message.IsExtended || f.IsRemote {
		return nil, errors.Wrapf(ErrFrameShape, "message %s (0x%X)", message.Name, f.ID)
	}

	decoded := &DecodedMessage{
		Name:      message.Name,
		ID:        f.ID,
		Timestamp: f.Timestamp,
		Signals:   make([]DecodedSignal, 0, len(message.Signals)),
	}

	var (
		mux    *descriptor.Signal
		muxVal uint64
	)

	// non-multiplexed signals, multiplexer switch included
	for _, s := range message.Signals {
		if s.IsMultiplexed {
			continue
		}
		if s.IsMultiplexer {
			mux = s
			muxVal = s.UnmarshalUnsigned(f.Data)
		}
		decoded.Signals = append(decoded.Signals, decodeSignal(s, f))
	}

	// multiplexed signals selected by the switch value
	if mux != nil {
		for _, s := range message.Signals {
			if s.IsMultiplexed && muxVal == uint64(s.MultiplexerValue) {
				decoded.Signals = append(decoded.Signals, decodeSignal(s, f))
			}
		}
	}

	return decoded, nil
}

func decodeSignal(s *descriptor.Signal, f *can.TimedFrame) DecodedSignal {
	var (
		raw         any
		physical    *float64
		description string
	)
	switch {
	case s.Length == 1:
		raw = s.UnmarshalBool(f.Data)
	case s.IsFloat:
		raw = s.UnmarshalFloat(f.Data)
	case s.IsSigned:
		raw = s.UnmarshalSigned(f.Data)
	default:
		raw = s.UnmarshalUnsigned(f.Data)
	}

	if !s.IsFloat && (s.Scale != 0 || s.Offset != 0 || s.Min != 0 || s.Max != 0) {
		switch v := raw.(type) {
		case int64:
			pv := s.ToPhysical(float64(v))
			physical = &pv
		case uint64:
			pv := s.ToPhysical(float64(v))
			physical = &pv
		}
	}
	if vd, ok := s.UnmarshalValueDescription(f.Data); ok {
		description = vd
	}

	return DecodedSignal{
		Raw:         raw,
		Physical:    physical,
		Description: description,
		Signal:      s,
		Timestamp:   f.Timestamp,
	}
}
