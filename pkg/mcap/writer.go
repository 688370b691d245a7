package mcap

import (
	"fmt"
	"io"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/foxglove/mcap/go/mcap"
	"github.com/segmentio/encoding/json"

	"github.com/BIwashi/canreplay/pkg/dbc"
)

// Writer writes decoded CAN messages into an MCAP file.
//
// Design decisions:
//   - Single JSON schema (canreplay.DecodedMessage) reused by all channels.
//   - Channel granularity = CAN message, i.e. one message definition per channel/topic.
//   - Topic naming: /can/<MessageName>
//   - Channel metadata includes: can_id (hex) and message (dbc BO_ name).
//
// A new channel is created lazily on first occurrence of a CAN ID.
type Writer struct {
	mu         sync.Mutex
	writer     *mcap.Writer
	schemaID   uint16
	nextChanID uint16
	channels   map[uint32]uint16 // CAN ID -> channel ID
}

// decodedMessageSchema is the jsonschema registered for every channel.
const decodedMessageSchema = `{
  "title": "canreplay.DecodedMessage",
  "type": "object",
  "properties": {
    "message": {"type": "string"},
    "can_id": {"type": "integer"},
    "timestamp": {"type": "string"},
    "signals": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "raw": {},
          "physical": {"type": "number"},
          "unit": {"type": "string"},
          "description": {"type": "string"}
        }
      }
    }
  }
}`

type signalPayload struct {
	Raw         any      `json:"raw"`
	Physical    *float64 `json:"physical,omitempty"`
	Unit        string   `json:"unit,omitempty"`
	Description string   `json:"description,omitempty"`
}

type messagePayload struct {
	Message   string                   `json:"message"`
	CanID     uint32                   `json:"can_id"`
	Timestamp string                   `json:"timestamp"`
	Signals   map[string]signalPayload `json:"signals"`
}

// NewWriter initializes an MCAP writer with the DecodedMessage schema
// registered. The provided io.Writer should be an opened file (it is not
// closed here).
func NewWriter(out io.Writer) (*Writer, error) {
	w, err := mcap.NewWriter(out, &mcap.WriterOptions{
		Chunked:     true,
		ChunkSize:   2 * 1024 * 1024, // 2MB chunks
		Compression: mcap.CompressionZSTD,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create MCAP writer")
	}

	if err := w.WriteHeader(&mcap.Header{
		Profile: "",
		Library: "canreplay",
	}); err != nil {
		return nil, errors.Wrap(err, "write header")
	}

	schemaID := uint16(1)
	if err := w.WriteSchema(&mcap.Schema{
		ID:       schemaID,
		Name:     "canreplay.DecodedMessage",
		Encoding: "jsonschema",
		Data:     []byte(decodedMessageSchema),
	}); err != nil {
		return nil, errors.Wrap(err, "write schema")
	}

	return &Writer{
		writer:   w,
		schemaID: schemaID,
		channels: make(map[uint32]uint16),
	}, nil
}

// ensureChannel ensures a channel exists for a CAN ID; returns channel ID.
func (w *Writer) ensureChannel(msg *dbc.DecodedMessage) (uint16, error) {
	if id, ok := w.channels[msg.ID]; ok {
		return id, nil
	}

	w.nextChanID++
	chID := w.nextChanID

	if err := w.writer.WriteChannel(&mcap.Channel{
		ID:              chID,
		SchemaID:        w.schemaID,
		Topic:           "/can/" + msg.Name,
		MessageEncoding: "json",
		Metadata: map[string]string{
			"can_id":  fmt.Sprintf("0x%X", msg.ID),
			"message": msg.Name,
		},
	}); err != nil {
		return 0, errors.Wrapf(err, "write channel (topic=/can/%s)", msg.Name)
	}

	w.channels[msg.ID] = chID
	return chID, nil
}

// WriteMessage writes a decoded message as an MCAP message. LogTime and
// PublishTime carry the frame's recorded timestamp.
func (w *Writer) WriteMessage(msg *dbc.DecodedMessage) error {
	if msg == nil {
		return errors.New("nil DecodedMessage")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	channelID, err := w.ensureChannel(msg)
	if err != nil {
		return err
	}

	payload := messagePayload{
		Message:   msg.Name,
		CanID:     msg.ID,
		Timestamp: msg.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
		Signals:   make(map[string]signalPayload, len(msg.Signals)),
	}
	for _, sig := range msg.Signals {
		payload.Signals[sig.Signal.Name] = signalPayload{
			Raw:         sig.Raw,
			Physical:    sig.Physical,
			Unit:        sig.Signal.Unit,
			Description: sig.Description,
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal DecodedMessage")
	}

	logTime := uint64(msg.Timestamp.UnixNano())
	if err := w.writer.WriteMessage(&mcap.Message{
		ChannelID:   channelID,
		Sequence:    0,
		LogTime:     logTime,
		PublishTime: logTime,
		Data:        data,
	}); err != nil {
		return errors.Wrap(err, "write message")
	}
	return nil
}

// Close finalizes the MCAP file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writer.Close()
}
