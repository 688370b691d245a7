package vehicle

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/BIwashi/canreplay/pkg/dbc"
)

// State is a stateful vehicle model: it ingests decoded CAN messages and
// retains the most recent value of every signal, so the current decoded
// vehicle state can be rendered at any point during a replay.
//
// State is not safe for concurrent use; the replayer delivers frames
// strictly sequentially.
type State struct {
	messages map[uint32]*messageState
	ingested int
}

type messageState struct {
	name      string
	id        uint32
	updatedAt time.Time
	order     []string // signal names in descriptor order
	signals   map[string]dbc.DecodedSignal
}

func NewState() *State {
	return &State{
		messages: make(map[uint32]*messageState),
	}
}

// Ingest folds a decoded message into the model, replacing the previous
// values of its signals.
func (s *State) Ingest(msg *dbc.DecodedMessage) {
	ms, ok := s.messages[msg.ID]
	if !ok {
		ms = &messageState{
			name:    msg.Name,
			id:      msg.ID,
			signals: make(map[string]dbc.DecodedSignal),
		}
		s.messages[msg.ID] = ms
	}
	ms.updatedAt = msg.Timestamp
	for _, sig := range msg.Signals {
		if _, seen := ms.signals[sig.Signal.Name]; !seen {
			ms.order = append(ms.order, sig.Signal.Name)
		}
		ms.signals[sig.Signal.Name] = sig
	}
	s.ingested++
}

// Ingested returns the number of messages folded into the model so far.
func (s *State) Ingested() int {
	return s.ingested
}

// Signal returns the latest decoded value of a signal, if seen.
func (s *State) Signal(messageID uint32, name string) (dbc.DecodedSignal, bool) {
	ms, ok := s.messages[messageID]
	if !ok {
		return dbc.DecodedSignal{}, false
	}
	sig, ok := ms.signals[name]
	return sig, ok
}

// Render writes the current state as aligned text, messages sorted by
// CAN ID, signals in DBC declaration order.
func (s *State) Render(w io.Writer) {
	ids := make([]uint32, 0, len(s.messages))
	for id := range s.messages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		ms := s.messages[id]
		fmt.Fprintf(w, "0x%03X %s (at %s)\n", ms.id, ms.name, ms.updatedAt.Format("15:04:05.000000"))
		for _, name := range ms.order {
			sig := ms.signals[name]
			fmt.Fprintf(w, "  %-24s %s\n", name, formatSignal(sig))
		}
	}
}

// String renders the state to a string.
func (s *State) String() string {
	var b strings.Builder
	s.Render(&b)
	return b.String()
}

func formatSignal(sig dbc.DecodedSignal) string {
	var out string
	switch {
	case sig.Physical != nil:
		out = formatValue(*sig.Physical, sig.Signal.Unit)
	case sig.Signal.IsFloat:
		if f, ok := sig.Raw.(float64); ok {
			out = formatValue(f, sig.Signal.Unit)
		} else {
			out = fmt.Sprint(sig.Raw)
		}
	default:
		out = fmt.Sprint(sig.Raw)
		if sig.Signal.Unit != "" {
			out += " " + sig.Signal.Unit
		}
	}
	if sig.Description != "" {
		out += fmt.Sprintf(" (%s)", sig.Description)
	}
	return out
}

// formatValue formats a physical value with precision based on magnitude.
func formatValue(value float64, unit string) string {
	var formatted string
	absValue := math.Abs(value)

	switch {
	case absValue == 0:
		formatted = "0"
	case absValue >= 1000 || absValue < 0.01:
		formatted = fmt.Sprintf("%.3e", value)
	case absValue >= 100:
		formatted = fmt.Sprintf("%.1f", value)
	case absValue >= 10:
		formatted = fmt.Sprintf("%.2f", value)
	default:
		formatted = fmt.Sprintf("%.3f", value)
	}

	if unit != "" {
		return formatted + " " + unit
	}
	return formatted
}
