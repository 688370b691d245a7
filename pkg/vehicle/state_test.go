package vehicle

import (
	"strings"
	"testing"
	"time"

	"go.einride.tech/can/pkg/descriptor"

	"github.com/BIwashi/canreplay/pkg/dbc"
)

var t0 = time.Date(2021, 1, 1, 12, 0, 0, 0, time.UTC)

func physical(v float64) *float64 { return &v }

func speedMessage(ts time.Time, kmh float64) *dbc.DecodedMessage {
	sig := &descriptor.Signal{Name: "Speed", Unit: "km/h", Scale: 0.1}
	return &dbc.DecodedMessage{
		Name:      "MOTOR_STATUS",
		ID:        291,
		Timestamp: ts,
		Signals: []dbc.DecodedSignal{{
			Raw:       uint64(kmh * 10),
			Physical:  physical(kmh),
			Signal:    sig,
			Timestamp: ts,
		}},
	}
}

func gearMessage(ts time.Time, gear uint64, desc string) *dbc.DecodedMessage {
	sig := &descriptor.Signal{Name: "Gear"}
	return &dbc.DecodedMessage{
		Name:      "TRANSMISSION",
		ID:        0x100,
		Timestamp: ts,
		Signals: []dbc.DecodedSignal{{
			Raw:         gear,
			Description: desc,
			Signal:      sig,
			Timestamp:   ts,
		}},
	}
}

func TestState_LatestValueWins(t *testing.T) {
	s := NewState()
	s.Ingest(speedMessage(t0, 10))
	s.Ingest(speedMessage(t0.Add(time.Second), 42.5))

	sig, ok := s.Signal(291, "Speed")
	if !ok {
		t.Fatal("Speed signal not found")
	}
	if sig.Physical == nil || *sig.Physical != 42.5 {
		t.Errorf("Speed = %v, want 42.5", sig.Physical)
	}
	if s.Ingested() != 2 {
		t.Errorf("Ingested = %d, want 2", s.Ingested())
	}
}

func TestState_SignalMiss(t *testing.T) {
	s := NewState()
	if _, ok := s.Signal(291, "Speed"); ok {
		t.Error("Signal on empty state reported a hit")
	}

	s.Ingest(speedMessage(t0, 10))
	if _, ok := s.Signal(291, "Torque"); ok {
		t.Error("Signal reported a hit for an unseen signal name")
	}
	if _, ok := s.Signal(0x200, "Speed"); ok {
		t.Error("Signal reported a hit for an unseen message ID")
	}
}

func TestState_RenderSortedByID(t *testing.T) {
	s := NewState()
	s.Ingest(gearMessage(t0, 3, "Drive"))
	s.Ingest(speedMessage(t0, 42.5))

	out := s.String()

	// 0x100 TRANSMISSION renders before 0x123 MOTOR_STATUS
	ti := strings.Index(out, "TRANSMISSION")
	mi := strings.Index(out, "MOTOR_STATUS")
	if ti < 0 || mi < 0 {
		t.Fatalf("render missing message headers:\n%s", out)
	}
	if ti > mi {
		t.Errorf("messages not sorted by CAN ID:\n%s", out)
	}

	if !strings.Contains(out, "42.50 km/h") {
		t.Errorf("render missing formatted speed:\n%s", out)
	}
	if !strings.Contains(out, "3 (Drive)") {
		t.Errorf("render missing gear with value description:\n%s", out)
	}
}

func TestFormatValue_Magnitudes(t *testing.T) {
	cases := []struct {
		value float64
		unit  string
		want  string
	}{
		{0, "", "0"},
		{0.5, "V", "0.500 V"},
		{42.5, "km/h", "42.50 km/h"},
		{120.4, "degC", "120.4 degC"},
		{12345, "rpm", "1.234e+04 rpm"},
		{0.001, "", "1.000e-03"},
		{-5.25, "A", "-5.250 A"},
	}
	for _, tc := range cases {
		if got := formatValue(tc.value, tc.unit); got != tc.want {
			t.Errorf("formatValue(%v, %q) = %q, want %q", tc.value, tc.unit, got, tc.want)
		}
	}
}
