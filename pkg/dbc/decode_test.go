package dbc

import (
	"math"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	ecan "go.einride.tech/can"

	"github.com/BIwashi/canreplay/pkg/can"
)

const testDBC = `VERSION "1.0"

NS_ :

BS_:

BU_: ECU SENSOR

BO_ 291 MOTOR_STATUS: 8 ECU
 SG_ Speed : 0|16@1+ (0.1,0) [0|6553.5] "km/h" SENSOR
 SG_ Temp : 16|8@1- (1,-40) [-40|215] "degC" SENSOR
 SG_ Running : 24|1@1+ (1,0) [0|1] "" SENSOR

BO_ 300 INFOTAINMENT: 8 ECU
 SG_ Page M : 0|8@1+ (1,0) [0|255] "" SENSOR
 SG_ Volume m0 : 8|8@1+ (1,0) [0|255] "" SENSOR
 SG_ Track m1 : 8|8@1+ (1,0) [0|255] "" SENSOR

CM_ SG_ 291 Speed "Vehicle speed";

VAL_ 291 Running 0 "Off" 1 "On" ;
`

var frameTime = time.Date(2021, 1, 1, 12, 0, 0, 0, time.UTC)

func compileTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := Compile("test.dbc", []byte(testDBC))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return db
}

func TestCompile_Database(t *testing.T) {
	db := compileTestDB(t)

	if db.Version() != "1.0" {
		t.Errorf("Version = %q, want %q", db.Version(), "1.0")
	}
	if len(db.Messages()) != 2 {
		t.Fatalf("Messages = %d, want 2", len(db.Messages()))
	}

	msg, ok := db.Message(291)
	if !ok {
		t.Fatal("Message(291) not found")
	}
	if msg.Name != "MOTOR_STATUS" {
		t.Errorf("message name = %q, want MOTOR_STATUS", msg.Name)
	}
	if msg.Length != 8 {
		t.Errorf("message length = %d, want 8", msg.Length)
	}
	if len(msg.Signals) != 3 {
		t.Fatalf("signals = %d, want 3", len(msg.Signals))
	}
	// sorted by start bit
	if msg.Signals[0].Name != "Speed" || msg.Signals[1].Name != "Temp" || msg.Signals[2].Name != "Running" {
		t.Errorf("signal order = %s, %s, %s", msg.Signals[0].Name, msg.Signals[1].Name, msg.Signals[2].Name)
	}
	if msg.Signals[0].Description != "Vehicle speed" {
		t.Errorf("Speed description = %q, want %q", msg.Signals[0].Description, "Vehicle speed")
	}
	if len(msg.Signals[2].ValueDescriptions) != 2 {
		t.Errorf("Running value descriptions = %d, want 2", len(msg.Signals[2].ValueDescriptions))
	}

	if _, ok := db.Message(999); ok {
		t.Error("Message(999) found, want miss")
	}
}

func TestDecode_Signals(t *testing.T) {
	db := compileTestDB(t)
	d := NewDecoder(db)

	f := &can.TimedFrame{
		Frame: ecan.Frame{
			ID:     291,
			Length: 8,
			// Speed raw=100 (10.0 km/h), Temp raw=50 (10 degC), Running=1
			Data: ecan.Data{0x64, 0x00, 0x32, 0x01, 0, 0, 0, 0},
		},
		Timestamp: frameTime,
	}

	msg, err := d.Decode(f)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Name != "MOTOR_STATUS" || msg.ID != 291 {
		t.Errorf("decoded identity = %s/0x%X", msg.Name, msg.ID)
	}
	if !msg.Timestamp.Equal(frameTime) {
		t.Errorf("Timestamp = %s, want %s", msg.Timestamp, frameTime)
	}
	if len(msg.Signals) != 3 {
		t.Fatalf("decoded signals = %d, want 3", len(msg.Signals))
	}

	speed := msg.Signals[0]
	if got, ok := speed.Raw.(uint64); !ok || got != 100 {
		t.Errorf("Speed raw = %v, want uint64(100)", speed.Raw)
	}
	if speed.Physical == nil {
		t.Fatal("Speed physical not set")
	}
	if math.Abs(*speed.Physical-10.0) > 1e-9 {
		t.Errorf("Speed physical = %f, want 10.0", *speed.Physical)
	}

	temp := msg.Signals[1]
	if got, ok := temp.Raw.(int64); !ok || got != 50 {
		t.Errorf("Temp raw = %v, want int64(50)", temp.Raw)
	}
	if temp.Physical == nil {
		t.Fatal("Temp physical not set")
	}
	if math.Abs(*temp.Physical-10.0) > 1e-9 {
		t.Errorf("Temp physical = %f, want 10.0 (50 - 40)", *temp.Physical)
	}

	running := msg.Signals[2]
	if got, ok := running.Raw.(bool); !ok || !got {
		t.Errorf("Running raw = %v, want true", running.Raw)
	}
	if running.Description != "On" {
		t.Errorf("Running description = %q, want %q", running.Description, "On")
	}
}

func TestDecode_Multiplexed(t *testing.T) {
	db := compileTestDB(t)
	d := NewDecoder(db)

	decode := func(page, value byte) *DecodedMessage {
		t.Helper()
		msg, err := d.Decode(&can.TimedFrame{
			Frame: ecan.Frame{
				ID:     300,
				Length: 8,
				Data:   ecan.Data{page, value, 0, 0, 0, 0, 0, 0},
			},
			Timestamp: frameTime,
		})
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		return msg
	}

	msg := decode(0, 42)
	if len(msg.Signals) != 2 {
		t.Fatalf("decoded signals = %d, want 2 (switch + selected)", len(msg.Signals))
	}
	if msg.Signals[1].Signal.Name != "Volume" {
		t.Errorf("selected signal = %s, want Volume", msg.Signals[1].Signal.Name)
	}
	if got, ok := msg.Signals[1].Raw.(uint64); !ok || got != 42 {
		t.Errorf("Volume raw = %v, want uint64(42)", msg.Signals[1].Raw)
	}

	msg = decode(1, 7)
	if msg.Signals[1].Signal.Name != "Track" {
		t.Errorf("selected signal = %s, want Track", msg.Signals[1].Signal.Name)
	}
}

func TestDecode_UnknownMessage(t *testing.T) {
	d := NewDecoder(compileTestDB(t))

	_, err := d.Decode(&can.TimedFrame{
		Frame:     ecan.Frame{ID: 999, Length: 8},
		Timestamp: frameTime,
	})
	if !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("Decode error = %v, want ErrUnknownMessage", err)
	}
}

func TestDecode_FrameShapeMismatch(t *testing.T) {
	d := NewDecoder(compileTestDB(t))

	_, err := d.Decode(&can.TimedFrame{
		Frame:     ecan.Frame{ID: 291, Length: 4},
		Timestamp: frameTime,
	})
	if !errors.Is(err, ErrFrameShape) {
		t.Errorf("Decode error = %v, want ErrFrameShape", err)
	}
}
