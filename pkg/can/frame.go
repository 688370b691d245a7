package can

import (
	"fmt"
	"strings"
	"time"

	ecan "go.einride.tech/can"
)

// TimedFrame wraps einride can.Frame to add capture timestamp information.
// Embedding keeps field access (ID, Length, Data, IsExtended, IsRemote, ...) identical.
type TimedFrame struct {
	ecan.Frame
	// Timestamp is the original capture time from the dump (host monotonic not
	// required; wall-clock as recorded by whatever captured the bus).
	Timestamp time.Time
}

type Data ecan.Data

// Payload returns the Length-bounded data bytes as a slice.
func (f *TimedFrame) Payload() []byte {
	n := f.Length
	if n > 8 {
		n = 8
	}
	return f.Data[:n]
}

// String renders the frame in candump-like form, e.g. "123#1A2B3C".
func (f *TimedFrame) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%03X#", f.ID)
	for _, by := range f.Payload() {
		fmt.Fprintf(&b, "%02X", by)
	}
	return b.String()
}
