package dump

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	ecan "go.einride.tech/can"

	"github.com/BIwashi/canreplay/pkg/can"
)

// TimeLayout is the timestamp format used by the dump files,
// e.g. "2021-01-01 12:00:00.000000" (microsecond resolution).
const TimeLayout = "2006-01-02 15:04:05.000000"

// ParseError reports a malformed dump line. It identifies the offending
// line number (1-based) and carries the raw line for diagnostics.
type ParseError struct {
	Line int
	Raw  string
	Msg  string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dump line %d: %s: %v (%q)", e.Line, e.Msg, e.Err, e.Raw)
	}
	return fmt.Sprintf("dump line %d: %s (%q)", e.Line, e.Msg, e.Raw)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Reader reads CAN frames from a line-oriented dump file. Each line has
// the shape:
//
//	TIME=2021-01-01 12:00:00.000000,FRAME:ID=291:LEN=8:1A:2B:3C:4D:5E:6F:70:81
//
// Lines are parsed lazily, one at a time, so arbitrarily large dumps
// replay in bounded memory. Parsing is strict: any malformed field fails
// the whole read with a ParseError, there is no row-skipping.
type Reader struct {
	scanner *bufio.Scanner
	line    int
}

// NewReader creates a dump reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		scanner: bufio.NewScanner(r),
	}
}

// ReadNext reads the next frame from the dump. Blank lines are skipped.
// Returns io.EOF when the dump is exhausted.
func (r *Reader) ReadNext() (*can.TimedFrame, error) {
	for r.scanner.Scan() {
		r.line++
		raw := strings.TrimRight(r.scanner.Text(), "\r")
		if strings.TrimSpace(raw) == "" {
			continue
		}
		return r.parseLine(raw)
	}
	if err := r.scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read dump line %d", r.line+1)
	}
	return nil, io.EOF
}

// Line returns the number of the most recently read line (1-based).
func (r *Reader) Line() int {
	return r.line
}

func (r *Reader) parseLine(raw string) (*can.TimedFrame, error) {
	fields := strings.SplitN(raw, ",", 2)
	if len(fields) != 2 {
		return nil, &ParseError{Line: r.line, Raw: raw, Msg: "expected TIME and FRAME fields separated by a comma"}
	}

	tsStr, ok := strings.CutPrefix(fields[0], "TIME=")
	if !ok {
		return nil, &ParseError{Line: r.line, Raw: raw, Msg: "time field must start with TIME="}
	}
	ts, err := time.Parse(TimeLayout, tsStr)
	if err != nil {
		return nil, &ParseError{Line: r.line, Raw: raw, Msg: "malformed timestamp", Err: err}
	}

	parts := strings.Split(fields[1], ":")
	if len(parts) < 3 || parts[0] != "FRAME" {
		return nil, &ParseError{Line: r.line, Raw: raw, Msg: "frame field must be FRAME:ID=<id>:LEN=<len>:<bytes...>"}
	}

	idStr, ok := strings.CutPrefix(parts[1], "ID=")
	if !ok {
		return nil, &ParseError{Line: r.line, Raw: raw, Msg: "missing ID= field"}
	}
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		return nil, &ParseError{Line: r.line, Raw: raw, Msg: "malformed frame id", Err: err}
	}

	lenStr, ok := strings.CutPrefix(parts[2], "LEN=")
	if !ok {
		return nil, &ParseError{Line: r.line, Raw: raw, Msg: "missing LEN= field"}
	}
	length, err := strconv.ParseUint(lenStr, 10, 8)
	if err != nil {
		return nil, &ParseError{Line: r.line, Raw: raw, Msg: "malformed frame length", Err: err}
	}
	if length > 8 {
		return nil, &ParseError{Line: r.line, Raw: raw, Msg: fmt.Sprintf("frame length %d exceeds 8", length)}
	}

	byteStrs := parts[3:]
	if len(byteStrs) != int(length) {
		return nil, &ParseError{Line: r.line, Raw: raw,
			Msg: fmt.Sprintf("LEN=%d but %d data bytes present", length, len(byteStrs))}
	}

	var data ecan.Data
	for i, bs := range byteStrs {
		b, err := strconv.ParseUint(bs, 16, 8)
		if err != nil {
			return nil, &ParseError{Line: r.line, Raw: raw,
				Msg: fmt.Sprintf("malformed data byte %d", i), Err: err}
		}
		data[i] = byte(b)
	}

	return &can.TimedFrame{
		Frame: ecan.Frame{
			ID:     uint32(id),
			Length: uint8(length),
			Data:   data,
			// dumps carry plain decimal IDs; anything beyond the standard
			// 11-bit range must have come from an extended frame
			IsExtended: id > 0x7FF,
		},
		Timestamp: ts,
	}, nil
}
