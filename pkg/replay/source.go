package replay

import (
	"io"

	"github.com/BIwashi/canreplay/pkg/can"
)

// Log is an in-memory ordered sequence of frames, insertion order =
// recorded order. Timestamps are assumed non-decreasing; this is not
// validated here (see Options.StrictOrder).
type Log []*can.TimedFrame

// Source returns a Source that yields the log's frames in order.
func (l Log) Source() Source {
	return &logSource{log: l}
}

type logSource struct {
	log Log
	pos int
}

func (s *logSource) ReadNext() (*can.TimedFrame, error) {
	if s.pos >= len(s.log) {
		return nil, io.EOF
	}
	f := s.log[s.pos]
	s.pos++
	return f, nil
}
