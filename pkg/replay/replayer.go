package replay

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/BIwashi/canreplay/pkg/can"
	"github.com/BIwashi/canreplay/pkg/clock"
)

// Source yields timestamped frames in recorded order.
// ReadNext returns io.EOF when the dump is exhausted.
type Source interface {
	ReadNext() (*can.TimedFrame, error)
}

// Handler receives each replayed frame. Returning an error aborts the run.
type Handler func(ctx context.Context, frame *can.TimedFrame) error

// Options control replay pacing and edge-case policy.
type Options struct {
	// Speed scales the recorded inter-frame gaps: 1 replays in real time,
	// 10 replays ten times faster, 0 replays instantly with no waiting.
	Speed float64

	// EmitLast delivers the final frame of the dump. The default (false)
	// matches the historical replay tool, which stops once no successor
	// frame exists and never hands the last frame to the consumer.
	EmitLast bool

	// StrictOrder fails the run with an OrderingError when a frame's
	// timestamp precedes its predecessor's. When false, negative gaps are
	// clamped to zero and replay continues without waiting.
	StrictOrder bool

	// Clock is the time source used for waiting. Defaults to the real clock.
	Clock clock.Clock
}

// Stats summarizes a finished (or aborted) replay run.
type Stats struct {
	FramesRead   int           // frames pulled from the source
	Delivered    int           // frames handed to the handler
	Clamped      int           // negative inter-frame gaps clamped to zero
	RecordedSpan time.Duration // first to last delivered timestamp
	WallDuration time.Duration // elapsed time on the replay clock
}

// OrderingError reports a frame whose timestamp precedes its predecessor's,
// raised only when Options.StrictOrder is set.
type OrderingError struct {
	Index int           // zero-based position of the out-of-order frame
	Gap   time.Duration // negative timestamp delta
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("frame %d is out of order: gap %s", e.Index, e.Gap)
}

// Replayer reproduces the recorded inter-frame timing of a dump while
// forwarding each frame to a handler. Frames are delivered strictly in
// source order, never concurrently.
type Replayer struct {
	src     Source
	handler Handler
	opts    Options
	clk     clock.Clock
}

// New creates a Replayer over the given source and handler.
func New(src Source, handler Handler, opts Options) *Replayer {
	clk := opts.Clock
	if clk == nil {
		clk = clock.NewReal()
	}
	return &Replayer{
		src:     src,
		handler: handler,
		opts:    opts,
		clk:     clk,
	}
}

// Run replays the source until exhaustion, handler failure, or context
// cancellation. It always returns the stats accumulated so far.
//
// Pacing contract: after delivering frame i, Run waits for the timestamp
// delta to frame i+1 (scaled by Speed) before delivering it. The wait is
// interrupted by ctx. The final frame, having no successor gap, is only
// delivered when EmitLast is set.
func (r *Replayer) Run(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	start := r.clk.Now()
	defer func() {
		stats.WallDuration = r.clk.Since(start)
	}()

	var first, last time.Time
	deliver := func(f *can.TimedFrame) error {
		if err := r.handler(ctx, f); err != nil {
			return errors.Wrapf(err, "handle frame %s at %s",
				f.String(), f.Timestamp.Format(time.RFC3339Nano))
		}
		if stats.Delivered == 0 {
			first = f.Timestamp
		}
		last = f.Timestamp
		stats.Delivered++
		stats.RecordedSpan = last.Sub(first)
		return nil
	}

	cur, err := r.src.ReadNext()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		return stats, errors.Wrap(err, "read first frame")
	}
	stats.FramesRead++

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		next, err := r.src.ReadNext()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if r.opts.EmitLast {
					if err := deliver(cur); err != nil {
						return stats, err
					}
				}
				return stats, nil
			}
			return stats, errors.Wrapf(err, "read frame %d", stats.FramesRead)
		}
		stats.FramesRead++

		if err := deliver(cur); err != nil {
			return stats, err
		}

		gap := next.Timestamp.Sub(cur.Timestamp)
		if gap < 0 {
			if r.opts.StrictOrder {
				return stats, &OrderingError{Index: stats.FramesRead - 1, Gap: gap}
			}
			stats.Clamped++
			gap = 0
		}

		if err := r.wait(ctx, gap); err != nil {
			return stats, err
		}

		cur = next
	}
}

// wait blocks for the scaled gap or until ctx is cancelled.
// Speed 0 means instant replay: no waiting at all.
func (r *Replayer) wait(ctx context.Context, gap time.Duration) error {
	if gap <= 0 || r.opts.Speed <= 0 {
		return nil
	}
	scaled := gap
	if r.opts.Speed != 1 {
		scaled = time.Duration(float64(gap) / r.opts.Speed)
	}
	if scaled <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.clk.After(scaled):
		return nil
	}
}
