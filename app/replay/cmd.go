package replay

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/BIwashi/canreplay/pkg/can"
	"github.com/BIwashi/canreplay/pkg/cli"
	"github.com/BIwashi/canreplay/pkg/dbc"
	"github.com/BIwashi/canreplay/pkg/dump"
	"github.com/BIwashi/canreplay/pkg/pcapng"
	"github.com/BIwashi/canreplay/pkg/replay"
	"github.com/BIwashi/canreplay/pkg/vehicle"
)

type replayer struct {
	dumpFile    string
	dbcFile     string
	format      string
	speed       float64
	emitLast    bool
	strictOrder bool
	quiet       bool
}

func NewCommand() *cobra.Command {
	s := &replayer{
		format: "auto",
		speed:  1,
	}

	cmd := &cobra.Command{
		Use:          "replay",
		SilenceUsage: true,
		Short:        "Replay a timestamped CAN dump with its original inter-frame timing.",
		Long: `Replay a recorded CAN dump, pausing between frames for the wall-clock
gap recorded in the dump so consumers see the original bus pacing.

With --dbc-file, each frame is decoded and the current vehicle state is
printed after every frame. Without it, raw frames are printed.`,
		Example: `  # Replay a text dump in real time, printing raw frames
  canreplay replay --dump-file canbus.dmp

  # Replay ten times faster, decoding against a DBC file
  canreplay replay --dump-file canbus.dmp --dbc-file vehicle.dbc --speed 10

  # Replay a pcapng capture recorded off a live bus
  canreplay replay --dump-file capture.pcapng --dbc-file vehicle.dbc`,
		RunE: cli.WithContext(s.run),
	}

	cmd.Flags().StringVar(&s.dumpFile, "dump-file", s.dumpFile, "dump file (text dump or pcapng capture)")
	cmd.Flags().StringVar(&s.dbcFile, "dbc-file", s.dbcFile, "DBC file for signal decoding (optional)")
	cmd.Flags().StringVar(&s.format, "format", s.format, "input format: auto, dump or pcapng")
	cmd.Flags().Float64Var(&s.speed, "speed", s.speed, "replay speed (0=instant, 1=real-time, 10=10x)")
	cmd.Flags().BoolVar(&s.emitLast, "emit-last", s.emitLast, "deliver the final frame of the dump as well")
	cmd.Flags().BoolVar(&s.strictOrder, "strict-order", s.strictOrder, "fail on out-of-order timestamps instead of clamping")
	cmd.Flags().BoolVar(&s.quiet, "quiet", s.quiet, "suppress per-frame output")

	cmd.MarkFlagRequired("dump-file")

	return cmd
}

func (s *replayer) run(ctx context.Context, input cli.Input) error {
	input.Logger.Info("Starting replay",
		"dump_file", s.dumpFile,
		"dbc_file", s.dbcFile,
		"speed", s.speed,
	)

	f, err := os.Open(s.dumpFile)
	if err != nil {
		return errors.Wrap(err, "open dump file")
	}
	defer f.Close()

	src, err := openSource(f, s.dumpFile, s.format)
	if err != nil {
		return err
	}

	var handler replay.Handler
	var decoded, skipped int
	if s.dbcFile != "" {
		db, err := dbc.Load(s.dbcFile)
		if err != nil {
			return errors.Wrap(err, "load DBC file")
		}
		for _, warn := range db.Warnings() {
			input.Logger.Warn("dbc metadata issue", "err", warn)
		}
		input.Logger.Info(fmt.Sprintf("Loaded %d message definitions from DBC file", len(db.Messages())))

		decoder := dbc.NewDecoder(db)
		state := vehicle.NewState()

		handler = func(ctx context.Context, frame *can.TimedFrame) error {
			msg, err := decoder.Decode(frame)
			if err != nil {
				if errors.Is(err, dbc.ErrUnknownMessage) || errors.Is(err, dbc.ErrFrameShape) {
					skipped++
					return nil
				}
				return err
			}
			decoded++
			state.Ingest(msg)
			if !s.quiet {
				fmt.Fprintf(input.Stdout, "--- %s %s ---\n", frame.Timestamp.Format("15:04:05.000000"), frame.String())
				state.Render(input.Stdout)
			}
			return nil
		}
	} else {
		handler = func(ctx context.Context, frame *can.TimedFrame) error {
			if !s.quiet {
				fmt.Fprintf(input.Stdout, "%s  %s\n", frame.Timestamp.Format("15:04:05.000000"), frame.String())
			}
			return nil
		}
	}

	r := replay.New(src, handler, replay.Options{
		Speed:       s.speed,
		EmitLast:    s.emitLast,
		StrictOrder: s.strictOrder,
	})

	stats, err := r.Run(ctx)
	interrupted := false
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			return err
		}
		interrupted = true
	}

	if interrupted {
		input.Logger.Warn("Replay interrupted")
	} else {
		input.Logger.Info("Replay finished")
	}
	input.Logger.Info("Replay summary",
		"frames_read", stats.FramesRead,
		"delivered", stats.Delivered,
		"decoded", decoded,
		"skipped", skipped,
		"clamped_gaps", stats.Clamped,
		"recorded_span", stats.RecordedSpan,
		"wall_duration", stats.WallDuration,
	)

	return nil
}

// openSource picks the reader for the dump based on the format flag, or
// the file extension when the format is auto.
func openSource(f *os.File, path, format string) (replay.Source, error) {
	if format == "auto" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".pcapng", ".pcap":
			format = "pcapng"
		default:
			format = "dump"
		}
	}
	switch format {
	case "dump":
		return dump.NewReader(f), nil
	case "pcapng":
		return pcapng.NewReader(f)
	default:
		return nil, errors.Newf("unknown format: %q", format)
	}
}
