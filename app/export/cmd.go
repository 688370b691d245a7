package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/BIwashi/canreplay/pkg/can"
	"github.com/BIwashi/canreplay/pkg/cli"
	"github.com/BIwashi/canreplay/pkg/dbc"
	"github.com/BIwashi/canreplay/pkg/dump"
	"github.com/BIwashi/canreplay/pkg/mcap"
	"github.com/BIwashi/canreplay/pkg/pcapng"
	"github.com/BIwashi/canreplay/pkg/replay"
)

type exporter struct {
	dumpFile string
	dbcFile  string
	mcapFile string
	format   string
}

func NewCommand() *cobra.Command {
	s := &exporter{
		format: "auto",
	}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Decode a CAN dump and export it to MCAP.",
		Long: `Decode every frame of a recorded CAN dump against a DBC file and write
the decoded messages to an MCAP file, one JSON channel per message.

The dump is run through the replay pipeline at instant speed, so the
exported messages keep their recorded timestamps without real-time waiting.`,
		Example: `  # Export a text dump to MCAP
  canreplay export --dump-file canbus.dmp --dbc-file vehicle.dbc --mcap-file out.mcap`,
		RunE: cli.WithContext(s.run),
	}

	cmd.Flags().StringVar(&s.dumpFile, "dump-file", s.dumpFile, "dump file (text dump or pcapng capture)")
	cmd.Flags().StringVar(&s.dbcFile, "dbc-file", s.dbcFile, "DBC file")
	cmd.Flags().StringVar(&s.mcapFile, "mcap-file", s.mcapFile, "MCAP output file")
	cmd.Flags().StringVar(&s.format, "format", s.format, "input format: auto, dump or pcapng")

	cmd.MarkFlagRequired("dump-file")
	cmd.MarkFlagRequired("dbc-file")
	cmd.MarkFlagRequired("mcap-file")

	return cmd
}

func (s *exporter) run(ctx context.Context, input cli.Input) error {
	input.Logger.Info("Starting dump to MCAP export",
		"dump_file", s.dumpFile,
		"dbc_file", s.dbcFile,
		"mcap_file", s.mcapFile,
	)

	db, err := dbc.Load(s.dbcFile)
	if err != nil {
		return errors.Wrap(err, "load DBC file")
	}
	input.Logger.Info(fmt.Sprintf("Loaded %d message definitions from DBC file", len(db.Messages())))

	f, err := os.Open(s.dumpFile)
	if err != nil {
		return errors.Wrap(err, "open dump file")
	}
	defer f.Close()

	src, err := openSource(f, s.dumpFile, s.format)
	if err != nil {
		return err
	}

	out, err := os.Create(s.mcapFile)
	if err != nil {
		return errors.Wrap(err, "create MCAP file")
	}
	defer out.Close()

	writer, err := mcap.NewWriter(out)
	if err != nil {
		return errors.Wrap(err, "create MCAP writer")
	}
	defer writer.Close()

	decoder := dbc.NewDecoder(db)

	var exported, skipped int
	msgCounts := make(map[uint32]int)
	startTime := time.Now()

	handler := func(ctx context.Context, frame *can.TimedFrame) error {
		msg, err := decoder.Decode(frame)
		if err != nil {
			if errors.Is(err, dbc.ErrUnknownMessage) || errors.Is(err, dbc.ErrFrameShape) {
				skipped++
				return nil
			}
			return err
		}
		if err := writer.WriteMessage(msg); err != nil {
			return err
		}
		exported++
		msgCounts[msg.ID]++

		// progress reporting every 10000 frames
		if n := exported + skipped; n%10000 == 0 {
			input.Logger.Info(fmt.Sprintf("Progress: %d frames processed, %d messages exported, %d skipped",
				n, exported, skipped))
		}
		return nil
	}

	// instant replay: no pacing, every frame exported including the last
	r := replay.New(src, handler, replay.Options{
		Speed:    0,
		EmitLast: true,
	})

	stats, err := r.Run(ctx)
	if err != nil {
		return errors.Wrap(err, "export")
	}

	duration := time.Since(startTime)
	input.Logger.Info("Export completed successfully!",
		"total_frames", stats.FramesRead,
		"exported_messages", exported,
		"skipped_frames", skipped,
		"recorded_span", stats.RecordedSpan,
		"output_file", s.mcapFile,
		"duration", duration,
	)

	if len(msgCounts) > 0 {
		input.Logger.Info(fmt.Sprintf("Found %d unique message types", len(msgCounts)))
		for msgID, count := range msgCounts {
			if msg, ok := db.Message(msgID); ok {
				input.Logger.Debug(fmt.Sprintf("  0x%03X (%s): %d messages", msgID, msg.Name, count))
			} else {
				input.Logger.Debug(fmt.Sprintf("  0x%03X: %d messages", msgID, count))
			}
		}
	}

	return nil
}

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
