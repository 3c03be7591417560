// Command guacenc replays one or more recorded sessions (spec.md §4.K
// output) into fragmented MP4 video, one FILE.m4v per input, per spec.md
// §6. It shares nothing with the gateway daemon's process beyond the
// display/video packages both import — guacenc is a batch tool invoked
// well after the sessions it processes have ended.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/guacfabric/gateway/internal/config"
	"github.com/guacfabric/gateway/internal/display"
	"github.com/guacfabric/gateway/internal/logging"
	"github.com/guacfabric/gateway/internal/protocol"
	"github.com/guacfabric/gateway/internal/recording"
	"github.com/guacfabric/gateway/internal/video"
)

var log = logging.L("guacenc")

// maxReplayInstructionBytes is far larger than the live 8 KiB wire cap
// (internal/protocol.DefaultMaxInstructionBytes): a recorded "img" blob
// stream can legitimately carry large base64 payloads one instruction at
// a time, and nothing here is exposed to an untrusted network peer the
// way the live decoder is.
const maxReplayInstructionBytes = 16 << 20

func main() {
	var (
		sizeFlag   string
		bitrate    int
		force      bool
		configFile string
	)

	root := &cobra.Command{
		Use:   "guacenc FILE...",
		Short: "Render recorded Guacamole sessions to MP4",
		Long: "guacenc reads one or more session recordings produced by the gateway's\n" +
			"recording sink and renders each to a fragmented MP4 file alongside it.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load the same config file the gateway daemon reads (if one
			// exists) so this batch tool logs through the same sink and,
			// absent explicit -s/-r flags, renders at the daemon's own
			// configured resolution and bitrate.
			cfg, err := config.Load(configFile)
			if err != nil {
				if configFile != "" {
					return fmt.Errorf("loading config: %w", err)
				}
				log.Debug("no gateway config found, using built-in defaults", "error", err)
				cfg = config.Default()
			}
			var logSink io.Writer
			if cfg.LogFile != "" {
				rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
				if err != nil {
					return fmt.Errorf("opening log file: %w", err)
				}
				defer rw.Close()
				logSink = logging.TeeWriter(os.Stderr, rw)
			}
			logging.Init(cfg.LogFormat, cfg.LogLevel, logSink)

			if !cmd.Flags().Changed("size") {
				sizeFlag = fmt.Sprintf("%dx%d", cfg.VideoWidth, cfg.VideoHeight)
			}
			if !cmd.Flags().Changed("rate") {
				bitrate = cfg.VideoBitrate
			}

			width, height, err := parseSize(sizeFlag)
			if err != nil {
				return err
			}

			failures := 0
			for _, path := range args {
				if err := encodeFile(path, width, height, bitrate, force); err != nil {
					log.Error("failed to encode recording", "file", path, "error", err)
					failures++
				}
			}
			if failures > 0 {
				return fmt.Errorf("guacenc: %d of %d files failed", failures, len(args))
			}
			return nil
		},
	}

	root.Flags().StringVarP(&sizeFlag, "size", "s", "640x480", "output resolution as WIDTHxHEIGHT")
	root.Flags().IntVarP(&bitrate, "rate", "r", 2_000_000, "output bitrate, in bits per second")
	root.Flags().BoolVarP(&force, "force", "f", false, "encode even if the recording still appears to be in progress")
	root.Flags().StringVarP(&configFile, "config", "c", "", "gateway config file to source video defaults from (optional)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseSize(s string) (width, height int, err error) {
	n, err := fmt.Sscanf(s, "%dx%d", &width, &height)
	if err != nil || n != 2 || width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("guacenc: invalid size %q, expected WIDTHxHEIGHT", s)
	}
	return width, height, nil
}

// encodeFile renders one recording to "<path>.m4v", refusing files that
// still appear to be actively written to unless force is set — the same
// guard the original guacenc places in front of replaying a file guacd
// might still hold an exclusive lock on.
func encodeFile(path string, width, height, bitrate int, force bool) error {
	if !force {
		inProgress, err := recording.IsInProgress(path)
		if err != nil {
			return fmt.Errorf("checking lock state: %w", err)
		}
		if inProgress {
			return fmt.Errorf("recording still in progress, pass --force to encode anyway")
		}
	}

	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	outPath := path + ".m4v"
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	enc := video.NewSoftwareEncoder(width, height)
	defer enc.Close()

	muxer := video.NewMuxer(out)

	var frameIndex int64
	timeline := video.NewTimeline(video.DefaultFPS, width, height, func(frame *video.Frame) error {
		sample, err := enc.Encode(frame)
		if err != nil {
			return err
		}
		ptsMillis := frameIndex * 1000 / int64(video.DefaultFPS)
		frameIndex++
		return muxer.WriteSample(sample, width, height, ptsMillis)
	})

	disp := display.New()
	disp.OnSync = func(timestampMillis int64, frame *display.Buffer) error {
		if err := timeline.AdvanceTimeline(timestampMillis); err != nil {
			return err
		}
		return timeline.PrepareFrame(frame)
	}

	dec := protocol.NewDecoder(in, maxReplayInstructionBytes)
	instructions := 0
	for {
		inst, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("decoding instruction %d: %w", instructions, err)
		}
		if err := disp.Handle(inst); err != nil {
			return fmt.Errorf("applying instruction %d (%s): %w", instructions, inst.Opcode, err)
		}
		instructions++
	}

	log.Info("encoded recording", "file", path, "output", outPath, "instructions", instructions, "bitrate", bitrate)
	return nil
}
