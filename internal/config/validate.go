package config

import (
	"fmt"
	"net"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"warning": true,
	"error": true,
}

// Validate checks the config for invalid values. Dangerous zero-or-negative
// values that would cause panics downstream (e.g. a zero-capacity pool) are
// clamped to safe minimums; the clamp itself is reported as an error so
// Load can log it, but it does not block startup.
func (c *Config) Validate() []error {
	var errs []error

	if c.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
			errs = append(errs, fmt.Errorf("listen_addr %q is invalid: %w", c.ListenAddr, err))
		}
	}

	clampInt(&c.MaxLayers, 1, 64, "max_layers", &errs)
	clampInt(&c.MaxBuffers, 1, 4096, "max_buffers", &errs)
	clampInt(&c.MaxStreams, 1, 64, "max_streams", &errs)
	clampInt(&c.MaxGlobalStreams, 1, 512, "max_global_streams", &errs)
	clampInt(&c.MaxUserStreams, 1, 64, "max_user_streams", &errs)
	clampInt(&c.MaxUserObjects, 1, 64, "max_user_objects", &errs)
	clampInt(&c.MaxInstructionBytes, 256, 1<<20, "max_instruction_bytes", &errs)
	clampInt(&c.MaxArgNameBytes, 1, 4096, "max_arg_name_bytes", &errs)
	clampInt(&c.MaxArgvValueBytes, 1, 1<<20, "max_argv_value_bytes", &errs)
	clampInt(&c.ScrollbackRows, 0, 1_000_000, "scrollback_rows", &errs)
	clampInt(&c.BufferPoolMinFree, 0, 4096, "buffer_pool_min_free", &errs)
	clampInt(&c.JoinPendingIntervalMs, 10, 60_000, "join_pending_interval_ms", &errs)

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	clampInt(&c.VideoWidth, 16, 7680, "video_width", &errs)
	clampInt(&c.VideoHeight, 16, 4320, "video_height", &errs)
	clampInt(&c.VideoBitrate, 1000, 100_000_000, "video_bitrate", &errs)
	clampInt(&c.VideoFPS, 1, 240, "video_fps", &errs)

	if c.S3ArchiveEnabled && c.S3Bucket == "" {
		errs = append(errs, fmt.Errorf("s3_archive_enabled requires s3_bucket"))
	}

	return errs
}

func clampInt(v *int, min, max int, field string, errs *[]error) {
	if *v < min {
		*errs = append(*errs, fmt.Errorf("%s %d is below minimum %d, clamping", field, *v, min))
		*v = min
	} else if *v > max {
		*errs = append(*errs, fmt.Errorf("%s %d exceeds maximum %d, clamping", field, *v, max))
		*v = max
	}
}
