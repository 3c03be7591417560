// Package config loads gateway daemon and guacenc configuration via viper,
// layering environment variables and an optional YAML file over defaults.
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"

	"github.com/guacfabric/gateway/internal/logging"
)

var log = logging.L("config")

// Config holds the tunables for the gateway daemon: transport, recording,
// and the per-session/per-user resource limits from spec.md §5.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`

	// Resource limits (spec.md §5 "Resource bounds").
	MaxLayers            int `mapstructure:"max_layers"`
	MaxBuffers           int `mapstructure:"max_buffers"`
	MaxStreams           int `mapstructure:"max_streams"`
	MaxGlobalStreams      int `mapstructure:"max_global_streams"`
	MaxUserStreams        int `mapstructure:"max_user_streams"`
	MaxUserObjects        int `mapstructure:"max_user_objects"`
	MaxInstructionBytes   int `mapstructure:"max_instruction_bytes"`
	MaxArgNameBytes       int `mapstructure:"max_arg_name_bytes"`
	MaxArgvValueBytes     int `mapstructure:"max_argv_value_bytes"`
	ScrollbackRows        int `mapstructure:"scrollback_rows"`
	BufferPoolMinFree     int `mapstructure:"buffer_pool_min_free"`
	JoinPendingIntervalMs int `mapstructure:"join_pending_interval_ms"`

	// Recording sink (spec.md §4.K).
	RecordingDir       string `mapstructure:"recording_dir"`
	RecordingBasename  string `mapstructure:"recording_basename"`
	RecordingCreateDir bool   `mapstructure:"recording_create_path"`
	RecordingIncludeMouse     bool `mapstructure:"recording_include_mouse"`
	RecordingIncludeKeys     bool `mapstructure:"recording_include_keys"`
	RecordingIncludeOutput   bool `mapstructure:"recording_include_output"`

	// Optional off-box archival of completed recordings.
	S3ArchiveEnabled bool   `mapstructure:"s3_archive_enabled"`
	S3Bucket         string `mapstructure:"s3_bucket"`
	S3Region         string `mapstructure:"s3_region"`
	S3Prefix         string `mapstructure:"s3_prefix"`

	// Logging.
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	// Video encoding defaults for guacenc (spec.md §6).
	VideoWidth   int `mapstructure:"video_width"`
	VideoHeight  int `mapstructure:"video_height"`
	VideoBitrate int `mapstructure:"video_bitrate"`
	VideoFPS     int `mapstructure:"video_fps"`
}

// Default returns the gateway's built-in defaults, matching the limits in
// spec.md §3 and §5.
func Default() *Config {
	return &Config{
		ListenAddr: ":4822",

		MaxLayers:           64,
		MaxBuffers:          4096,
		MaxStreams:          64,
		MaxGlobalStreams:    512,
		MaxUserStreams:      64,
		MaxUserObjects:      64,
		MaxInstructionBytes: 8192,
		MaxArgNameBytes:     256,
		MaxArgvValueBytes:   16384,
		ScrollbackRows:      1000,
		BufferPoolMinFree:   1024,
		JoinPendingIntervalMs: 200,

		RecordingDir:       "",
		RecordingCreateDir: false,

		LogLevel:      "info",
		LogFormat:     "text",
		LogMaxSizeMB:  50,
		LogMaxBackups: 3,

		VideoWidth:   640,
		VideoHeight:  480,
		VideoBitrate: 2_000_000,
		VideoFPS:     25,
	}
}

// Load reads configuration from cfgFile (or the platform default search
// path when empty), layering environment variables (prefix GUAC_) and
// defaults underneath, then validates the result.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("gateway")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("GUAC")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	// Clamps are non-fatal: each one is logged and the adjusted value is
	// used, so a config with one out-of-range limit doesn't keep the
	// gateway from starting.
	for _, verr := range cfg.Validate() {
		log.Warn("config value adjusted", "error", verr)
	}

	return cfg, nil
}

// GetDataDir returns the platform-specific data directory for the gateway.
func GetDataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Guacamole", "data")
	case "darwin":
		return "/Library/Application Support/Guacamole/data"
	default:
		return "/var/lib/guacamole"
	}
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Guacamole")
	case "darwin":
		return "/Library/Application Support/Guacamole"
	default:
		return "/etc/guacamole"
	}
}
