package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultMatchesSpecBounds(t *testing.T) {
	cfg := Default()
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("built-in defaults should need no clamping, got %v", errs)
	}
	if cfg.MaxLayers != 64 || cfg.MaxBuffers != 4096 || cfg.MaxStreams != 64 {
		t.Fatalf("default resource bounds drifted from spec.md §5: %+v", cfg)
	}
	if cfg.MaxInstructionBytes != 8192 {
		t.Fatalf("default instruction cap = %d, want 8192", cfg.MaxInstructionBytes)
	}
}

func TestValidateClampsOutOfRangeValues(t *testing.T) {
	cfg := Default()
	cfg.MaxLayers = 0
	cfg.MaxBuffers = 1_000_000
	cfg.LogLevel = "verbose"

	errs := cfg.Validate()
	if len(errs) != 3 {
		t.Fatalf("expected 3 validation errors, got %d: %v", len(errs), errs)
	}
	if cfg.MaxLayers != 1 {
		t.Errorf("MaxLayers clamped to %d, want 1", cfg.MaxLayers)
	}
	if cfg.MaxBuffers != 4096 {
		t.Errorf("MaxBuffers clamped to %d, want 4096", cfg.MaxBuffers)
	}
}

func TestValidateRejectsBadListenAddr(t *testing.T) {
	cfg := Default()
	cfg.ListenAddr = "not-a-host-port"

	errs := cfg.Validate()
	if len(errs) == 0 {
		t.Fatal("expected an error for an invalid listen_addr")
	}
}

func TestValidateRequiresBucketWhenS3ArchiveEnabled(t *testing.T) {
	cfg := Default()
	cfg.S3ArchiveEnabled = true
	cfg.S3Bucket = ""

	errs := cfg.Validate()
	found := false
	for _, err := range errs {
		if err.Error() == "s3_archive_enabled requires s3_bucket" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected s3_bucket requirement error, got %v", errs)
	}
}

func TestLoadWithMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load with no config file present should fall back to defaults, got %v", err)
	}
	if cfg.VideoWidth != 640 || cfg.VideoHeight != 480 {
		t.Fatalf("unexpected fallback video defaults: %+v", cfg)
	}
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	const body = "listen_addr: 127.0.0.1:9999\nvideo_width: 1280\nvideo_height: 720\n"
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%q) failed: %v", path, err)
	}
	if cfg.ListenAddr != "127.0.0.1:9999" {
		t.Errorf("ListenAddr = %q, want 127.0.0.1:9999", cfg.ListenAddr)
	}
	if cfg.VideoWidth != 1280 || cfg.VideoHeight != 720 {
		t.Errorf("video dimensions = %dx%d, want 1280x720", cfg.VideoWidth, cfg.VideoHeight)
	}
	// Values absent from the file fall back to the built-in defaults.
	if cfg.MaxLayers != 64 {
		t.Errorf("MaxLayers = %d, want default 64", cfg.MaxLayers)
	}
}

func TestLoadWithExplicitMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml")); err == nil {
		t.Fatal("expected an error for an explicitly named, nonexistent config file")
	}
}
