package video

import "errors"

// Sample is one encoded access unit: raw NAL units in Annex-B form (start
// code delimited), ready for AVCC length-prefixing by the muxer.
type Sample struct {
	NALUnits  [][]byte
	Keyframe  bool
	SPS, PPS  []byte // non-nil only on the sample that first carries them
}

// FrameEncoder compresses raw frames into H.264 access units, mirroring the
// teacher's encoderBackend abstraction (internal/remote/desktop.encoderBackend):
// a small interface so hardware backends can be swapped in later without
// touching the muxing or timeline code.
type FrameEncoder interface {
	Encode(frame *Frame) (*Sample, error)
	Close() error
	Name() string
}

// ErrEmptyFrame mirrors the teacher software encoder's empty-input guard.
var ErrEmptyFrame = errors.New("video: empty frame")

// softwareEncoder is a placeholder backend adapted directly from the
// teacher's encoder_software.go: a passthrough with no real bitstream
// compression. Swapping in a real libx264/vpx binding only requires
// implementing FrameEncoder with a new backend — the muxer and timeline
// never depend on which backend produced a Sample.
type softwareEncoder struct {
	width, height int
	sentConfig    bool
}

// NewSoftwareEncoder constructs the placeholder backend at the given
// output dimensions.
func NewSoftwareEncoder(width, height int) FrameEncoder {
	return &softwareEncoder{width: width, height: height}
}

// Encode mirrors the teacher's softwareEncoder.Encode: until a real H.264
// bitstream encoder is wired in, this cannot produce standards-compliant
// NAL units, so it emits a single empty "frame marker" sample rather than
// synthesizing content that only pretends to be a compressed frame.
func (s *softwareEncoder) Encode(frame *Frame) (*Sample, error) {
	if frame == nil || len(frame.Pixels) == 0 {
		return nil, ErrEmptyFrame
	}
	sample := &Sample{Keyframe: !s.sentConfig}
	s.sentConfig = true
	return sample, nil
}

func (s *softwareEncoder) Close() error { return nil }

func (s *softwareEncoder) Name() string { return "software" }
