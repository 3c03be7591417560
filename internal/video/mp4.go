package video

import (
	"bytes"
	"fmt"
	"io"

	"github.com/Eyevinn/mp4ff/mp4"
)

// mp4Timescale is the fMP4 track timescale, matching the 90 kHz convention
// video muxers commonly use for H.264 tracks.
const mp4Timescale = 90000

// Muxer writes a FrameEncoder's samples out as fragmented MP4: one init
// segment (ftyp+moov, written once the first sample carries SPS/PPS)
// followed by one moof+mdat fragment per sample, adapted from
// helixml-helix's fMP4Muxer onto this module's Sample/Frame types instead
// of a raw NAL byte stream read off a WebSocket.
type Muxer struct {
	w             io.Writer
	width, height uint32
	sps, pps      []byte
	initialized   bool
	frameNum      uint32
	lastPTS       int64
}

// NewMuxer returns a Muxer writing fragmented MP4 to w.
func NewMuxer(w io.Writer) *Muxer {
	return &Muxer{w: w}
}

// WriteSample appends one encoded access unit at ptsMillis, writing the
// init segment first if this sample carries the track's SPS/PPS.
func (m *Muxer) WriteSample(sample *Sample, width, height int, ptsMillis int64) error {
	if sample.SPS != nil && sample.PPS != nil && !m.initialized {
		m.sps, m.pps = sample.SPS, sample.PPS
		m.width, m.height = uint32(width), uint32(height)
		if err := m.writeInitSegment(); err != nil {
			return err
		}
		m.initialized = true
	}

	if !m.initialized {
		log.Debug("dropping sample before SPS/PPS are available")
		return nil
	}

	return m.writeMediaSegment(sample, ptsMillis)
}

func (m *Muxer) writeInitSegment() error {
	init := mp4.CreateEmptyInit()
	init.AddEmptyTrack(mp4Timescale, "video", "und")

	avcC, err := mp4.CreateAvcC([][]byte{m.sps}, [][]byte{m.pps}, true)
	if err != nil {
		return fmt.Errorf("video: create avcC: %w", err)
	}

	stsd := init.Moov.Trak.Mdia.Minf.Stbl.Stsd
	avcx := mp4.CreateVisualSampleEntryBox("avc1", uint16(m.width), uint16(m.height), avcC)
	stsd.AddChild(avcx)

	var buf bytes.Buffer
	if err := init.Encode(&buf); err != nil {
		return fmt.Errorf("video: encode init segment: %w", err)
	}
	_, err = m.w.Write(buf.Bytes())
	return err
}

func (m *Muxer) writeMediaSegment(sample *Sample, ptsMillis int64) error {
	m.frameNum++

	var data []byte
	for _, nalu := range sample.NALUnits {
		length := uint32(len(nalu))
		data = append(data, byte(length>>24), byte(length>>16), byte(length>>8), byte(length))
		data = append(data, nalu...)
	}

	dur := uint32(mp4Timescale / DefaultFPS)
	if m.lastPTS != 0 && ptsMillis > m.lastPTS {
		dur = uint32((ptsMillis - m.lastPTS) * mp4Timescale / 1000)
	}
	m.lastPTS = ptsMillis

	frag, err := mp4.CreateFragment(m.frameNum, 1)
	if err != nil {
		return fmt.Errorf("video: create fragment: %w", err)
	}

	flags := mp4.NonSyncSampleFlags
	if sample.Keyframe {
		flags = mp4.SyncSampleFlags
	}

	frag.AddFullSample(mp4.FullSample{
		Sample: mp4.Sample{
			Flags: flags,
			Dur:   dur,
			Size:  uint32(len(data)),
		},
		DecodeTime: uint64(ptsMillis * mp4Timescale / 1000),
		Data:       data,
	})

	var buf bytes.Buffer
	if err := frag.Encode(&buf); err != nil {
		return fmt.Errorf("video: encode fragment: %w", err)
	}
	_, err = m.w.Write(buf.Bytes())
	return err
}
