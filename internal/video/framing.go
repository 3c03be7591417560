// Package video drives the fixed-framerate timeline a recording is encoded
// against, scales each flattened frame to the output's letterboxed or
// pillarboxed aspect ratio, and muxes the resulting samples into
// fragmented MP4, per spec.md §4.I.
package video

import (
	"github.com/guacfabric/gateway/internal/display"
	"github.com/guacfabric/gateway/internal/guac"
	"github.com/guacfabric/gateway/internal/logging"
)

var log = logging.L("video")

// DefaultFPS is the fixed output framerate spec.md §4.I specifies absent
// an explicit override.
const DefaultFPS = 25

// Frame is a single encoder-ready raster: RGBA pixels at the output's
// fixed width/height, already letterboxed or pillarboxed.
type Frame struct {
	Width, Height int
	Pixels        []byte // 4 bytes/pixel, row-major, straight alpha
}

// Timeline tracks the wallclock-to-frame mapping a recording's "sync"
// timestamps drive: spec.md §4.I's advance_timeline/prepare_frame pair.
type Timeline struct {
	fps      int
	lastSync int64

	outWidth, outHeight int

	pending *Frame
	sink    func(frame *Frame) error
}

// NewTimeline builds a timeline emitting frames at fps (DefaultFPS if 0),
// scaled to outWidth x outHeight, handing each finished frame to sink in
// presentation order.
func NewTimeline(fps, outWidth, outHeight int, sink func(frame *Frame) error) *Timeline {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &Timeline{fps: fps, outWidth: outWidth, outHeight: outHeight, sink: sink}
}

// AdvanceTimeline implements spec.md §4.I's advance_timeline: on the first
// call (last_sync == 0) it only records ts. On subsequent calls it computes
// how many output frames have elapsed since the last sync and flushes the
// currently-prepared frame that many times (duplicating it to hold
// wallclock alignment), advancing last_sync only by the whole frames it
// actually emitted — any fractional remainder is deferred to the next
// call rather than accumulating drift.
func (t *Timeline) AdvanceTimeline(timestampMillis int64) error {
	if timestampMillis < t.lastSync {
		log.Warn("rejecting decreasing timestamp", "ts", timestampMillis, "lastSync", t.lastSync)
		return nil
	}

	if t.lastSync == 0 {
		t.lastSync = timestampMillis
		return nil
	}

	elapsed := (timestampMillis - t.lastSync) * int64(t.fps) / 1000
	if elapsed == 0 {
		return nil
	}

	for i := int64(0); i < elapsed; i++ {
		if t.pending == nil {
			continue
		}
		if err := t.sink(t.pending); err != nil {
			return err
		}
	}
	t.lastSync += elapsed * 1000 / int64(t.fps)
	return nil
}

// PrepareFrame converts a flattened display buffer into an encoder-ready
// frame at the timeline's fixed output size: scale-to-fit at the output
// aspect ratio, then center the result with black letterbox (top/bottom)
// or pillarbox (left/right) bars padding whichever axis is not fully used.
// A nil buffer is a no-op, matching spec.md §4.I.
func (t *Timeline) PrepareFrame(buf *display.Buffer) error {
	if buf == nil || buf.Width == 0 || buf.Height == 0 {
		return nil
	}

	frame, err := scaleToFit(buf, t.outWidth, t.outHeight)
	if err != nil {
		return err
	}
	t.pending = frame
	return nil
}

// scaleToFit scales src to fit within outWidth x outHeight preserving
// aspect ratio, padding the unused margin with transparent-black bars —
// letterboxes (bars top and bottom) if the scaled image is shorter than
// the output, pillarboxes (bars left and right) if it is narrower,
// bicubic-equivalent quality approximated
// with bilinear sampling since no imaging library in this module's
// dependency surface offers bicubic resampling.
func scaleToFit(src *display.Buffer, outWidth, outHeight int) (*Frame, error) {
	size, err := guac.CheckedMulInt(outWidth, outHeight)
	if err != nil {
		return nil, err
	}
	pixelBytes, err := guac.CheckedMulInt(size, 4)
	if err != nil {
		return nil, err
	}

	scaleX := float64(outWidth) / float64(src.Width)
	scaleY := float64(outHeight) / float64(src.Height)
	scale := scaleX
	if scaleY < scale {
		scale = scaleY
	}

	scaledW := int(float64(src.Width)*scale + 0.5)
	scaledH := int(float64(src.Height)*scale + 0.5)
	if scaledW < 1 {
		scaledW = 1
	}
	if scaledH < 1 {
		scaledH = 1
	}

	marginX := (outWidth - scaledW) / 2
	marginY := (outHeight - scaledH) / 2

	pixels := make([]byte, pixelBytes)

	for y := 0; y < scaledH; y++ {
		srcY := float64(y) / scale
		for x := 0; x < scaledW; x++ {
			srcX := float64(x) / scale
			r, g, b, a := bilinear(src, srcX, srcY)

			dx, dy := x+marginX, y+marginY
			if dx < 0 || dx >= outWidth || dy < 0 || dy >= outHeight {
				continue
			}
			idx := (dy*outWidth + dx) * 4
			pixels[idx], pixels[idx+1], pixels[idx+2], pixels[idx+3] = r, g, b, a
		}
	}

	return &Frame{Width: outWidth, Height: outHeight, Pixels: pixels}, nil
}

// bilinear samples src's RGBA pixel grid at fractional (x, y), exported
// through the unexported Buffer pixel accessor via display.Buffer.At.
func bilinear(src *display.Buffer, x, y float64) (r, g, b, a uint8) {
	x0, y0 := int(x), int(y)
	x1, y1 := x0+1, y0+1
	if x1 >= src.Width {
		x1 = src.Width - 1
	}
	if y1 >= src.Height {
		y1 = src.Height - 1
	}
	fx, fy := x-float64(x0), y-float64(y0)

	c00 := src.At(x0, y0)
	c10 := src.At(x1, y0)
	c01 := src.At(x0, y1)
	c11 := src.At(x1, y1)

	lerp := func(a, b byte, t float64) float64 {
		return float64(a)*(1-t) + float64(b)*t
	}

	channel := func(i int) uint8 {
		top := lerp(c00[i], c10[i], fx)
		bottom := lerp(c01[i], c11[i], fx)
		v := top*(1-fy) + bottom*fy
		return uint8(v + 0.5)
	}

	return channel(0), channel(1), channel(2), channel(3)
}
