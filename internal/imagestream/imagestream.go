// Package imagestream implements the mimetype-keyed decoder dispatch and
// streaming accumulator spec.md §4.H describes for "img"/"blob"/"end"
// instruction sequences: a static table maps a stream's advertised
// mimetype to a decode function, raw bytes accumulate into a
// doubling-growth buffer as "blob" instructions arrive, and "end" either
// decodes and paints the result (known mimetype) or succeeds as a no-op
// (unrecognized mimetype, matching guacenc_image_stream_end's NULL-decoder
// path).
package imagestream

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/guacfabric/gateway/internal/guac"
	"github.com/guacfabric/gateway/internal/protocol"
)

// maxStreamBytes bounds how large a single image stream's accumulated
// payload may grow to (64 MiB), the "hard cap" spec.md §4.H requires
// guarding with overflow-checked arithmetic.
const maxStreamBytes = 64 << 20

const initialCapacity = 4096

// decodeFunc turns a complete, accumulated image payload into a decoded
// image.Image. Both stdlib decoders here satisfy it directly.
type decodeFunc func([]byte) (image.Image, error)

var decoders = map[string]decodeFunc{
	"image/png": func(data []byte) (image.Image, error) {
		return png.Decode(bytes.NewReader(data))
	},
	"image/jpeg": func(data []byte) (image.Image, error) {
		return jpeg.Decode(bytes.NewReader(data))
	},
	// image/webp has no decoder here: no webp library appears anywhere in
	// the dependency surface this module draws from, so a webp stream is
	// handled exactly like an unrecognized mimetype — it accumulates and
	// its "end" succeeds as a no-op rather than failing the stream.
}

// Target is the raster surface an image stream ultimately paints into.
// internal/display.Buffer satisfies this without either package importing
// the other.
type Target interface {
	Autosized() bool
	Fit(x, y int)
	Paint(img image.Image, x, y int, mode protocol.CompositingMode)
}

// Stream accumulates one "img" instruction's blob payload and, on "end",
// decodes and paints it — or discards it silently if the mimetype isn't
// recognized.
type Stream struct {
	mimetype string
	mode     protocol.CompositingMode
	target   Target
	x, y     int

	data []byte
}

// New begins a new image stream targeting dst at (x, y) with the given
// compositing mode, mirroring guacenc_display_create_image_stream.
func New(mimetype string, mode protocol.CompositingMode, target Target, x, y int) *Stream {
	return &Stream{mimetype: mimetype, mode: mode, target: target, x: x, y: y}
}

// Receive appends a chunk of accumulated payload, growing the backing
// buffer by doubling (capped, overflow-checked) rather than exactly to
// fit, mirroring the common pattern of amortizing reallocation cost across
// many small "blob" instructions.
func (s *Stream) Receive(chunk []byte) error {
	need := len(s.data) + len(chunk)
	if need > maxStreamBytes {
		return guac.ErrOverrun
	}

	if cap(s.data) < need {
		size := initialCapacity
		if cap(s.data) > size {
			size = cap(s.data)
		}
		grown, err := guac.NextPow2Cap(size, need, maxStreamBytes)
		if err != nil {
			return err
		}
		next := make([]byte, len(s.data), grown)
		copy(next, s.data)
		s.data = next
	}

	s.data = append(s.data, chunk...)
	return nil
}

// End finishes the stream: if the mimetype was recognized, decode the
// accumulated payload, grow the target if it autosizes, and paint the
// result; otherwise this is a successful no-op, per spec.md §4.H.
func (s *Stream) End() error {
	decode, ok := decoders[s.mimetype]
	if !ok {
		return nil
	}

	img, err := decode(s.data)
	if err != nil {
		return guac.ErrBadType
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	if s.target.Autosized() {
		s.target.Fit(s.x+w, s.y+h)
	}

	s.target.Paint(img, s.x, s.y, s.mode)
	return nil
}
