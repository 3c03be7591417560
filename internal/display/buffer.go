// Package display reconstructs the layer/buffer compositing tree that the
// recording-replay path needs: the broadcast socket only ever sees wire
// instructions, so turning a recording back into video means replaying those
// instructions against an in-memory raster model and flattening it to a
// frame on every "sync". This mirrors guacenc's display/layer/buffer trio
// rather than the live terminal's glyph-cache shortcuts.
package display

import "image"

// pixel is a straight-alpha RGBA sample. Buffers are stored straight rather
// than premultiplied; composite blends premultiply only for the duration of
// the blend math.
type pixel struct {
	R, G, B, A uint8
}

// Buffer is a software raster surface: a plain pixel grid plus the autosize
// flag non-layer (negative-index) buffers carry, mirroring guacenc's
// guacenc_buffer. Layers own two of these — buffer (source content) and
// frame (the per-sync compositing target) — both always the same shape.
type Buffer struct {
	Width, Height int
	Autosize      bool

	pixels []pixel

	// pendingRect holds the path set by the most recent "rect" instruction
	// targeting this buffer, consumed by the "cfill" that always follows
	// it — mirroring cairo_rectangle/cairo_fill's implicit current-path
	// state in the original.
	pendingRect rectangle
}

type rectangle struct {
	x, y, w, h int
}

// At returns the straight-alpha RGBA sample at (x, y) as [R, G, B, A],
// clamped to the buffer's edge for out-of-range coordinates so callers
// doing fractional (bilinear) sampling near an edge don't need their own
// bounds bookkeeping.
func (b *Buffer) At(x, y int) [4]byte {
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	if b.Width > 0 && x >= b.Width {
		x = b.Width - 1
	}
	if b.Height > 0 && y >= b.Height {
		y = b.Height - 1
	}
	if b.Width == 0 || b.Height == 0 {
		return [4]byte{}
	}
	p := b.pixels[b.at(x, y)]
	return [4]byte{p.R, p.G, p.B, p.A}
}

// NewBuffer returns an empty, zero-sized buffer. Use Resize or Fit to give
// it pixels.
func NewBuffer() *Buffer {
	return &Buffer{}
}

func (b *Buffer) at(x, y int) int { return y*b.Width + x }

// Resize changes the buffer's dimensions, preserving existing pixel data
// translated into the new grid (content outside the new bounds is dropped;
// new area is transparent black). A no-op if the size is unchanged.
func (b *Buffer) Resize(width, height int) {
	if width == b.Width && height == b.Height {
		return
	}
	if width <= 0 || height <= 0 {
		b.Width, b.Height, b.pixels = 0, 0, nil
		return
	}

	next := make([]pixel, width*height)
	for y := 0; y < height && y < b.Height; y++ {
		for x := 0; x < width && x < b.Width; x++ {
			next[y*width+x] = b.pixels[b.at(x, y)]
		}
	}
	b.Width, b.Height, b.pixels = width, height, next
}

// Fit grows an autosized buffer so that (x, y) falls within bounds,
// mirroring guacenc_buffer_fit: destination buffers used as draw targets
// grow on demand rather than clipping the draw.
func (b *Buffer) Fit(x, y int) {
	width, height := b.Width, b.Height
	if width < x+1 {
		width = x + 1
	}
	if height < y+1 {
		height = y + 1
	}
	if width != b.Width || height != b.Height {
		b.Resize(width, height)
	}
}

// CopyFrom resizes b to exactly match src's dimensions and copies its pixel
// contents, mirroring guacenc_buffer_copy — used once per flatten pass to
// reset every layer's frame from its buffer before compositing children
// into it.
func (b *Buffer) CopyFrom(src *Buffer) {
	b.Resize(src.Width, src.Height)
	copy(b.pixels, src.pixels)
}

// clip intersects the rectangle (x, y, w, h) with the buffer's bounds,
// returning its corners as (x0, y0) inclusive and (x1, y1) exclusive.
// Coordinates outside the buffer are silently clipped.
func (b *Buffer) clip(x, y, w, h int) (x0, y0, x1, y1 int) {
	x0, y0 = max(x, 0), max(y, 0)
	x1, y1 = min(x+w, b.Width), min(y+h, b.Height)
	return
}

// Fill paints a solid RGBA color into (x, y, w, h) using the given
// compositing mode, mirroring "rect" immediately followed by "cfill".
func (b *Buffer) Fill(x, y, w, h int, r, g, bl, a uint8, mode Mode) {
	x0, y0, x1, y1 := b.clip(x, y, w, h)
	src := pixel{R: r, G: g, B: bl, A: a}
	for yy := y0; yy < y1; yy++ {
		for xx := x0; xx < x1; xx++ {
			idx := b.at(xx, yy)
			b.pixels[idx] = compose(mode, src, b.pixels[idx])
		}
	}
}

// Composite paints a w x h region of src at (sx, sy) into b at (dx, dy)
// using mode, mirroring the "copy" instruction's buffer-to-buffer
// semantics.
func (b *Buffer) Composite(src *Buffer, sx, sy, w, h, dx, dy int, mode Mode) {
	sx0, sy0, sx1, sy1 := src.clip(sx, sy, w, h)
	for yy := sy0; yy < sy1; yy++ {
		dy2 := dy + (yy - sy)
		if dy2 < 0 || dy2 >= b.Height {
			continue
		}
		for xx := sx0; xx < sx1; xx++ {
			dx2 := dx + (xx - sx)
			if dx2 < 0 || dx2 >= b.Width {
				continue
			}
			didx := b.at(dx2, dy2)
			b.pixels[didx] = compose(mode, src.pixels[src.at(xx, yy)], b.pixels[didx])
		}
	}
}

// CompositeWithOpacity is Composite at full extent with an additional
// opacity scalar applied to the source's alpha channel, used by flatten to
// paint a child layer's frame into its parent's with the layer's opacity.
func (b *Buffer) CompositeWithOpacity(src *Buffer, dx, dy int, opacity float64) {
	for yy := 0; yy < src.Height; yy++ {
		dy2 := dy + yy
		if dy2 < 0 || dy2 >= b.Height {
			continue
		}
		for xx := 0; xx < src.Width; xx++ {
			dx2 := dx + xx
			if dx2 < 0 || dx2 >= b.Width {
				continue
			}
			p := src.pixels[src.at(xx, yy)]
			p.A = uint8(float64(p.A) * opacity)
			didx := b.at(dx2, dy2)
			b.pixels[didx] = compose(ModeOver, p, b.pixels[didx])
		}
	}
}

// Autosized reports whether this buffer grows to fit draws rather than
// clipping them, satisfying internal/imagestream.Target.
func (b *Buffer) Autosized() bool { return b.Autosize }

// Paint composites a decoded image into the buffer at (x, y) using mode,
// satisfying internal/imagestream.Target — the "end with a known decoder"
// step of spec.md §4.H.
func (b *Buffer) Paint(img image.Image, x, y int, mode Mode) {
	bounds := img.Bounds()
	for yy := bounds.Min.Y; yy < bounds.Max.Y; yy++ {
		dy := y + (yy - bounds.Min.Y)
		if dy < 0 || dy >= b.Height {
			continue
		}
		for xx := bounds.Min.X; xx < bounds.Max.X; xx++ {
			dx := x + (xx - bounds.Min.X)
			if dx < 0 || dx >= b.Width {
				continue
			}
			r, g, bl, a := img.At(xx, yy).RGBA()
			src := pixel{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(bl >> 8), A: uint8(a >> 8)}
			idx := b.at(dx, dy)
			b.pixels[idx] = compose(mode, src, b.pixels[idx])
		}
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
