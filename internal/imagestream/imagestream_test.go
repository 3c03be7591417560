package imagestream

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/guacfabric/gateway/internal/guac"
	"github.com/guacfabric/gateway/internal/protocol"
)

type fakeTarget struct {
	autosized bool

	fitCalled  bool
	fitX, fitY int

	paintCalled bool
	paintImg    image.Image
	paintX      int
	paintY      int
	paintMode   protocol.CompositingMode
}

func (f *fakeTarget) Autosized() bool { return f.autosized }

func (f *fakeTarget) Fit(x, y int) {
	f.fitCalled = true
	f.fitX, f.fitY = x, y
}

func (f *fakeTarget) Paint(img image.Image, x, y int, mode protocol.CompositingMode) {
	f.paintCalled = true
	f.paintImg = img
	f.paintX, f.paintY = x, y
	f.paintMode = mode
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestStreamDecodesPNGAcrossMultipleBlobsAndPaints(t *testing.T) {
	data := encodePNG(t, 4, 3)
	target := &fakeTarget{autosized: true}
	s := New("image/png", protocol.ModeOver, target, 5, 7)

	mid := len(data) / 2
	if err := s.Receive(data[:mid]); err != nil {
		t.Fatal(err)
	}
	if err := s.Receive(data[mid:]); err != nil {
		t.Fatal(err)
	}

	if err := s.End(); err != nil {
		t.Fatal(err)
	}

	if !target.fitCalled || target.fitX != 9 || target.fitY != 10 {
		t.Fatalf("expected target to be fit to (9, 10), got fitCalled=%v (%d, %d)", target.fitCalled, target.fitX, target.fitY)
	}
	if !target.paintCalled {
		t.Fatal("expected decoded image to be painted")
	}
	if target.paintX != 5 || target.paintY != 7 || target.paintMode != protocol.ModeOver {
		t.Fatalf("unexpected paint position/mode: (%d,%d) mode=%v", target.paintX, target.paintY, target.paintMode)
	}
	bounds := target.paintImg.Bounds()
	if bounds.Dx() != 4 || bounds.Dy() != 3 {
		t.Fatalf("unexpected decoded image size: %v", bounds)
	}
}

func TestStreamSkipsFitWhenTargetIsNotAutosized(t *testing.T) {
	data := encodePNG(t, 2, 2)
	target := &fakeTarget{autosized: false}
	s := New("image/png", protocol.ModeOver, target, 0, 0)

	if err := s.Receive(data); err != nil {
		t.Fatal(err)
	}
	if err := s.End(); err != nil {
		t.Fatal(err)
	}
	if target.fitCalled {
		t.Fatal("expected Fit not to be called for a non-autosized target")
	}
	if !target.paintCalled {
		t.Fatal("expected Paint to still be called")
	}
}

func TestStreamUnrecognizedMimetypeEndIsNoop(t *testing.T) {
	target := &fakeTarget{autosized: true}
	s := New("image/webp", protocol.ModeOver, target, 0, 0)

	if err := s.Receive([]byte("not actually a decodable payload")); err != nil {
		t.Fatal(err)
	}
	if err := s.End(); err != nil {
		t.Fatalf("expected unrecognized mimetype to succeed as a no-op, got %v", err)
	}
	if target.paintCalled || target.fitCalled {
		t.Fatal("expected no paint/fit for an unrecognized mimetype")
	}
}

func TestStreamCorruptPayloadForKnownMimetypeReturnsErrBadType(t *testing.T) {
	target := &fakeTarget{}
	s := New("image/png", protocol.ModeOver, target, 0, 0)

	if err := s.Receive([]byte("this is not a real PNG")); err != nil {
		t.Fatal(err)
	}
	if err := s.End(); err != guac.ErrBadType {
		t.Fatalf("expected guac.ErrBadType for an undecodable payload, got %v", err)
	}
}

func TestStreamReceiveRejectsPayloadPastMaxStreamBytes(t *testing.T) {
	target := &fakeTarget{}
	s := New("image/png", protocol.ModeOver, target, 0, 0)

	oversized := make([]byte, maxStreamBytes+1)
	if err := s.Receive(oversized); err != guac.ErrOverrun {
		t.Fatalf("expected guac.ErrOverrun for a payload past the stream cap, got %v", err)
	}
}
