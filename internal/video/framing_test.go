package video

import (
	"testing"

	"github.com/guacfabric/gateway/internal/display"
)

func solidBuffer(w, h int, r, g, b, a uint8) *display.Buffer {
	buf := display.NewBuffer()
	buf.Resize(w, h)
	buf.Fill(0, 0, w, h, r, g, b, a, display.ModeOver)
	return buf
}

func TestScaleToFitLetterboxesWideSource(t *testing.T) {
	// 320x100 source into a 320x240 (4:3-ish) output: width fits exactly,
	// height is under-filled, so black bars land top and bottom.
	src := solidBuffer(320, 100, 255, 0, 0, 255)

	frame, err := scaleToFit(src, 320, 240)
	if err != nil {
		t.Fatal(err)
	}

	centerY := 240 / 2
	idx := (centerY*320 + 160) * 4
	if frame.Pixels[idx] != 255 || frame.Pixels[idx+3] != 255 {
		t.Fatalf("expected opaque red at frame center, got %v", frame.Pixels[idx:idx+4])
	}

	topIdx := (0*320 + 160) * 4
	if frame.Pixels[topIdx+3] != 0 {
		t.Fatalf("expected transparent letterbox bar at top row, got alpha %d", frame.Pixels[topIdx+3])
	}
}

func TestScaleToFitPillarboxesTallSource(t *testing.T) {
	// 100x320 source into the same 320x240 output: height fits, width is
	// under-filled, so bars land left and right instead.
	src := solidBuffer(100, 320, 0, 255, 0, 255)

	frame, err := scaleToFit(src, 320, 240)
	if err != nil {
		t.Fatal(err)
	}

	centerX := 320 / 2
	idx := (120*320 + centerX) * 4
	if frame.Pixels[idx+1] != 255 || frame.Pixels[idx+3] != 255 {
		t.Fatalf("expected opaque green at frame center, got %v", frame.Pixels[idx:idx+4])
	}

	leftIdx := (120*320 + 0) * 4
	if frame.Pixels[leftIdx+3] != 0 {
		t.Fatalf("expected transparent pillarbox bar at left column, got alpha %d", frame.Pixels[leftIdx+3])
	}
}

func TestAdvanceTimelineDuplicatesPendingFrameAcrossElapsedTicks(t *testing.T) {
	var flushed []*Frame
	tl := NewTimeline(25, 100, 100, func(f *Frame) error {
		flushed = append(flushed, f)
		return nil
	})

	if err := tl.AdvanceTimeline(1000); err != nil {
		t.Fatal(err)
	}
	if len(flushed) != 0 {
		t.Fatalf("first sync should only seed last_sync, got %d flushes", len(flushed))
	}

	if err := tl.PrepareFrame(solidBuffer(100, 100, 1, 2, 3, 255)); err != nil {
		t.Fatal(err)
	}

	// 120ms at 25fps = 3 frames elapsed.
	if err := tl.AdvanceTimeline(1120); err != nil {
		t.Fatal(err)
	}
	if len(flushed) != 3 {
		t.Fatalf("expected 3 duplicated frames, got %d", len(flushed))
	}
}

func TestAdvanceTimelineRejectsDecreasingTimestamp(t *testing.T) {
	calls := 0
	tl := NewTimeline(25, 100, 100, func(f *Frame) error {
		calls++
		return nil
	})

	if err := tl.AdvanceTimeline(1000); err != nil {
		t.Fatal(err)
	}
	if err := tl.AdvanceTimeline(500); err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Fatalf("decreasing timestamp should not flush any frame, got %d calls", calls)
	}
}
