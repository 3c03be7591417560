package display

import "testing"

func TestDepthWalksParentChain(t *testing.T) {
	d := New()

	child := d.GetLayer(1)
	child.ParentIndex = 0

	grandchild := d.GetLayer(2)
	grandchild.ParentIndex = 1

	if depth := d.Depth(d.GetLayer(0)); depth != 0 {
		t.Fatalf("default layer depth = %d, want 0", depth)
	}
	if depth := d.Depth(child); depth != 1 {
		t.Fatalf("child depth = %d, want 1", depth)
	}
	if depth := d.Depth(grandchild); depth != 2 {
		t.Fatalf("grandchild depth = %d, want 2", depth)
	}
}

func TestFlattenCompositesChildOntoDefaultLayer(t *testing.T) {
	d := New()

	def := d.GetLayer(0)
	def.Buffer.Resize(10, 10)

	child := d.GetLayer(1)
	child.ParentIndex = 0
	child.X, child.Y, child.Z = 2, 2, 1
	child.Buffer.Resize(4, 4)
	child.Buffer.Fill(0, 0, 4, 4, 255, 0, 0, 255, ModeOver)

	d.Flatten()

	r, g, b, a := sample(def.Frame, 3, 3)
	if r != 255 || g != 0 || b != 0 || a != 255 {
		t.Fatalf("child not composited onto parent frame: got (%d,%d,%d,%d)", r, g, b, a)
	}

	r, g, b, a = sample(def.Frame, 0, 0)
	if a != 0 {
		t.Fatalf("expected untouched corner to stay transparent, got alpha %d", a)
	}
}

func TestFlattenSkipsFullyTransparentLayer(t *testing.T) {
	d := New()

	def := d.GetLayer(0)
	def.Buffer.Resize(10, 10)

	child := d.GetLayer(1)
	child.ParentIndex = 0
	child.Opacity = 0
	child.Buffer.Resize(4, 4)
	child.Buffer.Fill(0, 0, 4, 4, 255, 0, 0, 255, ModeOver)

	d.Flatten()

	if _, _, _, a := sample(def.Frame, 0, 0); a != 0 {
		t.Fatal("fully transparent layer should not have been composited")
	}
}

func sample(b *Buffer, x, y int) (r, g, bl, a uint8) {
	p := b.pixels[b.at(x, y)]
	return p.R, p.G, p.B, p.A
}
