package idpool

import "testing"

func TestPoolMintsSequentiallyBelowMinSize(t *testing.T) {
	p := New(4)
	for i := 0; i < 4; i++ {
		if got := p.Get(); got != i {
			t.Fatalf("Get() = %d, want %d", got, i)
		}
	}
}

func TestPoolReusesFreedIdsAboveMinSize(t *testing.T) {
	p := New(2)
	a := p.Get()
	b := p.Get()
	_ = a
	p.Put(b)

	got := p.Get()
	if got != b {
		t.Fatalf("Get() after Put(%d) = %d, want reuse of %d", b, got, b)
	}
}

func TestPoolDoesNotReuseBelowMinSize(t *testing.T) {
	p := New(10)
	a := p.Get()
	p.Put(a)
	got := p.Get()
	if got == a {
		t.Fatalf("Get() reused id %d before pool reached minSize", a)
	}
}
