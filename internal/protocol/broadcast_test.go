package protocol

import (
	"bytes"
	"io"
	"sync"
	"testing"
)

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

func newUserSocketBuffer() (*UserSocket, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return NewUserSocket(nopCloser{buf}), buf
}

func TestBroadcastFansOutToAllMembers(t *testing.T) {
	b := NewBroadcastSocket()

	s1, buf1 := newUserSocketBuffer()
	s2, buf2 := newUserSocketBuffer()
	b.Add("u1", s1)
	b.Add("u2", s2)

	if err := SendInstruction(b, NewInstruction("sync").Int(1234)); err != nil {
		t.Fatal(err)
	}
	if err := b.Flush(); err != nil {
		t.Fatal(err)
	}

	want := "4.sync,4.1234;"
	if buf1.String() != want || buf2.String() != want {
		t.Fatalf("got buf1=%q buf2=%q, want both %q", buf1.String(), buf2.String(), want)
	}
}

type failingWriteCloser struct{}

func (failingWriteCloser) Write(p []byte) (int, error) { return 0, io.ErrClosedPipe }
func (failingWriteCloser) Close() error                { return nil }

func TestBroadcastSkipsFailingMemberWithoutBlockingOthers(t *testing.T) {
	b := NewBroadcastSocket()

	good, buf := newUserSocketBuffer()
	bad := NewUserSocket(failingWriteCloser{})

	b.Add("good", good)
	b.Add("bad", bad)

	if err := SendInstruction(b, NewInstruction("nop")); err != nil {
		t.Fatal(err)
	}
	_ = good.Flush()
	_ = bad.Flush() // expected to fail; must not prevent good's delivery above

	if buf.String() != "3.nop;" {
		t.Fatalf("unaffected member did not receive instruction: %q", buf.String())
	}
}

func TestBroadcastHoldsLockAcrossMultiInstructionBatch(t *testing.T) {
	b := NewBroadcastSocket()
	s, buf := newUserSocketBuffer()
	b.Add("u1", s)

	var wg sync.WaitGroup
	wg.Add(1)

	b.InstructionBegin()
	go func() {
		defer wg.Done()
		// Competing broadcast must wait until the batch below finishes.
		_ = SendInstruction(b, NewInstruction("interloper"))
	}()

	_ = b.WriteInstruction(NewInstruction("rect").Int(0).Int(0).Int(0).Int(10).Int(10))
	_ = b.WriteInstruction(NewInstruction("cfill").Int(0).Int(0).Int(0).Int(0).Int(255))
	b.InstructionEnd()

	wg.Wait()
	_ = b.Flush()

	out := buf.String()
	// The two-instruction batch must appear contiguously, uninterrupted by
	// the interloper instruction racing on another goroutine.
	batch := "4.rect,1.0,1.0,1.0,2.10,2.10;5.cfill,1.0,1.0,1.0,1.0,3.255;"
	if !bytes.Contains([]byte(out), []byte(batch)) {
		t.Fatalf("batch not contiguous in output: %q", out)
	}
}

var _ io.WriteCloser = nopCloser{}
