package clipboard

import (
	"bytes"
	"testing"

	"github.com/guacfabric/gateway/internal/protocol"
)

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

func TestResetThenAppendAccumulatesValue(t *testing.T) {
	c := New()
	c.Reset("text/plain")
	c.Append([]byte("hello "))
	c.Append([]byte("world"))

	mimetype, data := c.Value()
	if mimetype != "text/plain" || string(data) != "hello world" {
		t.Fatalf("unexpected value: %q %q", mimetype, data)
	}
}

func TestResetDiscardsPreviousValue(t *testing.T) {
	c := New()
	c.Reset("text/plain")
	c.Append([]byte("stale"))
	c.Reset("text/html")

	mimetype, data := c.Value()
	if mimetype != "text/html" || len(data) != 0 {
		t.Fatalf("expected cleared value after reset, got %q %q", mimetype, data)
	}
}

func TestSendWritesClipboardBlobEndSequence(t *testing.T) {
	buf := &bytes.Buffer{}
	sock := protocol.NewUserSocket(nopCloser{buf})

	if err := Send(sock, 3, "text/plain", []byte("hi")); err != nil {
		t.Fatal(err)
	}
	_ = sock.Flush()

	out := buf.String()
	if !bytes.Contains([]byte(out), []byte("9.clipboard,1.3,10.text/plain;")) {
		t.Fatalf("missing clipboard instruction: %q", out)
	}
	if !bytes.Contains([]byte(out), []byte("4.blob,1.3,")) {
		t.Fatalf("missing blob instruction: %q", out)
	}
	if !bytes.Contains([]byte(out), []byte("3.end,1.3;")) {
		t.Fatalf("missing end instruction: %q", out)
	}
}

func TestSendSkipsBlobForEmptyValue(t *testing.T) {
	buf := &bytes.Buffer{}
	sock := protocol.NewUserSocket(nopCloser{buf})

	if err := Send(sock, 7, "text/plain", nil); err != nil {
		t.Fatal(err)
	}
	_ = sock.Flush()

	if bytes.Contains(buf.Bytes(), []byte("4.blob,")) {
		t.Fatalf("unexpected blob instruction for empty value: %q", buf.String())
	}
}
