package protocol

import (
	"bytes"
	"io"
	"strconv"
	"strings"
	"testing"

	"github.com/guacfabric/gateway/internal/guac"
)

func TestBuilderEncodesTrivialSync(t *testing.T) {
	got := string(NewInstruction("sync").String("1234").Bytes())
	want := "4.sync,4.1234;"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestBuilderCountsCodePointsNotBytes(t *testing.T) {
	// "héllo" is 5 code points but 6 bytes (é is 2 bytes in UTF-8).
	got := string(NewInstruction("name").String("héllo").Bytes())
	want := "4.name,5.héllo;"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if strings.Contains(got, "6.héllo") {
		t.Fatalf("encoded using byte length instead of code point count: %q", got)
	}
}

func TestDecoderRoundTripsTrivialSync(t *testing.T) {
	dec := NewDecoder(strings.NewReader("4.sync,4.1234;"), 0)
	inst, err := dec.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if inst.Opcode != "sync" || len(inst.Args) != 1 || inst.Args[0] != "1234" {
		t.Fatalf("got %+v", inst)
	}
}

func TestDecoderCountsCodePointsNotBytes(t *testing.T) {
	dec := NewDecoder(strings.NewReader("4.name,5.héllo;"), 0)
	inst, err := dec.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if inst.Args[0] != "héllo" {
		t.Fatalf("got %q", inst.Args[0])
	}
}

func TestDecoderReadsMultipleInstructionsInSequence(t *testing.T) {
	dec := NewDecoder(strings.NewReader("4.sync,4.1234;3.ack,1.0,2.ok;"), 0)

	first, err := dec.Decode()
	if err != nil || first.Opcode != "sync" {
		t.Fatalf("first Decode: %+v, %v", first, err)
	}

	second, err := dec.Decode()
	if err != nil {
		t.Fatalf("second Decode: %v", err)
	}
	if second.Opcode != "ack" || second.Args[0] != "0" || second.Args[1] != "ok" {
		t.Fatalf("got %+v", second)
	}

	if _, err := dec.Decode(); err != io.EOF {
		t.Fatalf("expected io.EOF at stream end, got %v", err)
	}
}

func TestDecoderRejectsOversizedInstruction(t *testing.T) {
	huge := strings.Repeat("a", 9000)
	dec := NewDecoder(strings.NewReader("4.blob,9000."+huge+";"), DefaultMaxInstructionBytes)
	_, err := dec.Decode()
	if err != guac.ErrOverrun {
		t.Fatalf("expected ErrOverrun, got %v", err)
	}
}

func TestDecoderRejectsMalformedLength(t *testing.T) {
	dec := NewDecoder(strings.NewReader("x.sync;"), 0)
	if _, err := dec.Decode(); err != guac.ErrBadRequest {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}

func TestBase64LengthInvariant(t *testing.T) {
	cases := []struct {
		n    int
		want int
	}{
		{0, 0},
		{1, 4},
		{2, 4},
		{3, 4},
		{4, 8},
		{1024, 1368},
	}
	for _, c := range cases {
		if got := guac.Base64Length(c.n); got != c.want {
			t.Errorf("Base64Length(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}

func TestBase64WriterMatchesStdlibEncoding(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	var buf bytes.Buffer
	bw := NewBase64Writer(&buf)
	if _, err := bw.Write(data[:10]); err != nil {
		t.Fatal(err)
	}
	if _, err := bw.Write(data[10:]); err != nil {
		t.Fatal(err)
	}
	if err := bw.Close(); err != nil {
		t.Fatal(err)
	}

	want := guac.Base64Length(len(data))
	if buf.Len() != want {
		t.Fatalf("streamed length = %d, want %d", buf.Len(), want)
	}
}

func TestBuilderBinaryUsesBase64Length(t *testing.T) {
	data := []byte{0x00, 0x01, 0x02, 0x03, 0x04}
	b := NewInstruction("blob").Binary(data).Bytes()
	s := string(b)
	// "blob," followed by the base64 element's declared length.
	prefix := "4.blob," + strconv.Itoa(guac.Base64Length(len(data))) + "."
	if !strings.HasPrefix(s, prefix) {
		t.Fatalf("got %q, want prefix %q", s, prefix)
	}
}
