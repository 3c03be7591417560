package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/guacfabric/gateway/internal/protocol"
)

func TestParseSizeAcceptsWidthxHeight(t *testing.T) {
	w, h, err := parseSize("1024x768")
	if err != nil {
		t.Fatal(err)
	}
	if w != 1024 || h != 768 {
		t.Fatalf("unexpected dimensions: %d x %d", w, h)
	}
}

func TestParseSizeRejectsGarbage(t *testing.T) {
	if _, _, err := parseSize("not-a-size"); err == nil {
		t.Fatal("expected an error for an unparseable size")
	}
	if _, _, err := parseSize("0x0"); err == nil {
		t.Fatal("expected an error for a zero dimension")
	}
}

func inst(opcode string, args ...string) []byte {
	b := protocol.NewInstruction(opcode)
	for _, a := range args {
		b.String(a)
	}
	return b.Bytes()
}

func TestEncodeFileReplaysRecordingToOutputFile(t *testing.T) {
	dir := t.TempDir()
	recPath := filepath.Join(dir, "session.guac")

	var data []byte
	data = append(data, inst(protocol.OpSize, "0", "64", "48")...)
	data = append(data, inst(protocol.OpRect, "0", "0", "0", "64", "48")...)
	data = append(data, inst(protocol.OpCfill, "0", "0", "255", "0", "0", "255")...)
	data = append(data, inst(protocol.OpSync, "1000")...)
	data = append(data, inst(protocol.OpSync, "1040")...)

	if err := os.WriteFile(recPath, data, 0600); err != nil {
		t.Fatal(err)
	}

	if err := encodeFile(recPath, 64, 48, 2_000_000, false); err != nil {
		t.Fatal(err)
	}

	// The bundled software backend emits frame markers without SPS/PPS, so
	// the muxer has nothing to write yet — what this run proves is that the
	// full replay pipeline (decode, display dispatch, flatten, timeline,
	// encode, mux) completes without error and creates the output file.
	outPath := recPath + ".m4v"
	if _, err := os.Stat(outPath); err != nil {
		t.Fatalf("expected output file %s to exist: %v", outPath, err)
	}
}
