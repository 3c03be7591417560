package protocol

import "encoding/base64"

// Base64Writer streams raw bytes out as base64 quadruplets without ever
// holding the full encoded string in memory, mirroring the
// write_base64/flush_base64 pair spec.md §4.A describes for blob framing.
// The caller must already know (and have written) the element's declared
// length via guac.Base64Length before streaming through this writer — the
// length prefix is fixed by the total input size, not by what has been
// encoded so far.
type Base64Writer struct {
	w      bufWriter
	group  [3]byte
	filled int
}

// bufWriter is the minimal surface Base64Writer needs; io.Writer
// satisfies it directly.
type bufWriter interface {
	Write(p []byte) (int, error)
}

func NewBase64Writer(w bufWriter) *Base64Writer {
	return &Base64Writer{w: w}
}

// Write encodes as many complete 3-byte groups as are available,
// buffering any trailing partial group until more data arrives or Close
// is called.
func (bw *Base64Writer) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := copy(bw.group[bw.filled:], p)
		bw.filled += n
		p = p[n:]
		written += n

		if bw.filled == 3 {
			var quad [4]byte
			base64.StdEncoding.Encode(quad[:], bw.group[:])
			if _, err := bw.w.Write(quad[:]); err != nil {
				return written, err
			}
			bw.filled = 0
		}
	}
	return written, nil
}

// Close flushes any trailing 1 or 2 buffered bytes as a padded
// quadruplet. It is safe to call exactly once after the final Write.
func (bw *Base64Writer) Close() error {
	if bw.filled == 0 {
		return nil
	}
	var quad [4]byte
	base64.StdEncoding.Encode(quad[:], bw.group[:bw.filled])
	bw.filled = 0
	_, err := bw.w.Write(quad[:])
	return err
}
