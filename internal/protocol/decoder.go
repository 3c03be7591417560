package protocol

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/guacfabric/gateway/internal/guac"
)

// DefaultMaxInstructionBytes is the 8 KiB cap from spec.md §4.A, used when
// a Decoder is constructed without an explicit override.
const DefaultMaxInstructionBytes = 8192

// Decoder reads length-prefixed instructions off a byte stream. It holds
// no parser state beyond what bufio.Reader already buffers, so a single
// Decoder can be driven across many short reads from a slow network
// connection without losing its place mid-instruction — the next Decode
// call simply resumes from wherever the underlying reader left off.
type Decoder struct {
	r        *bufio.Reader
	maxBytes int
}

// NewDecoder wraps r. maxInstructionBytes <= 0 selects DefaultMaxInstructionBytes.
func NewDecoder(r io.Reader, maxInstructionBytes int) *Decoder {
	if maxInstructionBytes <= 0 {
		maxInstructionBytes = DefaultMaxInstructionBytes
	}
	return &Decoder{r: bufio.NewReaderSize(r, 4096), maxBytes: maxInstructionBytes}
}

// Decode reads and returns the next complete instruction, blocking until
// a full instruction (or a read error) is available. It returns io.EOF
// unchanged when the stream ends cleanly between instructions.
func (d *Decoder) Decode() (*Instruction, error) {
	var elements []string
	total := 0

	for {
		lengthStr, err := d.readDigitsUntilDot(&total)
		if err != nil {
			if err == io.EOF && len(elements) == 0 {
				return nil, io.EOF
			}
			return nil, err
		}

		length, convErr := strconv.Atoi(lengthStr)
		if convErr != nil || length < 0 {
			return nil, guac.ErrBadRequest
		}

		value, n, err := d.readRunes(length)
		total += n
		if total > d.maxBytes {
			return nil, guac.ErrOverrun
		}
		if err != nil {
			return nil, err
		}

		sep, size, err := d.r.ReadRune()
		if err != nil {
			return nil, err
		}
		total += size
		if total > d.maxBytes {
			return nil, guac.ErrOverrun
		}

		elements = append(elements, value)

		switch sep {
		case ',':
			continue
		case ';':
			if len(elements) == 0 {
				return nil, guac.ErrBadRequest
			}
			return &Instruction{Opcode: elements[0], Args: elements[1:]}, nil
		default:
			return nil, guac.ErrBadRequest
		}
	}
}

// readDigitsUntilDot reads ASCII decimal digits up to (and consuming) the
// terminating '.', accumulating consumed byte count into *total as it goes
// so an absurdly long length header can't itself blow the instruction cap
// before the value is even read.
func (d *Decoder) readDigitsUntilDot(total *int) (string, error) {
	var sb strings.Builder
	for {
		r, size, err := d.r.ReadRune()
		if err != nil {
			return "", err
		}
		*total += size
		if *total > d.maxBytes {
			return "", guac.ErrOverrun
		}
		if r == '.' {
			if sb.Len() == 0 {
				return "", guac.ErrBadRequest
			}
			return sb.String(), nil
		}
		if r < '0' || r > '9' {
			return "", guac.ErrBadRequest
		}
		sb.WriteRune(r)
		if sb.Len() > 10 {
			return "", guac.ErrBadRequest
		}
	}
}

// readRunes reads exactly n Unicode code points, returning the decoded
// string along with the number of bytes consumed from the underlying
// stream. Length is counted in code points per spec.md §4.A, not bytes.
func (d *Decoder) readRunes(n int) (string, int, error) {
	var sb strings.Builder
	bytesRead := 0
	for i := 0; i < n; i++ {
		r, size, err := d.r.ReadRune()
		if err != nil {
			return "", bytesRead, err
		}
		if r == utf8.RuneError && size == 1 {
			return "", bytesRead, guac.ErrBadRequest
		}
		sb.WriteRune(r)
		bytesRead += size
	}
	return sb.String(), bytesRead, nil
}
