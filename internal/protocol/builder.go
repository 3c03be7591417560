package protocol

import (
	"bytes"
	"encoding/base64"
	"strconv"
	"unicode/utf8"
)

// Instruction is a single decoded protocol instruction: an opcode plus its
// ordered argument values. Values are always plain UTF-8 strings — binary
// payloads have already been base64-decoded by the caller that interprets
// a "blob" argument.
type Instruction struct {
	Opcode string
	Args   []string
}

// Builder assembles a single outbound instruction element by element,
// mirroring the way the original protocol layer builds an instruction
// from a sequence of guac_socket_write_string/write_int calls before a
// single terminating ";". Builder is not safe for concurrent use; each
// goroutine should build its own instruction before handing the finished
// bytes to a Socket.
type Builder struct {
	buf   bytes.Buffer
	first bool
}

// NewInstruction starts building an instruction with the given opcode.
func NewInstruction(opcode string) *Builder {
	b := &Builder{first: true}
	b.writeElement(opcode)
	return b
}

func (b *Builder) writeElement(value string) {
	if !b.first {
		b.buf.WriteByte(',')
	}
	b.first = false
	n := utf8.RuneCountInString(value)
	b.buf.WriteString(strconv.Itoa(n))
	b.buf.WriteByte('.')
	b.buf.WriteString(value)
}

// String appends a string argument.
func (b *Builder) String(value string) *Builder {
	b.writeElement(value)
	return b
}

// Int appends an integer argument in base 10.
func (b *Builder) Int(value int64) *Builder {
	b.writeElement(strconv.FormatInt(value, 10))
	return b
}

// Double appends a floating-point argument using Guacamole's plain
// decimal convention (no exponent form).
func (b *Builder) Double(value float64) *Builder {
	b.writeElement(strconv.FormatFloat(value, 'f', -1, 64))
	return b
}

// Bool appends a boolean argument as "true" or "false".
func (b *Builder) Bool(value bool) *Builder {
	if value {
		b.writeElement("true")
	} else {
		b.writeElement("false")
	}
	return b
}

// Binary appends a binary argument, base64-encoding it first. The
// element's declared length is always the base64 character count
// (guac.Base64Length), never the raw byte count.
func (b *Builder) Binary(data []byte) *Builder {
	b.writeElement(base64.StdEncoding.EncodeToString(data))
	return b
}

// Bytes finalizes the instruction, appending the terminating ";" and
// returning the complete wire representation.
func (b *Builder) Bytes() []byte {
	out := make([]byte, b.buf.Len()+1)
	copy(out, b.buf.Bytes())
	out[len(out)-1] = ';'
	return out
}
