package protocol

import (
	"bufio"
	"io"
	"sync"
)

// Encoded is anything that can produce a finished instruction's wire
// bytes. *Builder satisfies it; BroadcastSocket also uses it internally
// to re-send one already-encoded instruction to many members without
// re-running element encoding per recipient.
type Encoded interface {
	Bytes() []byte
}

// Socket is the write side of a single connection. InstructionBegin/End
// bracket a run of one or more WriteInstruction calls that must reach the
// underlying transport as an uninterrupted unit: callers that emit
// several instructions per logical update (the glyph cache, the display
// flattener) take the lock once for the whole run so another goroutine's
// instruction can never land in the middle of it. WriteInstruction itself
// does no locking — it must always be called between a matching
// InstructionBegin/InstructionEnd pair; use SendInstruction for a single
// ad-hoc instruction.
type Socket interface {
	InstructionBegin()
	InstructionEnd()
	WriteInstruction(b Encoded) error
	Flush() error
	Close() error
}

// SendInstruction brackets a single instruction write in its own
// begin/end pair, for callers that have nothing else to batch with it.
func SendInstruction(s Socket, b Encoded) error {
	s.InstructionBegin()
	defer s.InstructionEnd()
	return s.WriteInstruction(b)
}

// UserSocket is a Socket backed directly by a single connection's byte
// stream, buffered so that a multi-instruction run under
// InstructionBegin/End only reaches the kernel once, at Flush.
type UserSocket struct {
	mu  sync.Mutex
	w   *bufio.Writer
	out io.WriteCloser
}

func NewUserSocket(w io.WriteCloser) *UserSocket {
	return &UserSocket{w: bufio.NewWriterSize(w, 4096), out: w}
}

func (s *UserSocket) InstructionBegin() {
	s.mu.Lock()
}

func (s *UserSocket) InstructionEnd() {
	s.mu.Unlock()
}

// WriteInstruction appends one instruction's bytes. Must be called with
// the socket's lock held (see InstructionBegin).
func (s *UserSocket) WriteInstruction(b Encoded) error {
	_, err := s.w.Write(b.Bytes())
	return err
}

func (s *UserSocket) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}

func (s *UserSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.w.Flush()
	return s.out.Close()
}
