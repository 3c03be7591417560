package protocol

import "sync"

// BroadcastSocket fans a single instruction out to every attached user
// socket. It holds a session-wide mutex to serialize broadcasts against
// each other, and — while that lock is held — takes each user socket's
// own lock in turn before delegating the write. The lock order is always
// session mutex first, per-user mutex second (spec.md §5); a user socket
// is never locked without the broadcast already holding the session lock,
// so it can't deadlock against a direct (non-broadcast) writer that only
// ever takes its own user lock.
type BroadcastSocket struct {
	mu       sync.Mutex
	members  map[string]Socket
	recorder Socket
}

func NewBroadcastSocket() *BroadcastSocket {
	return &BroadcastSocket{members: make(map[string]Socket)}
}

// Add attaches a user socket under userID. Instructions broadcast after
// this call reach it; instructions already in flight do not wait for it.
func (b *BroadcastSocket) Add(userID string, s Socket) {
	b.AddWith(userID, s, nil)
}

// AddWith attaches a user socket after first running prepare against it,
// with the broadcast lock held across both — no broadcast can land
// between whatever prepare writes (a joining viewer's display catch-up)
// and the socket becoming a member, so the viewer never misses an
// instruction issued in that window.
func (b *BroadcastSocket) AddWith(userID string, s Socket, prepare func(Socket)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if prepare != nil {
		prepare(s)
		_ = s.Flush()
	}
	b.members[userID] = s
}

// Remove detaches a user socket. It does not close the socket.
func (b *BroadcastSocket) Remove(userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.members, userID)
}

// SetRecorder additionally copies every broadcast instruction to sink,
// mirroring guac_common_recording_create's substitution of a tee'd socket
// for the client's output: once set, anything written to the broadcast
// group is also written to sink, letting a session recording capture
// exactly what every viewer saw without needing its own copy of the
// display replay logic. Pass nil to stop recording.
func (b *BroadcastSocket) SetRecorder(sink Socket) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recorder = sink
}

// InstructionBegin takes the session-wide lock. Callers that want to
// batch several instructions atomically across the whole broadcast group
// call this once, then WriteInstruction as many times as needed, then
// InstructionEnd.
func (b *BroadcastSocket) InstructionBegin() {
	b.mu.Lock()
}

func (b *BroadcastSocket) InstructionEnd() {
	b.mu.Unlock()
}

// WriteInstruction delegates the same encoded instruction to every
// attached member, skipping (but not removing) any member whose write
// fails so a single disconnected viewer cannot stall the rest of the
// session. Must be called with InstructionBegin held.
func (b *BroadcastSocket) WriteInstruction(bld Encoded) error {
	raw := prebuiltBytes(bld.Bytes())
	for _, member := range b.members {
		member.InstructionBegin()
		_ = member.WriteInstruction(&raw)
		member.InstructionEnd()
	}
	if b.recorder != nil {
		b.recorder.InstructionBegin()
		_ = b.recorder.WriteInstruction(&raw)
		b.recorder.InstructionEnd()
	}
	return nil
}

// Flush flushes every attached member and the recorder, if any.
func (b *BroadcastSocket) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for _, member := range b.members {
		if err := member.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if b.recorder != nil {
		if err := b.recorder.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close detaches and closes every member, and closes the recorder if one
// is attached — the recording file's lifecycle is tied to the broadcast
// group's the same way guac_common_recording's socket is freed when the
// client is freed.
func (b *BroadcastSocket) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for id, member := range b.members {
		if err := member.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(b.members, id)
	}
	if b.recorder != nil {
		if err := b.recorder.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		b.recorder = nil
	}
	return firstErr
}

// prebuiltBytes implements Encoded for an already-finished instruction,
// letting BroadcastSocket re-send one encoded instruction to every member
// without re-running element encoding per recipient.
type prebuiltBytes []byte

func (p *prebuiltBytes) Bytes() []byte { return *p }
