// Package argv implements automatic handling of inbound "argv" streams:
// connection parameters a client can push after the handshake completes,
// per spec.md §4.L. A component registers interest in a named argument
// up front; this package then does the bookkeeping of matching inbound
// streams to that registration, capping and accumulating the value, and
// invoking the registered callback once the stream ends.
package argv

import (
	"sync"

	"github.com/guacfabric/gateway/internal/guac"
	"github.com/guacfabric/gateway/internal/logging"
	"github.com/guacfabric/gateway/internal/protocol"
	"github.com/guacfabric/gateway/internal/session"
)

var log = logging.L("argv")

// Option flags mirror GUAC_ARGV_OPTION_ONCE/GUAC_ARGV_OPTION_ECHO from
// guacamole/argv-constants.h.
const (
	OptionOnce = 1 << iota
	OptionEcho
)

const (
	// MaxLength is the largest accumulated value this package will
	// buffer for a single argv stream, including what GUAC_ARGV_MAX_LENGTH
	// reserves for a null terminator in the C implementation (not needed
	// for a Go []byte, but kept as the same cap to match observed client
	// behavior that assumes it).
	MaxLength = 16384

	// MaxRegistered caps how many distinct argument names one Registry
	// will track, matching GUAC_ARGV_MAX_REGISTERED.
	MaxRegistered = 128

	// MaxNameLength caps an argument name's byte length, matching
	// GUAC_ARGV_MAX_NAME_LENGTH. Longer names can't have been registered,
	// so an inbound stream declaring one is rejected outright.
	MaxNameLength = 256
)

// Callback is invoked once an argv stream for a registered name finishes,
// with the accumulated value and the mimetype the client declared for it.
// Returning an error suppresses the echo (if OptionEcho is set) the same
// way a non-zero guac_argv_callback return does in the original.
type Callback func(user *session.User, mimetype, name string, value []byte) error

type registration struct {
	name     string
	options  int
	callback Callback
	received bool
}

// Registry is the per-session equivalent of guac_argv's process-wide
// static state: one instance should be shared by every connection that
// wants to participate in the same await/stop lifecycle (normally one per
// Session, not one per user, since "all arguments received" is a
// session-wide gate on startup).
type Registry struct {
	mu      sync.Mutex
	cond    *sync.Cond
	stopped bool
	args    []*registration
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Register adds name to the set this Registry auto-processes, invoking
// callback (if non-nil) whenever an accepted value for it ends. Returns
// guac.ErrTooMany once MaxRegistered names have already been registered,
// mirroring guac_argv_register's fixed-capacity table.
func (r *Registry) Register(name string, options int, callback Callback) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.args) >= MaxRegistered {
		return guac.ErrTooMany
	}
	if len(name) > MaxNameLength {
		return guac.ErrBadRequest
	}
	r.args = append(r.args, &registration{name: name, options: options, callback: callback})
	return nil
}

// findLocked returns the registration eligible to accept a value named
// name, or nil if none is registered or the only match is ONCE and
// already received. Caller must hold r.mu.
func (r *Registry) findLocked(name string) *registration {
	for _, reg := range r.args {
		if reg.options&OptionOnce != 0 && reg.received {
			continue
		}
		if reg.name == name {
			return reg
		}
	}
	return nil
}

// Await blocks until a value has been received for every name in names,
// or until Stop is called, matching guac_argv_await's semantics exactly:
// it returns true only if every requested argument was received before
// receipt was stopped, false if Stop cut it short.
func (r *Registry) Await(names []string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for !r.stopped && !r.allReceivedLocked(names) {
		r.cond.Wait()
	}
	return !r.stopped
}

func (r *Registry) allReceivedLocked(names []string) bool {
	for _, reg := range r.args {
		if reg.received {
			continue
		}
		for _, name := range names {
			if reg.name == name {
				return false
			}
		}
	}
	return true
}

// Stop releases any Await call waiting on this Registry, permanently —
// once stopped a Registry never resumes accepting further automatic
// processing gates. Used once the connection's startup handshake window
// has closed, e.g. because GUAC_ARGS_EXPECTED args were received or a
// deadline elapsed.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.stopped {
		r.stopped = true
		r.cond.Broadcast()
	}
}

// Stream is the in-progress accumulator for one inbound argv value,
// created by Open and fed through Blob/End as the owning stream's "blob"
// and "end" instructions arrive — the Go analogue of the guac_argv struct
// stored as stream->data in the original.
type Stream struct {
	reg      *registration
	mimetype string
	name     string
	buf      []byte
}

// Value returns the mimetype, name, and accumulated value of an argv
// stream, for a caller that needs to re-announce it to other users once
// it ends (an OptionEcho registration).
func (s *Stream) Value() (mimetype, name string, value []byte) {
	return s.mimetype, s.name, s.buf
}

// Open matches an inbound argv stream's declared name against this
// Registry's registered arguments. ok is false if name isn't registered,
// or is registered ONCE and already has a value — in either case the
// caller should reject the stream with StatusClientForbidden rather than
// calling Blob/End.
func (r *Registry) Open(mimetype, name string) (stream *Stream, ok bool) {
	if len(name) > MaxNameLength {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	reg := r.findLocked(name)
	if reg == nil {
		return nil, false
	}
	return &Stream{reg: reg, mimetype: mimetype, name: name}, true
}

// Blob appends data to the stream's accumulated value, silently
// truncating at MaxLength the way guac_argv_blob_handler clips writes
// that would overflow its fixed buffer rather than erroring.
func (s *Stream) Blob(data []byte) {
	remaining := MaxLength - len(s.buf)
	if remaining <= 0 {
		return
	}
	if len(data) > remaining {
		data = data[:remaining]
	}
	s.buf = append(s.buf, data...)
}

// End finalizes the stream: invokes the registration's callback (unless
// ONCE and already received), marks the argument received and wakes any
// Await waiters, and reports whether the value should additionally be
// echoed back out to every connected user via StreamArgv (OptionEcho set
// and the callback, if any, did not return an error).
func (r *Registry) End(user *session.User, s *Stream) (echo bool, err error) {
	r.mu.Lock()
	reg := s.reg
	alreadyOnce := reg.options&OptionOnce != 0 && reg.received
	r.mu.Unlock()

	if !alreadyOnce && reg.callback != nil {
		if cbErr := reg.callback(user, s.mimetype, s.name, s.buf); cbErr != nil {
			log.Warn("argv callback rejected value", "name", s.name, "error", cbErr)
			r.mu.Lock()
			reg.received = true
			r.cond.Broadcast()
			r.mu.Unlock()
			return false, cbErr
		}
	}

	r.mu.Lock()
	reg.received = true
	r.cond.Broadcast()
	r.mu.Unlock()

	return reg.options&OptionEcho != 0, nil
}

// SendForbidden acknowledges a rejected argv stream with
// StatusClientForbidden, matching guac_argv_handler's rejection path.
func SendForbidden(sock protocol.Socket, streamID int) error {
	return protocol.SendInstruction(sock, protocol.NewInstruction(protocol.OpAck).
		Int(int64(streamID)).String("Not allowed.").Int(int64(guac.StatusClientForbidden)))
}

// SendReady acknowledges an accepted argv stream with StatusSuccess,
// matching guac_argv_handler's accept path.
func SendReady(sock protocol.Socket, streamID int) error {
	return protocol.SendInstruction(sock, protocol.NewInstruction(protocol.OpAck).
		Int(int64(streamID)).String("Ready for updated parameter.").Int(int64(guac.StatusSuccess)))
}
