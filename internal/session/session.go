// Package session implements the per-connection session object model:
// the layer/buffer/stream id pools, the user list, and the broadcast
// fan-out every user's output instructions travel through. It
// corresponds to spec.md §4.C.
package session

import (
	"sync"
	"time"

	"github.com/guacfabric/gateway/internal/config"
	"github.com/guacfabric/gateway/internal/guac"
	"github.com/guacfabric/gateway/internal/idpool"
	"github.com/guacfabric/gateway/internal/logging"
	"github.com/guacfabric/gateway/internal/protocol"
)

var log = logging.L("session")

// Session owns one connection's shared state: its layer/buffer/stream
// namespaces and the set of users attached to it. A Session has no
// upstream connection of its own in this module — spec.md scopes that to
// the (unimplemented) backend driver layer; Session is the hub that
// multiplexes user input into that driver and driver output back out to
// every user via Broadcast.
type Session struct {
	ID  string
	cfg *config.Config

	layerPool  *idpool.Pool
	bufferPool *idpool.Pool
	streamPool *idpool.Pool

	Broadcast *protocol.BroadcastSocket

	mu      sync.RWMutex
	users   map[string]*User
	pending map[string]*User
	owner   *User
	closed  bool

	// JoinPending, if set, is run against each user's socket at the
	// moment it becomes a broadcast member (the owner immediately, later
	// viewers when their pending window expires). The broadcast lock is
	// held across the call, so the catch-up it writes — current size,
	// layer contents, a sync at or after the session's last one — always
	// precedes the first incremental instruction the user sees.
	JoinPending func(sock protocol.Socket)
}

// New creates a Session bound to cfg's resource limits.
func New(cfg *config.Config) *Session {
	return &Session{
		ID:         guac.NewID(),
		cfg:        cfg,
		layerPool:  idpool.New(1),
		bufferPool: idpool.New(cfg.BufferPoolMinFree),
		streamPool: idpool.New(1),
		Broadcast:  protocol.NewBroadcastSocket(),
		users:      make(map[string]*User),
		pending:    make(map[string]*User),
	}
}

// AllocLayer reserves a non-buffer layer id, enforcing spec.md's L_MAX.
func (s *Session) AllocLayer() (int, error) {
	if s.layerPool.Size() >= s.cfg.MaxLayers {
		return 0, guac.ErrTooMany
	}
	return s.layerPool.Get(), nil
}

// FreeLayer returns a layer id for reuse.
func (s *Session) FreeLayer(id int) { s.layerPool.Put(id) }

// AllocBuffer reserves an off-screen buffer, returned as a negative index
// per the wire convention (buffer 0 is layer -1, buffer 1 is layer -2,
// ...). Enforces B_MAX.
func (s *Session) AllocBuffer() (int, error) {
	if s.bufferPool.Size() >= s.cfg.MaxBuffers {
		return 0, guac.ErrTooMany
	}
	return -(s.bufferPool.Get() + 1), nil
}

// FreeBuffer returns a buffer index (as returned by AllocBuffer) for
// reuse.
func (s *Session) FreeBuffer(index int) {
	s.bufferPool.Put(-index - 1)
}

// AllocStream reserves a session-global stream id, enforcing S_MAX.
func (s *Session) AllocStream() (int, error) {
	if s.streamPool.Size() >= s.cfg.MaxStreams {
		return 0, guac.ErrTooMany
	}
	return s.streamPool.Get(), nil
}

// FreeStream returns a stream id for reuse.
func (s *Session) FreeStream(id int) { s.streamPool.Put(id) }

// AddUser attaches a new user's socket to the session. The first user to
// join becomes the owner immediately; subsequent users are held pending
// until JoinPendingIntervalMs has elapsed since their connection, giving
// the owner a window to reject or configure them (spec.md §4.D).
func (s *Session) AddUser(sock protocol.Socket) (*User, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, guac.ErrSessionClosed
	}
	if len(s.users)+len(s.pending) >= s.cfg.MaxUserObjects {
		s.mu.Unlock()
		return nil, guac.ErrTooMany
	}

	u := newUser(s, sock)
	isOwner := s.owner == nil
	if isOwner {
		u.IsOwner = true
		s.owner = u
		s.users[u.ID] = u
		s.Broadcast.AddWith(u.ID, sock, s.JoinPending)
		s.mu.Unlock()
		log.Info("user joined as owner", logging.KeySessionID, s.ID, logging.KeyUserID, u.ID)
		return u, nil
	}

	s.pending[u.ID] = u
	s.mu.Unlock()

	delay := time.Duration(s.cfg.JoinPendingIntervalMs) * time.Millisecond
	time.AfterFunc(delay, func() { s.promote(u) })
	log.Info("user pending", logging.KeySessionID, s.ID, logging.KeyUserID, u.ID)
	return u, nil
}

// promote moves a pending user into the active set once its hold window
// expires, unless it was removed (rejected) in the meantime.
func (s *Session) promote(u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, stillPending := s.pending[u.ID]; !stillPending {
		return
	}
	delete(s.pending, u.ID)
	if s.closed {
		return
	}
	s.users[u.ID] = u
	s.Broadcast.AddWith(u.ID, u.socket, s.JoinPending)
	log.Info("user promoted from pending", logging.KeySessionID, s.ID, logging.KeyUserID, u.ID)
}

// RemoveUser detaches a user, whether pending or active. If the removed
// user was the owner, ownership passes to one of the remaining active
// users, if any; which one is not defined, since users are held in a map.
func (s *Session) RemoveUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[userID]; ok {
		delete(s.pending, userID)
		return
	}

	u, ok := s.users[userID]
	if !ok {
		return
	}
	delete(s.users, userID)
	s.Broadcast.Remove(userID)

	if s.owner == u {
		s.owner = nil
		for _, next := range s.users {
			s.owner = next
			next.IsOwner = true
			break
		}
	}
}

// ForEachUser invokes fn for every active user. fn returns nothing, so
// errors from individual users are handled by fn itself (e.g. by
// removing that user) and never abort the iteration.
func (s *Session) ForEachUser(fn func(*User)) {
	s.mu.RLock()
	users := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	s.mu.RUnlock()

	for _, u := range users {
		fn(u)
	}
}

// ForOwner invokes fn with the current owner, if one is attached.
func (s *Session) ForOwner(fn func(*User)) {
	s.mu.RLock()
	owner := s.owner
	s.mu.RUnlock()
	if owner != nil {
		fn(owner)
	}
}

// ForUser invokes fn with the named user if it is currently active.
func (s *Session) ForUser(userID string, fn func(*User)) {
	s.mu.RLock()
	u := s.users[userID]
	s.mu.RUnlock()
	if u != nil {
		fn(u)
	}
}

// UserCount reports the number of active (non-pending) users.
func (s *Session) UserCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// Stop closes the broadcast socket and marks the session closed,
// preventing further AddUser calls. It does not itself notify users;
// callers typically send an "error"/"disconnect" instruction pair first.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.Broadcast.Close()
}

// Abort stops the session after broadcasting an "error" instruction
// carrying status, matching the fatal-error propagation spec.md §7
// describes for server/upstream failures.
func (s *Session) Abort(status guac.Status, message string) error {
	_ = protocol.SendInstruction(s.Broadcast, protocol.NewInstruction(protocol.OpError).String(message).Int(int64(status)))
	_ = s.Broadcast.Flush()
	return s.Stop()
}
