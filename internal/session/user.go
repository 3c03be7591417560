package session

import (
	"sync"

	"github.com/guacfabric/gateway/internal/guac"
	"github.com/guacfabric/gateway/internal/idpool"
	"github.com/guacfabric/gateway/internal/protocol"
)

// User is one viewer attached to a Session. Input handling (the opcode
// dispatch table, handshake negotiation) lives in internal/user, which
// operates on the fields exported here; User itself only tracks the
// per-user resource accounting spec.md §5 scopes to the user level
// (stream ids, object ids) plus the socket it writes to.
type User struct {
	ID      string
	IsOwner bool

	socket protocol.Socket

	mu         sync.Mutex
	streamPool *idpool.Pool
	objectPool *idpool.Pool
	maxStreams int
	maxObjects int
	streamsOut int
	objectsOut int
}

func newUser(s *Session, sock protocol.Socket) *User {
	return &User{
		ID:         guac.NewID(),
		socket:     sock,
		streamPool: idpool.New(1),
		objectPool: idpool.New(1),
		maxStreams: s.cfg.MaxUserStreams,
		maxObjects: s.cfg.MaxUserObjects,
	}
}

// Socket returns the user's write socket, for code outside this package
// that needs to send it instructions directly (the dispatch layer, the
// clipboard/argv stream handlers).
func (u *User) Socket() protocol.Socket { return u.socket }

// AllocStream reserves a per-user stream id, enforcing the user's stream
// quota independently of the session-wide S_MAX pool.
func (u *User) AllocStream() (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.streamsOut >= u.maxStreams {
		return 0, guac.ErrTooMany
	}
	u.streamsOut++
	return u.streamPool.Get(), nil
}

// FreeStream returns a per-user stream id for reuse.
func (u *User) FreeStream(id int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.streamsOut--
	u.streamPool.Put(id)
}

// AllocObject reserves a per-user object id (filesystem/pipe handles),
// enforcing the user's object quota.
func (u *User) AllocObject() (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.objectsOut >= u.maxObjects {
		return 0, guac.ErrTooMany
	}
	u.objectsOut++
	return u.objectPool.Get(), nil
}

// FreeObject returns a per-user object id for reuse.
func (u *User) FreeObject(id int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.objectsOut--
	u.objectPool.Put(id)
}
