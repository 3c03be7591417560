// Package transport exposes the gateway over a WebSocket, the way browser
// viewers reach it in practice: each accepted connection gets its own
// session.User, protocol.Decoder, and user.Conn, wired together and driven
// until the client disconnects or the connection fails. The keepalive
// shape (ping ticker, pong deadline reset, one mutex serializing every
// write) is the usual gorilla/websocket pattern, applied here to the
// inbound, viewer-facing side.
package transport

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/guacfabric/gateway/internal/argv"
	"github.com/guacfabric/gateway/internal/clipboard"
	"github.com/guacfabric/gateway/internal/logging"
	"github.com/guacfabric/gateway/internal/protocol"
	"github.com/guacfabric/gateway/internal/session"
	"github.com/guacfabric/gateway/internal/user"
)

var log = logging.L("transport")

const (
	// writeWait bounds how long a single WebSocket write (data or
	// control frame) may block before the connection is considered dead.
	writeWait = 10 * time.Second

	// pongWait is how long we tolerate silence from the peer before
	// treating it as gone. pingPeriod must stay under pongWait so at
	// least one ping lands inside every pong window.
	pongWait = 60 * time.Second

	pingPeriod = (pongWait * 9) / 10

	// maxSocketMessageBytes bounds a single inbound WebSocket message,
	// independent of protocol.Decoder's own per-instruction cap — a
	// message may carry several queued instructions back to back.
	maxSocketMessageBytes = 1 << 20
)

// Subprotocol is the WebSocket subprotocol name browser tunnels negotiate,
// matching guacamole-common-js's default.
const Subprotocol = "guacamole"

// ViewerOptions configures one accepted viewer connection. Backend, Clip,
// ArgvRegistry and Recorder are all optional (nil is a safe no-op per
// their respective zero-value contracts in internal/user); ArgNames and
// MaxInstructionBytes are required for a usable handshake.
type ViewerOptions struct {
	Backend             user.Backend
	Clip                *clipboard.Clipboard
	ArgvRegistry        *argv.Registry
	Recorder            user.InputRecorder
	ArgNames            user.ArgNamesFunc
	MaxInstructionBytes int

	// CheckOrigin overrides the upgrader's origin check. Left nil, every
	// origin is accepted, matching guacd's own transport-agnostic stance
	// (origin policy is deployment's job, enforced by the reverse proxy
	// in front of this listener).
	CheckOrigin func(r *http.Request) bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	Subprotocols:    []string{Subprotocol},
}

// ServeViewer upgrades r to a WebSocket, attaches a new user.Conn to sess,
// and blocks running its handshake and instruction loop until the
// connection ends. The HTTP handler calling this should treat a non-nil
// error as "connection closed", not as a request that failed to route.
func ServeViewer(w http.ResponseWriter, r *http.Request, sess *session.Session, opts ViewerOptions) error {
	up := upgrader
	if opts.CheckOrigin != nil {
		up.CheckOrigin = opts.CheckOrigin
	}

	wsConn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	conn := newGuardedConn(wsConn)
	defer conn.Close()

	sock := protocol.NewUserSocket(conn)
	su, err := sess.AddUser(sock)
	if err != nil {
		return err
	}
	defer sess.RemoveUser(su.ID)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		conn.pingLoop(stop)
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	wsConn.SetReadLimit(maxSocketMessageBytes)
	_ = wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	dec := protocol.NewDecoder(conn, opts.MaxInstructionBytes)
	uc := user.New(sess, su, dec, opts.Backend, opts.Clip, opts.ArgvRegistry, opts.Recorder)

	_, _, _, err = uc.Handshake(opts.ArgNames)
	if err != nil {
		log.Warn("handshake failed", logging.KeySessionID, sess.ID, "error", err)
		return err
	}
	if err := uc.SendReady(sess.ID); err != nil {
		return err
	}

	log.Info("viewer attached", logging.KeySessionID, sess.ID, logging.KeyUserID, su.ID)
	err = uc.Run()
	log.Info("viewer detached", logging.KeySessionID, sess.ID, logging.KeyUserID, su.ID, "error", err)
	return err
}

// guardedConn wraps one *websocket.Conn as both an io.Reader (successive
// inbound messages flattened into a byte stream, for protocol.Decoder) and
// an io.WriteCloser (one outbound WebSocket message per Write, for
// protocol.UserSocket, whose buffering means each Write already carries a
// complete batch of one or more instructions). The single mutex also
// covers the ping ticker's control frames, since gorilla/websocket
// forbids concurrent writers on one connection regardless of frame type.
type guardedConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	readBuf []byte
}

func newGuardedConn(c *websocket.Conn) *guardedConn {
	return &guardedConn{conn: c}
}

func (g *guardedConn) Read(p []byte) (int, error) {
	for len(g.readBuf) == 0 {
		msgType, msg, err := g.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		g.readBuf = msg
	}
	n := copy(p, g.readBuf)
	g.readBuf = g.readBuf[n:]
	return n, nil
}

func (g *guardedConn) Write(p []byte) (int, error) {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	_ = g.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := g.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (g *guardedConn) Close() error {
	g.writeMu.Lock()
	_ = g.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = g.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	g.writeMu.Unlock()
	return g.conn.Close()
}

// pingLoop sends a WebSocket ping every pingPeriod until stop is closed or
// a write fails, at which point the caller's deferred Close tears the
// connection down and unblocks the read side's next ReadMessage call.
func (g *guardedConn) pingLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			g.writeMu.Lock()
			_ = g.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := g.conn.WriteMessage(websocket.PingMessage, nil)
			g.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// IsClosedError reports whether err is the expected, non-exceptional
// outcome of a viewer's WebSocket going away (a normal, going-away or
// abnormal close, or a write attempted after the close frame was sent),
// as opposed to a protocol violation or decode failure a caller should log
// more loudly.
func IsClosedError(err error) bool {
	if err == nil {
		return false
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
		return true
	}
	return errors.Is(err, websocket.ErrCloseSent)
}
