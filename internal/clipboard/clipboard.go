// Package clipboard implements the small shared-state accumulator spec.md
// §4.M groups under "shared glue": one session-wide clipboard value, reset
// and appended to by whichever user last claimed it, then broadcast back
// out to every other user so multi-viewer sessions stay in sync. Modeled
// on the reset/append split every protocol's clipboard_handler/
// blob_handler pair uses (see protocols/telnet/clipboard.c), generalized
// here into a protocol-agnostic accumulator rather than one copy per
// backend.
package clipboard

import (
	"sync"

	"github.com/guacfabric/gateway/internal/protocol"
)

// Clipboard holds the most recently set clipboard value for a session,
// along with the mimetype it was declared under.
type Clipboard struct {
	mu       sync.Mutex
	mimetype string
	data     []byte
}

// New returns an empty Clipboard.
func New() *Clipboard {
	return &Clipboard{}
}

// Reset clears any accumulated value and records the mimetype a new
// "clipboard" stream declared, mirroring guac_common_clipboard_reset.
func (c *Clipboard) Reset(mimetype string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mimetype = mimetype
	c.data = c.data[:0]
}

// Append adds a received blob to the in-progress value, mirroring
// guac_common_clipboard_append.
func (c *Clipboard) Append(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = append(c.data, data...)
}

// Value returns the current mimetype and accumulated bytes.
func (c *Clipboard) Value() (mimetype string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, len(c.data))
	copy(out, c.data)
	return c.mimetype, out
}

// Send streams the current clipboard value to sock as a single
// "clipboard"/"blob"/"end" sequence over a freshly allocated stream id,
// the shape every join handler across the example protocols uses to
// hand a newly (re)connected viewer the session's current clipboard.
func Send(sock protocol.Socket, streamID int, mimetype string, data []byte) error {
	if err := protocol.SendInstruction(sock, protocol.NewInstruction(protocol.OpClipboard).
		Int(int64(streamID)).String(mimetype)); err != nil {
		return err
	}
	if len(data) > 0 {
		if err := protocol.SendInstruction(sock, protocol.NewInstruction(protocol.OpBlob).
			Int(int64(streamID)).Binary(data)); err != nil {
			return err
		}
	}
	return protocol.SendInstruction(sock, protocol.NewInstruction(protocol.OpEnd).Int(int64(streamID)))
}
