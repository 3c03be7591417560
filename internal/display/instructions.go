package display

import (
	"encoding/base64"
	"strconv"

	"github.com/guacfabric/gateway/internal/guac"
	"github.com/guacfabric/gateway/internal/imagestream"
	"github.com/guacfabric/gateway/internal/protocol"
)

func decodeBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, guac.ErrBadRequest
	}
	return data, nil
}

type imageStream = imagestream.Stream

// SyncFunc is invoked once per "sync" or mouse-with-timestamp instruction,
// after the display has been flattened, so a video encoder can advance its
// timeline against the resulting default-layer frame.
type SyncFunc func(timestampMillis int64, frame *Buffer) error

// handler processes one decoded instruction's arguments against a display.
type handler func(d *Display, args []string) error

// Handlers is the opcode dispatch table a recording replay loop drives,
// mirroring guacenc_instruction_handler_map — a flat name-to-function
// table rather than a type switch, so adding an opcode never touches
// existing cases.
var Handlers = map[string]handler{
	protocol.OpRect:     handleRect,
	protocol.OpCfill:    handleCfill,
	protocol.OpCopy:     handleCopy,
	protocol.OpMove:     handleMove,
	protocol.OpShade:    handleShade,
	protocol.OpDispose:  handleDispose,
	protocol.OpSize:     handleSize,
	protocol.OpCursor:   handleCursor,
	protocol.OpMouse:    handleMouse,
	protocol.OpTransfer: handleTransfer,
	protocol.OpSync:     handleSync,
	protocol.OpImg:      handleImg,
	protocol.OpBlob:     handleBlob,
	protocol.OpEnd:      handleEnd,
}

// Handle dispatches one instruction by opcode, returning nil for any
// opcode this package doesn't track (the rest of the protocol — clipboard,
// audio, argv, connection handshake — is irrelevant to raster replay).
func (d *Display) Handle(inst *protocol.Instruction) error {
	h, ok := Handlers[inst.Opcode]
	if !ok {
		return nil
	}
	return h(d, inst.Args)
}

func atoiAll(args []string) []int {
	out := make([]int, len(args))
	for i, a := range args {
		n, _ := strconv.Atoi(a)
		out[i] = n
	}
	return out
}

func handleRect(d *Display, args []string) error {
	if len(args) < 5 {
		return guac.ErrBadRequest
	}
	v := atoiAll(args[:5])
	buffer := d.GetRelatedBuffer(v[0])
	if buffer.Autosize {
		buffer.Fit(v[1]+v[3], v[2]+v[4])
	}
	buffer.pendingRect = rectangle{x: v[1], y: v[2], w: v[3], h: v[4]}
	return nil
}

func handleCfill(d *Display, args []string) error {
	if len(args) < 6 {
		return guac.ErrBadRequest
	}
	v := atoiAll(args[:6])
	buffer := d.GetRelatedBuffer(v[1])
	r := buffer.pendingRect
	buffer.Fill(r.x, r.y, r.w, r.h, uint8(v[2]), uint8(v[3]), uint8(v[4]), uint8(v[5]), Mode(v[0]))
	return nil
}

func handleCopy(d *Display, args []string) error {
	if len(args) < 9 {
		return guac.ErrBadRequest
	}
	v := atoiAll(args[:9])
	src := d.GetRelatedBuffer(v[0])
	dst := d.GetRelatedBuffer(v[6])
	if dst.Autosize {
		dst.Fit(v[7]+v[3], v[8]+v[4])
	}
	dst.Composite(src, v[1], v[2], v[3], v[4], v[7], v[8], Mode(v[5]))
	return nil
}

func handleMove(d *Display, args []string) error {
	if len(args) < 5 {
		return guac.ErrBadRequest
	}
	v := atoiAll(args[:5])
	layer := d.GetLayer(v[0])
	d.GetLayer(v[1])
	layer.ParentIndex = v[1]
	layer.X, layer.Y, layer.Z = v[2], v[3], v[4]
	return nil
}

func handleShade(d *Display, args []string) error {
	if len(args) < 2 {
		return guac.ErrBadRequest
	}
	v := atoiAll(args[:2])
	d.GetLayer(v[0]).Opacity = uint8(v[1])
	return nil
}

func handleDispose(d *Display, args []string) error {
	if len(args) < 1 {
		return guac.ErrBadRequest
	}
	index, _ := strconv.Atoi(args[0])
	if index >= 0 {
		d.FreeLayer(index)
	} else {
		d.FreeBuffer(index)
	}
	return nil
}

func handleSize(d *Display, args []string) error {
	if len(args) < 3 {
		return guac.ErrBadRequest
	}
	v := atoiAll(args[:3])
	d.GetRelatedBuffer(v[0]).Resize(v[1], v[2])
	return nil
}

// handleCursor captures the cursor image from the referenced source
// buffer into d.Cursor.Buffer. Fills in the half of the original recording
// encoder's cursor handling that was left as a debug-only stub; flatten's
// cursor overlay (spec.md §4.G step 5) needs an actual image to paint.
func handleCursor(d *Display, args []string) error {
	if len(args) < 7 {
		return guac.ErrBadRequest
	}
	v := atoiAll(args[:7])
	src := d.GetRelatedBuffer(v[2])
	cursor := NewBuffer()
	cursor.Resize(v[5], v[6])
	cursor.Composite(src, v[3], v[4], v[5], v[6], 0, 0, ModeOver)
	d.Cursor.HotspotX, d.Cursor.HotspotY = v[0], v[1]
	d.Cursor.Buffer = cursor
	return nil
}

func handleMouse(d *Display, args []string) error {
	if len(args) < 2 {
		return guac.ErrBadRequest
	}
	v := atoiAll(args[:2])
	d.Cursor.X, d.Cursor.Y = v[0], v[1]

	if len(args) < 4 {
		return nil
	}
	ts, _ := strconv.ParseInt(args[3], 10, 64)
	return d.Sync(ts)
}

func handleTransfer(d *Display, args []string) error {
	if len(args) < 9 {
		return guac.ErrBadRequest
	}
	// Left unimplemented, matching the upstream guacenc encoder: binary
	// pixel transfer functions are rarely emitted by real clients.
	log.Debug("ignoring transfer instruction", "args", args)
	return nil
}

func handleSync(d *Display, args []string) error {
	if len(args) < 1 {
		return guac.ErrBadRequest
	}
	ts, _ := strconv.ParseInt(args[0], 10, 64)
	return d.Sync(ts)
}

func handleImg(d *Display, args []string) error {
	if len(args) < 6 {
		return guac.ErrBadRequest
	}
	streamIndex, _ := strconv.Atoi(args[0])
	mask, _ := strconv.Atoi(args[1])
	layerIndex, _ := strconv.Atoi(args[2])
	mimetype := args[3]
	x, _ := strconv.Atoi(args[4])
	y, _ := strconv.Atoi(args[5])

	target := d.GetRelatedBuffer(layerIndex)
	d.streams[streamIndex] = imagestream.New(mimetype, Mode(mask), target, x, y)
	return nil
}

func handleBlob(d *Display, args []string) error {
	if len(args) < 2 {
		return guac.ErrBadRequest
	}
	index, _ := strconv.Atoi(args[0])
	stream, ok := d.streams[index]
	if !ok {
		return guac.ErrBadRequest
	}
	data, err := decodeBase64(args[1])
	if err != nil {
		return err
	}
	return stream.Receive(data)
}

func handleEnd(d *Display, args []string) error {
	if len(args) < 1 {
		return guac.ErrBadRequest
	}
	index, _ := strconv.Atoi(args[0])
	stream, ok := d.streams[index]
	if !ok {
		return guac.ErrBadRequest
	}
	delete(d.streams, index)
	return stream.End()
}

// Sync flattens the display and, if a handler is registered, reports the
// resulting frame to it — the hook internal/video uses to drive frame
// timing, per spec.md §4.I.
func (d *Display) Sync(timestampMillis int64) error {
	d.Flatten()
	if d.OnSync == nil {
		return nil
	}
	return d.OnSync(timestampMillis, d.GetLayer(0).Frame)
}
