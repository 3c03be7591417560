// Package user drives one viewer's side of a Guacamole connection: the
// handshake that negotiates protocol version and display/audio/video/image
// capabilities, and the opcode dispatch loop that follows it, per spec.md
// §4.D. It has no opinion about what sits behind the connection — mouse,
// key, touch and resize events are handed to an optional Backend, and a
// nil Backend simply means those events have no effect, mirroring the way
// a NULL guac_user handler field is never called in the original.
package user

import (
	"encoding/base64"
	"errors"
	"strconv"
	"sync"

	"github.com/guacfabric/gateway/internal/argv"
	"github.com/guacfabric/gateway/internal/clipboard"
	"github.com/guacfabric/gateway/internal/guac"
	"github.com/guacfabric/gateway/internal/logging"
	"github.com/guacfabric/gateway/internal/protocol"
	"github.com/guacfabric/gateway/internal/session"
)

var log = logging.L("user")

// errDisconnect unwinds Run cleanly when the user's own "disconnect"
// instruction arrives, distinguishing a voluntary exit from a transport
// or decode failure.
var errDisconnect = errors.New("user: disconnect requested")

// StreamSink receives the blob/end events of one inbound binary stream
// (a "file", "pipe", or inbound "audio" stream) that a Backend has agreed
// to accept.
type StreamSink interface {
	Blob(data []byte) error
	End() error
}

// Backend is the set of event hooks an external driver supplies to react
// to user input and open backend-specific inbound streams. Every method
// is optional: a nil Backend, or a Backend returning a nil StreamSink,
// behaves like an unset guac_user handler field — the event is accepted
// and otherwise ignored, or the stream is politely rejected.
type Backend interface {
	Mouse(u *session.User, x, y, buttonMask int) error
	Key(u *session.User, keysym int, pressed bool) error
	Touch(u *session.User, id, x, y, xRadius, yRadius int, angle, force float64) error
	Resize(u *session.User, width, height int) error
	Sync(u *session.User, timestampMillis int64) error
	OpenFile(u *session.User, mimetype, filename string) (StreamSink, error)
	OpenPipe(u *session.User, mimetype, name string) (StreamSink, error)
	OpenAudio(u *session.User, mimetype string) (StreamSink, error)
}

// InputRecorder receives raw input events alongside whatever a Backend
// does with them, so a session recording captures user activity even
// though playback and live handling are otherwise independent.
// *recording.Recording satisfies this without either package importing
// the other.
type InputRecorder interface {
	ReportMouse(x, y, buttonMask int) error
	ReportTouch(id, x, y, xRadius, yRadius int, angle, force float64) error
	ReportKey(keysym int, pressed bool) error
}

// Info captures the handshake-negotiated properties of a connecting user,
// mirroring guac_user_info.
type Info struct {
	ProtocolVersion   string
	OptimalWidth      int
	OptimalHeight     int
	OptimalResolution int
	AudioMimetypes    []string
	VideoMimetypes    []string
	ImageMimetypes    []string
}

// ArgNamesFunc supplies the connection parameter names a backend expects
// for protocolName, once the user's "select" instruction has named it.
// The "version" argument is prepended automatically and need not be
// included here.
type ArgNamesFunc func(protocolName string) []string

type streamKind int

const (
	streamClipboard streamKind = iota
	streamFile
	streamPipe
	streamAudio
	streamArgv
)

type inboundStream struct {
	kind       streamKind
	sink       StreamSink
	argvStream *argv.Stream
}

// Conn drives the post-accept protocol exchange for a single user: the
// handshake in Handshake, then the steady-state opcode dispatch loop in
// Run.
type Conn struct {
	sess     *session.Session
	user     *session.User
	sock     protocol.Socket
	dec      *protocol.Decoder
	backend  Backend
	clip     *clipboard.Clipboard
	argvReg  *argv.Registry
	recorder InputRecorder

	mu      sync.Mutex
	streams map[int]*inboundStream
}

// New builds a Conn for user, reading instructions from dec and writing
// replies to user's own socket. backend, clip, argvReg, and recorder may
// all be nil; each missing collaborator simply narrows what this Conn can
// do rather than causing failures.
func New(sess *session.Session, u *session.User, dec *protocol.Decoder, backend Backend, clip *clipboard.Clipboard, argvReg *argv.Registry, recorder InputRecorder) *Conn {
	return &Conn{
		sess:     sess,
		user:     u,
		sock:     u.Socket(),
		dec:      dec,
		backend:  backend,
		clip:     clip,
		argvReg:  argvReg,
		recorder: recorder,
		streams:  make(map[int]*inboundStream),
	}
}

func isKnownVersion(v string) bool {
	switch v {
	case protocol.Version1_0_0, protocol.Version1_1_0, protocol.Version1_3_0:
		return true
	default:
		return false
	}
}

// Handshake reads the "select" instruction, replies with "args", then
// consumes any "size"/"audio"/"video"/"image" instructions and the
// terminating "connect", per spec.md §4.D. It returns the protocol name
// the user selected, the connection parameter values supplied with
// "connect" (with any leading version token already stripped into
// Info.ProtocolVersion), and the negotiated Info.
//
// This implementation always collects every named argument eagerly;
// the "required" instruction's sparse-resend variant, gated on whether
// the connecting owner declared support for it, is not implemented here
// since nothing in this module tracks per-owner capability state outside
// the handshake itself.
func (c *Conn) Handshake(argNamesFor ArgNamesFunc) (protocolName string, values []string, info Info, err error) {
	inst, err := c.dec.Decode()
	if err != nil {
		return "", nil, Info{}, err
	}
	if inst.Opcode != protocol.OpSelect || len(inst.Args) == 0 {
		return "", nil, Info{}, guac.ErrBadRequest
	}
	protocolName = inst.Args[0]

	names := argNamesFor(protocolName)
	b := protocol.NewInstruction(protocol.OpArgs).String("version")
	for _, n := range names {
		b.String(n)
	}
	if err := protocol.SendInstruction(c.sock, b); err != nil {
		return "", nil, Info{}, err
	}
	if err := c.sock.Flush(); err != nil {
		return "", nil, Info{}, err
	}

	for {
		inst, err := c.dec.Decode()
		if err != nil {
			return "", nil, Info{}, err
		}

		switch inst.Opcode {
		case protocol.OpSize:
			info.OptimalWidth = atoiDefault(inst.Args, 0)
			info.OptimalHeight = atoiDefault(inst.Args, 1)
			info.OptimalResolution = atoiDefault(inst.Args, 2)
		case protocol.OpAudio:
			info.AudioMimetypes = inst.Args
		case protocol.OpVideo:
			info.VideoMimetypes = inst.Args
		case protocol.OpImage:
			info.ImageMimetypes = inst.Args
		case protocol.OpConnect:
			values = inst.Args
			info.ProtocolVersion = protocol.Version1_0_0
			if len(values) > 0 && isKnownVersion(values[0]) {
				info.ProtocolVersion = values[0]
				values = values[1:]
			}
			return protocolName, values, info, nil
		default:
			log.Debug("ignoring pre-connect instruction", "opcode", inst.Opcode)
		}
	}
}

func atoiDefault(args []string, index int) int {
	if index >= len(args) {
		return 0
	}
	n, _ := strconv.Atoi(args[index])
	return n
}

// SendReady sends the "ready" instruction assigning connectionID to the
// connection, the final step of a successful handshake.
func (c *Conn) SendReady(connectionID string) error {
	if err := protocol.SendInstruction(c.sock, protocol.NewInstruction(protocol.OpReady).String(connectionID)); err != nil {
		return err
	}
	return c.sock.Flush()
}

// ParseArgString returns values[index], or defaultValue if that argument
// is out of range or blank, mirroring guac_user_parse_args_string.
func ParseArgString(values []string, index int, defaultValue string) string {
	if index >= len(values) || values[index] == "" {
		return defaultValue
	}
	return values[index]
}

// ParseArgInt returns the integer at values[index], or defaultValue if
// that argument is out of range, blank, or not a valid integer, mirroring
// guac_user_parse_args_int.
func ParseArgInt(values []string, index int, defaultValue int) int {
	if index >= len(values) || values[index] == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(values[index])
	if err != nil {
		return defaultValue
	}
	return n
}

// ParseArgBool returns true/false for "true"/"false" at values[index], or
// defaultValue for any other value (including out-of-range or blank),
// mirroring guac_user_parse_args_boolean.
func ParseArgBool(values []string, index int, defaultValue bool) bool {
	if index >= len(values) {
		return defaultValue
	}
	switch values[index] {
	case "true":
		return true
	case "false":
		return false
	default:
		return defaultValue
	}
}

// dispatch maps each opcode a connected user may send after the handshake
// to its handler, the same flat-table shape internal/display uses for
// replay so that adding an opcode never touches existing cases.
var dispatch = map[string]func(*Conn, []string) error{
	protocol.OpSync:       (*Conn).handleSync,
	protocol.OpMouse:      (*Conn).handleMouse,
	protocol.OpKey:        (*Conn).handleKey,
	protocol.OpTouch:      (*Conn).handleTouch,
	protocol.OpSize:       (*Conn).handleResize,
	protocol.OpClipboard:  (*Conn).handleClipboard,
	protocol.OpFile:       (*Conn).handleFile,
	protocol.OpPipe:       (*Conn).handlePipe,
	protocol.OpAudio:      (*Conn).handleAudio,
	protocol.OpArgv:       (*Conn).handleArgv,
	protocol.OpBlob:       (*Conn).handleBlob,
	protocol.OpEnd:        (*Conn).handleEnd,
	protocol.OpAck:        (*Conn).handleAck,
	protocol.OpNop:        (*Conn).handleNop,
	protocol.OpPing:       (*Conn).handleNop,
	protocol.OpDisconnect: (*Conn).handleDisconnect,
}

// Run drives the steady-state dispatch loop until the user disconnects or
// a transport/decode error occurs. Unknown opcodes are silently ignored,
// per spec.md §4.D's forward-compatibility requirement.
func (c *Conn) Run() error {
	for {
		inst, err := c.dec.Decode()
		if err != nil {
			return err
		}

		h, ok := dispatch[inst.Opcode]
		if !ok {
			continue
		}

		if err := h(c, inst.Args); err != nil {
			if errors.Is(err, errDisconnect) {
				return nil
			}
			return err
		}

		// Replies (acks, clipboard/argv re-announcements) are buffered at
		// instruction granularity; push them out before blocking on the
		// next read so the client is never left waiting on a reply that
		// only exists in this side's write buffer.
		if err := c.sock.Flush(); err != nil {
			return err
		}
	}
}

func (c *Conn) handleSync(args []string) error {
	if len(args) < 1 {
		return guac.ErrBadRequest
	}
	ts, _ := strconv.ParseInt(args[0], 10, 64)
	if c.backend != nil {
		return c.backend.Sync(c.user, ts)
	}
	return nil
}

func (c *Conn) handleMouse(args []string) error {
	if len(args) < 3 {
		return guac.ErrBadRequest
	}
	x, _ := strconv.Atoi(args[0])
	y, _ := strconv.Atoi(args[1])
	mask, _ := strconv.Atoi(args[2])

	if c.recorder != nil {
		if err := c.recorder.ReportMouse(x, y, mask); err != nil {
			log.Warn("failed to record mouse event", "error", err)
		}
	}
	if c.backend != nil {
		return c.backend.Mouse(c.user, x, y, mask)
	}
	return nil
}

func (c *Conn) handleKey(args []string) error {
	if len(args) < 2 {
		return guac.ErrBadRequest
	}
	keysym, _ := strconv.Atoi(args[0])
	pressed := args[1] == "1"

	if c.recorder != nil {
		if err := c.recorder.ReportKey(keysym, pressed); err != nil {
			log.Warn("failed to record key event", "error", err)
		}
	}
	if c.backend != nil {
		return c.backend.Key(c.user, keysym, pressed)
	}
	return nil
}

func (c *Conn) handleTouch(args []string) error {
	if len(args) < 7 {
		return guac.ErrBadRequest
	}
	id, _ := strconv.Atoi(args[0])
	x, _ := strconv.Atoi(args[1])
	y, _ := strconv.Atoi(args[2])
	xRadius, _ := strconv.Atoi(args[3])
	yRadius, _ := strconv.Atoi(args[4])
	angle, _ := strconv.ParseFloat(args[5], 64)
	force, _ := strconv.ParseFloat(args[6], 64)

	if c.recorder != nil {
		if err := c.recorder.ReportTouch(id, x, y, xRadius, yRadius, angle, force); err != nil {
			log.Warn("failed to record touch event", "error", err)
		}
	}
	if c.backend != nil {
		return c.backend.Touch(c.user, id, x, y, xRadius, yRadius, angle, force)
	}
	return nil
}

func (c *Conn) handleResize(args []string) error {
	if len(args) < 2 {
		return guac.ErrBadRequest
	}
	width, _ := strconv.Atoi(args[0])
	height, _ := strconv.Atoi(args[1])
	if c.backend != nil {
		return c.backend.Resize(c.user, width, height)
	}
	return nil
}

func (c *Conn) handleClipboard(args []string) error {
	if len(args) < 2 {
		return guac.ErrBadRequest
	}
	streamID, _ := strconv.Atoi(args[0])
	mimetype := args[1]

	if c.clip != nil {
		c.clip.Reset(mimetype)
	}

	c.mu.Lock()
	c.streams[streamID] = &inboundStream{kind: streamClipboard}
	c.mu.Unlock()
	return nil
}

func (c *Conn) handleFile(args []string) error {
	if len(args) < 3 {
		return guac.ErrBadRequest
	}
	streamID, _ := strconv.Atoi(args[0])
	mimetype, filename := args[1], args[2]

	var sink StreamSink
	var err error
	if c.backend != nil {
		sink, err = c.backend.OpenFile(c.user, mimetype, filename)
	}
	if err != nil || sink == nil {
		return sendAck(c.sock, streamID, "File transfer is not supported.", guac.StatusUnsupported)
	}

	c.mu.Lock()
	c.streams[streamID] = &inboundStream{kind: streamFile, sink: sink}
	c.mu.Unlock()
	return sendAck(c.sock, streamID, "Ready to receive file.", guac.StatusSuccess)
}

func (c *Conn) handlePipe(args []string) error {
	if len(args) < 3 {
		return guac.ErrBadRequest
	}
	streamID, _ := strconv.Atoi(args[0])
	mimetype, name := args[1], args[2]

	var sink StreamSink
	var err error
	if c.backend != nil {
		sink, err = c.backend.OpenPipe(c.user, mimetype, name)
	}
	if err != nil || sink == nil {
		return sendAck(c.sock, streamID, "Named pipes are not supported.", guac.StatusUnsupported)
	}

	c.mu.Lock()
	c.streams[streamID] = &inboundStream{kind: streamPipe, sink: sink}
	c.mu.Unlock()
	return sendAck(c.sock, streamID, "Ready to receive pipe data.", guac.StatusSuccess)
}

func (c *Conn) handleAudio(args []string) error {
	if len(args) < 2 {
		return guac.ErrBadRequest
	}
	streamID, _ := strconv.Atoi(args[0])
	mimetype := args[1]

	var sink StreamSink
	var err error
	if c.backend != nil {
		sink, err = c.backend.OpenAudio(c.user, mimetype)
	}
	if err != nil || sink == nil {
		return sendAck(c.sock, streamID, "Audio input is not supported.", guac.StatusUnsupported)
	}

	c.mu.Lock()
	c.streams[streamID] = &inboundStream{kind: streamAudio, sink: sink}
	c.mu.Unlock()
	return sendAck(c.sock, streamID, "Ready to receive audio.", guac.StatusSuccess)
}

func (c *Conn) handleArgv(args []string) error {
	if len(args) < 3 {
		return guac.ErrBadRequest
	}
	streamID, _ := strconv.Atoi(args[0])
	mimetype, name := args[1], args[2]

	if c.argvReg == nil {
		return sendAck(c.sock, streamID, "Not allowed.", guac.StatusClientForbidden)
	}

	stream, ok := c.argvReg.Open(mimetype, name)
	if !ok {
		return argv.SendForbidden(c.sock, streamID)
	}

	c.mu.Lock()
	c.streams[streamID] = &inboundStream{kind: streamArgv, argvStream: stream}
	c.mu.Unlock()
	return argv.SendReady(c.sock, streamID)
}

func (c *Conn) handleBlob(args []string) error {
	if len(args) < 2 {
		return guac.ErrBadRequest
	}
	streamID, _ := strconv.Atoi(args[0])

	c.mu.Lock()
	s, ok := c.streams[streamID]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	data, err := base64.StdEncoding.DecodeString(args[1])
	if err != nil {
		return guac.ErrBadRequest
	}

	switch s.kind {
	case streamClipboard:
		if c.clip != nil {
			c.clip.Append(data)
		}
		return nil
	case streamArgv:
		s.argvStream.Blob(data)
		return nil
	default:
		return s.sink.Blob(data)
	}
}

func (c *Conn) handleEnd(args []string) error {
	if len(args) < 1 {
		return guac.ErrBadRequest
	}
	streamID, _ := strconv.Atoi(args[0])

	c.mu.Lock()
	s, ok := c.streams[streamID]
	delete(c.streams, streamID)
	c.mu.Unlock()
	if !ok {
		return nil
	}

	switch s.kind {
	case streamClipboard:
		return c.broadcastClipboard()
	case streamArgv:
		echo, err := c.argvReg.End(c.user, s.argvStream)
		if err != nil {
			return nil
		}
		if echo {
			return c.broadcastArgv(s.argvStream)
		}
		return nil
	default:
		return s.sink.End()
	}
}

// broadcastClipboard re-sends the session's current clipboard value to
// every connected user so a clipboard set by one viewer becomes visible
// to the rest, the multi-user analogue of a single protocol driver's
// clipboard_handler updating local state.
func (c *Conn) broadcastClipboard() error {
	if c.clip == nil || c.sess == nil {
		return nil
	}
	mimetype, data := c.clip.Value()
	c.sess.ForEachUser(func(u *session.User) {
		streamID, err := u.AllocStream()
		if err != nil {
			return
		}
		defer u.FreeStream(streamID)
		if err := clipboard.Send(u.Socket(), streamID, mimetype, data); err != nil {
			log.Warn("failed to re-announce clipboard", "user", u.ID, "error", err)
			return
		}
		_ = u.Socket().Flush()
	})
	return nil
}

// broadcastArgv re-announces an updated connection parameter to every
// connected user via a fresh "argv" stream, mirroring
// guac_user_stream_argv's use from an argv callback's echo path.
func (c *Conn) broadcastArgv(s *argv.Stream) error {
	if c.sess == nil {
		return nil
	}
	mimetype, name, value := s.Value()
	c.sess.ForEachUser(func(u *session.User) {
		streamID, err := u.AllocStream()
		if err != nil {
			return
		}
		defer u.FreeStream(streamID)
		sock := u.Socket()
		if err := protocol.SendInstruction(sock, protocol.NewInstruction(protocol.OpArgv).
			Int(int64(streamID)).String(mimetype).String(name)); err != nil {
			log.Warn("failed to re-announce argv", "user", u.ID, "error", err)
			return
		}
		if len(value) > 0 {
			if err := protocol.SendInstruction(sock, protocol.NewInstruction(protocol.OpBlob).
				Int(int64(streamID)).Binary(value)); err != nil {
				log.Warn("failed to stream argv value", "user", u.ID, "error", err)
				return
			}
		}
		if err := protocol.SendInstruction(sock, protocol.NewInstruction(protocol.OpEnd).Int(int64(streamID))); err != nil {
			log.Warn("failed to end argv stream", "user", u.ID, "error", err)
			return
		}
		_ = sock.Flush()
	})
	return nil
}

func (c *Conn) handleAck(args []string) error {
	if len(args) < 3 {
		return guac.ErrBadRequest
	}
	log.Debug("received ack for outbound stream", "args", args)
	return nil
}

func (c *Conn) handleNop([]string) error {
	return nil
}

func (c *Conn) handleDisconnect([]string) error {
	return errDisconnect
}

func sendAck(sock protocol.Socket, streamID int, message string, status guac.Status) error {
	return protocol.SendInstruction(sock, protocol.NewInstruction(protocol.OpAck).
		Int(int64(streamID)).String(message).Int(int64(status)))
}
