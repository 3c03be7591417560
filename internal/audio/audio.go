// Package audio implements the session-wide outbound PCM audio stream
// spec.md §4.J describes: an owner-negotiated raw encoder, a short
// buffering window that keeps blob sizes reasonable, and per-user
// re-announcement so a viewer that joins mid-session immediately learns
// the stream's mimetype.
package audio

import (
	"fmt"
	"sync"

	"github.com/guacfabric/gateway/internal/guac"
	"github.com/guacfabric/gateway/internal/protocol"
	"github.com/guacfabric/gateway/internal/session"
)

// blobSize is the largest chunk of PCM data sent in a single "blob"
// instruction, matching GUAC_RAW_ENCODER_BLOB_SIZE.
const blobSize = 6048

// bufferMillis is the buffering window's duration, matching
// GUAC_RAW_ENCODER_BUFFER_SIZE: PCM is accumulated for this long before
// being flushed as blobs, trading a small amount of latency for
// reasonably sized instructions.
const bufferMillis = 250

// encoder describes one of the two raw PCM mimetypes this package can
// produce — there is no compression step, only a choice of sample width.
type encoder struct {
	mimetype string
	bps      int
}

var (
	raw8  = encoder{mimetype: "audio/L8", bps: 8}
	raw16 = encoder{mimetype: "audio/L16", bps: 16}
)

// assignEncoder picks the raw encoder matching bps if the owner's
// declared supported mimetypes include it, mirroring
// guac_audio_assign_encoder's preference order (it only ever matches the
// encoder whose bit depth equals the stream's current bps).
func assignEncoder(bps int, supported []string) (encoder, bool) {
	for _, mimetype := range supported {
		if bps == 16 && mimetype == raw16.mimetype {
			return raw16, true
		}
		if bps == 8 && mimetype == raw8.mimetype {
			return raw8, true
		}
	}
	return encoder{}, false
}

// Stream is one outbound PCM audio stream broadcast to every user in a
// session, the Go analogue of guac_audio_stream plus raw_encoder_state.
type Stream struct {
	session *session.Session

	mu       sync.Mutex
	streamID int
	enc      encoder
	rate     int
	channels int
	bps      int
	buf      []byte
	written  int
}

// New allocates a session-wide stream id, selects a raw encoder the
// owner's supportedMimetypes declares support for, and broadcasts the
// stream's existence. Returns guac.ErrUnsupported if neither audio/L8
// nor audio/L16 matches bps against anything the owner advertised,
// mirroring guac_audio_stream_alloc's abort-if-no-encoder path.
func New(sess *session.Session, rate, channels, bps int, supportedMimetypes []string) (*Stream, error) {
	enc, ok := assignEncoder(bps, supportedMimetypes)
	if !ok {
		return nil, guac.ErrUnsupported
	}

	id, err := sess.AllocStream()
	if err != nil {
		return nil, err
	}

	s := &Stream{session: sess, streamID: id, enc: enc, rate: rate, channels: channels, bps: bps}
	s.allocBuffer()

	if err := s.announce(sess.Broadcast); err != nil {
		sess.FreeStream(id)
		return nil, err
	}
	return s, nil
}

func (s *Stream) allocBuffer() {
	length := bufferMillis * s.rate * s.channels * s.bps / 8 / 1000
	if length < 1 {
		length = 1
	}
	s.buf = make([]byte, length)
	s.written = 0
}

func (s *Stream) mimetype() string {
	return fmt.Sprintf("%s;rate=%d,channels=%d", s.enc.mimetype, s.rate, s.channels)
}

func (s *Stream) announce(sock protocol.Socket) error {
	return protocol.SendInstruction(sock, protocol.NewInstruction(protocol.OpAudio).
		Int(int64(s.streamID)).String(s.mimetype()))
}

// Join re-announces this stream's mimetype to a single user's socket,
// mirroring raw_encoder_join_handler — called whenever a new viewer
// attaches to a session that already has an active audio stream, so it
// learns of the stream without waiting for the next PCM write.
func (s *Stream) Join(sock protocol.Socket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.announce(sock)
}

// Write buffers PCM data, flushing whenever the 250ms buffering window
// fills, mirroring raw_encoder_write_handler's fill-then-flush loop.
func (s *Stream) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(pcm) > 0 {
		space := len(s.buf) - s.written
		if space == 0 {
			if err := s.flushLocked(); err != nil {
				return err
			}
			continue
		}
		n := space
		if n > len(pcm) {
			n = len(pcm)
		}
		copy(s.buf[s.written:], pcm[:n])
		s.written += n
		pcm = pcm[n:]
	}
	return nil
}

// Flush sends any buffered PCM immediately as one or more blob
// instructions, each no larger than blobSize.
func (s *Stream) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Stream) flushLocked() error {
	data := s.buf[:s.written]
	if len(data) == 0 {
		return nil
	}

	sock := s.session.Broadcast
	sock.InstructionBegin()
	defer sock.InstructionEnd()

	for len(data) > 0 {
		n := len(data)
		if n > blobSize {
			n = blobSize
		}
		if err := sock.WriteInstruction(protocol.NewInstruction(protocol.OpBlob).
			Int(int64(s.streamID)).Binary(data[:n])); err != nil {
			return err
		}
		data = data[n:]
	}

	s.written = 0
	return nil
}

// Reset changes the stream's PCM properties, re-selecting an encoder and
// re-announcing if anything actually changed, mirroring
// guac_audio_stream_reset's no-op-if-unchanged guard.
func (s *Stream) Reset(rate, channels, bps int, supportedMimetypes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	enc, ok := assignEncoder(bps, supportedMimetypes)
	if !ok {
		return guac.ErrUnsupported
	}
	if enc == s.enc && rate == s.rate && channels == s.channels && bps == s.bps {
		return nil
	}

	if err := s.flushLocked(); err != nil {
		return err
	}

	s.enc, s.rate, s.channels, s.bps = enc, rate, channels, bps
	s.allocBuffer()
	return s.announce(s.session.Broadcast)
}

// Close flushes any remaining buffered audio, sends "end", and returns
// the stream id to the session's pool, mirroring guac_audio_stream_free.
func (s *Stream) Close() error {
	s.mu.Lock()
	flushErr := s.flushLocked()
	id := s.streamID
	s.mu.Unlock()

	endErr := protocol.SendInstruction(s.session.Broadcast, protocol.NewInstruction(protocol.OpEnd).Int(int64(id)))
	s.session.FreeStream(id)

	if flushErr != nil {
		return flushErr
	}
	return endErr
}
