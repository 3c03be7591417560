package session

import (
	"github.com/guacfabric/gateway/internal/protocol"
)

// blobChunkSize is the payload size (pre-base64) used when chunking an
// image or argv value across "blob" instructions. Chosen so the base64
// expansion stays comfortably under the 8 KiB default instruction cap.
const blobChunkSize = 4096

// StreamImage sends data as a single "img" stream composited onto the
// given layer at mode, followed by one or more "blob" instructions and a
// terminating "end", directly to a single socket (a new user's initial
// screen catch-up, or a convenience reply to one requester) rather than
// the whole broadcast group.
func StreamImage(sock protocol.Socket, streamID int, mode protocol.CompositingMode, layer int, mimetype string, x, y int, data []byte) error {
	sock.InstructionBegin()
	defer sock.InstructionEnd()

	if err := sock.WriteInstruction(protocol.NewInstruction(protocol.OpImg).
		Int(int64(streamID)).Int(int64(mode)).Int(int64(layer)).String(mimetype).Int(int64(x)).Int(int64(y))); err != nil {
		return err
	}

	for offset := 0; offset < len(data); offset += blobChunkSize {
		end := offset + blobChunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := sock.WriteInstruction(protocol.NewInstruction(protocol.OpBlob).
			Int(int64(streamID)).Binary(data[offset:end])); err != nil {
			return err
		}
	}

	return sock.WriteInstruction(protocol.NewInstruction(protocol.OpEnd).Int(int64(streamID)))
}

// StreamPNG is StreamImage fixed to image/png, composited OVER.
func StreamPNG(sock protocol.Socket, streamID, layer, x, y int, data []byte) error {
	return StreamImage(sock, streamID, protocol.ModeOver, layer, "image/png", x, y, data)
}

// StreamJPEG is StreamImage fixed to image/jpeg, composited OVER.
func StreamJPEG(sock protocol.Socket, streamID, layer, x, y int, data []byte) error {
	return StreamImage(sock, streamID, protocol.ModeOver, layer, "image/jpeg", x, y, data)
}

// StreamWebP is StreamImage fixed to image/webp, composited OVER.
func StreamWebP(sock protocol.Socket, streamID, layer, x, y int, data []byte) error {
	return StreamImage(sock, streamID, protocol.ModeOver, layer, "image/webp", x, y, data)
}

// StreamArgv pushes a server-initiated argument value update to one user:
// an "argv" stream carrying mimetype text/plain and the argument's name,
// chunked the same way as image data, per spec.md §4.L.
func StreamArgv(sock protocol.Socket, streamID int, name string, value []byte) error {
	sock.InstructionBegin()
	defer sock.InstructionEnd()

	if err := sock.WriteInstruction(protocol.NewInstruction(protocol.OpArgv).
		Int(int64(streamID)).String("text/plain").String(name)); err != nil {
		return err
	}

	for offset := 0; offset < len(value); offset += blobChunkSize {
		end := offset + blobChunkSize
		if end > len(value) {
			end = len(value)
		}
		if err := sock.WriteInstruction(protocol.NewInstruction(protocol.OpBlob).
			Int(int64(streamID)).Binary(value[offset:end])); err != nil {
			return err
		}
	}

	return sock.WriteInstruction(protocol.NewInstruction(protocol.OpEnd).Int(int64(streamID)))
}
