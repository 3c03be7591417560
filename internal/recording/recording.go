// Package recording writes a session's wire protocol output to a file as
// it happens, and optionally captures mouse/touch/key input events
// alongside it, per spec.md §4.K. A later guacenc run replays the same
// instruction stream to produce video.
package recording

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/guacfabric/gateway/internal/logging"
	"github.com/guacfabric/gateway/internal/protocol"
	"github.com/guacfabric/gateway/internal/session"
)

var log = logging.L("recording")

// MaxSuffix is the largest numeric suffix tried when a recording's
// requested name already exists, matching
// GUAC_COMMON_RECORDING_MAX_SUFFIX.
const MaxSuffix = 255

// Options controls which parts of a session's activity a Recording
// captures, matching guac_common_recording_create's include_* flags.
type Options struct {
	CreatePath    bool
	IncludeOutput bool
	IncludeMouse  bool
	IncludeTouch  bool
	IncludeKeys   bool
}

// Recording is one in-progress session recording: a locked output file,
// optionally tee'd into a session's broadcast group so every instruction
// sent to viewers is also written to disk.
type Recording struct {
	file     *os.File
	socket   *protocol.UserSocket
	filename string
	opts     Options
}

// Create opens a new recording file within path named name (appending a
// numeric suffix if that name is already taken, up to MaxSuffix), locks
// it against concurrent writers, and — if opts.IncludeOutput is set —
// tees the session's broadcast output into it. Mirrors
// guac_common_recording_create.
func Create(sess *session.Session, path, name string, opts Options) (*Recording, error) {
	if opts.CreatePath {
		if err := os.MkdirAll(path, 0700); err != nil {
			return nil, fmt.Errorf("recording: create path: %w", err)
		}
	}

	file, filename, err := openWithSuffix(path, name)
	if err != nil {
		return nil, fmt.Errorf("recording: open: %w", err)
	}

	if err := lockExclusive(file); err != nil {
		file.Close()
		return nil, fmt.Errorf("recording: lock: %w", err)
	}

	rec := &Recording{
		file:     file,
		socket:   protocol.NewUserSocket(file),
		filename: filename,
		opts:     opts,
	}

	if opts.IncludeOutput {
		sess.Broadcast.SetRecorder(rec.socket)
	}

	log.Info("recording session", "path", filename)
	return rec, nil
}

// Filename returns the actual path the recording was opened at,
// including any numeric suffix appended to avoid colliding with an
// existing file.
func (r *Recording) Filename() string { return r.filename }

// Close flushes and closes the recording file. If output was being teed
// from a broadcast socket, the caller should stop that first (closing
// the owning Session, or calling SetRecorder(nil)) — Close here only
// releases the raw file the way guac_common_recording_free does when
// the recording is not tracking the client's own output socket.
func (r *Recording) Close() error {
	return r.socket.Close()
}

// IsInProgress reports whether the recording file at path still appears to
// be held by an active writer, by attempting (and immediately releasing)
// the same advisory lock Create takes. guacenc uses this as a pre-flight
// check before replaying a file, so it doesn't read a recording while
// guacd is still appending to it.
func IsInProgress(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	if err := lockExclusive(f); err != nil {
		return true, nil
	}
	return false, nil
}

// openWithSuffix implements guac_common_recording_open: O_CREATE|O_EXCL
// against "path/name", retrying as "path/name.1", "path/name.2", ... up
// to MaxSuffix if the name is already taken.
func openWithSuffix(path, name string) (*os.File, string, error) {
	base := filepath.Join(path, name)

	if f, err := openExclusive(base); err == nil {
		return f, base, nil
	} else if !os.IsExist(err) {
		return nil, "", err
	}

	for i := 1; i <= MaxSuffix; i++ {
		candidate := fmt.Sprintf("%s.%d", base, i)
		f, err := openExclusive(candidate)
		if err == nil {
			return f, candidate, nil
		}
		if !os.IsExist(err) {
			return nil, "", err
		}
	}

	return nil, "", fmt.Errorf("no available filename after %d suffixes", MaxSuffix)
}

func openExclusive(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
}

// ReportMouse writes a timestamped "mouse" instruction directly to the
// recording file only (never to the broadcast group), if mouse capture
// is enabled, mirroring guac_common_recording_report_mouse.
func (r *Recording) ReportMouse(x, y, buttonMask int) error {
	if !r.opts.IncludeMouse {
		return nil
	}
	return protocol.SendInstruction(r.socket, protocol.NewInstruction(protocol.OpMouse).
		Int(int64(x)).Int(int64(y)).Int(int64(buttonMask)).Int(time.Now().UnixMilli()))
}

// ReportTouch writes a timestamped "touch" instruction directly to the
// recording file only, if touch capture is enabled, mirroring
// guac_common_recording_report_touch.
func (r *Recording) ReportTouch(id, x, y, xRadius, yRadius int, angle, force float64) error {
	if !r.opts.IncludeTouch {
		return nil
	}
	return protocol.SendInstruction(r.socket, protocol.NewInstruction(protocol.OpTouch).
		Int(int64(id)).Int(int64(x)).Int(int64(y)).Int(int64(xRadius)).Int(int64(yRadius)).
		Double(angle).Double(force).Int(time.Now().UnixMilli()))
}

// ReportKey writes a timestamped "key" instruction directly to the
// recording file only, if key capture is enabled, mirroring
// guac_common_recording_report_key.
func (r *Recording) ReportKey(keysym int, pressed bool) error {
	if !r.opts.IncludeKeys {
		return nil
	}
	return protocol.SendInstruction(r.socket, protocol.NewInstruction(protocol.OpKey).
		Int(int64(keysym)).Bool(pressed).Int(time.Now().UnixMilli()))
}
