package user

import (
	"bytes"
	"strings"
	"testing"

	"github.com/guacfabric/gateway/internal/argv"
	"github.com/guacfabric/gateway/internal/clipboard"
	"github.com/guacfabric/gateway/internal/config"
	"github.com/guacfabric/gateway/internal/protocol"
	"github.com/guacfabric/gateway/internal/session"
)

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

func newTestConn(t *testing.T, script string, backend Backend, clip *clipboard.Clipboard, reg *argv.Registry) (*Conn, *session.Session, *bytes.Buffer) {
	t.Helper()
	sess := session.New(config.Default())
	outbound := &bytes.Buffer{}
	sock := protocol.NewUserSocket(nopCloser{outbound})
	u, err := sess.AddUser(sock)
	if err != nil {
		t.Fatal(err)
	}
	dec := protocol.NewDecoder(strings.NewReader(script), 0)
	return New(sess, u, dec, backend, clip, reg, nil), sess, outbound
}

func inst(opcode string, args ...string) string {
	b := protocol.NewInstruction(opcode)
	for _, a := range args {
		b.String(a)
	}
	return string(b.Bytes())
}

func TestHandshakeNegotiatesVersionAndCapabilities(t *testing.T) {
	script := inst(protocol.OpSelect, "vnc") +
		inst(protocol.OpSize, "1024", "768", "96") +
		inst(protocol.OpAudio, "audio/L16") +
		inst(protocol.OpVideo) +
		inst(protocol.OpImage, "image/png", "image/jpeg") +
		inst(protocol.OpConnect, "1.3.0", "myhost", "5900")

	conn, _, outbound := newTestConn(t, script, nil, nil, nil)

	protocolName, values, info, err := conn.Handshake(func(p string) []string {
		if p != "vnc" {
			t.Fatalf("unexpected protocol name: %s", p)
		}
		return []string{"host", "port"}
	})
	if err != nil {
		t.Fatal(err)
	}
	if protocolName != "vnc" {
		t.Fatalf("unexpected protocol name: %s", protocolName)
	}
	if info.ProtocolVersion != protocol.Version1_3_0 {
		t.Fatalf("expected negotiated version 1.3.0, got %s", info.ProtocolVersion)
	}
	if len(values) != 2 || values[0] != "myhost" || values[1] != "5900" {
		t.Fatalf("unexpected connect values: %v", values)
	}
	if info.OptimalWidth != 1024 || info.OptimalHeight != 768 || info.OptimalResolution != 96 {
		t.Fatalf("unexpected size negotiation: %+v", info)
	}
	if len(info.AudioMimetypes) != 1 || info.AudioMimetypes[0] != "audio/L16" {
		t.Fatalf("unexpected audio mimetypes: %v", info.AudioMimetypes)
	}
	if len(info.ImageMimetypes) != 2 {
		t.Fatalf("unexpected image mimetypes: %v", info.ImageMimetypes)
	}

	if !bytes.Contains(outbound.Bytes(), []byte("4.args,7.version,4.host,4.port;")) {
		t.Fatalf("expected args instruction naming version+host+port, got %q", outbound.String())
	}
}

func TestHandshakeDefaultsToVersion1_0_0WithoutToken(t *testing.T) {
	script := inst(protocol.OpSelect, "vnc") + inst(protocol.OpConnect, "myhost")
	conn, _, _ := newTestConn(t, script, nil, nil, nil)

	_, values, info, err := conn.Handshake(func(string) []string { return []string{"host"} })
	if err != nil {
		t.Fatal(err)
	}
	if info.ProtocolVersion != protocol.Version1_0_0 {
		t.Fatalf("expected default version 1.0.0, got %s", info.ProtocolVersion)
	}
	if len(values) != 1 || values[0] != "myhost" {
		t.Fatalf("unexpected connect values: %v", values)
	}
}

type recordingBackend struct {
	mouseX, mouseY, mouseMask int
	mouseCalled               bool
	keysym                    int
	pressed                   bool
	keyCalled                 bool
}

func (b *recordingBackend) Mouse(u *session.User, x, y, mask int) error {
	b.mouseCalled = true
	b.mouseX, b.mouseY, b.mouseMask = x, y, mask
	return nil
}
func (b *recordingBackend) Key(u *session.User, keysym int, pressed bool) error {
	b.keyCalled = true
	b.keysym, b.pressed = keysym, pressed
	return nil
}
func (b *recordingBackend) Touch(u *session.User, id, x, y, xr, yr int, angle, force float64) error {
	return nil
}
func (b *recordingBackend) Resize(u *session.User, width, height int) error { return nil }
func (b *recordingBackend) Sync(u *session.User, ts int64) error           { return nil }
func (b *recordingBackend) OpenFile(u *session.User, mimetype, filename string) (StreamSink, error) {
	return nil, nil
}
func (b *recordingBackend) OpenPipe(u *session.User, mimetype, name string) (StreamSink, error) {
	return nil, nil
}
func (b *recordingBackend) OpenAudio(u *session.User, mimetype string) (StreamSink, error) {
	return nil, nil
}

func TestRunDispatchesMouseAndKeyToBackend(t *testing.T) {
	script := inst(protocol.OpMouse, "10", "20", "1") +
		inst(protocol.OpKey, "65", "1") +
		inst(protocol.OpDisconnect)

	backend := &recordingBackend{}
	conn, _, _ := newTestConn(t, script, backend, nil, nil)

	if err := conn.Run(); err != nil {
		t.Fatal(err)
	}
	if !backend.mouseCalled || backend.mouseX != 10 || backend.mouseY != 20 || backend.mouseMask != 1 {
		t.Fatalf("mouse event not dispatched correctly: %+v", backend)
	}
	if !backend.keyCalled || backend.keysym != 65 || !backend.pressed {
		t.Fatalf("key event not dispatched correctly: %+v", backend)
	}
}

func TestRunIgnoresUnknownOpcodes(t *testing.T) {
	script := inst("some-future-opcode", "whatever") + inst(protocol.OpDisconnect)
	conn, _, _ := newTestConn(t, script, nil, nil, nil)
	if err := conn.Run(); err != nil {
		t.Fatal(err)
	}
}

func TestRunFileStreamRejectedWithoutBackendSupport(t *testing.T) {
	script := inst(protocol.OpFile, "3", "text/plain", "notes.txt") + inst(protocol.OpDisconnect)
	conn, _, outbound := newTestConn(t, script, nil, nil, nil)
	if err := conn.Run(); err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(outbound.Bytes(), []byte("3.ack,1.3,")) {
		t.Fatalf("expected ack rejecting file stream, got %q", outbound.String())
	}
}

func TestRunClipboardRoundTripsAndBroadcasts(t *testing.T) {
	script := inst(protocol.OpClipboard, "5", "text/plain") +
		inst(protocol.OpBlob, "5", "aGVsbG8=") +
		inst(protocol.OpEnd, "5") +
		inst(protocol.OpDisconnect)

	clip := clipboard.New()
	conn, _, outbound := newTestConn(t, script, nil, clip, nil)
	if err := conn.Run(); err != nil {
		t.Fatal(err)
	}

	mimetype, data := clip.Value()
	if mimetype != "text/plain" || string(data) != "hello" {
		t.Fatalf("unexpected clipboard value: %q %q", mimetype, data)
	}
	if !bytes.Contains(outbound.Bytes(), []byte("9.clipboard,")) {
		t.Fatalf("expected clipboard re-announcement, got %q", outbound.String())
	}
}

func TestRunArgvStreamInvokesCallbackAndEchoes(t *testing.T) {
	reg := argv.NewRegistry()
	var gotValue string
	if err := reg.Register("hostname", argv.OptionEcho, func(u *session.User, mimetype, name string, value []byte) error {
		gotValue = string(value)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	script := inst(protocol.OpArgv, "9", "text/plain", "hostname") +
		inst(protocol.OpBlob, "9", "bmV3aG9zdA==") +
		inst(protocol.OpEnd, "9") +
		inst(protocol.OpDisconnect)

	conn, _, outbound := newTestConn(t, script, nil, nil, reg)
	if err := conn.Run(); err != nil {
		t.Fatal(err)
	}
	if gotValue != "newhost" {
		t.Fatalf("expected argv callback to receive 'newhost', got %q", gotValue)
	}
	if !bytes.Contains(outbound.Bytes(), []byte("4.argv,")) {
		t.Fatalf("expected argv echo re-announcement, got %q", outbound.String())
	}
}

func TestRunArgvStreamRejectedWhenNameNotRegistered(t *testing.T) {
	reg := argv.NewRegistry()
	script := inst(protocol.OpArgv, "2", "text/plain", "unregistered") + inst(protocol.OpDisconnect)
	conn, _, outbound := newTestConn(t, script, nil, nil, reg)
	if err := conn.Run(); err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(outbound.Bytes(), []byte("3.ack,1.2,")) {
		t.Fatalf("expected ack rejecting unregistered argv stream, got %q", outbound.String())
	}
}

func TestParseArgHelpers(t *testing.T) {
	values := []string{"host1", "", "42", "true"}
	if got := ParseArgString(values, 0, "default"); got != "host1" {
		t.Fatalf("unexpected string: %s", got)
	}
	if got := ParseArgString(values, 1, "default"); got != "default" {
		t.Fatalf("expected default for blank value, got %s", got)
	}
	if got := ParseArgInt(values, 2, -1); got != 42 {
		t.Fatalf("unexpected int: %d", got)
	}
	if got := ParseArgInt(values, 0, -1); got != -1 {
		t.Fatalf("expected default for invalid int, got %d", got)
	}
	if got := ParseArgBool(values, 3, false); got != true {
		t.Fatalf("unexpected bool: %v", got)
	}
	if got := ParseArgBool(values, 99, true); got != true {
		t.Fatalf("expected default for out-of-range index, got %v", got)
	}
}
