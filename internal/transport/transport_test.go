package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/guacfabric/gateway/internal/config"
	"github.com/guacfabric/gateway/internal/protocol"
	"github.com/guacfabric/gateway/internal/session"
)

func inst(opcode string, args ...string) string {
	b := protocol.NewInstruction(opcode)
	for _, a := range args {
		b.String(a)
	}
	return string(b.Bytes())
}

func startTestServer(t *testing.T, sess *session.Session, opts ViewerOptions) (*httptest.Server, chan error) {
	t.Helper()
	done := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		done <- ServeViewer(w, r, sess, opts)
	}))
	t.Cleanup(srv.Close)
	return srv, done
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	dialer := websocket.Dialer{Subprotocols: []string{Subprotocol}, HandshakeTimeout: 2 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServeViewerCompletesHandshakeAndSendsReady(t *testing.T) {
	sess := session.New(config.Default())
	opts := ViewerOptions{
		ArgNames: func(p string) []string {
			if p != "vnc" {
				t.Errorf("unexpected protocol name: %s", p)
			}
			return []string{"hostname", "port"}
		},
		MaxInstructionBytes: 8192,
	}
	srv, _ := startTestServer(t, sess, opts)
	conn := dial(t, srv)

	script := inst(protocol.OpSelect, "vnc") +
		inst(protocol.OpConnect, "1.3.0", "myhost", "5900")
	if err := conn.WriteMessage(websocket.TextMessage, []byte(script)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var gotArgs, gotReady bool
	deadline := time.Now().Add(3 * time.Second)
	conn.SetReadDeadline(deadline)
	for !gotArgs || !gotReady {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read failed before seeing args+ready: %v (args=%v ready=%v)", err, gotArgs, gotReady)
		}
		if strings.Contains(string(msg), "4.args,") {
			gotArgs = true
		}
		if strings.Contains(string(msg), "5.ready,") {
			gotReady = true
		}
	}
}

func TestServeViewerReturnsWhenClientDisconnects(t *testing.T) {
	sess := session.New(config.Default())
	opts := ViewerOptions{
		ArgNames:            func(string) []string { return nil },
		MaxInstructionBytes: 8192,
	}
	srv, done := startTestServer(t, sess, opts)
	conn := dial(t, srv)

	script := inst(protocol.OpSelect, "vnc") + inst(protocol.OpConnect, "myhost")
	if err := conn.WriteMessage(websocket.TextMessage, []byte(script)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	_ = conn.Close()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("ServeViewer did not return after client disconnect")
	}
}

func TestIsClosedErrorRecognizesNormalClosure(t *testing.T) {
	err := &websocket.CloseError{Code: websocket.CloseNormalClosure}
	if !IsClosedError(err) {
		t.Fatalf("expected normal closure to be recognized as a closed-connection error")
	}
	if IsClosedError(nil) {
		t.Fatalf("nil should never be a closed-connection error")
	}
}
