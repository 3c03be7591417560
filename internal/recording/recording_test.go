package recording

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/guacfabric/gateway/internal/config"
	"github.com/guacfabric/gateway/internal/protocol"
	"github.com/guacfabric/gateway/internal/session"
)

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

func newTestSession(t *testing.T) (*session.Session, *bytes.Buffer) {
	t.Helper()
	sess := session.New(config.Default())
	buf := &bytes.Buffer{}
	sock := protocol.NewUserSocket(nopCloser{buf})
	if _, err := sess.AddUser(sock); err != nil {
		t.Fatal(err)
	}
	return sess, buf
}

func TestCreateAppendsSuffixOnNameCollision(t *testing.T) {
	dir := t.TempDir()
	sess, _ := newTestSession(t)

	rec1, err := Create(sess, dir, "session", Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer rec1.Close()
	if rec1.Filename() != filepath.Join(dir, "session") {
		t.Fatalf("unexpected first filename: %s", rec1.Filename())
	}

	sess2, _ := newTestSession(t)
	rec2, err := Create(sess2, dir, "session", Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer rec2.Close()
	if rec2.Filename() != filepath.Join(dir, "session.1") {
		t.Fatalf("expected .1 suffix on collision, got %s", rec2.Filename())
	}
}

func TestCreateWithIncludeOutputTeesBroadcast(t *testing.T) {
	dir := t.TempDir()
	sess, viewerBuf := newTestSession(t)

	rec, err := Create(sess, dir, "teed", Options{IncludeOutput: true})
	if err != nil {
		t.Fatal(err)
	}

	if err := protocol.SendInstruction(sess.Broadcast, protocol.NewInstruction(protocol.OpSync).Int(1000)); err != nil {
		t.Fatal(err)
	}
	_ = sess.Broadcast.Flush()
	rec.Close()

	if !bytes.Contains(viewerBuf.Bytes(), []byte("4.sync,4.1000;")) {
		t.Fatalf("expected sync instruction reaching the viewer, got %q", viewerBuf.String())
	}

	data, err := os.ReadFile(filepath.Join(dir, "teed"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte("4.sync,4.1000;")) {
		t.Fatalf("expected sync instruction in recording file, got %q", string(data))
	}
}

func TestReportMouseSkippedWhenNotIncluded(t *testing.T) {
	dir := t.TempDir()
	sess, _ := newTestSession(t)

	rec, err := Create(sess, dir, "nomouse", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := rec.ReportMouse(10, 20, 1); err != nil {
		t.Fatal(err)
	}
	rec.Close()

	data, err := os.ReadFile(filepath.Join(dir, "nomouse"))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 0 {
		t.Fatalf("expected no mouse instruction written, got %q", string(data))
	}
}

func TestReportMouseWrittenWhenIncluded(t *testing.T) {
	dir := t.TempDir()
	sess, _ := newTestSession(t)

	rec, err := Create(sess, dir, "withmouse", Options{IncludeMouse: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := rec.ReportMouse(10, 20, 1); err != nil {
		t.Fatal(err)
	}
	rec.Close()

	data, err := os.ReadFile(filepath.Join(dir, "withmouse"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte("5.mouse,2.10,2.20,1.1,")) {
		t.Fatalf("expected mouse instruction in recording file, got %q", string(data))
	}
}

type mockS3Client struct {
	objects map[string][]byte
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	m.objects[*input.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func TestS3ArchiverUploadsAndRemovesLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "finished-recording")
	if err := os.WriteFile(path, []byte("wire protocol bytes"), 0600); err != nil {
		t.Fatal(err)
	}

	mock := &mockS3Client{objects: make(map[string][]byte)}
	archiver := newS3ArchiverWithClient(mock, "test-bucket", "recordings/")

	key, err := archiver.Archive(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := mock.objects[key]; !ok {
		t.Fatalf("expected object stored under key %q", key)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected local recording file to be removed after archiving")
	}
}
