package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// RotatingWriter keeps the gateway's on-disk log bounded: once the live
// file would exceed its size budget, it is renamed to a numbered backup
// and a fresh file takes its place. Backups shift upward on every
// rotation (.1 becomes .2, and so on) with the oldest dropped once the
// backup count is reached. Safe for concurrent use; a session's many
// goroutines all log through one of these.
type RotatingWriter struct {
	mu sync.Mutex

	path    string
	limit   int64
	backups int

	f    *os.File
	size int64
}

// NewRotatingWriter opens (or creates) the log file at path, rotating
// once it grows past maxSizeMB and retaining up to maxBackups numbered
// backups alongside it. Non-positive arguments fall back to 50 MB and 3
// backups.
func NewRotatingWriter(path string, maxSizeMB, maxBackups int) (*RotatingWriter, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = 50
	}
	if maxBackups <= 0 {
		maxBackups = 3
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("logging: create log directory: %w", err)
	}

	w := &RotatingWriter{
		path:    path,
		limit:   int64(maxSizeMB) << 20,
		backups: maxBackups,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("logging: open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("logging: stat log file: %w", err)
	}
	w.f, w.size = f, info.Size()
	return nil
}

// Write appends p, rotating first if the write would push the live file
// past its size budget.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.limit {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.f.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingWriter) rotate() error {
	w.f.Close()

	// Shift backups oldest-last: the highest-numbered one falls off, each
	// remaining one moves up a slot, and the live file becomes ".1".
	os.Remove(w.numbered(w.backups))
	for i := w.backups - 1; i >= 1; i-- {
		os.Rename(w.numbered(i), w.numbered(i+1))
	}
	os.Rename(w.path, w.numbered(1))

	return w.open()
}

func (w *RotatingWriter) numbered(i int) string {
	return fmt.Sprintf("%s.%d", w.path, i)
}

// Reopen closes and reopens the live file, for log-management tooling
// that moves the file aside and signals the process to start a new one.
func (w *RotatingWriter) Reopen() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f != nil {
		w.f.Close()
	}
	return w.open()
}

// Close releases the live file handle.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

// TeeWriter duplicates log output across two sinks, typically stderr
// plus a RotatingWriter.
func TeeWriter(a, b io.Writer) io.Writer {
	return io.MultiWriter(a, b)
}
