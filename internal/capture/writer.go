// Package capture records raw venue frames as JSON lines and replays them
// into a running runtime.
package capture

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/depthbot/internal/platform"
)

// ContentType is the media type of capture files.
const ContentType = "application/x-ndjson"

// Ext is the file extension of capture files.
const Ext = ".jsonl"

// Writer appends frames to a capture file. It is safe for concurrent use, so
// one Writer can tap every venue transport.
type Writer struct {
	session string
	path    string
	logger  *slog.Logger

	mu     sync.Mutex
	file   *os.File
	buf    *bufio.Writer
	count  int64
	closed bool
}

// NewWriter creates dir if needed and opens a new capture file in it named
// after the start time and a fresh session id.
func NewWriter(dir string, logger *slog.Logger) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("capture: create dir: %w", err)
	}
	session := uuid.NewString()
	path := filepath.Join(dir, FileName(time.Now(), session))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("capture: open: %w", err)
	}
	return &Writer{
		session: session,
		path:    path,
		logger:  logger.With(slog.String("component", "capture"), slog.String("session", session)),
		file:    f,
		buf:     bufio.NewWriterSize(f, 64*1024),
	}, nil
}

// FileName is the capture file name for a session started at t.
func FileName(t time.Time, session string) string {
	short := session
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("capture-%s-%s%s", t.UTC().Format("20060102T150405Z"), short, Ext)
}

// Session returns the session id.
func (w *Writer) Session() string { return w.session }

// Path returns the file being written.
func (w *Writer) Path() string { return w.path }

// Write appends one frame.
func (w *Writer) Write(f platform.Frame) error {
	line, err := platform.EncodeFrame(f)
	if err != nil {
		return fmt.Errorf("capture: encode: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("capture: write after close")
	}
	if _, err := w.buf.Write(line); err != nil {
		return fmt.Errorf("capture: write: %w", err)
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return fmt.Errorf("capture: write: %w", err)
	}
	w.count++
	return nil
}

// Tap is Write shaped as a platform.FrameHandler; failures are logged.
func (w *Writer) Tap(f platform.Frame) {
	if err := w.Write(f); err != nil {
		w.logger.Error("capture write failed", slog.String("key", f.Key), slog.String("error", err.Error()))
	}
}

// Count returns the number of frames written.
func (w *Writer) Count() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Flush pushes buffered lines to the file.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	return w.buf.Flush()
}

// Close flushes and closes the file. Closing twice is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("capture: flush: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("capture: close: %w", err)
	}
	w.logger.Info("capture closed", slog.String("path", w.path), slog.Int64("frames", w.count))
	return nil
}
