package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"digtick.dev/internal/sim/world"
)

const hourLayout = "2006-01-02-15"

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("jsonl writer closed")

// JSONLZstdWriter appends JSON lines to hourly zstd segments named
// <prefix>-<yyyy-mm-dd-hh>.jsonl.zst. Each line is flushed through the
// encoder so a crashed process loses at most the open zstd frame.
type JSONLZstdWriter struct {
	dir    string
	prefix string
	now    func() time.Time

	mu     sync.Mutex
	hour   string
	file   *os.File
	enc    *zstd.Encoder
	buf    *bufio.Writer
	lines  int64
	closed bool
}

func NewJSONLZstdWriter(dir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{dir: dir, prefix: prefix, now: time.Now}
}

func (w *JSONLZstdWriter) Write(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s line: %w", w.prefix, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if hour := w.now().UTC().Format(hourLayout); hour != w.hour {
		if err := w.openLocked(hour); err != nil {
			return err
		}
	}
	line = append(line, '\n')
	if _, err := w.buf.Write(line); err != nil {
		return err
	}
	if err := w.buf.Flush(); err != nil {
		return err
	}
	// Flush emits a complete zstd block so readers can tail the segment.
	if err := w.enc.Flush(); err != nil {
		return err
	}
	w.lines++
	return nil
}

// Lines reports how many lines were written since the writer was created.
func (w *JSONLZstdWriter) Lines() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}

// Path returns the segment file for t.
func (w *JSONLZstdWriter) Path(t time.Time) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, t.UTC().Format(hourLayout)))
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return w.closeSegmentLocked()
}

func (w *JSONLZstdWriter) openLocked(hour string) error {
	if err := w.closeSegmentLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.file, w.enc, w.hour = f, enc, hour
	w.buf = bufio.NewWriterSize(enc, 64*1024)
	return nil
}

func (w *JSONLZstdWriter) closeSegmentLocked() error {
	if w.file == nil {
		return nil
	}
	var errs []error
	if err := w.buf.Flush(); err != nil {
		errs = append(errs, err)
	}
	if err := w.enc.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := w.file.Close(); err != nil {
		errs = append(errs, err)
	}
	w.file, w.enc, w.buf, w.hour = nil, nil, nil, ""
	return errors.Join(errs...)
}

// BreakLogger writes one compressed JSONL record per committed break.
type BreakLogger struct{ w *JSONLZstdWriter }

func NewBreakLogger(dataDir string) *BreakLogger {
	return &BreakLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "breaks"), "breaks")}
}

func (l *BreakLogger) WriteBreak(r world.BreakRecord) error { return l.w.Write(r) }
func (l *BreakLogger) Close() error                         { return l.w.Close() }
