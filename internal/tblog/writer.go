// Package tblog provides append-only scalar event sinks in the
// tensorboard directory layout: one run file per writer under
// {root}/{name}/{type}/{training|validation}.
package tblog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one logged scalar.
type Event struct {
	WallTime int64   `json:"wall_time_unix_ms"`
	Step     int     `json:"step"`
	Tag      string  `json:"tag"`
	Value    float32 `json:"value"`
}

// Writer appends scalar events to a single run file. Safe for
// concurrent use.
type Writer struct {
	mu  sync.Mutex
	f   *os.File
	buf *bufio.Writer
	now func() time.Time
}

// NewWriter creates the run directory and opens a fresh event file
// named with a random run id.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "events-"+uuid.NewString()+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Writer{f: f, buf: bufio.NewWriter(f), now: time.Now}, nil
}

// Path returns the event file path.
func (w *Writer) Path() string { return w.f.Name() }

// Scalar appends one event.
func (w *Writer) Scalar(step int, tag string, value float32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	line, err := json.Marshal(Event{
		WallTime: w.now().UnixMilli(),
		Step:     step,
		Tag:      tag,
		Value:    value,
	})
	if err != nil {
		return err
	}
	if _, err := w.buf.Write(line); err != nil {
		return err
	}
	return w.buf.WriteByte('\n')
}

// Flush forces buffered events to disk.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Flush()
}

// Close flushes and closes the event file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}
