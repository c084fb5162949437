package stream

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"brewchat/internal/agui"
)

// ErrWriterClosed is returned by Send after Done.
var ErrWriterClosed = errors.New("event stream already finished")

// Writer encodes events as `data:` frames. It is safe for concurrent use.
type Writer struct {
	mu    sync.Mutex
	w     io.Writer
	flush func() error
	done  bool
}

// NewWriter wraps w. When w is an http.ResponseWriter the streaming headers are
// set and every frame is flushed as soon as it is written, including through
// middleware that wraps the writer and exposes Unwrap.
func NewWriter(w io.Writer) *Writer {
	out := &Writer{w: w}
	switch rw := w.(type) {
	case http.ResponseWriter:
		h := rw.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		out.flush = http.NewResponseController(rw).Flush
	case http.Flusher:
		out.flush = func() error {
			rw.Flush()
			return nil
		}
	}
	return out
}

// Send writes one event frame.
func (w *Writer) Send(ev agui.Event) error {
	raw, err := agui.Encode(ev)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return ErrWriterClosed
	}
	return w.writeLocked(raw)
}

// Done writes the terminating sentinel. Later calls are no-ops.
func (w *Writer) Done() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return nil
	}
	w.done = true
	return w.writeLocked([]byte(DoneSentinel))
}

func (w *Writer) writeLocked(payload []byte) error {
	if _, err := fmt.Fprintf(w.w, "%s%s\n\n", DataPrefix, payload); err != nil {
		return fmt.Errorf("write event frame: %w", err)
	}
	if w.flush != nil {
		if err := w.flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return fmt.Errorf("flush event frame: %w", err)
		}
	}
	return nil
}
