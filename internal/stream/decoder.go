// Package stream recovers protocol events from a chunked `data:`-prefixed byte
// stream and writes them back out on the server side.
//
// Usage:
//
//	dec := stream.NewDecoder(ctx, resp.Body)
//	for dec.Next() {
//	    ev := dec.Event()
//	    // apply ev
//	}
//	if err := dec.Err(); err != nil {
//	    // handle error
//	}
package stream

import (
	"bytes"
	"context"
	"errors"
	"io"

	"goa.design/clue/log"

	"brewchat/internal/agui"
)

const (
	// DataPrefix starts every line that carries an event payload.
	DataPrefix = "data: "
	// DoneSentinel ends the logical event stream.
	DoneSentinel = "[DONE]"

	readChunkSize = 32 * 1024
)

// Framer turns successive chunks into events. It keeps one carry-over buffer
// holding the incomplete trailing line. Once the done sentinel is seen it
// produces nothing further.
type Framer struct {
	ctx     context.Context
	buf     []byte
	done    bool
	dropped int
}

// NewFramer returns an empty framer. ctx carries the logger used for dropped frames.
func NewFramer(ctx context.Context) *Framer {
	return &Framer{ctx: ctx}
}

// Push appends chunk to the buffer and returns the events completed by it.
func (f *Framer) Push(chunk []byte) []agui.Event {
	if f.done {
		return nil
	}
	f.buf = append(f.buf, chunk...)

	var out []agui.Event
	for !f.done {
		idx := bytes.IndexByte(f.buf, '\n')
		if idx < 0 {
			break
		}
		line := f.buf[:idx]
		f.buf = f.buf[idx+1:]
		if ev, ok := f.line(line); ok {
			out = append(out, ev)
		}
	}

	if f.done {
		f.buf = nil
	} else if len(f.buf) > 0 {
		f.buf = append([]byte(nil), f.buf...)
	}
	return out
}

// Flush parses whatever remains in the buffer once the source is exhausted.
func (f *Framer) Flush() []agui.Event {
	if f.done || len(bytes.TrimSpace(f.buf)) == 0 {
		f.buf = nil
		return nil
	}
	line := f.buf
	f.buf = nil
	if ev, ok := f.line(line); ok {
		return []agui.Event{ev}
	}
	return nil
}

// Done reports whether the done sentinel has been seen.
func (f *Framer) Done() bool {
	return f.done
}

// Dropped returns the number of malformed frames discarded so far.
func (f *Framer) Dropped() int {
	return f.dropped
}

func (f *Framer) line(raw []byte) (agui.Event, bool) {
	if !bytes.HasPrefix(raw, []byte(DataPrefix)) {
		return nil, false
	}
	payload := bytes.TrimSpace(raw[len(DataPrefix):])
	if string(payload) == DoneSentinel {
		f.done = true
		return nil, false
	}

	ev, err := agui.Decode(payload)
	if err != nil {
		f.dropped++
		log.Warn(f.ctx,
			log.KV{K: "msg", V: "dropping malformed event frame"},
			log.KV{K: "err", V: err.Error()},
			log.KV{K: "bytes", V: len(payload)},
		)
		return nil, false
	}
	return ev, true
}

// Decoder reads events lazily from r. It is single-use: a new run needs a new decoder.
type Decoder struct {
	ctx     context.Context
	r       io.Reader
	framer  *Framer
	chunk   []byte
	pending []agui.Event
	current agui.Event
	eof     bool
	err     error
}

// NewDecoder creates a decoder over r. Reads stop when ctx is canceled.
func NewDecoder(ctx context.Context, r io.Reader) *Decoder {
	return &Decoder{
		ctx:    ctx,
		r:      r,
		framer: NewFramer(ctx),
		chunk:  make([]byte, readChunkSize),
	}
}

// Next advances to the next event. It returns false when the source ends, the
// done sentinel is seen, ctx is canceled, or a read fails; call Err to tell
// these apart.
func (d *Decoder) Next() bool {
	d.current = nil
	for len(d.pending) == 0 {
		if d.eof || d.err != nil || d.framer.Done() {
			return false
		}
		if err := d.ctx.Err(); err != nil {
			d.err = err
			return false
		}

		n, err := d.r.Read(d.chunk)
		if n > 0 {
			d.pending = append(d.pending, d.framer.Push(d.chunk[:n])...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.eof = true
				d.pending = append(d.pending, d.framer.Flush()...)
				continue
			}
			if ctxErr := d.ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			d.err = err
		}
	}

	d.current = d.pending[0]
	d.pending = d.pending[1:]
	return true
}

// Event returns the event read by the last successful Next.
func (d *Decoder) Event() agui.Event {
	return d.current
}

// Err returns the error that stopped decoding, or nil after a clean end.
func (d *Decoder) Err() error {
	return d.err
}

// Dropped returns the number of malformed frames discarded so far.
func (d *Decoder) Dropped() int {
	return d.framer.Dropped()
}
