// Package codec reads and writes the domain types over a buffered
// byte window in the fixed big-endian wire format.
package codec

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// DefaultWindowSize is the per-connection buffer pre-allocation.
const DefaultWindowSize = 64 * 1024

// DecodeError reports malformed bytes on the wire.  It is fatal for
// the frame; the connection must be closed.
type DecodeError struct {
	Msg string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode: %s", e.Msg)
}

// Window is a contiguous byte buffer over a stream.  Reads block
// until the requested bytes are resident; writes accumulate until
// Flush.  A Window is owned by a single goroutine.
type Window struct {
	conn io.ReadWriter
	rbuf []byte // resident unread bytes
	roff int
	wbuf []byte
}

func NewWindow(conn io.ReadWriter, size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{
		conn: conn,
		rbuf: make([]byte, 0, size),
		wbuf: make([]byte, 0, size),
	}
}

// Need blocks until at least n unread bytes are resident, paging in
// from the underlying stream.  Cancellation is observed between
// reads; a cancelled window is no longer usable.
func (w *Window) Need(ctx context.Context, n int) (err error) {
	for len(w.rbuf)-w.roff < n {
		if err = ctx.Err(); err != nil {
			return err
		}
		if w.roff > 0 && w.roff == len(w.rbuf) {
			w.rbuf = w.rbuf[:0]
			w.roff = 0
		}
		chunk := make([]byte, 4096)
		var got int
		got, err = w.conn.Read(chunk)
		if got > 0 {
			w.rbuf = append(w.rbuf, chunk[:got]...)
		}
		if err != nil {
			if err == io.EOF && len(w.rbuf)-w.roff >= n {
				return nil
			}
			return errors.Wrap(err, "window page-in")
		}
	}
	return nil
}

// take returns the next n resident bytes and advances the offset.
// Callers must Need(n) first.
func (w *Window) take(n int) []byte {
	b := w.rbuf[w.roff : w.roff+n]
	w.roff += n
	return b
}

// put appends raw bytes to the pending write buffer.
func (w *Window) put(b []byte) {
	w.wbuf = append(w.wbuf, b...)
}

// Flush writes all pending bytes to the stream.
func (w *Window) Flush(ctx context.Context) (err error) {
	if err = ctx.Err(); err != nil {
		return err
	}
	for len(w.wbuf) > 0 {
		var n int
		n, err = w.conn.Write(w.wbuf)
		w.wbuf = w.wbuf[n:]
		if err != nil {
			return errors.Wrap(err, "window flush")
		}
	}
	w.wbuf = w.wbuf[:0]
	return nil
}

// Pending returns the number of bytes waiting for Flush.
func (w *Window) Pending() int {
	return len(w.wbuf)
}
