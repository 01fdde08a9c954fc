// Package driver implements the stdio transport pump that exercises an
// a12/session.Session end to end: feed incoming bytes from a reader into
// the session, drain the session's outbound queue to a writer. This is
// the "external collaborator" boundary the core's protocol explicitly
// leaves out of scope (transport establishment, key exchange) — the
// driver only assumes it has already been handed a connected,
// byte-oriented, ordered pipe.
package driver

import (
	"errors"
	"io"
	"log"
	"os"

	"github.com/arcan-a12/a12/a12/event"
	"github.com/arcan-a12/a12/a12/session"
)

// ErrIsTTY reports that a descriptor meant to carry the wire stream is
// attached to a terminal; binary protocol traffic on a TTY is never
// intentional.
var ErrIsTTY = errors.New("driver: stdin/stdout must not be a TTY")

// readChunk is the buffer size for each stdin read; Session.Feed accepts
// any fragmentation so this is purely a throughput knob.
const readChunk = 65536

// Pump feeds in into sess.Feed and drains sess.Flush to out until in is
// exhausted, the session goes Broken, or ctx-less cancellation is
// requested by the caller closing in. onEvent is forwarded verbatim to
// Session.Feed.
type Pump struct {
	Session *session.Session
	In      io.Reader
	Out     io.Writer
	OnEvent func(chid uint8, ev event.Event, tag any)
	Logger  func(format string, args ...any)
}

// CheckNotTTY rejects a Pump whose In/Out are *os.File terminals before
// entering client or server mode.
func CheckNotTTY(in, out *os.File) error {
	if isTTY(in) || isTTY(out) {
		return ErrIsTTY
	}
	return nil
}

func isTTY(f *os.File) bool {
	if f == nil {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func (p *Pump) log(format string, args ...any) {
	if p.Logger != nil {
		p.Logger(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Run drives the pump until In returns io.EOF, a read error occurs, or
// the session becomes terminal. A session closed out from under the pump
// (the CLI's signal handler) counts as a normal shutdown, not an error.
func (p *Pump) Run() error {
	buf := make([]byte, readChunk)
	for {
		if p.Session.Broken() {
			p.flushOnce()
			return nil
		}

		n, err := p.In.Read(buf)
		if n > 0 {
			if ferr := p.Session.Feed(buf[:n], p.OnEvent, nil); ferr != nil {
				if errors.Is(ferr, session.ErrDeadSession) {
					return nil
				}
				p.log("a12: feed error: %v", ferr)
				return ferr
			}
			if werr := p.flushOnce(); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// flushOnce drains every pending outbound batch to Out. Flush's borrow
// discipline (the returned slice is only valid until the next Flush) is
// respected here: each batch is written before the next Flush call.
func (p *Pump) flushOnce() error {
	for {
		out := p.Session.Flush()
		if len(out) == 0 {
			return nil
		}
		if _, err := p.Out.Write(out); err != nil {
			return err
		}
	}
}
