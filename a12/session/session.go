// Package session implements the A12 Session: the single cooperative
// state object combining the framer, channel table, video codec, and
// output queue into the external interface described in the protocol's
// data model.
package session

import (
	"crypto/rand"
	"errors"

	"github.com/arcan-a12/a12/a12/channel"
	"github.com/arcan-a12/a12/a12/crypto"
	"github.com/arcan-a12/a12/a12/event"
	"github.com/arcan-a12/a12/a12/outqueue"
	"github.com/arcan-a12/a12/a12/protocol"
	"github.com/arcan-a12/a12/a12/types"
	"github.com/arcan-a12/a12/a12/video"
)

// ErrDeadSession reports an operation attempted on a session that does
// not carry the alive cookie (never constructed, already closed, or
// corrupted).
var ErrDeadSession = errors.New("session: not alive")

// Logger is a minimal trace hook; nil disables logging. It is used only
// for diagnostics (descriptor-carrying events dropped, failure signals)
// and never influences protocol decisions.
type Logger func(format string, args ...any)

// Session is one A12 endpoint. All public operations assume exclusive
// access by a single caller; there is no internal locking, matching the
// single-threaded, cooperative concurrency model.
type Session struct {
	cookie uint32

	key      []byte
	channels channel.Table
	out      *outqueue.Queue
	mac      *crypto.MACChain
	cipher   *crypto.Context

	outSeq   uint64
	lastSeen uint64 // last inbound sequence number observed

	terminal bool
	logger   Logger

	// receive state
	decode      [65536]byte
	decodePos   int
	left        int
	state       recvState
	pendingKind protocol.Kind
	wireMAC     [protocol.MACSize]byte
	lastMACIn   [protocol.MACSize]byte

	videoPhase  videoPhase
	videoHeader [protocol.SubHeaderSize]byte
	videoChan   uint8
	videoStream uint32
	videoLen    int
}

type recvState int

const (
	recvNoPacket recvState = iota
	recvControl
	recvEvent
	recvSubstream // shared by Video/Audio/Blob
	recvBroken
)

type videoPhase int

const (
	phaseHeader videoPhase = iota
	phasePayload
)

func newSession(key []byte, logger Logger) (*Session, error) {
	mac, err := crypto.NewMACChain(key)
	if err != nil {
		return nil, err
	}
	keyCopy := make([]byte, len(key))
	copy(keyCopy, key)
	s := &Session{
		cookie: protocol.AliveCookie,
		key:    keyCopy,
		mac:    mac,
		out:    outqueue.New(mac),
		logger: logger,
		left:   protocol.OuterHeaderSize,
		state:  recvNoPacket,
	}
	return s, nil
}

// Open constructs an active-side Session: it emits an initial Hello
// control packet into the output queue as part of construction.
func Open(key []byte, logger Logger) (*Session, error) {
	s, err := newSession(key, logger)
	if err != nil {
		return nil, err
	}
	hello := make([]byte, protocol.ControlSize)
	hello[protocol.OffCommand] = byte(protocol.CmdHello)
	if err := s.stamped().Append(protocol.KindControl, hello); err != nil {
		return nil, err
	}
	return s, nil
}

// Build constructs a passive-side Session: no initial packet.
func Build(key []byte, logger Logger) (*Session, error) {
	return newSession(key, logger)
}

// alive reports whether s carries the construction-time alive cookie.
func (s *Session) alive() bool {
	return s != nil && s.cookie == protocol.AliveCookie
}

// usable reports whether public operations may still act on s: alive,
// not terminal, and the framer hasn't reached Broken. Once Broken, every
// operation no-ops and Flush returns nothing.
func (s *Session) usable() bool {
	return s.alive() && !s.terminal && s.state != recvBroken
}

// Close destroys the session exactly once: releases the output buffers
// and marks the session dead. Every subsequent public operation becomes
// a no-op.
func (s *Session) Close() {
	if !s.alive() {
		return
	}
	s.out = nil
	s.terminal = true
	s.cookie = protocol.DeadCookie
}

func (s *Session) log(format string, args ...any) {
	if s.logger != nil {
		s.logger(format, args...)
	}
}

// BindChannel attaches a destination sink to channel id.
func (s *Session) BindChannel(id uint8, sink types.Sink) {
	if !s.alive() {
		return
	}
	s.channels.Bind(id, sink)
}

// EnqueueEvent encodes ev as an Event packet and appends it to the
// output queue. Events requiring descriptor passing are rejected with a
// trace log; this core carries none in its catalog.
func (s *Session) EnqueueEvent(ev event.Event) error {
	if !s.usable() {
		return ErrDeadSession
	}
	if ev.HasDescriptor() {
		s.log("a12: dropping descriptor-carrying event")
		return nil
	}

	s.outSeq++
	body := make([]byte, 8+event.HeaderSize())
	protocol.ByteOrder.PutUint64(body[:8], s.outSeq)
	copy(body[8:], event.Pack(ev))

	return s.out.Append(protocol.KindEvent, body)
}

// EnqueueVideo encodes buf per opts on channel chid and appends the
// resulting control and data packets to the output queue.
func (s *Session) EnqueueVideo(chid uint8, buf types.VideoBuffer, opts types.EncodeOptions) error {
	if !s.usable() {
		return ErrDeadSession
	}
	entry := s.channels.Get(chid)
	return video.EnqueueVideo(entry, chid, buf, opts, s.stamped())
}

// stampedQueue decorates the output queue so every outbound control
// packet carries the session's last observed inbound sequence number and
// a fresh entropy block; the encoders that build control bodies don't
// track either.
type stampedQueue struct {
	s *Session
}

func (s *Session) stamped() stampedQueue {
	return stampedQueue{s: s}
}

func (q stampedQueue) Append(kind protocol.Kind, body []byte) error {
	if kind == protocol.KindControl && len(body) == protocol.ControlSize {
		protocol.ByteOrder.PutUint64(body[protocol.OffLastSeen:], q.s.lastSeen)
		rand.Read(body[protocol.OffEntropy : protocol.OffEntropy+8])
	}
	return q.s.out.Append(kind, body)
}

// Flush retrieves the next outbound batch and swaps the internal
// double-buffer. The caller must not retain the returned slice past the
// next Flush call.
func (s *Session) Flush() []byte {
	if !s.usable() {
		return nil
	}
	return s.out.Flush()
}

// PollStatus mirrors outqueue.Status for the public API.
type PollStatus = outqueue.Status

// Poll reports framer readiness: Broken if terminal, Ready if the framer
// is between packets, Waiting otherwise.
func (s *Session) Poll() PollStatus {
	if !s.alive() || s.terminal || s.state == recvBroken {
		return outqueue.StatusBroken
	}
	if s.state == recvNoPacket && s.decodePos == 0 {
		// Between packets: no byte of the next outer header has arrived.
		return s.out.Poll(0)
	}
	return s.out.Poll(s.left)
}

// Broken reports whether the framer has transitioned to its terminal
// state.
func (s *Session) Broken() bool {
	return s.state == recvBroken
}
