// Package outqueue implements the A12 output queue: per-packet chained
// MAC, optional stream-cipher, and a double-buffered append/flush/poll
// cycle that never shrinks and grows to the next power of two.
package outqueue

import (
	"errors"
	"math/bits"

	"github.com/arcan-a12/a12/a12/crypto"
	"github.com/arcan-a12/a12/a12/protocol"
)

// ErrGrowth reports an output-buffer growth failure, which is session-
// fatal: the caller transitions to Broken.
var ErrGrowth = errors.New("outqueue: buffer growth failed")

// maxGrowth bounds a single buffer's size; allocation past this is
// treated as growth failure rather than attempted and left to panic.
const maxGrowth = 1 << 28

// Queue is the double-buffered outbound byte stream. It carries no
// internal locking: the surrounding Session is single-threaded per the
// protocol's concurrency model.
type Queue struct {
	bufs   [2][]byte
	cur    int
	offs   [2]int
	broken bool

	mac       *crypto.MACChain
	lastOut   [protocol.MACSize]byte
	encActive bool
	cipher    *crypto.Context
	nonceSeq  uint64
}

// New builds a Queue chained on the given MAC key.
func New(mac *crypto.MACChain) *Queue {
	return &Queue{mac: mac}
}

// EngageCipher atomically switches on the stream cipher: the very next
// Control or Event packet appended in this direction, and every one after,
// has its body sealed with AES-GCM after its MAC has been computed over
// the plaintext body (see sealable). This models EncNeg/Rekey's
// negotiated-result packet taking effect starting with the following
// packet, per the protocol's stream-cipher engagement note.
func (q *Queue) EngageCipher(c *crypto.Context) {
	q.cipher = c
	q.encActive = true
}

// Broken reports whether a fatal growth failure has occurred.
func (q *Queue) Broken() bool {
	return q.broken
}

// Append computes the chained MAC over (last outbound MAC || kind ||
// body), optionally seals body with the stream cipher, grows the
// current buffer to the next power of two that fits the packet, and
// writes MAC || kind || body.
func (q *Queue) Append(kind protocol.Kind, body []byte) error {
	if q.broken {
		return ErrGrowth
	}

	mac, err := q.mac.Next(q.lastOut, byte(kind), body)
	if err != nil {
		q.broken = true
		return err
	}
	q.lastOut = mac

	wire := body
	if q.encActive && q.cipher != nil && sealable(kind) {
		wire = q.seal(body)
	}

	need := q.offs[q.cur] + protocol.MACSize + 1 + len(wire)
	if err := q.grow(need); err != nil {
		q.broken = true
		return err
	}

	buf := q.bufs[q.cur]
	off := q.offs[q.cur]
	copy(buf[off:], mac[:])
	off += protocol.MACSize
	buf[off] = byte(kind)
	off++
	copy(buf[off:], wire)
	off += len(wire)
	q.offs[q.cur] = off

	return nil
}

// sealable reports whether kind's body is ever stream-ciphered. Video,
// Audio, and Blob bodies open with a cleartext sub-header (channel,
// stream id, length) that the framer must read before it knows how many
// more bytes to wait for; sealing them would hide that header behind
// ciphertext the framer can't yet decrypt. Only Control and Event bodies
// are self-delimited by their fixed/declared size, so only those kinds
// are ever sealed.
func sealable(kind protocol.Kind) bool {
	return kind == protocol.KindControl || kind == protocol.KindEvent
}

// seal encrypts body under a fresh per-packet nonce derived from the
// queue's own monotonic counter, prepending the nonce to the sealed
// output so the peer can recover it without a separate side channel.
func (q *Queue) seal(body []byte) []byte {
	nonce := make([]byte, q.cipher.NonceSize())
	protocol.ByteOrder.PutUint64(nonce[:8], q.nonceSeq)
	q.nonceSeq++

	sealed := q.cipher.Seal(nonce, body)
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out
}

// grow ensures the current buffer has room for need bytes total,
// doubling to the next power of two. The queue never shrinks.
func (q *Queue) grow(need int) error {
	cur := q.bufs[q.cur]
	if len(cur) >= need {
		return nil
	}
	if need > maxGrowth {
		return ErrGrowth
	}
	newSize := 1
	if need > 0 {
		newSize = 1 << bits.Len(uint(need-1))
	}
	grown := make([]byte, newSize)
	copy(grown, cur[:q.offs[q.cur]])
	q.bufs[q.cur] = grown
	return nil
}

// Flush returns the current buffer's written bytes and swaps to the
// other buffer, resetting its offset to zero. The caller must not retain
// the returned slice past the next Flush call: the next swap reuses that
// buffer.
func (q *Queue) Flush() []byte {
	if q.broken {
		return nil
	}
	off := q.offs[q.cur]
	if off == 0 {
		return nil
	}
	out := q.bufs[q.cur][:off]

	next := 1 - q.cur
	poisonOnSwap(q.bufs[next][:q.offs[next]])
	q.offs[next] = 0
	q.cur = next

	return out
}

// Status is the poll() result.
type Status int

const (
	StatusWaiting Status = iota
	StatusReady
	StatusBroken
)

// Poll reports Broken if the session is terminal, Ready if framerLeft
// (the framer's remaining-bytes-before-dispatch counter) is zero, and
// Waiting otherwise.
func (q *Queue) Poll(framerLeft int) Status {
	if q.broken {
		return StatusBroken
	}
	if framerLeft == 0 {
		return StatusReady
	}
	return StatusWaiting
}
