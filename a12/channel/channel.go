// Package channel implements the 256-entry channel table: per-channel
// decode state for inbound video frame reassembly and destination sink
// binding, plus the encoder-side accumulation and XOR scratch buffers
// used by the delta-deflate encoder.
package channel

import (
	"github.com/arcan-a12/a12/a12/protocol"
	"github.com/arcan-a12/a12/a12/types"
)

// VideoFrame is the in-progress inbound video-frame descriptor for one
// channel.
type VideoFrame struct {
	StreamID uint32

	SurfaceW, SurfaceH int
	RegionX, RegionY   int
	RegionW, RegionH   int

	Postprocess protocol.Postprocess
	Commit      protocol.Commit

	// Decode buffer for compressed postprocess tags (Miniz/DeltaMiniz):
	// accumulates the declared-length compressed payload before the
	// streaming decompressor runs over it.
	InBuf    []byte
	InBufPos int

	CompressedSz int
	ExpandedSz   int
	expandedOut  int // bytes actually written to the destination so far

	RowLeft int
	OutPos  int

	// Carry buffer for decompressor output that isn't a multiple of the
	// pixel stride across streaming callbacks.
	Carry    [4]byte
	CarryLen int

	active bool
}

// IsActive reports whether a VideoFrame control packet has set up this
// descriptor and it hasn't yet been ended or cancelled. A discarded
// descriptor stays active while its remaining declared bytes are drained.
func (f *VideoFrame) IsActive() bool { return f.active }

// Discard forces the descriptor into the sticky commit=255 state: all
// further declared bytes are drained and ignored.
func (f *VideoFrame) Discard() {
	f.Commit = protocol.CommitDiscard
}

// Discarded reports the sticky discard state.
func (f *VideoFrame) Discarded() bool {
	return f.Commit == protocol.CommitDiscard
}

// RemainingExpanded is how many more decoded bytes this frame may accept
// before it hits its declared ExpandedSz cap.
func (f *VideoFrame) RemainingExpanded() int {
	return f.ExpandedSz - f.expandedOut
}

// AccountExpanded records n more decoded bytes written to the
// destination surface.
func (f *VideoFrame) AccountExpanded(n int) {
	f.expandedOut += n
}

// Entry is one slot of the 256-entry channel table.
type Entry struct {
	Active bool
	Sink   types.Sink

	Inbound VideoFrame

	// Encoder-side scratch, populated lazily on first EnqueueVideo call
	// for this channel.
	Accum      []byte // tightly packed RGB of the last sent frame
	XORScratch []byte
	FrameCount int // frames sent on this channel, drives delta I-frame cadence
}

// Table is the fixed 256-entry per-session channel table.
type Table struct {
	entries [protocol.ChannelCount]Entry
}

// Get returns a pointer to channel id's entry. Callers must range-check
// id themselves (0..255); the framer guarantees this from the wire byte.
func (t *Table) Get(id uint8) *Entry {
	return &t.entries[id]
}

// Activate marks channel id active. Matches the resolved semantics of
// the NewChannel control command: it allocates/marks the channel active
// and carries no stream id of its own (see DESIGN.md's Open Questions
// entry for the ambiguous case-5 branch in the reference source).
func (t *Table) Activate(id uint8) {
	t.entries[id].Active = true
}

// Bind attaches a destination sink to channel id. Prior to binding,
// inbound video data for the channel is silently discarded.
func (t *Table) Bind(id uint8, sink types.Sink) {
	t.entries[id].Sink = sink
}

// CancelStream aborts any in-progress inbound video frame on channel id.
func (t *Table) CancelStream(id uint8) {
	t.entries[id].Inbound = VideoFrame{}
}

// BeginVideoFrame installs vf as channel id's in-progress inbound video
// frame, replacing whatever was there before (at most one in-progress
// inbound frame per channel).
func (t *Table) BeginVideoFrame(id uint8, vf VideoFrame) {
	vf.active = true
	t.entries[id].Inbound = vf
}

// EndVideoFrame clears channel id's in-progress inbound video frame,
// either because it completed or because a new control packet
// superseded it.
func (t *Table) EndVideoFrame(id uint8) {
	t.entries[id].Inbound = VideoFrame{}
}
