// Package types holds the shared data shapes the A12 core exchanges with
// its surrounding driver: the destination Sink interface, outbound video
// buffers, and encode options.
package types

import "github.com/arcan-a12/a12/a12/protocol"

// Sink is the abstract destination surface bound to a channel. The core
// never allocates or frees a Sink; it is owned by the caller and written
// to through this interface only.
type Sink interface {
	// Width, Height, Pitch describe the current backing store. Pitch is
	// in pixels per row and may exceed Width.
	Width() int
	Height() int
	Pitch() int

	// Pixels returns the writable pixel array in native 32-bit ARGB
	// layout, packed via RGBA and unpacked via RGBADecompose below.
	Pixels() []uint32

	// Resize requests a backing-store change; ok is false if refused, in
	// which case the caller forces the in-progress frame into discard.
	Resize(w, h int) (ok bool)

	// SignalVideo publishes a completed frame (commit == 1).
	SignalVideo()

	// EnqueueEvent routes a decoded event to the sink bound to this
	// channel.
	EnqueueEvent(ev any)
}

// RGBA packs 8-bit channels into one sink pixel. The byte layout is the
// sink's own; only RGBA/RGBADecompose need to agree, and they must
// round-trip.
func RGBA(r, g, b, a uint8) uint32 {
	return uint32(a)<<24 | uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

// RGBADecompose is the inverse of RGBA.
func RGBADecompose(px uint32) (r, g, b, a uint8) {
	return uint8(px >> 16), uint8(px >> 8), uint8(px), uint8(px >> 24)
}

// VideoBuffer is a caller-owned outbound pixel buffer passed to
// EnqueueVideo. Pitch may exceed Width to express row padding in the
// backing store.
type VideoBuffer struct {
	Width  int
	Height int
	Pitch  int // pixels per row in Pixels
	Pixels []uint32

	// Region is the sub-rectangle to encode; a zero Region means the
	// whole buffer.
	Region Rect

	IgnoreAlpha    bool
	OriginLowerLeft bool
	SRGB           bool
	SubregionValid bool
	VPTS           uint64
}

// Rect is a pixel-space sub-region.
type Rect struct {
	X, Y, W, H int
}

// EncodeMethod selects the video encoder's postprocess pipeline.
type EncodeMethod int

const (
	// EncodeRGBA is the default: raw 4-byte pixels.
	EncodeRGBA EncodeMethod = iota
	EncodeRGB
	EncodeRGB565
	EncodeDeltaDeflate
)

// EncodeOptions configures one EnqueueVideo call.
type EncodeOptions struct {
	Method  EncodeMethod
	ChunkSz int // packet payload cap; 0 selects protocol.MaxChunkSize
}

// ChunkSize resolves the chunk size an EncodeOptions selects.
func (o EncodeOptions) ChunkSize() int {
	if o.ChunkSz <= 0 || o.ChunkSz > protocol.MaxChunkSize {
		return protocol.MaxChunkSize
	}
	return o.ChunkSz
}

// Postprocess maps an EncodeMethod to its wire postprocess tag for a
// single (non-delta) frame; delta selection additionally depends on frame
// cadence and is resolved by the encoder itself.
func (m EncodeMethod) Postprocess() protocol.Postprocess {
	switch m {
	case EncodeRGB:
		return protocol.PostprocessRGB
	case EncodeRGB565:
		return protocol.PostprocessRGB565
	case EncodeDeltaDeflate:
		return protocol.PostprocessDeltaMiniz
	default:
		return protocol.PostprocessRGBA
	}
}
