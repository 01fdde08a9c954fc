// Package video implements the postprocess pipelines: decoding
// reassembled video payload bytes into destination-surface pixels (raw
// RGBA/RGB/RGB565, Miniz, Delta-Miniz) and encoding outbound pixel
// buffers into the same wire formats.
package video

import (
	"bytes"
	"compress/flate"
	"errors"
	"io"

	"github.com/arcan-a12/a12/a12/channel"
	"github.com/arcan-a12/a12/a12/protocol"
	"github.com/arcan-a12/a12/a12/types"
)

// ErrExpandedOverrun reports a compressed video payload that would
// decompress past its declared expanded size; the frame is aborted, not
// the session.
var ErrExpandedOverrun = errors.New("video: decompressed payload exceeds declared expanded size")

// ErrUnknownPostprocess reports a postprocess tag outside the known
// catalog.
var ErrUnknownPostprocess = errors.New("video: unknown postprocess tag")

// FeedPayload delivers one Video sub-packet's payload bytes to entry's
// in-progress inbound frame. It returns true once the frame's declared
// payload has been fully consumed (whether or not it was discarded).
//
// Raw postprocess tags (RGBA/RGB/RGB565) decode directly into the sink
// as bytes arrive. Compressed tags (Miniz/DeltaMiniz) accumulate into
// the frame's inbound buffer and only run the streaming decompressor
// once the full declared compressed length has arrived.
func FeedPayload(entry *channel.Entry, payload []byte) (completed bool, err error) {
	vf := &entry.Inbound
	if !vf.IsActive() {
		return true, nil
	}

	if vf.Discarded() {
		vf.InBufPos += len(payload)
		return vf.InBufPos >= vf.CompressedSz, nil
	}

	if protocol.IsRaw(vf.Postprocess) {
		if entry.Sink == nil {
			vf.InBufPos += len(payload)
			return vf.InBufPos >= vf.CompressedSz, nil
		}
		if err := decodeRawChunk(vf, entry.Sink, payload); err != nil {
			vf.Discard()
			return false, err
		}
		vf.InBufPos += len(payload)
		done := vf.InBufPos >= vf.CompressedSz
		if done && vf.Commit == protocol.CommitSignal {
			entry.Sink.SignalVideo()
		}
		return done, nil
	}

	// Compressed: accumulate, then run the streaming decoder once the
	// whole declared payload has arrived.
	vf.InBuf = append(vf.InBuf, payload...)
	vf.InBufPos += len(payload)
	if vf.InBufPos < vf.CompressedSz {
		return false, nil
	}

	if entry.Sink != nil && !vf.Discarded() {
		if err := decodeCompressed(vf, entry.Sink); err != nil {
			vf.Discard()
			return true, err
		}
		if vf.Commit == protocol.CommitSignal {
			entry.Sink.SignalVideo()
		}
	}
	return true, nil
}

// decodeRawChunk decodes one chunk of raw pixel bytes, advancing the
// frame's row and output cursors across sub-region row boundaries.
func decodeRawChunk(vf *channel.VideoFrame, sink types.Sink, chunk []byte) error {
	stride := protocol.PixelSize(vf.Postprocess)
	pixels := sink.Pixels()
	pitch := sink.Pitch()

	for len(chunk) >= stride {
		px := decodeOnePixel(vf.Postprocess, chunk[:stride])
		if vf.OutPos >= 0 && vf.OutPos < len(pixels) {
			pixels[vf.OutPos] = px
		}
		vf.OutPos++
		chunk = chunk[stride:]

		vf.RowLeft--
		if vf.RowLeft == 0 {
			vf.OutPos += pitch - vf.RegionW
			vf.RowLeft = vf.RegionW
		}
	}
	return nil
}

func decodeOnePixel(pp protocol.Postprocess, b []byte) uint32 {
	switch pp {
	case protocol.PostprocessRGBA:
		return types.RGBA(b[0], b[1], b[2], b[3])
	case protocol.PostprocessRGB:
		return types.RGBA(b[0], b[1], b[2], 0xff)
	case protocol.PostprocessRGB565:
		word := uint16(b[0]) | uint16(b[1])<<8
		r := protocol.RGB565To8Bit5[(word>>11)&0x1f]
		g := protocol.RGB565To8Bit6[(word>>5)&0x3f]
		bl := protocol.RGB565To8Bit5[word&0x1f]
		return types.RGBA(r, g, bl, 0xff)
	default:
		return 0
	}
}

// decodeCompressed runs the streaming deflate decoder over vf.InBuf,
// applying the carry-buffer discipline for non-multiple-of-3 output
// chunks and enforcing the declared expanded-size cap.
func decodeCompressed(vf *channel.VideoFrame, sink types.Sink) error {
	r := flate.NewReader(bytes.NewReader(vf.InBuf))
	defer r.Close()

	pitch := sink.Pitch()
	pixels := sink.Pixels()
	xor := vf.Postprocess == protocol.PostprocessDeltaMiniz

	buf := make([]byte, 4096)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if err := consumeDecoded(vf, pixels, pitch, buf[:n], xor); err != nil {
				return err
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}
	return nil
}

// consumeDecoded applies one streaming-decoder output chunk: first top
// off the carry buffer to a full 3-byte pixel if one is pending, then
// consume runs of 3 bytes, then stash any 1-2 byte tail into carry.
func consumeDecoded(vf *channel.VideoFrame, pixels []uint32, pitch int, chunk []byte, xor bool) error {
	emit := func(r, g, b byte) error {
		if vf.RemainingExpanded() < 3 {
			return ErrExpandedOverrun
		}
		px := types.RGBA(r, g, b, 0xff)
		if vf.OutPos >= 0 && vf.OutPos < len(pixels) {
			if xor {
				pixels[vf.OutPos] ^= px
			} else {
				pixels[vf.OutPos] = px
			}
		}
		vf.OutPos++
		vf.AccountExpanded(3)

		vf.RowLeft--
		if vf.RowLeft == 0 {
			vf.OutPos += pitch - vf.RegionW
			vf.RowLeft = vf.RegionW
		}
		return nil
	}

	if vf.CarryLen > 0 {
		need := 3 - vf.CarryLen
		if need > len(chunk) {
			copy(vf.Carry[vf.CarryLen:], chunk)
			vf.CarryLen += len(chunk)
			return nil
		}
		copy(vf.Carry[vf.CarryLen:3], chunk[:need])
		if err := emit(vf.Carry[0], vf.Carry[1], vf.Carry[2]); err != nil {
			return err
		}
		chunk = chunk[need:]
		vf.CarryLen = 0
	}

	for len(chunk) >= 3 {
		if err := emit(chunk[0], chunk[1], chunk[2]); err != nil {
			return err
		}
		chunk = chunk[3:]
	}

	if len(chunk) > 0 {
		copy(vf.Carry[:], chunk)
		vf.CarryLen = len(chunk)
	}
	return nil
}
