package video

import (
	"bytes"
	"compress/flate"

	"github.com/arcan-a12/a12/a12/channel"
	"github.com/arcan-a12/a12/a12/protocol"
	"github.com/arcan-a12/a12/a12/types"
)

// IFrameInterval is the I-frame period on a delta-deflate channel: a full
// I-frame is sent every IFrameInterval frames, so at most
// IFrameInterval-1 delta frames lie between two I-frames.
const IFrameInterval = 6

// Queue is the packet surface the encoder writes into: outqueue.Queue,
// or the session's wrapper that stamps control-packet fields the encoder
// doesn't track.
type Queue interface {
	Append(kind protocol.Kind, body []byte) error
}

// EnqueueVideo encodes buf per opts and writes the resulting VideoFrame
// control packet plus its chunked data packets into q. entry carries the
// per-channel encoder-side scratch (accumulation/XOR buffers, stream id
// counter) that persists across calls.
func EnqueueVideo(entry *channel.Entry, chid uint8, buf types.VideoBuffer, opts types.EncodeOptions, q Queue) error {
	region := buf.Region
	if region == (types.Rect{}) {
		region = types.Rect{X: 0, Y: 0, W: buf.Width, H: buf.Height}
	}

	entry.FrameCount++
	streamID := uint32(entry.FrameCount)

	if opts.Method == types.EncodeDeltaDeflate {
		return enqueueDelta(entry, chid, streamID, buf, region, opts, q)
	}
	return enqueueRaw(entry, chid, streamID, buf, region, opts, q)
}

func enqueueRaw(entry *channel.Entry, chid uint8, streamID uint32, buf types.VideoBuffer, region types.Rect, opts types.EncodeOptions, q Queue) error {
	pp := opts.Method.Postprocess()
	pixelSize := protocol.PixelSize(pp)
	total := region.W * region.H * pixelSize

	ctrl := buildVideoFrameControl(chid, streamID, pp, buf, region, total, total, protocol.CommitSignal)
	if err := q.Append(protocol.KindControl, ctrl); err != nil {
		return err
	}

	chunkSz := opts.ChunkSize()
	ppb := (chunkSz - protocol.VideoHeaderSize) / pixelSize
	if ppb < 1 {
		ppb = 1
	}
	bpb := ppb * pixelSize

	raw := make([]byte, 0, total)
	cursor := region.Y*buf.Pitch + region.X
	for row := 0; row < region.H; row++ {
		for col := 0; col < region.W; col++ {
			px := buf.Pixels[cursor+col]
			raw = appendRawPixel(raw, pp, px, buf.IgnoreAlpha)
		}
		cursor += buf.Pitch
	}

	return chunkPack(q, chid, streamID, raw, bpb)
}

func appendRawPixel(dst []byte, pp protocol.Postprocess, px uint32, ignoreAlpha bool) []byte {
	r, g, b, a := types.RGBADecompose(px)
	if ignoreAlpha {
		a = 0xff
	}
	switch pp {
	case protocol.PostprocessRGBA:
		return append(dst, r, g, b, a)
	case protocol.PostprocessRGB:
		return append(dst, r, g, b)
	case protocol.PostprocessRGB565:
		word := (uint16(b>>3) & 0x1f) | ((uint16(g>>2) & 0x3f) << 5) | ((uint16(r>>3) & 0x1f) << 11)
		return append(dst, byte(word), byte(word>>8))
	default:
		return dst
	}
}

// chunkPack slices raw into video packets of at most video_header_sz+bpb
// bytes each (bpb sized to the raw/delta caller's per-packet capacity),
// writing a trailing short packet for any remainder.
func chunkPack(q Queue, chid uint8, streamID uint32, raw []byte, bpb int) error {
	if bpb < 1 {
		bpb = 1
	}
	for len(raw) > 0 {
		n := bpb
		if n > len(raw) {
			n = len(raw)
		}
		body := make([]byte, protocol.VideoHeaderSize+n)
		body[0] = chid
		protocol.ByteOrder.PutUint32(body[1:5], streamID)
		protocol.ByteOrder.PutUint16(body[5:7], uint16(n))
		copy(body[protocol.VideoHeaderSize:], raw[:n])

		if err := q.Append(protocol.KindVideo, body); err != nil {
			return err
		}
		raw = raw[n:]
	}
	return nil
}

func enqueueDelta(entry *channel.Entry, chid uint8, streamID uint32, buf types.VideoBuffer, region types.Rect, opts types.EncodeOptions, q Queue) error {
	cur := make([]byte, region.W*region.H*3)
	cursor := region.Y*buf.Pitch + region.X
	idx := 0
	for row := 0; row < region.H; row++ {
		for col := 0; col < region.W; col++ {
			r, g, b, _ := types.RGBADecompose(buf.Pixels[cursor+col])
			cur[idx], cur[idx+1], cur[idx+2] = r, g, b
			idx += 3
		}
		cursor += buf.Pitch
	}

	geometryChanged := len(entry.Accum) != len(cur)
	needIFrame := geometryChanged || (entry.FrameCount-1)%IFrameInterval == 0

	var payload []byte
	var pp protocol.Postprocess
	if needIFrame {
		pp = protocol.PostprocessMiniz
		payload = cur
		entry.Accum = append([]byte(nil), cur...)
	} else {
		pp = protocol.PostprocessDeltaMiniz
		if len(entry.XORScratch) != len(cur) {
			entry.XORScratch = make([]byte, len(cur))
		}
		for i := range cur {
			entry.XORScratch[i] = entry.Accum[i] ^ cur[i]
		}
		payload = entry.XORScratch
		entry.Accum = append(entry.Accum[:0], cur...)
	}

	compressed, err := deflate(payload)
	if err != nil {
		return err
	}

	ctrl := buildVideoFrameControl(chid, streamID, pp, buf, region, len(compressed), len(cur), protocol.CommitSignal)
	if err := q.Append(protocol.KindControl, ctrl); err != nil {
		return err
	}

	return chunkPack(q, chid, streamID, compressed, opts.ChunkSize()-protocol.VideoHeaderSize)
}

func deflate(in []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(in); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildVideoFrameControl(chid uint8, streamID uint32, pp protocol.Postprocess, buf types.VideoBuffer, region types.Rect, compressedLen, expandedLen int, commit protocol.Commit) []byte {
	body := make([]byte, protocol.ControlSize)
	body[protocol.OffChannel] = chid
	body[protocol.OffCommand] = byte(protocol.CmdVideoFrame)
	protocol.ByteOrder.PutUint32(body[protocol.OffStreamID:], streamID)
	body[protocol.OffPostprocess] = byte(pp)
	protocol.ByteOrder.PutUint16(body[protocol.OffSurfaceW:], uint16(buf.Width))
	protocol.ByteOrder.PutUint16(body[protocol.OffSurfaceH:], uint16(buf.Height))
	protocol.ByteOrder.PutUint16(body[protocol.OffRegionX:], uint16(region.X))
	protocol.ByteOrder.PutUint16(body[protocol.OffRegionY:], uint16(region.Y))
	protocol.ByteOrder.PutUint16(body[protocol.OffRegionW:], uint16(region.W))
	protocol.ByteOrder.PutUint16(body[protocol.OffRegionH:], uint16(region.H))
	protocol.ByteOrder.PutUint32(body[protocol.OffPayloadLen:], uint32(compressedLen))
	protocol.ByteOrder.PutUint32(body[protocol.OffExpandedLen:], uint32(expandedLen))
	body[protocol.OffCommit] = byte(commit)
	return body
}
