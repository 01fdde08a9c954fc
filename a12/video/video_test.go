package video

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcan-a12/a12/a12/channel"
	"github.com/arcan-a12/a12/a12/crypto"
	"github.com/arcan-a12/a12/a12/outqueue"
	"github.com/arcan-a12/a12/a12/protocol"
	"github.com/arcan-a12/a12/a12/types"
)

// fakeSink is a minimal in-memory types.Sink for round-trip tests.
type fakeSink struct {
	w, h     int
	pitch    int
	pixels   []uint32
	signaled int
}

func newFakeSink(w, h int) *fakeSink {
	return &fakeSink{w: w, h: h, pitch: w, pixels: make([]uint32, w*h)}
}

func (s *fakeSink) Width() int       { return s.w }
func (s *fakeSink) Height() int      { return s.h }
func (s *fakeSink) Pitch() int       { return s.pitch }
func (s *fakeSink) Pixels() []uint32 { return s.pixels }
func (s *fakeSink) Resize(w, h int) bool {
	s.w, s.h, s.pitch = w, h, w
	s.pixels = make([]uint32, w*h)
	return true
}
func (s *fakeSink) SignalVideo()        { s.signaled++ }
func (s *fakeSink) EnqueueEvent(ev any) {}

func newTestQueue(t *testing.T) *outqueue.Queue {
	t.Helper()
	mac, err := crypto.NewMACChain(make([]byte, 32))
	require.NoError(t, err)
	return outqueue.New(mac)
}

func TestRGBARoundTrip(t *testing.T) {
	w, h := 4, 2
	src := newFakeSink(w, h)
	pattern := []uint32{
		types.RGBA(0xff, 0, 0, 0xff), types.RGBA(0, 0xff, 0, 0xff),
		types.RGBA(0, 0, 0xff, 0xff), types.RGBA(0xff, 0xff, 0xff, 0xff),
		types.RGBA(0, 0, 0, 0xff), types.RGBA(0x80, 0x80, 0x80, 0xff),
		types.RGBA(0x80, 0, 0, 0x80), types.RGBA(0, 0x80, 0, 0xff),
	}
	copy(src.pixels, pattern)

	entry := &channel.Entry{}
	q := newTestQueue(t)
	buf := types.VideoBuffer{Width: w, Height: h, Pitch: w, Pixels: src.pixels}
	require.NoError(t, EnqueueVideo(entry, 0, buf, types.EncodeOptions{Method: types.EncodeRGBA, ChunkSz: 32768}, q))

	out := q.Flush()
	ctrl, rest := splitOnePacket(t, out)
	require.Equal(t, byte(protocol.CmdVideoFrame), ctrl[protocol.OffCommand])
	expandedLen := protocol.ByteOrder.Uint32(ctrl[protocol.OffExpandedLen:])
	require.EqualValues(t, w*h*4, expandedLen)

	dst := newFakeSink(w, h)
	vf := channel.VideoFrame{
		Postprocess:  protocol.PostprocessRGBA,
		RegionW:      w,
		RegionH:      h,
		RowLeft:      w,
		OutPos:       0,
		CompressedSz: w * h * 4,
		ExpandedSz:   w * h * 4,
		Commit:       protocol.CommitSignal,
	}
	dstEntry := installFrame(dst, vf)

	_, videoKind, payload := splitVideoPacket(t, rest)
	require.Equal(t, byte(protocol.KindVideo), videoKind)
	done, err := FeedPayload(dstEntry, payload)
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, 1, dst.signaled)
	require.Equal(t, pattern, dst.pixels)
}

func TestRGB565Quantization(t *testing.T) {
	src := newFakeSink(1, 1)
	src.pixels[0] = types.RGBA(255, 255, 255, 255)

	entry := &channel.Entry{}
	q := newTestQueue(t)
	buf := types.VideoBuffer{Width: 1, Height: 1, Pitch: 1, Pixels: src.pixels}
	require.NoError(t, EnqueueVideo(entry, 0, buf, types.EncodeOptions{Method: types.EncodeRGB565, ChunkSz: 1024}, q))

	out := q.Flush()
	_, rest := splitOnePacket(t, out)
	_, _, payload := splitVideoPacket(t, rest)
	require.Len(t, payload, 2)
	word := protocol.ByteOrder.Uint16(payload)
	require.Equal(t, uint16(0xffff), word)

	dst := newFakeSink(1, 1)
	dstEntry := installFrame(dst, channel.VideoFrame{
		Postprocess: protocol.PostprocessRGB565, RegionW: 1, RegionH: 1,
		RowLeft: 1, CompressedSz: 2, ExpandedSz: 2, Commit: protocol.CommitSignal,
	})
	done, err := FeedPayload(dstEntry, payload)
	require.NoError(t, err)
	require.True(t, done)
	r, g, b, a := types.RGBADecompose(dst.pixels[0])
	require.Equal(t, [4]uint8{255, 255, 255, 255}, [4]uint8{r, g, b, a})
}

func TestDeltaKeyframeCadence(t *testing.T) {
	w, h := 16, 16
	pixels := make([]uint32, w*h)
	for i := range pixels {
		pixels[i] = types.RGBA(10, 20, 30, 255)
	}
	buf := types.VideoBuffer{Width: w, Height: h, Pitch: w, Pixels: pixels}

	entry := &channel.Entry{}
	q := newTestQueue(t)

	var postprocesses []protocol.Postprocess
	for i := 0; i < 8; i++ {
		require.NoError(t, EnqueueVideo(entry, 0, buf, types.EncodeOptions{Method: types.EncodeDeltaDeflate, ChunkSz: 65535}, q))
		out := q.Flush()
		ctrl, _ := splitOnePacket(t, out)
		postprocesses = append(postprocesses, protocol.Postprocess(ctrl[protocol.OffPostprocess]))
	}

	expect := []protocol.Postprocess{
		protocol.PostprocessMiniz, protocol.PostprocessDeltaMiniz, protocol.PostprocessDeltaMiniz,
		protocol.PostprocessDeltaMiniz, protocol.PostprocessDeltaMiniz, protocol.PostprocessDeltaMiniz,
		protocol.PostprocessMiniz, protocol.PostprocessDeltaMiniz,
	}
	require.Equal(t, expect, postprocesses)
}

func TestDiscardedFrameDrainsWithoutSignal(t *testing.T) {
	dst := newFakeSink(1, 1)
	dstEntry := installFrame(dst, channel.VideoFrame{
		Postprocess: protocol.PostprocessRGBA, RegionW: 1, RegionH: 1,
		RowLeft: 1, CompressedSz: 4, ExpandedSz: 4, Commit: protocol.CommitDiscard,
	})
	require.True(t, dstEntry.Inbound.Discarded())

	payload := []byte{0xff, 0xff, 0xff, 0xff}
	done, err := FeedPayload(dstEntry, payload)
	require.NoError(t, err)
	require.True(t, done)

	require.Zero(t, dst.signaled)
	require.Equal(t, make([]uint32, 1), dst.pixels) // untouched
}

func TestExpandedOverrunAbortsFrame(t *testing.T) {
	w, h := 16, 16
	pixels := make([]uint32, w*h)
	for i := range pixels {
		pixels[i] = types.RGBA(byte(i), byte(i*2), byte(i*3), 255)
	}
	buf := types.VideoBuffer{Width: w, Height: h, Pitch: w, Pixels: pixels}

	entry := &channel.Entry{}
	q := newTestQueue(t)
	require.NoError(t, EnqueueVideo(entry, 0, buf, types.EncodeOptions{Method: types.EncodeDeltaDeflate, ChunkSz: 65535}, q))

	out := q.Flush()
	ctrl, rest := splitOnePacket(t, out)
	require.Equal(t, byte(protocol.PostprocessMiniz), ctrl[protocol.OffPostprocess])
	_, _, payload := splitVideoPacket(t, rest)

	dst := newFakeSink(w, h)

	// Declare a far smaller expanded size than the frame actually
	// decompresses to (one pixel's worth), so consumeDecoded's
	// RemainingExpanded check trips right after the first pixel.
	dstEntry := installFrame(dst, channel.VideoFrame{
		Postprocess: protocol.PostprocessMiniz, RegionW: w, RegionH: h,
		RowLeft: w, CompressedSz: len(payload), ExpandedSz: 3,
		Commit: protocol.CommitSignal,
	})

	done, err := FeedPayload(dstEntry, payload)
	require.ErrorIs(t, err, ErrExpandedOverrun)
	require.True(t, done)
	require.Zero(t, dst.signaled)
	require.NotZero(t, dst.pixels[0]) // the one pixel within the declared cap landed
	for _, px := range dst.pixels[1:] {
		require.Zero(t, px) // never written past the declared cap
	}
}

// --- test helpers ---

func installFrame(sink types.Sink, vf channel.VideoFrame) *channel.Entry {
	tbl := &channel.Table{}
	tbl.Bind(0, sink)
	tbl.BeginVideoFrame(0, vf)
	return tbl.Get(0)
}

func splitOnePacket(t *testing.T, stream []byte) (body []byte, rest []byte) {
	t.Helper()
	require.GreaterOrEqual(t, len(stream), protocol.OuterHeaderSize+protocol.ControlSize)
	kind := stream[protocol.MACSize]
	require.Equal(t, byte(protocol.KindControl), kind)
	body = stream[protocol.OuterHeaderSize : protocol.OuterHeaderSize+protocol.ControlSize]
	rest = stream[protocol.OuterHeaderSize+protocol.ControlSize:]
	return body, rest
}

func splitVideoPacket(t *testing.T, stream []byte) (header []byte, kind byte, payload []byte) {
	t.Helper()
	require.GreaterOrEqual(t, len(stream), protocol.OuterHeaderSize+protocol.VideoHeaderSize)
	kind = stream[protocol.MACSize]
	sub := stream[protocol.OuterHeaderSize:]
	length := protocol.ByteOrder.Uint16(sub[5:7])
	payload = sub[protocol.VideoHeaderSize : protocol.VideoHeaderSize+int(length)]
	return sub[:protocol.VideoHeaderSize], kind, payload
}
