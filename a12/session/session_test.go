package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcan-a12/a12/a12/event"
	"github.com/arcan-a12/a12/a12/protocol"
	"github.com/arcan-a12/a12/a12/types"
)

func testKey() []byte {
	return make([]byte, 32)
}

// memSink is an in-memory types.Sink for end-to-end feed tests.
type memSink struct {
	w, h     int
	pixels   []uint32
	signaled int
	refuse   bool
}

func newMemSink(w, h int) *memSink {
	return &memSink{w: w, h: h, pixels: make([]uint32, w*h)}
}

func (s *memSink) Width() int       { return s.w }
func (s *memSink) Height() int      { return s.h }
func (s *memSink) Pitch() int       { return s.w }
func (s *memSink) Pixels() []uint32 { return s.pixels }
func (s *memSink) Resize(w, h int) bool {
	if s.refuse {
		return false
	}
	s.w, s.h = w, h
	s.pixels = make([]uint32, w*h)
	return true
}
func (s *memSink) SignalVideo()        { s.signaled++ }
func (s *memSink) EnqueueEvent(ev any) {}

func TestEventRoundTrip(t *testing.T) {
	a, err := Open(testKey(), nil)
	require.NoError(t, err)

	sent := event.Event{Category: event.CategoryIO, Datatype: event.DatatypeDigital, Active: true}
	require.NoError(t, a.EnqueueEvent(sent))

	wire := a.Flush()
	require.NotEmpty(t, wire)

	b, err := Build(testKey(), nil)
	require.NoError(t, err)

	var received []event.Event
	err = b.Feed(wire, func(chid uint8, ev event.Event, tag any) {
		require.EqualValues(t, 0, chid)
		received = append(received, ev)
	}, nil)
	require.NoError(t, err)

	require.Len(t, received, 1)
	require.Equal(t, sent, received[0])
	require.False(t, b.Broken())
}

func TestMalformedKindBreaksSession(t *testing.T) {
	// Open, not Build: the queued Hello packet proves Flush returns
	// nothing once broken even with pending outbound bytes.
	b, err := Open(testKey(), nil)
	require.NoError(t, err)

	garbage := make([]byte, 17)
	garbage[16] = 6 // unknown kind, >= KindBroken

	require.NoError(t, b.Feed(garbage, nil, nil))
	require.True(t, b.Broken())
	require.Empty(t, b.Flush())
}

func TestPartialFeedMatchesWholeFeed(t *testing.T) {
	a, err := Open(testKey(), nil)
	require.NoError(t, err)
	require.NoError(t, a.EnqueueEvent(event.Event{Category: event.CategoryIO, Datatype: event.DatatypeDigital, Active: true}))
	wire := a.Flush()

	whole, err := Build(testKey(), nil)
	require.NoError(t, err)
	var wholeEvents []event.Event
	require.NoError(t, whole.Feed(wire, func(chid uint8, ev event.Event, tag any) {
		wholeEvents = append(wholeEvents, ev)
	}, nil))

	partial, err := Build(testKey(), nil)
	require.NoError(t, err)
	var partialEvents []event.Event
	for _, b := range wire {
		require.NoError(t, partial.Feed([]byte{b}, func(chid uint8, ev event.Event, tag any) {
			partialEvents = append(partialEvents, ev)
		}, nil))
	}

	require.Equal(t, wholeEvents, partialEvents)
	require.Equal(t, whole.Broken(), partial.Broken())
}

func TestTamperedMACBreaksSession(t *testing.T) {
	a, err := Open(testKey(), nil)
	require.NoError(t, err)
	require.NoError(t, a.EnqueueEvent(event.Event{Category: event.CategoryIO, Datatype: event.DatatypeDigital, Active: true}))
	wire := a.Flush()
	require.True(t, len(wire) > protocol.MACSize)

	wire[protocol.MACSize-1] ^= 0xff // flip a byte inside the wire MAC

	b, err := Build(testKey(), nil)
	require.NoError(t, err)

	var received []event.Event
	require.NoError(t, b.Feed(wire, func(chid uint8, ev event.Event, tag any) {
		received = append(received, ev)
	}, nil))

	require.Empty(t, received)
	require.True(t, b.Broken())
}

func TestEncryptedEventRoundTrip(t *testing.T) {
	a, err := Open(testKey(), nil)
	require.NoError(t, err)
	require.NoError(t, a.NegotiateEncryption())

	sent := event.Event{Category: event.CategoryIO, Datatype: event.DatatypeDigital, Active: true}
	require.NoError(t, a.EnqueueEvent(sent))

	wire := a.Flush()
	require.NotEmpty(t, wire)

	b, err := Build(testKey(), nil)
	require.NoError(t, err)

	var received []event.Event
	err = b.Feed(wire, func(chid uint8, ev event.Event, tag any) {
		received = append(received, ev)
	}, nil)
	require.NoError(t, err)

	require.Len(t, received, 1)
	require.Equal(t, sent, received[0])
	require.False(t, b.Broken())
}

func TestRawVideoRoundTripThroughFeed(t *testing.T) {
	const w, h = 4, 2
	src := []uint32{
		types.RGBA(0xff, 0, 0, 0xff), types.RGBA(0, 0xff, 0, 0xff),
		types.RGBA(0, 0, 0xff, 0xff), types.RGBA(0xff, 0xff, 0xff, 0xff),
		types.RGBA(0, 0, 0, 0xff), types.RGBA(0x80, 0x80, 0x80, 0xff),
		types.RGBA(0x80, 0, 0, 0x80), types.RGBA(0, 0x80, 0, 0xff),
	}

	a, err := Open(testKey(), nil)
	require.NoError(t, err)
	buf := types.VideoBuffer{Width: w, Height: h, Pitch: w, Pixels: src}
	require.NoError(t, a.EnqueueVideo(0, buf, types.EncodeOptions{Method: types.EncodeRGBA, ChunkSz: 32768}))

	b, err := Build(testKey(), nil)
	require.NoError(t, err)
	sink := newMemSink(w, h)
	b.BindChannel(0, sink)

	require.NoError(t, b.Feed(a.Flush(), nil, nil))
	require.False(t, b.Broken())
	require.Equal(t, 1, sink.signaled)
	require.Equal(t, src, sink.pixels)
}

func TestCompressedVideoRoundTripThroughFeed(t *testing.T) {
	const w, h = 16, 16
	src := make([]uint32, w*h)
	for i := range src {
		src[i] = types.RGBA(byte(i), byte(i*2), byte(i*3), 0xff)
	}

	a, err := Open(testKey(), nil)
	require.NoError(t, err)
	buf := types.VideoBuffer{Width: w, Height: h, Pitch: w, Pixels: src}
	require.NoError(t, a.EnqueueVideo(0, buf, types.EncodeOptions{Method: types.EncodeDeltaDeflate}))

	b, err := Build(testKey(), nil)
	require.NoError(t, err)
	sink := newMemSink(w, h)
	b.BindChannel(0, sink)

	// The first delta-deflate frame is always a Miniz I-frame carrying
	// the whole surface.
	require.NoError(t, b.Feed(a.Flush(), nil, nil))
	require.False(t, b.Broken())
	require.Equal(t, 1, sink.signaled)
	require.Equal(t, src, sink.pixels)
}

func TestResizeRefusalDiscardsFrame(t *testing.T) {
	const w, h = 4, 2
	src := make([]uint32, w*h)
	for i := range src {
		src[i] = types.RGBA(0xff, 0xff, 0xff, 0xff)
	}

	a, err := Open(testKey(), nil)
	require.NoError(t, err)
	buf := types.VideoBuffer{Width: w, Height: h, Pitch: w, Pixels: src}
	require.NoError(t, a.EnqueueVideo(0, buf, types.EncodeOptions{Method: types.EncodeRGBA}))

	b, err := Build(testKey(), nil)
	require.NoError(t, err)
	sink := newMemSink(1, 1) // geometry mismatch forces a resize request
	sink.refuse = true
	b.BindChannel(0, sink)

	require.NoError(t, b.Feed(a.Flush(), nil, nil))
	require.False(t, b.Broken()) // frame poisoned, session fine
	require.Zero(t, sink.signaled)
}

func TestControlPacketsCarryLastSeen(t *testing.T) {
	a, err := Open(testKey(), nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, a.EnqueueEvent(event.Event{Category: event.CategoryIO, Datatype: event.DatatypeDigital}))
	}

	b, err := Build(testKey(), nil)
	require.NoError(t, err)
	require.NoError(t, b.Feed(a.Flush(), nil, nil))

	src := make([]uint32, 4)
	require.NoError(t, b.EnqueueVideo(0, types.VideoBuffer{Width: 2, Height: 2, Pitch: 2, Pixels: src}, types.EncodeOptions{}))

	wire := b.Flush()
	require.Equal(t, byte(protocol.KindControl), wire[protocol.MACSize])
	ctrl := wire[protocol.OuterHeaderSize : protocol.OuterHeaderSize+protocol.ControlSize]
	require.EqualValues(t, 3, protocol.ByteOrder.Uint64(ctrl[protocol.OffLastSeen:]))
}

func TestOperationsNoopAfterClose(t *testing.T) {
	a, err := Open(testKey(), nil)
	require.NoError(t, err)
	a.Close()

	require.Error(t, a.EnqueueEvent(event.Event{}))
	require.Empty(t, a.Flush())
	require.Equal(t, PollStatus(2), a.Poll()) // StatusBroken
}
