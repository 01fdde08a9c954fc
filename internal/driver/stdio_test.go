package driver

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcan-a12/a12/a12/event"
	"github.com/arcan-a12/a12/a12/session"
)

func TestPumpRoundTripsEventThroughAPipe(t *testing.T) {
	a, err := session.Open(make([]byte, 32), nil)
	require.NoError(t, err)
	require.NoError(t, a.EnqueueEvent(event.Event{Category: event.CategoryIO, Datatype: event.DatatypeDigital, Active: true}))
	wire := a.Flush()
	require.NotEmpty(t, wire)

	b, err := session.Build(make([]byte, 32), nil)
	require.NoError(t, err)

	var out bytes.Buffer
	var received []event.Event
	pump := &Pump{
		Session: b,
		In:      bytes.NewReader(wire),
		Out:     &out,
		OnEvent: func(chid uint8, ev event.Event, tag any) {
			received = append(received, ev)
		},
	}

	require.NoError(t, pump.Run())
	require.Len(t, received, 1)
	require.False(t, b.Broken())
}

func TestLogSinkTracksSignalsAndResize(t *testing.T) {
	sink := NewLogSink(4, 4, nil)
	require.Equal(t, 4, sink.Width())
	require.True(t, sink.Resize(8, 8))
	require.Equal(t, 8, sink.Width())
	require.Equal(t, 8, sink.Pitch())
	sink.SignalVideo()
	require.Equal(t, 1, sink.Signals)
}
