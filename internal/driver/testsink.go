package driver

import "github.com/arcan-a12/a12/a12/event"

// LogSink is the minimal Sink used by the CLI's -t/-T self-test mode: a
// backing store that Resize reallocates, plus event/video signal counters logged for
// inspection. It stands in for the compositor shim's real destination
// surface.
type LogSink struct {
	w, h   int
	pitch  int
	pixels []uint32

	Signals int
	Events  []event.Event

	Log func(format string, args ...any)
}

// NewLogSink allocates a LogSink with an initial w x h backing store.
func NewLogSink(w, h int, log func(format string, args ...any)) *LogSink {
	return &LogSink{w: w, h: h, pitch: w, pixels: make([]uint32, w*h), Log: log}
}

func (s *LogSink) Width() int       { return s.w }
func (s *LogSink) Height() int      { return s.h }
func (s *LogSink) Pitch() int       { return s.pitch }
func (s *LogSink) Pixels() []uint32 { return s.pixels }

// Resize always succeeds; a real sink may refuse, forcing the in-flight
// frame into discard (commit=255) per the protocol's resize-refusal
// policy.
func (s *LogSink) Resize(w, h int) bool {
	s.w, s.h, s.pitch = w, h, w
	s.pixels = make([]uint32, w*h)
	if s.Log != nil {
		s.Log("a12: sink resized to %dx%d", w, h)
	}
	return true
}

func (s *LogSink) SignalVideo() {
	s.Signals++
	if s.Log != nil {
		s.Log("a12: frame %d signaled", s.Signals)
	}
}

func (s *LogSink) EnqueueEvent(ev any) {
	if e, ok := ev.(event.Event); ok {
		s.Events = append(s.Events, e)
	}
}
