// Command a12c pumps an A12 session over an already-connected stdio
// pipe: -c selects the connecting (build/passive) side, -s the listening
// (open/active) side. It never dials, listens, or forks a peer —
// transport establishment and key exchange belong to whatever connected
// the pipe.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/arcan-a12/a12/a12/event"
	"github.com/arcan-a12/a12/a12/session"
	"github.com/arcan-a12/a12/a12/types"
	"github.com/arcan-a12/a12/internal/driver"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		connect = flag.Bool("c", false, "connect mode (passive side, Build)")
		serve   = flag.String("s", "", "listen mode (active side, Open) at the given connection point")
		test    = flag.Bool("t", false, "self-test mode, in-process loopback (requires ARCAN_CONNPATH)")
		testC   = flag.Bool("T", false, "self-test mode as -t, with stream cipher negotiation (requires ARCAN_CONNPATH)")
		keyfile = flag.String("k", "", "authentication keyfile, 1..64 bytes")
	)
	flag.Parse()

	key, err := loadKey(*keyfile)
	if err != nil {
		log.Printf("a12c: %v", err)
		return 1
	}

	if *test || *testC {
		if os.Getenv("ARCAN_CONNPATH") == "" {
			log.Printf("a12c: test mode requires ARCAN_CONNPATH")
			return 1
		}
		return runSelfTest(key, *testC)
	}

	if err := driver.CheckNotTTY(os.Stdin, os.Stdout); err != nil {
		log.Printf("a12c: %v", err)
		return 1
	}

	switch {
	case *serve != "":
		log.Printf("a12c: listening as active endpoint at %q", *serve)
		return runPump(key, *keyfile, true, os.Stdin, os.Stdout)
	case *connect:
		log.Printf("a12c: connecting as passive endpoint")
		return runPump(key, *keyfile, false, os.Stdin, os.Stdout)
	default:
		log.Printf("a12c: missing connection mode (-c or -s)")
		return 1
	}
}

// loadKey reads the 1..64 byte authentication key from path, or returns
// a zeroed 32-byte key when path is empty.
func loadKey(path string) ([]byte, error) {
	if path == "" {
		return make([]byte, 32), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keyfile %q couldn't be read: %w", path, err)
	}
	if len(data) < 1 || len(data) > 64 {
		return nil, fmt.Errorf("keyfile %q must be 1..64 bytes, got %d", path, len(data))
	}
	return data, nil
}

// runSelfTest runs both endpoints in-process over a loopback: one event
// and one small RGBA frame travel from the active to the passive side,
// then one event travels back. encNeg has the active side negotiate the
// stream cipher first, so the Control and Event packets after it are
// sealed in both directions.
func runSelfTest(key []byte, encNeg bool) int {
	active, err := session.Open(key, log.Printf)
	if err != nil {
		log.Printf("a12c: self-test: open failed: %v", err)
		return 1
	}
	defer active.Close()

	passive, err := session.Build(key, log.Printf)
	if err != nil {
		log.Printf("a12c: self-test: build failed: %v", err)
		return 1
	}
	defer passive.Close()

	if encNeg {
		if err := active.NegotiateEncryption(); err != nil {
			log.Printf("a12c: self-test: encryption negotiation failed: %v", err)
			return 1
		}
	}

	const w, h = 4, 2
	sink := driver.NewLogSink(w, h, nil)
	passive.BindChannel(0, sink)

	if err := active.EnqueueEvent(event.Event{
		Category: event.CategoryIO,
		Datatype: event.DatatypeDigital,
		Active:   true,
	}); err != nil {
		log.Printf("a12c: self-test: enqueue event failed: %v", err)
		return 1
	}

	frame := make([]uint32, w*h)
	for i := range frame {
		frame[i] = uint32(0xff000000 | i*0x1f1f1f)
	}
	if err := active.EnqueueVideo(0, types.VideoBuffer{
		Width: w, Height: h, Pitch: w, Pixels: frame,
	}, types.EncodeOptions{Method: types.EncodeRGBA}); err != nil {
		log.Printf("a12c: self-test: enqueue video failed: %v", err)
		return 1
	}

	events := 0
	if err := passive.Feed(active.Flush(), func(chid uint8, ev event.Event, tag any) {
		events++
	}, nil); err != nil {
		log.Printf("a12c: self-test: passive feed failed: %v", err)
		return 1
	}

	if err := passive.EnqueueEvent(event.Event{
		Category: event.CategoryIO,
		Datatype: event.DatatypeDigital,
	}); err != nil {
		log.Printf("a12c: self-test: reverse enqueue failed: %v", err)
		return 1
	}
	reverse := 0
	if err := active.Feed(passive.Flush(), func(chid uint8, ev event.Event, tag any) {
		reverse++
	}, nil); err != nil {
		log.Printf("a12c: self-test: active feed failed: %v", err)
		return 1
	}

	if events != 1 || reverse != 1 || sink.Signals != 1 || passive.Broken() || active.Broken() {
		log.Printf("a12c: self-test FAILED: events=%d reverse=%d signals=%d", events, reverse, sink.Signals)
		return 1
	}
	log.Printf("a12c: self-test OK")
	return 0
}

func runPump(key []byte, keyfile string, active bool, in *os.File, out *os.File) int {
	var sess *session.Session
	var err error
	if active {
		sess, err = session.Open(key, log.Printf)
	} else {
		sess, err = session.Build(key, log.Printf)
	}
	if err != nil {
		log.Printf("a12c: session construction failed: %v", err)
		return 1
	}
	defer sess.Close()

	// A non-default keyfile is the operator's signal to turn the stream
	// cipher on: the active side negotiates, appending CmdEncNeg and
	// engaging its outbound cipher; the passive side derives and installs
	// its own cipher on receipt of that packet (framer.go's CmdEncNeg
	// handler), so only one side needs to call this.
	if active && keyfile != "" {
		if err := sess.NegotiateEncryption(); err != nil {
			log.Printf("a12c: encryption negotiation failed: %v", err)
			return 1
		}
	}

	sink := driver.NewLogSink(1280, 720, log.Printf)
	sess.BindChannel(0, sink)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("a12c: shutting down")
		sess.Close()
	}()

	pump := &driver.Pump{
		Session: sess,
		In:      in,
		Out:     out,
		OnEvent: func(chid uint8, ev event.Event, tag any) {
			sink.EnqueueEvent(ev)
		},
		Logger: log.Printf,
	}

	if err := pump.Run(); err != nil {
		log.Printf("a12c: pump error: %v", err)
		return 1
	}
	return 0
}
