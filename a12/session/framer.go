package session

import (
	"github.com/arcan-a12/a12/a12/channel"
	"github.com/arcan-a12/a12/a12/event"
	"github.com/arcan-a12/a12/a12/protocol"
	"github.com/arcan-a12/a12/a12/video"
)

// maxInboundVideo caps the compressed buffer a VideoFrame control packet
// may ask this endpoint to allocate. The declared expanded size bounds
// decompression output; this bounds the input side the same way.
const maxInboundVideo = 1 << 28

// Feed copies bytes into the receive scratch buffer, dispatching each
// fully-received packet as it completes. It always consumes the whole
// input; once the framer has reached Broken, further input is silently
// discarded. onEvent is invoked once per successfully decoded event,
// with channel 0 (events are not yet bound to a channel per the
// protocol's channel-0-default policy).
func (s *Session) Feed(input []byte, onEvent func(chid uint8, ev event.Event, tag any), tag any) error {
	if !s.alive() || s.terminal {
		return ErrDeadSession
	}

	for len(input) > 0 {
		if s.state == recvBroken {
			return nil
		}

		n := s.left
		if n > len(input) {
			n = len(input)
		}
		copy(s.decode[s.decodePos:], input[:n])
		s.decodePos += n
		s.left -= n
		input = input[n:]

		if s.left > 0 {
			continue
		}
		s.dispatch(onEvent, tag)
	}
	return nil
}

func (s *Session) dispatch(onEvent func(chid uint8, ev event.Event, tag any), tag any) {
	switch s.state {
	case recvNoPacket:
		s.dispatchNoPacket()
	case recvControl:
		s.dispatchControl()
	case recvEvent:
		s.dispatchEvent(onEvent, tag)
	case recvSubstream:
		s.dispatchSubstream(onEvent, tag)
	}
}

func (s *Session) dispatchNoPacket() {
	copy(s.wireMAC[:], s.decode[:protocol.MACSize])
	kindByte := s.decode[protocol.MACSize]

	if kindByte >= byte(protocol.KindBroken) {
		s.log("a12: unknown packet kind %d, session broken", kindByte)
		s.state = recvBroken
		return
	}
	s.pendingKind = protocol.Kind(kindByte)
	s.decodePos = 0

	switch s.pendingKind {
	case protocol.KindControl:
		s.state = recvControl
		s.left = protocol.ControlSize + s.cipherOverhead()
	case protocol.KindEvent:
		s.state = recvEvent
		s.left = 8 + event.HeaderSize() + s.cipherOverhead()
	case protocol.KindVideo, protocol.KindAudio, protocol.KindBlob:
		s.state = recvSubstream
		s.videoPhase = phaseHeader
		s.left = protocol.SubHeaderSize
	}
}

// verifyMAC checks body (the full packet body, after any decryption)
// against the wire MAC read at NoPacket completion, chained on the last
// accepted inbound MAC. On success it advances the inbound chain.
func (s *Session) verifyMAC(body []byte) bool {
	if macBypassEnabled() {
		s.lastMACIn = s.wireMAC
		return true
	}

	candidate, err := s.mac.Next(s.lastMACIn, byte(s.pendingKind), body)
	if err != nil || candidate != s.wireMAC {
		s.log("a12: MAC mismatch, session broken")
		s.state = recvBroken
		return false
	}
	s.lastMACIn = s.wireMAC
	return true
}

// cipherOverhead is the extra wire bytes a sealed Control/Event body
// carries (nonce prefix + GCM tag) once a cipher has been engaged; zero
// before negotiation. Video/Audio/Blob bodies are never sealed (see
// outqueue.sealable) so they never consult this.
func (s *Session) cipherOverhead() int {
	if s.cipher == nil {
		return 0
	}
	return s.cipher.NonceSize() + s.cipher.Overhead()
}

func (s *Session) resetToNoPacket() {
	s.state = recvNoPacket
	s.left = protocol.OuterHeaderSize
	s.decodePos = 0
}

func (s *Session) dispatchControl() {
	body := append([]byte(nil), s.decode[:s.decodePos]...)
	plain, err := s.decryptBody(body)
	if err != nil {
		s.state = recvBroken
		return
	}
	if !s.verifyMAC(plain) {
		return
	}
	s.handleControl(plain)
	s.resetToNoPacket()
}

func (s *Session) dispatchEvent(onEvent func(chid uint8, ev event.Event, tag any), tag any) {
	body := append([]byte(nil), s.decode[:s.decodePos]...)
	plain, err := s.decryptBody(body)
	if err != nil {
		s.state = recvBroken
		return
	}
	if !s.verifyMAC(plain) {
		return
	}
	s.lastSeen = protocol.ByteOrder.Uint64(plain[:8])

	ev, perr := event.Unpack(plain[8:])
	if perr != nil {
		s.log("a12: dropping malformed event packet: %v", perr)
	} else if onEvent != nil {
		onEvent(0, ev, tag)
	}
	s.resetToNoPacket()
}

func (s *Session) dispatchSubstream(onEvent func(chid uint8, ev event.Event, tag any), tag any) {
	if s.videoPhase == phaseHeader {
		copy(s.videoHeader[:], s.decode[:protocol.SubHeaderSize])
		s.videoChan = s.videoHeader[0]
		s.videoStream = protocol.ByteOrder.Uint32(s.videoHeader[1:5])
		s.videoLen = int(protocol.ByteOrder.Uint16(s.videoHeader[5:7]))

		s.videoPhase = phasePayload
		s.decodePos = 0
		s.left = s.videoLen
		return
	}

	// Video/Audio/Blob bodies are never stream-ciphered (see
	// outqueue.sealable): their cleartext sub-header is what let the
	// framer learn videoLen above, before any decryption could apply.
	payload := append([]byte(nil), s.decode[:s.videoLen]...)
	body := make([]byte, 0, protocol.SubHeaderSize+len(payload))
	body = append(body, s.videoHeader[:]...)
	body = append(body, payload...)

	if !s.verifyMAC(body) {
		return
	}

	s.handleSubstream(s.pendingKind, s.videoChan, s.videoStream, payload)
	s.resetToNoPacket()
}

func (s *Session) handleSubstream(kind protocol.Kind, chid uint8, streamID uint32, payload []byte) {
	if kind != protocol.KindVideo {
		// Audio/Blob remain protocol-level stubs: the declared-length
		// payload has already been drained by the framer above.
		return
	}

	entry := s.channels.Get(chid)
	if !entry.Inbound.IsActive() {
		// No frame in progress (no VideoFrame control packet yet, a
		// cancelled stream, or stray data after completion): the declared
		// bytes have already been drained by the framer above.
		return
	}

	done, err := video.FeedPayload(entry, payload)
	if err != nil {
		s.log("a12: video frame %d on channel %d discarded: %v", streamID, chid, err)
	}
	if done {
		s.channels.EndVideoFrame(chid)
	}
}

func (s *Session) handleControl(body []byte) {
	chid := body[protocol.OffChannel]
	cmd := protocol.Command(body[protocol.OffCommand])

	switch cmd {
	case protocol.CmdHello:
		// Handshake; no payload-driven state change in scope.
	case protocol.CmdShutdown:
		s.terminal = true
	case protocol.CmdEncNeg:
		// The packet carrying this command is never itself encrypted
		// (the sender engages its own outbound cipher only after
		// appending it); every packet after this one, in both
		// directions, is. The peer derives the same key independently
		// from the shared authentication key (see NegotiateEncryption).
		ctx, err := cipherFromKey(s.key)
		if err != nil {
			s.log("a12: EncNeg key derivation failed: %v", err)
			break
		}
		// Engaged for both directions at once: the peer seals its next
		// packet, and so does this endpoint, making the transition
		// atomic with the packet that carried the negotiation.
		s.cipher = ctx
		s.out.EngageCipher(ctx)
	case protocol.CmdRekey:
		// Reserved.
	case protocol.CmdCancelStream:
		s.channels.CancelStream(chid)
	case protocol.CmdNewChannel:
		s.channels.Activate(chid)
	case protocol.CmdFailure:
		s.log("a12: peer signaled failure on channel %d", chid)
	case protocol.CmdVideoFrame:
		s.handleVideoFrameControl(chid, body)
	case protocol.CmdAudioFrame, protocol.CmdBinaryStream:
		// Stubs: postprocess semantics undefined in this core.
	}
}

func (s *Session) handleVideoFrameControl(chid uint8, body []byte) {
	streamID := protocol.ByteOrder.Uint32(body[protocol.OffStreamID:])
	pp := protocol.Postprocess(body[protocol.OffPostprocess])
	sw := int(protocol.ByteOrder.Uint16(body[protocol.OffSurfaceW:]))
	sh := int(protocol.ByteOrder.Uint16(body[protocol.OffSurfaceH:]))
	rx := int(protocol.ByteOrder.Uint16(body[protocol.OffRegionX:]))
	ry := int(protocol.ByteOrder.Uint16(body[protocol.OffRegionY:]))
	rw := int(protocol.ByteOrder.Uint16(body[protocol.OffRegionW:]))
	rh := int(protocol.ByteOrder.Uint16(body[protocol.OffRegionH:]))
	payloadLen := int(protocol.ByteOrder.Uint32(body[protocol.OffPayloadLen:]))
	expandedLen := int(protocol.ByteOrder.Uint32(body[protocol.OffExpandedLen:]))
	commit := protocol.Commit(body[protocol.OffCommit])

	entry := s.channels.Get(chid)
	vf := channel.VideoFrame{
		StreamID:     streamID,
		SurfaceW:     sw,
		SurfaceH:     sh,
		RegionX:      rx,
		RegionY:      ry,
		RegionW:      rw,
		RegionH:      rh,
		Postprocess:  pp,
		Commit:       commit,
		CompressedSz: payloadLen,
		ExpandedSz:   expandedLen,
	}

	if pp > protocol.PostprocessDeltaMiniz {
		// Unknown postprocess tags poison the frame, not the session.
		vf.Discard()
	}

	if entry.Sink != nil && (entry.Sink.Width() != sw || entry.Sink.Height() != sh) {
		if !entry.Sink.Resize(sw, sh) {
			vf.Commit = protocol.CommitDiscard
		}
	}

	// Row tracking applies to every postprocess: the compressed pipelines
	// emit decoded pixels through the same row_left/out_pos cursor the
	// raw ones use.
	vf.RowLeft = rw
	if entry.Sink != nil {
		vf.OutPos = ry*entry.Sink.Pitch() + rx
	}

	if !protocol.IsRaw(pp) {
		if payloadLen > maxInboundVideo {
			// A declared compressed length this large is either corrupt
			// or hostile; poison the frame, not the session.
			vf.Discard()
		} else {
			vf.InBuf = make([]byte, 0, payloadLen)
		}
		vf.InBufPos = 0
	}

	s.channels.BeginVideoFrame(chid, vf)
}
