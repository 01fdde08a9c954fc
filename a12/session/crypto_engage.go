package session

import (
	"github.com/arcan-a12/a12/a12/crypto"
	"github.com/arcan-a12/a12/a12/protocol"
)

// EngageCipher switches on the stream cipher in both directions: outbound
// Control/Event packets are sealed starting with the very next appended
// packet, and inbound Control/Event bodies are decrypted starting with the
// next packet the framer reads. This models EncNeg's negotiated-result
// packet taking effect atomically for the following packet.
func (s *Session) EngageCipher(c *crypto.Context) {
	if !s.alive() {
		return
	}
	s.cipher = c
	s.out.EngageCipher(c)
}

// NegotiateEncryption appends the CmdEncNeg control packet that tells
// the peer a stream cipher is about to engage, then engages this
// session's own cipher (see EngageCipher) so every Control/Event packet
// after it (never the EncNeg packet itself) is sealed. The cipher is derived from the
// session's own authentication key via crypto.DeriveAESKey, so both
// endpoints reach the same key without a separate exchange ceremony
// (key exchange itself is out of scope for this core).
func (s *Session) NegotiateEncryption() error {
	if !s.usable() {
		return ErrDeadSession
	}

	body := make([]byte, protocol.ControlSize)
	body[protocol.OffCommand] = byte(protocol.CmdEncNeg)
	if err := s.stamped().Append(protocol.KindControl, body); err != nil {
		return err
	}

	ctx, err := cipherFromKey(s.key)
	if err != nil {
		return err
	}
	s.EngageCipher(ctx)
	return nil
}

func cipherFromKey(key []byte) (*crypto.Context, error) {
	derived := crypto.DeriveAESKey(key)
	return crypto.NewContext(derived[:])
}

// decryptBody is the inverse of outqueue's seal: it strips the leading
// nonce and authenticates/decrypts the remainder with the session's
// inbound cipher. Only Control and Event bodies are ever sealed (see
// outqueue.sealable); callers for other packet kinds never reach here.
// Before a cipher has been engaged it passes body through unchanged.
func (s *Session) decryptBody(body []byte) ([]byte, error) {
	if s.cipher == nil {
		return body, nil
	}
	nonceSize := s.cipher.NonceSize()
	if len(body) < nonceSize {
		return nil, crypto.ErrDecryptionFailed
	}
	return s.cipher.Open(body[:nonceSize], body[nonceSize:])
}
