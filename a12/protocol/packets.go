// Package protocol defines the A12 wire format: header sizes, command
// codes, postprocess tags, and the byte-exact RGB565 expansion tables.
package protocol

import "encoding/binary"

// ByteOrder is used for every multi-byte field on the wire.
var ByteOrder = binary.LittleEndian

// Packet kinds, identified by the byte following the 16-byte chained MAC.
type Kind uint8

const (
	KindControl Kind = iota
	KindEvent
	KindVideo
	KindAudio
	KindBlob
	KindBroken
)

const (
	// MACSize is the width of the chained MAC prepended to every packet.
	MACSize = 16

	// OuterHeaderSize is the MAC plus the one-byte kind tag.
	OuterHeaderSize = MACSize + 1

	// ControlSize is the fixed size of a Control packet body.
	ControlSize = 128

	// SubHeaderSize is the shape shared by Video/Audio/Blob bodies:
	// 1-byte channel, 4-byte stream id, 2-byte length.
	SubHeaderSize = 1 + 4 + 2

	// MaxChunkSize is the cap on a single Video/Audio/Blob payload.
	MaxChunkSize = 65535
)

// Control command codes (control packet byte 17).
type Command uint8

const (
	CmdHello        Command = 0
	CmdShutdown     Command = 1
	CmdEncNeg       Command = 2
	CmdRekey        Command = 3
	CmdCancelStream Command = 4
	CmdNewChannel   Command = 5
	CmdFailure      Command = 6
	CmdVideoFrame   Command = 7
	CmdAudioFrame   Command = 8
	CmdBinaryStream Command = 9
)

// Control packet field offsets, bit-exact per the VideoFrame layout.
const (
	OffLastSeen    = 0  // 8 bytes
	OffEntropy     = 8  // 8 bytes, unused by the receiver
	OffChannel     = 16 // 1 byte
	OffCommand     = 17 // 1 byte
	OffStreamID    = 18 // 4 bytes
	OffPostprocess = 22 // 1 byte
	OffSurfaceW    = 23 // 2 bytes
	OffSurfaceH    = 25 // 2 bytes
	OffRegionX     = 27 // 2 bytes
	OffRegionY     = 29 // 2 bytes
	OffRegionW     = 31 // 2 bytes
	OffRegionH     = 33 // 2 bytes
	OffPayloadLen  = 36 // 4 bytes (compressed/payload length)
	OffExpandedLen = 40 // 4 bytes
	OffCommit      = 44 // 1 byte
)

// Postprocess identifies the pixel-level decoding pipeline for a video
// frame.
type Postprocess uint8

const (
	PostprocessRGBA Postprocess = iota
	PostprocessRGB
	PostprocessRGB565
	PostprocessMiniz
	PostprocessDeltaMiniz
)

// Commit is the terminal flag of a video frame descriptor.
type Commit uint8

const (
	CommitMore    Commit = 0
	CommitSignal  Commit = 1
	CommitDiscard Commit = 255
)

// ChannelCount is the size of the per-session channel table.
const ChannelCount = 256

// NoChannel marks "no inbound channel currently selected" in the framer.
const NoChannel = -1

// Cookie sentinels guarding every public Session operation.
const (
	AliveCookie uint32 = 0xfeedface
	DeadCookie  uint32 = 0xdeadbeef
)

// RGB565To8Bit5 expands a 5-bit channel (R or B) to 8 bits, byte-exact.
var RGB565To8Bit5 = [32]byte{
	0, 8, 16, 25, 33, 41, 49, 58, 66, 74, 82, 90, 99, 107, 115, 123,
	132, 140, 148, 156, 165, 173, 181, 189, 197, 206, 214, 222, 230, 239, 247, 255,
}

// RGB565To8Bit6 expands the 6-bit green channel to 8 bits, byte-exact.
var RGB565To8Bit6 = [64]byte{
	0, 4, 8, 12, 16, 20, 24, 28, 32, 36, 40, 45, 49, 53, 57, 61,
	65, 69, 73, 77, 81, 85, 89, 93, 97, 101, 105, 109, 113, 117, 121, 125,
	130, 134, 138, 142, 146, 150, 154, 158, 162, 166, 170, 174, 178, 182, 186, 190,
	194, 198, 202, 206, 210, 215, 219, 223, 227, 231, 235, 239, 243, 247, 251, 255,
}

// PixelSize returns the byte stride of one raw pixel for a postprocess tag,
// or 0 if the tag is compressed (Miniz/DeltaMiniz always decode to RGB
// triples, but don't have a fixed wire stride).
func PixelSize(pp Postprocess) int {
	switch pp {
	case PostprocessRGBA:
		return 4
	case PostprocessRGB:
		return 3
	case PostprocessRGB565:
		return 2
	default:
		return 0
	}
}

// IsRaw reports whether pp is one of the uncompressed postprocess tags.
func IsRaw(pp Postprocess) bool {
	switch pp {
	case PostprocessRGBA, PostprocessRGB, PostprocessRGB565:
		return true
	default:
		return false
	}
}

// VideoHeaderSize is the per-packet prefix on Video sub-packets: channel,
// stream id, length.
const VideoHeaderSize = SubHeaderSize
