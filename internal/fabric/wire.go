// Package fabric implements the transfer fabric: a message-passing
// substrate over which drivers request chunks and deliver commands,
// with identity-addressed request/reply.
//
// Each driver's router endpoint is an http.Server upgraded to a
// websocket connection; dealers (the referee, the broker, peer plugs)
// dial in. Frames are length-prefixed multipart messages, encoded into
// a single websocket binary message rather than reaching for a
// dedicated messaging broker.
package fabric

import (
	"encoding/binary"
	"fmt"
)

// Command tags, identifying the first frame of a command request.
const (
	CmdGetFile          byte = 0x01
	CmdTransfer         byte = 0x02
	CmdTransferComplete byte = 0x03
	CmdDelete           byte = 0x04
)

// maxFrames bounds a single multipart message so a corrupt peer cannot
// force an unbounded allocation while decoding.
const maxFrames = 64

// maxFrameLen bounds a single frame to 64 MiB, comfortably above the
// largest chunk size any adapter in this module uses.
const maxFrameLen = 64 << 20

// Encode packs frames into one length-prefixed multipart message: a uint8
// frame count, then per frame a uint32 big-endian length followed by its
// bytes.
func Encode(frames [][]byte) ([]byte, error) {
	if len(frames) == 0 || len(frames) > maxFrames {
		return nil, fmt.Errorf("fabric: encode: frame count %d out of range", len(frames))
	}

	size := 1
	for _, f := range frames {
		size += 4 + len(f)
	}

	buf := make([]byte, 0, size)
	buf = append(buf, byte(len(frames)))

	for _, f := range frames {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(f)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, f...)
	}

	return buf, nil
}

// Decode unpacks a message produced by Encode.
func Decode(msg []byte) ([][]byte, error) {
	if len(msg) < 1 {
		return nil, fmt.Errorf("fabric: decode: empty message")
	}

	count := int(msg[0])
	if count == 0 || count > maxFrames {
		return nil, fmt.Errorf("fabric: decode: frame count %d out of range", count)
	}

	frames := make([][]byte, 0, count)
	rest := msg[1:]

	for range count {
		if len(rest) < 4 {
			return nil, fmt.Errorf("fabric: decode: truncated frame length")
		}

		l := binary.BigEndian.Uint32(rest[:4])
		if l > maxFrameLen {
			return nil, fmt.Errorf("fabric: decode: frame length %d exceeds limit", l)
		}

		rest = rest[4:]

		if uint32(len(rest)) < l {
			return nil, fmt.Errorf("fabric: decode: truncated frame body")
		}

		frames = append(frames, rest[:l])
		rest = rest[l:]
	}

	return frames, nil
}

// encodeUint64 packs a uint64 as an 8-byte big-endian frame, used for chunk
// offset/size fields.
func encodeUint64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)

	return buf[:]
}

// decodeUint64 is the inverse of encodeUint64. Short or empty input decodes
// as zero rather than erroring: offset/size frames are fixed-width by
// convention, not self-describing.
func decodeUint64(b []byte) uint64 {
	var buf [8]byte
	copy(buf[:], b)

	return binary.BigEndian.Uint64(buf[:])
}
