package wire

import "encoding/binary"

// Binary frames may carry a session header so raw passthrough bytes can be
// associated with a relay session:
//
//	"PTC1" | u16 big-endian session-id length | session id | payload
//
// Frames without the sentinel are plain payload with no session id.

var binaryMagic = []byte{'P', 'T', 'C', '1'}

const binaryHeaderLen = 6 // magic + length field

// EncodeBinary prefixes payload with a PTC1 session header. An empty
// session id returns the payload unchanged.
func EncodeBinary(sessionID string, payload []byte) []byte {
	if sessionID == "" {
		return payload
	}
	out := make([]byte, 0, binaryHeaderLen+len(sessionID)+len(payload))
	out = append(out, binaryMagic...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(sessionID)))
	out = append(out, sessionID...)
	out = append(out, payload...)
	return out
}

// DecodeBinary extracts the session id from a PTC1-framed binary payload.
// The parse is best effort: frames without the sentinel, or with a length
// field that overruns the frame, are returned whole with an empty session
// id. Binary frames are never parsed as JSON.
func DecodeBinary(data []byte) (sessionID string, payload []byte) {
	if len(data) < binaryHeaderLen {
		return "", data
	}
	for i, b := range binaryMagic {
		if data[i] != b {
			return "", data
		}
	}
	n := int(binary.BigEndian.Uint16(data[4:6]))
	if n == 0 || binaryHeaderLen+n > len(data) {
		return "", data
	}
	return string(data[binaryHeaderLen : binaryHeaderLen+n]), data[binaryHeaderLen+n:]
}
