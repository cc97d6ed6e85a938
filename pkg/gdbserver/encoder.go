package gdbserver

import (
	"encoding/hex"
	"fmt"
)

// escapeSpecials inserts the '}'-prefixed escape (XOR 0x20) GDB's remote
// protocol requires for '$', '#', '}', and '*' appearing in a packet body,
// matching the reference io.c encoder's handling of the same four bytes.
func escapeSpecials(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for _, b := range data {
		switch b {
		case '$', '#', '}', '*':
			out = append(out, '}', b^0x20)
		default:
			out = append(out, b)
		}
	}
	return out
}

func checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// Frame wraps content in "$...#hh" packet framing with the two-hex-digit
// checksum trailer, escaping special bytes first.
func Frame(content []byte) []byte {
	body := escapeSpecials(content)
	sum := checksum(body)
	out := make([]byte, 0, len(body)+4)
	out = append(out, '$')
	out = append(out, body...)
	out = append(out, '#')
	out = append(out, fmt.Sprintf("%02x", sum)...)
	return out
}

// FrameString is Frame for a text reply.
func FrameString(s string) []byte { return Frame([]byte(s)) }

// OK frames the empty-success reply.
func OK() []byte { return FrameString("OK") }

// Empty frames the "unsupported command" reply: an empty packet body.
func Empty() []byte { return FrameString("") }

// Err frames a GDB errno reply, "E" followed by two decimal digits. GDB
// treats the digits as opaque, so any two-digit value works; errno itself
// is close enough to convention to be useful in a trace.
func Err(errno int) []byte {
	return FrameString(fmt.Sprintf("E%02d", errno%100))
}

// Hex lowercase-hex-encodes data, the encoding g/m/qXfer replies use for
// register and memory contents.
func Hex(data []byte) string { return hex.EncodeToString(data) }

// UnhexBytes decodes a lowercase-or-uppercase hex string, as used to
// decode M/X packet payloads and qRcmd command text.
func UnhexBytes(s string) ([]byte, error) { return hex.DecodeString(s) }

// XferChunk frames a qXfer reply chunk: a leading 'm' (more data follows)
// or 'l' (this is the last chunk) followed by the raw chunk bytes.
func XferChunk(data []byte, more bool) []byte {
	marker := byte('l')
	if more {
		marker = 'm'
	}
	content := make([]byte, 0, len(data)+1)
	content = append(content, marker)
	content = append(content, data...)
	return Frame(content)
}

// StopReply frames a Tnn stop reply: signal number and the thread that
// stopped, matching send_stop_packet()'s "T%02dthread:%d;" format.
func StopReply(signal int, threadID int) []byte {
	return FrameString(fmt.Sprintf("T%02dthread:%d;", signal, threadID))
}
