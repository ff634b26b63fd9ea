package jrmp

import "bytes"

// JRMI protocol identifiers sent by a client when opening a connection
const (
	ProtocolStream    byte = 0x4b
	ProtocolSingleOp  byte = 0x4c
	ProtocolMultiplex byte = 0x4d
)

var jrmiMagic = []byte("JRMI")

// IsJRMIHandshake reports whether b starts with a JRMI transport header:
// "JRMI", a 2-byte version (1 or 2) and a known protocol byte.
func IsJRMIHandshake(b []byte) bool {
	if len(b) < 7 || !bytes.HasPrefix(b, jrmiMagic) {
		return false
	}
	if b[4] != 0x00 || (b[5] != 0x01 && b[5] != 0x02) {
		return false
	}
	switch b[6] {
	case ProtocolStream, ProtocolSingleOp, ProtocolMultiplex:
		return true
	}
	return false
}

// HandshakeProtocolName names the protocol byte of a JRMI header
func HandshakeProtocolName(p byte) string {
	switch p {
	case ProtocolStream:
		return "StreamProtocol"
	case ProtocolSingleOp:
		return "SingleOpProtocol"
	case ProtocolMultiplex:
		return "MultiplexProtocol"
	}
	return "unknown"
}
