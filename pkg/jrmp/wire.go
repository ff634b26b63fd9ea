// Package jrmp understands just enough of the JRMP (Java RMI) transport and
// the Java object serialization stream carried inside it to locate class
// names, annotations and embedded remote references, and to rewrite them
// in flight.
package jrmp

// JRMP message framing bytes
const (
	MsgCall       byte = 0x50
	MsgReturnData byte = 0x51
	MsgPing       byte = 0x52
	MsgPingAck    byte = 0x53
	MsgDgcAck     byte = 0x54
)

// Serialization stream header
const (
	StreamMagic   uint16 = 0xaced
	StreamVersion uint16 = 0x0005
)

// Serialization stream element tags
const (
	TCNull           byte = 0x70
	TCReference      byte = 0x71
	TCClassDesc      byte = 0x72
	TCObject         byte = 0x73
	TCString         byte = 0x74
	TCArray          byte = 0x75
	TCClass          byte = 0x76
	TCBlockData      byte = 0x77
	TCEndBlockData   byte = 0x78
	TCReset          byte = 0x79
	TCBlockDataLong  byte = 0x7a
	TCException      byte = 0x7b
	TCLongString     byte = 0x7c
	TCProxyClassDesc byte = 0x7d
	TCEnum           byte = 0x7e
)

// BaseWireHandle is the handle assigned to the first element introduced in a stream
const BaseWireHandle = 0x7e0000

// Class descriptor flags
const (
	SCWriteMethod    byte = 0x01
	SCSerializable   byte = 0x02
	SCExternalizable byte = 0x04
	SCBlockData      byte = 0x08
	SCEnum           byte = 0x10
)

// Remote reference type names written by UnicastRef.writeExternal
const (
	UnicastRefName  = "UnicastRef"
	UnicastRef2Name = "UnicastRef2"
)

// primitiveWidth returns the encoded size of a primitive field type code, or 0
// if the code is not primitive.
func primitiveWidth(typeCode byte) int {
	switch typeCode {
	case 'J', 'D':
		return 8
	case 'I', 'F':
		return 4
	case 'S', 'C':
		return 2
	case 'B', 'Z':
		return 1
	}
	return 0
}
