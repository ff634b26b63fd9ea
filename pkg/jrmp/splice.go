package jrmp

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// ReplaceMarker returns data with every non-overlapping occurrence of marker
// replaced by payload, scanning left to right. An empty marker matches nothing.
// Markers split across two calls are not found.
func ReplaceMarker(data, marker, payload []byte) []byte {
	if len(marker) == 0 || len(data) < len(marker) {
		return data
	}
	if !bytes.Contains(data, marker) {
		return data
	}
	return bytes.ReplaceAll(data, marker, payload)
}

// UIDLookup supplies locally known serialVersionUIDs by class name
type UIDLookup interface {
	LookupUID(className string) (uid int64, ok bool)
}

// UIDLookupFunc adapts a function to UIDLookup
type UIDLookupFunc func(className string) (int64, bool)

// LookupUID calls f
func (f UIDLookupFunc) LookupUID(className string) (int64, bool) {
	return f(className)
}

// reservedClassPrefix covers java.* and javax.* platform classes, whose
// serialVersionUIDs are never rewritten
const reservedClassPrefix = "java"

// PatchClassDescUIDs rewrites the serialVersionUID of every TC_CLASSDESC found in a
// ReturnData packet whose class name is known to lookup. Packets of other types, and
// platform classes, are returned unchanged. The scan is a byte-pattern heuristic: a
// 0x72 byte followed by a plausible length-prefixed name is taken as a descriptor.
func PatchClassDescUIDs(data []byte, lookup UIDLookup) []byte {
	if len(data) == 0 || data[0] != MsgReturnData || lookup == nil {
		return data
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == TCClassDesc && i+2 < len(data) {
			nameLen := int(binary.BigEndian.Uint16(data[i+1:]))
			if i+2+nameLen+8 < len(data) {
				name := string(data[i+3 : i+3+nameLen])
				if !strings.HasPrefix(name, reservedClassPrefix) {
					if uid, ok := lookup.LookupUID(name); ok {
						out = append(out, data[i:i+3+nameLen]...)
						out = binary.BigEndian.AppendUint64(out, uint64(uid))
						i += 2 + nameLen + 8
						continue
					}
				}
			}
		}
		out = append(out, data[i])
	}
	return out
}

// callHeaderLen covers the Call byte, the stream header and the TC_BLOCKDATA tag and
// length of the call's first block (object id, operation, hash)
const callHeaderLen = 7

// InjectBindPayload rewrites an outbound registry Call packet so that the argument
// following the call header block is replaced by payload and a TC_NULL. Any other
// packet, or one too short to hold its declared header block, is returned unchanged.
func InjectBindPayload(data, payload []byte) []byte {
	if len(data) <= callHeaderLen || data[0] != MsgCall {
		return data
	}
	keep := int(data[6]) + callHeaderLen
	if keep > len(data) {
		return data
	}
	out := make([]byte, 0, keep+len(payload)+1)
	out = append(out, data[:keep]...)
	out = append(out, payload...)
	out = append(out, TCNull)
	return out
}
