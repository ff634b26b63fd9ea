package jrmp

import (
	"encoding/binary"
)

// RemoteRef is a UnicastRef or UnicastRef2 structure found inside a TC_BLOCKDATA
// element of a live stream. Offsets are relative to the buffer it was parsed from.
type RemoteRef struct {
	// TypeName is UnicastRefName or UnicastRef2Name
	TypeName string

	Host string
	Port int32

	// Format is the extra byte that UnicastRef2 writes between the type name and the host
	Format byte

	// BlockLen is the length byte of the enclosing TC_BLOCKDATA
	BlockLen byte

	// Start is the offset of the TC_BLOCKDATA tag; End is the offset just past the port
	Start int
	End   int
}

// ParseRemoteRefAt tries to read a remote reference whose enclosing TC_BLOCKDATA tag
// is at data[i]. The layout, relative to i, is:
//
//	i     TC_BLOCKDATA
//	i+1   block length
//	i+2   0x00, i+3 type name length (10 or 11)
//	i+4   type name
//	      [UnicastRef2 only: one format byte]
//	      2-byte host length, host, 4-byte port
//
// Anything else, including a truncated structure, is reported as no match.
func ParseRemoteRefAt(data []byte, i int) (RemoteRef, bool) {
	var ref RemoteRef
	if i < 0 || i+4 > len(data) || data[i] != TCBlockData || data[i+2] != 0x00 {
		return ref, false
	}
	nameLen := int(data[i+3])
	if nameLen != len(UnicastRefName) && nameLen != len(UnicastRef2Name) {
		return ref, false
	}
	if i+4+nameLen > len(data) {
		return ref, false
	}
	name := string(data[i+4 : i+4+nameLen])
	pos := i + 4 + nameLen
	switch name {
	case UnicastRefName:
	case UnicastRef2Name:
		if pos >= len(data) {
			return ref, false
		}
		ref.Format = data[pos]
		pos++
	default:
		return ref, false
	}
	if pos+2 > len(data) {
		return ref, false
	}
	hostLen := int(binary.BigEndian.Uint16(data[pos:]))
	pos += 2
	if pos+hostLen+4 > len(data) {
		return ref, false
	}
	ref.TypeName = name
	ref.Host = string(data[pos : pos+hostLen])
	pos += hostLen
	ref.Port = int32(binary.BigEndian.Uint32(data[pos:]))
	ref.BlockLen = data[i+1]
	ref.Start = i
	ref.End = pos + 4
	return ref, true
}

// Redirected returns the encoded bytes for this reference pointing at host:port
// instead, starting with the TC_BLOCKDATA tag. The block length is adjusted by
// the change in host length; ok is false if the adjusted length does not fit
// in the single length byte or the new host is too long to encode.
func (r RemoteRef) Redirected(host string, port int) (encoded []byte, ok bool) {
	newBlockLen := int(r.BlockLen) + len(host) - len(r.Host)
	if newBlockLen < 0 || newBlockLen > 0xff || len(host) > 0xffff {
		return nil, false
	}
	out := make([]byte, 0, r.End-r.Start+len(host)-len(r.Host))
	out = append(out, TCBlockData, byte(newBlockLen))
	out = binary.BigEndian.AppendUint16(out, uint16(len(r.TypeName)))
	out = append(out, r.TypeName...)
	if r.TypeName == UnicastRef2Name {
		out = append(out, r.Format)
	}
	out = binary.BigEndian.AppendUint16(out, uint16(len(host)))
	out = append(out, host...)
	out = binary.BigEndian.AppendUint32(out, uint32(int32(port)))
	return out, true
}
