package jrmp

import "encoding/binary"

// sb assembles serialization stream fixtures byte by byte
type sb struct {
	b []byte
}

func newReplyData() *sb {
	s := &sb{}
	return s.u8(MsgReturnData).u16(StreamMagic).u16(StreamVersion)
}

func (s *sb) u8(v ...byte) *sb {
	s.b = append(s.b, v...)
	return s
}

func (s *sb) u16(v uint16) *sb {
	s.b = binary.BigEndian.AppendUint16(s.b, v)
	return s
}

func (s *sb) u32(v uint32) *sb {
	s.b = binary.BigEndian.AppendUint32(s.b, v)
	return s
}

func (s *sb) u64(v uint64) *sb {
	s.b = binary.BigEndian.AppendUint64(s.b, v)
	return s
}

func (s *sb) utf(str string) *sb {
	return s.u16(uint16(len(str))).u8([]byte(str)...)
}

// classDesc writes TC_CLASSDESC, name, uid and flags. Fields, annotations and
// the super class follow.
func (s *sb) classDesc(name string, uid uint64, flags byte) *sb {
	return s.u8(TCClassDesc).utf(name).u64(uid).u8(flags)
}

// unicastRefBlock writes a TC_BLOCKDATA holding a UnicastRef (or UnicastRef2 when
// format is non-nil) followed by an ObjID and the DGC flag.
func (s *sb) unicastRefBlock(host string, port uint32, format *byte) *sb {
	body := &sb{}
	if format == nil {
		body.utf(UnicastRefName)
	} else {
		body.utf(UnicastRef2Name).u8(*format)
	}
	body.utf(host).u32(port)
	body.u64(0x1122334455667788).u32(1).u64(2).u16(3).u8(0)
	return s.u8(TCBlockData, byte(len(body.b))).u8(body.b...)
}

func (s *sb) bytes() []byte {
	return s.b
}
