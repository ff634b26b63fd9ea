package payload

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/sammck-go/rmitap/pkg/jrmp"
	rtshare "github.com/sammck-go/rmitap/share"
)

// EncodeUTF encodes s the way DataOutput.writeUTF does: a 2-byte length followed
// by modified UTF-8 (NUL as two bytes, supplementary characters as surrogate pairs).
func EncodeUTF(s string) ([]byte, error) {
	body := make([]byte, 0, len(s))
	for _, r := range s {
		if r >= 0x10000 {
			hi, lo := utf16.EncodeRune(r)
			body = appendModifiedUTF8(body, hi)
			body = appendModifiedUTF8(body, lo)
			continue
		}
		body = appendModifiedUTF8(body, r)
	}
	if len(body) > 0xffff {
		return nil, fmt.Errorf("encoded string is %d bytes, longer than 65535: %w", len(body), rtshare.ErrPayloadGeneration)
	}
	out := make([]byte, 2, 2+len(body))
	binary.BigEndian.PutUint16(out, uint16(len(body)))
	return append(out, body...), nil
}

func appendModifiedUTF8(b []byte, r rune) []byte {
	switch {
	case r >= 0x01 && r <= 0x7f:
		return append(b, byte(r))
	case r <= 0x7ff:
		return append(b, byte(0xc0|(r>>6)&0x1f), byte(0x80|r&0x3f))
	default:
		return append(b, byte(0xe0|(r>>12)&0x0f), byte(0x80|(r>>6)&0x3f), byte(0x80|r&0x3f))
	}
}

// DefaultMarkerText is the string whose serialized form marks where a payload goes
const DefaultMarkerText = "RMITAP_PAYLOAD_MARKER"

// MarkerObject returns the serialized TC_STRING form of s, suitable for passing as a
// method argument that a proxy will later replace with a payload
func MarkerObject(s string) ([]byte, error) {
	enc, err := EncodeUTF(s)
	if err != nil {
		return nil, err
	}
	return append([]byte{jrmp.TCString}, enc...), nil
}

// DefaultMarker returns MarkerObject(DefaultMarkerText)
func DefaultMarker() []byte {
	m, _ := MarkerObject(DefaultMarkerText)
	return m
}
