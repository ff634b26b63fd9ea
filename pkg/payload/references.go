// Package payload produces serialized object payloads that can be spliced into a
// live serialization stream.
package payload

import (
	"encoding/binary"

	"github.com/sammck-go/rmitap/pkg/jrmp"
)

// referencePrefix is TC_REFERENCE followed by the high bytes of a wire handle (0x007exxxx)
var referencePrefix = [3]byte{jrmp.TCReference, 0x00, 0x7e}

// FixReferences shifts every back-reference handle in b by correction, so that a
// payload serialized on its own still resolves its references once it is spliced
// in after other elements of a stream. Handles wrap modulo 2^16.
//
// This is a byte pattern scan: the sequence 71 00 7e appearing inside unrelated
// data is rewritten too, and streams with more than 65535 handles before the
// insertion point cannot be corrected.
func FixReferences(b []byte, correction int) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	if correction == 0 {
		return out
	}
	for i := 0; i+5 <= len(out); i++ {
		if out[i] == referencePrefix[0] && out[i+1] == referencePrefix[1] && out[i+2] == referencePrefix[2] {
			h := binary.BigEndian.Uint16(out[i+3:])
			binary.BigEndian.PutUint16(out[i+3:], h+uint16(correction))
			i += 4
		}
	}
	return out
}
