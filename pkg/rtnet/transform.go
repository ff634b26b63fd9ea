// Package rtnet implements the interception relay: a TCP proxy server whose
// sessions pump bytes in both directions through pluggable transforms.
package rtnet

import (
	"sync"

	"github.com/sammck-go/rmitap/pkg/jrmp"
)

// Transform rewrites one chunk of relayed data. The input slice is only valid for
// the duration of the call; implementations that keep data must copy it. The
// returned slice is written to the destination before the next chunk is read.
type Transform interface {
	HandleData(data []byte) []byte
}

// ShutdownHook is implemented by transforms that own resources which must be
// released when their pump stops
type ShutdownHook interface {
	HandleShutdown(force bool)
}

// TransformFunc adapts a function to Transform
type TransformFunc func(data []byte) []byte

// HandleData calls f
func (f TransformFunc) HandleData(data []byte) []byte {
	return f(data)
}

// PassThrough forwards data unchanged
type PassThrough struct{}

// HandleData returns data
func (PassThrough) HandleData(data []byte) []byte {
	return data
}

// ReplyCapture forwards data unchanged and keeps a copy of everything except
// lone PingAck packets, for later decoding
type ReplyCapture struct {
	lock sync.Mutex
	buf  []byte
}

// HandleData records data and returns it
func (c *ReplyCapture) HandleData(data []byte) []byte {
	if len(data) == 1 && data[0] == jrmp.MsgPingAck {
		return data
	}
	c.lock.Lock()
	c.buf = append(c.buf, data...)
	c.lock.Unlock()
	return data
}

// Reset discards everything captured so far
func (c *ReplyCapture) Reset() {
	c.lock.Lock()
	c.buf = nil
	c.lock.Unlock()
}

// Bytes returns a copy of the captured data
func (c *ReplyCapture) Bytes() []byte {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]byte(nil), c.buf...)
}

// Drain returns the captured data and resets the buffer
func (c *ReplyCapture) Drain() []byte {
	c.lock.Lock()
	defer c.lock.Unlock()
	b := c.buf
	c.buf = nil
	return b
}

// MarkerSubstitution replaces every occurrence of Marker with Payload. Installed
// on the outbound side of a session it injects a payload in place of a marker
// object passed as a method call argument.
type MarkerSubstitution struct {
	Marker  []byte
	Payload []byte
}

// HandleData performs the substitution
func (m *MarkerSubstitution) HandleData(data []byte) []byte {
	return jrmp.ReplaceMarker(data, m.Marker, m.Payload)
}

// UIDFix rewrites serialVersionUIDs in returned class descriptors using Lookup
type UIDFix struct {
	Lookup jrmp.UIDLookup
}

// HandleData patches ReturnData packets
func (u *UIDFix) HandleData(data []byte) []byte {
	return jrmp.PatchClassDescUIDs(data, u.Lookup)
}

// BindInjection replaces the argument of an outbound registry call with Payload
type BindInjection struct {
	Payload []byte
}

// HandleData rewrites Call packets
func (b *BindInjection) HandleData(data []byte) []byte {
	return jrmp.InjectBindPayload(data, b.Payload)
}
