package rtnet

import (
	"net"

	"go.uber.org/atomic"

	"github.com/sammck-go/rmitap/pkg/jrmp"
	rtshare "github.com/sammck-go/rmitap/share"
)

// NewPortForwarder relays connections unchanged. It listens on the same port
// number as the target, so a local client can be pointed at ListenHost with the
// target's original port.
func NewPortForwarder(logger rtshare.Logger, opts *rtshare.Options, target rtshare.Endpoint) *ProxyServer {
	s := NewProxyServer(logger, opts, target, passThroughSession)
	s.SetListenPort(target.Port())
	return s
}

// NewMethodCallProxy substitutes payload for every occurrence of marker in data sent
// to target. Replies are relayed unchanged.
func NewMethodCallProxy(logger rtshare.Logger, opts *rtshare.Options, target rtshare.Endpoint, payload, marker []byte) *ProxyServer {
	return NewProxyServer(logger, opts, target, func(s *ProxyServer, client, target net.Conn) (*ProxySession, error) {
		out := &MarkerSubstitution{Marker: marker, Payload: payload}
		return s.NewSession(client, target, out, PassThrough{}), nil
	})
}

// NewObjectProxy relays calls to a registry and redirects every remote object reference
// in its replies to a nested method-call proxy carrying payload and marker
func NewObjectProxy(logger rtshare.Logger, opts *rtshare.Options, target rtshare.Endpoint, payload, marker []byte) *ProxyServer {
	return NewProxyServer(logger, opts, target, func(s *ProxyServer, client, target net.Conn) (*ProxySession, error) {
		in := NewObjectRedirect(s.Logger, s.Options(), payload, marker)
		return s.NewSession(client, target, PassThrough{}, in), nil
	})
}

// NewUIDFixingProxy rewrites serialVersionUIDs in returned class descriptors to the
// values known to lookup, so that a local client with mismatched stubs can still
// deserialize the reply
func NewUIDFixingProxy(logger rtshare.Logger, opts *rtshare.Options, target rtshare.Endpoint, lookup jrmp.UIDLookup) *ProxyServer {
	return NewProxyServer(logger, opts, target, func(s *ProxyServer, client, target net.Conn) (*ProxySession, error) {
		return s.NewSession(client, target, PassThrough{}, &UIDFix{Lookup: lookup}), nil
	})
}

// NewBindExploitProxy replaces the object argument of outbound registry calls with payload
func NewBindExploitProxy(logger rtshare.Logger, opts *rtshare.Options, target rtshare.Endpoint, payload []byte) *ProxyServer {
	return NewProxyServer(logger, opts, target, func(s *ProxyServer, client, target net.Conn) (*ProxySession, error) {
		return s.NewSession(client, target, &BindInjection{Payload: payload}, PassThrough{}), nil
	})
}

// ReplyCaptureProxy relays connections to a registry and records the data returned on
// the active session so that it can be decoded. A client library may silently drop an
// idle connection and open a new one; when that happens the old session is retired and
// the reconnect flag is raised so the caller knows to repeat its last request.
type ReplyCaptureProxy struct {
	*ProxyServer
	reconnected atomic.Bool
}

// NewReplyCaptureProxy creates an idle capturing proxy for target
func NewReplyCaptureProxy(logger rtshare.Logger, opts *rtshare.Options, target rtshare.Endpoint) *ReplyCaptureProxy {
	p := &ReplyCaptureProxy{}
	p.ProxyServer = NewProxyServer(logger, opts, target, p.newSession)
	return p
}

func (p *ReplyCaptureProxy) newSession(s *ProxyServer, client, target net.Conn) (*ProxySession, error) {
	if old := s.takeSoleSession(); old != nil {
		s.DLogf("client reconnected, retiring %s", old)
		old.StartShutdown(nil)
		p.reconnected.Store(true)
	}
	return s.NewSession(client, target, PassThrough{}, &ReplyCapture{}), nil
}

// DidReconnect reports whether a reconnect happened since the flag was last reset
func (p *ReplyCaptureProxy) DidReconnect() bool {
	return p.reconnected.Load()
}

// ResetReconnectFlag clears the reconnect flag
func (p *ReplyCaptureProxy) ResetReconnectFlag() {
	p.reconnected.Store(false)
}

func (p *ReplyCaptureProxy) capture() *ReplyCapture {
	sess := p.soleSession()
	if sess == nil {
		return nil
	}
	c, _ := sess.Inbound().Transform().(*ReplyCapture)
	return c
}

// ResetDataBuffer discards the data captured on the active session, if there is exactly one
func (p *ReplyCaptureProxy) ResetDataBuffer() {
	if c := p.capture(); c != nil {
		c.Reset()
	}
}

// DataBuffer returns a copy of the data captured on the active session. ok is false
// unless exactly one session is tracked.
func (p *ReplyCaptureProxy) DataBuffer() (data []byte, ok bool) {
	c := p.capture()
	if c == nil {
		return nil, false
	}
	return c.Bytes(), true
}
