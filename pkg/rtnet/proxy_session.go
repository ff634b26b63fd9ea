package rtnet

import (
	"net"

	"github.com/google/uuid"

	rtshare "github.com/sammck-go/rmitap/share"
)

// ProxySession relays one accepted client connection to its target through two
// pumps: outbound (client to target) and inbound (target to client).
type ProxySession struct {
	rtshare.ShutdownHelper
	id       string
	outbound *RelayPump
	inbound  *RelayPump
}

// NewProxySession creates a session over an accepted client conn and a dialed target
// conn. Ownership of both conns passes to the session.
func NewProxySession(
	logger rtshare.Logger,
	opts *rtshare.Options,
	client net.Conn,
	target net.Conn,
	outbound Transform,
	inbound Transform,
) *ProxySession {
	id := uuid.NewString()[:8]
	s := &ProxySession{id: id}
	s.InitShutdownHelper(logger.Fork("session %s", id), s)
	s.outbound = NewRelayPump(s.Logger, opts, "outbound", client, target, outbound)
	s.inbound = NewRelayPump(s.Logger, opts, "inbound", target, client, inbound)
	return s
}

func (s *ProxySession) String() string {
	return "session " + s.id
}

// ID returns a short random identifier used in log output
func (s *ProxySession) ID() string {
	return s.id
}

// Outbound returns the client-to-target pump
func (s *ProxySession) Outbound() *RelayPump {
	return s.outbound
}

// Inbound returns the target-to-client pump
func (s *ProxySession) Inbound() *RelayPump {
	return s.inbound
}

// Start starts both pumps. The session shuts itself down once both relay loops
// have ended.
func (s *ProxySession) Start() {
	s.outbound.Start()
	s.inbound.Start()
	go func() {
		<-s.outbound.LoopDoneChan()
		<-s.inbound.LoopDoneChan()
		s.StartShutdown(nil)
	}()
}

// HandleOnceShutdown shuts down both pumps with the session's force flag
func (s *ProxySession) HandleOnceShutdown(completionErr error) error {
	s.AddShutdownChild(s.outbound)
	s.AddShutdownChild(s.inbound)
	return completionErr
}
