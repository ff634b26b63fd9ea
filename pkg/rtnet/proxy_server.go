package rtnet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/sync/errgroup"

	rtshare "github.com/sammck-go/rmitap/share"
)

// SessionFactory builds the session for a newly accepted client conn and its
// freshly dialed target conn. It is the only thing that differs between proxy
// configurations; most factories just pick the transform for each direction and
// call ProxyServer.NewSession.
type SessionFactory func(s *ProxyServer, client, target net.Conn) (*ProxySession, error)

// ProxyServer listens on a local port and relays every accepted connection to a
// fixed target. It may be started again after Stop has returned.
type ProxyServer struct {
	rtshare.Logger
	opts       *rtshare.Options
	target     rtshare.Endpoint
	factory    SessionFactory
	listenPort int

	lock     sync.Mutex
	run      *acceptRun
	sessions []*ProxySession
	stats    rtshare.ConnStats
}

func passThroughSession(s *ProxyServer, client, target net.Conn) (*ProxySession, error) {
	return s.NewSession(client, target, PassThrough{}, PassThrough{}), nil
}

// NewProxyServer creates an idle proxy for target. A nil factory relays both
// directions unchanged.
func NewProxyServer(logger rtshare.Logger, opts *rtshare.Options, target rtshare.Endpoint, factory SessionFactory) *ProxyServer {
	if opts == nil {
		opts = rtshare.DefaultOptions()
	}
	if factory == nil {
		factory = passThroughSession
	}
	return &ProxyServer{
		Logger:  logger.Fork("proxy %s", target),
		opts:    opts,
		target:  target,
		factory: factory,
	}
}

func (s *ProxyServer) String() string {
	return "proxy " + s.target.String()
}

// Target returns the endpoint connections are relayed to
func (s *ProxyServer) Target() rtshare.Endpoint {
	return s.target
}

// Options returns the options the proxy was created with
func (s *ProxyServer) Options() *rtshare.Options {
	return s.opts
}

// SetListenPort selects the local port for the next Start. 0 picks an ephemeral port.
func (s *ProxyServer) SetListenPort(port int) {
	s.lock.Lock()
	s.listenPort = port
	s.lock.Unlock()
}

// Start binds the listening socket and starts accepting connections. It returns once
// the accept loop is ready, or with an error wrapping rtshare.ErrProxyStartup if the
// socket could not be bound.
func (s *ProxyServer) Start() error {
	s.lock.Lock()
	if s.run != nil || len(s.sessions) > 0 {
		s.lock.Unlock()
		return s.Errorf("cannot start: %w", rtshare.ErrProxyAlreadyStarted)
	}
	run := newAcceptRun(s, s.listenPort)
	s.run = run
	s.lock.Unlock()

	err := run.DoOnceActivate(run.listen, true)
	if err != nil {
		s.lock.Lock()
		s.run = nil
		s.lock.Unlock()
		return s.ELogErrorf("unable to listen on %s: %s: %w", net.JoinHostPort(s.opts.ListenHost, strconv.Itoa(s.listenPort)), err, rtshare.ErrProxyStartup)
	}
	<-run.ready
	s.DLogf("listening on %s", run.listener.Addr())
	return nil
}

// Stop stops accepting connections and shuts down every session. A graceful stop
// gives the accept loop ServerJoinTimeout to notice, and each pump PumpJoinTimeout to
// finish its current chunk; a forced stop closes everything immediately. Stop is
// idempotent.
func (s *ProxyServer) Stop(force bool) {
	s.lock.Lock()
	run := s.run
	s.lock.Unlock()
	if run != nil {
		run.Shutdown(force, nil)
	}

	s.lock.Lock()
	if s.run == run {
		s.run = nil
	}
	sessions := s.sessions
	s.sessions = nil
	s.lock.Unlock()

	var g errgroup.Group
	for _, sess := range sessions {
		sess := sess
		g.Go(func() error {
			return sess.Shutdown(force, nil)
		})
	}
	if err := g.Wait(); err != nil {
		s.DLogf("session shutdown: %s", err)
	}
	if run != nil || len(sessions) > 0 {
		s.DLogf("stopped (force=%t) %s", force, &s.stats)
	}
}

// ListenEndpoint returns the local address clients should connect to
func (s *ProxyServer) ListenEndpoint() (rtshare.Endpoint, error) {
	s.lock.Lock()
	run := s.run
	s.lock.Unlock()
	if run == nil || !run.IsActivated() {
		return rtshare.Endpoint{}, s.Errorf("no listener: %w", rtshare.ErrProxyNotStarted)
	}
	port := run.listener.Addr().(*net.TCPAddr).Port
	return rtshare.NewEndpoint(s.opts.ListenHost, port)
}

// ListenPort returns the local port clients should connect to
func (s *ProxyServer) ListenPort() (int, error) {
	ep, err := s.ListenEndpoint()
	if err != nil {
		return 0, err
	}
	return ep.Port(), nil
}

// Sessions returns a snapshot of the tracked sessions, oldest first
func (s *ProxyServer) Sessions() []*ProxySession {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]*ProxySession(nil), s.sessions...)
}

// NewSession builds a session with the given transforms, using the server's logger and options
func (s *ProxyServer) NewSession(client, target net.Conn, outbound, inbound Transform) *ProxySession {
	return NewProxySession(s.Logger, s.opts, client, target, outbound, inbound)
}

// takeSoleSession removes and returns the only tracked session, if exactly one is tracked
func (s *ProxyServer) takeSoleSession() *ProxySession {
	s.lock.Lock()
	defer s.lock.Unlock()
	if len(s.sessions) != 1 {
		return nil
	}
	sess := s.sessions[0]
	s.sessions = nil
	return sess
}

// soleSession returns the only tracked session, if exactly one is tracked
func (s *ProxyServer) soleSession() *ProxySession {
	s.lock.Lock()
	defer s.lock.Unlock()
	if len(s.sessions) != 1 {
		return nil
	}
	return s.sessions[0]
}

// serveConn dials the target for an accepted client and starts a session
func (s *ProxyServer) serveConn(ctx context.Context, client net.Conn) {
	target, err := DialTimeout(ctx, s.opts, s.target)
	if err != nil {
		s.WLogf("unable to connect to target for client %s: %s", client.RemoteAddr(), err)
		client.Close()
		return
	}
	sess, err := s.factory(s, client, target)
	if err != nil {
		s.WLogf("unable to create session for client %s: %s", client.RemoteAddr(), err)
		client.Close()
		target.Close()
		return
	}
	s.stats.New()
	s.stats.Open()
	s.lock.Lock()
	s.sessions = append(s.sessions, sess)
	s.lock.Unlock()
	s.DLogf("%s: %s open for client %s", &s.stats, sess, client.RemoteAddr())
	sess.Start()
	go func() {
		<-sess.ShutdownDoneChan()
		s.stats.Close()
	}()
}

// acceptRun is one Start/Stop cycle of a ProxyServer's accept loop
type acceptRun struct {
	rtshare.ShutdownHelper
	srv      *ProxyServer
	port     int
	listener *net.TCPListener
	ctx      context.Context
	cancel   context.CancelFunc
	ready    chan struct{}
	loopDone chan struct{}
}

func newAcceptRun(srv *ProxyServer, port int) *acceptRun {
	ctx, cancel := context.WithCancel(context.Background())
	r := &acceptRun{
		srv:      srv,
		port:     port,
		ctx:      ctx,
		cancel:   cancel,
		ready:    make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	r.InitShutdownHelper(srv.Logger, r)
	return r
}

// listen binds the socket and launches the accept loop; run under DoOnceActivate
func (r *acceptRun) listen() error {
	lc := net.ListenConfig{}
	l, err := lc.Listen(r.ctx, "tcp", net.JoinHostPort(r.srv.opts.ListenHost, strconv.Itoa(r.port)))
	if err != nil {
		return err
	}
	r.listener = l.(*net.TCPListener)
	go r.acceptLoop()
	r.AddShutdownChildChan(r.loopDone)
	return nil
}

func (r *acceptRun) acceptLoop() {
	defer close(r.loopDone)
	close(r.ready)
	b := &backoff.Backoff{Min: 10 * time.Millisecond, Max: time.Second}
	for !r.IsScheduledShutdown() {
		r.listener.SetDeadline(time.Now().Add(r.srv.opts.AcceptTimeout))
		conn, err := r.listener.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if r.IsScheduledShutdown() || errors.Is(err, net.ErrClosed) {
				return
			}
			d := b.Duration()
			r.WLogf("accept failed, retrying in %s: %s", d, err)
			select {
			case <-time.After(d):
			case <-r.ShutdownStartedChan():
				return
			}
			continue
		}
		b.Reset()
		r.srv.serveConn(r.ctx, conn)
	}
}

// HandleOnceShutdown joins the accept loop for up to ServerJoinTimeout unless forced,
// then closes the listener. The run is not done until the loop has exited.
func (r *acceptRun) HandleOnceShutdown(completionErr error) error {
	if r.listener == nil {
		r.cancel()
		return completionErr
	}
	if !r.IsForcedShutdown() {
		timer := time.NewTimer(r.srv.opts.ServerJoinTimeout)
		select {
		case <-r.loopDone:
		case <-timer.C:
		case <-r.ShutdownForcedChan():
		}
		timer.Stop()
	}
	r.cancel()
	if err := r.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		r.DLogf("listener close: %s", err)
	}
	return completionErr
}

// DialTimeout connects to ep using the socket timeout from opts
func DialTimeout(ctx context.Context, opts *rtshare.Options, ep rtshare.Endpoint) (net.Conn, error) {
	dialer := net.Dialer{Timeout: opts.SocketTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", ep.Addr())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", ep, err)
	}
	return conn, nil
}
