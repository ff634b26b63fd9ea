package rtnet

import (
	"encoding/hex"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/jpillora/sizestr"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/sammck-go/rmitap/pkg/jrmp"
	rtshare "github.com/sammck-go/rmitap/share"
)

// relayBufferSize is the largest chunk handed to a transform at once
const relayBufferSize = 8192

// RelayPump copies one direction of a session: it reads from src, passes each chunk
// through its Transform and writes the result to dst. A pump owns both conns and
// closes them exactly once when it shuts down.
type RelayPump struct {
	rtshare.ShutdownHelper
	name      string
	src       net.Conn
	dst       net.Conn
	transform Transform
	opts      *rtshare.Options

	started  atomic.Bool
	loopDone chan struct{}

	bytesIn  atomic.Int64
	bytesOut atomic.Int64
}

// NewRelayPump creates a pump; call Start to begin relaying
func NewRelayPump(logger rtshare.Logger, opts *rtshare.Options, name string, src, dst net.Conn, transform Transform) *RelayPump {
	if transform == nil {
		transform = PassThrough{}
	}
	p := &RelayPump{
		name:      name,
		src:       src,
		dst:       dst,
		transform: transform,
		opts:      opts,
		loopDone:  make(chan struct{}),
	}
	p.InitShutdownHelper(logger.Fork("%s", name), p)
	return p
}

func (p *RelayPump) String() string {
	return p.name
}

// Transform returns the pump's transform
func (p *RelayPump) Transform() Transform {
	return p.transform
}

// Start launches the relay loop. Only the first call has any effect.
func (p *RelayPump) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	go p.relayLoop()
}

// LoopDoneChan is closed when the relay loop has exited, whether because of EOF,
// an error or shutdown
func (p *RelayPump) LoopDoneChan() <-chan struct{} {
	return p.loopDone
}

// BytesRelayed returns the number of bytes read from src and written to dst so far
func (p *RelayPump) BytesRelayed() (in, out int64) {
	return p.bytesIn.Load(), p.bytesOut.Load()
}

func (p *RelayPump) relayLoop() {
	defer close(p.loopDone)
	buf := make([]byte, relayBufferSize)
	first := true
	for !p.IsScheduledShutdown() {
		p.src.SetReadDeadline(time.Now().Add(p.opts.SocketTimeout))
		n, err := p.src.Read(buf)
		if n > 0 {
			p.bytesIn.Add(int64(n))
			if first && jrmp.IsJRMIHandshake(buf[:n]) {
				p.DLogf("JRMI handshake, %s", jrmp.HandshakeProtocolName(buf[6]))
			}
			first = false
			if p.GetLogLevel() >= rtshare.LogLevelTrace {
				p.TLogf("read %d bytes\n%s", n, hex.Dump(buf[:n]))
			}
			out := p.transform.HandleData(buf[:n])
			if len(out) > 0 {
				p.dst.SetWriteDeadline(time.Now().Add(p.opts.SocketTimeout))
				written, werr := p.dst.Write(out)
				p.bytesOut.Add(int64(written))
				if werr != nil {
					p.handleIOError("write", werr)
					return
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.DLogf("end of stream")
				if _, cerr := rtshare.CloseWriteIfPossible(p.dst); cerr != nil && !isExpectedNetError(cerr) {
					p.DLogf("CloseWrite failed, ignoring: %s", cerr)
				}
				return
			}
			p.handleIOError("read", err)
			return
		}
	}
}

// handleIOError reports unexpected errors and starts the pump's own shutdown,
// which closes both conns and so ends the sibling pump too
func (p *RelayPump) handleIOError(op string, err error) {
	if p.IsScheduledShutdown() {
		return
	}
	if isExpectedNetError(err) {
		p.DLogf("%s ended: %s", op, err)
	} else {
		p.WLogf("%s failed: %s", op, err)
	}
	p.StartShutdown(err)
}

// HandleOnceShutdown gives the relay loop up to PumpJoinTimeout to finish unless the
// shutdown is forced, then closes both conns and runs the transform's shutdown hook.
func (p *RelayPump) HandleOnceShutdown(completionErr error) error {
	forced := p.IsForcedShutdown()
	if p.started.Load() && !forced {
		timer := time.NewTimer(p.opts.PumpJoinTimeout)
		select {
		case <-p.loopDone:
		case <-timer.C:
			p.DLogf("relay loop did not finish within %s, closing", p.opts.PumpJoinTimeout)
		case <-p.ShutdownForcedChan():
			forced = true
		}
		timer.Stop()
	}
	if err := multierr.Combine(closeConn(p.src), closeConn(p.dst)); err != nil {
		p.DLogf("close failed, ignoring: %s", err)
	}
	if p.started.Load() {
		<-p.loopDone
	}
	if hook, ok := p.transform.(ShutdownHook); ok {
		hook.HandleShutdown(forced || p.IsForcedShutdown())
	}
	in, out := p.BytesRelayed()
	p.DLogf("closed (read %s, wrote %s)", sizestr.ToString(in), sizestr.ToString(out))
	if isExpectedNetError(completionErr) {
		completionErr = nil
	}
	return completionErr
}

func closeConn(c net.Conn) error {
	if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// isExpectedNetError is true for the errors a relay sees when a peer goes away,
// a socket is closed under it or an idle read times out
func isExpectedNetError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
