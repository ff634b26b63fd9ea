package rtnet

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/prep/socketpair"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sammck-go/rmitap/pkg/jrmp"
	rtshare "github.com/sammck-go/rmitap/share"
)

// testLogger returns a logger whose output is kept in memory. Relay goroutines can
// outlive a test by a few milliseconds, so t.Log based loggers are not safe here.
func testLogger() (rtshare.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return rtshare.NewZapLogger(zap.New(core), "test", rtshare.LogLevelTrace), logs
}

func testOptions() *rtshare.Options {
	opts := rtshare.DefaultOptions()
	opts.SocketTimeout = time.Second
	opts.PumpJoinTimeout = 200 * time.Millisecond
	return opts
}

func connPair(t *testing.T) (net.Conn, net.Conn) {
	a, b, err := socketpair.New("unix")
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

// startEchoServer listens on an ephemeral loopback port and echoes every connection
func startEchoServer(t *testing.T) rtshare.Endpoint {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				io.Copy(c, c)
			}()
		}
	}()
	return rtshare.MustEndpoint("127.0.0.1", l.Addr().(*net.TCPAddr).Port)
}

// closedEndpoint returns a loopback endpoint nothing is listening on
func closedEndpoint(t *testing.T) rtshare.Endpoint {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return rtshare.MustEndpoint("127.0.0.1", port)
}

func dialProxy(t *testing.T, s *ProxyServer) net.Conn {
	ep, err := s.ListenEndpoint()
	require.NoError(t, err)
	c, err := net.DialTimeout("tcp", ep.Addr(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func readN(t *testing.T, c net.Conn, n int) []byte {
	buf := make([]byte, n)
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := io.ReadFull(c, buf)
	require.NoError(t, err)
	return buf
}

// unicastRef encodes a TC_BLOCKDATA holding a UnicastRef to host:port, followed by
// an ObjID and the DGC flag as a live stream would carry it
func unicastRef(host string, port uint32) []byte {
	var body []byte
	body = binary.BigEndian.AppendUint16(body, uint16(len(jrmp.UnicastRefName)))
	body = append(body, jrmp.UnicastRefName...)
	body = binary.BigEndian.AppendUint16(body, uint16(len(host)))
	body = append(body, host...)
	body = binary.BigEndian.AppendUint32(body, port)
	body = append(body, 0, 0, 0, 0, 0, 0, 0, 7, 0, 0, 0, 1, 0)
	return append([]byte{jrmp.TCBlockData, byte(len(body))}, body...)
}
