package rtshare

import "net"

// WriteHalfCloser is implemented by bidirectional streams that can signal
// end-of-stream to the peer while still reading (net.TCPConn, net.UnixConn).
type WriteHalfCloser interface {
	CloseWrite() error
}

// CloseWriteIfPossible half-closes conn when it supports it. It reports
// whether a half-close was performed.
func CloseWriteIfPossible(conn net.Conn) (bool, error) {
	hc, ok := conn.(WriteHalfCloser)
	if !ok {
		return false, nil
	}
	return true, hc.CloseWrite()
}
