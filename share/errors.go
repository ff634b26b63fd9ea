package rtshare

import "errors"

var (
	// ErrInvalidPort is returned when a port number falls outside 1..65535
	ErrInvalidPort = errors.New("invalid TCP port number")

	// ErrProxyAlreadyStarted is returned by Start on a proxy that is listening or still has sessions
	ErrProxyAlreadyStarted = errors.New("proxy already started")

	// ErrProxyStartup is returned when a proxy fails to bind its listening socket
	ErrProxyStartup = errors.New("proxy startup failed")

	// ErrProxyNotStarted is returned when listener details are requested from an idle proxy
	ErrProxyNotStarted = errors.New("proxy not started")

	// ErrInvalidReplyData marks a ReplyData buffer that could not be decoded
	ErrInvalidReplyData = errors.New("invalid ReplyData packet")

	// ErrPayloadGeneration is returned when a payload composer cannot build its bytes
	ErrPayloadGeneration = errors.New("payload generation failed")
)
