package transport

import "errors"

var (
	// ErrConnectionFailed indicates the transport could not reach its
	// backing channel.
	ErrConnectionFailed = errors.New("transport: connection failed")

	// ErrNotConnected indicates an operation on a transport that is not
	// currently connected.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrTransportTimeout indicates a send did not complete within its
	// deadline. Recoverable; the retry policy belongs to the caller.
	ErrTransportTimeout = errors.New("transport: send timeout")

	// ErrSendFailed indicates a send failed for a reason other than a
	// timeout.
	ErrSendFailed = errors.New("transport: send failed")

	// ErrSendUnsupported indicates a receive-only transport was asked to
	// send.
	ErrSendUnsupported = errors.New("transport: send not supported")

	// ErrProtocolDesync indicates the framed stream is corrupted and the
	// connection must be re-established.
	ErrProtocolDesync = errors.New("transport: protocol desync")
)
