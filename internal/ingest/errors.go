package ingest

import (
	"errors"
	"io"

	"golang.org/x/sys/unix"
)

var (
	ErrBind             = errors.New("ingest: bind failed")
	ErrAccept           = errors.New("ingest: accept failed")
	ErrConnectionClosed = errors.New("ingest: connection closed")
	ErrInvalidConfig    = errors.New("ingest: invalid config")
	ErrNoPersister      = errors.New("ingest: no persister configured")
)

// CloseReason labels why a streaming session ended.
type CloseReason string

const (
	ClosePeer            CloseReason = "peer_closed"
	CloseCancelled       CloseReason = "cancelled"
	CloseConnectionReset CloseReason = "connection_reset"
	CloseBrokenPipe      CloseReason = "broken_pipe"
	CloseIOError         CloseReason = "io_error"
)

func IsConnectionReset(err error) bool {
	return errors.Is(err, unix.ECONNRESET) || errors.Is(err, unix.ECONNABORTED)
}

func IsBrokenPipe(err error) bool {
	return errors.Is(err, unix.EPIPE)
}

func classifyReadError(err error) CloseReason {
	switch {
	case errors.Is(err, io.EOF):
		return ClosePeer
	case IsConnectionReset(err):
		return CloseConnectionReset
	case IsBrokenPipe(err):
		return CloseBrokenPipe
	default:
		return CloseIOError
	}
}
