package relay

import (
	"errors"
	"fmt"
)

var (
	ErrFrameTooLarge               = errors.New("frame exceeds maximum message size")
	ErrUnexpectedContinuation      = errors.New("continuation fragment without message in progress")
	ErrNotConnected                = errors.New("relay not connected")
	ErrPersistentConnectionFailure = errors.New("relay reconnect attempts exhausted")
	ErrMalformedMessage            = errors.New("malformed relay message")
)

// TransportError wraps a dial, write or read failure on the relay socket.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("relay %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
