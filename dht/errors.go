package dht

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when no REPLY arrives before the deadline.
	ErrTimeout = errors.New("rpc timeout")

	// ErrNotFound is returned by FindValue once every candidate was asked.
	ErrNotFound = errors.New("value not found")

	ErrClosed = errors.New("network closed")

	// ErrNoContacts means the routing table had nobody to ask.
	ErrNoContacts = errors.New("no contacts available")
)

// TransportError is a failure at the socket layer.
type TransportError struct {
	Op   string
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a datagram that could not be decoded.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return "protocol: " + e.Reason
	}
	return fmt.Sprintf("protocol: %s: %v", e.Reason, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
