package rpc

import "errors"

// Sentinel kinds for RPC errors.
var (
	// ErrTimeout is returned when no response arrives within the call timeout.
	ErrTimeout = errors.New("rpc: call timed out")
	// ErrTableFull is returned when the waiter table is at capacity.
	ErrTableFull = errors.New("rpc: too many calls in flight")
	// ErrNotConnected is returned when there is no live connection.
	ErrNotConnected = errors.New("rpc: not connected")
	// ErrRemote wraps an error reported by the peer.
	ErrRemote = errors.New("rpc: remote error")
	// ErrBadResponse is returned when a response fails validation.
	ErrBadResponse = errors.New("rpc: bad response")
	// ErrUnknownKind is returned for kinds outside the closed set.
	ErrUnknownKind = errors.New("rpc: unknown message kind")
)
