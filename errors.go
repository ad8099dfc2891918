package throw

import (
	"errors"
)

// Errors returned by the header codec.
var (
	// ErrInvalidHeader is returned when a buffer cannot be decoded as a header.
	ErrInvalidHeader = errors.New("invalid header")
	// ErrChecksumMismatch is returned when checksum verification is enabled
	// and a header carries something other than the sentinel.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// ErrShapeMismatch is returned when a message's data does not match the
// shape or element size declared by its header.
var ErrShapeMismatch = errors.New("payload does not match header shape")

// Errors returned by node operations. Every one of them except
// ErrShapeMismatch on send leaves the node closed.
var (
	// ErrConnectionClosed is returned when operating on a closed node.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrPeerClosed is returned when the peer closes the stream before a
	// frame is complete.
	ErrPeerClosed = errors.New("peer closed connection")
	// ErrReceiveTimeout is returned when a read exceeds the receive timeout.
	ErrReceiveTimeout = errors.New("receive timeout")
	// ErrElementSizeMismatch is returned when a header's byte_per_element
	// differs from the size of the element type the receiver expects.
	ErrElementSizeMismatch = errors.New("byte per element mismatch")
	// ErrMessageTooLarge is returned when a header declares a payload above
	// the configured maximum.
	ErrMessageTooLarge = errors.New("message too large")
)

// ErrCallbackPanic is returned when a registered callback panics. The
// connection is torn down exactly as for an I/O error.
var ErrCallbackPanic = errors.New("callback panicked")
