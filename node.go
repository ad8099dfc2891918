// Package throw implements a small request/response protocol for exchanging
// typed N-dimensional numeric payloads over TCP. Every message is a fixed
// 52-byte header followed by width*height*depth elements.
//
// A Manager accepts one peer at a time and answers each inbound message
// through registered callbacks. A Client dials a Manager and performs
// round trips. Both sides frame messages through a Node.
package throw

import (
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bassosimone/runtimex"
	"github.com/bassosimone/safeconn"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Node owns one stream connection and frames messages over it.
// A Node is not safe for concurrent sends or concurrent receives; Close
// may be called from any goroutine to unblock pending I/O.
type Node struct {
	conn   net.Conn
	id     string
	addr   string
	logger Logger
	opts   options

	closed    atomic.Bool
	closeOnce sync.Once
	errOnce   sync.Once
}

// NewNode wraps conn. TCP connections get Nagle's algorithm disabled, since
// every exchange is a small header followed by a payload and a reply.
func NewNode(conn net.Conn, opt ...Option) *Node {
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	opts := newOptions(opt...)
	return &Node{
		conn:   conn,
		id:     runtimex.PanicOnError1(uuid.NewV7()).String(),
		addr:   safeconn.RemoteAddr(conn),
		logger: opts.logger,
		opts:   opts,
	}
}

// ID returns a unique, time-ordered identifier for this node.
func (n *Node) ID() string {
	return n.id
}

// Addr returns the remote address of the connection.
func (n *Node) Addr() net.Addr {
	return n.conn.RemoteAddr()
}

// Close closes the underlying connection. Safe to call multiple times.
func (n *Node) Close() error {
	var err error
	n.closeOnce.Do(func() {
		n.closed.Store(true)
		err = n.conn.Close()
	})
	return err
}

// IsClosed returns true if the node has been closed.
func (n *Node) IsClosed() bool {
	return n.closed.Load()
}

// fail closes the node and reports err to the error observer once.
func (n *Node) fail(err error) error {
	_ = n.Close()
	n.errOnce.Do(func() {
		n.logger.Debug("node failed", append([]any{"addr", n.addr, "conn_id", n.id}, errorArgs(err)...)...)
		n.opts.onError(err)
	})
	return err
}

// SendBytes writes the whole buffer, looping over short writes.
func (n *Node) SendBytes(buf []byte) error {
	if n.closed.Load() {
		return ErrConnectionClosed
	}

	if n.opts.sendTimeout > 0 {
		_ = n.conn.SetWriteDeadline(time.Now().Add(n.opts.sendTimeout))
	} else {
		_ = n.conn.SetWriteDeadline(time.Time{})
	}

	written := 0
	for written < len(buf) {
		count, err := n.conn.Write(buf[written:])
		written += count
		if err != nil {
			return n.fail(n.wrapIOError(err, "send", written, len(buf)))
		}
		if count == 0 {
			return n.fail(errors.WithMessagef(io.ErrShortWrite, "send: wrote %d of %d bytes", written, len(buf)))
		}
	}
	return nil
}

// ReceiveBytes reads exactly size bytes. The stream has no resync point,
// so any failure closes the node.
func (n *Node) ReceiveBytes(size int) ([]byte, error) {
	if n.closed.Load() {
		return nil, ErrConnectionClosed
	}
	if size < 0 {
		return nil, n.fail(errors.WithMessagef(ErrInvalidHeader, "negative receive size %d", size))
	}
	if size > HeaderSize && size > n.opts.maxPayloadSize {
		return nil, n.fail(errors.WithMessagef(ErrMessageTooLarge, "%d bytes exceeds %d", size, n.opts.maxPayloadSize))
	}

	buf := make([]byte, size)
	if size == 0 {
		return buf, nil
	}

	if n.opts.receiveTimeout > 0 {
		_ = n.conn.SetReadDeadline(time.Now().Add(n.opts.receiveTimeout))
	} else {
		_ = n.conn.SetReadDeadline(time.Time{})
	}

	count, err := io.ReadFull(n.conn, buf)
	if err != nil {
		return nil, n.fail(n.wrapIOError(err, "receive", count, size))
	}
	return buf, nil
}

// wrapIOError maps a transport error onto the package sentinels. The
// original cause stays in the chain for errors.Is and classification.
func (n *Node) wrapIOError(err error, op string, done, total int) error {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%s: got %d of %d bytes: %w: %w", op, done, total, ErrPeerClosed, err)
	case errors.As(err, &netErr) && netErr.Timeout() && op == "receive":
		return fmt.Errorf("%s: got %d of %d bytes: %w: %w", op, done, total, ErrReceiveTimeout, err)
	case errors.Is(err, net.ErrClosed) && n.closed.Load():
		return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	default:
		return errors.WithMessagef(err, "%s: %d of %d bytes", op, done, total)
	}
}

// SendHeader writes the encoded header.
func (n *Node) SendHeader(h Header) error {
	buf := EncodeHeader(h)
	return n.SendBytes(buf[:])
}

// ReceiveHeader reads and decodes one header.
func (n *Node) ReceiveHeader() (Header, error) {
	raw, err := n.ReceiveBytes(HeaderSize)
	if err != nil {
		return Header{}, err
	}
	h, err := DecodeHeader(raw)
	if err != nil {
		return Header{}, n.fail(err)
	}
	if err := h.validate(); err != nil {
		return Header{}, n.fail(err)
	}
	if n.opts.verifyChecksum && h.Checksum != Checksum {
		return Header{}, n.fail(errors.WithMessagef(ErrChecksumMismatch, "got %d, want %d", h.Checksum, Checksum))
	}
	return h, nil
}

// SendPayloadData writes data as little-endian elements.
func SendPayloadData[T Element](n *Node, data []T) error {
	raw, err := EncodePayload(data)
	if err != nil {
		return err
	}
	return n.SendBytes(raw)
}

// ReceivePayloadData reads the payload announced by h as a slice of T.
// A header whose byte_per_element does not match T fails before any
// payload byte is read.
func ReceivePayloadData[T Element](n *Node, h Header) ([]T, error) {
	if h.Elements() > 0 && int(h.BytePerElement) != ElementSize[T]() {
		return nil, n.fail(errors.WithMessagef(ErrElementSizeMismatch,
			"%s: expected %d bytes per element", h, ElementSize[T]()))
	}
	if h.exceeds(n.opts.maxPayloadSize) {
		return nil, n.fail(errors.WithMessagef(ErrMessageTooLarge, "%s exceeds %d bytes", h, n.opts.maxPayloadSize))
	}
	raw, err := n.ReceiveBytes(h.PayloadSize())
	if err != nil {
		return nil, err
	}
	data, err := DecodePayload[T](raw)
	if err != nil {
		return nil, n.fail(err)
	}
	return data, nil
}

// SendMessage writes the message header followed by its payload. A message
// whose data does not match its header is rejected before anything is
// written, and the node stays usable.
func SendMessage[T Element](n *Node, msg Message[T]) error {
	if err := msg.checkShape(); err != nil {
		return err
	}
	if err := n.SendHeader(msg.Header); err != nil {
		return err
	}
	return SendPayloadData(n, msg.Data)
}

// ReceiveMessage reads one header and its payload.
func ReceiveMessage[T Element](n *Node) (Message[T], error) {
	h, err := n.ReceiveHeader()
	if err != nil {
		return Message[T]{}, err
	}
	data, err := ReceivePayloadData[T](n, h)
	if err != nil {
		return Message[T]{}, err
	}
	n.logger.Debug("message received", "addr", n.addr, "conn_id", n.id, "command", h.Command, "bytes", h.PayloadSize())
	return Message[T]{Header: h, Data: data}, nil
}
