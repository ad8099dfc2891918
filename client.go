package throw

import (
	"context"
	"fmt"
	"net"

	"github.com/pkg/errors"
)

// Client is the dialing side of the protocol: it sends one request and
// waits for its response before the next one may be sent.
type Client[Req, Resp Element] struct {
	node *Node
}

// Dial connects to a Manager listening on address.
func Dial[Req, Resp Element](ctx context.Context, address string, opt ...Option) (*Client[Req, Resp], error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errors.WithMessagef(err, "dial %s", address)
	}
	return NewClient[Req, Resp](conn, opt...), nil
}

// NewClient wraps an established connection.
func NewClient[Req, Resp Element](conn net.Conn, opt ...Option) *Client[Req, Resp] {
	return &Client[Req, Resp]{node: NewNode(conn, opt...)}
}

// Node returns the underlying transport.
func (c *Client[Req, Resp]) Node() *Node {
	return c.node
}

// Close closes the connection.
func (c *Client[Req, Resp]) Close() error {
	return c.node.Close()
}

// Send performs one round trip. If ctx is done before the response
// arrives the connection is closed and the context error is returned.
func (c *Client[Req, Resp]) Send(ctx context.Context, msg Message[Req]) (Message[Resp], error) {
	return RoundTrip[Req, Resp](ctx, c.node, msg)
}

// Request builds a message from the given shape and sends it.
func (c *Client[Req, Resp]) Request(ctx context.Context, command string, width, height, depth int, data []Req) (Message[Resp], error) {
	return c.Send(ctx, NewMessage(command, width, height, depth, data))
}

// RoundTrip sends msg on node and reads the response. The context is bound
// to the connection for the duration of the exchange.
func RoundTrip[Req, Resp Element](ctx context.Context, node *Node, msg Message[Req]) (Message[Resp], error) {
	stop := context.AfterFunc(ctx, func() {
		_ = node.Close()
	})
	defer stop()

	if err := SendMessage(node, msg); err != nil {
		return Message[Resp]{}, contextError(ctx, err)
	}
	response, err := ReceiveMessage[Resp](node)
	if err != nil {
		return Message[Resp]{}, contextError(ctx, err)
	}
	return response, nil
}

// contextError joins the context error to err when the context caused it.
// Both stay matchable with errors.Is.
func contextError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}
