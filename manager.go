package throw

import (
	"context"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ActiveCallback computes the response to an inbound message. Returning an
// error tears the connection down without sending a response.
type ActiveCallback[Req, Resp Element] func(Message[Req]) (Message[Resp], error)

// PassiveCallback observes every inbound message. Returning an error tears
// the connection down.
type PassiveCallback[Req Element] func(Message[Req]) error

// State is the connection state of a Manager.
type State int

const (
	// StateIdle means Serve has not been called yet.
	StateIdle State = iota
	// StateAccepting means the manager is waiting for a peer.
	StateAccepting
	// StateConnected means a peer is being served.
	StateConnected
	// StateStopped means the manager has shut down.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccepting:
		return "accepting"
	case StateConnected:
		return "connected"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// managerOptions holds the configuration for a Manager.
type managerOptions struct {
	logger       Logger
	pollInterval time.Duration
	nodeOpts     []Option
	onDisconnect func(error)
}

// ManagerOption configures a Manager.
type ManagerOption func(*managerOptions)

// ManagerLoggerOption sets the logger for the manager and, unless
// overridden with NodeOptions, for the nodes it creates.
func ManagerLoggerOption(logger Logger) ManagerOption {
	return func(o *managerOptions) {
		o.logger = logger
	}
}

// PollIntervalOption sets how long the accept loop waits before checking
// again whether the active connection is gone.
func PollIntervalOption(interval time.Duration) ManagerOption {
	return func(o *managerOptions) {
		o.pollInterval = interval
	}
}

// NodeOptions sets the options applied to every accepted connection.
func NodeOptions(opt ...Option) ManagerOption {
	return func(o *managerOptions) {
		o.nodeOpts = append(o.nodeOpts, opt...)
	}
}

// OnDisconnectOption sets a callback invoked with the cause every time a
// connection is torn down.
func OnDisconnectOption(cb func(error)) ManagerOption {
	return func(o *managerOptions) {
		o.onDisconnect = cb
	}
}

// Manager accepts one connection at a time on a TCP listener and answers
// every inbound message through the registered callbacks. Requests carry
// Req elements and responses Resp elements; most endpoints use the same
// type for both.
//
// While a connection is active no other peer is accepted; further peers
// wait in the listen backlog until the active one goes away.
type Manager[Req, Resp Element] struct {
	listener *net.TCPListener
	logger   Logger
	opts     managerOptions

	mu       sync.Mutex
	active   ActiveCallback[Req, Resp]
	passive  []PassiveCallback[Req]
	state    State
	node     *Node
	shutdown bool

	// released is signaled when a connection ends so the accept loop does
	// not wait out the full poll interval.
	released  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewManager binds a listener on addr. A bind failure is returned to the
// caller and not retried.
func NewManager[Req, Resp Element](addr *net.TCPAddr, opts ...ManagerOption) (*Manager[Req, Resp], error) {
	o := managerOptions{pollInterval: DefaultPollInterval}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = defaultLogger()
	}
	if o.pollInterval <= 0 {
		o.pollInterval = DefaultPollInterval
	}
	if o.onDisconnect == nil {
		o.onDisconnect = func(error) {}
	}

	listener, err := net.ListenTCP(addr.Network(), addr)
	if err != nil {
		return nil, errors.WithMessagef(err, "listen on %s", addr)
	}

	return &Manager[Req, Resp]{
		listener: listener,
		logger:   o.logger,
		opts:     o,
		released: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}, nil
}

// SetActiveCallback installs the callback producing responses, replacing
// any previous one. A nil callback restores the empty "void" response.
func (m *Manager[Req, Resp]) SetActiveCallback(cb ActiveCallback[Req, Resp]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = cb
}

// AddPassiveCallback appends a callback notified of every inbound message.
// Passive callbacks run in registration order after the active one.
func (m *Manager[Req, Resp]) AddPassiveCallback(cb PassiveCallback[Req]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passive = append(m.passive, cb)
}

func (m *Manager[Req, Resp]) callbacks() (ActiveCallback[Req, Resp], []PassiveCallback[Req]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, slices.Clone(m.passive)
}

// State returns the current connection state.
func (m *Manager[Req, Resp]) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Addr returns the listener's network address.
func (m *Manager[Req, Resp]) Addr() net.Addr {
	return m.listener.Addr()
}

// Serve runs the accept loop until the context is canceled or Close is
// called. Errors on a connection only end that connection; the loop then
// goes back to accepting. Serve waits for the active connection to wind
// down before returning.
func (m *Manager[Req, Resp]) Serve(ctx context.Context) error {
	m.logger.Info("server started", "addr", m.listener.Addr())

	group, ctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(ctx, func() {
		_ = m.Close()
	})
	defer stop()

	err := m.acceptLoop(ctx, group)
	_ = m.Close()
	_ = group.Wait()

	m.setState(StateStopped)
	m.logger.Info("server stopped", "addr", m.listener.Addr())
	return err
}

// Close stops the manager: the listener and the active connection are
// closed, which unblocks any pending accept or read. Safe to call multiple
// times.
func (m *Manager[Req, Resp]) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.shutdown = true
		node := m.node
		m.mu.Unlock()

		close(m.done)
		err = m.listener.Close()
		if node != nil {
			_ = node.Close()
		}
	})
	return err
}

func (m *Manager[Req, Resp]) isShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown
}

func (m *Manager[Req, Resp]) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

// wait blocks for the poll interval, or less if the connection is released
// or the manager stops. It reports whether the loop should keep going.
func (m *Manager[Req, Resp]) wait(ctx context.Context) bool {
	timer := time.NewTimer(m.opts.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-m.done:
		return false
	case <-m.released:
		return true
	case <-timer.C:
		return true
	}
}

func (m *Manager[Req, Resp]) acceptLoop(ctx context.Context, group *errgroup.Group) error {
	for {
		if m.isShutdown() {
			return ctx.Err()
		}

		if m.State() == StateConnected {
			m.logger.Debug("connection already present", "addr", m.listener.Addr())
			if !m.wait(ctx) {
				return ctx.Err()
			}
			continue
		}

		m.setState(StateAccepting)
		m.logger.Info("waiting for connection", "addr", m.listener.Addr())

		conn, err := m.listener.AcceptTCP()
		if err != nil {
			if m.isShutdown() {
				return ctx.Err()
			}
			m.logger.Error("accept error", errorArgs(err)...)
			if !m.wait(ctx) {
				return ctx.Err()
			}
			continue
		}

		nodeOpts := append([]Option{LoggerOption(m.logger)}, m.opts.nodeOpts...)
		node := NewNode(conn, nodeOpts...)

		m.mu.Lock()
		if m.shutdown {
			m.mu.Unlock()
			_ = node.Close()
			return ctx.Err()
		}
		m.node = node
		m.state = StateConnected
		m.mu.Unlock()

		m.logger.Info("connection established", "addr", node.Addr(), "conn_id", node.ID())
		group.Go(func() error {
			m.connectionLoop(ctx, node)
			return nil
		})
	}
}

// connectionLoop serves node until any step fails, then releases it.
func (m *Manager[Req, Resp]) connectionLoop(ctx context.Context, node *Node) {
	var cause error
	for cause == nil {
		if err := ctx.Err(); err != nil {
			cause = err
			break
		}
		cause = m.exchange(node)
	}
	m.release(node, cause)
}

// exchange performs one full round trip: receive, dispatch, respond.
func (m *Manager[Req, Resp]) exchange(node *Node) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.WithMessagef(ErrCallbackPanic, "%v", r)
		}
	}()

	request, err := ReceiveMessage[Req](node)
	if err != nil {
		return err
	}

	active, passive := m.callbacks()

	response := EmptyMessage[Resp]()
	if active != nil {
		response, err = active(request)
		if err != nil {
			return errors.WithMessage(err, "active callback")
		}
	}

	for _, cb := range passive {
		if err := cb(request); err != nil {
			return errors.WithMessage(err, "passive callback")
		}
	}

	return SendMessage(node, response)
}

// release tears node down and hands control back to the accept loop.
func (m *Manager[Req, Resp]) release(node *Node, cause error) {
	_ = node.Close()

	m.mu.Lock()
	if m.node == node {
		m.node = nil
	}
	if !m.shutdown {
		m.state = StateAccepting
	}
	m.mu.Unlock()

	m.logger.Info("connection closed", append([]any{"addr", node.Addr(), "conn_id", node.ID()}, errorArgs(cause)...)...)
	m.opts.onDisconnect(cause)

	select {
	case m.released <- struct{}{}:
	default:
	}
}
