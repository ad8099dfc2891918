package throw

import (
	"time"
)

// Default configuration values.
const (
	// DefaultReceiveTimeout bounds how long a read may block.
	DefaultReceiveTimeout = 5 * time.Second
	// DefaultSendTimeout bounds how long a write may block.
	DefaultSendTimeout = 5 * time.Second
	// DefaultMaxPayloadSize is the largest payload a node accepts (64MB).
	DefaultMaxPayloadSize = 64 * 1024 * 1024
	// DefaultPollInterval is how often the accept loop re-checks while a
	// connection is active.
	DefaultPollInterval = time.Second
)

// options holds the configuration for a node.
type options struct {
	logger Logger

	// onError observes the error that tore a node down.
	onError func(error)

	receiveTimeout time.Duration
	sendTimeout    time.Duration
	maxPayloadSize int
	verifyChecksum bool
}

// Option is a function that configures node options.
type Option func(*options)

// newOptions applies opt over the defaults.
func newOptions(opt ...Option) options {
	opts := options{
		receiveTimeout: DefaultReceiveTimeout,
		sendTimeout:    DefaultSendTimeout,
	}
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)
	return opts
}

// checkOptions fills in values left unset or set to something unusable.
func checkOptions(opts *options) {
	if opts.maxPayloadSize <= 0 {
		opts.maxPayloadSize = DefaultMaxPayloadSize
	}
	if opts.receiveTimeout < 0 {
		opts.receiveTimeout = 0
	}
	if opts.sendTimeout < 0 {
		opts.sendTimeout = 0
	}
	if opts.onError == nil {
		opts.onError = func(error) {}
	}
	if opts.logger == nil {
		opts.logger = defaultLogger()
	}
}

// ReceiveTimeoutOption sets how long a single receive may block before the
// node is torn down. Zero disables the deadline.
func ReceiveTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.receiveTimeout = timeout
	}
}

// SendTimeoutOption sets how long a single send may block. Zero disables
// the deadline.
func SendTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.sendTimeout = timeout
	}
}

// MaxPayloadSizeOption sets the largest payload, in bytes, a node will
// allocate for. Larger declared payloads fail with ErrMessageTooLarge.
func MaxPayloadSizeOption(size int) Option {
	return func(o *options) {
		o.maxPayloadSize = size
	}
}

// VerifyChecksumOption makes the node reject headers whose checksum is not
// the sentinel. Peers that leave the field zeroed become incompatible.
func VerifyChecksumOption(verify bool) Option {
	return func(o *options) {
		o.verifyChecksum = verify
	}
}

// OnErrorOption sets a callback invoked once with the error that closed
// the node.
func OnErrorOption(cb func(error)) Option {
	return func(o *options) {
		o.onError = cb
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
