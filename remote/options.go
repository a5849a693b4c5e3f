package remote

import (
	"log/slog"
	"time"

	"github.com/duplexbus/duplex/codec"
)

// Defaults for the remote engine configuration.
var (
	// DefaultHost is the peer host dialed when none is configured.
	DefaultHost = "localhost"
	// DefaultPort is the peer port dialed when none is configured.
	DefaultPort = 8080
	// DefaultIdentifierField is the envelope key used for routing.
	DefaultIdentifierField = "identifier"
	// DefaultFlushInterval is the period of the outbound queue flush.
	DefaultFlushInterval = 250 * time.Millisecond
)

// options holds configuration for the engine (unexported)
type options struct {
	secure          bool
	host            string
	port            int
	endpoint        string
	protocol        string
	identifierField string
	camelCase       bool
	flushInterval   time.Duration
	reconnectRate   float64
	reconnectBurst  int
	dialer          Dialer
	codec           codec.Codec
	logger          *slog.Logger
	onOpen          func()
	onError         func(error)
	onClose         func()
	metricsEnabled  bool
	tracingEnabled  bool
}

// Option is a functional option for engine configuration
type Option func(*options)

// WithSecure selects the wss scheme instead of ws
func WithSecure(secure bool) Option {
	return func(o *options) {
		o.secure = secure
	}
}

// WithHost sets the peer host
func WithHost(host string) Option {
	return func(o *options) {
		if host != "" {
			o.host = host
		}
	}
}

// WithPort sets the peer port
func WithPort(port int) Option {
	return func(o *options) {
		if port > 0 {
			o.port = port
		}
	}
}

// WithEndpoint sets the endpoint path appended to the peer URL
func WithEndpoint(endpoint string) Option {
	return func(o *options) {
		o.endpoint = endpoint
	}
}

// WithProtocol sets the websocket sub-protocol offered on dial
func WithProtocol(protocol string) Option {
	return func(o *options) {
		o.protocol = protocol
	}
}

// WithIdentifierField sets the envelope key carrying the event identifier
func WithIdentifierField(field string) Option {
	return func(o *options) {
		if field != "" {
			o.identifierField = field
		}
	}
}

// WithCamelCase enables or disables identifier normalization.
// Enabled by default.
func WithCamelCase(enabled bool) Option {
	return func(o *options) {
		o.camelCase = enabled
	}
}

// WithFlushInterval sets the period of the outbound queue flush
func WithFlushInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.flushInterval = d
		}
	}
}

// WithReconnectLimit caps connection attempts with a token bucket of
// rps attempts per second and the given burst. Zero rps leaves attempts
// unlimited, which preserves the purely reactive reconnect behavior.
func WithReconnectLimit(rps float64, burst int) Option {
	return func(o *options) {
		o.reconnectRate = rps
		o.reconnectBurst = burst
	}
}

// WithDialer sets a custom dialer. Tests inject a fake transport here.
func WithDialer(d Dialer) Option {
	return func(o *options) {
		if d != nil {
			o.dialer = d
		}
	}
}

// WithCodec sets the envelope codec. Default is JSON.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithLogger sets a custom logger for the engine
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithOpenHandler sets the hook invoked when a connection opens
func WithOpenHandler(fn func()) Option {
	return func(o *options) {
		o.onOpen = fn
	}
}

// WithErrorHandler sets the hook invoked on transport errors
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) {
		o.onError = fn
	}
}

// WithCloseHandler sets the hook invoked when a connection closes
func WithCloseHandler(fn func()) Option {
	return func(o *options) {
		o.onClose = fn
	}
}

// WithMetrics enables/disables OpenTelemetry metrics. Default is true.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithTracing enables/disables OpenTelemetry tracing. Default is true.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// newOptions creates options with defaults and applies provided options
func newOptions(opts ...Option) *options {
	o := &options{
		host:            DefaultHost,
		port:            DefaultPort,
		identifierField: DefaultIdentifierField,
		camelCase:       true,
		flushInterval:   DefaultFlushInterval,
		codec:           codec.Default(),
		logger:          slog.Default().With("component", "duplex>remote"),
		metricsEnabled:  true,
		tracingEnabled:  true,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.dialer == nil {
		o.dialer = NewWebSocketDialer()
	}
	return o
}
