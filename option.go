package duplex

import (
	"log/slog"
	"time"

	"github.com/duplexbus/duplex/codec"
	"github.com/duplexbus/duplex/remote"
)

// busOptions holds configuration for the bus (unexported)
type busOptions struct {
	camelCase      bool
	logger         *slog.Logger
	metricsEnabled bool
	tracingEnabled bool
	remote         []remote.Option
}

// BusOption is a functional option for bus configuration
type BusOption func(*busOptions)

// WithSecure selects wss instead of ws for the remote connection
func WithSecure(secure bool) BusOption {
	return func(o *busOptions) {
		o.remote = append(o.remote, remote.WithSecure(secure))
	}
}

// WithHost sets the remote peer host. Default is "localhost".
func WithHost(host string) BusOption {
	return func(o *busOptions) {
		o.remote = append(o.remote, remote.WithHost(host))
	}
}

// WithPort sets the remote peer port. Default is 8080.
func WithPort(port int) BusOption {
	return func(o *busOptions) {
		o.remote = append(o.remote, remote.WithPort(port))
	}
}

// WithEndpoint sets the endpoint path of the remote peer URL
func WithEndpoint(endpoint string) BusOption {
	return func(o *busOptions) {
		o.remote = append(o.remote, remote.WithEndpoint(endpoint))
	}
}

// WithProtocol sets the websocket sub-protocol offered on dial
func WithProtocol(protocol string) BusOption {
	return func(o *busOptions) {
		o.remote = append(o.remote, remote.WithProtocol(protocol))
	}
}

// WithIdentifierField sets the envelope key used for routing.
// Default is "identifier".
func WithIdentifierField(field string) BusOption {
	return func(o *busOptions) {
		o.remote = append(o.remote, remote.WithIdentifierField(field))
	}
}

// WithCamelCase enables/disables identifier normalization on both
// channels. Default is true.
func WithCamelCase(enabled bool) BusOption {
	return func(o *busOptions) {
		o.camelCase = enabled
		o.remote = append(o.remote, remote.WithCamelCase(enabled))
	}
}

// WithOpenHandler sets the hook invoked when the remote connection opens
func WithOpenHandler(fn func()) BusOption {
	return func(o *busOptions) {
		o.remote = append(o.remote, remote.WithOpenHandler(fn))
	}
}

// WithErrorHandler sets the hook invoked on remote transport errors
func WithErrorHandler(fn func(error)) BusOption {
	return func(o *busOptions) {
		o.remote = append(o.remote, remote.WithErrorHandler(fn))
	}
}

// WithCloseHandler sets the hook invoked when the remote connection closes
func WithCloseHandler(fn func()) BusOption {
	return func(o *busOptions) {
		o.remote = append(o.remote, remote.WithCloseHandler(fn))
	}
}

// WithFlushInterval sets the period of the remote outbound flush.
// Default is 250ms.
func WithFlushInterval(d time.Duration) BusOption {
	return func(o *busOptions) {
		o.remote = append(o.remote, remote.WithFlushInterval(d))
	}
}

// WithReconnectLimit caps remote connection attempts with a token bucket
func WithReconnectLimit(rps float64, burst int) BusOption {
	return func(o *busOptions) {
		o.remote = append(o.remote, remote.WithReconnectLimit(rps, burst))
	}
}

// WithCodec sets the envelope codec for the remote channel. Default is JSON.
func WithCodec(c codec.Codec) BusOption {
	return func(o *busOptions) {
		o.remote = append(o.remote, remote.WithCodec(c))
	}
}

// WithDialer sets a custom dialer for the remote channel. Tests inject a
// fake transport here.
func WithDialer(d remote.Dialer) BusOption {
	return func(o *busOptions) {
		o.remote = append(o.remote, remote.WithDialer(d))
	}
}

// WithLogger sets a custom logger for the bus and both channels
func WithLogger(l *slog.Logger) BusOption {
	return func(o *busOptions) {
		if l != nil {
			o.logger = l
			o.remote = append(o.remote, remote.WithLogger(l.With("component", "duplex>remote")))
		}
	}
}

// WithMetrics enables/disables OpenTelemetry metrics. Default is true.
func WithMetrics(enabled bool) BusOption {
	return func(o *busOptions) {
		o.metricsEnabled = enabled
		o.remote = append(o.remote, remote.WithMetrics(enabled))
	}
}

// WithTracing enables/disables OpenTelemetry tracing. Default is true.
func WithTracing(enabled bool) BusOption {
	return func(o *busOptions) {
		o.tracingEnabled = enabled
		o.remote = append(o.remote, remote.WithTracing(enabled))
	}
}

// newBusOptions creates options with defaults and applies provided options
func newBusOptions(opts ...BusOption) *busOptions {
	o := &busOptions{
		camelCase:      true,
		logger:         slog.Default().With("component", "duplex"),
		metricsEnabled: true,
		tracingEnabled: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// subscribeOptions holds per-attachment configuration (unexported)
type subscribeOptions struct {
	sub any
}

// SubscribeOption is a functional option for On and Once
type SubscribeOption func(*subscribeOptions)

// WithSubscriberContext sets the opaque value passed back to the handler
// on every invocation. The bus never inspects it; hosts typically store
// the subscriber instance or its correlation ID here.
func WithSubscriberContext(sub any) SubscribeOption {
	return func(o *subscribeOptions) {
		o.sub = sub
	}
}

// newSubscribeOptions applies subscription options
func newSubscribeOptions(opts ...SubscribeOption) *subscribeOptions {
	o := &subscribeOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
