// Package duplex provides a dual-channel event bus: events dispatch
// synchronously among in-process subscribers on the local channel, and
// relay to a remote peer over a persistent, auto-reconnecting websocket
// connection on the remote channel.
//
// Architecture:
//   - Both channels share one registry shape: an ordered multimap from
//     canonical identifier to (callback, context) entries
//   - Identifiers are normalized (dash-separated to camelCase) on every
//     attach, detach and emit, so producers and consumers agree on keys
//     regardless of spelling
//   - Emit is local-first: the remote channel only sees events no local
//     handler consumed
//   - The remote channel never blocks an emitter: envelopes are queued and
//     drained by a periodic flush, which dials the peer on demand
//
// Basic example:
//
//	bus, err := duplex.New(
//	    duplex.WithHost("game.example.com"),
//	    duplex.WithPort(9443),
//	    duplex.WithSecure(true),
//	    duplex.WithEndpoint("live"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer bus.Close(ctx)
//
//	// Local subscriber: handled in-process, never sent to the peer.
//	bus.On(duplex.Local, "player-joined", func(ctx context.Context, sub any, args ...any) error {
//	    fmt.Println("player joined:", args)
//	    return nil
//	})
//
//	// Remote subscriber: receives the full inbound envelope.
//	bus.On(duplex.Remote, "new-score", func(ctx context.Context, sub any, args ...any) error {
//	    envelope := args[0].(map[string]any)
//	    fmt.Println("score:", envelope["value"])
//	    return nil
//	})
//
//	// Local-first dispatch: this one stays in-process.
//	bus.Emit(ctx, "player-joined", "p1")
//
//	// No local handler: serialized and queued for the peer.
//	bus.Emit(ctx, "set-name", map[string]any{"name": "p1"})
//
// Bus Options:
//   - WithSecure, WithHost, WithPort, WithEndpoint, WithProtocol: peer URL.
//   - WithIdentifierField: envelope key used for routing. Default "identifier".
//   - WithCamelCase: identifier normalization. Default is true.
//   - WithOpenHandler, WithErrorHandler, WithCloseHandler: connection hooks.
//   - WithFlushInterval: outbound flush period. Default is 250ms.
//   - WithReconnectLimit: token bucket over connection attempts.
//   - WithCodec: envelope codec (JSON default, MessagePack available).
//   - WithDialer: custom dialer. Tests inject a fake transport here.
//   - WithTracing, WithMetrics: OpenTelemetry instrumentation. Default is true.
//   - WithLogger: set logger for the bus.
//
// Delivery is best effort. The bus guarantees ordering within a channel
// (attachment order for handlers, FIFO enqueue order for outbound
// envelopes) but not delivery, not ordering across reconnects, and not
// exactly-once semantics.
package duplex
