package duplex

// HandlerSpec is one declared handler of a subscriber, in any of the three
// declaration shapes a host framework supports: a bare local callback
// (use LocalHandler), or a spec with either or both channel callbacks set.
//
// Host frameworks drive these from their lifecycle hooks: Register every
// declared handler when a subscriber is created, Unregister them when it
// is destroyed.
type HandlerSpec struct {
	Local  Handler
	Remote Handler
}

// LocalHandler wraps a bare callback as a local-only declaration.
func LocalHandler(fn Handler) HandlerSpec {
	return HandlerSpec{Local: fn}
}

// Register attaches the declared callbacks to their channels. Unset
// channels are skipped.
func (b *Bus) Register(id string, spec HandlerSpec, opts ...SubscribeOption) {
	if spec.Local != nil {
		b.On(Local, id, spec.Local, opts...)
	}
	if spec.Remote != nil {
		b.On(Remote, id, spec.Remote, opts...)
	}
}

// Unregister detaches the declared callbacks from their channels.
// Idempotent, like every detach.
func (b *Bus) Unregister(id string, spec HandlerSpec) {
	if spec.Local != nil {
		b.local.RemoveCallback(id, spec.Local)
	}
	if spec.Remote != nil {
		b.engine.RemoveCallback(id, spec.Remote)
	}
}
