package machines

// SelectCase is one branch of a [Select]: a channel send, a channel
// receive, or the default branch. Construct cases with [OnRecv], [OnSend],
// and [OnDefault].
type SelectCase interface {
	// probe attempts the case's channel operation without blocking,
	// reporting whether the case is ready.
	probe() bool
	// invoke runs the case's action.
	invoke()
	// isDefault reports whether this is the default branch.
	isDefault() bool
}

// selectCase is the sole SelectCase implementation.
type selectCase struct {
	probeFunc func() bool
	action    func()
	def       bool
}

func (c *selectCase) probe() bool {
	return c.probeFunc()
}

func (c *selectCase) invoke() {
	if c.action != nil {
		c.action()
	}
}

func (c *selectCase) isDefault() bool {
	return c.def
}

// OnRecv returns a receive case: ready when a value can be received from ch
// without blocking, or when ch is closed and drained (out, if non-nil, is
// then assigned the zero value). The received value is assigned to out
// before action runs. A nil ch panics; out and action may be nil.
func OnRecv[T any](ch *Channel[T], out *T, action func()) SelectCase {
	if ch == nil {
		panic(`machines: nil channel`)
	}
	return &selectCase{
		probeFunc: func() bool {
			v, res := ch.TryRecv()
			if res == RecvEmpty {
				return false
			}
			if out != nil {
				*out = v
			}
			return true
		},
		action: action,
	}
}

// OnSend returns a send case: ready when *v can be delivered to ch without
// blocking the probe; for an unbuffered channel, depositing into the free
// rendezvous cell counts as ready (the matching receive completes later).
// The value is re-read from v at every probe. A send case on a closed
// channel panics, as any send does. A nil ch or v panics; action may be
// nil.
func OnSend[T any](ch *Channel[T], v *T, action func()) SelectCase {
	if ch == nil {
		panic(`machines: nil channel`)
	}
	if v == nil {
		panic(`machines: nil send value`)
	}
	return &selectCase{
		probeFunc: func() bool {
			return ch.TrySend(*v) != SendBusy
		},
		action: action,
	}
}

// OnDefault returns the default branch, run when no other case is ready.
// At most one default case may appear in a Select.
func OnDefault(action func()) SelectCase {
	return &selectCase{
		probeFunc: func() bool { return false },
		action:    action,
		def:       true,
	}
}

// Select evaluates a multi-way choice over channel operations. The
// non-default cases are probed in declared order; the first ready case has
// its action run, and Select returns. If no case is ready and a default
// case is present, the default action runs exactly once and Select returns.
// With no default, Select yields to the scheduler and retries until some
// case becomes ready.
//
// Multiple default cases, or a nil case, are programming errors and panic.
func Select(cases ...SelectCase) {
	var def SelectCase
	for _, c := range cases {
		if c == nil {
			panic(`machines: nil select case`)
		}
		if c.isDefault() {
			if def != nil {
				panic(`machines: multiple default cases`)
			}
			def = c
		}
	}
	var b spinBackoff
	for {
		for _, c := range cases {
			if c.isDefault() {
				continue
			}
			if c.probe() {
				c.invoke()
				return
			}
		}
		if def != nil {
			def.invoke()
			return
		}
		b.wait()
	}
}
