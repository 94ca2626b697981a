package machines

import (
	"sync"
	"sync/atomic"
	"time"
)

// Channel state flags.
const (
	// chanWriterBlocking indicates some sender is currently attempting
	// progress via a blocking send.
	chanWriterBlocking uint32 = 1 << iota
	// chanReaderBlocking indicates some receiver is currently attempting
	// progress via a blocking receive.
	chanReaderBlocking
	// chanWriteComplete indicates the rendezvous cell holds a value
	// awaiting consumption.
	chanWriteComplete
	// chanClosed is terminal: once set it is never cleared; sends panic,
	// receives drain remaining data then report end-of-channel.
	chanClosed
)

// TrySendResult is the outcome of a non-blocking send.
type TrySendResult uint8

const (
	// SendBusy means no progress was possible; the caller decides whether
	// to retry or back off.
	SendBusy TrySendResult = iota
	// SendOK means the value was appended to the channel's buffer.
	SendOK
	// SendRendezvous means the value was deposited in the rendezvous cell;
	// a blocking sender must park until it is consumed.
	SendRendezvous
)

// String returns a human-readable representation of the result.
func (r TrySendResult) String() string {
	switch r {
	case SendBusy:
		return "busy"
	case SendOK:
		return "ok"
	case SendRendezvous:
		return "rendezvous"
	default:
		return "unknown"
	}
}

// TryRecvResult is the outcome of a non-blocking receive.
type TryRecvResult uint8

const (
	// RecvEmpty means no value was available.
	RecvEmpty TryRecvResult = iota
	// RecvOK means a value was received.
	RecvOK
	// RecvClosed means the channel is closed and drained: end-of-channel.
	RecvClosed
)

// String returns a human-readable representation of the result.
func (r TryRecvResult) String() string {
	switch r {
	case RecvEmpty:
		return "empty"
	case RecvOK:
		return "ok"
	case RecvClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Channel is a typed FIFO communication port between routines. Capacity
// zero means an unbuffered rendezvous channel: each send pairs with exactly
// one receive, and a blocking sender parks until its value is consumed.
//
// Channels are typically shared by reference between routines; the internal
// mutex is acquired via a spin-yield loop, so contended operations
// cooperate with the scheduler rather than blocking the worker thread.
// Instances must be initialized using the NewChannel factory.
type Channel[T any] struct {
	// Prevent copying
	_ [0]func()

	state atomic.Uint32

	mu sync.Mutex
	// cell is the rendezvous slot; full iff chanWriteComplete is set.
	cell T
	// buf is the FIFO buffer, for capacity > 0.
	buf []T
	// deposits counts rendezvous values deposited; guarded by mu.
	deposits uint64
	// consumed counts rendezvous values consumed; parked senders poll it.
	consumed atomic.Uint64

	capacity int
}

// NewChannel constructs a channel with the given buffer capacity. Capacity
// zero means unbuffered rendezvous. Negative capacity panics.
func NewChannel[T any](capacity int) *Channel[T] {
	if capacity < 0 {
		panic(`machines: negative channel capacity`)
	}
	return &Channel[T]{capacity: capacity}
}

// Cap returns the channel's buffer capacity.
func (c *Channel[T]) Cap() int {
	return c.capacity
}

// Len returns the number of values ready to be received: buffered values,
// plus one if the rendezvous cell is occupied.
func (c *Channel[T]) Len() int {
	lock := SpinYieldLock{L: &c.mu}
	lock.Lock()
	defer lock.Unlock()
	n := len(c.buf)
	if c.state.Load()&chanWriteComplete != 0 {
		n++
	}
	return n
}

// Close marks the channel closed. Closing is terminal and idempotent:
// subsequent sends panic, subsequent receives drain any remaining values
// and then report end-of-channel.
func (c *Channel[T]) Close() {
	c.state.Or(chanClosed)
}

// TrySend attempts a non-blocking send. Sending on a closed channel is a
// programming error and panics. Otherwise: a buffered channel with room
// appends v and returns SendOK; an unbuffered channel with a free
// rendezvous cell deposits v and returns SendRendezvous (the sender's value
// is not yet consumed); in all other cases TrySend returns SendBusy.
func (c *Channel[T]) TrySend(v T) TrySendResult {
	res, _ := c.trySend(v)
	return res
}

// trySend also returns the deposit sequence number for SendRendezvous, so a
// blocking sender can park until exactly its own value has been consumed.
func (c *Channel[T]) trySend(v T) (TrySendResult, uint64) {
	if c.state.Load()&chanClosed != 0 {
		panic(`machines: send on closed channel`)
	}
	lock := SpinYieldLock{L: &c.mu}
	lock.Lock()
	defer lock.Unlock()
	if c.capacity > 0 && len(c.buf) < c.capacity {
		c.buf = append(c.buf, v)
		return SendOK, 0
	}
	if c.capacity == 0 && c.state.Load()&chanWriteComplete == 0 {
		c.cell = v
		c.deposits++
		seq := c.deposits
		c.state.Or(chanWriteComplete)
		return SendRendezvous, seq
	}
	return SendBusy, 0
}

// Send blocks until v has been delivered to the channel: appended to the
// buffer, or - for an unbuffered channel - deposited in the rendezvous cell
// and consumed by a receiver. The calling routine yields to the scheduler
// whenever progress is impossible. Sending on a closed channel panics.
func (c *Channel[T]) Send(v T) {
	c.state.Or(chanWriterBlocking)
	defer c.state.And(^chanWriterBlocking)
	var b spinBackoff
	for {
		res, seq := c.trySend(v)
		switch res {
		case SendOK:
			return
		case SendRendezvous:
			for c.consumed.Load() < seq {
				b.wait()
			}
			return
		}
		b.wait()
	}
}

// TryRecv attempts a non-blocking receive. A non-empty buffer pops its
// head; an occupied rendezvous cell is consumed (releasing the parked
// sender); a closed, drained channel reports RecvClosed with the zero
// value; otherwise RecvEmpty.
func (c *Channel[T]) TryRecv() (T, TryRecvResult) {
	var zero T
	lock := SpinYieldLock{L: &c.mu}
	lock.Lock()
	defer lock.Unlock()
	if len(c.buf) > 0 {
		v := c.buf[0]
		c.buf[0] = zero
		c.buf = c.buf[1:]
		return v, RecvOK
	}
	if c.state.Load()&chanWriteComplete != 0 {
		v := c.cell
		c.cell = zero
		c.state.And(^chanWriteComplete)
		c.consumed.Add(1)
		return v, RecvOK
	}
	if c.state.Load()&chanClosed != 0 {
		return zero, RecvClosed
	}
	return zero, RecvEmpty
}

// Recv blocks until a value is received, returning it with true, or until
// the channel is closed and drained, returning the zero value with false.
// The calling routine yields to the scheduler while the channel is empty.
func (c *Channel[T]) Recv() (T, bool) {
	c.state.Or(chanReaderBlocking)
	defer c.state.And(^chanReaderBlocking)
	var b spinBackoff
	for {
		v, res := c.TryRecv()
		switch res {
		case RecvOK:
			return v, true
		case RecvClosed:
			return v, false
		}
		b.wait()
	}
}

// spinBackoff escalates from pure scheduler yields to short sleeps, so a
// routine that cannot make progress for many consecutive attempts parks its
// worker instead of spinning it. The sleep happens on the routine's own
// goroutine, after yielding, so every other runnable routine on the worker
// has had its turn first.
type spinBackoff struct {
	spins int
}

const (
	backoffSpinThreshold = 8
	backoffSleepMax      = 100 * time.Microsecond
)

func (b *spinBackoff) wait() {
	Yield()
	b.spins++
	if b.spins <= backoffSpinThreshold {
		return
	}
	d := time.Duration(b.spins-backoffSpinThreshold) * time.Microsecond
	if d > backoffSleepMax {
		d = backoffSleepMax
	}
	time.Sleep(d)
}
