package machines

// TryLocker is the subset of a mutex required by SpinYieldLock. Note that
// [sync.Mutex] satisfies it.
type TryLocker interface {
	TryLock() bool
	Unlock()
}

// SpinYieldLock adapts any try-lock-capable mutex into one whose Lock
// cooperates with the scheduler: acquisition try-locks in a loop, yielding
// the calling routine between attempts rather than blocking the worker
// thread. It satisfies [sync.Locker].
//
// The zero value is not usable; L must be set.
type SpinYieldLock struct {
	L TryLocker
}

// Lock acquires L, yielding to the scheduler on each failed attempt.
func (x *SpinYieldLock) Lock() {
	if x.L == nil {
		panic(`machines: nil locker`)
	}
	for !x.L.TryLock() {
		Yield()
	}
}

// Unlock releases L.
func (x *SpinYieldLock) Unlock() {
	x.L.Unlock()
}
