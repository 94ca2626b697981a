// Package threadid reports the OS thread id of the calling goroutine's
// thread, for diagnostic use by code that has locked its goroutine to a
// thread (see [runtime.LockOSThread]).
package threadid
