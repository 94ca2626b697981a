//go:build linux

package threadid

import (
	"golang.org/x/sys/unix"
)

// Current returns the OS thread id of the calling thread.
func Current() int {
	return unix.Gettid()
}
