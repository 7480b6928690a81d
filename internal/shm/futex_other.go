//go:build !linux

package shm

import (
	"sync/atomic"

	"code.hybscloud.com/iox"
)

// futexWait polls with adaptive backoff until *addr no longer equals val.
func futexWait(addr *uint32, val uint32) error {
	var bo iox.Backoff
	for atomic.LoadUint32(addr) == val {
		bo.Wait()
	}
	return nil
}

// futexWake is a no-op; pollers observe the changed word themselves.
func futexWake(addr *uint32, n int) error {
	return nil
}
