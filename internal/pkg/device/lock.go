package device

import (
	"math"
	"sync/atomic"
)

var lockUnderflows atomic.Uint64

// LockUnderflows returns how many times a release was attempted on a free
// lock since the process started. Anything but zero points at unbalanced
// publish accounting.
func LockUnderflows() uint64 {
	return lockUnderflows.Load()
}

// LockCounter counts the commands a device has published and not yet seen
// echoed back on the bus. It never goes below zero.
type LockCounter struct {
	n uint32
}

// Add records n outbound publishes. It saturates instead of wrapping.
func (l *LockCounter) Add(n int) {
	if n <= 0 {
		return
	}
	if uint64(l.n)+uint64(n) > math.MaxUint32 {
		l.n = math.MaxUint32
		return
	}
	l.n += uint32(n)
}

// Release consumes one pending echo. On a free lock it changes nothing,
// records the anomaly and returns false.
func (l *LockCounter) Release() bool {
	if l.n == 0 {
		lockUnderflows.Add(1)
		return false
	}
	l.n--
	return true
}

func (l *LockCounter) Locked() bool {
	return l.n > 0
}

func (l *LockCounter) Count() int {
	return int(l.n)
}
