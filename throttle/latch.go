package throttle

import "sync/atomic"

// Latch lets exactly one caller through until it is reset. A stream session
// uses it so a recognized plate is handed off once.
type Latch struct {
	fired atomic.Bool
}

// Fire reports true for the first caller only.
func (l *Latch) Fire() bool {
	return l.fired.CompareAndSwap(false, true)
}

func (l *Latch) Fired() bool {
	return l.fired.Load()
}

func (l *Latch) Reset() {
	l.fired.Store(false)
}
