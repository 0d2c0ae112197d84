package monitor

import (
	"context"
	"iter"
	"sync/atomic"
	"time"
)

// Watch returns a lazy, unbounded sequence of tick results. The first tick
// runs when iteration starts and every later tick runs interval after the
// previous one finished. A failed tick never ends the sequence; it stops
// only when ctx is done or the consumer stops ranging.
//
// The sequence is single-use: ranging over it a second time yields nothing.
func (m *Monitor) Watch(ctx context.Context, cfg Config, interval time.Duration) iter.Seq[Result] {
	if interval < 0 {
		interval = 0
	}
	var consumed atomic.Bool

	return func(yield func(Result) bool) {
		if !consumed.CompareAndSwap(false, true) {
			return
		}

		var last time.Time
		for n := uint64(1); ; n++ {
			if ctx.Err() != nil {
				return
			}
			res := m.tick(ctx, cfg, n, last)
			if ctx.Err() != nil {
				// Cancellation mid-tick is a shutdown, not a tick outcome.
				return
			}
			last = res.ObservedAt
			if !yield(res) {
				return
			}
			if err := m.sleep(ctx, interval); err != nil {
				return
			}
		}
	}
}
