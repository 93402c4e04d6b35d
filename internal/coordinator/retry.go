package coordinator

import (
	"context"
	"time"
)

// deferredCloseRetryDelay is the fixed delay before retrying a pass that
// reported unfinished closes. Must match spec.md §6 exactly: 30 000 ms.
const deferredCloseRetryDelay = 30 * time.Second

// catchUpEpsilon is added to the suppression deadline so the catch-up pass
// never races the instant suppression is meant to lift. spec.md §6 allows
// the catch-up to fire up to 100ms after until; firing right at until+ε is
// the earliest correct instant.
const catchUpEpsilon = time.Millisecond

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// scheduleDeferredCloseRetry arranges exactly one retry pass 30s after a
// pass reports closesDeferred > 0, independent of coalescing — if a sync
// happens to be in flight when the timer fires, the retry's call to Sync
// just coalesces like any other caller.
func (c *Coordinator) scheduleDeferredCloseRetry() {
	c.clk.AfterFunc(deferredCloseRetryDelay, func() {
		if _, err := c.Sync(context.Background(), nil, SyncOriginUser); err != nil {
			c.log.Warn("coordinator deferred-close retry failed", "error", err)
		}
	})
}

// scheduleCatchUp arranges the single catch-up pass for a suppression
// window: a plain watcher-origin Sync call timed for until+ε. Because it
// re-enters Sync rather than calling the engine directly, an extended
// suppression window (a later SuppressSync call that pushes until further
// out) simply causes this call to be suppressed again and return — the
// catchUpQueued flag it finds already set to true is exactly what stops a
// second catch-up from being queued for that extension, matching spec.md
// §9's policy that at most one catch-up fires per contiguous window.
func (c *Coordinator) scheduleCatchUp(until time.Time) {
	delay := until.Add(catchUpEpsilon).Sub(c.clk.Now())
	if delay < 0 {
		delay = 0
	}
	c.clk.AfterFunc(delay, func() {
		if _, err := c.Sync(context.Background(), nil, SyncOriginWatcher); err != nil {
			c.log.Warn("coordinator catch-up sync failed", "error", err)
		}
	})
}
