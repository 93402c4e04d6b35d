// Package clock re-exports the clock abstraction the coordinator is built
// against, so the rest of the module has one import to depend on instead of
// reaching into k8s.io/utils/clock directly everywhere.
package clock

import (
	"time"

	"k8s.io/utils/clock"
)

// Clock abstracts wall-clock time and single-shot timers. Production code
// uses Real; tests use a fake clock (k8s.io/utils/clock/testing.FakeClock)
// so suppression windows and the deferred-close retry delay can be advanced
// deterministically instead of sleeping.
type Clock = clock.Clock

// Timer is a cancellable, resettable single-shot timer as returned by
// AfterFunc.
type Timer = clock.Timer

// Real is the production clock backed by the time package.
var Real Clock = clock.RealClock{}

// Now is a convenience wrapper for clock.Now(), kept mainly for call sites
// that don't already hold a Clock value.
func Now(c Clock) time.Time {
	if c == nil {
		c = Real
	}
	return c.Now()
}
