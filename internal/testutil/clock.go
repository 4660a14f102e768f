package testutil

import (
	"time"

	"github.com/juju/clock/testclock"
)

// Epoch is the fixed starting instant of every test clock.
//
// Golden files depend on it: ledger timestamps are derived from the clock,
// so changing Epoch changes every feed cursor in testdata.
var Epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// NewClock returns a manually advanced clock starting at Epoch.
func NewClock() *testclock.Clock {
	return testclock.NewClock(Epoch)
}

// Timestamp renders t the way clients write createdAt.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
