package hwbackend

import (
	"github.com/thatsimonsguy/hydronic-controller/internal/timekeep"
)

// RelayCore implements the request/commit discipline shared by all relay
// backends: SetState records a request, Commit applies it once the
// per-request change delay since the last committed flip has elapsed.
// State always answers with the committed value.
type RelayCore struct {
	Name string

	committed  bool
	requested  bool
	delay      timekeep.Ticks
	lastChange timekeep.Ticks
	forced     bool // first commit applies unconditionally
}

// Request records the desired state and its minimum-state-time guard.
func (c *RelayCore) Request(on bool, changeDelay timekeep.Ticks) {
	c.requested = on
	c.delay = changeDelay
}

// State reports the committed state.
func (c *RelayCore) State() bool {
	return c.committed
}

// Requested reports the pending request.
func (c *RelayCore) Requested() bool {
	return c.requested
}

// Commit resolves the pending request at instant now. It returns whether
// the hardware must change and the state to drive. The caller flips the
// physical relay first and confirms with Applied.
func (c *RelayCore) Commit(now timekeep.Ticks) (change bool, on bool) {
	if c.requested == c.committed {
		return false, c.committed
	}
	if !c.forced && now-c.lastChange < c.delay {
		return false, c.committed
	}
	return true, c.requested
}

// Applied records a successful hardware change at instant now.
func (c *RelayCore) Applied(now timekeep.Ticks) {
	c.committed = c.requested
	c.lastChange = now
	c.forced = false
}

// Arm resets the core at online time: the committed state is presumed off
// and the first commit is exempt from the change delay, so the plant can
// drive a known state immediately.
func (c *RelayCore) Arm() {
	c.committed = false
	c.requested = false
	c.forced = true
	c.lastChange = 0
}
