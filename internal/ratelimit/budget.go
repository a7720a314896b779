package ratelimit

import (
	"fmt"
	"time"
)

// ControlAllowance is the number of non-periodic calls (start, complete, heartbeat stop, one retry)
// a single user may issue inside any window on top of the periodic traffic.
const ControlAllowance = 4

// RequiredBudget returns the worst-case number of requests one user's well-behaved clients issue
// inside any window: a web monitor and a desktop monitor polling every poll interval, a desktop
// heartbeat every heartbeat interval, and ControlAllowance.
func RequiredBudget(window, poll, heartbeat time.Duration) int {
	return 2*perWindow(window, poll) + perWindow(window, heartbeat) + ControlAllowance
}

// perWindow counts periodic calls that can land in one window, including one for phase alignment.
func perWindow(window, interval time.Duration) int {
	if interval <= 0 || window <= 0 {
		return 0
	}
	n := int(window / interval)
	if window%interval != 0 {
		n++
	}
	return n + 1
}

// CheckBudget returns an error when limit is below RequiredBudget.
func CheckBudget(limit int, window, poll, heartbeat time.Duration) error {
	need := RequiredBudget(window, poll, heartbeat)
	if limit < need {
		return fmt.Errorf("ratelimit: limit %d per %s is below the client budget %d (poll %s, heartbeat %s)",
			limit, window, need, poll, heartbeat)
	}
	return nil
}
