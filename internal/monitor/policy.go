package monitor

// FailurePolicy decides what the monitor assumes when a status check fails for a reason other
// than rate limiting.
type FailurePolicy int

const (
	// FailOpen assumes no conflict and lets playback continue.
	FailOpen FailurePolicy = iota
	// FailClosed assumes a conflict and pauses playback, without showing a conflict notice.
	FailClosed
)

// DefaultFailurePolicy is the policy every monitor uses unless configured otherwise.
const DefaultFailurePolicy = FailOpen

func (p FailurePolicy) String() string {
	switch p {
	case FailOpen:
		return "fail_open"
	case FailClosed:
		return "fail_closed"
	default:
		return "unknown"
	}
}
