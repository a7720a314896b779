package domain

import (
	"errors"
	"strings"
	"time"
)

// DeviceClass identifies the client type holding a lease. It is always declared by the
// trusted client context (the access token), never derived from free-text descriptors.
type DeviceClass string

const (
	DeviceClassWeb     DeviceClass = "web"
	DeviceClassDesktop DeviceClass = "desktop"
)

var (
	// ErrInvalidDeviceClass is returned when a device class is empty or not one of the known values.
	ErrInvalidDeviceClass = errors.New("invalid device class")
	// ErrLeaseNotFound is returned when a lease does not exist or does not belong to the caller.
	ErrLeaseNotFound = errors.New("lease not found")
)

// ParseDeviceClass parses s into a DeviceClass. Matching is exact after trimming and lower-casing;
// substrings are never accepted.
func ParseDeviceClass(s string) (DeviceClass, error) {
	switch DeviceClass(strings.ToLower(strings.TrimSpace(s))) {
	case DeviceClassWeb:
		return DeviceClassWeb, nil
	case DeviceClassDesktop:
		return DeviceClassDesktop, nil
	default:
		return "", ErrInvalidDeviceClass
	}
}

// Valid reports whether c is a known device class.
func (c DeviceClass) Valid() bool {
	return c == DeviceClassWeb || c == DeviceClassDesktop
}

func (c DeviceClass) String() string { return string(c) }

// Lease represents one playback attempt by a user on one device class.
type Lease struct {
	ID              string
	UserID          string
	DeviceClass     DeviceClass
	OpenedAt        time.Time
	LastUpdate      time.Time
	ClosedAt        *time.Time // nil while open
	DurationSeconds int64      // set at close time; never negative
}

// Open reports whether the lease has not been closed.
func (l *Lease) Open() bool {
	return l != nil && l.ClosedAt == nil
}

// StaleAt reports whether the lease has gone more than ttl without an update as of now.
func (l *Lease) StaleAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(l.LastUpdate) > ttl
}

// DurationSeconds returns max(0, closedAt - openedAt) in whole seconds.
// Clock skew between writers can make closedAt precede openedAt; the result is clamped.
func DurationSeconds(openedAt, closedAt time.Time) int64 {
	d := closedAt.Sub(openedAt)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

// CloseAt marks the lease closed at closedAt and fills in its duration.
func (l *Lease) CloseAt(closedAt time.Time) {
	t := closedAt
	l.ClosedAt = &t
	l.DurationSeconds = DurationSeconds(l.OpenedAt, closedAt)
}
