package arbiter

import "playback-control-plane/backend/internal/lease/domain"

// Precedes reports whether an open lease of class a blocks or preempts class b.
// Desktop precedes Web; nothing precedes Desktop.
func Precedes(a, b domain.DeviceClass) bool {
	return a == domain.DeviceClassDesktop && b == domain.DeviceClassWeb
}

// blocking returns the first open lease whose class precedes caller, or nil.
func blocking(caller domain.DeviceClass, open []*domain.Lease) *domain.Lease {
	for _, l := range open {
		if l.Open() && Precedes(l.DeviceClass, caller) {
			return l
		}
	}
	return nil
}

func hasOpen(open []*domain.Lease, class domain.DeviceClass) bool {
	for _, l := range open {
		if l.Open() && l.DeviceClass == class {
			return true
		}
	}
	return false
}
