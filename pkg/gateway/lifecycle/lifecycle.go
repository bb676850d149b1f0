package lifecycle

import "sync/atomic"

// Lifecycle tracks whether the gateway is draining. Readiness checks report
// draining gateways as unavailable and new live sessions are refused.
type Lifecycle struct {
	draining atomic.Bool
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
