package backend

type Status int32

const (
	StatusHealthy   Status = iota // Routable, probes passing
	StatusSuspected               // Routable, recent probe failed
	StatusUnhealthy               // Excluded from selection
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "HEALTHY"
	case StatusSuspected:
		return "SUSPECTED"
	case StatusUnhealthy:
		return "UNHEALTHY"
	default:
		return "UNKNOWN"
	}
}

// Routable reports whether a backend in this state may receive traffic.
func (s Status) Routable() bool {
	return s == StatusHealthy || s == StatusSuspected
}
