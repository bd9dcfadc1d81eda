package instance

// State is the lifecycle position of a supervised instance. Transitions are
// driven only by Launch, Stop and the waiter, so invalid transitions cannot
// be expressed.
type State int32

const (
	StateStarting State = iota // spawned, still inside the startup grace window
	StateRunning               // survived the grace window
	StateStopping              // shutdown ladder in progress
	StateStopped               // exit observed by the waiter
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}
