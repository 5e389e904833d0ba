package driver

// State is the phase of the driver's current transfer
type State int32

const (
	Idle State = iota
	Authenticating
	Announcing
	Streaming
	Finalizing
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Authenticating:
		return "Authenticating"
	case Announcing:
		return "Announcing"
	case Streaming:
		return "Streaming"
	case Finalizing:
		return "Finalizing"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}
