package engine

// State is the supervisor's connection state.
//
//	Disconnected -> Connecting -> Streaming -> (fault) Disconnected -> ...
//
// Stopped is terminal and only reached by cancelling Run's context.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateStreaming
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
