package astimuxer

// State represents a muxer state
type State int

// States
const (
	StateNone State = iota
	StateIdle
	StateReady
	StateMuxing
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StateMuxing:
		return "muxing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// MarshalText implements the encoding.TextMarshaler interface
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s State) in(ss ...State) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
