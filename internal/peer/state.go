package peer

// Status is the lifecycle state of a Session.
type Status int

const (
	StatusIdle Status = iota
	StatusInitializing
	StatusReady
	StatusDestroyed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusInitializing:
		return "initializing"
	case StatusReady:
		return "ready"
	case StatusDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// ConnStatus is the lifecycle state of a Connection.
type ConnStatus int

const (
	ConnConnecting ConnStatus = iota
	ConnOpen
	ConnClosed
)

func (s ConnStatus) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnOpen:
		return "open"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Direction tells who initiated a Connection.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
)

func (d Direction) String() string {
	if d == Incoming {
		return "incoming"
	}
	return "outgoing"
}
