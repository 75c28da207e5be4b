package protocol

// Open confirms that the server registered the client's id.
type Open struct {
	PeerID string `json:"peer_id"`
}

// Error represents an error message in the protocol.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Offer starts a connection. Kind selects how the rest of the payload is read:
// webrtc offers carry an SDP, quic offers carry candidate addresses.
type Offer struct {
	ConnectionID string   `json:"connection_id"`
	Kind         string   `json:"kind"`
	Label        string   `json:"label,omitempty"`
	Reliable     bool     `json:"reliable"`
	SDP          string   `json:"sdp,omitempty"`
	Addrs        []string `json:"addrs,omitempty"`
}

// Answer completes the negotiation started by an Offer.
type Answer struct {
	ConnectionID string   `json:"connection_id"`
	Kind         string   `json:"kind"`
	SDP          string   `json:"sdp,omitempty"`
	Addrs        []string `json:"addrs,omitempty"`
}

// Candidate carries one trickled ICE candidate.
type Candidate struct {
	ConnectionID  string  `json:"connection_id"`
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdp_mline_index,omitempty"`
}

// Leave tells the remote side that a connection (or the whole peer, when
// ConnectionID is empty) is gone.
type Leave struct {
	ConnectionID string `json:"connection_id,omitempty"`
}

// Expire is sent by the server when a relayed message could not be delivered
// before its timeout.
type Expire struct {
	PeerID       string `json:"peer_id"`
	ConnectionID string `json:"connection_id,omitempty"`
}

// ConnectionRef is the subset shared by every relayed payload, used for routing.
type ConnectionRef struct {
	ConnectionID string `json:"connection_id"`
}
