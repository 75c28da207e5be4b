package protocol

// Message type constants for signaling envelopes.
const (
	// Server to client.
	TypeOpen       = "open"
	TypeError      = "error"
	TypeIDTaken    = "id_taken"
	TypeInvalidKey = "invalid_key"
	TypeExpire     = "expire"

	// Relayed between peers.
	TypeOffer     = "offer"
	TypeAnswer    = "answer"
	TypeCandidate = "candidate"
	TypeLeave     = "leave"

	// Client to server.
	TypeHeartbeat = "heartbeat"
)

// Connection kinds carried in offers and answers.
const (
	KindWebRTC = "webrtc"
	KindQUIC   = "quic"
)

// Error codes carried in Error payloads.
const (
	CodeConcurrentLimit = "concurrent_limit"
	CodeInvalidMessage  = "invalid_message"
	CodePeerUnavailable = "peer_unavailable"
)
