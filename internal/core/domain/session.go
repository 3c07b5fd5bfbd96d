package domain

// SessionRole is the negotiation role of a peer session, fixed at
// creation. The side that learned about the peer from an explicit
// participant-joined notification initiates; the side that first saw a
// signal from an unknown id responds.
type SessionRole string

const (
	RoleInitiator SessionRole = "initiator"
	RoleResponder SessionRole = "responder"
)

// SessionState is the explicit negotiation state of a peer session.
// Closed is terminal; no state is re-entered after it.
type SessionState int

const (
	SessionCreated SessionState = iota
	SessionNegotiating
	SessionConnected
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionCreated:
		return "created"
	case SessionNegotiating:
		return "negotiating"
	case SessionConnected:
		return "connected"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}
