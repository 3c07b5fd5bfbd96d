package ports

import (
	"context"

	"meshcall/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// PeerTransport is the transport-level connection behind one peer
// session. Reconnect and socket plumbing live behind this interface;
// the orchestrator core only drives negotiation.
type PeerTransport interface {
	// CreateOffer produces a local offer and applies it as the local
	// description.
	CreateOffer(ctx context.Context) (*webrtc.SessionDescription, error)

	// CreateAnswer produces a local answer for a previously applied
	// remote offer and applies it as the local description.
	CreateAnswer(ctx context.Context) (*webrtc.SessionDescription, error)

	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(cand webrtc.ICECandidateInit) error

	// SetLocalTracks attaches the outgoing track set, replacing any
	// previously attached tracks. Safe to call mid-session.
	SetLocalTracks(tracks []webrtc.TrackLocal) error

	// OnICECandidate registers the handler for locally gathered
	// candidates. A nil candidate marks end of gathering and is not
	// delivered.
	OnICECandidate(h func(cand webrtc.ICECandidateInit))

	// OnTrack registers the handler for remote media arriving on the
	// connection.
	OnTrack(h func(track *webrtc.TrackRemote))

	// OnFailure registers the handler for terminal transport failure.
	OnFailure(h func(err error))

	Close() error
}

// TransportFactory builds one transport per remote participant.
type TransportFactory interface {
	NewTransport(id domain.ParticipantID) (PeerTransport, error)
}
