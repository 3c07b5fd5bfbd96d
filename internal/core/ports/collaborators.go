package ports

import (
	"meshcall/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// MediaSource is the local media collaborator: it exposes the current
// outgoing track set and announces replacements (for example when a
// transform pipeline swaps the stream). The orchestrator re-attaches
// tracks on change without disturbing session state.
type MediaSource interface {
	Tracks() []webrtc.TrackLocal
	OnChange(h func())
}

// EventSink is the presentation-layer contract. The orchestrator emits
// events and never touches presentation state itself. Implementations
// must not call back into the orchestrator from these handlers.
type EventSink interface {
	OnRemoteTrack(id domain.ParticipantID, name string, track *webrtc.TrackRemote)
	OnSessionClosed(id domain.ParticipantID)
	OnNameUpdated(id domain.ParticipantID, name string)
	OnRoster(participants []domain.ParticipantInfo)
	OnChannelClosed(err error)
}
