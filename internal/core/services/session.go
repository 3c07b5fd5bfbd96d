package services

import (
	"context"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
	apperrors "meshcall/pkg/errors"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// sendFunc delivers one outbound signal payload for this session's
// remote peer.
type sendFunc func(payload *domain.SignalPayload) error

// PeerSession is the negotiation state machine for exactly one remote
// participant. It owns the transport handle and the buffer of remote
// ICE candidates that arrived before the remote description.
//
// A session is driven from a single goroutine (the orchestrator's
// handler path) and is not safe for concurrent use.
type PeerSession struct {
	id        domain.ParticipantID
	name      string
	role      domain.SessionRole
	state     domain.SessionState
	transport ports.PeerTransport

	// pending holds remote candidates received before the remote
	// description was applied, in arrival order. Drained exactly once.
	pending   []webrtc.ICECandidateInit
	remoteSet bool

	logger *zap.SugaredLogger
}

func NewPeerSession(id domain.ParticipantID, name string, role domain.SessionRole, transport ports.PeerTransport, logger *zap.SugaredLogger) *PeerSession {
	return &PeerSession{
		id:        id,
		name:      name,
		role:      role,
		state:     domain.SessionCreated,
		transport: transport,
		logger:    logger,
	}
}

func (s *PeerSession) ID() domain.ParticipantID   { return s.id }
func (s *PeerSession) Name() string               { return s.name }
func (s *PeerSession) Role() domain.SessionRole   { return s.role }
func (s *PeerSession) State() domain.SessionState { return s.state }

// SetName updates the remote display name. Last write wins; never
// touches negotiation state.
func (s *PeerSession) SetName(name string) { s.name = name }

// Transport exposes the underlying handle for event wiring at creation
// time.
func (s *PeerSession) Transport() ports.PeerTransport { return s.transport }

// SetLocalTracks attaches or replaces the outgoing track set.
func (s *PeerSession) SetLocalTracks(tracks []webrtc.TrackLocal) error {
	if s.state == domain.SessionClosed {
		return domain.ErrSessionClosed
	}
	return s.transport.SetLocalTracks(tracks)
}

// BeginNegotiation is the initiator path entry: synthesize a local
// offer and emit it for sending.
func (s *PeerSession) BeginNegotiation(ctx context.Context, send sendFunc) error {
	if s.state == domain.SessionClosed {
		return domain.ErrSessionClosed
	}

	offer, err := s.transport.CreateOffer(ctx)
	if err != nil {
		return apperrors.NewNegotiationError("create offer", err).WithContext("peer_id", string(s.id))
	}
	s.state = domain.SessionNegotiating

	s.logger.Debugw("sending offer", "peer_id", s.id)
	return send(&domain.SignalPayload{Target: s.id, Type: domain.SignalOffer, Description: offer})
}

// HandleOffer is the responder path: apply the remote offer, drain
// buffered candidates, answer, and converge on Connected.
func (s *PeerSession) HandleOffer(ctx context.Context, desc webrtc.SessionDescription, send sendFunc) error {
	if s.state == domain.SessionClosed {
		return domain.ErrSessionClosed
	}
	if s.state == domain.SessionConnected {
		// Duplicate delivery; the channel is at-least-once.
		s.logger.Debugw("ignoring duplicate offer", "peer_id", s.id)
		return nil
	}

	if err := s.applyRemoteDescription(desc); err != nil {
		return err
	}

	answer, err := s.transport.CreateAnswer(ctx)
	if err != nil {
		return apperrors.NewNegotiationError("create answer", err).WithContext("peer_id", string(s.id))
	}

	if err := send(&domain.SignalPayload{Target: s.id, Type: domain.SignalAnswer, Description: answer}); err != nil {
		return err
	}
	s.state = domain.SessionConnected
	s.logger.Infow("session connected", "peer_id", s.id, "role", s.role)
	return nil
}

// HandleAnswer completes the initiator path.
func (s *PeerSession) HandleAnswer(desc webrtc.SessionDescription) error {
	if s.state == domain.SessionClosed {
		return domain.ErrSessionClosed
	}
	if s.state != domain.SessionNegotiating {
		s.logger.Debugw("ignoring answer outside negotiation", "peer_id", s.id, "state", s.state.String())
		return nil
	}

	if err := s.applyRemoteDescription(desc); err != nil {
		return err
	}
	s.state = domain.SessionConnected
	s.logger.Infow("session connected", "peer_id", s.id, "role", s.role)
	return nil
}

// HandleCandidate applies a remote candidate immediately when the
// remote description is set, otherwise buffers it in arrival order.
func (s *PeerSession) HandleCandidate(cand webrtc.ICECandidateInit) error {
	if s.state == domain.SessionClosed {
		return domain.ErrSessionClosed
	}

	if !s.remoteSet {
		s.pending = append(s.pending, cand)
		s.logger.Debugw("buffered early candidate", "peer_id", s.id, "buffered", len(s.pending))
		return nil
	}

	if err := s.transport.AddICECandidate(cand); err != nil {
		return apperrors.NewNegotiationError("add candidate", err).WithContext("peer_id", string(s.id))
	}
	return nil
}

// applyRemoteDescription sets the remote description and drains the
// candidate buffer in arrival order.
func (s *PeerSession) applyRemoteDescription(desc webrtc.SessionDescription) error {
	if err := s.transport.SetRemoteDescription(desc); err != nil {
		return apperrors.NewNegotiationError("set remote description", err).WithContext("peer_id", string(s.id))
	}
	s.remoteSet = true

	for _, cand := range s.pending {
		if err := s.transport.AddICECandidate(cand); err != nil {
			return apperrors.NewNegotiationError("apply buffered candidate", err).WithContext("peer_id", string(s.id))
		}
	}
	if n := len(s.pending); n > 0 {
		s.logger.Debugw("drained candidate buffer", "peer_id", s.id, "count", n)
	}
	s.pending = nil
	return nil
}

// Close releases the transport and discards buffered state. Terminal
// and idempotent.
func (s *PeerSession) Close() {
	if s.state == domain.SessionClosed {
		return
	}
	s.state = domain.SessionClosed
	s.pending = nil
	if err := s.transport.Close(); err != nil {
		s.logger.Warnw("transport close failed", "peer_id", s.id, "error", err)
	}
}
