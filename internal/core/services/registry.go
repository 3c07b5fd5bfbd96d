package services

import (
	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"

	"go.uber.org/zap"
)

// SessionRegistry maps remote participant ids to their single live
// session. The orchestrator is the only writer; the registry serializes
// all mutation so there is never more than one session per peer.
type SessionRegistry struct {
	sessions map[domain.ParticipantID]*PeerSession
	factory  ports.TransportFactory
	logger   *zap.SugaredLogger
}

func NewSessionRegistry(factory ports.TransportFactory, logger *zap.SugaredLogger) *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[domain.ParticipantID]*PeerSession),
		factory:  factory,
		logger:   logger,
	}
}

// Ensure returns the existing session for id, or creates one with the
// given role. created reports whether a new session was built; the
// caller wires transport events before driving negotiation.
func (r *SessionRegistry) Ensure(id domain.ParticipantID, name string, role domain.SessionRole) (sess *PeerSession, created bool, err error) {
	if existing, ok := r.sessions[id]; ok {
		return existing, false, nil
	}

	transport, err := r.factory.NewTransport(id)
	if err != nil {
		return nil, false, err
	}

	sess = NewPeerSession(id, name, role, transport, r.logger)
	r.sessions[id] = sess
	r.logger.Debugw("session created", "peer_id", id, "role", role)
	return sess, true, nil
}

// Get returns the session for id, or nil.
func (r *SessionRegistry) Get(id domain.ParticipantID) *PeerSession {
	return r.sessions[id]
}

// Remove closes and drops the session for id. Idempotent.
func (r *SessionRegistry) Remove(id domain.ParticipantID) {
	sess, ok := r.sessions[id]
	if !ok {
		return
	}
	delete(r.sessions, id)
	sess.Close()
	r.logger.Debugw("session removed", "peer_id", id)
}

// RemoveAll closes and drops every session.
func (r *SessionRegistry) RemoveAll() {
	for id, sess := range r.sessions {
		delete(r.sessions, id)
		sess.Close()
	}
}

// Len reports the number of live sessions.
func (r *SessionRegistry) Len() int {
	return len(r.sessions)
}

// ForEach visits every live session. The visitor must not mutate the
// registry.
func (r *SessionRegistry) ForEach(fn func(sess *PeerSession)) {
	for _, sess := range r.sessions {
		fn(sess)
	}
}
