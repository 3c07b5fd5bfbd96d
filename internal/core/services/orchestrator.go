package services

import (
	"context"
	"sync"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
	apperrors "meshcall/pkg/errors"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// RoomOrchestrator drives one participant's view of one room: it owns
// the session registry, reacts to relay messages, and fans events out
// to the presentation sink.
//
// All inbound work funnels through a single mutex, so handlers observe
// a consistent world: the channel's Subscribe handler, transport
// callbacks and public methods each take the lock before touching any
// session.
type RoomOrchestrator struct {
	mu sync.Mutex

	channel  ports.SignalingChannel
	registry *SessionRegistry
	media    ports.MediaSource
	sink     ports.EventSink
	logger   *zap.SugaredLogger

	room   domain.RoomName
	self   domain.Identity
	joined bool
	closed bool
}

func NewRoomOrchestrator(channel ports.SignalingChannel, factory ports.TransportFactory, media ports.MediaSource, sink ports.EventSink, logger *zap.Logger) *RoomOrchestrator {
	sugar := logger.Sugar()
	return &RoomOrchestrator{
		channel:  channel,
		registry: NewSessionRegistry(factory, sugar),
		media:    media,
		sink:     sink,
		logger:   sugar,
	}
}

// JoinRoom connects to the relay and announces the local participant.
// Members already present learn about us from the relay's
// participant-joined broadcast and initiate; sessions toward them are
// created lazily as their offers arrive.
func (o *RoomOrchestrator) JoinRoom(ctx context.Context, room domain.RoomName, displayName string) (*domain.Room, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.joined {
		return nil, domain.ErrAlreadyJoined
	}
	if o.closed {
		return nil, domain.ErrChannelClosed
	}

	o.channel.Subscribe(o.onMessage)
	o.channel.OnClosed(o.onChannelClosed)
	o.media.OnChange(o.onMediaChanged)

	welcome, err := o.channel.Connect(ctx, room, displayName)
	if err != nil {
		return nil, apperrors.NewChannelError("join room", err).WithContext("room", string(room))
	}

	o.room = room
	o.self = domain.Identity{ID: welcome.Self, Name: displayName}
	o.joined = true

	o.logger.Infow("joined room", "room", room, "self", o.self.ID, "existing", len(welcome.Participants))
	return &domain.Room{Name: room, Self: o.self}, nil
}

// LeaveRoom tears down every session and the relay connection.
// Idempotent.
func (o *RoomOrchestrator) LeaveRoom() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.joined {
		return nil
	}
	o.joined = false
	o.closed = true

	o.teardownAll()
	if err := o.channel.Close(); err != nil {
		return apperrors.NewChannelError("close channel", err)
	}
	o.logger.Infow("left room", "room", o.room)
	return nil
}

// Participants snapshots the current peer roster, including the
// negotiation state of each session.
func (o *RoomOrchestrator) Participants() []domain.ParticipantInfo {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]domain.ParticipantInfo, 0, o.registry.Len())
	o.registry.ForEach(func(sess *PeerSession) {
		out = append(out, domain.ParticipantInfo{ID: sess.ID(), Name: sess.Name()})
	})
	return out
}

// onMessage is the single inbound entry point, invoked sequentially by
// the signaling channel in delivery order.
func (o *RoomOrchestrator) onMessage(msg *domain.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.joined {
		return
	}

	switch msg.Kind {
	case domain.KindParticipantJoined:
		o.handleParticipantJoined(msg)
	case domain.KindParticipantLeft:
		o.handleParticipantLeft(msg)
	case domain.KindSignal:
		o.handleSignal(msg)
	case domain.KindRoster:
		o.handleRoster(msg)
	case domain.KindError:
		var p domain.ErrorPayload
		if err := msg.DecodePayload(&p); err == nil {
			o.logger.Warnw("relay error", "message", p.Message)
		}
	default:
		o.logger.Debugw("ignoring message of unknown kind", "kind", msg.Kind)
	}
}

// handleParticipantJoined starts negotiation toward the newcomer: the
// side that learns about a peer from an explicit join notification is
// the initiator. If a session for the id already exists (its first
// signal beat the notification) only the name is refreshed; an existing
// session is never recreated.
func (o *RoomOrchestrator) handleParticipantJoined(msg *domain.Message) {
	var p domain.ParticipantJoinedPayload
	if err := msg.DecodePayload(&p); err != nil {
		o.logger.Warnw("malformed participant-joined", "error", err)
		return
	}
	if p.ID == o.self.ID {
		return
	}

	if sess := o.registry.Get(p.ID); sess != nil {
		o.noteName(sess, p.Name)
		return
	}
	o.logger.Infow("participant joined", "peer_id", p.ID, "name", p.Name)

	sess, err := o.ensureSession(p.ID, p.Name, domain.RoleInitiator)
	if err != nil {
		o.logger.Errorw("failed to create session", "peer_id", p.ID, "error", err)
		return
	}
	if err := sess.BeginNegotiation(context.Background(), o.sendSignal); err != nil {
		o.logger.Errorw("failed to start negotiation", "peer_id", p.ID, "error", err)
		o.failSession(p.ID)
	}
}

func (o *RoomOrchestrator) handleParticipantLeft(msg *domain.Message) {
	var p domain.ParticipantLeftPayload
	if err := msg.DecodePayload(&p); err != nil {
		o.logger.Warnw("malformed participant-left", "error", err)
		return
	}
	if o.registry.Get(p.ID) == nil {
		return
	}
	o.registry.Remove(p.ID)
	o.sink.OnSessionClosed(p.ID)
	o.logger.Infow("participant left", "peer_id", p.ID)
}

func (o *RoomOrchestrator) handleRoster(msg *domain.Message) {
	var p domain.RosterPayload
	if err := msg.DecodePayload(&p); err != nil {
		o.logger.Warnw("malformed roster", "error", err)
		return
	}
	for _, info := range p.Participants {
		if sess := o.registry.Get(info.ID); sess != nil && info.Name != "" && info.Name != sess.Name() {
			sess.SetName(info.Name)
			o.sink.OnNameUpdated(info.ID, info.Name)
		}
	}
	o.sink.OnRoster(p.Participants)
}

func (o *RoomOrchestrator) handleSignal(msg *domain.Message) {
	var p domain.SignalPayload
	if err := msg.DecodePayload(&p); err != nil {
		o.logger.Warnw("malformed signal", "error", err)
		return
	}
	if p.From == "" || p.From == o.self.ID {
		return
	}

	var err error
	switch p.Type {
	case domain.SignalOffer:
		err = o.handleOffer(&p)
	case domain.SignalAnswer:
		err = o.handleAnswer(&p)
	case domain.SignalICE:
		err = o.handleCandidate(&p)
	default:
		o.logger.Warnw("unknown signal type", "type", p.Type, "from", p.From)
		return
	}

	if err != nil {
		o.logger.Errorw("signal handling failed", "type", p.Type, "from", p.From, "error", err)
		o.failSession(p.From)
	}
}

func (o *RoomOrchestrator) handleOffer(p *domain.SignalPayload) error {
	if p.Description == nil {
		return apperrors.NewInvalidMessageError("offer without description").WithContext("from", string(p.From))
	}

	sess := o.registry.Get(p.From)
	if sess != nil && sess.Role() == domain.RoleInitiator && sess.State() != domain.SessionConnected {
		// Glare: both sides offered. The lexicographically smaller id
		// keeps its offer; the other side yields and answers instead.
		if o.self.ID < p.From {
			o.logger.Debugw("glare: keeping local offer", "peer_id", p.From)
			return nil
		}
		o.logger.Debugw("glare: yielding to remote offer", "peer_id", p.From)
		o.registry.Remove(p.From)
		sess = nil
	}

	if sess == nil {
		var err error
		sess, err = o.ensureSession(p.From, p.FromName, domain.RoleResponder)
		if err != nil {
			return err
		}
	}
	o.noteName(sess, p.FromName)

	return sess.HandleOffer(context.Background(), *p.Description, o.sendSignal)
}

func (o *RoomOrchestrator) handleAnswer(p *domain.SignalPayload) error {
	if p.Description == nil {
		return apperrors.NewInvalidMessageError("answer without description").WithContext("from", string(p.From))
	}
	sess := o.registry.Get(p.From)
	if sess == nil {
		o.logger.Debugw("answer for unknown session", "from", p.From)
		return nil
	}
	o.noteName(sess, p.FromName)
	return sess.HandleAnswer(*p.Description)
}

func (o *RoomOrchestrator) handleCandidate(p *domain.SignalPayload) error {
	if p.Candidate == nil {
		return apperrors.NewInvalidMessageError("ice signal without candidate").WithContext("from", string(p.From))
	}

	// A candidate can outrun the offer that created the session; build
	// the responder session so the candidate has a buffer to land in.
	sess := o.registry.Get(p.From)
	if sess == nil {
		var err error
		sess, err = o.ensureSession(p.From, p.FromName, domain.RoleResponder)
		if err != nil {
			return err
		}
	}
	o.noteName(sess, p.FromName)
	return sess.HandleCandidate(*p.Candidate)
}

// ensureSession creates (or returns) the session for id and wires its
// transport events on creation. Caller holds the lock.
func (o *RoomOrchestrator) ensureSession(id domain.ParticipantID, name string, role domain.SessionRole) (*PeerSession, error) {
	sess, created, err := o.registry.Ensure(id, name, role)
	if err != nil {
		return nil, apperrors.NewNegotiationError("create transport", err).WithContext("peer_id", string(id))
	}
	if !created {
		return sess, nil
	}

	if tracks := o.media.Tracks(); len(tracks) > 0 {
		if err := sess.SetLocalTracks(tracks); err != nil {
			o.registry.Remove(id)
			return nil, apperrors.NewNegotiationError("attach local tracks", err).WithContext("peer_id", string(id))
		}
	}

	transport := sess.Transport()
	transport.OnICECandidate(func(cand webrtc.ICECandidateInit) {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.registry.Get(id) != sess {
			return
		}
		if err := o.sendSignal(&domain.SignalPayload{Target: id, Type: domain.SignalICE, Candidate: &cand}); err != nil {
			o.logger.Warnw("failed to send candidate", "peer_id", id, "error", err)
		}
	})
	transport.OnTrack(func(track *webrtc.TrackRemote) {
		o.mu.Lock()
		// Identity check: the registry entry may have been replaced (for
		// example after glare) while this callback was in flight.
		if o.registry.Get(id) != sess {
			o.mu.Unlock()
			return
		}
		name := sess.Name()
		o.mu.Unlock()
		o.sink.OnRemoteTrack(id, name, track)
	})
	transport.OnFailure(func(err error) {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.registry.Get(id) != sess {
			return
		}
		o.logger.Warnw("transport failed", "peer_id", id, "error", err)
		o.failSession(id)
	})

	return sess, nil
}

// failSession drops one peer session and notifies the sink. Caller
// holds the lock.
func (o *RoomOrchestrator) failSession(id domain.ParticipantID) {
	if o.registry.Get(id) == nil {
		return
	}
	o.registry.Remove(id)
	o.sink.OnSessionClosed(id)
}

// noteName records a name observed on a signal. Caller holds the lock.
func (o *RoomOrchestrator) noteName(sess *PeerSession, name string) {
	if name == "" || name == sess.Name() {
		return
	}
	sess.SetName(name)
	o.sink.OnNameUpdated(sess.ID(), name)
}

// onMediaChanged re-attaches the current track set on every live
// session without disturbing negotiation state.
func (o *RoomOrchestrator) onMediaChanged() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.joined {
		return
	}
	tracks := o.media.Tracks()
	o.registry.ForEach(func(sess *PeerSession) {
		if err := sess.SetLocalTracks(tracks); err != nil {
			o.logger.Warnw("failed to re-attach tracks", "peer_id", sess.ID(), "error", err)
		}
	})
}

// onChannelClosed is the relay-loss path: every session is torn down
// and the caller decides whether to rejoin with a fresh orchestrator.
func (o *RoomOrchestrator) onChannelClosed(err error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.joined = false
	o.closed = true
	o.teardownAll()
	o.mu.Unlock()

	o.logger.Errorw("signaling channel closed", "room", o.room, "error", err)
	o.sink.OnChannelClosed(apperrors.NewChannelError("signaling channel lost", err))
}

// teardownAll closes every session and emits close events. Caller holds
// the lock.
func (o *RoomOrchestrator) teardownAll() {
	ids := make([]domain.ParticipantID, 0, o.registry.Len())
	o.registry.ForEach(func(sess *PeerSession) {
		ids = append(ids, sess.ID())
	})
	o.registry.RemoveAll()
	for _, id := range ids {
		o.sink.OnSessionClosed(id)
	}
}

// sendSignal wraps a signal payload in the wire envelope and ships it.
func (o *RoomOrchestrator) sendSignal(payload *domain.SignalPayload) error {
	msg, err := domain.NewMessage(domain.KindSignal, o.room, payload)
	if err != nil {
		return err
	}
	if err := o.channel.Send(msg); err != nil {
		return apperrors.NewChannelError("send signal", err).WithContext("target", string(payload.Target))
	}
	return nil
}
