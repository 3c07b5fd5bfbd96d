package services

import (
	"context"
	"fmt"
	"testing"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"

	"github.com/pion/webrtc/v3"
)

// fakeTransport records negotiation calls in order and lets tests
// inject failures at every step.
type fakeTransport struct {
	id domain.ParticipantID

	offersCreated  int
	answersCreated int
	remoteDescs    []webrtc.SessionDescription
	candidates     []webrtc.ICECandidateInit
	localTracks    []webrtc.TrackLocal
	trackSetCalls  int
	closed         bool

	offerErr     error
	answerErr    error
	remoteErr    error
	candidateErr error
	tracksErr    error

	iceHandler     func(webrtc.ICECandidateInit)
	trackHandler   func(*webrtc.TrackRemote)
	failureHandler func(error)
}

func (t *fakeTransport) CreateOffer(ctx context.Context) (*webrtc.SessionDescription, error) {
	if t.offerErr != nil {
		return nil, t.offerErr
	}
	t.offersCreated++
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-from-%s", t.id)}, nil
}

func (t *fakeTransport) CreateAnswer(ctx context.Context) (*webrtc.SessionDescription, error) {
	if t.answerErr != nil {
		return nil, t.answerErr
	}
	t.answersCreated++
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-from-%s", t.id)}, nil
}

func (t *fakeTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if t.remoteErr != nil {
		return t.remoteErr
	}
	t.remoteDescs = append(t.remoteDescs, desc)
	return nil
}

func (t *fakeTransport) AddICECandidate(cand webrtc.ICECandidateInit) error {
	if t.candidateErr != nil {
		return t.candidateErr
	}
	t.candidates = append(t.candidates, cand)
	return nil
}

func (t *fakeTransport) SetLocalTracks(tracks []webrtc.TrackLocal) error {
	if t.tracksErr != nil {
		return t.tracksErr
	}
	t.trackSetCalls++
	t.localTracks = tracks
	return nil
}

func (t *fakeTransport) OnICECandidate(h func(webrtc.ICECandidateInit)) { t.iceHandler = h }
func (t *fakeTransport) OnTrack(h func(*webrtc.TrackRemote))            { t.trackHandler = h }
func (t *fakeTransport) OnFailure(h func(error))                        { t.failureHandler = h }

func (t *fakeTransport) Close() error {
	t.closed = true
	return nil
}

// fakeFactory hands out fakeTransports keyed by peer id.
type fakeFactory struct {
	transports  map[domain.ParticipantID]*fakeTransport
	err         error
	offerErrFor map[domain.ParticipantID]error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		transports:  make(map[domain.ParticipantID]*fakeTransport),
		offerErrFor: make(map[domain.ParticipantID]error),
	}
}

func (f *fakeFactory) NewTransport(id domain.ParticipantID) (ports.PeerTransport, error) {
	if f.err != nil {
		return nil, f.err
	}
	t := &fakeTransport{id: id, offerErr: f.offerErrFor[id]}
	f.transports[id] = t
	return t, nil
}

// fakeChannel is an in-memory signaling channel. Tests push inbound
// messages with deliver and inspect outbound traffic via sent.
type fakeChannel struct {
	welcome    *domain.WelcomePayload
	connectErr error
	sendErr    error

	sent    []*domain.Message
	handler ports.MessageHandler
	closedH func(error)
	closed  bool
}

func (c *fakeChannel) Connect(ctx context.Context, room domain.RoomName, name string) (*domain.WelcomePayload, error) {
	if c.connectErr != nil {
		return nil, c.connectErr
	}
	return c.welcome, nil
}

func (c *fakeChannel) Send(msg *domain.Message) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeChannel) Subscribe(h ports.MessageHandler) { c.handler = h }
func (c *fakeChannel) OnClosed(h func(error))           { c.closedH = h }

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func (c *fakeChannel) deliver(t *testing.T, msg *domain.Message) {
	t.Helper()
	if c.handler == nil {
		t.Fatal("no subscriber registered on fake channel")
	}
	c.handler(msg)
}

// sentSignals decodes every outbound signal envelope.
func (c *fakeChannel) sentSignals(t *testing.T) []domain.SignalPayload {
	t.Helper()
	var out []domain.SignalPayload
	for _, msg := range c.sent {
		if msg.Kind != domain.KindSignal {
			continue
		}
		var p domain.SignalPayload
		if err := msg.DecodePayload(&p); err != nil {
			t.Fatalf("failed to decode outbound signal: %v", err)
		}
		out = append(out, p)
	}
	return out
}

// fakeMedia exposes a fixed track set and a manual change trigger.
type fakeMedia struct {
	tracks  []webrtc.TrackLocal
	changeH func()
}

func (m *fakeMedia) Tracks() []webrtc.TrackLocal { return m.tracks }
func (m *fakeMedia) OnChange(h func())           { m.changeH = h }

// sinkEvent is one recorded presentation event.
type sinkEvent struct {
	kind string
	id   domain.ParticipantID
	name string
}

// fakeSink records emitted events in order.
type fakeSink struct {
	events     []sinkEvent
	rosters    [][]domain.ParticipantInfo
	channelErr error
}

func (s *fakeSink) OnRemoteTrack(id domain.ParticipantID, name string, track *webrtc.TrackRemote) {
	s.events = append(s.events, sinkEvent{kind: "track", id: id, name: name})
}

func (s *fakeSink) OnSessionClosed(id domain.ParticipantID) {
	s.events = append(s.events, sinkEvent{kind: "closed", id: id})
}

func (s *fakeSink) OnNameUpdated(id domain.ParticipantID, name string) {
	s.events = append(s.events, sinkEvent{kind: "name", id: id, name: name})
}

func (s *fakeSink) OnRoster(participants []domain.ParticipantInfo) {
	s.rosters = append(s.rosters, participants)
}

func (s *fakeSink) OnChannelClosed(err error) {
	s.channelErr = err
}

func (s *fakeSink) closedIDs() []domain.ParticipantID {
	var out []domain.ParticipantID
	for _, e := range s.events {
		if e.kind == "closed" {
			out = append(out, e.id)
		}
	}
	return out
}

// signalMsg builds an inbound signal envelope the way the relay would
// stamp it.
func signalMsg(t *testing.T, from domain.ParticipantID, fromName string, typ domain.SignalType, desc *webrtc.SessionDescription, cand *webrtc.ICECandidateInit) *domain.Message {
	t.Helper()
	msg, err := domain.NewMessage(domain.KindSignal, "test-room", &domain.SignalPayload{
		From:        from,
		FromName:    fromName,
		Type:        typ,
		Description: desc,
		Candidate:   cand,
	})
	if err != nil {
		t.Fatalf("failed to build signal message: %v", err)
	}
	return msg
}

func offerFrom(id domain.ParticipantID) *webrtc.SessionDescription {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-from-%s", id)}
}

func answerFrom(id domain.ParticipantID) *webrtc.SessionDescription {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-from-%s", id)}
}

func candidate(n int) *webrtc.ICECandidateInit {
	return &webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate:%d 1 udp 2130706431 192.0.2.%d 54321 typ host", n, n)}
}
