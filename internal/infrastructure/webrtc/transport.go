package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const pliInterval = 3 * time.Second

// Config holds peer connection settings shared by every transport the
// factory builds.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// Factory builds one pion peer connection per remote participant.
type Factory struct {
	config Config
	logger *zap.SugaredLogger
}

func NewFactory(config Config, logger *zap.Logger) *Factory {
	return &Factory{config: config, logger: logger.Sugar()}
}

func (f *Factory) NewTransport(id domain.ParticipantID) (ports.PeerTransport, error) {
	settingEngine := webrtc.SettingEngine{}
	if f.config.PortRange.Min > 0 && f.config.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(f.config.PortRange.Min, f.config.PortRange.Max); err != nil {
			return nil, fmt.Errorf("set udp port range: %w", err)
		}
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   f.config.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	t := &Transport{
		id:     id,
		pc:     pc,
		logger: f.logger,
	}
	t.wireStateHandlers()
	return t, nil
}

// Transport adapts one pion PeerConnection to the negotiation port.
// Failure callbacks are suppressed once Close has been called, so a
// deliberate teardown never surfaces as a transport failure.
type Transport struct {
	id     domain.ParticipantID
	pc     *webrtc.PeerConnection
	logger *zap.SugaredLogger

	mu       sync.Mutex
	senders  []*webrtc.RTPSender
	closed   bool
	failureH func(error)
	trackH   func(*webrtc.TrackRemote)
	iceH     func(webrtc.ICECandidateInit)
}

func (t *Transport) CreateOffer(ctx context.Context) (*webrtc.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local offer: %w", err)
	}
	// Candidates trickle via OnICECandidate; no need to wait for
	// gathering to complete.
	return &offer, nil
}

func (t *Transport) CreateAnswer(ctx context.Context) (*webrtc.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local answer: %w", err)
	}
	return &answer, nil
}

func (t *Transport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(desc)
}

func (t *Transport) AddICECandidate(cand webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(cand)
}

// SetLocalTracks replaces the outgoing track set. Existing senders are
// removed first so a media swap never duplicates tracks on the wire.
func (t *Transport) SetLocalTracks(tracks []webrtc.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return domain.ErrSessionClosed
	}

	for _, sender := range t.senders {
		if err := t.pc.RemoveTrack(sender); err != nil {
			t.logger.Warnw("failed to remove outgoing track", "peer_id", t.id, "error", err)
		}
	}
	t.senders = t.senders[:0]

	for _, track := range tracks {
		sender, err := t.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add track %s: %w", track.ID(), err)
		}
		t.senders = append(t.senders, sender)
		go t.drainSenderRTCP(sender)
	}
	return nil
}

func (t *Transport) OnICECandidate(h func(webrtc.ICECandidateInit)) {
	t.mu.Lock()
	t.iceH = h
	t.mu.Unlock()

	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			// End of gathering; nothing to deliver.
			return
		}
		t.mu.Lock()
		handler, closed := t.iceH, t.closed
		t.mu.Unlock()
		if closed || handler == nil {
			return
		}
		handler(c.ToJSON())
	})
}

func (t *Transport) OnTrack(h func(*webrtc.TrackRemote)) {
	t.mu.Lock()
	t.trackH = h
	t.mu.Unlock()

	t.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		t.logger.Infow("remote track arrived",
			"peer_id", t.id,
			"track_id", track.ID(),
			"codec", track.Codec().MimeType,
		)

		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go t.keyframeLoop(track)
		}
		go t.drainReceiverRTCP(receiver)

		t.mu.Lock()
		handler, closed := t.trackH, t.closed
		t.mu.Unlock()
		if closed || handler == nil {
			return
		}
		handler(track)
	})
}

func (t *Transport) OnFailure(h func(error)) {
	t.mu.Lock()
	t.failureH = h
	t.mu.Unlock()
}

func (t *Transport) wireStateHandlers() {
	t.pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		t.logger.Debugw("ice connection state changed", "peer_id", t.id, "ice_state", state.String())
		if state == webrtc.ICEConnectionStateFailed {
			t.reportFailure(fmt.Errorf("ice connection failed"))
		}
	})
	t.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.logger.Debugw("peer connection state changed", "peer_id", t.id, "connection_state", state.String())
		if state == webrtc.PeerConnectionStateFailed {
			t.reportFailure(fmt.Errorf("peer connection failed"))
		}
	})
}

func (t *Transport) reportFailure(err error) {
	t.mu.Lock()
	handler, closed := t.failureH, t.closed
	t.mu.Unlock()
	if closed || handler == nil {
		return
	}
	handler(err)
}

// keyframeLoop requests a fresh keyframe periodically so late joiners
// and lossy paths recover the picture.
func (t *Transport) keyframeLoop(track *webrtc.TrackRemote) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()

	for range ticker.C {
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return
		}

		err := t.pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
		})
		if err != nil {
			t.logger.Debugw("keyframe request failed", "peer_id", t.id, "error", err)
			return
		}
	}
}

// drainReceiverRTCP keeps the receiver's RTCP interceptors fed.
func (t *Transport) drainReceiverRTCP(receiver *webrtc.RTPReceiver) {
	for {
		if _, _, err := receiver.ReadRTCP(); err != nil {
			return
		}
	}
}

// drainSenderRTCP reads sender reports so the interceptor pipeline
// keeps running for outgoing tracks.
func (t *Transport) drainSenderRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	return t.pc.Close()
}
