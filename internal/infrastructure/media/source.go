package media

import (
	"sync"
	"time"

	apperrors "meshcall/pkg/errors"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	opusFrameDuration = 20 * time.Millisecond
	opusClockRate     = 48000
	opusPayloadType   = 111
)

// opusSilenceFrame is one 20ms frame of encoded opus silence.
var opusSilenceFrame = []byte{0xf8, 0xff, 0xfe}

// Source is the local media collaborator. The default build carries a
// generated silence track so a participant without capture hardware
// still negotiates a sendrecv audio section; Replace swaps in real
// tracks from a capture or transform pipeline.
type Source struct {
	mu      sync.Mutex
	tracks  []webrtc.TrackLocal
	handler func()

	stop   chan struct{}
	logger *zap.SugaredLogger
}

// NewSilenceSource builds a source with one generated opus track.
func NewSilenceSource(logger *zap.Logger) (*Source, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2},
		"audio",
		"meshcall-"+uuid.NewString(),
	)
	if err != nil {
		return nil, apperrors.NewMediaUnavailableError("create silence track", err)
	}

	s := &Source{
		tracks: []webrtc.TrackLocal{track},
		stop:   make(chan struct{}),
		logger: logger.Sugar(),
	}
	go s.pumpSilence(track)
	return s, nil
}

// NewEmptySource builds a source with no outgoing tracks.
func NewEmptySource(logger *zap.Logger) *Source {
	return &Source{
		stop:   make(chan struct{}),
		logger: logger.Sugar(),
	}
}

func (s *Source) Tracks() []webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]webrtc.TrackLocal, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *Source) OnChange(h func()) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Replace swaps the outgoing track set and announces the change.
func (s *Source) Replace(tracks []webrtc.TrackLocal) {
	s.mu.Lock()
	s.tracks = tracks
	handler := s.handler
	s.mu.Unlock()

	s.logger.Infow("local track set replaced", "tracks", len(tracks))
	if handler != nil {
		handler()
	}
}

// pumpSilence writes opus silence frames at wall-clock pace so the
// audio section stays alive even with nothing to say.
func (s *Source) pumpSilence(track *webrtc.TrackLocalStaticRTP) {
	ticker := time.NewTicker(opusFrameDuration)
	defer ticker.Stop()

	samplesPerFrame := uint32(opusClockRate / int(time.Second/opusFrameDuration))
	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:     2,
			PayloadType: opusPayloadType,
			SSRC:        uuid.New().ID(),
		},
		Payload: opusSilenceFrame,
	}

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			packet.Header.SequenceNumber++
			packet.Header.Timestamp += samplesPerFrame
			if err := track.WriteRTP(packet); err != nil {
				s.logger.Debugw("silence pump stopped", "error", err)
				return
			}
		}
	}
}

// Close stops the generator goroutine. Call once, on shutdown.
func (s *Source) Close() {
	close(s.stop)
}
