package main

import (
	"context"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/services"
	"meshcall/internal/infrastructure/media"
	signalclient "meshcall/internal/infrastructure/signal"
	webrtcinfra "meshcall/internal/infrastructure/webrtc"
	"meshcall/pkg/config"
	"meshcall/pkg/logger"
	"meshcall/pkg/validation"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// logSink reports session events; a UI would render these instead.
type logSink struct {
	log *zap.SugaredLogger
}

func (s *logSink) OnRemoteTrack(id domain.ParticipantID, name string, track *webrtc.TrackRemote) {
	s.log.Infow("remote track", "participant_id", id, "name", name, "kind", track.Kind().String())
}

func (s *logSink) OnSessionClosed(id domain.ParticipantID) {
	s.log.Infow("session closed", "participant_id", id)
}

func (s *logSink) OnNameUpdated(id domain.ParticipantID, name string) {
	s.log.Infow("name updated", "participant_id", id, "name", name)
}

func (s *logSink) OnRoster(participants []domain.ParticipantInfo) {
	names := make([]string, 0, len(participants))
	for _, p := range participants {
		names = append(names, p.Name)
	}
	s.log.Infow("roster", "participants", names)
}

func (s *logSink) OnChannelClosed(err error) {
	s.log.Errorw("signaling channel closed", "error", err)
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	room := flag.String("room", "", "room to join")
	name := flag.String("name", "", "display name")
	relayURL := flag.String("relay-url", "", "relay websocket url (overrides config)")
	token := flag.String("token", "", "room access token, when the relay requires one")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	if *relayURL != "" {
		cfg.Client.RelayURL = *relayURL
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if err := validation.ValidateRoomName(*room); err != nil {
		log.Fatalw("invalid room", "error", err)
	}
	if err := validation.ValidateDisplayName(*name); err != nil {
		log.Fatalw("invalid name", "error", err)
	}
	if err := validation.ValidateRelayURL(cfg.Client.RelayURL); err != nil {
		log.Fatalw("invalid relay url", "error", err)
	}

	channel := signalclient.NewClient(signalclient.ClientConfig{
		RelayURL:        cfg.Client.RelayURL,
		ConnectTimeout:  cfg.Client.ConnectTimeout,
		ConnectAttempts: cfg.Client.ConnectAttempts,
		WriteTimeout:    cfg.Relay.WriteTimeout,
		PingInterval:    cfg.Relay.PingInterval,
		PongTimeout:     cfg.Relay.PongTimeout,
		Token:           *token,
	}, zapLogger)

	var iceServers []webrtc.ICEServer
	for _, s := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}
	factory := webrtcinfra.NewFactory(webrtcinfra.Config{ICEServers: iceServers}, zapLogger)

	source, err := media.NewSilenceSource(zapLogger)
	if err != nil {
		log.Fatalw("failed to create media source", "error", err)
	}
	defer source.Close()

	orchestrator := services.NewRoomOrchestrator(channel, factory, source, &logSink{log: log}, zapLogger)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Client.ConnectTimeout*3)
	joined, err := orchestrator.JoinRoom(ctx, domain.RoomName(*room), *name)
	cancel()
	if err != nil {
		log.Fatalw("failed to join room", "room", *room, "error", err)
	}
	log.Infow("joined", "room", joined.Name, "self", joined.Self.ID, "name", joined.Self.Name)

	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	if err := orchestrator.LeaveRoom(); err != nil {
		log.Warnw("leave failed", "error", err)
	}
	log.Info("left room")
}
