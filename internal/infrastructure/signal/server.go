package signal

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/internal/infrastructure/monitoring"
	"meshcall/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be restricted per deployment.
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// RelayConfig tunes per-connection behavior of the relay.
type RelayConfig struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration
	PongTimeout  time.Duration

	// MessagesPerSecond/Burst throttle one member's inbound traffic.
	// Zero disables the limit.
	MessagesPerSecond float64
	Burst             int
	MaxMessageSize    int64
}

// PresencePublisher mirrors membership changes to other relay
// instances. Optional; a nil publisher means single-instance mode.
type PresencePublisher interface {
	PublishJoin(room domain.RoomName, id domain.ParticipantID, name string)
	PublishLeave(room domain.RoomName, id domain.ParticipantID)
}

// member is one connected participant. Writes go through the send
// channel so only the writePump goroutine touches the socket.
type member struct {
	id       domain.ParticipantID
	name     string
	room     domain.RoomName
	conn     *websocket.Conn
	send     chan []byte
	limiter  *rate.Limiter
	joinedAt time.Time

	sendMu sync.Mutex
	closed bool
}

func (m *member) shutdown() {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.send)
}

// Relay is the rendezvous point: it assigns participant ids, answers
// joins with the current roster, and routes signals between members of
// the same room. It never inspects SDP or candidate contents.
type Relay struct {
	cfg       RelayConfig
	collector *monitoring.Collector
	presence  PresencePublisher

	mu    sync.RWMutex
	rooms map[domain.RoomName]map[domain.ParticipantID]*member

	logger *zap.SugaredLogger
}

func NewRelay(cfg RelayConfig, collector *monitoring.Collector, presence PresencePublisher, logger *zap.Logger) *Relay {
	return &Relay{
		cfg:       cfg,
		collector: collector,
		presence:  presence,
		rooms:     make(map[domain.RoomName]map[domain.ParticipantID]*member),
		logger:    logger.Sugar(),
	}
}

// HandleWebSocket upgrades the connection and runs it until the member
// leaves or the socket drops. When the auth middleware put a room claim
// in the gin context, the join message must name that room.
func (r *Relay) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		r.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if r.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(r.cfg.MaxMessageSize)
	}

	m, err := r.handshake(conn, c.GetString("room"))
	if err != nil {
		r.logger.Warnw("join handshake failed", "remote", conn.RemoteAddr().String(), "error", err)
		r.writeErrorDirect(conn, err.Error())
		return
	}

	go r.writePump(m)
	r.logger.Infow("participant joined", "room", m.room, "participant_id", m.id, "name", m.name)

	r.readLoop(m)
	r.removeMember(m, "disconnect")
}

// handshake consumes the join message and registers the member.
func (r *Relay) handshake(conn *websocket.Conn, allowedRoom string) (*member, error) {
	conn.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout))

	var msg domain.Message
	if err := conn.ReadJSON(&msg); err != nil {
		return nil, fmt.Errorf("read join message: %w", err)
	}
	if msg.Kind != domain.KindJoin {
		return nil, fmt.Errorf("expected join, got %s", msg.Kind)
	}
	if msg.Room == "" {
		return nil, fmt.Errorf("join without room")
	}
	if allowedRoom != "" && string(msg.Room) != allowedRoom {
		return nil, fmt.Errorf("token does not admit room %s", msg.Room)
	}

	var join domain.JoinPayload
	if err := msg.DecodePayload(&join); err != nil {
		return nil, err
	}

	m := &member{
		id:       domain.ParticipantID(uuid.NewString()),
		name:     join.Name,
		room:     msg.Room,
		conn:     conn,
		send:     make(chan []byte, 32),
		joinedAt: time.Now(),
	}
	if r.cfg.MessagesPerSecond > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(r.cfg.MessagesPerSecond), r.cfg.Burst)
	}

	r.mu.Lock()
	room, ok := r.rooms[m.room]
	if !ok {
		room = make(map[domain.ParticipantID]*member)
		r.rooms[m.room] = room
	}
	firstInRoom := len(room) == 0

	roster := make([]domain.ParticipantInfo, 0, len(room))
	for _, other := range room {
		roster = append(roster, domain.ParticipantInfo{ID: other.id, Name: other.name})
	}
	room[m.id] = m
	roomSize := len(room)
	r.mu.Unlock()

	welcome, err := domain.NewMessage(domain.KindWelcome, m.room, &domain.WelcomePayload{
		Self:         m.id,
		Participants: roster,
	})
	if err != nil {
		return nil, err
	}
	r.enqueue(m, welcome)

	joined, err := domain.NewMessage(domain.KindParticipantJoined, m.room, &domain.ParticipantJoinedPayload{
		ID:   m.id,
		Name: m.name,
	})
	if err != nil {
		return nil, err
	}
	r.broadcast(m.room, m.id, joined)
	r.broadcastRoster(m.room)

	if r.collector != nil {
		r.collector.RecordJoin(m.room, roomSize, firstInRoom)
	}
	if r.presence != nil {
		r.presence.PublishJoin(m.room, m.id, m.name)
	}
	return m, nil
}

func (r *Relay) readLoop(m *member) {
	m.conn.SetReadDeadline(time.Now().Add(r.cfg.PongTimeout))
	m.conn.SetPongHandler(func(string) error {
		m.conn.SetReadDeadline(time.Now().Add(r.cfg.PongTimeout))
		return nil
	})

	for {
		var msg domain.Message
		if err := m.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				r.logger.Infow("read failed", "participant_id", m.id, "error", err)
			}
			return
		}
		m.conn.SetReadDeadline(time.Now().Add(r.cfg.PongTimeout))

		if m.limiter != nil && !m.limiter.Allow() {
			r.writeError(m, "message rate limit exceeded")
			if r.collector != nil {
				r.collector.RecordSignalDropped("rate_limited")
			}
			continue
		}

		if err := r.route(m, &msg); err != nil {
			r.logger.Debugw("message rejected", "participant_id", m.id, "kind", msg.Kind, "error", err)
			r.writeError(m, err.Error())
		}
	}
}

// route dispatches one inbound message from a joined member.
func (r *Relay) route(m *member, msg *domain.Message) error {
	switch msg.Kind {
	case domain.KindSignal:
		return r.routeSignal(m, msg)
	case domain.KindJoin:
		return fmt.Errorf("already joined")
	default:
		return fmt.Errorf("unexpected message kind: %s", msg.Kind)
	}
}

// routeSignal stamps the sender identity and forwards the payload to
// its target. The relay is content-agnostic: the payload is re-encoded
// but never interpreted beyond the routing fields.
func (r *Relay) routeSignal(m *member, msg *domain.Message) error {
	ctx, span := tracing.TraceRelayMessage(context.Background(), string(msg.Kind), string(m.id))
	defer span.End()

	var payload domain.SignalPayload
	if err := msg.DecodePayload(&payload); err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	if payload.Target == "" {
		if r.collector != nil {
			r.collector.RecordSignalDropped("no_target")
		}
		return fmt.Errorf("signal without target")
	}

	r.mu.RLock()
	target, ok := r.rooms[m.room][payload.Target]
	r.mu.RUnlock()
	if !ok {
		if r.collector != nil {
			r.collector.RecordSignalDropped("unknown_target")
		}
		return fmt.Errorf("target %s not in room", payload.Target)
	}

	payload.From = m.id
	payload.FromName = m.name
	forwarded, err := domain.NewMessage(domain.KindSignal, m.room, &payload)
	if err != nil {
		return err
	}

	r.enqueue(target, forwarded)
	if r.collector != nil {
		r.collector.RecordSignalRouted(payload.Type)
	}
	r.logger.Debugw("signal routed",
		"room", m.room,
		"type", payload.Type,
		"from", m.id,
		"to", payload.Target,
	)
	return nil
}

// removeMember unregisters the member and tells the room.
func (r *Relay) removeMember(m *member, reason string) {
	r.mu.Lock()
	room, ok := r.rooms[m.room]
	if !ok || room[m.id] != m {
		r.mu.Unlock()
		return
	}
	delete(room, m.id)
	roomSize := len(room)
	if roomSize == 0 {
		delete(r.rooms, m.room)
	}
	r.mu.Unlock()

	m.shutdown()

	left, err := domain.NewMessage(domain.KindParticipantLeft, m.room, &domain.ParticipantLeftPayload{ID: m.id})
	if err == nil {
		r.broadcast(m.room, m.id, left)
	}
	r.broadcastRoster(m.room)

	if r.collector != nil {
		r.collector.RecordLeave(m.room, roomSize, time.Since(m.joinedAt))
	}
	if r.presence != nil {
		r.presence.PublishLeave(m.room, m.id)
	}
	r.logger.Infow("participant left", "room", m.room, "participant_id", m.id, "reason", reason)
}

// broadcast queues msg for every room member except the excluded one.
func (r *Relay) broadcast(room domain.RoomName, exclude domain.ParticipantID, msg *domain.Message) {
	r.mu.RLock()
	members := make([]*member, 0, len(r.rooms[room]))
	for id, m := range r.rooms[room] {
		if id == exclude {
			continue
		}
		members = append(members, m)
	}
	r.mu.RUnlock()

	for _, m := range members {
		r.enqueue(m, msg)
	}
}

func (r *Relay) broadcastRoster(room domain.RoomName) {
	r.mu.RLock()
	roster := make([]domain.ParticipantInfo, 0, len(r.rooms[room]))
	for _, m := range r.rooms[room] {
		roster = append(roster, domain.ParticipantInfo{ID: m.id, Name: m.name})
	}
	r.mu.RUnlock()

	msg, err := domain.NewMessage(domain.KindRoster, room, &domain.RosterPayload{Participants: roster})
	if err != nil {
		return
	}
	r.broadcast(room, "", msg)
}

// enqueue hands a message to the member's writePump. A member whose
// buffer is full is dropped rather than allowed to stall the room.
func (r *Relay) enqueue(m *member, msg *domain.Message) {
	data, err := msg.Marshal()
	if err != nil {
		r.logger.Errorw("failed to marshal outbound message", "kind", msg.Kind, "error", err)
		return
	}

	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	if m.closed {
		return
	}

	select {
	case m.send <- data:
	default:
		r.logger.Warnw("dropping slow consumer", "participant_id", m.id)
		m.conn.Close()
	}
}

func (r *Relay) writePump(m *member) {
	pingTicker := time.NewTicker(r.cfg.PingInterval)
	defer pingTicker.Stop()
	defer m.conn.Close()

	for {
		select {
		case data, ok := <-m.send:
			if !ok {
				m.conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout))
				m.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			m.conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout))
			if err := m.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-pingTicker.C:
			m.conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout))
			if err := m.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (r *Relay) writeError(m *member, text string) {
	msg, err := domain.NewMessage(domain.KindError, m.room, &domain.ErrorPayload{Message: text})
	if err != nil {
		return
	}
	r.enqueue(m, msg)
}

// writeErrorDirect reports a pre-registration failure on the raw
// connection; there is no writePump yet at that point.
func (r *Relay) writeErrorDirect(conn *websocket.Conn, text string) {
	msg, err := domain.NewMessage(domain.KindError, "", &domain.ErrorPayload{Message: text})
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout))
	conn.WriteJSON(msg)
}

// RoomCount reports how many rooms currently have members.
func (r *Relay) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// ParticipantCount reports the total connected participants.
func (r *Relay) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, room := range r.rooms {
		total += len(room)
	}
	return total
}

// Rooms snapshots room names and their sizes.
func (r *Relay) Rooms() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.rooms))
	for name, room := range r.rooms {
		out[string(name)] = len(room)
	}
	return out
}
