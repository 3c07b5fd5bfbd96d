package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/pkg/circuitbreaker"
	"meshcall/pkg/retry"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PresenceEventType discriminates presence events on the bus.
type PresenceEventType string

const (
	PresenceJoined PresenceEventType = "participant.joined"
	PresenceLeft   PresenceEventType = "participant.left"
)

// PresenceEvent is one membership change, as seen by one relay
// instance. Events carry the originating instance so subscribers can
// ignore their own.
type PresenceEvent struct {
	Type          PresenceEventType    `json:"type"`
	InstanceID    string               `json:"instance_id"`
	Timestamp     time.Time            `json:"timestamp"`
	Room          domain.RoomName      `json:"room"`
	ParticipantID domain.ParticipantID `json:"participant_id"`
	Name          string               `json:"name,omitempty"`
}

// PresenceBus mirrors room membership across relay instances over a
// Redis pub/sub channel. Publishing is best-effort with a short retry;
// a lost event degrades cross-instance dashboards, not correctness.
// A circuit breaker keeps an unreachable Redis from stalling every
// join and leave on retry timeouts.
type PresenceBus struct {
	client     *redis.Client
	channel    string
	instanceID string
	pubsub     *redis.PubSub
	breaker    *circuitbreaker.Breaker
	logger     *zap.SugaredLogger
}

func NewPresenceBus(client *redis.Client, channel string, logger *zap.Logger) *PresenceBus {
	return &PresenceBus{
		client:     client,
		channel:    channel,
		instanceID: uuid.NewString(),
		breaker:    circuitbreaker.New(circuitbreaker.DefaultConfig()),
		logger:     logger.Sugar(),
	}
}

// InstanceID identifies this relay instance on the bus.
func (b *PresenceBus) InstanceID() string {
	return b.instanceID
}

func (b *PresenceBus) PublishJoin(room domain.RoomName, id domain.ParticipantID, name string) {
	b.publish(&PresenceEvent{
		Type:          PresenceJoined,
		Room:          room,
		ParticipantID: id,
		Name:          name,
	})
}

func (b *PresenceBus) PublishLeave(room domain.RoomName, id domain.ParticipantID) {
	b.publish(&PresenceEvent{
		Type:          PresenceLeft,
		Room:          room,
		ParticipantID: id,
	})
}

func (b *PresenceBus) publish(event *PresenceEvent) {
	event.InstanceID = b.instanceID
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Errorw("failed to marshal presence event", "type", event.Type, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cfg := retry.Config{MaxAttempts: 3, InitialDelay: 50 * time.Millisecond, MaxDelay: 500 * time.Millisecond, Multiplier: 2.0}
	err = b.breaker.Do(func() error {
		return retry.Do(ctx, cfg, func() error {
			return b.client.Publish(ctx, b.channel, data).Err()
		})
	})
	if err == circuitbreaker.ErrOpen {
		b.logger.Debugw("presence publish skipped, breaker open", "type", event.Type, "room", event.Room)
		return
	}
	if err != nil {
		b.logger.Warnw("failed to publish presence event",
			"type", event.Type,
			"room", event.Room,
			"breaker_state", b.breaker.State().String(),
			"error", err,
		)
		return
	}

	b.logger.Debugw("published presence event",
		"type", event.Type,
		"room", event.Room,
		"participant_id", event.ParticipantID,
	)
}

// Subscribe delivers presence events from other instances until ctx is
// cancelled. Call at most once per bus.
func (b *PresenceBus) Subscribe(ctx context.Context, handler func(*PresenceEvent)) error {
	if b.pubsub != nil {
		return fmt.Errorf("already subscribed")
	}

	b.pubsub = b.client.Subscribe(ctx, b.channel)
	defer b.pubsub.Close()

	ch := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var event PresenceEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warnw("malformed presence event", "error", err)
				continue
			}
			if event.InstanceID == b.instanceID {
				continue
			}
			handler(&event)
		}
	}
}

func (b *PresenceBus) Close() error {
	if b.pubsub != nil {
		return b.pubsub.Close()
	}
	return nil
}
