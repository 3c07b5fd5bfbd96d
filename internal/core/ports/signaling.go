package ports

import (
	"context"

	"meshcall/internal/core/domain"
)

// MessageHandler receives one inbound relay message. Handlers are
// invoked sequentially, in the order the underlying channel delivered
// the messages; the channel never reorders.
type MessageHandler func(msg *domain.Message)

// SignalingChannel wraps a bidirectional, ordered message stream to the
// rendezvous relay.
type SignalingChannel interface {
	// Connect performs the join handshake and returns the relay-assigned
	// identity plus the current roster.
	Connect(ctx context.Context, room domain.RoomName, name string) (*domain.WelcomePayload, error)

	// Send queues a message for delivery. Fire-and-forget: ordering is
	// preserved within a connected session, delivery is at-least-once.
	Send(msg *domain.Message) error

	// Subscribe registers the inbound message handler. Must be called
	// before messages are expected; only one handler is supported.
	Subscribe(h MessageHandler)

	// OnClosed registers a handler fired exactly once when the underlying
	// connection drops. The channel does not reconnect on its own.
	OnClosed(h func(err error))

	Close() error
}
