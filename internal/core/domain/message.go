package domain

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v3"
)

// MessageKind enumerates the closed set of signaling message kinds
// exchanged with the rendezvous relay.
type MessageKind string

const (
	// KindJoin is sent once by a participant right after connecting.
	KindJoin MessageKind = "join"
	// KindWelcome is the relay's reply to join: the assigned id plus the
	// current roster.
	KindWelcome MessageKind = "welcome"
	// KindParticipantJoined notifies existing members about a newcomer.
	KindParticipantJoined MessageKind = "participant-joined"
	// KindParticipantLeft notifies members that a participant is gone.
	KindParticipantLeft MessageKind = "participant-left"
	// KindSignal carries one offer/answer/ice exchange between two peers.
	KindSignal MessageKind = "signal"
	// KindRoster carries the full name list after membership changes.
	KindRoster MessageKind = "roster"
	// KindError reports a relay-side rejection of the previous message.
	KindError MessageKind = "error"
)

// SignalType discriminates the payload of a KindSignal message.
type SignalType string

const (
	SignalOffer  SignalType = "offer"
	SignalAnswer SignalType = "answer"
	SignalICE    SignalType = "ice"
)

// Message is the wire envelope for all relay traffic.
type Message struct {
	Kind    MessageKind     `json:"kind"`
	Room    RoomName        `json:"room,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type JoinPayload struct {
	Name string `json:"name"`
}

type WelcomePayload struct {
	Self         ParticipantID     `json:"self"`
	Participants []ParticipantInfo `json:"participants"`
}

type ParticipantJoinedPayload struct {
	ID   ParticipantID `json:"id"`
	Name string        `json:"name"`
}

type ParticipantLeftPayload struct {
	ID ParticipantID `json:"id"`
}

// SignalPayload carries one negotiation step. Target is set by the
// sender, From and FromName are stamped by the relay before delivery.
// Exactly one of Description or Candidate is non-nil, matching Type.
type SignalPayload struct {
	Target      ParticipantID              `json:"target,omitempty"`
	From        ParticipantID              `json:"from,omitempty"`
	FromName    string                     `json:"from_name,omitempty"`
	Type        SignalType                 `json:"type"`
	Description *webrtc.SessionDescription `json:"description,omitempty"`
	Candidate   *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

type RosterPayload struct {
	Participants []ParticipantInfo `json:"participants"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// NewMessage marshals payload into a wire envelope.
func NewMessage(kind MessageKind, room RoomName, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return &Message{Kind: kind, Room: room, Payload: data}, nil
}

// Marshal encodes the envelope for the wire.
func (m *Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// DecodePayload unmarshals the envelope payload into out and validates
// that the envelope carries a payload at all.
func (m *Message) DecodePayload(out interface{}) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", m.Kind)
	}
	if err := json.Unmarshal(m.Payload, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Kind, err)
	}
	return nil
}
