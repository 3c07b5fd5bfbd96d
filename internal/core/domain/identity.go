package domain

// ParticipantID is an opaque, room-scoped participant identifier. It is
// assigned by the rendezvous relay on join, never chosen locally.
type ParticipantID string

// RoomName scopes all signaling traffic for one mesh.
type RoomName string

// Identity pairs the relay-assigned id with a display name. The name is
// mutable, last write wins.
type Identity struct {
	ID   ParticipantID
	Name string
}

// ParticipantInfo is a roster entry as reported by the relay.
type ParticipantInfo struct {
	ID   ParticipantID `json:"id"`
	Name string        `json:"name"`
}

// Room binds the room name to the local identity for the lifetime of a
// joined session.
type Room struct {
	Name RoomName
	Self Identity
}
