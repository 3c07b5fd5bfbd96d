package domain

import "errors"

var (
	ErrSessionClosed = errors.New("peer session closed")
	ErrChannelClosed = errors.New("signaling channel closed")
	ErrAlreadyJoined = errors.New("already joined to a room")
)
