package player

import "errors"

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateLoading
	StatePlaying
	StatePaused
	StateDisconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

var (
	ErrNotConnected     = errors.New("player is not connected")
	ErrAlreadyConnected = errors.New("player is already connected in this guild")
	ErrNoSession        = errors.New("no player in this guild")
)
