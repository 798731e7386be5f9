package call

import (
	"github.com/AxelFr971/vocaline-local/internal/negotiation"
	"github.com/AxelFr971/vocaline-local/internal/playback"
)

type EventType int

const (
	EventWaiting EventType = iota
	EventMatched
	EventSession
	EventPlayback
	EventPartnerLeft
	EventMute
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventWaiting:
		return "waiting"
	case EventMatched:
		return "matched"
	case EventSession:
		return "session"
	case EventPlayback:
		return "playback"
	case EventPartnerLeft:
		return "partner-left"
	case EventMute:
		return "mute"
	default:
		return "error"
	}
}

// Event is one status update for the call screen. Only the fields relevant
// to Type are set.
type Event struct {
	Type     EventType
	RoomID   string
	Partner  string
	Role     negotiation.Role
	State    negotiation.State
	Gate     playback.Gate
	Muted    bool
	Position int
	Message  string
	Err      error
}
