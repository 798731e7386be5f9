package negotiation

import "fmt"

// State is the negotiation progress of one session.
type State int

const (
	StateIdle State = iota
	StateLocalCaptureReady
	StateOfferCreated
	StateAwaitingOffer
	StateAnswerExchanged
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

var stateNames = map[State]string{
	StateIdle:              "idle",
	StateLocalCaptureReady: "local-capture-ready",
	StateOfferCreated:      "offer-created",
	StateAwaitingOffer:     "awaiting-offer",
	StateAnswerExchanged:   "answer-exchanged",
	StateConnected:         "connected",
	StateDisconnected:      "disconnected",
	StateFailed:            "failed",
	StateClosed:            "closed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether the session has been torn down.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

// Role is assigned by the matchmaking server and never changes.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// ParseRole accepts the server's role names. "receiver" is an alias for
// responder.
func ParseRole(s string) (Role, error) {
	switch s {
	case "initiator":
		return RoleInitiator, nil
	case "responder", "receiver":
		return RoleResponder, nil
	default:
		return 0, fmt.Errorf("unknown webrtc role %q", s)
	}
}
