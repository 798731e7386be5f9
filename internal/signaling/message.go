package signaling

import "errors"

// Message type constants.
const (
	// Client to server.
	MessageTypeJoinMatchmaking   = "join_matchmaking"
	MessageTypeLeaveConversation = "leave_conversation"

	// Server to client.
	MessageTypeConnected           = "connected"
	MessageTypeWaitingForMatch     = "waiting_for_match"
	MessageTypeMatchFound          = "match_found"
	MessageTypePartnerLeft         = "partner_left"
	MessageTypePartnerDisconnected = "partner_disconnected"

	// Relayed between peers.
	MessageTypeOffer        = "offer"
	MessageTypeAnswer       = "answer"
	MessageTypeICECandidate = "ice-candidate"

	// Diagnostics, client to server only.
	MessageTypeConnectionState = "connection-state"
	MessageTypeAudioState      = "audio-state"
	MessageTypeError           = "error"
)

var ErrNoPayload = errors.New("message has no payload")

// Message is the envelope for everything carried over the link. Outgoing
// messages set Payload; incoming ones keep the undecoded bytes until a
// handler calls Decode with the concrete type it expects.
type Message struct {
	Type    string
	RoomID  string
	Payload any

	raw   []byte
	codec Codec
}

// NewMessage builds an outgoing message.
func NewMessage(msgType, roomID string, payload any) *Message {
	return &Message{Type: msgType, RoomID: roomID, Payload: payload}
}

// Decode unmarshals the payload into v using the codec the message arrived
// with. Locally built messages are round-tripped through JSON.
func (m *Message) Decode(v any) error {
	c := m.codec
	if c == nil {
		c = JSON
	}

	raw := m.raw
	if len(raw) == 0 {
		if m.Payload == nil {
			return ErrNoPayload
		}
		b, err := c.MarshalPayload(m.Payload)
		if err != nil {
			return err
		}
		raw = b
	}
	return c.UnmarshalPayload(raw, v)
}

// Connected greets a new connection with its server-side id.
type Connected struct {
	ClientID string `json:"client_id" msgpack:"client_id"`
}

// SessionDescription carries an offer or answer.
type SessionDescription struct {
	Type string `json:"type" msgpack:"type"`
	SDP  string `json:"sdp" msgpack:"sdp"`
}

// ICECandidate mirrors the browser RTCIceCandidateInit shape.
type ICECandidate struct {
	Candidate        string  `json:"candidate" msgpack:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty" msgpack:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty" msgpack:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty" msgpack:"usernameFragment,omitempty"`
}

// JoinRequest asks the server for a partner.
type JoinRequest struct {
	Username string `json:"username" msgpack:"username"`
}

// Partner describes the other party of a match.
type Partner struct {
	ID       string `json:"id,omitempty" msgpack:"id,omitempty"`
	Username string `json:"username" msgpack:"username"`
}

// MatchFound is the room assignment. Role is consumed verbatim.
type MatchFound struct {
	RoomID  string  `json:"room_id" msgpack:"room_id"`
	Role    string  `json:"webrtc_role" msgpack:"webrtc_role"`
	Partner Partner `json:"partner" msgpack:"partner"`
}

// Waiting reports the caller's place in the matchmaking queue.
type Waiting struct {
	Message  string `json:"message,omitempty" msgpack:"message,omitempty"`
	Position int    `json:"position,omitempty" msgpack:"position,omitempty"`
}

// ConnectionState reports a peer transport state change.
type ConnectionState struct {
	State     string `json:"state" msgpack:"state"`
	Timestamp int64  `json:"timestamp" msgpack:"timestamp"`
}

// AudioState reports a local or remote audio change.
type AudioState struct {
	Type     string `json:"type" msgpack:"type"`
	Enabled  bool   `json:"enabled" msgpack:"enabled"`
	DebugTag string `json:"debug_tag,omitempty" msgpack:"debug_tag,omitempty"`
}

// ErrorPayload reports a failure for diagnostics.
type ErrorPayload struct {
	Type    string `json:"type" msgpack:"type"`
	Message string `json:"message" msgpack:"message"`
}
