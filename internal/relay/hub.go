// Package relay is a development signaling server: it pairs waiting callers
// into rooms and relays negotiation messages between the two members.
package relay

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"slices"

	"github.com/AxelFr971/vocaline-local/internal/signaling"
	"github.com/AxelFr971/vocaline-local/internal/telemetry"
)

type inbound struct {
	client *Client
	msg    *signaling.Message
	frame  frame
	codec  signaling.Codec
}

// Hub is the central brain of the relay. All room and queue state is owned by
// the Run goroutine.
type Hub struct {
	codec signaling.Codec
	rec   telemetry.Recorder

	rooms   map[string]*Room
	waiting []*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan *inbound

	// stopped is closed when Run returns.
	stopped chan struct{}
}

// NewHub creates a hub. codec is used for server messages until a client's
// first frame shows which codec it speaks. Diagnostics received from clients
// are recorded to rec.
func NewHub(codec signaling.Codec, rec telemetry.Recorder) *Hub {
	if codec == nil {
		codec = signaling.JSON
	}
	if rec == nil {
		rec = telemetry.Nop
	}
	return &Hub{
		codec:      codec,
		rec:        rec,
		rooms:      make(map[string]*Room),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan *inbound),
		stopped:    make(chan struct{}),
	}
}

// generateRoomID creates a random, memorable room ID using word combinations.
// Format: word-word-word-word (e.g., "kitten-waffle-stardust-happy")
func (h *Hub) generateRoomID() string {
	allWords := [][]string{animals, dishes, names, randomWords, adjectives, extras}

	for {
		// Pick 4 distinct word lists, then one word from each.
		order := make([]int, len(allWords))
		for i := range order {
			order[i] = i
		}
		for i := len(order) - 1; i > 0; i-- {
			j := randomIndex(i + 1)
			order[i], order[j] = order[j], order[i]
		}

		words := make([]any, 4)
		for i := range words {
			list := allWords[order[i]]
			words[i] = list[randomIndex(len(list))]
		}
		id := fmt.Sprintf("%s-%s-%s-%s", words...)

		if _, ok := h.rooms[id]; !ok {
			return id
		}
	}
}

// randomIndex returns a cryptographically secure random index for a slice of given length.
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		panic(fmt.Sprintf("failed to generate random index: %v", err))
	}
	return int(n.Int64())
}

// Run processes registrations and messages until ctx is done. It must be
// called at most once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			slog.Info("client registered", "client", c.id, "addr", c.conn.RemoteAddr())
			c.deliver(signaling.NewMessage(signaling.MessageTypeConnected, "", signaling.Connected{ClientID: c.id}))

		case c := <-h.unregister:
			slog.Info("client unregistered", "client", c.id)
			h.dequeue(c)
			h.leaveRoom(c, signaling.MessageTypePartnerDisconnected)
			close(c.send)

		case in := <-h.inbound:
			in.client.codec = in.codec
			h.handle(in)
		}
	}
}

// enter hands c to the hub. It reports false once Run has returned.
func (h *Hub) enter(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.stopped:
		return false
	}
}

// leave removes c from the hub. After Run has returned nobody else owns
// c.send, so leave closes it itself.
func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopped:
		close(c.send)
	}
}

// submit queues a decoded frame for Run. It reports false once Run has
// returned.
func (h *Hub) submit(in *inbound) bool {
	select {
	case h.inbound <- in:
		return true
	case <-h.stopped:
		return false
	}
}

func (h *Hub) handle(in *inbound) {
	c, msg := in.client, in.msg

	switch msg.Type {
	case signaling.MessageTypeJoinMatchmaking:
		var req signaling.JoinRequest
		if err := msg.Decode(&req); err != nil && err != signaling.ErrNoPayload {
			h.reject(c, "bad-request", "invalid join request")
			return
		}
		h.join(c, req.Username)

	case signaling.MessageTypeLeaveConversation:
		h.dequeue(c)
		h.leaveRoom(c, signaling.MessageTypePartnerLeft)

	case signaling.MessageTypeOffer, signaling.MessageTypeAnswer, signaling.MessageTypeICECandidate:
		h.relay(in)

	case signaling.MessageTypeConnectionState, signaling.MessageTypeAudioState, signaling.MessageTypeError:
		e, ok := telemetry.FromMessage(msg)
		if !ok {
			slog.Debug("dropping malformed diagnostic", "client", c.id, "type", msg.Type)
			return
		}
		h.rec.Record(e)

	default:
		slog.Warn("unknown message type", "client", c.id, "type", msg.Type)
		h.reject(c, "unknown-type", fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

// join pairs c with the longest waiting caller, or queues it. The caller
// that completes the pair is the initiator.
func (h *Hub) join(c *Client, username string) {
	if username == "" {
		username = "anonymous"
	}
	c.username = username

	h.leaveRoom(c, signaling.MessageTypePartnerLeft)
	if c.waiting {
		h.send(c, signaling.MessageTypeWaitingForMatch, "", signaling.Waiting{Message: "already waiting", Position: h.position(c)})
		return
	}

	if len(h.waiting) == 0 {
		c.waiting = true
		h.waiting = append(h.waiting, c)
		slog.Info("caller waiting", "client", c.id, "username", username)
		h.send(c, signaling.MessageTypeWaitingForMatch, "", signaling.Waiting{Message: "waiting for a partner", Position: 1})
		return
	}

	partner := h.waiting[0]
	h.waiting = h.waiting[1:]
	partner.waiting = false

	room := &Room{ID: h.generateRoomID(), Initiator: c, Responder: partner}
	h.rooms[room.ID] = room
	c.roomID = room.ID
	partner.roomID = room.ID
	slog.Info("room created", "room_id", room.ID, "initiator", c.id, "responder", partner.id)

	h.send(c, signaling.MessageTypeMatchFound, "", signaling.MatchFound{
		RoomID:  room.ID,
		Role:    "initiator",
		Partner: signaling.Partner{ID: partner.id, Username: partner.username},
	})
	h.send(partner, signaling.MessageTypeMatchFound, "", signaling.MatchFound{
		RoomID:  room.ID,
		Role:    "responder",
		Partner: signaling.Partner{ID: c.id, Username: c.username},
	})
}

func (h *Hub) relay(in *inbound) {
	c, msg := in.client, in.msg

	if c.roomID == "" || msg.RoomID != c.roomID {
		slog.Warn("signal outside the sender's room", "client", c.id, "room_id", msg.RoomID, "type", msg.Type)
		h.reject(c, "not-in-room", "you must be matched to this room first")
		return
	}
	room, ok := h.rooms[c.roomID]
	if !ok {
		h.reject(c, "not-in-room", "room not found")
		return
	}
	target := room.other(c)
	if target == nil {
		slog.Debug("no partner to relay to", "room_id", room.ID, "type", msg.Type)
		return
	}
	target.forward(in)
}

// leaveRoom removes c from its room and tells the partner with notice.
func (h *Hub) leaveRoom(c *Client, notice string) {
	if c.roomID == "" {
		return
	}
	room, ok := h.rooms[c.roomID]
	c.roomID = ""
	if !ok {
		return
	}

	delete(h.rooms, room.ID)
	slog.Info("room closed", "room_id", room.ID, "by", c.id, "reason", notice)
	if partner := room.other(c); partner != nil {
		partner.roomID = ""
		h.send(partner, notice, room.ID, nil)
	}
}

func (h *Hub) dequeue(c *Client) {
	if !c.waiting {
		return
	}
	c.waiting = false
	h.waiting = slices.DeleteFunc(h.waiting, func(w *Client) bool { return w == c })
}

func (h *Hub) position(c *Client) int {
	return slices.Index(h.waiting, c) + 1
}

func (h *Hub) send(c *Client, msgType, roomID string, payload any) {
	c.deliver(signaling.NewMessage(msgType, roomID, payload))
}

func (h *Hub) reject(c *Client, kind, text string) {
	h.send(c, signaling.MessageTypeError, "", signaling.ErrorPayload{Type: kind, Message: text})
}
