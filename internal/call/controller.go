// Package call turns server room assignments into negotiation sessions and
// exposes the few actions a caller has: join, leave, next, mute, start audio.
package call

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/AxelFr971/vocaline-local/internal/capture"
	"github.com/AxelFr971/vocaline-local/internal/negotiation"
	"github.com/AxelFr971/vocaline-local/internal/playback"
	"github.com/AxelFr971/vocaline-local/internal/signaling"
	"github.com/AxelFr971/vocaline-local/internal/telemetry"
)

var (
	ErrNotInCall = errors.New("not in a call")
	ErrClosed    = errors.New("call controller closed")
)

const eventBuffer = 64

// Player is the playback side of a session as the controller sees it.
// *playback.Guard implements it.
type Player interface {
	negotiation.Player
	ManualStart(ctx context.Context) error
	Gate() playback.Gate
	OnChange(fn func(playback.Gate))
}

// PlayerFactory returns the player for a new room. It may return nil.
type PlayerFactory func(roomID string) Player

type Config struct {
	Link       negotiation.Signaler
	Capture    *capture.Manager
	Transports negotiation.TransportFactory
	Players    PlayerFactory
	Telemetry  telemetry.Recorder
}

// Controller follows the matchmaking protocol for one caller.
type Controller struct {
	link       negotiation.Signaler
	capture    *capture.Manager
	transports negotiation.TransportFactory
	players    PlayerFactory
	rec        telemetry.Recorder
	registry   *negotiation.Registry
	log        *slog.Logger

	events chan Event
	unsubs []func()

	mu       sync.Mutex
	closed   bool
	username string
	room     *room
}

type room struct {
	id      string
	partner signaling.Partner
	session *negotiation.Session
	player  Player
	unsub   func()
}

func New(cfg Config) (*Controller, error) {
	if cfg.Link == nil || cfg.Capture == nil || cfg.Transports == nil {
		return nil, errors.New("call controller needs a link, a capture manager and a transport factory")
	}
	rec := cfg.Telemetry
	if rec == nil {
		rec = telemetry.Nop
	}

	c := &Controller{
		link:       cfg.Link,
		capture:    cfg.Capture,
		transports: cfg.Transports,
		players:    cfg.Players,
		rec:        rec,
		registry:   negotiation.NewRegistry(),
		log:        slog.With("component", "call"),
		events:     make(chan Event, eventBuffer),
	}
	c.unsubs = append(c.unsubs, c.link.Subscribe("", c.onServerMessage))
	return c, nil
}

// Events streams status changes for the UI. Slow readers miss events.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Join enters the matchmaking queue.
func (c *Controller) Join(username string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.username = username
	c.mu.Unlock()

	return c.link.Send(signaling.NewMessage(signaling.MessageTypeJoinMatchmaking, "", signaling.JoinRequest{Username: username}))
}

// Leave ends the current conversation and leaves the queue.
func (c *Controller) Leave() error {
	err := c.link.Send(signaling.NewMessage(signaling.MessageTypeLeaveConversation, "", nil))
	c.closeRoom("", "left")
	return err
}

// Next leaves the current partner and queues for a new one.
func (c *Controller) Next() error {
	if err := c.Leave(); err != nil {
		c.log.Warn("leave before next failed", "error", err)
	}
	c.mu.Lock()
	username := c.username
	c.mu.Unlock()
	return c.Join(username)
}

// ToggleMute flips the microphone and reports the new state.
func (c *Controller) ToggleMute() bool {
	muted := c.capture.ToggleMute()

	c.mu.Lock()
	roomID := ""
	if c.room != nil {
		roomID = c.room.id
	}
	c.mu.Unlock()

	c.rec.Record(telemetry.Event{Kind: telemetry.KindAudioState, RoomID: roomID, Name: telemetry.AudioMuted, Enabled: !muted})
	c.emit(Event{Type: EventMute, RoomID: roomID, Muted: muted})
	return muted
}

// StartAudio is the manual "start audio" action.
func (c *Controller) StartAudio(ctx context.Context) error {
	c.mu.Lock()
	r := c.room
	c.mu.Unlock()
	if r == nil || r.player == nil {
		return ErrNotInCall
	}
	return r.player.ManualStart(ctx)
}

// Session returns the live session, if any.
func (c *Controller) Session() (*negotiation.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room == nil {
		return nil, false
	}
	return c.room.session, true
}

// Close ends every session and stops listening.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	for _, fn := range unsubs {
		fn()
	}
	c.closeRoom("", "closed")
	c.registry.CloseAll()
}

func (c *Controller) onServerMessage(msg *signaling.Message) {
	switch msg.Type {
	case signaling.MessageTypeWaitingForMatch:
		var w signaling.Waiting
		if err := msg.Decode(&w); err != nil && !errors.Is(err, signaling.ErrNoPayload) {
			c.log.Debug("bad waiting payload", "error", err)
		}
		c.emit(Event{Type: EventWaiting, Position: w.Position, Message: w.Message})

	case signaling.MessageTypeMatchFound:
		var m signaling.MatchFound
		if err := msg.Decode(&m); err != nil {
			c.emit(Event{Type: EventError, Err: err})
			return
		}
		c.onMatch(m)

	case signaling.MessageTypeError:
		var e signaling.ErrorPayload
		if err := msg.Decode(&e); err != nil {
			return
		}
		c.log.Warn("server error", "type", e.Type, "message", e.Message)
		c.emit(Event{Type: EventError, Message: e.Message, Err: errors.New(e.Type)})
	}
}

func (c *Controller) onMatch(m signaling.MatchFound) {
	role, err := negotiation.ParseRole(m.Role)
	if err != nil || m.RoomID == "" {
		if err == nil {
			err = errors.New("match without room id")
		}
		c.log.Error("invalid room assignment", "error", err)
		c.emit(Event{Type: EventError, Err: err})
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.closeRoom("", "rematched")

	var player Player
	if c.players != nil {
		player = c.players(m.RoomID)
	}
	cfg := negotiation.SessionConfig{
		RoomID:     m.RoomID,
		Role:       role,
		Capture:    negotiation.FromManager(c.capture),
		Transports: c.transports,
		Link:       c.link,
		Telemetry:  c.rec,
	}
	if player != nil {
		cfg.Player = player
	}

	session, err := c.registry.Create(cfg)
	if err != nil {
		c.emit(Event{Type: EventError, RoomID: m.RoomID, Err: err})
		return
	}

	r := &room{id: m.RoomID, partner: m.Partner, session: session, player: player}
	r.unsub = c.link.Subscribe(m.RoomID, func(msg *signaling.Message) {
		switch msg.Type {
		case signaling.MessageTypePartnerLeft, signaling.MessageTypePartnerDisconnected:
			c.emit(Event{Type: EventPartnerLeft, RoomID: m.RoomID, Partner: m.Partner.Username, Message: msg.Type})
			c.closeRoom(m.RoomID, msg.Type)
		}
	})

	session.OnStateChange(func(st negotiation.State) {
		c.emit(Event{Type: EventSession, RoomID: m.RoomID, State: st, Err: session.Err()})
	})
	if player != nil {
		player.OnChange(func(g playback.Gate) {
			c.emit(Event{Type: EventPlayback, RoomID: m.RoomID, Gate: g})
		})
	}

	c.mu.Lock()
	c.room = r
	c.mu.Unlock()

	c.log.Info("matched", "room_id", m.RoomID, "role", role, "partner", m.Partner.Username)
	c.emit(Event{Type: EventMatched, RoomID: m.RoomID, Role: role, Partner: m.Partner.Username})

	if err := session.Start(); err != nil {
		c.emit(Event{Type: EventError, RoomID: m.RoomID, Err: err})
	}
}

// closeRoom closes the current room when roomID is empty or matches it.
func (c *Controller) closeRoom(roomID, reason string) {
	c.mu.Lock()
	r := c.room
	if r == nil || (roomID != "" && r.id != roomID) {
		c.mu.Unlock()
		return
	}
	c.room = nil
	c.mu.Unlock()

	c.log.Info("closing room", "room_id", r.id, "reason", reason)
	r.unsub()
	c.registry.Close(r.id)
}

func (c *Controller) emit(e Event) {
	select {
	case c.events <- e:
	default:
		c.log.Debug("dropping call event", "type", e.Type)
	}
}
