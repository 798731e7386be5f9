package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64

	defaultReconnectDelay = 2 * time.Second
)

var (
	ErrLinkDown       = errors.New("signaling link is down")
	ErrLinkClosed     = errors.New("signaling link closed")
	ErrSendBufferFull = errors.New("signaling send buffer full")
)

// State is the liveness of the link.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DialFunc dials the TCP connection under the websocket.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Option configures a Link.
type Option func(*Link)

// WithCodec selects the wire codec. JSON is the default.
func WithCodec(c Codec) Option {
	return func(l *Link) { l.codec = c }
}

// WithReconnectDelay sets the delay before the single reconnect attempt.
func WithReconnectDelay(d time.Duration) Option {
	return func(l *Link) {
		if d > 0 {
			l.reconnectDelay = d
		}
	}
}

// WithDialer replaces the network dialer, typically with the DNS fallback
// resolver.
func WithDialer(dial DialFunc) Option {
	return func(l *Link) { l.dial = dial }
}

// Link is the single logical connection to the signaling server. It never
// runs more than one reconnect attempt at a time: an unexpected drop arms one
// timer, a failed attempt re-arms it, and a successful Connect cancels it.
type Link struct {
	url            string
	codec          Codec
	dial           DialFunc
	reconnectDelay time.Duration
	router         *Router
	log            *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	outgoing  chan []byte
	done      chan struct{}
	gen       uint64
	state     State
	timer     *time.Timer
	closed    bool
	listeners []func(State)
}

// NewLink creates a link for the given websocket URL. Call Connect to open it.
func NewLink(serverURL string, opts ...Option) *Link {
	l := &Link{
		url:            serverURL,
		codec:          JSON,
		reconnectDelay: defaultReconnectDelay,
		router:         NewRouter(),
		state:          StateDisconnected,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = slog.With("component", "signaling", "codec", l.codec.Name())
	return l
}

// Connect opens the connection. It is a no-op when already connected and
// cancels a pending reconnect attempt on success.
func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLinkClosed
	}
	if l.conn != nil {
		l.mu.Unlock()
		return nil
	}
	var notify []func(State)
	if l.state != StateReconnecting {
		notify = l.setStateLocked(StateConnecting)
	}
	l.mu.Unlock()
	l.emit(notify, StateConnecting)

	err := l.open(ctx)
	if err != nil {
		l.mu.Lock()
		var notify []func(State)
		if l.state == StateConnecting {
			notify = l.setStateLocked(StateDisconnected)
		}
		l.mu.Unlock()
		l.emit(notify, StateDisconnected)
	}
	return err
}

func (l *Link) open(ctx context.Context) error {
	dialer := &websocket.Dialer{
		HandshakeTimeout: writeWait,
		NetDialContext:   l.dial,
		Proxy:            websocket.DefaultDialer.Proxy,
	}

	conn, _, err := dialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		conn.Close()
		return ErrLinkClosed
	}
	if l.conn != nil {
		l.mu.Unlock()
		conn.Close()
		return nil
	}
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}

	l.gen++
	gen := l.gen
	l.conn = conn
	l.outgoing = make(chan []byte, sendBuffer)
	l.done = make(chan struct{})
	outgoing, done := l.outgoing, l.done
	notify := l.setStateLocked(StateConnected)
	l.mu.Unlock()

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go l.readPump(conn, gen)
	go l.writePump(conn, outgoing, done)

	l.log.Info("signaling connected", "url", l.url)
	l.emit(notify, StateConnected)
	return nil
}

// readPump decodes frames and dispatches them until the connection fails.
func (l *Link) readPump(conn *websocket.Conn, gen uint64) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			l.drop(gen, err)
			return
		}

		msg, err := l.codec.Decode(data)
		if err != nil {
			l.log.Warn("dropping undecodable message", "error", err)
			continue
		}
		if l.router.Dispatch(msg) == 0 {
			l.log.Debug("no subscriber for message", "type", msg.Type, "room_id", msg.RoomID)
		}
	}
}

// writePump writes queued frames and sends periodic pings.
func (l *Link) writePump(conn *websocket.Conn, outgoing <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case data := <-outgoing:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(l.codec.FrameType(), data); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// drop handles the loss of connection generation gen.
func (l *Link) drop(gen uint64, cause error) {
	l.mu.Lock()
	if gen != l.gen || l.conn == nil {
		l.mu.Unlock()
		return
	}
	l.conn = nil
	close(l.done)

	if l.closed {
		l.mu.Unlock()
		return
	}
	l.scheduleLocked()
	notify := l.setStateLocked(StateReconnecting)
	l.mu.Unlock()

	l.log.Warn("signaling connection lost", "error", cause, "retry_in", l.reconnectDelay)
	l.emit(notify, StateReconnecting)
}

// scheduleLocked arms the reconnect timer unless one is already pending.
func (l *Link) scheduleLocked() {
	if l.timer != nil {
		return
	}
	l.timer = time.AfterFunc(l.reconnectDelay, l.reconnect)
}

func (l *Link) reconnect() {
	l.mu.Lock()
	l.timer = nil
	if l.closed || l.conn != nil {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	if err := l.open(ctx); err != nil {
		l.log.Warn("signaling reconnect failed", "error", err)
		l.mu.Lock()
		if !l.closed && l.conn == nil {
			l.scheduleLocked()
		}
		l.mu.Unlock()
	}
}

// Send queues msg for delivery. Delivery is at most once: messages sent while
// the link is down are rejected, not buffered.
func (l *Link) Send(msg *Message) error {
	data, err := l.codec.Encode(msg)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLinkClosed
	}
	if l.conn == nil {
		return ErrLinkDown
	}

	select {
	case l.outgoing <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Subscribe registers h for messages tagged with roomID; use an empty room ID
// for server messages outside any room.
func (l *Link) Subscribe(roomID string, h Handler) (unsubscribe func()) {
	return l.router.Subscribe(roomID, h)
}

// OnStateChange registers fn to be called on every state transition.
func (l *Link) OnStateChange(fn func(State)) {
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

// State returns the current link state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Close shuts the connection and cancels any pending reconnect.
func (l *Link) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	if l.conn != nil {
		l.conn = nil
		close(l.done)
	}
	notify := l.setStateLocked(StateClosed)
	l.mu.Unlock()

	l.emit(notify, StateClosed)
}

func (l *Link) setStateLocked(s State) []func(State) {
	if l.state == s {
		return nil
	}
	l.state = s
	return append([]func(State){}, l.listeners...)
}

func (l *Link) emit(listeners []func(State), s State) {
	for _, fn := range listeners {
		fn(s)
	}
}

// pending reports whether a reconnect timer is armed.
func (l *Link) pending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.timer != nil
}
