package relay

import (
	"log/slog"
	"time"

	"github.com/AxelFr971/vocaline-local/internal/signaling"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024 // 64 KB - enough for SDP messages

	sendBuffer = 256
)

type frame struct {
	kind int
	data []byte
}

// Client is a single websocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	id   string
	send chan frame

	// Owned by the hub goroutine.
	codec    signaling.Codec
	username string
	roomID   string
	waiting  bool
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:   hub,
		conn:  conn,
		id:    uuid.NewString(),
		send:  make(chan frame, sendBuffer),
		codec: hub.codec,
	}
}

// codecForFrame picks the codec matching a websocket frame type.
func codecForFrame(kind int) signaling.Codec {
	if kind == websocket.BinaryMessage {
		return signaling.MsgPack
	}
	return signaling.JSON
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read failed", "client", c.id, "error", err)
			}
			break
		}

		codec := codecForFrame(kind)
		msg, err := codec.Decode(data)
		if err != nil {
			slog.Warn("dropping undecodable frame", "client", c.id, "error", err)
			continue
		}

		if !c.hub.submit(&inbound{client: c, msg: msg, frame: frame{kind: kind, data: data}, codec: codec}) {
			return
		}
	}
}

// WritePump pumps frames from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(f.kind, f.data); err != nil {
				slog.Debug("websocket write failed", "client", c.id, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// deliver encodes msg in the client's codec and queues it. It never blocks
// the hub: a client that cannot keep up loses the message.
func (c *Client) deliver(msg *signaling.Message) {
	data, err := c.codec.Encode(msg)
	if err != nil {
		slog.Error("failed to encode message", "type", msg.Type, "error", err)
		return
	}
	c.queue(frame{kind: c.codec.FrameType(), data: data})
}

// forward relays a peer message, reusing the original frame when both ends
// speak the same codec.
func (c *Client) forward(in *inbound) {
	if in.codec == c.codec {
		c.queue(in.frame)
		return
	}

	var payload any
	if err := in.msg.Decode(&payload); err != nil && err != signaling.ErrNoPayload {
		slog.Warn("failed to transcode message", "type", in.msg.Type, "error", err)
		return
	}
	c.deliver(signaling.NewMessage(in.msg.Type, in.msg.RoomID, payload))
}

func (c *Client) queue(f frame) {
	select {
	case c.send <- f:
	default:
		slog.Warn("client send buffer full, dropping message", "client", c.id)
	}
}
