package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes envelopes for one websocket frame type.
type Codec interface {
	Name() string
	FrameType() int
	Encode(msg *Message) ([]byte, error)
	Decode(data []byte) (*Message, error)
	MarshalPayload(v any) ([]byte, error)
	UnmarshalPayload(data []byte, v any) error
}

var (
	JSON    Codec = jsonCodec{}
	MsgPack Codec = msgpackCodec{}
)

// CodecByName returns the codec registered under name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", JSON.Name():
		return JSON, nil
	case MsgPack.Name():
		return MsgPack, nil
	default:
		return nil, fmt.Errorf("unknown signaling codec %q", name)
	}
}

type jsonEnvelope struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }
func (jsonCodec) FrameType() int { return websocket.TextMessage }

func (c jsonCodec) Encode(msg *Message) ([]byte, error) {
	env := jsonEnvelope{Type: msg.Type, RoomID: msg.RoomID}
	if msg.Payload != nil {
		p, err := c.MarshalPayload(msg.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", msg.Type, err)
		}
		env.Payload = p
	}
	return json.Marshal(env)
}

func (c jsonCodec) Decode(data []byte) (*Message, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if env.Type == "" {
		return nil, fmt.Errorf("message without type")
	}
	return &Message{Type: env.Type, RoomID: env.RoomID, raw: env.Payload, codec: c}, nil
}

func (jsonCodec) MarshalPayload(v any) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) UnmarshalPayload(data []byte, v any) error { return json.Unmarshal(data, v) }

type msgpackEnvelope struct {
	Type    string             `msgpack:"type"`
	RoomID  string             `msgpack:"room_id,omitempty"`
	Payload msgpack.RawMessage `msgpack:"payload,omitempty"`
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }
func (msgpackCodec) FrameType() int { return websocket.BinaryMessage }

func (c msgpackCodec) Encode(msg *Message) ([]byte, error) {
	env := msgpackEnvelope{Type: msg.Type, RoomID: msg.RoomID}
	if msg.Payload != nil {
		p, err := c.MarshalPayload(msg.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", msg.Type, err)
		}
		env.Payload = p
	}
	return msgpack.Marshal(&env)
}

func (c msgpackCodec) Decode(data []byte) (*Message, error) {
	var env msgpackEnvelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if env.Type == "" {
		return nil, fmt.Errorf("message without type")
	}
	return &Message{Type: env.Type, RoomID: env.RoomID, raw: env.Payload, codec: c}, nil
}

func (msgpackCodec) MarshalPayload(v any) ([]byte, error) { return msgpack.Marshal(v) }
func (msgpackCodec) UnmarshalPayload(data []byte, v any) error { return msgpack.Unmarshal(data, v) }
