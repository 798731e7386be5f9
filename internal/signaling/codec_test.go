package signaling

import (
	"errors"
	"testing"

	"github.com/gorilla/websocket"
)

func TestCodecByName(t *testing.T) {
	tests := []struct {
		name      string
		want      Codec
		wantFrame int
	}{
		{"", JSON, websocket.TextMessage},
		{"json", JSON, websocket.TextMessage},
		{"msgpack", MsgPack, websocket.BinaryMessage},
	}
	for _, tt := range tests {
		c, err := CodecByName(tt.name)
		if err != nil {
			t.Fatalf("CodecByName(%q): %v", tt.name, err)
		}
		if c != tt.want || c.FrameType() != tt.wantFrame {
			t.Errorf("CodecByName(%q) = %s", tt.name, c.Name())
		}
	}
	if _, err := CodecByName("protobuf"); err == nil {
		t.Error("expected error for unknown codec")
	}
}

func TestCodecDecodesMatchFound(t *testing.T) {
	for _, c := range []Codec{JSON, MsgPack} {
		t.Run(c.Name(), func(t *testing.T) {
			in := MatchFound{RoomID: "kitten-waffle", Role: "receiver", Partner: Partner{Username: "bob"}}
			data, err := c.Encode(NewMessage(MessageTypeMatchFound, "", in))
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}

			msg, err := c.Decode(data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			var out MatchFound
			if err := msg.Decode(&out); err != nil {
				t.Fatalf("payload: %v", err)
			}
			if out != in {
				t.Errorf("got %+v, want %+v", out, in)
			}
		})
	}
}

func TestJSONWireNames(t *testing.T) {
	idx := uint16(0)
	data, err := JSON.Encode(NewMessage(MessageTypeICECandidate, "R", ICECandidate{Candidate: "candidate:1", SDPMLineIndex: &idx}))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"type":"ice-candidate","room_id":"R","payload":{"candidate":"candidate:1","sdpMLineIndex":0}}`
	if string(data) != want {
		t.Errorf("got  %s\nwant %s", data, want)
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := JSON.Decode([]byte(`{"room_id":"R"}`)); err == nil {
		t.Error("expected error for message without type")
	}

	msg, err := JSON.Decode([]byte(`{"type":"partner_left"}`))
	if err != nil {
		t.Fatal(err)
	}
	var v struct{}
	if err := msg.Decode(&v); !errors.Is(err, ErrNoPayload) {
		t.Errorf("Decode = %v, want ErrNoPayload", err)
	}
}
