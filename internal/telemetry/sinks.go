package telemetry

import (
	"log/slog"

	"github.com/AxelFr971/vocaline-local/internal/signaling"
)

// Sender is the part of the signaling link the signaling sink needs.
type Sender interface {
	Send(*signaling.Message) error
}

// SignalingSink forwards connection, audio and error events to the server.
// Local-only kinds are skipped.
type SignalingSink struct {
	link Sender
}

func NewSignalingSink(link Sender) *SignalingSink {
	return &SignalingSink{link: link}
}

func (s *SignalingSink) Record(e Event) {
	msg := ToMessage(e)
	if msg == nil {
		return
	}
	if err := s.link.Send(msg); err != nil {
		slog.Debug("telemetry not delivered", "kind", e.Kind, "error", err)
	}
}

// ToMessage converts an event to its signaling message, or nil for local-only
// kinds.
func ToMessage(e Event) *signaling.Message {
	switch e.Kind {
	case KindConnectionState:
		return signaling.NewMessage(signaling.MessageTypeConnectionState, e.RoomID, signaling.ConnectionState{
			State:     e.Name,
			Timestamp: e.At.UnixMilli(),
		})
	case KindAudioState:
		return signaling.NewMessage(signaling.MessageTypeAudioState, e.RoomID, signaling.AudioState{
			Type:     e.Name,
			Enabled:  e.Enabled,
			DebugTag: e.Detail,
		})
	case KindError:
		return signaling.NewMessage(signaling.MessageTypeError, e.RoomID, signaling.ErrorPayload{
			Type:    e.Name,
			Message: e.Detail,
		})
	default:
		return nil
	}
}

// FromMessage is the inverse of ToMessage, used by the relay to account for
// diagnostics it receives.
func FromMessage(msg *signaling.Message) (Event, bool) {
	switch msg.Type {
	case signaling.MessageTypeConnectionState:
		var p signaling.ConnectionState
		if err := msg.Decode(&p); err != nil {
			return Event{}, false
		}
		return Event{Kind: KindConnectionState, RoomID: msg.RoomID, Name: p.State}, true
	case signaling.MessageTypeAudioState:
		var p signaling.AudioState
		if err := msg.Decode(&p); err != nil {
			return Event{}, false
		}
		return Event{Kind: KindAudioState, RoomID: msg.RoomID, Name: p.Type, Enabled: p.Enabled, Detail: p.DebugTag}, true
	case signaling.MessageTypeError:
		var p signaling.ErrorPayload
		if err := msg.Decode(&p); err != nil {
			return Event{}, false
		}
		return Event{Kind: KindError, RoomID: msg.RoomID, Name: p.Type, Detail: p.Message}, true
	default:
		return Event{}, false
	}
}

// LogSink writes events to a slog logger.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log.With("component", "telemetry")}
}

func (s *LogSink) Record(e Event) {
	attrs := []any{"kind", e.Kind, "room_id", e.RoomID, "name", e.Name}
	if e.Kind == KindAudioState {
		attrs = append(attrs, "enabled", e.Enabled)
	}
	if e.Detail != "" {
		attrs = append(attrs, "detail", e.Detail)
	}

	switch e.Kind {
	case KindError:
		s.log.Warn("session error", attrs...)
	case KindIgnored:
		s.log.Debug("message ignored", attrs...)
	default:
		s.log.Info("session event", attrs...)
	}
}
