// Package telemetry reports session, negotiation and audio transitions.
// Recording never blocks and never fails the caller.
package telemetry

import (
	"time"
)

// Kind groups events by the diagnostic channel they belong to.
type Kind string

const (
	// Sent to the signaling server.
	KindConnectionState Kind = "connection-state"
	KindAudioState      Kind = "audio-state"
	KindError           Kind = "error"

	// Local only.
	KindSessionState Kind = "session-state"
	KindIgnored      Kind = "ignored"
)

// Audio event names.
const (
	AudioLocalReady      = "local-stream-ready"
	AudioRemoteTrack     = "remote-track"
	AudioPlaying         = "playing"
	AudioAutoplayBlocked = "autoplay-blocked"
	AudioManualStart     = "manual-start"
	AudioMuted           = "muted"
)

// Event is one recorded transition.
type Event struct {
	Kind   Kind
	RoomID string

	// Name is the state, audio event type, error type or ignore reason.
	Name string

	// Detail is the error message or debug tag.
	Detail  string
	Enabled bool
	At      time.Time
}

// Recorder is the single capability components report through.
type Recorder interface {
	Record(Event)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(Event)

func (f RecorderFunc) Record(e Event) { f(e) }

// Nop discards every event.
var Nop Recorder = RecorderFunc(func(Event) {})

// Multi records to each recorder in order.
func Multi(recorders ...Recorder) Recorder {
	return RecorderFunc(func(e Event) {
		for _, r := range recorders {
			r.Record(e)
		}
	})
}
