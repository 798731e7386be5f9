//go:build !linux

package capture

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

var errUnsupported = errors.New("microphone capture is only supported on linux")

// Microphone is unavailable on this platform; Open always fails.
type Microphone struct{}

func NewMicrophone() (*Microphone, error) { return &Microphone{}, nil }

func (m *Microphone) Populate(me *webrtc.MediaEngine) {
	_ = me.RegisterDefaultCodecs()
}

func (m *Microphone) Open(context.Context) (Stream, error) {
	return nil, errors.Join(ErrPermissionDenied, errUnsupported)
}

// AudioDevice is one entry of the platform device list.
type AudioDevice struct {
	ID    string
	Label string
}

func ListAudioInputs() []AudioDevice { return nil }

func CountAudioInputs() int { return 0 }
