//go:build linux

package capture

import (
	"context"
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/webrtc/v4"
)

const readerMTU = 1200

// Microphone captures the default audio input through pion/mediadevices
// (malgo under the hood) and encodes it to Opus.
type Microphone struct {
	selector *mediadevices.CodecSelector
}

// NewMicrophone prepares the Opus encoder selection. No device is opened.
func NewMicrophone() (*Microphone, error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	return &Microphone{
		selector: mediadevices.NewCodecSelector(mediadevices.WithAudioEncoders(&opusParams)),
	}, nil
}

// Populate registers the codecs this microphone produces on a media engine.
func (m *Microphone) Populate(me *webrtc.MediaEngine) {
	m.selector.Populate(me)
}

// Open implements Device.
func (m *Microphone) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Codec: m.selector,
		Audio: func(*mediadevices.MediaTrackConstraints) {},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return &mdStream{stream: stream}, nil
}

type mdStream struct {
	stream mediadevices.MediaStream
}

func (s *mdStream) AudioTracks() []Track {
	var out []Track
	for _, t := range s.stream.GetAudioTracks() {
		out = append(out, &mdTrack{track: t})
	}
	return out
}

func (s *mdStream) Close() error {
	var first error
	for _, t := range s.stream.GetTracks() {
		if err := t.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type mdTrack struct {
	track mediadevices.Track
}

func (t *mdTrack) ID() string { return t.track.ID() }

func (t *mdTrack) Codec() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
}

func (t *mdTrack) NewReader(ssrc uint32) (PacketReader, error) {
	return t.track.NewRTPReader(webrtc.MimeTypeOpus, ssrc, readerMTU)
}

func (t *mdTrack) Close() error { return t.track.Close() }

// AudioDevice is one entry of the platform device list.
type AudioDevice struct {
	ID    string
	Label string
}

// ListAudioInputs enumerates the platform microphones.
func ListAudioInputs() []AudioDevice {
	var out []AudioDevice
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind == mediadevices.AudioInput {
			out = append(out, AudioDevice{ID: d.DeviceID, Label: d.Label})
		}
	}
	return out
}

// CountAudioInputs is a DeviceCounter backed by ListAudioInputs.
func CountAudioInputs() int {
	return len(ListAudioInputs())
}
