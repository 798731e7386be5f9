package negotiation

import (
	"context"

	"github.com/AxelFr971/vocaline-local/internal/capture"
	"github.com/pion/webrtc/v4"
)

// LocalStream is a session-owned clone of the capture stream.
type LocalStream interface {
	ID() string
	Tracks() []webrtc.TrackLocal
	Stop()
}

// CaptureSource hands sessions their local stream. Sessions never open the
// device directly.
type CaptureSource interface {
	Acquire(ctx context.Context) error
	Clone() (LocalStream, error)
}

// FromManager exposes a capture manager as a CaptureSource.
func FromManager(m *capture.Manager) CaptureSource {
	return managerSource{m: m}
}

type managerSource struct {
	m *capture.Manager
}

func (s managerSource) Acquire(ctx context.Context) error {
	_, err := s.m.Acquire(ctx)
	return err
}

func (s managerSource) Clone() (LocalStream, error) {
	c, err := s.m.Clone()
	if err != nil {
		return nil, err
	}
	return c, nil
}
