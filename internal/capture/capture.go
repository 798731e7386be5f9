// Package capture owns the user's microphone for the lifetime of a login
// session. Calls never open the device themselves; they take independently
// stoppable clones of the one live stream.
package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrNoAudioTrack     = errors.New("capture stream has no audio track")
	ErrNotAcquired      = errors.New("microphone not acquired")
)

// PermissionState is the platform answer to the microphone permission query.
type PermissionState int

const (
	PermissionUnknown PermissionState = iota
	PermissionGranted
	PermissionDenied
)

func (p PermissionState) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// ParsePermission maps "granted", "denied" and "prompt" (or anything else,
// reported as unknown).
func ParsePermission(s string) PermissionState {
	switch s {
	case "granted":
		return PermissionGranted
	case "denied":
		return PermissionDenied
	default:
		return PermissionUnknown
	}
}

// Device opens the platform microphone.
type Device interface {
	// Open requests access. A refusal wraps ErrPermissionDenied.
	Open(ctx context.Context) (Stream, error)
}

// Stream is a live capture from a Device.
type Stream interface {
	AudioTracks() []Track
	Close() error
}

// Track is one captured audio track. Every reader gets its own encoder, so
// readers can be stopped independently.
type Track interface {
	ID() string
	Codec() webrtc.RTPCodecCapability
	NewReader(ssrc uint32) (PacketReader, error)
	Close() error
}

// PacketReader yields encoded RTP packets. release must be called once the
// packets have been consumed.
type PacketReader interface {
	Read() (pkts []*rtp.Packet, release func(), err error)
	Close() error
}

// Handle is a snapshot of the persistent capture state.
type Handle struct {
	Permission PermissionState
	Live       bool
	Muted      bool
	Tracks     int
}

func (h Handle) String() string {
	return fmt.Sprintf("permission=%s live=%t muted=%t tracks=%d", h.Permission, h.Live, h.Muted, h.Tracks)
}
