package playback

import (
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
)

// Stream is an inbound remote audio track. *webrtc.TrackRemote satisfies it.
type Stream interface {
	ID() string
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}
