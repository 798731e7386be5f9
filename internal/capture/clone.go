package capture

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// rtpWriter is the sink side of a clone track.
type rtpWriter interface {
	WriteRTP(p *rtp.Packet) error
}

type cloneTrack struct {
	local  *webrtc.TrackLocalStaticRTP
	reader PacketReader
}

// Clone is a per-call copy of the device stream. Stopping it closes its own
// readers and leaves the device and other clones untouched.
type Clone struct {
	id     string
	tracks []cloneTrack
	onStop func(*Clone)

	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.Mutex
	stopped bool
}

func newClone(sources []*sourceTrack, onStop func(*Clone)) (*Clone, error) {
	c := &Clone{
		id:     uuid.NewString(),
		onStop: onStop,
	}

	for _, src := range sources {
		local, err := webrtc.NewTrackLocalStaticRTP(src.Codec(), src.ID()+"-"+c.id[:8], c.id)
		if err != nil {
			c.closeReaders()
			return nil, fmt.Errorf("create local track: %w", err)
		}
		reader, err := src.NewReader(rand.Uint32())
		if err != nil {
			c.closeReaders()
			return nil, fmt.Errorf("open track reader: %w", err)
		}
		c.tracks = append(c.tracks, cloneTrack{local: local, reader: reader})

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			pump(reader, src, local)
		}()
	}
	return c, nil
}

// pump copies packets while the source track is enabled and drops them while
// it is muted. It returns when the reader fails or is closed.
func pump(reader PacketReader, src interface{ Enabled() bool }, w rtpWriter) {
	for {
		pkts, release, err := reader.Read()
		if err != nil {
			return
		}
		if src.Enabled() {
			for _, p := range pkts {
				// Unbound or closed transports are not fatal to the clone.
				_ = w.WriteRTP(p)
			}
		}
		if release != nil {
			release()
		}
	}
}

// ID identifies the clone's media stream.
func (c *Clone) ID() string { return c.id }

// Tracks returns the local tracks to attach to a peer transport.
func (c *Clone) Tracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, len(c.tracks))
	for i, t := range c.tracks {
		out[i] = t.local
	}
	return out
}

// Stop closes the clone's readers and waits for its pumps to exit.
func (c *Clone) Stop() {
	c.once.Do(func() {
		c.closeReaders()
		c.wg.Wait()

		c.mu.Lock()
		c.stopped = true
		c.mu.Unlock()

		if c.onStop != nil {
			c.onStop(c)
		}
	})
}

// Stopped reports whether every track of the clone has stopped.
func (c *Clone) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *Clone) closeReaders() {
	for _, t := range c.tracks {
		t.reader.Close()
	}
}
