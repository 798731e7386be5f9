package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AxelFr971/vocaline-local/internal/config"
	"github.com/gen2brain/malgo"
	"layeh.com/gopus"
)

const (
	sampleRate  = 48000
	channels    = 2
	frameSize   = sampleRate * 20 / 1000       // 960 samples per channel
	maxBuffered = sampleRate * channels * 2 / 2 // 500ms of s16
)

// Speaker plays the remote opus stream on the default output device. The
// device doubles as the audio context: it stays suspended until resumed.
type Speaker struct {
	policy string
	buf    *pcmBuffer

	ctx    *malgo.AllocatedContext
	device *malgo.Device

	mu      sync.Mutex
	running bool
	playing bool
	cancel  context.CancelFunc
}

// NewSpeaker opens the output device without starting it. policy is
// config.AutoplayAllow or config.AutoplayGesture.
func NewSpeaker(policy string) (*Speaker, error) {
	s := &Speaker{policy: policy, buf: newPCMBuffer(maxBuffered)}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = channels
	deviceConfig.SampleRate = sampleRate

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(out, _ []byte, _ uint32) {
			s.buf.read(out)
		},
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("failed to initialize playback device: %w", err)
	}

	s.ctx = mctx
	s.device = device
	return s, nil
}

func (s *Speaker) Suspended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.running
}

// Resume starts the output device.
func (s *Speaker) Resume(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumeLocked()
}

func (s *Speaker) resumeLocked() error {
	if s.running {
		return nil
	}
	if err := s.device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}
	s.running = true
	return nil
}

// Start decodes stream into the device. Under the gesture policy only
// user-initiated starts are allowed.
func (s *Speaker) Start(_ context.Context, stream Stream, userGesture bool) error {
	if s.policy == config.AutoplayGesture && !userGesture {
		return ErrAutoplayBlocked
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.resumeLocked(); err != nil {
		return err
	}
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return fmt.Errorf("failed to create opus decoder: %w", err)
	}

	s.stopLoopLocked()
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.playing = true
	go s.decode(ctx, stream, dec)
	return nil
}

func (s *Speaker) decode(ctx context.Context, stream Stream, dec *gopus.Decoder) {
	log := slog.With("component", "speaker", "track", stream.ID())

	for ctx.Err() == nil {
		pkt, _, err := stream.ReadRTP()
		if err != nil {
			log.Debug("remote stream ended", "error", err)
			break
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		pcm, err := dec.Decode(pkt.Payload, frameSize, false)
		if err != nil {
			log.Debug("dropping undecodable frame", "error", err)
			continue
		}
		s.buf.write(int16sToBytes(pcm))
	}

	s.mu.Lock()
	if ctx.Err() == nil {
		s.playing = false
	}
	s.mu.Unlock()
}

func (s *Speaker) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Stop ends decoding and suspends the device.
func (s *Speaker) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLoopLocked()
	s.playing = false
	s.buf.reset()
	if s.running {
		if err := s.device.Stop(); err != nil {
			slog.Debug("playback device stop", "error", err)
		}
		s.running = false
	}
}

// stopLoopLocked cancels the decode loop. The loop exits on its next packet
// or when the track ends, so it is not waited for here.
func (s *Speaker) stopLoopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Close releases the device and the audio context.
func (s *Speaker) Close() error {
	s.Stop()
	s.device.Uninit()
	err := s.ctx.Uninit()
	s.ctx.Free()
	return err
}
