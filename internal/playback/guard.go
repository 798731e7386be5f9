// Package playback starts the remote stream and tracks whether the autoplay
// policy is holding it back.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/AxelFr971/vocaline-local/internal/telemetry"
)

var (
	// ErrAutoplayBlocked is returned by an Output refusing a start that was
	// not initiated by the user.
	ErrAutoplayBlocked = errors.New("autoplay blocked")
	ErrNoRemoteStream  = errors.New("no remote stream attached")
	ErrGuardClosed     = errors.New("playback guard closed")
)

const DefaultSettleDelay = 500 * time.Millisecond

// Output plays a remote stream.
type Output interface {
	Start(ctx context.Context, stream Stream, userGesture bool) error
	Playing() bool
	Stop()
}

// AudioContext is the platform audio processing context, resumed before a
// manual start when it is suspended.
type AudioContext interface {
	Suspended() bool
	Resume(ctx context.Context) error
}

// Gate is what the UI needs to decide whether to offer "start audio".
type Gate struct {
	AutoplayBlocked      bool
	ManualStartAvailable bool
	Playing              bool
}

type GuardConfig struct {
	Output      Output
	Context     AudioContext
	SettleDelay time.Duration
	Telemetry   telemetry.Recorder
	RoomID      string
}

// Guard attempts automatic playback once per attached stream and falls back
// to ManualStart.
type Guard struct {
	output Output
	audio  AudioContext
	settle time.Duration
	rec    telemetry.Recorder
	roomID string
	log    *slog.Logger

	// startMu serializes start attempts.
	startMu sync.Mutex

	mu        sync.Mutex
	stream    Stream
	blocked   bool
	playing   bool
	timer     *time.Timer
	closed    bool
	listeners []func(Gate)
}

func NewGuard(cfg GuardConfig) *Guard {
	settle := cfg.SettleDelay
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	rec := cfg.Telemetry
	if rec == nil {
		rec = telemetry.Nop
	}
	return &Guard{
		output: cfg.Output,
		audio:  cfg.Context,
		settle: settle,
		rec:    rec,
		roomID: cfg.RoomID,
		log:    slog.With("component", "playback", "room_id", cfg.RoomID),
	}
}

// Attach hands the guard a new remote stream and schedules the automatic
// attempt after the settle delay.
func (g *Guard) Attach(stream Stream) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	if g.timer != nil {
		g.timer.Stop()
	}
	g.stream = stream
	g.playing = false
	g.blocked = false
	g.timer = time.AfterFunc(g.settle, func() { g.autoStart(stream) })
	gate, listeners := g.snapshotLocked()
	g.mu.Unlock()

	g.notify(listeners, gate)
}

func (g *Guard) autoStart(stream Stream) {
	g.startMu.Lock()
	defer g.startMu.Unlock()

	g.mu.Lock()
	if g.closed || g.stream != stream || g.playing {
		g.mu.Unlock()
		return
	}
	g.timer = nil
	g.mu.Unlock()

	err := g.output.Start(context.Background(), stream, false)
	if err == nil {
		g.update(func() { g.playing, g.blocked = true, false })
		g.recordAudio(telemetry.AudioPlaying, stream.ID())
		return
	}

	if !errors.Is(err, ErrAutoplayBlocked) {
		g.log.Warn("automatic playback failed", "error", err)
	}
	g.update(func() { g.blocked = true })
	g.recordAudio(telemetry.AudioAutoplayBlocked, stream.ID())
}

// ManualStart retries playback on behalf of the user. It succeeds without
// doing anything when audio is already playing.
func (g *Guard) ManualStart(ctx context.Context) error {
	g.startMu.Lock()
	defer g.startMu.Unlock()

	// The output drops out of playing on its own when the remote track ends.
	outputPlaying := g.output.Playing()

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrGuardClosed
	}
	if g.playing && outputPlaying {
		g.mu.Unlock()
		return nil
	}
	g.playing = false
	stream := g.stream
	if stream == nil {
		g.mu.Unlock()
		return ErrNoRemoteStream
	}
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.mu.Unlock()

	if g.audio != nil && g.audio.Suspended() {
		if err := g.audio.Resume(ctx); err != nil {
			return err
		}
	}
	if err := g.output.Start(ctx, stream, true); err != nil {
		g.update(func() { g.blocked = true })
		return err
	}

	g.update(func() { g.playing, g.blocked = true, false })
	g.recordAudio(telemetry.AudioManualStart, stream.ID())
	g.recordAudio(telemetry.AudioPlaying, stream.ID())
	return nil
}

// Gate returns the current playback flags. Playing is only reported while
// the output still plays.
func (g *Guard) Gate() Gate {
	outputPlaying := g.output.Playing()

	g.mu.Lock()
	defer g.mu.Unlock()
	gate, _ := g.snapshotLocked()
	gate.Playing = gate.Playing && outputPlaying
	return gate
}

// OnChange registers fn for every later change of the gate.
func (g *Guard) OnChange(fn func(Gate)) {
	g.mu.Lock()
	g.listeners = append(g.listeners, fn)
	g.mu.Unlock()
}

// Close cancels a pending attempt and stops the output.
func (g *Guard) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.stream = nil
	g.playing = false
	g.blocked = false
	g.mu.Unlock()

	g.output.Stop()
}

func (g *Guard) update(fn func()) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	fn()
	gate, listeners := g.snapshotLocked()
	g.mu.Unlock()

	g.notify(listeners, gate)
}

func (g *Guard) snapshotLocked() (Gate, []func(Gate)) {
	gate := Gate{
		AutoplayBlocked:      g.blocked,
		ManualStartAvailable: g.blocked && g.stream != nil,
		Playing:              g.playing,
	}
	return gate, append([]func(Gate){}, g.listeners...)
}

func (g *Guard) notify(listeners []func(Gate), gate Gate) {
	for _, fn := range listeners {
		fn(gate)
	}
}

func (g *Guard) recordAudio(name, tag string) {
	g.rec.Record(telemetry.Event{Kind: telemetry.KindAudioState, RoomID: g.roomID, Name: name, Enabled: true, Detail: tag})
}
