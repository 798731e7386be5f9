package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// sourceTrack carries the session-wide enabled flag every clone observes.
type sourceTrack struct {
	Track
	enabled atomic.Bool
}

func (t *sourceTrack) Enabled() bool { return t.enabled.Load() }

// Manager holds at most one live device stream per user session.
type Manager struct {
	device Device
	grants GrantStore
	log    *slog.Logger
	group  singleflight.Group

	// mu serializes mute changes against clone creation.
	mu         sync.Mutex
	stream     Stream
	tracks     []*sourceTrack
	permission PermissionState
	muted      bool
	clones     map[*Clone]struct{}
}

// NewManager creates a manager. grants may be nil, in which case the prior
// grant is only remembered in memory.
func NewManager(device Device, grants GrantStore) *Manager {
	if grants == nil {
		grants = NewMemoryGrantStore()
	}
	return &Manager{
		device: device,
		grants: grants,
		log:    slog.With("component", "capture"),
		clones: make(map[*Clone]struct{}),
	}
}

// Acquire returns the live stream, opening the device only when none exists.
// Concurrent callers share one device request.
func (m *Manager) Acquire(ctx context.Context) (Handle, error) {
	m.mu.Lock()
	if m.stream != nil {
		h := m.handleLocked()
		m.mu.Unlock()
		return h, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do("acquire", func() (any, error) {
		return m.open(ctx)
	})
	if err != nil {
		return Handle{}, err
	}
	return v.(Handle), nil
}

func (m *Manager) open(ctx context.Context) (Handle, error) {
	m.mu.Lock()
	if m.stream != nil {
		h := m.handleLocked()
		m.mu.Unlock()
		return h, nil
	}
	m.mu.Unlock()

	stream, err := m.device.Open(ctx)
	if err != nil {
		m.mu.Lock()
		m.permission = PermissionDenied
		m.mu.Unlock()
		m.storeGrant(PermissionDenied)

		m.log.Warn("microphone request refused", "error", err)
		if errors.Is(err, ErrPermissionDenied) {
			return Handle{}, err
		}
		return Handle{}, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	audio := stream.AudioTracks()
	if len(audio) == 0 {
		stream.Close()
		m.mu.Lock()
		m.permission = PermissionDenied
		m.mu.Unlock()
		m.storeGrant(PermissionDenied)

		m.log.Warn("microphone stream has no audio track")
		return Handle{}, ErrNoAudioTrack
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stream = stream
	m.tracks = make([]*sourceTrack, len(audio))
	for i, t := range audio {
		st := &sourceTrack{Track: t}
		st.enabled.Store(!m.muted)
		m.tracks[i] = st
	}
	m.permission = PermissionGranted
	m.storeGrant(PermissionGranted)

	m.log.Info("microphone acquired", "tracks", len(audio), "muted", m.muted)
	return m.handleLocked(), nil
}

func (m *Manager) storeGrant(p PermissionState) {
	if err := m.grants.Store(p); err != nil {
		m.log.Warn("failed to persist microphone permission", "state", p, "error", err)
	}
}

// Clone returns a new stream clone for one call. It never touches the device
// and fails with ErrNotAcquired before Acquire has succeeded.
func (m *Manager) Clone() (*Clone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream == nil {
		return nil, ErrNotAcquired
	}

	c, err := newClone(m.tracks, m.forget)
	if err != nil {
		return nil, err
	}
	m.clones[c] = struct{}{}
	m.log.Debug("clone created", "clone_id", c.ID(), "clones", len(m.clones))
	return c, nil
}

func (m *Manager) forget(c *Clone) {
	m.mu.Lock()
	delete(m.clones, c)
	m.mu.Unlock()
}

// SetMuted sets the enabled flag of the underlying tracks, which every clone
// observes. Repeated calls with the same value change nothing.
func (m *Manager) SetMuted(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.muted == muted {
		return
	}
	m.setMutedLocked(muted)
}

// ToggleMute flips the mute flag and returns the new value. The read and the
// write happen under one lock so concurrent toggles never collapse.
func (m *Manager) ToggleMute() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	muted := !m.muted
	m.setMutedLocked(muted)
	return muted
}

func (m *Manager) setMutedLocked(muted bool) {
	m.muted = muted
	for _, t := range m.tracks {
		t.enabled.Store(!muted)
	}
	m.log.Info("microphone mute changed", "muted", muted)
}

// Muted reports the session-wide mute flag.
func (m *Manager) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

// TrackEnabled reports the enabled flag of the first device track, false when
// nothing is acquired.
func (m *Manager) TrackEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.tracks) == 0 {
		return false
	}
	return m.tracks[0].Enabled()
}

// HasPriorGrant reports whether access was granted on an earlier run. The
// device may have been revoked since, so callers still Acquire.
func (m *Manager) HasPriorGrant() bool {
	return m.grants.Load() == PermissionGranted
}

// PermissionState returns the last known permission.
func (m *Manager) PermissionState() PermissionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.permission
}

// Handle returns a snapshot of the capture state.
func (m *Manager) Handle() Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handleLocked()
}

func (m *Manager) handleLocked() Handle {
	return Handle{
		Permission: m.permission,
		Live:       m.stream != nil,
		Muted:      m.muted,
		Tracks:     len(m.tracks),
	}
}

// HandlePermissionChange applies a platform permission event. Denied stops
// every clone and releases the device immediately, even mid-call.
func (m *Manager) HandlePermissionChange(state PermissionState) {
	m.mu.Lock()
	m.permission = state
	m.mu.Unlock()

	if state != PermissionDenied {
		return
	}
	m.storeGrant(PermissionDenied)
	m.log.Warn("microphone permission revoked, releasing device")
	m.release(false)
}

// Release stops every clone and closes the device stream. It is the logout
// path and also resets the mute flag.
func (m *Manager) Release() {
	m.release(true)
}

func (m *Manager) release(resetMute bool) {
	m.mu.Lock()
	stream := m.stream
	clones := make([]*Clone, 0, len(m.clones))
	for c := range m.clones {
		clones = append(clones, c)
	}
	m.stream = nil
	m.tracks = nil
	if resetMute {
		m.muted = false
	}
	m.mu.Unlock()

	for _, c := range clones {
		c.Stop()
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			m.log.Warn("failed to close capture stream", "error", err)
		}
		m.log.Info("microphone released", "clones_stopped", len(clones))
	}
}
